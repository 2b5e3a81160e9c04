// Package engine ties the local store, the ledger client, and the sync
// orchestrator together behind one process-lifetime object.
//
// Callers construct a single Engine at startup and share it; environments
// that render lyrics, capture audio, or hold signing keys talk to the
// scheduling core only through this surface. Song metadata and signing
// stay behind small interfaces (SongDirectory, ledger.Signer) so the
// engine never links against playback or wallet code.
package engine
