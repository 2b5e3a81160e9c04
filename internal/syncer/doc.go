// Package syncer coordinates the local store and the remote ledger client.
//
// A push gathers the unsynced subset of the local record families,
// translates it into ledger statements, commits them as one atomic batch,
// and marks the contributing records synced. A pull reads the owner's
// authoritative history back from the ledger and repopulates a cleared
// local store, which is how a new device recovers.
//
// The push walks a small state machine:
//
//	Idle → CheckingRegistry → [ProvisioningTables] → PreparingWrites
//	     → CommittingBatch → MarkingSynced → Idle
//
// with Retrying entered on recoverable remote failures (capped exponential
// backoff, fixed attempt budget) and Error terminal for the attempt. At most
// one sync is in flight per store, enforced by an atomic check-and-set on
// the sync_in_progress flag; a concurrent caller gets an immediate
// "already in progress" error, never queued.
//
// A failed push leaves every local record unsynced, so retrying later
// reprocesses them. The retry is safe: card upserts are idempotent per
// composite key and session inserts land on their primary key.
package syncer
