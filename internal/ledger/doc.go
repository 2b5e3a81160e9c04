// Package ledger implements the client for the remote, replicated,
// SQL-queryable ledger that holds the authoritative copy of a user's
// review history.
//
// Each owner identity gets a namespace of three tables (sessions, cards,
// drills) provisioned lazily on first sync. Table names are derived
// deterministically from the owner prefix plus a fixed schema-version
// suffix, so a schema bump provisions fresh tables instead of mutating old
// ones in place. The provisioned names are cached in a local registry file
// and re-validated with a liveness probe before reuse.
//
// All writes go through a Signer, the caller-supplied cryptographic signing
// capability. WriteBatch executes its statements as a single atomic
// transaction and reports success only after on-ledger confirmation.
//
// The card upsert statement embeds the scheduler formula as a SQL conflict
// clause; it must stay in lockstep with the scheduler package.
package ledger
