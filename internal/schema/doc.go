// Package schema defines the record families persisted by the verseledger
// data engine.
//
// Four families live in the local store:
//
//	PerformanceSession  one per completed performance, immutable after save
//	ReviewCard          scheduling state for one lyric line, keyed by
//	                    (song_id, line_index)
//	DrillSession        one per standalone practice session
//	SyncMetadata        singleton sync bookkeeping row
//
// TableRegistry is the local cache mapping an owner identity to their
// provisioned remote table names. It is persisted as a JSON file next to the
// local database and must be re-probed before reuse because the remote ledger
// is append/DDL based and entries go stale across schema-version bumps.
package schema
