package schema

import "time"

// SyncMetadata is the singleton sync bookkeeping row of a local store.
//
// PendingChanges is a best-effort counter of unsynced record equivalents.
// SyncInProgress is true while exactly one push is in flight; it is reset on
// both the success and failure paths, never left stuck.
type SyncMetadata struct {
	PendingChanges    int        `json:"pending_changes"`
	LastSyncTimestamp *time.Time `json:"last_sync_timestamp,omitempty"`
	SyncInProgress    bool       `json:"sync_in_progress"`
	LastSyncError     string     `json:"last_sync_error,omitempty"`
}
