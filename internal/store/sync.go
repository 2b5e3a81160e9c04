package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/versebound/verseledger/internal/schema"
)

// UnsyncedData is the full unsynced subset of all three record families,
// gathered for the push path.
type UnsyncedData struct {
	Sessions []*schema.PerformanceSession
	Cards    []*schema.ReviewCard
	Drills   []*schema.DrillSession
}

// Empty reports whether there is nothing to push.
func (u *UnsyncedData) Empty() bool {
	return len(u.Sessions) == 0 && len(u.Cards) == 0 && len(u.Drills) == 0
}

// GetUnsyncedData returns every record with synced=false across the three
// fact families.
func (s *Store) GetUnsyncedData(ctx context.Context) (*UnsyncedData, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var data UnsyncedData

	rows, err := s.conn.QueryContext(ctx, `
		SELECT session_id, song_id, song_title, artist_name, total_score,
		       started_at, completed_at, lines, synced, last_modified
		FROM performance_sessions WHERE synced = 0
		ORDER BY completed_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced sessions: %w", err)
	}
	data.Sessions, err = scanSessions(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	rows, err = s.conn.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM review_cards WHERE synced = 0
		ORDER BY song_id ASC, line_index ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced cards: %w", err)
	}
	data.Cards, err = scanCards(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	rows, err = s.conn.QueryContext(ctx, `
		SELECT session_id, cards_reviewed, cards_correct, session_date,
		       started_at, completed_at, synced, last_modified
		FROM drill_sessions WHERE synced = 0
		ORDER BY completed_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced drills: %w", err)
	}
	data.Drills, err = scanDrills(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	return &data, nil
}

// MarkSynced flips synced=true for the given record ids of one family,
// decrements pending_changes by the count (floored at zero) and stamps
// last_sync_timestamp. Card ids use the CardID composite format.
func (s *Store) MarkSynced(ctx context.Context, family Family, ids []string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	switch family {
	case FamilySessions:
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE performance_sessions SET synced = 1 WHERE session_id = ?`, id); err != nil {
				return fmt.Errorf("failed to mark session %s synced: %w", id, err)
			}
		}
	case FamilyDrills:
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE drill_sessions SET synced = 1 WHERE session_id = ?`, id); err != nil {
				return fmt.Errorf("failed to mark drill %s synced: %w", id, err)
			}
		}
	case FamilyCards:
		for _, id := range ids {
			songID, lineIndex, err := parseCardID(id)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE review_cards SET synced = 1 WHERE song_id = ? AND line_index = ?`,
				songID, lineIndex); err != nil {
				return fmt.Errorf("failed to mark card %s synced: %w", id, err)
			}
		}
	default:
		return fmt.Errorf("unknown record family %q", family)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_metadata
		SET pending_changes = MAX(pending_changes - ?, 0),
		    last_sync_timestamp = ?
		WHERE id = 1
	`, len(ids), s.clock().Unix()); err != nil {
		return fmt.Errorf("failed to update sync metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mark-synced: %w", err)
	}
	return nil
}

// GetSyncStatus returns the singleton sync metadata row.
func (s *Store) GetSyncStatus(ctx context.Context) (*schema.SyncMetadata, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var (
		meta       schema.SyncMetadata
		lastSync   sql.NullInt64
		inProgress int
		lastError  sql.NullString
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT pending_changes, last_sync_timestamp, sync_in_progress, last_sync_error
		FROM sync_metadata WHERE id = 1
	`).Scan(&meta.PendingChanges, &lastSync, &inProgress, &lastError)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync status: %w", err)
	}

	meta.LastSyncTimestamp = nullInt64ToTime(lastSync)
	meta.SyncInProgress = inProgress != 0
	meta.LastSyncError = lastError.String

	return &meta, nil
}

// TryBeginSync atomically sets sync_in_progress. Returns ErrSyncInProgress
// if another sync already holds the flag; the caller must not block or queue.
func (s *Store) TryBeginSync(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE sync_metadata SET sync_in_progress = 1
		WHERE id = 1 AND sync_in_progress = 0
	`)
	if err != nil {
		return fmt.Errorf("failed to set sync flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read sync flag result: %w", err)
	}
	if n == 0 {
		return ErrSyncInProgress
	}
	return nil
}

// EndSync clears the sync flag and records the outcome. It is called on both
// the success and failure paths so the flag is never left stuck. A non-nil
// syncedAt stamps last_sync_timestamp; syncErr (possibly nil) replaces
// last_sync_error.
func (s *Store) EndSync(ctx context.Context, syncErr error, syncedAt *time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}

	errText := sql.NullString{}
	if syncErr != nil {
		errText = sql.NullString{String: syncErr.Error(), Valid: true}
	}

	query := `UPDATE sync_metadata SET sync_in_progress = 0, last_sync_error = ?`
	args := []interface{}{errText}
	if syncedAt != nil {
		query += `, last_sync_timestamp = ?`
		args = append(args, syncedAt.Unix())
	}
	query += ` WHERE id = 1`

	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to clear sync flag: %w", err)
	}
	return nil
}

// ClearAll wipes all four record families and resets sync metadata to its
// zero state. Used only as the first step of an import/recovery.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM performance_sessions`,
		`DELETE FROM review_cards`,
		`DELETE FROM drill_sessions`,
		`UPDATE sync_metadata SET pending_changes = 0, last_sync_timestamp = NULL,
		 sync_in_progress = 0, last_sync_error = NULL WHERE id = 1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear local data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}
