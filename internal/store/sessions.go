package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/versebound/verseledger/internal/schema"
	"github.com/versebound/verseledger/internal/scheduler"
)

// SaveSession persists a completed performance session and cascades a
// scheduler update onto the review card of every line. The session insert
// and all card upserts commit as one transaction; a partial cascade is never
// visible.
//
// Cards are looked up by (song_id, line_index) and created on first review.
// The session's completion time is the review time for the whole cascade.
func (s *Store) SaveSession(ctx context.Context, session *schema.PerformanceSession) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	session.Synced = false
	session.LastModified = s.clock()
	if err := insertSessionTx(ctx, tx, session); err != nil {
		return err
	}

	reviewedAt := session.CompletedAt.UTC().Truncate(time.Second)
	for i := range session.Lines {
		line := &session.Lines[i]

		card, err := getCardTx(ctx, tx, session.SongID, line.LineIndex)
		if err != nil {
			if !errors.Is(err, ErrCardNotFound) {
				return err
			}
			created := scheduler.NewCard(session.SongID, line.LineIndex, line.ExpectedText, reviewedAt)
			card = &created
		}

		updated := scheduler.Update(*card, scheduler.Correct(line.Score, 100), reviewedAt)
		if err := upsertCardTx(ctx, tx, &updated); err != nil {
			return err
		}
	}

	// One session plus one card mutation per line.
	if _, err := tx.ExecContext(ctx,
		`UPDATE sync_metadata SET pending_changes = pending_changes + ? WHERE id = 1`,
		1+len(session.Lines)); err != nil {
		return fmt.Errorf("failed to bump pending changes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session cascade: %w", err)
	}
	return nil
}

// SaveDrillSession persists a standalone review session.
func (s *Store) SaveDrillSession(ctx context.Context, drill *schema.DrillSession) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := drill.Validate(); err != nil {
		return fmt.Errorf("invalid drill session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	drill.Synced = false
	drill.LastModified = s.clock()
	if err := insertDrillTx(ctx, tx, drill); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sync_metadata SET pending_changes = pending_changes + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to bump pending changes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit drill session: %w", err)
	}
	return nil
}

// UserStats aggregates local history for display.
type UserStats struct {
	TotalSessions int
	TotalCards    int
	CardsToReview int
	AverageScore  float64
}

// GetUserStats returns aggregate counts over the local record families.
func (s *Store) GetUserStats(ctx context.Context) (*UserStats, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var stats UserStats
	err := s.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM performance_sessions),
			(SELECT COUNT(*) FROM review_cards),
			(SELECT COUNT(*) FROM review_cards WHERE due_date <= ?),
			(SELECT COALESCE(AVG(total_score), 0) FROM performance_sessions)
	`, s.clock().Unix()).Scan(
		&stats.TotalSessions,
		&stats.TotalCards,
		&stats.CardsToReview,
		&stats.AverageScore,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query user stats: %w", err)
	}
	return &stats, nil
}

// GetHistory returns performance sessions most recent first, capped at limit
// (0 = no cap).
func (s *Store) GetHistory(ctx context.Context, limit int) ([]*schema.PerformanceSession, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT session_id, song_id, song_title, artist_name, total_score,
		       started_at, completed_at, lines, synced, last_modified
		FROM performance_sessions
		ORDER BY completed_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// GetDrillHistory returns drill sessions most recent first, capped at limit
// (0 = no cap).
func (s *Store) GetDrillHistory(ctx context.Context, limit int) ([]*schema.DrillSession, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT session_id, cards_reviewed, cards_correct, session_date,
		       started_at, completed_at, synced, last_modified
		FROM drill_sessions
		ORDER BY completed_at DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query drill history: %w", err)
	}
	defer rows.Close()

	return scanDrills(rows)
}

// ImportRecords repopulates the store from ledger-sourced records in one
// transaction. Everything is written with synced=true since the facts
// originated remotely. The caller is expected to ClearAll first.
func (s *Store) ImportRecords(ctx context.Context, sessions []*schema.PerformanceSession,
	cards []*schema.ReviewCard, drills []*schema.DrillSession) error {
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

	now := s.clock()
	for _, session := range sessions {
		session.Synced = true
		session.LastModified = now
		if err := insertSessionTx(ctx, tx, session); err != nil {
			return err
		}
	}
	for _, card := range cards {
		card.Synced = true
		card.LastModified = now
		if err := upsertCardTx(ctx, tx, card); err != nil {
			return err
		}
	}
	for _, drill := range drills {
		drill.Synced = true
		drill.LastModified = now
		if err := insertDrillTx(ctx, tx, drill); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}

func insertSessionTx(ctx context.Context, tx *sql.Tx, session *schema.PerformanceSession) error {
	linesJSON, err := json.Marshal(session.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal session lines: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO performance_sessions (
			session_id, song_id, song_title, artist_name, total_score,
			started_at, completed_at, lines, synced, last_modified
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		session.SessionID,
		session.SongID,
		session.SongTitle,
		session.ArtistName,
		session.TotalScore,
		session.StartedAt.Unix(),
		session.CompletedAt.Unix(),
		string(linesJSON),
		boolToInt(session.Synced),
		session.LastModified.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", session.SessionID, err)
	}
	return nil
}

func insertDrillTx(ctx context.Context, tx *sql.Tx, drill *schema.DrillSession) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO drill_sessions (
			session_id, cards_reviewed, cards_correct, session_date,
			started_at, completed_at, synced, last_modified
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		drill.SessionID,
		drill.CardsReviewed,
		drill.CardsCorrect,
		drill.SessionDate,
		drill.StartedAt.Unix(),
		drill.CompletedAt.Unix(),
		boolToInt(drill.Synced),
		drill.LastModified.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert drill session %s: %w", drill.SessionID, err)
	}
	return nil
}

func scanSessions(rows *sql.Rows) ([]*schema.PerformanceSession, error) {
	var sessions []*schema.PerformanceSession
	for rows.Next() {
		var (
			session                     schema.PerformanceSession
			startedAt, completedAt, lm  int64
			linesJSON                   string
			synced                      int
		)
		err := rows.Scan(
			&session.SessionID,
			&session.SongID,
			&session.SongTitle,
			&session.ArtistName,
			&session.TotalScore,
			&startedAt,
			&completedAt,
			&linesJSON,
			&synced,
			&lm,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		if linesJSON != "" && linesJSON != "null" {
			if err := json.Unmarshal([]byte(linesJSON), &session.Lines); err != nil {
				return nil, fmt.Errorf("failed to unmarshal session lines: %w", err)
			}
		}
		session.StartedAt = unixTime(startedAt)
		session.CompletedAt = unixTime(completedAt)
		session.Synced = synced != 0
		session.LastModified = unixTime(lm)

		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

func scanDrills(rows *sql.Rows) ([]*schema.DrillSession, error) {
	var drills []*schema.DrillSession
	for rows.Next() {
		var (
			drill                      schema.DrillSession
			startedAt, completedAt, lm int64
			synced                     int
		)
		err := rows.Scan(
			&drill.SessionID,
			&drill.CardsReviewed,
			&drill.CardsCorrect,
			&drill.SessionDate,
			&startedAt,
			&completedAt,
			&synced,
			&lm,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan drill session: %w", err)
		}

		drill.StartedAt = unixTime(startedAt)
		drill.CompletedAt = unixTime(completedAt)
		drill.Synced = synced != 0
		drill.LastModified = unixTime(lm)

		drills = append(drills, &drill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating drill sessions: %w", err)
	}
	return drills, nil
}
