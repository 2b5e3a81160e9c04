package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/versebound/verseledger/internal/schema"
	"github.com/versebound/verseledger/internal/scheduler"
)

const cardColumns = `song_id, line_index, line_text, difficulty, stability,
	elapsed_days, scheduled_days, reps, lapses, state, last_review, due_date,
	created_at, updated_at, synced, last_modified`

// UpdateCardReview applies one review outcome to an existing card.
// Returns ErrCardNotFound if no card exists for (songID, lineIndex);
// explicit single-card reviews never create cards.
func (s *Store) UpdateCardReview(ctx context.Context, songID string, lineIndex int, wasCorrect bool) error {
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

	card, err := getCardTx(ctx, tx, songID, lineIndex)
	if err != nil {
		return err
	}

	updated := scheduler.Update(*card, wasCorrect, s.clock())
	if err := upsertCardTx(ctx, tx, &updated); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sync_metadata SET pending_changes = pending_changes + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to bump pending changes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit card review: %w", err)
	}
	return nil
}

// GetCard returns the card for (songID, lineIndex), or ErrCardNotFound.
func (s *Store) GetCard(ctx context.Context, songID string, lineIndex int) (*schema.ReviewCard, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.conn.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM review_cards WHERE song_id = ? AND line_index = ?
	`, songID, lineIndex)

	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", CardID(songID, lineIndex), ErrCardNotFound)
	}
	return card, err
}

// GetDueCards returns cards with due_date <= now, ascending by due date,
// capped at limit (0 = no cap).
func (s *Store) GetDueCards(ctx context.Context, limit int) ([]*schema.ReviewCard, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + cardColumns + `
		FROM review_cards
		WHERE due_date <= ?
		ORDER BY due_date ASC
	`
	args := []interface{}{s.clock().Unix()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due cards: %w", err)
	}
	defer rows.Close()

	return scanCards(rows)
}

// getCardTx loads a card inside a transaction.
func getCardTx(ctx context.Context, tx *sql.Tx, songID string, lineIndex int) (*schema.ReviewCard, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		FROM review_cards WHERE song_id = ? AND line_index = ?
	`, songID, lineIndex)

	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", CardID(songID, lineIndex), ErrCardNotFound)
	}
	return card, err
}

// upsertCardTx writes a card's full state inside a transaction. The caller
// has already run the scheduler, so every conflicting field is simply
// replaced by the incoming value.
func upsertCardTx(ctx context.Context, tx *sql.Tx, card *schema.ReviewCard) error {
	if err := card.Validate(); err != nil {
		return fmt.Errorf("invalid card: %w", err)
	}

	query := `
	INSERT INTO review_cards (` + cardColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(song_id, line_index) DO UPDATE SET
		line_text = excluded.line_text,
		difficulty = excluded.difficulty,
		stability = excluded.stability,
		elapsed_days = excluded.elapsed_days,
		scheduled_days = excluded.scheduled_days,
		reps = excluded.reps,
		lapses = excluded.lapses,
		state = excluded.state,
		last_review = excluded.last_review,
		due_date = excluded.due_date,
		updated_at = excluded.updated_at,
		synced = excluded.synced,
		last_modified = excluded.last_modified
	`

	_, err := tx.ExecContext(ctx, query,
		card.SongID,
		card.LineIndex,
		card.LineText,
		card.Difficulty,
		card.Stability,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		int(card.State),
		timeToNullInt64(card.LastReview),
		card.DueDate.Unix(),
		card.CreatedAt.Unix(),
		card.UpdatedAt.Unix(),
		boolToInt(card.Synced),
		card.LastModified.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert card %s: %w", card.Key(), err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCard(row rowScanner) (*schema.ReviewCard, error) {
	var (
		card                              schema.ReviewCard
		state, synced                     int
		lastReview                        sql.NullInt64
		dueDate, createdAt, updatedAt, lm int64
	)

	err := row.Scan(
		&card.SongID,
		&card.LineIndex,
		&card.LineText,
		&card.Difficulty,
		&card.Stability,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&state,
		&lastReview,
		&dueDate,
		&createdAt,
		&updatedAt,
		&synced,
		&lm,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan card: %w", err)
	}

	card.State = schema.CardState(state)
	card.Synced = synced != 0
	card.LastReview = nullInt64ToTime(lastReview)
	card.DueDate = unixTime(dueDate)
	card.CreatedAt = unixTime(createdAt)
	card.UpdatedAt = unixTime(updatedAt)
	card.LastModified = unixTime(lm)

	return &card, nil
}

func scanCards(rows *sql.Rows) ([]*schema.ReviewCard, error) {
	var cards []*schema.ReviewCard
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}
	return cards, nil
}
