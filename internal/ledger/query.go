package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/versebound/verseledger/internal/schema"
)

// Stats aggregates an owner's ledger history, mirroring the local store's
// user stats for the recovery-without-local-data path.
type Stats struct {
	TotalSessions int
	TotalCards    int
	CardsToReview int
	AverageScore  float64
}

// QueryDueCards returns the owner's cards with due_date <= now, ascending by
// due date, capped at limit (0 = no cap). Used when another device needs
// scheduling state before any local data exists.
func (c *Client) QueryDueCards(ctx context.Context, owner string, limit int) ([]*schema.ReviewCard, error) {
	reg, err := c.GetUserTables(ctx, owner)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT song_id, line_index, line_text, difficulty, stability,
		       elapsed_days, scheduled_days, reps, lapses, state,
		       last_review, due_date, created_at, updated_at
		FROM %s
		WHERE due_date <= ?
		ORDER BY due_date ASC`, reg.CardsTable)
	args := []interface{}{time.Now().Unix()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due cards: %w", err)
	}
	defer rows.Close()

	return scanRemoteCards(rows)
}

// QueryCards returns every card in the owner's namespace, for import.
func (c *Client) QueryCards(ctx context.Context, owner string) ([]*schema.ReviewCard, error) {
	reg, err := c.GetUserTables(ctx, owner)
	if err != nil {
		return nil, err
	}

	rows, err := c.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT song_id, line_index, line_text, difficulty, stability,
		       elapsed_days, scheduled_days, reps, lapses, state,
		       last_review, due_date, created_at, updated_at
		FROM %s
		ORDER BY song_id ASC, line_index ASC`, reg.CardsTable))
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	return scanRemoteCards(rows)
}

// QueryHistory returns the owner's performance sessions most recent first,
// capped at limit (0 = no cap).
func (c *Client) QueryHistory(ctx context.Context, owner string, limit int) ([]*schema.PerformanceSession, error) {
	reg, err := c.GetUserTables(ctx, owner)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT session_id, song_id, song_title, artist_name, total_score,
		       started_at, completed_at, lines
		FROM %s
		ORDER BY completed_at DESC`, reg.SessionsTable)
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var sessions []*schema.PerformanceSession
	for rows.Next() {
		var (
			session                schema.PerformanceSession
			startedAt, completedAt int64
			linesJSON              string
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
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote session: %w", err)
		}

		if linesJSON != "" && linesJSON != "null" {
			if err := json.Unmarshal([]byte(linesJSON), &session.Lines); err != nil {
				return nil, fmt.Errorf("failed to unmarshal remote session lines: %w", err)
			}
		}
		session.StartedAt = time.Unix(startedAt, 0).UTC()
		session.CompletedAt = time.Unix(completedAt, 0).UTC()

		sessions = append(sessions, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote sessions: %w", err)
	}
	return sessions, nil
}

// QueryDrillHistory returns the owner's drill sessions most recent first,
// capped at limit (0 = no cap).
func (c *Client) QueryDrillHistory(ctx context.Context, owner string, limit int) ([]*schema.DrillSession, error) {
	reg, err := c.GetUserTables(ctx, owner)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT session_id, cards_reviewed, cards_correct, session_date,
		       started_at, completed_at
		FROM %s
		ORDER BY completed_at DESC`, reg.DrillsTable)
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query drill history: %w", err)
	}
	defer rows.Close()

	var drills []*schema.DrillSession
	for rows.Next() {
		var (
			drill                  schema.DrillSession
			startedAt, completedAt int64
		)
		err := rows.Scan(
			&drill.SessionID,
			&drill.CardsReviewed,
			&drill.CardsCorrect,
			&drill.SessionDate,
			&startedAt,
			&completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote drill: %w", err)
		}

		drill.StartedAt = time.Unix(startedAt, 0).UTC()
		drill.CompletedAt = time.Unix(completedAt, 0).UTC()

		drills = append(drills, &drill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote drills: %w", err)
	}
	return drills, nil
}

// QueryStats aggregates the owner's ledger history.
func (c *Client) QueryStats(ctx context.Context, owner string) (*Stats, error) {
	reg, err := c.GetUserTables(ctx, owner)
	if err != nil {
		return nil, err
	}

	var stats Stats
	err = c.q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			(SELECT COUNT(*) FROM %s),
			(SELECT COUNT(*) FROM %s),
			(SELECT COUNT(*) FROM %s WHERE due_date <= ?),
			(SELECT COALESCE(AVG(total_score), 0) FROM %s)
	`, reg.SessionsTable, reg.CardsTable, reg.CardsTable, reg.SessionsTable),
		time.Now().Unix()).Scan(
		&stats.TotalSessions,
		&stats.TotalCards,
		&stats.CardsToReview,
		&stats.AverageScore,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query remote stats: %w", err)
	}
	return &stats, nil
}

func scanRemoteCards(rows *sql.Rows) ([]*schema.ReviewCard, error) {
	var cards []*schema.ReviewCard
	for rows.Next() {
		var (
			card                          schema.ReviewCard
			state                         int
			lastReview                    sql.NullInt64
			dueDate, createdAt, updatedAt int64
		)
		err := rows.Scan(
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
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote card: %w", err)
		}

		card.State = schema.CardState(state)
		if lastReview.Valid {
			t := time.Unix(lastReview.Int64, 0).UTC()
			card.LastReview = &t
		}
		card.DueDate = time.Unix(dueDate, 0).UTC()
		card.CreatedAt = time.Unix(createdAt, 0).UTC()
		card.UpdatedAt = time.Unix(updatedAt, 0).UTC()

		cards = append(cards, &card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote cards: %w", err)
	}
	return cards, nil
}
