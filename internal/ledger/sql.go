package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/versebound/verseledger/internal/schema"
)

// SchemaVersion is the remote table layout version. Bumping it changes the
// derived table names, so provisioning creates fresh tables instead of
// altering old ones in place.
const SchemaVersion = 1

// ownerPrefix derives the table-name prefix for an owner identity.
// Long identities (hex addresses) are truncated; the prefix only has to be
// stable and collision-free within one user's ledger namespace.
func ownerPrefix(owner string) string {
	p := schema.SanitizeOwner(owner)
	if len(p) > 16 {
		p = p[:16]
	}
	return p
}

// TableNames derives the deterministic per-owner table names for the current
// schema version.
func TableNames(owner string) (sessions, cards, drills string) {
	p := ownerPrefix(owner)
	sessions = fmt.Sprintf("verse_sessions_%s_v%d", p, SchemaVersion)
	cards = fmt.Sprintf("verse_cards_%s_v%d", p, SchemaVersion)
	drills = fmt.Sprintf("verse_drills_%s_v%d", p, SchemaVersion)
	return
}

// createTableStatements returns the three DDL statements provisioning an
// owner's namespace. The session_id primary keys double as the uniqueness
// constraint that turns a duplicate retried insert into a harmless conflict.
func createTableStatements(reg *schema.TableRegistry) []Statement {
	return []Statement{
		{SQL: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				session_id TEXT PRIMARY KEY,
				song_id TEXT NOT NULL,
				song_title TEXT NOT NULL,
				artist_name TEXT,
				total_score REAL NOT NULL,
				started_at INTEGER NOT NULL,
				completed_at INTEGER NOT NULL,
				lines TEXT NOT NULL
			)`, reg.SessionsTable)},
		{SQL: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				song_id TEXT NOT NULL,
				line_index INTEGER NOT NULL,
				line_text TEXT NOT NULL,
				difficulty INTEGER NOT NULL,
				stability INTEGER NOT NULL,
				elapsed_days INTEGER NOT NULL DEFAULT 0,
				scheduled_days INTEGER NOT NULL,
				reps INTEGER NOT NULL DEFAULT 0,
				lapses INTEGER NOT NULL DEFAULT 0,
				state INTEGER NOT NULL DEFAULT 0,
				last_review INTEGER,
				due_date INTEGER NOT NULL,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (song_id, line_index)
			)`, reg.CardsTable)},
		{SQL: fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				session_id TEXT PRIMARY KEY,
				cards_reviewed INTEGER NOT NULL,
				cards_correct INTEGER NOT NULL,
				session_date INTEGER NOT NULL,
				started_at INTEGER NOT NULL,
				completed_at INTEGER NOT NULL
			)`, reg.DrillsTable)},
	}
}

// SessionInsert builds the idempotent insert for a performance session.
// A retried insert after an unacknowledged commit lands on the session_id
// primary key and becomes a no-op.
func SessionInsert(table string, session *schema.PerformanceSession) (Statement, error) {
	linesJSON, err := json.Marshal(session.Lines)
	if err != nil {
		return Statement{}, fmt.Errorf("failed to marshal session lines: %w", err)
	}

	return Statement{
		SQL: fmt.Sprintf(`
			INSERT INTO %s (
				session_id, song_id, song_title, artist_name, total_score,
				started_at, completed_at, lines
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO NOTHING`, table),
		Args: []interface{}{
			session.SessionID,
			session.SongID,
			session.SongTitle,
			session.ArtistName,
			session.TotalScore,
			session.StartedAt.Unix(),
			session.CompletedAt.Unix(),
			string(linesJSON),
		},
	}, nil
}

// DrillInsert builds the idempotent insert for a drill session.
func DrillInsert(table string, drill *schema.DrillSession) Statement {
	return Statement{
		SQL: fmt.Sprintf(`
			INSERT INTO %s (
				session_id, cards_reviewed, cards_correct, session_date,
				started_at, completed_at
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO NOTHING`, table),
		Args: []interface{}{
			drill.SessionID,
			drill.CardsReviewed,
			drill.CardsCorrect,
			drill.SessionDate,
			drill.StartedAt.Unix(),
			drill.CompletedAt.Unix(),
		},
	}
}

// CardUpsert builds the conflict-resolving upsert for a review card.
//
// The UPDATE clause is the scheduler formula restated in SQL: every
// scheduler-controlled field is re-derived from the EXISTING row plus the
// incoming one. The incoming outcome rides on excluded.state, which the
// scheduler sets to Relearning (3) exactly when the review was a lapse.
// Unqualified column names refer to the pre-update row throughout, so the
// interval doubling reads the existing scheduled_days everywhere it appears.
//
// This statement and scheduler.Update must stay in lockstep.
func CardUpsert(table string, card *schema.ReviewCard) Statement {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			song_id, line_index, line_text, difficulty, stability,
			elapsed_days, scheduled_days, reps, lapses, state,
			last_review, due_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(song_id, line_index) DO UPDATE SET
			line_text = excluded.line_text,
			stability = CASE WHEN excluded.state = 3
				THEN MAX(stability / 2, 100)
				ELSE MIN(stability * 2, 36500) END,
			scheduled_days = CASE WHEN excluded.state = 3
				THEN 1
				ELSE MIN(scheduled_days * 2, 365) END,
			elapsed_days = CASE WHEN last_review IS NULL
				THEN 0
				ELSE (excluded.last_review - last_review) / 86400 END,
			state = CASE WHEN excluded.state = 3 THEN 3
				WHEN reps = 0 THEN 1
				ELSE 2 END,
			reps = reps + 1,
			lapses = lapses + (CASE WHEN excluded.state = 3 THEN 1 ELSE 0 END),
			due_date = excluded.last_review + 86400 * (CASE WHEN excluded.state = 3
				THEN 1
				ELSE MIN(scheduled_days * 2, 365) END),
			last_review = excluded.last_review,
			updated_at = excluded.updated_at`, table)

	var lastReview sql.NullInt64
	if card.LastReview != nil {
		lastReview = sql.NullInt64{Int64: card.LastReview.Unix(), Valid: true}
	}

	return Statement{
		SQL: query,
		Args: []interface{}{
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
			lastReview,
			card.DueDate.Unix(),
			card.CreatedAt.Unix(),
			card.UpdatedAt.Unix(),
		},
	}
}
