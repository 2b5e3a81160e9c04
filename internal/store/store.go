// Package store provides the local embedded database for verseledger.
//
// The store holds the four local record families (performance sessions,
// review cards, drill sessions, sync metadata) in a single SQLite database
// opened in WAL mode. Writes that touch the same family are serialized by a
// store-level mutex and multi-record cascades run inside one transaction, so
// a concurrent reader never observes a partial cascade.
//
// Timestamps are persisted as epoch seconds so the same integer arithmetic
// used by the scheduler works in SQL on both the local and remote side.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Sentinel errors for the store package.
// Use errors.Is to check: errors.Is(err, store.ErrCardNotFound)
var (
	ErrNotInitialized = errors.New("store: not initialized")
	ErrCardNotFound   = errors.New("store: card not found")
	ErrSyncInProgress = errors.New("store: sync already in progress")
)

// Family identifies one of the syncable record families.
type Family string

const (
	FamilySessions Family = "sessions"
	FamilyCards    Family = "cards"
	FamilyDrills   Family = "drills"
)

// migrations is the schema version ladder. PRAGMA user_version records how
// far this database has been upgraded; adding a record family means appending
// a migration, never rewriting an earlier one.
var migrations = []string{
	// v1: the four initial record families.
	`
	CREATE TABLE IF NOT EXISTS performance_sessions (
		session_id TEXT PRIMARY KEY,
		song_id TEXT NOT NULL,
		song_title TEXT NOT NULL,
		artist_name TEXT,
		total_score REAL NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL,
		lines TEXT NOT NULL,  -- JSON array
		synced INTEGER NOT NULL DEFAULT 0,
		last_modified INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS review_cards (
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
		synced INTEGER NOT NULL DEFAULT 0,
		last_modified INTEGER NOT NULL,
		PRIMARY KEY (song_id, line_index)
	);

	CREATE TABLE IF NOT EXISTS drill_sessions (
		session_id TEXT PRIMARY KEY,
		cards_reviewed INTEGER NOT NULL,
		cards_correct INTEGER NOT NULL,
		session_date INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		last_modified INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_metadata (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pending_changes INTEGER NOT NULL DEFAULT 0,
		last_sync_timestamp INTEGER,
		sync_in_progress INTEGER NOT NULL DEFAULT 0,
		last_sync_error TEXT
	);
	INSERT OR IGNORE INTO sync_metadata (id) VALUES (1);

	CREATE INDEX IF NOT EXISTS idx_cards_due ON review_cards(due_date);
	CREATE INDEX IF NOT EXISTS idx_cards_unsynced ON review_cards(synced);
	CREATE INDEX IF NOT EXISTS idx_sessions_unsynced ON performance_sessions(synced);
	CREATE INDEX IF NOT EXISTS idx_sessions_completed ON performance_sessions(completed_at);
	CREATE INDEX IF NOT EXISTS idx_drills_unsynced ON drill_sessions(synced);
	`,
}

// Store wraps the local SQLite database.
type Store struct {
	conn *sql.DB
	path string

	// Serializes writers so a multi-record cascade is never interleaved.
	mu sync.Mutex

	// now is replaceable in tests.
	now func() time.Time
}

// clock returns the store's current time in UTC at second precision, the
// resolution of the persisted epoch columns.
func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// Open creates or opens the local database at the given path, enables WAL
// mode, and runs any pending schema migrations.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, now: time.Now}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// migrate upgrades the schema in place, one version at a time.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for ; version < len(migrations); version++ {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migrations[version]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply schema migration v%d: %w", version+1, err)
		}
		if _, err := tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(version+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to bump schema version to v%d: %w", version+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit schema migration v%d: %w", version+1, err)
		}
	}

	return nil
}

// SchemaVersion returns the current PRAGMA user_version of the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// ready distinguishes the caller error of using a store before (or after) its
// lifetime from genuine storage failures.
func (s *Store) ready() error {
	if s == nil || s.conn == nil {
		return ErrNotInitialized
	}
	return nil
}

// CardID formats the composite card identity used by MarkSynced.
func CardID(songID string, lineIndex int) string {
	return songID + ":" + strconv.Itoa(lineIndex)
}

// parseCardID splits a CardID back into its parts. The line index is the
// text after the last colon, so song ids may themselves contain colons.
func parseCardID(id string) (string, int, error) {
	i := strings.LastIndex(id, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("malformed card id %q", id)
	}
	idx, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed card id %q: %w", id, err)
	}
	return id[:i], idx, nil
}

// timeToNullInt64 converts an optional timestamp to a nullable epoch-seconds
// column value.
func timeToNullInt64(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

// nullInt64ToTime converts a nullable epoch-seconds column value back to an
// optional timestamp.
func nullInt64ToTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := unixTime(n.Int64)
	return &t
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
