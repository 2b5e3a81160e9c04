package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/versebound/verseledger/internal/ledger"
	"github.com/versebound/verseledger/internal/schema"
	"github.com/versebound/verseledger/internal/store"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var testNow = time.Date(2026, 7, 2, 9, 0, 0, 0, time.UTC)

type fakeDirectory map[string]*Song

func (d fakeDirectory) GetSongByID(_ context.Context, songID string) (*Song, error) {
	song, ok := d[songID]
	if !ok {
		return nil, fmt.Errorf("unknown song %s", songID)
	}
	return song, nil
}

// fakeConn backs the engine's LedgerConn with a local SQLite database.
type fakeConn struct {
	db   *sql.DB
	addr string
}

func newFakeConn(t *testing.T) *fakeConn {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("failed to open fake ledger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &fakeConn{db: db, addr: "0xEngine0011223344"}
}

func (f *fakeConn) Address() string { return f.addr }

func (f *fakeConn) SignAndSend(ctx context.Context, stmts []ledger.Statement) (*ledger.Confirmation, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ledger.Confirmation{Statements: len(stmts), ConfirmedAt: time.Now().UTC()}, nil
}

func (f *fakeConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return f.db.QueryContext(ctx, query, args...)
}

func (f *fakeConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return f.db.QueryRowContext(ctx, query, args...)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	songs := fakeDirectory{
		"song-1": {Title: "Midnight Verse", Artist: "The Refrains"},
	}
	e, err := New(&Config{
		DataDir: t.TempDir(),
		Logger:  log.New(io.Discard, "", 0),
	}, songs)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNew_Validation(t *testing.T) {
	songs := fakeDirectory{}
	if _, err := New(nil, songs); err == nil {
		t.Error("New(nil, songs) should fail")
	}
	if _, err := New(&Config{DataDir: ""}, songs); err == nil {
		t.Error("New with empty data dir should fail")
	}
	if _, err := New(&Config{DataDir: t.TempDir()}, nil); err == nil {
		t.Error("New without a song directory should fail")
	}
}

func TestSaveSession_DenormalizesSong(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.SaveSession(ctx, &SessionParams{
		SongID:      "song-1",
		TotalScore:  82,
		StartedAt:   testNow.Add(-3 * time.Minute),
		CompletedAt: testNow,
		Lines: []schema.SessionLine{
			{LineIndex: 0, ExpectedText: "first line", Score: 95},
			{LineIndex: 1, ExpectedText: "second line", Score: 40},
		},
	})
	if err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}
	if id == "" {
		t.Fatal("SaveSession() returned empty id")
	}

	history, err := e.GetHistory(ctx, 0)
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("got %d sessions, want 1", len(history))
	}
	session := history[0]
	if session.SessionID != id {
		t.Errorf("history session id = %s, want %s", session.SessionID, id)
	}
	if session.SongTitle != "Midnight Verse" || session.ArtistName != "The Refrains" {
		t.Errorf("song metadata not denormalized: %q by %q",
			session.SongTitle, session.ArtistName)
	}

	// Line scores cascaded into cards.
	stats, err := e.GetUserStats(ctx)
	if err != nil {
		t.Fatalf("GetUserStats() failed: %v", err)
	}
	if stats.TotalCards != 2 {
		t.Errorf("total cards = %d, want 2", stats.TotalCards)
	}
}

func TestSaveSession_UniqueIDs(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	params := &SessionParams{
		SongID:      "song-1",
		TotalScore:  70,
		StartedAt:   testNow,
		CompletedAt: testNow.Add(time.Minute),
		Lines:       []schema.SessionLine{{LineIndex: 0, ExpectedText: "x", Score: 80}},
	}
	first, err := e.SaveSession(ctx, params)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.SaveSession(ctx, params)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Errorf("two saves produced the same session id %s", first)
	}
}

func TestSaveSession_UnknownSong(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.SaveSession(context.Background(), &SessionParams{
		SongID:      "missing",
		StartedAt:   testNow,
		CompletedAt: testNow,
		Lines:       []schema.SessionLine{{LineIndex: 0, ExpectedText: "x", Score: 50}},
	})
	if err == nil {
		t.Fatal("SaveSession() with unknown song should fail")
	}
}

func TestSaveDrillSession(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.SaveDrillSession(ctx, &DrillParams{
		CardsReviewed: 5,
		CardsCorrect:  4,
		StartedAt:     testNow,
		CompletedAt:   testNow.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("SaveDrillSession() failed: %v", err)
	}

	drills, err := e.GetDrillHistory(ctx, 0)
	if err != nil {
		t.Fatalf("GetDrillHistory() failed: %v", err)
	}
	if len(drills) != 1 || drills[0].SessionID != id {
		t.Fatalf("drill history = %+v, want the saved drill", drills)
	}
	if drills[0].SessionDate != schema.SessionDateOf(testNow.Add(10*time.Minute)) {
		t.Errorf("session date = %d", drills[0].SessionDate)
	}
}

func TestUpdateCardReview_MissingCard(t *testing.T) {
	e := newTestEngine(t)

	err := e.UpdateCardReview(context.Background(), "song-1", 99, true)
	if !errors.Is(err, store.ErrCardNotFound) {
		t.Errorf("UpdateCardReview() on missing card = %v, want ErrCardNotFound", err)
	}
}

func TestSyncToLedger_EndToEnd(t *testing.T) {
	e := newTestEngine(t)
	conn := newFakeConn(t)
	ctx := context.Background()

	if _, err := e.SaveSession(ctx, &SessionParams{
		SongID:      "song-1",
		TotalScore:  88,
		StartedAt:   testNow,
		CompletedAt: testNow.Add(2 * time.Minute),
		Lines:       []schema.SessionLine{{LineIndex: 0, ExpectedText: "x", Score: 90}},
	}); err != nil {
		t.Fatal(err)
	}

	result, err := e.SyncToLedger(ctx, conn)
	if err != nil {
		t.Fatalf("SyncToLedger() failed: %v", err)
	}
	if result.SyncedSessions != 1 || result.SyncedCards != 1 {
		t.Errorf("result = %+v, want 1 session / 1 card", result)
	}

	has, err := e.HasRemoteData(ctx, conn, conn.Address())
	if err != nil {
		t.Fatalf("HasRemoteData() failed: %v", err)
	}
	if !has {
		t.Error("HasRemoteData = false after push")
	}

	status, err := e.GetSyncStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.PendingChanges != 0 {
		t.Errorf("pending changes = %d after push", status.PendingChanges)
	}
}
