package syncer

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/versebound/verseledger/internal/ledger"
	"github.com/versebound/verseledger/internal/schema"
	"github.com/versebound/verseledger/internal/store"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const testOwner = "0xFeedFace00112233"

var testNow = time.Date(2026, 6, 10, 18, 0, 0, 0, time.UTC)

// fakeLedger implements ledger.Signer and ledger.Querier over a throwaway
// SQLite database. failures makes the next N signed sends fail, simulating
// a flaky remote; sendErr makes the next sendErrCount non-DDL sends fail
// with a specific error, simulating errors the remote reports about the
// statements themselves.
type fakeLedger struct {
	db       *sql.DB
	addr     string
	failures int
	sends    int

	sendErr      error
	sendErrCount int
}

func newFakeLedger(t *testing.T) *fakeLedger {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("failed to open fake ledger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &fakeLedger{db: db, addr: testOwner}
}

func (f *fakeLedger) Address() string { return f.addr }

func (f *fakeLedger) SignAndSend(ctx context.Context, stmts []ledger.Statement) (*ledger.Confirmation, error) {
	f.sends++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("ledger temporarily unavailable")
	}
	if f.sendErrCount > 0 && !isCreateBatch(stmts) {
		f.sendErrCount--
		return nil, f.sendErr
	}

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

// isCreateBatch distinguishes provisioning DDL from record writes, so
// injected send errors do not block re-provisioning.
func isCreateBatch(stmts []ledger.Statement) bool {
	return len(stmts) > 0 && strings.Contains(stmts[0].SQL, "CREATE TABLE")
}

func (f *fakeLedger) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return f.db.QueryContext(ctx, query, args...)
}

func (f *fakeLedger) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return f.db.QueryRowContext(ctx, query, args...)
}

// testConfig returns retry tuning fast enough for tests.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 4 * time.Millisecond
	return cfg
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func saveTestFacts(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()

	session := &schema.PerformanceSession{
		SessionID:   "sess-push",
		SongID:      "song-1",
		SongTitle:   "Push Song",
		ArtistName:  "Artist",
		TotalScore:  77,
		StartedAt:   testNow.Add(-4 * time.Minute),
		CompletedAt: testNow,
		Lines: []schema.SessionLine{
			{LineIndex: 0, ExpectedText: "alpha", Score: 90},
			{LineIndex: 1, ExpectedText: "beta", Score: 30},
		},
	}
	if err := st.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}

	drill := &schema.DrillSession{
		SessionID:     "drill-push",
		CardsReviewed: 4,
		CardsCorrect:  3,
		SessionDate:   schema.SessionDateOf(testNow),
		StartedAt:     testNow,
		CompletedAt:   testNow.Add(6 * time.Minute),
	}
	if err := st.SaveDrillSession(ctx, drill); err != nil {
		t.Fatalf("SaveDrillSession() failed: %v", err)
	}
}

// TestSyncToLedger_Push tests a full push: provisioning, commit, marking.
func TestSyncToLedger_Push(t *testing.T) {
	st := openTestStore(t)
	remote := newFakeLedger(t)
	client := ledger.NewClient(remote, remote, t.TempDir(), nil)
	s := New(st, testConfig())
	ctx := context.Background()

	saveTestFacts(t, st)

	result, err := s.SyncToLedger(ctx, client)
	if err != nil {
		t.Fatalf("SyncToLedger() failed: %v", err)
	}
	if result.SyncedSessions != 1 || result.SyncedCards != 2 || result.SyncedDrills != 1 {
		t.Errorf("result = %+v, want 1 session / 2 cards / 1 drill", result)
	}

	// The ledger now answers history queries for the owner.
	history, err := client.QueryHistory(ctx, testOwner, 0)
	if err != nil {
		t.Fatalf("QueryHistory() failed: %v", err)
	}
	if len(history) != 1 || history[0].SessionID != "sess-push" {
		t.Errorf("remote history = %+v, want the pushed session", history)
	}

	status, err := st.GetSyncStatus(ctx)
	if err != nil {
		t.Fatalf("GetSyncStatus() failed: %v", err)
	}
	if status.PendingChanges != 0 || status.SyncInProgress {
		t.Errorf("sync status after push = %+v", status)
	}
	if status.LastSyncTimestamp == nil {
		t.Error("last sync timestamp not set")
	}
	if s.State() != StateIdle {
		t.Errorf("state = %v, want idle", s.State())
	}
}

// TestSyncToLedger_Idempotent tests that an immediate second push reports
// zero newly synced records and no error.
func TestSyncToLedger_Idempotent(t *testing.T) {
	st := openTestStore(t)
	remote := newFakeLedger(t)
	client := ledger.NewClient(remote, remote, t.TempDir(), nil)
	s := New(st, testConfig())
	ctx := context.Background()

	saveTestFacts(t, st)

	if _, err := s.SyncToLedger(ctx, client); err != nil {
		t.Fatalf("first SyncToLedger() failed: %v", err)
	}

	result, err := s.SyncToLedger(ctx, client)
	if err != nil {
		t.Fatalf("second SyncToLedger() failed: %v", err)
	}
	if result.SyncedSessions != 0 || result.SyncedCards != 0 || result.SyncedDrills != 0 {
		t.Errorf("second push result = %+v, want all zeros", result)
	}
}

// TestSyncToLedger_AlreadyInProgress tests the mutual-exclusion guard.
func TestSyncToLedger_AlreadyInProgress(t *testing.T) {
	st := openTestStore(t)
	remote := newFakeLedger(t)
	client := ledger.NewClient(remote, remote, t.TempDir(), nil)
	s := New(st, testConfig())
	ctx := context.Background()

	saveTestFacts(t, st)
	before, err := st.GetSyncStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a sync in flight.
	if err := st.TryBeginSync(ctx); err != nil {
		t.Fatalf("TryBeginSync() failed: %v", err)
	}

	_, err = s.SyncToLedger(ctx, client)
	if !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("SyncToLedger() during sync = %v, want ErrAlreadyInProgress", err)
	}

	after, err := st.GetSyncStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after.PendingChanges != before.PendingChanges {
		t.Errorf("pending changes altered by rejected sync: %d -> %d",
			before.PendingChanges, after.PendingChanges)
	}
	if !after.SyncInProgress {
		t.Error("rejected sync cleared the in-flight flag it does not own")
	}
}

// TestSyncToLedger_RetriesTransientFailure tests backoff recovery.
func TestSyncToLedger_RetriesTransientFailure(t *testing.T) {
	st := openTestStore(t)
	remote := newFakeLedger(t)
	client := ledger.NewClient(remote, remote, t.TempDir(), nil)
	s := New(st, testConfig())
	ctx := context.Background()

	saveTestFacts(t, st)

	// Provision succeeds, then the first two commit attempts fail.
	if _, err := client.CreateUserTables(ctx, testOwner); err != nil {
		t.Fatalf("CreateUserTables() failed: %v", err)
	}
	remote.failures = 2

	result, err := s.SyncToLedger(ctx, client)
	if err != nil {
		t.Fatalf("SyncToLedger() with transient failures failed: %v", err)
	}
	if result.SyncedSessions != 1 {
		t.Errorf("result = %+v, want the push to complete", result)
	}
}

// TestSyncToLedger_ExhaustsRetryBudget tests the error path: flag cleared,
// error recorded, nothing marked synced.
func TestSyncToLedger_ExhaustsRetryBudget(t *testing.T) {
	st := openTestStore(t)
	remote := newFakeLedger(t)
	client := ledger.NewClient(remote, remote, t.TempDir(), nil)

	cfg := testConfig()
	cfg.MaxAttempts = 2
	s := New(st, cfg)
	ctx := context.Background()

	saveTestFacts(t, st)

	if _, err := client.CreateUserTables(ctx, testOwner); err != nil {
		t.Fatalf("CreateUserTables() failed: %v", err)
	}
	remote.failures = 100

	if _, err := s.SyncToLedger(ctx, client); err == nil {
		t.Fatal("SyncToLedger() should fail when the remote stays down")
	}

	status, err := st.GetSyncStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.SyncInProgress {
		t.Error("sync flag stuck after failed push")
	}
	if status.LastSyncError == "" {
		t.Error("last sync error not recorded")
	}

	// Local facts stay unsynced and retryable.
	unsynced, err := st.GetUnsyncedData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if unsynced.Empty() {
		t.Error("failed push must leave records unsynced")
	}
	if s.State() != StateError {
		t.Errorf("state = %v, want error", s.State())
	}
}

// TestSyncToLedger_ReprovisionsStaleRegistry tests the mid-commit stale
// path: the registry cache passes its probe, the commit lands on tables
// that no longer exist, and one re-provision completes the push.
func TestSyncToLedger_ReprovisionsStaleRegistry(t *testing.T) {
	st := openTestStore(t)
	remote := newFakeLedger(t)
	client := ledger.NewClient(remote, remote, t.TempDir(), nil)
	s := New(st, testConfig())
	ctx := context.Background()

	saveTestFacts(t, st)
	if _, err := client.CreateUserTables(ctx, testOwner); err != nil {
		t.Fatalf("CreateUserTables() failed: %v", err)
	}

	// The tables vanish between the registry probe and the commit.
	remote.sendErr = errors.New("no such table: verse_cards_feedface00112233_v1")
	remote.sendErrCount = 1

	result, err := s.SyncToLedger(ctx, client)
	if err != nil {
		t.Fatalf("SyncToLedger() with stale registry failed: %v", err)
	}
	if result.SyncedSessions != 1 || result.SyncedCards != 2 || result.SyncedDrills != 1 {
		t.Errorf("result = %+v, want 1 session / 2 cards / 1 drill", result)
	}

	// Provision, failed commit, re-provision, committed retry.
	if remote.sends != 4 {
		t.Errorf("sends = %d, want 4 (one re-provision, one retry)", remote.sends)
	}

	history, err := client.QueryHistory(ctx, testOwner, 0)
	if err != nil {
		t.Fatalf("QueryHistory() failed: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("remote history = %d sessions after re-provisioned push, want 1", len(history))
	}
}

// TestSyncToLedger_StaleRecurrenceSurfaces tests that a registry that is
// still stale after re-provisioning surfaces instead of looping.
func TestSyncToLedger_StaleRecurrenceSurfaces(t *testing.T) {
	st := openTestStore(t)
	remote := newFakeLedger(t)
	client := ledger.NewClient(remote, remote, t.TempDir(), nil)
	s := New(st, testConfig())
	ctx := context.Background()

	saveTestFacts(t, st)
	if _, err := client.CreateUserTables(ctx, testOwner); err != nil {
		t.Fatalf("CreateUserTables() failed: %v", err)
	}

	remote.sendErr = errors.New("no such table: verse_cards_feedface00112233_v1")
	remote.sendErrCount = 10

	_, err := s.SyncToLedger(ctx, client)
	if !errors.Is(err, ledger.ErrRegistryStale) {
		t.Fatalf("SyncToLedger() = %v, want ErrRegistryStale after one re-provision", err)
	}

	status, err := st.GetSyncStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.SyncInProgress {
		t.Error("sync flag stuck after surfaced stale registry")
	}
	unsynced, err := st.GetUnsyncedData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if unsynced.Empty() {
		t.Error("surfaced push must leave records unsynced")
	}
}

// TestSyncToLedger_PermanentErrorNotRetried tests that a deterministic
// statement failure surfaces immediately instead of spending the budget.
func TestSyncToLedger_PermanentErrorNotRetried(t *testing.T) {
	st := openTestStore(t)
	remote := newFakeLedger(t)
	client := ledger.NewClient(remote, remote, t.TempDir(), nil)
	s := New(st, testConfig())
	ctx := context.Background()

	saveTestFacts(t, st)
	if _, err := client.CreateUserTables(ctx, testOwner); err != nil {
		t.Fatalf("CreateUserTables() failed: %v", err)
	}

	remote.sendErr = errors.New("NOT NULL constraint failed: verse_sessions_feedface00112233_v1.song_id")
	remote.sendErrCount = 10

	if _, err := s.SyncToLedger(ctx, client); err == nil {
		t.Fatal("SyncToLedger() with constraint failure should fail")
	}

	// Provision plus exactly one commit attempt.
	if remote.sends != 2 {
		t.Errorf("sends = %d, want 2 (constraint failures must not be retried)", remote.sends)
	}

	status, err := st.GetSyncStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.SyncInProgress {
		t.Error("sync flag stuck after surfaced constraint failure")
	}
}

// TestImportFromLedger_RoundTrip pushes from one store and recovers into a
// fresh one, as a new device would.
func TestImportFromLedger_RoundTrip(t *testing.T) {
	remote := newFakeLedger(t)
	ctx := context.Background()

	first := openTestStore(t)
	firstClient := ledger.NewClient(remote, remote, t.TempDir(), nil)
	saveTestFacts(t, first)
	if _, err := New(first, testConfig()).SyncToLedger(ctx, firstClient); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	// Fresh device: empty store, empty registry cache, same ledger.
	second := openTestStore(t)
	secondClient := ledger.NewClient(remote, remote, t.TempDir(), nil)
	result, err := New(second, testConfig()).ImportFromLedger(ctx, secondClient)
	if err != nil {
		t.Fatalf("ImportFromLedger() failed: %v", err)
	}
	if result.ImportedSessions != 1 || result.ImportedCards != 2 || result.ImportedDrills != 1 {
		t.Errorf("result = %+v, want 1 session / 2 cards / 1 drill", result)
	}

	history, err := second.GetHistory(ctx, 0)
	if err != nil {
		t.Fatalf("GetHistory() failed: %v", err)
	}
	if len(history) != 1 || history[0].SessionID != "sess-push" {
		t.Fatalf("imported history = %+v", history)
	}
	if !history[0].Synced {
		t.Error("imported session must be marked synced")
	}

	// Card scheduling state survives the round trip.
	card, err := second.GetCard(ctx, "song-1", 1)
	if err != nil {
		t.Fatalf("GetCard() failed: %v", err)
	}
	if card.State != schema.StateRelearning || card.Lapses != 1 {
		t.Errorf("imported card = %+v, want relearning with one lapse", card)
	}

	unsynced, err := second.GetUnsyncedData(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !unsynced.Empty() {
		t.Error("import left records unsynced")
	}
}

// TestImportFromLedger_NoRemoteData tests the nothing-to-import path.
func TestImportFromLedger_NoRemoteData(t *testing.T) {
	st := openTestStore(t)
	remote := newFakeLedger(t)
	client := ledger.NewClient(remote, remote, t.TempDir(), nil)
	ctx := context.Background()

	result, err := New(st, testConfig()).ImportFromLedger(ctx, client)
	if err != nil {
		t.Fatalf("ImportFromLedger() on empty ledger failed: %v", err)
	}
	if result.ImportedSessions != 0 || result.ImportedCards != 0 || result.ImportedDrills != 0 {
		t.Errorf("result = %+v, want all zeros", result)
	}
}

// TestHasRemoteData tests the existence probe before and after a push.
func TestHasRemoteData(t *testing.T) {
	st := openTestStore(t)
	remote := newFakeLedger(t)
	client := ledger.NewClient(remote, remote, t.TempDir(), nil)
	s := New(st, testConfig())
	ctx := context.Background()

	has, err := s.HasRemoteData(ctx, client, testOwner)
	if err != nil {
		t.Fatalf("HasRemoteData() failed: %v", err)
	}
	if has {
		t.Error("HasRemoteData = true before any push")
	}

	saveTestFacts(t, st)
	if _, err := s.SyncToLedger(ctx, client); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	has, err = s.HasRemoteData(ctx, client, testOwner)
	if err != nil {
		t.Fatalf("HasRemoteData() failed: %v", err)
	}
	if !has {
		t.Error("HasRemoteData = false after push")
	}
}
