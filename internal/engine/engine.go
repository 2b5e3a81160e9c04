package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/versebound/verseledger/internal/ledger"
	"github.com/versebound/verseledger/internal/schema"
	"github.com/versebound/verseledger/internal/store"
	"github.com/versebound/verseledger/internal/syncer"
)

// Song is the slice of catalog metadata the engine needs: just enough to
// denormalize onto a session record at save time.
type Song struct {
	Title  string
	Artist string
}

// SongDirectory resolves a song id to its display metadata. Implementations
// live outside the engine (the CLI ships a YAML-catalog one).
type SongDirectory interface {
	GetSongByID(ctx context.Context, songID string) (*Song, error)
}

// LedgerConn is a live connection to the remote ledger: it can sign and
// send write batches and answer read queries. *ledger.Remote satisfies it.
type LedgerConn interface {
	ledger.Signer
	ledger.Querier
}

// Config carries the engine's construction-time settings.
type Config struct {
	// DataDir holds the local database and the table registry cache.
	DataDir string

	// Logger receives engine and sync log lines. Nil means stderr.
	Logger *log.Logger
}

// Engine owns the local store and the sync machinery for one process.
type Engine struct {
	store  *store.Store
	syncer *syncer.Syncer
	songs  SongDirectory

	cacheDir string
	logger   *log.Logger
}

// New opens the local database under cfg.DataDir and wires the engine.
// The returned Engine must be Closed when the process shuts down.
func New(cfg *Config, songs SongDirectory) (*Engine, error) {
	if cfg == nil || cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if songs == nil {
		return nil, fmt.Errorf("song directory is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "verseledger.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	syncCfg := syncer.DefaultConfig()
	syncCfg.Logger = logger

	return &Engine{
		store:    st,
		syncer:   syncer.New(st, syncCfg),
		songs:    songs,
		cacheDir: cfg.DataDir,
		logger:   logger,
	}, nil
}

// Close releases the local database.
func (e *Engine) Close() error {
	return e.store.Close()
}

// SessionParams describes one completed performance to record.
type SessionParams struct {
	SongID      string
	TotalScore  float64
	StartedAt   time.Time
	CompletedAt time.Time
	Lines       []schema.SessionLine
}

// SaveSession records a performance session and cascades its line scores
// into review cards. It generates the session id, looks up the song's
// title and artist, and returns the new id.
func (e *Engine) SaveSession(ctx context.Context, params *SessionParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("session params are required")
	}

	song, err := e.songs.GetSongByID(ctx, params.SongID)
	if err != nil {
		return "", fmt.Errorf("failed to look up song %s: %w", params.SongID, err)
	}

	session := &schema.PerformanceSession{
		SessionID:   uuid.NewString(),
		SongID:      params.SongID,
		SongTitle:   song.Title,
		ArtistName:  song.Artist,
		TotalScore:  params.TotalScore,
		StartedAt:   params.StartedAt,
		CompletedAt: params.CompletedAt,
		Lines:       params.Lines,
	}
	if err := e.store.SaveSession(ctx, session); err != nil {
		return "", err
	}
	e.logger.Printf("saved session %s (%s, %d lines)",
		session.SessionID, session.SongTitle, len(session.Lines))
	return session.SessionID, nil
}

// DrillParams describes one completed review drill to record.
type DrillParams struct {
	CardsReviewed int
	CardsCorrect  int
	StartedAt     time.Time
	CompletedAt   time.Time
}

// SaveDrillSession records a drill session and returns its generated id.
func (e *Engine) SaveDrillSession(ctx context.Context, params *DrillParams) (string, error) {
	if params == nil {
		return "", fmt.Errorf("drill params are required")
	}

	drill := &schema.DrillSession{
		SessionID:     uuid.NewString(),
		CardsReviewed: params.CardsReviewed,
		CardsCorrect:  params.CardsCorrect,
		SessionDate:   schema.SessionDateOf(params.CompletedAt),
		StartedAt:     params.StartedAt,
		CompletedAt:   params.CompletedAt,
	}
	if err := e.store.SaveDrillSession(ctx, drill); err != nil {
		return "", err
	}
	return drill.SessionID, nil
}

// GetDueCards returns the cards due for review, soonest first. limit <= 0
// means no limit.
func (e *Engine) GetDueCards(ctx context.Context, limit int) ([]*schema.ReviewCard, error) {
	return e.store.GetDueCards(ctx, limit)
}

// UpdateCardReview applies one review outcome to an existing card.
func (e *Engine) UpdateCardReview(ctx context.Context, songID string, lineIndex int, wasCorrect bool) error {
	return e.store.UpdateCardReview(ctx, songID, lineIndex, wasCorrect)
}

// GetUserStats returns aggregate practice statistics.
func (e *Engine) GetUserStats(ctx context.Context) (*store.UserStats, error) {
	return e.store.GetUserStats(ctx)
}

// GetSyncStatus returns the sync metadata row.
func (e *Engine) GetSyncStatus(ctx context.Context) (*schema.SyncMetadata, error) {
	return e.store.GetSyncStatus(ctx)
}

// GetHistory returns completed sessions, newest first.
func (e *Engine) GetHistory(ctx context.Context, limit int) ([]*schema.PerformanceSession, error) {
	return e.store.GetHistory(ctx, limit)
}

// GetDrillHistory returns completed drills, newest first.
func (e *Engine) GetDrillHistory(ctx context.Context, limit int) ([]*schema.DrillSession, error) {
	return e.store.GetDrillHistory(ctx, limit)
}

// SyncState reports the orchestrator's current state machine position.
func (e *Engine) SyncState() syncer.State {
	return e.syncer.State()
}

// SyncToLedger pushes all unsynced local records to the connected owner's
// ledger namespace.
func (e *Engine) SyncToLedger(ctx context.Context, conn LedgerConn) (*syncer.PushResult, error) {
	return e.syncer.SyncToLedger(ctx, e.client(conn))
}

// ImportFromLedger rebuilds local state from the connected owner's ledger
// namespace, replacing whatever is stored locally.
func (e *Engine) ImportFromLedger(ctx context.Context, conn LedgerConn) (*syncer.ImportResult, error) {
	return e.syncer.ImportFromLedger(ctx, e.client(conn))
}

// HasRemoteData reports whether the owner has provisioned tables with at
// least one record on the ledger.
func (e *Engine) HasRemoteData(ctx context.Context, conn LedgerConn, owner string) (bool, error) {
	return e.syncer.HasRemoteData(ctx, e.client(conn), owner)
}

// ProvisionRemoteTables creates the owner's ledger tables ahead of the
// first push. SyncToLedger provisions on demand, so this is optional.
func (e *Engine) ProvisionRemoteTables(ctx context.Context, conn LedgerConn) (*schema.TableRegistry, error) {
	return e.client(conn).CreateUserTables(ctx, conn.Address())
}

func (e *Engine) client(conn LedgerConn) *ledger.Client {
	return ledger.NewClient(conn, conn, e.cacheDir, e.logger)
}
