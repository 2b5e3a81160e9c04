package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/versebound/verseledger/internal/ledger"
	"github.com/versebound/verseledger/internal/schema"
	"github.com/versebound/verseledger/internal/store"
)

// ErrAlreadyInProgress is returned when a sync is requested while another is
// in flight. It is the store's flag error re-exported under the name callers
// check against.
var ErrAlreadyInProgress = store.ErrSyncInProgress

// Config holds retry tuning for the orchestrator.
type Config struct {
	// BaseDelay is the first retry delay; each retry doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the doubled delay.
	MaxDelay time.Duration

	// MaxAttempts is the total commit attempt budget.
	MaxAttempts int

	// Logger for sync activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		MaxAttempts: 5,
		Logger:      log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Syncer reconciles the local store with the remote ledger.
type Syncer struct {
	store  *store.Store
	config *Config

	mu    sync.Mutex
	state State
}

// New creates a Syncer over an opened store. If config is nil, defaults are
// used.
func New(st *store.Store, config *Config) *Syncer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Syncer{store: st, config: config, state: StateIdle}
}

// State returns the current sync phase.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Syncer) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// PushResult counts the records confirmed by one push.
type PushResult struct {
	SyncedSessions int
	SyncedCards    int
	SyncedDrills   int
}

// ImportResult counts the records recovered by one pull.
type ImportResult struct {
	ImportedSessions int
	ImportedCards    int
	ImportedDrills   int
}

// SyncToLedger pushes all unsynced local records to the owner's ledger
// namespace as one atomic commit.
//
// Fails fast with ErrAlreadyInProgress when a sync is in flight. On any
// failure the sync flag is cleared, lastSyncError is recorded, and every
// local record stays unsynced so a later push reprocesses it.
func (s *Syncer) SyncToLedger(ctx context.Context, client *ledger.Client) (result *PushResult, err error) {
	owner := client.Signer().Address()

	if err := s.store.TryBeginSync(ctx); err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			s.setState(StateError)
			if endErr := s.store.EndSync(ctx, err, nil); endErr != nil {
				s.config.Logger.Printf("WARNING: failed to clear sync flag: %v", endErr)
			}
		}
	}()

	s.setState(StateCheckingRegistry)
	reg, err := s.resolveRegistry(ctx, client, owner)
	if err != nil {
		return nil, err
	}

	s.setState(StatePreparingWrites)
	unsynced, err := s.store.GetUnsyncedData(ctx)
	if err != nil {
		return nil, err
	}
	if unsynced.Empty() {
		s.config.Logger.Printf("Nothing to sync for %s", owner)
		now := time.Now().UTC()
		if err = s.store.EndSync(ctx, nil, &now); err != nil {
			return nil, err
		}
		s.setState(StateIdle)
		return &PushResult{}, nil
	}

	stmts, err := buildStatements(reg, unsynced)
	if err != nil {
		return nil, err
	}

	s.setState(StateCommittingBatch)
	if _, err = s.commitWithRetry(ctx, client, owner, stmts); err != nil {
		return nil, err
	}

	s.setState(StateMarkingSynced)
	sessionIDs := make([]string, 0, len(unsynced.Sessions))
	for _, session := range unsynced.Sessions {
		sessionIDs = append(sessionIDs, session.SessionID)
	}
	cardIDs := make([]string, 0, len(unsynced.Cards))
	for _, card := range unsynced.Cards {
		cardIDs = append(cardIDs, store.CardID(card.SongID, card.LineIndex))
	}
	drillIDs := make([]string, 0, len(unsynced.Drills))
	for _, drill := range unsynced.Drills {
		drillIDs = append(drillIDs, drill.SessionID)
	}

	if err = s.store.MarkSynced(ctx, store.FamilySessions, sessionIDs); err != nil {
		return nil, err
	}
	if err = s.store.MarkSynced(ctx, store.FamilyCards, cardIDs); err != nil {
		return nil, err
	}
	if err = s.store.MarkSynced(ctx, store.FamilyDrills, drillIDs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err = s.store.EndSync(ctx, nil, &now); err != nil {
		return nil, err
	}
	s.setState(StateIdle)

	result = &PushResult{
		SyncedSessions: len(sessionIDs),
		SyncedCards:    len(cardIDs),
		SyncedDrills:   len(drillIDs),
	}
	s.config.Logger.Printf("Push complete for %s: %d sessions, %d cards, %d drills",
		owner, result.SyncedSessions, result.SyncedCards, result.SyncedDrills)
	return result, nil
}

// ImportFromLedger rebuilds the local store from the owner's authoritative
// ledger history: history, full card state, and drill records each come from
// their own table. The local store is wiped first and everything written
// back is marked synced, since the facts originated remotely.
//
// An owner with no provisioned tables yields zero counts, not an error.
func (s *Syncer) ImportFromLedger(ctx context.Context, client *ledger.Client) (result *ImportResult, err error) {
	owner := client.Signer().Address()

	if err := s.store.TryBeginSync(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.setState(StateError)
			if endErr := s.store.EndSync(ctx, err, nil); endErr != nil {
				s.config.Logger.Printf("WARNING: failed to clear sync flag: %v", endErr)
			}
		}
	}()

	s.setState(StateCheckingRegistry)
	if _, err := client.GetUserTables(ctx, owner); err != nil {
		if errors.Is(err, ledger.ErrTablesNotFound) {
			s.config.Logger.Printf("No remote data for %s", owner)
			if err := s.store.EndSync(ctx, nil, nil); err != nil {
				return nil, err
			}
			s.setState(StateIdle)
			return &ImportResult{}, nil
		}
		return nil, err
	}

	sessions, err := client.QueryHistory(ctx, owner, 0)
	if err != nil {
		return nil, err
	}
	cards, err := client.QueryCards(ctx, owner)
	if err != nil {
		return nil, err
	}
	drills, err := client.QueryDrillHistory(ctx, owner, 0)
	if err != nil {
		return nil, err
	}

	if err = s.store.ClearAll(ctx); err != nil {
		return nil, err
	}
	// ClearAll resets the sync flag; retake it so the invariant holds for
	// the remainder of the import.
	if err = s.store.TryBeginSync(ctx); err != nil {
		return nil, err
	}

	if err = s.store.ImportRecords(ctx, sessions, cards, drills); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err = s.store.EndSync(ctx, nil, &now); err != nil {
		return nil, err
	}
	s.setState(StateIdle)

	result = &ImportResult{
		ImportedSessions: len(sessions),
		ImportedCards:    len(cards),
		ImportedDrills:   len(drills),
	}
	s.config.Logger.Printf("Import complete for %s: %d sessions, %d cards, %d drills",
		owner, result.ImportedSessions, result.ImportedCards, result.ImportedDrills)
	return result, nil
}

// HasRemoteData reports whether the owner has a provisioned ledger
// namespace. It is a cheap existence probe; nothing is written or cleared.
func (s *Syncer) HasRemoteData(ctx context.Context, client *ledger.Client, owner string) (bool, error) {
	_, err := client.GetUserTables(ctx, owner)
	if err != nil {
		if errors.Is(err, ledger.ErrTablesNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// resolveRegistry returns the owner's table registry, provisioning the
// namespace on first sync.
func (s *Syncer) resolveRegistry(ctx context.Context, client *ledger.Client, owner string) (*schema.TableRegistry, error) {
	reg, err := client.GetUserTables(ctx, owner)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, ledger.ErrTablesNotFound) {
		return nil, err
	}

	s.setState(StateProvisioningTables)
	s.config.Logger.Printf("Provisioning ledger tables for %s", owner)
	reg, err = client.CreateUserTables(ctx, owner)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// buildStatements translates the unsynced subset into ledger statements:
// one insert per session, one conflict-resolving upsert per card, one
// insert per drill.
func buildStatements(reg *schema.TableRegistry, unsynced *store.UnsyncedData) ([]ledger.Statement, error) {
	stmts := make([]ledger.Statement, 0, len(unsynced.Sessions)+len(unsynced.Cards)+len(unsynced.Drills))
	for _, session := range unsynced.Sessions {
		stmt, err := ledger.SessionInsert(reg.SessionsTable, session)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	for _, card := range unsynced.Cards {
		stmts = append(stmts, ledger.CardUpsert(reg.CardsTable, card))
	}
	for _, drill := range unsynced.Drills {
		stmts = append(stmts, ledger.DrillInsert(reg.DrillsTable, drill))
	}
	return stmts, nil
}

// commitWithRetry submits the batch with capped exponential backoff. A stale
// registry triggers exactly one re-provisioning attempt; any recurrence
// surfaces. Errors that cannot succeed on retry surface immediately.
// Exhausting the attempt budget surfaces the last error.
func (s *Syncer) commitWithRetry(ctx context.Context, client *ledger.Client, owner string,
	stmts []ledger.Statement) (*ledger.Confirmation, error) {
	delay := s.config.BaseDelay
	reprovisioned := false

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		conf, err := client.WriteBatch(ctx, owner, stmts)
		if err == nil {
			return conf, nil
		}

		if errors.Is(err, ledger.ErrRegistryStale) || errors.Is(err, ledger.ErrTablesNotFound) {
			if reprovisioned {
				return nil, err
			}
			reprovisioned = true
			s.setState(StateProvisioningTables)
			s.config.Logger.Printf("Registry stale for %s, re-provisioning", owner)
			if _, perr := client.CreateUserTables(ctx, owner); perr != nil {
				return nil, perr
			}
			s.setState(StateCommittingBatch)
			continue
		}

		// Constraint violations and malformed statements fail the same
		// way every attempt; surface them instead of burning the budget.
		if ledger.IsPermanent(err) {
			return nil, err
		}

		lastErr = err
		if attempt == s.config.MaxAttempts {
			break
		}

		s.setState(StateRetrying)
		s.config.Logger.Printf("Commit attempt %d/%d failed (%v), retrying in %s",
			attempt, s.config.MaxAttempts, err, delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.config.MaxDelay {
			delay = s.config.MaxDelay
		}
		s.setState(StateCommittingBatch)
	}

	return nil, fmt.Errorf("commit failed after %d attempts: %w", s.config.MaxAttempts, lastErr)
}
