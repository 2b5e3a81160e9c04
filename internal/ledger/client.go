package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/versebound/verseledger/internal/schema"
)

// Sentinel errors for the ledger package.
// Use errors.Is to check: errors.Is(err, ledger.ErrTablesNotFound)
var (
	ErrTablesNotFound = errors.New("ledger: user tables not provisioned")
	ErrRegistryStale  = errors.New("ledger: table registry is stale")
)

// Client provisions per-owner table namespaces and executes grouped writes
// against the ledger. Reads go through the Querier; writes through the
// Signer. The registry of provisioned table names is cached as a JSON file
// under cacheDir.
type Client struct {
	signer Signer
	q      Querier

	cacheDir string
	logger   *log.Logger
}

// NewClient creates a ledger client. If logger is nil, a default logger
// writing to stderr is used.
func NewClient(signer Signer, querier Querier, cacheDir string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[ledger] ", log.LstdFlags)
	}
	return &Client{
		signer:   signer,
		q:        querier,
		cacheDir: cacheDir,
		logger:   logger,
	}
}

// Signer returns the signing capability this client was built with.
func (c *Client) Signer() Signer { return c.signer }

// GetUserTables returns the registry entry for an owner after re-validating
// it with a liveness probe against the sessions table.
//
// On a cache miss the deterministically derived names for the current schema
// version are probed instead, so a fresh device can rediscover tables
// provisioned elsewhere; a successful probe rebuilds the cache entry.
//
// Returns ErrTablesNotFound when the tables do not exist on the ledger.
// A cache entry whose names no longer exist, or that was written for an
// older schema version, is evicted.
func (c *Client) GetUserTables(ctx context.Context, owner string) (*schema.TableRegistry, error) {
	reg, err := schema.ReadRegistryFile(c.cacheDir, owner)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return c.rediscoverTables(ctx, owner)
	}

	// A cached entry from an older schema version points at old-version
	// tables; those may still exist and pass the probe, so version-check
	// before probing and re-derive the current names.
	if reg.SchemaVersion != SchemaVersion {
		c.logger.Printf("Registry for %s is schema v%d, current is v%d, evicting",
			owner, reg.SchemaVersion, SchemaVersion)
		_ = schema.RemoveRegistryFile(c.cacheDir, owner)
		return c.rediscoverTables(ctx, owner)
	}

	if err := c.probe(ctx, reg.SessionsTable); err != nil {
		if isNoSuchTable(err) {
			c.logger.Printf("Registry for %s is stale, evicting", owner)
			_ = schema.RemoveRegistryFile(c.cacheDir, owner)
			return nil, fmt.Errorf("%w: %v", ErrTablesNotFound, err)
		}
		return nil, fmt.Errorf("registry probe failed: %w", err)
	}

	return reg, nil
}

// rediscoverTables probes the derived table names directly and, when they
// exist, rebuilds the local cache entry.
func (c *Client) rediscoverTables(ctx context.Context, owner string) (*schema.TableRegistry, error) {
	sessions, cards, drills := TableNames(owner)
	if err := c.probe(ctx, sessions); err != nil {
		if isNoSuchTable(err) {
			return nil, ErrTablesNotFound
		}
		return nil, fmt.Errorf("registry probe failed: %w", err)
	}

	reg := &schema.TableRegistry{
		Owner:         owner,
		SessionsTable: sessions,
		CardsTable:    cards,
		DrillsTable:   drills,
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now().UTC(),
	}
	if err := schema.WriteRegistryFile(c.cacheDir, reg); err != nil {
		return nil, err
	}
	c.logger.Printf("Rediscovered tables for %s", owner)
	return reg, nil
}

// probe issues a trivial read against a table. Any result, including zero
// rows, proves the table exists.
func (c *Client) probe(ctx context.Context, table string) error {
	rows, err := c.q.QueryContext(ctx, fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", table))
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

// CreateUserTables provisions the three tables for an owner as one signed
// DDL transaction, then persists the derived names into the registry cache.
//
// Callers must check GetUserTables first; provisioning an already
// provisioned owner is not attempted by any caller.
func (c *Client) CreateUserTables(ctx context.Context, owner string) (*schema.TableRegistry, error) {
	sessions, cards, drills := TableNames(owner)
	reg := &schema.TableRegistry{
		Owner:         owner,
		SessionsTable: sessions,
		CardsTable:    cards,
		DrillsTable:   drills,
		SchemaVersion: SchemaVersion,
		CreatedAt:     time.Now().UTC(),
	}

	conf, err := c.signer.SignAndSend(ctx, createTableStatements(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to provision tables for %s: %w", owner, err)
	}
	c.logger.Printf("Provisioned %d tables for %s (confirmed %s)",
		conf.Statements, owner, conf.ConfirmedAt.Format(time.RFC3339))

	if err := schema.WriteRegistryFile(c.cacheDir, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// WriteBatch executes the statements as a single atomic transaction and
// returns only after on-ledger confirmation. The owner's registry must be
// resolvable; a batch that fails because the cached tables no longer exist
// is rejected with ErrRegistryStale and the cache entry is evicted.
func (c *Client) WriteBatch(ctx context.Context, owner string, stmts []Statement) (*Confirmation, error) {
	if _, err := schema.ReadRegistryFile(c.cacheDir, owner); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrTablesNotFound
		}
		return nil, err
	}

	conf, err := c.signer.SignAndSend(ctx, stmts)
	if err != nil {
		if isNoSuchTable(err) {
			_ = schema.RemoveRegistryFile(c.cacheDir, owner)
			return nil, fmt.Errorf("%w: %v", ErrRegistryStale, err)
		}
		return nil, fmt.Errorf("batch write failed: %w", err)
	}

	c.logger.Printf("Committed batch of %d statements for %s", conf.Statements, owner)
	return conf, nil
}

// isNoSuchTable reports whether an execution error means the target table
// does not exist on the ledger (the way a stale registry manifests).
func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// IsPermanent reports whether a batch error would fail identically on
// retry: constraint violations and malformed statements are deterministic,
// unlike connectivity failures. The driver surfaces these only as message
// text, the same way stale tables surface.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "datatype mismatch")
}
