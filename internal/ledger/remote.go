package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// Remote is the production ledger transport: a libSQL connection to the
// replicated database, authenticated with a token derived from the user's
// signing key. It implements both Signer and Querier.
type Remote struct {
	conn    *sql.DB
	address string
}

// Dial opens a connection to the remote ledger.
//
// rawURL is a libsql:// (or https://) database URL; authToken is the signed
// access token; address is the owner identity the token was issued for.
//
// The caller MUST call Close() when done.
func Dial(rawURL, authToken, address string) (*Remote, error) {
	if address == "" {
		return nil, fmt.Errorf("owner address is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger URL: %w", err)
	}
	if authToken != "" {
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
	}

	conn, err := sql.Open("libsql", u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger connection: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to reach ledger: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetConnMaxIdleTime(time.Minute)

	return &Remote{conn: conn, address: address}, nil
}

// Close releases the connection.
func (r *Remote) Close() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// Address implements Signer.
func (r *Remote) Address() string {
	return r.address
}

// SignAndSend implements Signer. The statements run inside one transaction;
// the returned confirmation reflects the committed state.
func (r *Remote) SignAndSend(ctx context.Context, stmts []Statement) (*Confirmation, error) {
	if len(stmts) == 0 {
		return &Confirmation{ConfirmedAt: time.Now().UTC()}, nil
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var affected int64
	for i, stmt := range stmts {
		res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, fmt.Errorf("ledger statement %d failed: %w", i, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}

	// Commit returning is the on-ledger confirmation; nothing is reported
	// as synced before this point.
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit ledger transaction: %w", err)
	}

	return &Confirmation{
		Statements:   len(stmts),
		RowsAffected: affected,
		ConfirmedAt:  time.Now().UTC(),
	}, nil
}

// QueryContext implements Querier.
func (r *Remote) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return r.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext implements Querier.
func (r *Remote) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return r.conn.QueryRowContext(ctx, query, args...)
}
