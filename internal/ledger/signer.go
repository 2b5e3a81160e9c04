package ledger

import (
	"context"
	"database/sql"
	"time"
)

// Statement is one parameterized SQL statement destined for the ledger.
type Statement struct {
	SQL  string
	Args []interface{}
}

// Confirmation reports an on-ledger commit. It is returned only after the
// transaction is durable on the ledger, never on mere submission.
type Confirmation struct {
	Statements   int
	RowsAffected int64
	ConfirmedAt  time.Time
}

// Signer is the cryptographic signing capability supplied by the caller.
// The ledger client uses it opaquely: Address names the owner identity and
// SignAndSend executes a list of statements as one signed atomic unit.
type Signer interface {
	// Address returns the owner identity this signer acts for.
	Address() string

	// SignAndSend executes the statements as a single atomic transaction
	// and blocks until the ledger confirms the commit. Either every
	// statement is applied or none is.
	SignAndSend(ctx context.Context, stmts []Statement) (*Confirmation, error)
}

// Querier runs read-only queries against the ledger. Reads do not require
// a signing action.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
