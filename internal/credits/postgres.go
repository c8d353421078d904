package credits

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// PostgresLedger stores balances in the users table of the primary
// relational store, alongside user identity. The conditional UPDATE makes
// check-then-debit a single atomic statement, so no explicit row lock is
// needed.
type PostgresLedger struct {
	db *sqlx.DB
}

// NewPostgresLedger opens the ledger against a postgres connection string
func NewPostgresLedger(connStr string) (*PostgresLedger, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &PostgresLedger{db: db}, nil
}

// Close releases the underlying connection pool.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

// Balance returns the current balance
func (l *PostgresLedger) Balance(ctx context.Context, userID int64) (int, error) {
	var balance int
	err := l.db.GetContext(ctx, &balance, "SELECT credits FROM users WHERE id = $1", userID)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "select credits")
	}
	return balance, nil
}

// Check reports whether the balance covers cost
func (l *PostgresLedger) Check(ctx context.Context, userID int64, cost int) (bool, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= cost, nil
}

// Debit atomically decrements the balance when sufficient. The WHERE clause
// re-checks the balance inside the statement, so concurrent debits against
// the same account serialize on the row and at most floor(balance/cost) of
// them succeed.
func (l *PostgresLedger) Debit(ctx context.Context, userID int64, cost int) (bool, error) {
	result, err := l.db.ExecContext(ctx,
		"UPDATE users SET credits = credits - $1 WHERE id = $2 AND credits >= $1",
		cost, userID)
	if err != nil {
		return false, errors.Wrap(err, "debit credits")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "debit rows affected")
	}
	return affected == 1, nil
}

// Refund credits amount back to the balance
func (l *PostgresLedger) Refund(ctx context.Context, userID int64, amount int) error {
	result, err := l.db.ExecContext(ctx,
		"UPDATE users SET credits = credits + $1 WHERE id = $2",
		amount, userID)
	if err != nil {
		return errors.Wrap(err, "refund credits")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "refund rows affected")
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
