package credits

import (
	"context"
	"fmt"
)

// ledger errors
var (
	// ErrAccountNotFound is returned when the user id has no account row.
	ErrAccountNotFound = fmt.Errorf("credits account not found")
)

// Ledger guards billable operations with a per-user balance. Debit applies
// the check and the decrement as one atomic unit against the backing store:
// two concurrent debits must not both succeed when only one cost's worth of
// balance remains. The repo's policy is charge-on-submit; Refund exists so
// refund-on-failure can be an explicit configuration choice rather than a
// silent inheritance.
type Ledger interface {
	// Balance returns the current balance.
	Balance(ctx context.Context, userID int64) (int, error)

	// Check reports whether the balance covers cost. Read-only; the answer
	// can be stale by debit time.
	Check(ctx context.Context, userID int64, cost int) (bool, error)

	// Debit atomically decrements the balance by cost. Returns false and
	// makes no change when the balance is insufficient at debit time.
	Debit(ctx context.Context, userID int64, cost int) (bool, error)

	// Refund credits amount back to the balance.
	Refund(ctx context.Context, userID int64, amount int) error
}
