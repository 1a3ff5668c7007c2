package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no escrow transaction exists for the given id.
	ErrNotFound = errors.New("escrow transaction not found")

	// ErrDuplicateActive means a pending or held transaction already
	// exists for the same (job, payment type) pair.
	ErrDuplicateActive = errors.New("an active escrow transaction already exists for this job and payment type")

	// ErrConflict means an optimistic version check failed. The caller
	// should reload the transaction and retry.
	ErrConflict = errors.New("concurrent update detected, reload and retry")
)

// InvalidTransitionError reports an attempted edge that is not in the
// state graph. The transaction is left unchanged.
type InvalidTransitionError struct {
	From  Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot apply %s to a transaction in state %s", e.Event, e.From)
}

// ReconciliationError means the frozen fee split no longer sums to the
// gross amount. The transaction is frozen for manual review instead of
// paying out an unverified amount.
type ReconciliationError struct {
	TransactionID string
	GrossAmount   int64
	PlatformFee   int64
	PayeePayout   int64
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf(
		"reconciliation mismatch on %s: fee %d + payout %d != gross %d",
		e.TransactionID, e.PlatformFee, e.PayeePayout, e.GrossAmount,
	)
}
