// Package processor wraps the external payment service that custodies
// funds, hosts checkout, and executes payout transfers to connected
// accounts. Callers receive typed errors that distinguish retryable
// failures from permanent ones so retry decisions stay explicit.
package processor

import (
	"context"
	"errors"
	"fmt"
)

// CheckoutParams describes a processor-side payment session for one
// escrow transaction. The escrow id rides along as correlation metadata
// so asynchronous events can be routed back to the ledger.
type CheckoutParams struct {
	EscrowID    string
	JobID       string
	PaymentType string
	Amount      int64
	Currency    string
}

// CheckoutSession is the processor's reference for a created session.
type CheckoutSession struct {
	SessionID   string
	CheckoutURL string
}

// TransferParams describes a payout transfer to a connected account.
// IdempotencyKey must be stable across retries of the same payout.
type TransferParams struct {
	EscrowID       string
	Amount         int64
	Currency       string
	Destination    string
	IdempotencyKey string
}

// Transfer is the processor's reference for a dispatched payout.
type Transfer struct {
	TransferID string
}

// Client is the injected processor dependency of the orchestrator and
// the payout dispatcher.
type Client interface {
	CreateCheckout(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	CreateTransfer(ctx context.Context, p TransferParams) (*Transfer, error)
}

// Error wraps a processor call failure. Transient errors are safe to
// retry with the same idempotency key; permanent ones are not.
type Error struct {
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("processor %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable processor failure.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
