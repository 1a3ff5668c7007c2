package escrow

import (
	"context"
	"log"
	"time"

	"github.com/sudo-init-do/payhold/internal/processor"
)

// Dispatcher issues payout transfers when held funds are released.
type Dispatcher struct {
	store       Store
	machine     *StateMachine
	proc        processor.Client
	maxAttempts int
	baseBackoff time.Duration
}

func NewDispatcher(store Store, machine *StateMachine, proc processor.Client) *Dispatcher {
	return &Dispatcher{
		store:       store,
		machine:     machine,
		proc:        proc,
		maxAttempts: 3,
		baseBackoff: 500 * time.Millisecond,
	}
}

// Release pays out a held transaction to the payee's connected account
// and returns the processor transfer reference.
//
// The stored fee split is re-verified first; a mismatch freezes the
// transaction for manual review instead of paying out an unverified
// amount. The transfer uses an idempotency key derived from the
// transaction id, so concurrent or retried calls cannot produce two
// transfers, and the held->released transition is version-checked, so
// the loser of a race gets ErrConflict. A transaction whose transfer
// fails permanently goes to failed and never silently back to held.
func (d *Dispatcher) Release(ctx context.Context, id string) (string, error) {
	tx, err := d.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if tx.Status != StatusHeld {
		return "", &InvalidTransitionError{From: tx.Status, Event: EventRelease}
	}

	if tx.PlatformFee+tx.PayeePayout != tx.GrossAmount {
		if _, terr := d.machine.Transition(ctx, id, EventProcessorFailure, tx.Version, Updates{ManualReview: true}); terr != nil {
			log.Printf("[escrow] could not freeze mismatched transaction %s: %v", id, terr)
		}
		return "", &ReconciliationError{
			TransactionID: id,
			GrossAmount:   tx.GrossAmount,
			PlatformFee:   tx.PlatformFee,
			PayeePayout:   tx.PayeePayout,
		}
	}

	transfer, err := d.dispatchTransfer(ctx, tx)
	if err != nil {
		if !processor.IsTransient(err) {
			if _, terr := d.machine.Transition(ctx, id, EventProcessorFailure, tx.Version, Updates{ManualReview: true}); terr != nil {
				log.Printf("[escrow] could not fail transaction %s after permanent transfer error: %v", id, terr)
			}
		}
		return "", err
	}

	if _, err := d.machine.Transition(ctx, id, EventRelease, tx.Version, Updates{PayoutRef: transfer.TransferID}); err != nil {
		// Transfer already dispatched under the stable key; a conflict
		// here means another caller won the race and recorded it.
		return "", err
	}

	return transfer.TransferID, nil
}

// dispatchTransfer retries transient processor failures with bounded
// exponential backoff, reusing the same idempotency key each time.
func (d *Dispatcher) dispatchTransfer(ctx context.Context, tx *Transaction) (*processor.Transfer, error) {
	params := processor.TransferParams{
		EscrowID:       tx.ID,
		Amount:         tx.PayeePayout,
		Currency:       tx.Currency,
		Destination:    tx.PayeeAccount,
		IdempotencyKey: "payout-" + tx.ID,
	}

	var lastErr error
	backoff := d.baseBackoff
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		transfer, err := d.proc.CreateTransfer(ctx, params)
		if err == nil {
			return transfer, nil
		}
		lastErr = err
		if !processor.IsTransient(err) {
			return nil, err
		}
		log.Printf("[escrow] transient transfer failure on %s (attempt %d): %v", tx.ID, attempt+1, err)
	}
	return nil, lastErr
}

// Refund moves a pending or held transaction to refunded on an
// authorized request. The processor-side refund settles asynchronously
// through the webhook stream.
func (d *Dispatcher) Refund(ctx context.Context, id string) (Status, error) {
	return d.machine.Apply(ctx, id, EventRefund, Updates{})
}
