package escrow

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sudo-init-do/payhold/internal/events"
)

// Event is a cause that may move a transaction along the state graph.
type Event string

const (
	EventPaymentSucceeded Event = "payment_succeeded"
	EventPaymentFailed    Event = "payment_failed"
	EventRelease          Event = "release"
	EventRefund           Event = "refund"
	EventDisputeOpened    Event = "dispute_opened"
	EventDisputeReleased  Event = "dispute_resolved_release"
	EventDisputeRefunded  Event = "dispute_resolved_refund"
	EventProcessorFailure Event = "processor_failure"
)

// transitions is the complete allowed graph. Anything absent here fails
// with InvalidTransitionError and leaves the transaction unchanged.
var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventPaymentSucceeded: StatusHeld,
		EventPaymentFailed:    StatusFailed,
		EventRefund:           StatusRefunded,
		EventProcessorFailure: StatusFailed,
	},
	StatusHeld: {
		EventRelease:          StatusReleased,
		EventRefund:           StatusRefunded,
		EventDisputeOpened:    StatusDisputed,
		EventProcessorFailure: StatusFailed,
	},
	StatusDisputed: {
		EventDisputeReleased:  StatusReleased,
		EventDisputeRefunded:  StatusRefunded,
		EventProcessorFailure: StatusFailed,
	},
}

// maxConflictRetries bounds optimistic retries inside Apply before
// ErrConflict is surfaced to the caller.
const maxConflictRetries = 3

// StateMachine enforces valid status transitions on the ledger and
// publishes a domain event for every applied transition.
type StateMachine struct {
	store Store
	pub   events.Publisher
}

func NewStateMachine(store Store, pub events.Publisher) *StateMachine {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &StateMachine{store: store, pub: pub}
}

// Transition applies event to the transaction if the edge exists and
// the stored version still equals expectedVersion. Two concurrent
// attempts on the same row cannot both succeed; the loser gets
// ErrConflict.
func (m *StateMachine) Transition(ctx context.Context, id string, event Event, expectedVersion int64, set Updates) (Status, error) {
	tx, err := m.store.Get(ctx, id)
	if err != nil {
		return "", err
	}

	next, ok := transitions[tx.Status][event]
	if !ok {
		return "", &InvalidTransitionError{From: tx.Status, Event: event}
	}

	if err := m.store.UpdateStatus(ctx, id, expectedVersion, next, set); err != nil {
		return "", err
	}

	m.publish(ctx, tx, next)
	return next, nil
}

// Apply is the load-and-transition convenience used by callers that do
// not carry a version of their own (webhook ingestion, refund
// requests). Conflicts are retried a bounded number of times.
func (m *StateMachine) Apply(ctx context.Context, id string, event Event, set Updates) (Status, error) {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		tx, err := m.store.Get(ctx, id)
		if err != nil {
			return "", err
		}
		next, err := m.Transition(ctx, id, event, tx.Version, set)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (m *StateMachine) publish(ctx context.Context, tx *Transaction, next Status) {
	ev := events.EscrowEvent{
		Name:          eventNameFor(next),
		TransactionID: tx.ID,
		JobID:         tx.JobID,
		PaymentType:   string(tx.PaymentType),
		GrossAmount:   tx.GrossAmount,
		PlatformFee:   tx.PlatformFee,
		PayeePayout:   tx.PayeePayout,
		Currency:      tx.Currency,
		NewStatus:     string(next),
		OccurredAt:    time.Now().UTC(),
	}
	// best-effort: a lost event never blocks or reverts the money path
	if err := m.pub.Publish(ctx, ev); err != nil {
		log.Printf("[escrow] failed to publish %s for %s: %v", ev.Name, tx.ID, err)
	}
}

func eventNameFor(s Status) string {
	switch s {
	case StatusHeld:
		return events.EscrowHeld
	case StatusReleased:
		return events.EscrowReleased
	case StatusRefunded:
		return events.EscrowRefunded
	case StatusDisputed:
		return events.EscrowDisputed
	case StatusFailed:
		return events.EscrowFailed
	}
	return events.EscrowPending
}
