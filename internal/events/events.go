// Package events carries the outbound domain events emitted on every
// escrow state transition. Notification and audit collaborators
// subscribe to these; nothing in the money path depends on a consumer
// being present.
package events

import (
	"context"
	"time"
)

// Topic is the watermill topic all escrow events are published on.
const Topic = "escrow.events"

// Event names follow the escrow.<state> convention.
const (
	EscrowPending  = "escrow.pending"
	EscrowHeld     = "escrow.held"
	EscrowReleased = "escrow.released"
	EscrowRefunded = "escrow.refunded"
	EscrowDisputed = "escrow.disputed"
	EscrowFailed   = "escrow.failed"
)

// EscrowEvent is the payload published on each transition.
type EscrowEvent struct {
	Name          string    `json:"name"`
	TransactionID string    `json:"transaction_id"`
	JobID         string    `json:"job_id"`
	PaymentType   string    `json:"payment_type"`
	GrossAmount   int64     `json:"gross_amount"`
	PlatformFee   int64     `json:"platform_fee"`
	PayeePayout   int64     `json:"payee_payout"`
	Currency      string    `json:"currency"`
	NewStatus     string    `json:"new_status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Publisher is the outbound port for domain events.
type Publisher interface {
	Publish(ctx context.Context, ev EscrowEvent) error
}

// NopPublisher discards events; used where no consumer is wired.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, EscrowEvent) error { return nil }
