package webhook

import (
	"errors"
	"fmt"

	stripe "github.com/stripe/stripe-go/v72"
)

// ErrUnrecognizedEvent means the event type is outside the closed set
// this core acts on. The event is still acknowledged so the processor
// stops redelivering; subscription and invoice lifecycle events land
// here by design.
var ErrUnrecognizedEvent = errors.New("unrecognized event type")

// Variant is the closed set of processor events the ingestor acts on.
type Variant string

const (
	VariantPaymentSucceeded Variant = "payment-succeeded"
	VariantPaymentFailed    Variant = "payment-failed"
	VariantTransferFailed   Variant = "transfer-failed"
	VariantDisputeOpened    Variant = "dispute-opened"
	VariantDisputeResolved  Variant = "dispute-resolved"
)

// ParsedEvent is a verified event reduced to what the state machine
// needs: the variant, the correlation id planted at checkout creation,
// and the processor object reference.
type ParsedEvent struct {
	EventID    string
	Variant    Variant
	EscrowID   string
	PaymentRef string
	// Resolution is set for dispute-resolved: "won" keeps the funds
	// releasable, anything else refunds the payer.
	Resolution string
}

// parseEvent maps a decoded processor event into the closed variant
// set. Dynamic payload shapes stop here: anything unrecognized becomes
// an explicit error instead of silently proceeding.
func parseEvent(ev *stripe.Event) (*ParsedEvent, error) {
	var variant Variant
	switch ev.Type {
	case "payment_intent.succeeded":
		variant = VariantPaymentSucceeded
	case "payment_intent.payment_failed":
		variant = VariantPaymentFailed
	case "transfer.failed":
		variant = VariantTransferFailed
	case "charge.dispute.created":
		variant = VariantDisputeOpened
	case "charge.dispute.closed":
		variant = VariantDisputeResolved
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedEvent, ev.Type)
	}

	parsed := &ParsedEvent{EventID: ev.ID, Variant: variant}

	var obj map[string]interface{}
	if ev.Data != nil {
		obj = ev.Data.Object
	}
	if ref, ok := obj["id"].(string); ok {
		parsed.PaymentRef = ref
	}
	if meta, ok := obj["metadata"].(map[string]interface{}); ok {
		if id, ok := meta["escrow_transaction_id"].(string); ok {
			parsed.EscrowID = id
		}
	}
	if variant == VariantDisputeResolved {
		if status, ok := obj["status"].(string); ok {
			parsed.Resolution = status
		}
	}

	return parsed, nil
}
