package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v72/webhook"

	"github.com/sudo-init-do/payhold/internal/escrow"
)

var (
	// ErrBadSignature means the payload failed signature verification
	// and is rejected outright.
	ErrBadSignature = errors.New("webhook signature verification failed")

	// ErrStaleEvent means the signed timestamp fell outside the
	// anti-replay window.
	ErrStaleEvent = errors.New("webhook timestamp outside tolerance window")
)

// DefaultTolerance bounds how old a signed event may be.
const DefaultTolerance = 5 * time.Minute

// Result is the acknowledgment returned to the webhook endpoint.
type Result struct {
	EventID   string `json:"event_id"`
	Outcome   string `json:"outcome"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Ingestor verifies, deduplicates and parses inbound processor events,
// then drives ledger transitions. The dedup insert is the only
// concurrency-safety boundary for event-level duplication.
type Ingestor struct {
	dedup     DedupStore
	machine   *escrow.StateMachine
	secret    string
	tolerance time.Duration
}

func NewIngestor(dedup DedupStore, machine *escrow.StateMachine) *Ingestor {
	tolerance := DefaultTolerance
	if v := os.Getenv("WEBHOOK_TOLERANCE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			tolerance = time.Duration(n) * time.Second
		}
	}
	return &Ingestor{
		dedup:     dedup,
		machine:   machine,
		secret:    os.Getenv("STRIPE_WEBHOOK_SECRET"),
		tolerance: tolerance,
	}
}

// NewIngestorWithSecret is used by tests and callers that do not read
// configuration from the environment.
func NewIngestorWithSecret(dedup DedupStore, machine *escrow.StateMachine, secret string, tolerance time.Duration) *Ingestor {
	return &Ingestor{dedup: dedup, machine: machine, secret: secret, tolerance: tolerance}
}

// Ingest processes one delivery. A duplicate or unrecognized event is
// acknowledged without touching the state machine; a transient failure
// downstream rolls the dedup record back and returns an error so the
// processor redelivers.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte, sigHeader string) (*Result, error) {
	ev, err := stripewebhook.ConstructEventWithTolerance(payload, sigHeader, i.secret, i.tolerance)
	if err != nil {
		if errors.Is(err, stripewebhook.ErrTooOld) {
			return nil, ErrStaleEvent
		}
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	rec := &ProcessedEvent{
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		Checksum:   checksum(payload),
		Outcome:    OutcomeProcessed,
		ReceivedAt: time.Now().UTC(),
	}
	if err := i.dedup.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			// no-op acknowledgment: a retry delivery never reaches the
			// state machine twice
			return &Result{EventID: ev.ID, Outcome: OutcomeProcessed, Duplicate: true}, nil
		}
		return nil, err
	}

	parsed, err := parseEvent(&ev)
	if err != nil {
		_ = i.dedup.MarkOutcome(ctx, ev.ID, OutcomeUnrecognized)
		log.Printf("[webhook] unrecognized event %s (%s), acknowledged", ev.ID, ev.Type)
		return &Result{EventID: ev.ID, Outcome: OutcomeUnrecognized}, nil
	}

	if parsed.EscrowID == "" {
		_ = i.dedup.MarkOutcome(ctx, parsed.EventID, OutcomeOrphaned)
		log.Printf("[webhook] event %s carries no escrow correlation metadata, orphaned", parsed.EventID)
		return &Result{EventID: parsed.EventID, Outcome: OutcomeOrphaned}, nil
	}

	machineEvent, updates, err := routeVariant(parsed)
	if err != nil {
		_ = i.dedup.MarkOutcome(ctx, parsed.EventID, OutcomeUnrecognized)
		log.Printf("[webhook] event %s: %v, acknowledged", parsed.EventID, err)
		return &Result{EventID: parsed.EventID, Outcome: OutcomeUnrecognized}, nil
	}
	if _, err := i.machine.Apply(ctx, parsed.EscrowID, machineEvent, updates); err != nil {
		var ite *escrow.InvalidTransitionError
		switch {
		case errors.Is(err, escrow.ErrNotFound):
			// permanent: unknown transaction, keep for manual inspection
			_ = i.dedup.MarkOutcome(ctx, parsed.EventID, OutcomeOrphaned)
			log.Printf("[webhook] event %s references unknown transaction %s, orphaned", parsed.EventID, parsed.EscrowID)
			return &Result{EventID: parsed.EventID, Outcome: OutcomeOrphaned}, nil
		case errors.As(err, &ite):
			// out-of-order or already-settled delivery; the graph guard
			// held, acknowledge so the processor stops redelivering
			log.Printf("[webhook] event %s not applicable to %s: %v", parsed.EventID, parsed.EscrowID, ite)
			return &Result{EventID: parsed.EventID, Outcome: OutcomeProcessed}, nil
		default:
			// transient: roll the dedup record back so a redelivery is
			// processed rather than treated as duplicate
			if derr := i.dedup.Delete(ctx, parsed.EventID); derr != nil {
				log.Printf("[webhook] dedup rollback failed for %s: %v", parsed.EventID, derr)
			}
			return nil, err
		}
	}

	return &Result{EventID: parsed.EventID, Outcome: OutcomeProcessed}, nil
}

// routeVariant maps a parsed variant onto the state machine edge it
// drives. A variant with no mapped edge is an error, not a fallback:
// adding a variant to parseEvent requires adding its edge here.
func routeVariant(p *ParsedEvent) (escrow.Event, escrow.Updates, error) {
	switch p.Variant {
	case VariantPaymentSucceeded:
		return escrow.EventPaymentSucceeded, escrow.Updates{PaymentRef: p.PaymentRef}, nil
	case VariantPaymentFailed:
		return escrow.EventPaymentFailed, escrow.Updates{}, nil
	case VariantTransferFailed:
		return escrow.EventProcessorFailure, escrow.Updates{ManualReview: true}, nil
	case VariantDisputeOpened:
		return escrow.EventDisputeOpened, escrow.Updates{}, nil
	case VariantDisputeResolved:
		if p.Resolution == "won" {
			// the payout transfer was never dispatched for a disputed
			// transaction, so flag it for operator-driven payout
			return escrow.EventDisputeReleased, escrow.Updates{ManualReview: true}, nil
		}
		return escrow.EventDisputeRefunded, escrow.Updates{}, nil
	}
	return "", escrow.Updates{}, fmt.Errorf("no transition mapped for variant %q", p.Variant)
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
