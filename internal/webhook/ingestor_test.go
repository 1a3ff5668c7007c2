package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sudo-init-do/payhold/internal/escrow"
)

const testSecret = "whsec_test"

// signPayload builds a Stripe-Signature header the verifier accepts.
func signPayload(payload []byte, ts time.Time) string {
	return signPayloadWith(testSecret, payload, ts)
}

func signPayloadWith(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(eventID, eventType, escrowID string, extra map[string]interface{}) []byte {
	object := map[string]interface{}{
		"id": "obj_" + eventID,
		"metadata": map[string]interface{}{
			"escrow_transaction_id": escrowID,
		},
	}
	for k, v := range extra {
		object[k] = v
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"id":   eventID,
		"type": eventType,
		"data": map[string]interface{}{"object": object},
	})
	return payload
}

func newTestIngestor() (*Ingestor, *MemoryDedupStore, *escrow.MemoryStore) {
	ledger := escrow.NewMemoryStore()
	machine := escrow.NewStateMachine(ledger, nil)
	dedup := NewMemoryDedupStore()
	ing := NewIngestorWithSecret(dedup, machine, testSecret, DefaultTolerance)
	return ing, dedup, ledger
}

func seedTransaction(t *testing.T, ledger *escrow.MemoryStore, status escrow.Status) *escrow.Transaction {
	t.Helper()
	tx := &escrow.Transaction{
		ID:           "tx-" + string(status),
		JobID:        "job-1",
		PaymentType:  "milestone",
		GrossAmount:  10000,
		Currency:     "usd",
		Status:       status,
		PlatformFee:  500,
		PayeePayout:  9500,
		PayeeAccount: "acct_1",
		Version:      1,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := ledger.Create(context.Background(), tx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return tx
}

func TestIngestRejectsBadSignature(t *testing.T) {
	ing, dedup, _ := newTestIngestor()
	payload := eventPayload("evt_1", "payment_intent.succeeded", "tx-x", nil)

	// fresh timestamp, tampered digest: the tolerance window passes and
	// signature verification is what rejects the delivery
	header := fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix())
	_, err := ing.Ingest(context.Background(), payload, header)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for tampered digest, got %v", err)
	}

	// well-formed signature under the wrong secret is rejected the same way
	header = signPayloadWith("whsec_other", payload, time.Now())
	_, err = ing.Ingest(context.Background(), payload, header)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for wrong secret, got %v", err)
	}

	// nothing recorded for rejected deliveries
	if orphans, _ := dedup.ListOrphaned(context.Background()); len(orphans) != 0 {
		t.Fatal("rejected event must not be recorded")
	}
}

func TestIngestRejectsStaleTimestamp(t *testing.T) {
	ing, _, _ := newTestIngestor()
	payload := eventPayload("evt_old", "payment_intent.succeeded", "tx-x", nil)
	header := signPayload(payload, time.Now().Add(-time.Hour))

	_, err := ing.Ingest(context.Background(), payload, header)
	if !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("expected ErrStaleEvent, got %v", err)
	}
}

func TestIngestPaymentSucceededHoldsFunds(t *testing.T) {
	ing, _, ledger := newTestIngestor()
	tx := seedTransaction(t, ledger, escrow.StatusPending)

	payload := eventPayload("evt_ok", "payment_intent.succeeded", tx.ID, nil)
	res, err := ing.Ingest(context.Background(), payload, signPayload(payload, time.Now()))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Outcome != OutcomeProcessed || res.Duplicate {
		t.Fatalf("unexpected result: %+v", res)
	}

	got, _ := ledger.Get(context.Background(), tx.ID)
	if got.Status != escrow.StatusHeld {
		t.Fatalf("expected held, got %s", got.Status)
	}
	if got.PaymentRef != "obj_evt_ok" {
		t.Fatalf("payment ref not recorded: %q", got.PaymentRef)
	}
}

func TestIngestReplayIsIdempotent(t *testing.T) {
	ing, _, ledger := newTestIngestor()
	tx := seedTransaction(t, ledger, escrow.StatusPending)

	payload := eventPayload("evt_dup", "payment_intent.succeeded", tx.ID, nil)
	if _, err := ing.Ingest(context.Background(), payload, signPayload(payload, time.Now())); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	afterFirst, _ := ledger.Get(context.Background(), tx.ID)

	// replay the identical delivery several times
	for i := 0; i < 3; i++ {
		res, err := ing.Ingest(context.Background(), payload, signPayload(payload, time.Now()))
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if !res.Duplicate {
			t.Fatalf("replay %d not detected as duplicate", i)
		}
	}

	got, _ := ledger.Get(context.Background(), tx.ID)
	if got.Status != afterFirst.Status || got.Version != afterFirst.Version {
		t.Fatalf("replays mutated the transaction: %+v vs %+v", got, afterFirst)
	}
}

func TestIngestUnrecognizedTypeIsAcknowledged(t *testing.T) {
	ing, _, _ := newTestIngestor()

	// subscription lifecycle events are outside this core
	payload := eventPayload("evt_sub", "invoice.payment_succeeded", "", nil)
	res, err := ing.Ingest(context.Background(), payload, signPayload(payload, time.Now()))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Outcome != OutcomeUnrecognized {
		t.Fatalf("expected unrecognized, got %s", res.Outcome)
	}

	// recorded, so a redelivery is still a no-op
	res, err = ing.Ingest(context.Background(), payload, signPayload(payload, time.Now()))
	if err != nil || !res.Duplicate {
		t.Fatalf("redelivery of unrecognized event: res=%+v err=%v", res, err)
	}
}

func TestIngestUnknownTransactionIsOrphaned(t *testing.T) {
	ing, dedup, _ := newTestIngestor()

	payload := eventPayload("evt_orphan", "payment_intent.succeeded", "no-such-tx", nil)
	res, err := ing.Ingest(context.Background(), payload, signPayload(payload, time.Now()))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Outcome != OutcomeOrphaned {
		t.Fatalf("expected orphaned, got %s", res.Outcome)
	}

	orphans, err := dedup.ListOrphaned(context.Background())
	if err != nil {
		t.Fatalf("ListOrphaned: %v", err)
	}
	if len(orphans) != 1 || orphans[0].EventID != "evt_orphan" {
		t.Fatalf("orphan not listed: %+v", orphans)
	}
}

func TestIngestMissingCorrelationIsOrphaned(t *testing.T) {
	ing, _, _ := newTestIngestor()

	payload := eventPayload("evt_nometa", "payment_intent.succeeded", "", nil)
	res, err := ing.Ingest(context.Background(), payload, signPayload(payload, time.Now()))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Outcome != OutcomeOrphaned {
		t.Fatalf("expected orphaned, got %s", res.Outcome)
	}
}

func TestIngestDisputeLifecycle(t *testing.T) {
	ing, _, ledger := newTestIngestor()
	tx := seedTransaction(t, ledger, escrow.StatusHeld)
	ctx := context.Background()

	payload := eventPayload("evt_disp1", "charge.dispute.created", tx.ID, nil)
	if _, err := ing.Ingest(ctx, payload, signPayload(payload, time.Now())); err != nil {
		t.Fatalf("dispute.created: %v", err)
	}
	got, _ := ledger.Get(ctx, tx.ID)
	if got.Status != escrow.StatusDisputed {
		t.Fatalf("expected disputed, got %s", got.Status)
	}

	payload = eventPayload("evt_disp2", "charge.dispute.closed", tx.ID, map[string]interface{}{"status": "lost"})
	if _, err := ing.Ingest(ctx, payload, signPayload(payload, time.Now())); err != nil {
		t.Fatalf("dispute.closed: %v", err)
	}
	got, _ = ledger.Get(ctx, tx.ID)
	if got.Status != escrow.StatusRefunded {
		t.Fatalf("expected refunded after lost dispute, got %s", got.Status)
	}
}

func TestIngestDisputeWonFlagsForOperatorPayout(t *testing.T) {
	ing, _, ledger := newTestIngestor()
	tx := seedTransaction(t, ledger, escrow.StatusDisputed)
	ctx := context.Background()

	payload := eventPayload("evt_won", "charge.dispute.closed", tx.ID, map[string]interface{}{"status": "won"})
	if _, err := ing.Ingest(ctx, payload, signPayload(payload, time.Now())); err != nil {
		t.Fatalf("dispute.closed: %v", err)
	}

	got, _ := ledger.Get(ctx, tx.ID)
	if got.Status != escrow.StatusReleased {
		t.Fatalf("expected released, got %s", got.Status)
	}
	if !got.ManualReview {
		t.Fatal("dispute-won release must be flagged for operator payout")
	}
}

func TestIngestOutOfOrderEventIsAcknowledged(t *testing.T) {
	ing, _, ledger := newTestIngestor()
	tx := seedTransaction(t, ledger, escrow.StatusRefunded)

	// late success delivery for an already-refunded transaction
	payload := eventPayload("evt_late", "payment_intent.succeeded", tx.ID, nil)
	res, err := ing.Ingest(context.Background(), payload, signPayload(payload, time.Now()))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("expected acknowledged, got %s", res.Outcome)
	}

	got, _ := ledger.Get(context.Background(), tx.ID)
	if got.Status != escrow.StatusRefunded {
		t.Fatalf("late event mutated terminal state: %s", got.Status)
	}
}

func TestRouteVariantRejectsUnmapped(t *testing.T) {
	_, _, err := routeVariant(&ParsedEvent{Variant: Variant("checkout-expired")})
	if err == nil {
		t.Fatal("expected error for a variant with no mapped transition")
	}
}

// flakyLedger fails a bounded number of UpdateStatus calls to simulate
// a database outage between dedup insert and transition.
type flakyLedger struct {
	escrow.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyLedger) UpdateStatus(ctx context.Context, id string, expectedVersion int64, status escrow.Status, set escrow.Updates) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("db unavailable")
	}
	s.mu.Unlock()
	return s.Store.UpdateStatus(ctx, id, expectedVersion, status, set)
}

func TestIngestTransientFailureRollsBackDedup(t *testing.T) {
	ledger := escrow.NewMemoryStore()
	flaky := &flakyLedger{Store: ledger, failures: 1}
	machine := escrow.NewStateMachine(flaky, nil)
	dedup := NewMemoryDedupStore()
	ing := NewIngestorWithSecret(dedup, machine, testSecret, DefaultTolerance)
	ctx := context.Background()

	tx := seedTransaction(t, ledger, escrow.StatusPending)
	payload := eventPayload("evt_flaky", "payment_intent.succeeded", tx.ID, nil)

	if _, err := ing.Ingest(ctx, payload, signPayload(payload, time.Now())); err == nil {
		t.Fatal("expected transient failure to surface")
	}

	// the redelivery must be processed, not treated as duplicate
	res, err := ing.Ingest(ctx, payload, signPayload(payload, time.Now()))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Duplicate {
		t.Fatal("redelivery after rollback treated as duplicate")
	}

	got, _ := ledger.Get(ctx, tx.ID)
	if got.Status != escrow.StatusHeld {
		t.Fatalf("expected held after redelivery, got %s", got.Status)
	}
}
