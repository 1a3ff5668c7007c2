package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/payhold/internal/events"
	"github.com/sudo-init-do/payhold/internal/fees"
	"github.com/sudo-init-do/payhold/internal/processor"
)

// capturePublisher records published domain events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.EscrowEvent
}

func (p *capturePublisher) Publish(_ context.Context, ev events.EscrowEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Name
	}
	return out
}

// fakeProcessor implements processor.Client with idempotency-key
// deduplication, mirroring the processor-side guarantee the dispatcher
// relies on. Errors can be queued per call.
type fakeProcessor struct {
	mu        sync.Mutex
	transfers map[string]*processor.Transfer
	checkouts int
	transferN int

	checkoutErr  error
	transferErrs []error // consumed one per CreateTransfer call
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{transfers: make(map[string]*processor.Transfer)}
}

func (f *fakeProcessor) CreateCheckout(_ context.Context, p processor.CheckoutParams) (*processor.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	f.checkouts++
	return &processor.CheckoutSession{
		SessionID:   "cs_" + p.EscrowID,
		CheckoutURL: "https://checkout.test/" + p.EscrowID,
	}, nil
}

func (f *fakeProcessor) CreateTransfer(_ context.Context, p processor.TransferParams) (*processor.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transferErrs) > 0 {
		err := f.transferErrs[0]
		f.transferErrs = f.transferErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if tr, ok := f.transfers[p.IdempotencyKey]; ok {
		return tr, nil
	}
	f.transferN++
	tr := &processor.Transfer{TransferID: "tr_" + p.EscrowID}
	f.transfers[p.IdempotencyKey] = tr
	return tr, nil
}

func (f *fakeProcessor) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transferN
}

func transientErr() error {
	return &processor.Error{Op: "create_transfer", Transient: true, Err: errors.New("connection reset")}
}

func permanentErr() error {
	return &processor.Error{Op: "create_transfer", Transient: false, Err: errors.New("account cannot receive transfers")}
}

func newTestTx(status Status) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:           uuid.New().String(),
		JobID:        "job-" + uuid.New().String()[:8],
		PaymentType:  fees.PaymentMilestone,
		GrossAmount:  10000,
		Currency:     "usd",
		Status:       status,
		PlatformFee:  500,
		PayeePayout:  9500,
		PayeeAccount: "acct_test",
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func mustCreate(t *testing.T, store Store, tx *Transaction) {
	t.Helper()
	if err := store.Create(context.Background(), tx); err != nil {
		t.Fatalf("Create: %v", err)
	}
}
