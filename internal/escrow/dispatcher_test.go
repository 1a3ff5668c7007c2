package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sudo-init-do/payhold/internal/processor"
)

func newTestDispatcher(proc *fakeProcessor) (*Dispatcher, *MemoryStore) {
	store := NewMemoryStore()
	machine := NewStateMachine(store, nil)
	d := NewDispatcher(store, machine, proc)
	d.baseBackoff = time.Millisecond
	return d, store
}

func TestReleaseHappyPath(t *testing.T) {
	proc := newFakeProcessor()
	d, store := newTestDispatcher(proc)
	ctx := context.Background()

	tx := newTestTx(StatusHeld)
	mustCreate(t, store, tx)

	payoutRef, err := d.Release(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if payoutRef == "" {
		t.Fatal("missing payout reference")
	}

	got, _ := store.Get(ctx, tx.ID)
	if got.Status != StatusReleased {
		t.Fatalf("expected released, got %s", got.Status)
	}
	if got.PayoutRef != payoutRef {
		t.Fatalf("payout ref not recorded: %q vs %q", got.PayoutRef, payoutRef)
	}
	if got.PlatformFee+got.PayeePayout != got.GrossAmount {
		t.Fatal("fee invariant broken at release")
	}
}

func TestConcurrentReleaseSinglePayout(t *testing.T) {
	proc := newFakeProcessor()
	d, store := newTestDispatcher(proc)
	ctx := context.Background()

	tx := newTestTx(StatusHeld)
	mustCreate(t, store, tx)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = d.Release(ctx, tx.ID)
		}(i)
	}
	wg.Wait()

	var winners, losers int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrConflict):
			losers++
		default:
			var ite *InvalidTransitionError
			if errors.As(err, &ite) {
				losers++
			} else {
				t.Fatalf("unexpected loser error: %v", err)
			}
		}
	}
	if winners != 1 || losers != 1 {
		t.Fatalf("expected exactly one winner and one loser, got %d/%d", winners, losers)
	}
	if proc.transferCount() != 1 {
		t.Fatalf("expected exactly one payout, got %d", proc.transferCount())
	}

	got, _ := store.Get(ctx, tx.ID)
	if got.Status != StatusReleased {
		t.Fatalf("expected released, got %s", got.Status)
	}
}

func TestReleaseRejectsDisputed(t *testing.T) {
	proc := newFakeProcessor()
	d, store := newTestDispatcher(proc)
	ctx := context.Background()

	tx := newTestTx(StatusDisputed)
	mustCreate(t, store, tx)

	_, err := d.Release(ctx, tx.ID)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	got, _ := store.Get(ctx, tx.ID)
	if got.Status != StatusDisputed {
		t.Fatalf("disputed transaction mutated: %s", got.Status)
	}
	if proc.transferCount() != 0 {
		t.Fatal("disputed release must not reach the processor")
	}
}

func TestReleaseFreezesOnReconciliationMismatch(t *testing.T) {
	proc := newFakeProcessor()
	d, store := newTestDispatcher(proc)
	ctx := context.Background()

	tx := newTestTx(StatusHeld)
	tx.PlatformFee = 600 // fee + payout no longer sums to gross
	mustCreate(t, store, tx)

	_, err := d.Release(ctx, tx.ID)
	var re *ReconciliationError
	if !errors.As(err, &re) {
		t.Fatalf("expected ReconciliationError, got %v", err)
	}

	got, _ := store.Get(ctx, tx.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected frozen to failed, got %s", got.Status)
	}
	if !got.ManualReview {
		t.Fatal("expected manual review flag")
	}
	if proc.transferCount() != 0 {
		t.Fatal("mismatched transaction must not be paid out")
	}
}

func TestReleaseRetriesTransientThenSucceeds(t *testing.T) {
	proc := newFakeProcessor()
	proc.transferErrs = []error{transientErr(), transientErr()}
	d, store := newTestDispatcher(proc)
	ctx := context.Background()

	tx := newTestTx(StatusHeld)
	mustCreate(t, store, tx)

	payoutRef, err := d.Release(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Release after transient failures: %v", err)
	}
	if payoutRef == "" {
		t.Fatal("missing payout reference")
	}
	if proc.transferCount() != 1 {
		t.Fatalf("expected one effective payout, got %d", proc.transferCount())
	}

	got, _ := store.Get(ctx, tx.ID)
	if got.Status != StatusReleased {
		t.Fatalf("expected released, got %s", got.Status)
	}
}

func TestReleaseSurfacesExhaustedTransientAndStaysHeld(t *testing.T) {
	proc := newFakeProcessor()
	proc.transferErrs = []error{transientErr(), transientErr(), transientErr()}
	d, store := newTestDispatcher(proc)
	ctx := context.Background()

	tx := newTestTx(StatusHeld)
	mustCreate(t, store, tx)

	_, err := d.Release(ctx, tx.ID)
	if !processor.IsTransient(err) {
		t.Fatalf("expected transient processor error, got %v", err)
	}

	// still held: a later retry with the same idempotency key is safe
	got, _ := store.Get(ctx, tx.ID)
	if got.Status != StatusHeld {
		t.Fatalf("expected held, got %s", got.Status)
	}

	payoutRef, err := d.Release(ctx, tx.ID)
	if err != nil {
		t.Fatalf("retry after transient exhaustion: %v", err)
	}
	if payoutRef == "" {
		t.Fatal("missing payout reference on retry")
	}
}

func TestReleasePermanentFailureGoesToFailedNotHeld(t *testing.T) {
	proc := newFakeProcessor()
	proc.transferErrs = []error{permanentErr()}
	d, store := newTestDispatcher(proc)
	ctx := context.Background()

	tx := newTestTx(StatusHeld)
	mustCreate(t, store, tx)

	_, err := d.Release(ctx, tx.ID)
	if err == nil || processor.IsTransient(err) {
		t.Fatalf("expected permanent processor error, got %v", err)
	}

	got, _ := store.Get(ctx, tx.ID)
	if got.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !got.ManualReview {
		t.Fatal("expected manual review flag for reconciliation")
	}

	// a second release attempt cannot double-pay
	_, err = d.Release(ctx, tx.ID)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError on retry, got %v", err)
	}
}

func TestRefundPaths(t *testing.T) {
	proc := newFakeProcessor()
	d, store := newTestDispatcher(proc)
	ctx := context.Background()

	pending := newTestTx(StatusPending)
	mustCreate(t, store, pending)
	status, err := d.Refund(ctx, pending.ID)
	if err != nil || status != StatusRefunded {
		t.Fatalf("pending refund: status=%s err=%v", status, err)
	}

	held := newTestTx(StatusHeld)
	mustCreate(t, store, held)
	status, err = d.Refund(ctx, held.ID)
	if err != nil || status != StatusRefunded {
		t.Fatalf("held refund: status=%s err=%v", status, err)
	}

	released := newTestTx(StatusReleased)
	mustCreate(t, store, released)
	_, err = d.Refund(ctx, released.ID)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError refunding released, got %v", err)
	}
}
