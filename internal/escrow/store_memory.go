package escrow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory ledger with the same
// semantics as PgStore, including the unique-active constraint and
// optimistic versioning. Used by tests and local runs without Postgres.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Transaction)}
}

func (s *MemoryStore) Create(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.rows {
		if existing.JobID == tx.JobID && existing.PaymentType == tx.PaymentType &&
			(existing.Status == StatusPending || existing.Status == StatusHeld) {
			return ErrDuplicateActive
		}
	}

	cp := *tx
	s.rows[tx.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) ListByJob(_ context.Context, jobID string) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Transaction
	for _, tx := range s.rows {
		if tx.JobID == jobID {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListFlagged(_ context.Context) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Transaction
	for _, tx := range s.rows {
		if tx.ManualReview {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, expectedVersion int64, status Status, set Updates) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if tx.Version != expectedVersion {
		return ErrConflict
	}

	tx.Status = status
	tx.Version++
	if set.PaymentRef != "" {
		tx.PaymentRef = set.PaymentRef
	}
	if set.PayoutRef != "" {
		tx.PayoutRef = set.PayoutRef
	}
	if set.ManualReview {
		tx.ManualReview = true
	}
	tx.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetPaymentRef(_ context.Context, id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	tx.PaymentRef = ref
	tx.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) ([]StatusAgg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byStatus := make(map[Status]*StatusAgg)
	for _, tx := range s.rows {
		agg, ok := byStatus[tx.Status]
		if !ok {
			agg = &StatusAgg{Status: tx.Status}
			byStatus[tx.Status] = agg
		}
		agg.Count++
		agg.Volume += tx.GrossAmount
	}

	out := make([]StatusAgg, 0, len(byStatus))
	for _, agg := range byStatus {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}
