package webhook

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateEvent means the processor event id was already recorded.
// Not a failure: the ingestor acknowledges and does nothing.
var ErrDuplicateEvent = errors.New("event already processed")

// Processing outcomes recorded on each event.
const (
	OutcomeProcessed    = "processed"
	OutcomeOrphaned     = "orphaned"
	OutcomeUnrecognized = "unrecognized"
)

// ProcessedEvent is one row of the dedup store, owned exclusively by
// the webhook ingestor.
type ProcessedEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Checksum   string    `json:"checksum"`
	Outcome    string    `json:"processing_status"`
	ReceivedAt time.Time `json:"received_at"`
}

// DedupStore provides the at-most-once boundary for inbound events.
// Insert must be atomic (unique-constraint backed); Delete rolls a
// record back so a redelivery after a transient failure is processed.
type DedupStore interface {
	Insert(ctx context.Context, rec *ProcessedEvent) error
	MarkOutcome(ctx context.Context, eventID, outcome string) error
	Delete(ctx context.Context, eventID string) error
	ListOrphaned(ctx context.Context) ([]*ProcessedEvent, error)
}

// PgDedupStore is the Postgres-backed dedup store.
type PgDedupStore struct {
	pool *pgxpool.Pool
}

func NewPgDedupStore(pool *pgxpool.Pool) *PgDedupStore {
	return &PgDedupStore{pool: pool}
}

func (s *PgDedupStore) Insert(ctx context.Context, rec *ProcessedEvent) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO processed_events (event_id, event_type, checksum, processing_status, received_at)
        VALUES ($1, $2, $3, $4, $5)`,
		rec.EventID, rec.EventType, rec.Checksum, rec.Outcome, rec.ReceivedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

func (s *PgDedupStore) MarkOutcome(ctx context.Context, eventID, outcome string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE processed_events SET processing_status = $2 WHERE event_id = $1`, eventID, outcome)
	return err
}

func (s *PgDedupStore) Delete(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE event_id = $1`, eventID)
	return err
}

func (s *PgDedupStore) ListOrphaned(ctx context.Context) ([]*ProcessedEvent, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT event_id, event_type, checksum, processing_status, received_at
        FROM processed_events WHERE processing_status = 'orphaned'
        ORDER BY received_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ProcessedEvent
	for rows.Next() {
		rec := new(ProcessedEvent)
		if err := rows.Scan(&rec.EventID, &rec.EventType, &rec.Checksum, &rec.Outcome, &rec.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MemoryDedupStore mirrors PgDedupStore semantics for tests and local
// runs without Postgres.
type MemoryDedupStore struct {
	mu   sync.Mutex
	rows map[string]*ProcessedEvent
}

func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{rows: make(map[string]*ProcessedEvent)}
}

func (s *MemoryDedupStore) Insert(_ context.Context, rec *ProcessedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[rec.EventID]; ok {
		return ErrDuplicateEvent
	}
	cp := *rec
	s.rows[rec.EventID] = &cp
	return nil
}

func (s *MemoryDedupStore) MarkOutcome(_ context.Context, eventID, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.rows[eventID]; ok {
		rec.Outcome = outcome
	}
	return nil
}

func (s *MemoryDedupStore) Delete(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, eventID)
	return nil
}

func (s *MemoryDedupStore) ListOrphaned(_ context.Context) ([]*ProcessedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ProcessedEvent
	for _, rec := range s.rows {
		if rec.Outcome == OutcomeOrphaned {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out, nil
}
