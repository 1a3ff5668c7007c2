package escrow

import "context"

// Updates carries optional fields written together with a status
// change. Zero values leave the stored field untouched.
type Updates struct {
	PaymentRef   string
	PayoutRef    string
	ManualReview bool
}

// Store is the durable ledger of escrow transactions.
type Store interface {
	// Create persists a new transaction in pending. Returns
	// ErrDuplicateActive when an active row already exists for the
	// same (job, payment type) pair.
	Create(ctx context.Context, tx *Transaction) error

	// Get returns one transaction or ErrNotFound.
	Get(ctx context.Context, id string) (*Transaction, error)

	// ListByJob returns all transactions recorded for a job.
	ListByJob(ctx context.Context, jobID string) ([]*Transaction, error)

	// ListFlagged returns transactions frozen for manual review.
	ListFlagged(ctx context.Context) ([]*Transaction, error)

	// UpdateStatus applies a status change if and only if the stored
	// version matches expectedVersion, incrementing the version.
	// Returns ErrConflict on a stale version, ErrNotFound if the row
	// is missing.
	UpdateStatus(ctx context.Context, id string, expectedVersion int64, status Status, set Updates) error

	// SetPaymentRef records the processor checkout reference after the
	// session is created. Does not touch status or version.
	SetPaymentRef(ctx context.Context, id, ref string) error

	// Stats aggregates count and gross volume per status.
	Stats(ctx context.Context) ([]StatusAgg, error)
}
