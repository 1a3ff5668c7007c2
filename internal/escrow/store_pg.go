package escrow

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const txColumns = `id, job_id, payment_type, gross_amount, currency, status,
        platform_fee, payee_payout, payee_account,
        COALESCE(payment_ref, ''), COALESCE(payout_ref, ''),
        manual_review, version, created_at, updated_at`

// PgStore is the Postgres-backed escrow ledger.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO escrow_transactions
            (id, job_id, payment_type, gross_amount, currency, status,
             platform_fee, payee_payout, payee_account, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tx.ID, tx.JobID, tx.PaymentType, tx.GrossAmount, tx.Currency, tx.Status,
		tx.PlatformFee, tx.PayeePayout, tx.PayeeAccount, tx.Version, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateActive
		}
		return err
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM escrow_transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *PgStore) ListByJob(ctx context.Context, jobID string) ([]*Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txColumns+` FROM escrow_transactions WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PgStore) ListFlagged(ctx context.Context) ([]*Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txColumns+` FROM escrow_transactions WHERE manual_review = TRUE ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PgStore) UpdateStatus(ctx context.Context, id string, expectedVersion int64, status Status, set Updates) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE escrow_transactions
        SET status = $3,
            version = version + 1,
            payment_ref = COALESCE(NULLIF($4, ''), payment_ref),
            payout_ref = COALESCE(NULLIF($5, ''), payout_ref),
            manual_review = (manual_review OR $6),
            updated_at = NOW()
        WHERE id = $1 AND version = $2`,
		id, expectedVersion, status, set.PaymentRef, set.PayoutRef, set.ManualReview,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM escrow_transactions WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *PgStore) SetPaymentRef(ctx context.Context, id, ref string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE escrow_transactions SET payment_ref = $2, updated_at = NOW() WHERE id = $1`, id, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) Stats(ctx context.Context) ([]StatusAgg, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT status, COUNT(*), COALESCE(SUM(gross_amount), 0)
        FROM escrow_transactions GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusAgg
	for rows.Next() {
		var agg StatusAgg
		if err := rows.Scan(&agg.Status, &agg.Count, &agg.Volume); err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	tx := new(Transaction)
	err := row.Scan(
		&tx.ID, &tx.JobID, &tx.PaymentType, &tx.GrossAmount, &tx.Currency, &tx.Status,
		&tx.PlatformFee, &tx.PayeePayout, &tx.PayeeAccount,
		&tx.PaymentRef, &tx.PayoutRef,
		&tx.ManualReview, &tx.Version, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func scanTransactions(rows pgx.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
