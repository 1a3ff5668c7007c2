package db

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

var Conn *pgxpool.Pool

// Init connects to Postgres
func Init() {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_NAME"),
	)

	var err error
	Conn, err = pgxpool.New(context.Background(), dsn)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}

	if err = Conn.Ping(context.Background()); err != nil {
		log.Fatalf("Unable to ping database: %v\n", err)
	}

	log.Println("Connected to Postgres successfully")

	// Ensure escrow ledger table used by the orchestrator and state machine
	ensureEscrowTransactionsTable()

	// Ensure processed_events table used by the webhook ingestor
	ensureProcessedEventsTable()
}

// ensureEscrowTransactionsTable creates the escrow ledger if not present.
// Rows are never deleted; terminal states stay behind as the audit trail.
func ensureEscrowTransactionsTable() {
	ctx := context.Background()
	var exists bool
	_ = Conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM information_schema.tables
            WHERE table_schema = 'public' AND table_name = 'escrow_transactions'
        )`).Scan(&exists)
	if exists {
		ensureEscrowColumns()
		return
	}
	_, err := Conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS escrow_transactions (
            id UUID PRIMARY KEY,
            job_id TEXT NOT NULL,
            payment_type TEXT NOT NULL CHECK (payment_type IN ('deposit','milestone','final')),
            gross_amount BIGINT NOT NULL CHECK (gross_amount >= 0),
            currency TEXT NOT NULL DEFAULT 'usd',
            status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN (
                'pending','held','released','refunded','disputed','failed'
            )),
            platform_fee BIGINT NOT NULL,
            payee_payout BIGINT NOT NULL,
            payee_account TEXT NOT NULL,
            payment_ref TEXT,
            payout_ref TEXT,
            manual_review BOOLEAN NOT NULL DEFAULT FALSE,
            version BIGINT NOT NULL DEFAULT 1,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_escrow_job ON escrow_transactions(job_id);
        CREATE INDEX IF NOT EXISTS idx_escrow_status ON escrow_transactions(status);
        CREATE UNIQUE INDEX IF NOT EXISTS uniq_escrow_active_job_type
            ON escrow_transactions(job_id, payment_type)
            WHERE status IN ('pending','held');
    `)
	if err != nil {
		log.Printf("failed to create escrow_transactions table: %v", err)
	}
}

// ensureEscrowColumns adds columns introduced after the first deploy
func ensureEscrowColumns() {
	ctx := context.Background()
	var reviewExists bool
	_ = Conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM information_schema.columns
            WHERE table_schema = 'public' AND table_name = 'escrow_transactions' AND column_name = 'manual_review'
        )`).Scan(&reviewExists)
	if !reviewExists {
		if _, err := Conn.Exec(ctx, `ALTER TABLE escrow_transactions ADD COLUMN IF NOT EXISTS manual_review BOOLEAN DEFAULT FALSE`); err != nil {
			log.Printf("failed to add escrow_transactions.manual_review: %v", err)
		} else {
			_, _ = Conn.Exec(ctx, `UPDATE escrow_transactions SET manual_review = FALSE WHERE manual_review IS NULL`)
		}
	}

	var versionExists bool
	_ = Conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM information_schema.columns
            WHERE table_schema = 'public' AND table_name = 'escrow_transactions' AND column_name = 'version'
        )`).Scan(&versionExists)
	if !versionExists {
		if _, err := Conn.Exec(ctx, `ALTER TABLE escrow_transactions ADD COLUMN IF NOT EXISTS version BIGINT DEFAULT 1`); err != nil {
			log.Printf("failed to add escrow_transactions.version: %v", err)
		} else {
			_, _ = Conn.Exec(ctx, `UPDATE escrow_transactions SET version = 1 WHERE version IS NULL`)
		}
	}
}

// ensureProcessedEventsTable creates the webhook dedup table if not present.
// The primary key on the processor event id is the at-most-once boundary.
func ensureProcessedEventsTable() {
	ctx := context.Background()
	var exists bool
	_ = Conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM information_schema.tables
            WHERE table_schema = 'public' AND table_name = 'processed_events'
        )`).Scan(&exists)
	if exists {
		return
	}
	_, err := Conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS processed_events (
            event_id TEXT PRIMARY KEY,
            event_type TEXT NOT NULL,
            checksum TEXT NOT NULL,
            processing_status TEXT NOT NULL DEFAULT 'processed' CHECK (processing_status IN (
                'processed','orphaned','unrecognized'
            )),
            received_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_processed_events_status ON processed_events(processing_status);
    `)
	if err != nil {
		log.Printf("failed to create processed_events table: %v", err)
	}
}
