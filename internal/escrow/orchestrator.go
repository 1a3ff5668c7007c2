package escrow

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/payhold/internal/fees"
	"github.com/sudo-init-do/payhold/internal/processor"
)

// CreateInput is the inbound create-escrow request from the checkout
// flow. The payee account is the connected-account id supplied by the
// contractor management collaborator.
type CreateInput struct {
	JobID        string           `json:"job_id"`
	PaymentType  fees.PaymentType `json:"payment_type"`
	GrossAmount  int64            `json:"gross_amount"`
	Currency     string           `json:"currency"`
	PayeeAccount string           `json:"payee_account"`
}

// CreateResult links the new ledger row to the processor session the
// payer completes checkout on.
type CreateResult struct {
	TransactionID string `json:"escrow_transaction_id"`
	CheckoutRef   string `json:"checkout_reference"`
	CheckoutURL   string `json:"checkout_url,omitempty"`
}

// Orchestrator creates processor-side payment sessions linked to new
// escrow transactions.
type Orchestrator struct {
	store    Store
	schedule fees.Schedule
	proc     processor.Client
	machine  *StateMachine
}

func NewOrchestrator(store Store, schedule fees.Schedule, proc processor.Client, machine *StateMachine) *Orchestrator {
	return &Orchestrator{store: store, schedule: schedule, proc: proc, machine: machine}
}

// CreateEscrow validates the request, freezes the fee split, persists
// the transaction in pending and opens a checkout session tagged with
// the transaction id. A second active transaction for the same
// (job, payment type) pair fails with ErrDuplicateActive instead of
// silently double-charging.
func (o *Orchestrator) CreateEscrow(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if in.JobID == "" {
		return nil, &fees.ValidationError{Field: "job_id", Reason: "required"}
	}
	if in.PayeeAccount == "" {
		return nil, &fees.ValidationError{Field: "payee_account", Reason: "required"}
	}
	if !fees.ValidType(in.PaymentType) {
		return nil, &fees.ValidationError{Field: "payment_type", Reason: "must be deposit, milestone or final"}
	}
	if in.Currency == "" {
		in.Currency = "usd"
	}

	split, err := o.schedule.Compute(in.GrossAmount, in.PaymentType)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:           uuid.New().String(),
		JobID:        in.JobID,
		PaymentType:  in.PaymentType,
		GrossAmount:  in.GrossAmount,
		Currency:     in.Currency,
		Status:       StatusPending,
		PlatformFee:  split.PlatformFee,
		PayeePayout:  split.PayeePayout,
		PayeeAccount: in.PayeeAccount,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.store.Create(ctx, tx); err != nil {
		return nil, err
	}

	sess, err := o.proc.CreateCheckout(ctx, processor.CheckoutParams{
		EscrowID:    tx.ID,
		JobID:       tx.JobID,
		PaymentType: string(tx.PaymentType),
		Amount:      tx.GrossAmount,
		Currency:    tx.Currency,
	})
	if err != nil {
		// The pending row would block a retry via the unique-active
		// constraint, so fail it before surfacing the error.
		if _, terr := o.machine.Transition(ctx, tx.ID, EventProcessorFailure, tx.Version, Updates{}); terr != nil {
			log.Printf("[escrow] could not fail transaction %s after checkout error: %v", tx.ID, terr)
		}
		return nil, err
	}

	if err := o.store.SetPaymentRef(ctx, tx.ID, sess.SessionID); err != nil {
		log.Printf("[escrow] could not record checkout ref on %s: %v", tx.ID, err)
	}

	return &CreateResult{
		TransactionID: tx.ID,
		CheckoutRef:   sess.SessionID,
		CheckoutURL:   sess.CheckoutURL,
	}, nil
}
