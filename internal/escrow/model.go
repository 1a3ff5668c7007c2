package escrow

import (
	"time"

	"github.com/sudo-init-do/payhold/internal/fees"
)

// Status is the lifecycle state of an escrow transaction.
type Status string

const (
	StatusPending  Status = "pending"
	StatusHeld     Status = "held"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
	StatusDisputed Status = "disputed"
	StatusFailed   Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
// Terminal rows are never deleted; they are the audit trail.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleased, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// Transaction is the unit of held funds between payer and payee for one
// job/payment-type pair. Fee figures are computed once at creation and
// frozen; release re-verifies them but never recomputes.
type Transaction struct {
	ID           string           `json:"id"`
	JobID        string           `json:"job_id"`
	PaymentType  fees.PaymentType `json:"payment_type"`
	GrossAmount  int64            `json:"gross_amount"`
	Currency     string           `json:"currency"`
	Status       Status           `json:"status"`
	PlatformFee  int64            `json:"platform_fee"`
	PayeePayout  int64            `json:"payee_payout"`
	PayeeAccount string           `json:"payee_account"`
	PaymentRef   string           `json:"payment_ref,omitempty"`
	PayoutRef    string           `json:"payout_ref,omitempty"`
	ManualReview bool             `json:"manual_review"`
	Version      int64            `json:"version"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// StatusAgg is one row of the operator stats view.
type StatusAgg struct {
	Status Status `json:"status"`
	Count  int64  `json:"count"`
	Volume int64  `json:"volume"`
}
