package alerts

import "time"

// Task type constants
const (
	TaskEscrowReleased = "email:escrow_released"
	TaskEscrowRefunded = "email:escrow_refunded"
	TaskEscrowDisputed = "email:escrow_disputed"
	TaskEscrowFailed   = "email:escrow_failed"
	TaskOpsAlert       = "email:ops_alert"
)

// Common envelope for email-like notifications
type EmailEnvelope struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Escrow lifecycle payload shared by release/refund/dispute/failure tasks
type EscrowNoticePayload struct {
	TransactionID string        `json:"transaction_id"`
	JobID         string        `json:"job_id"`
	GrossAmount   int64         `json:"gross_amount"`
	PayeePayout   int64         `json:"payee_payout"`
	Currency      string        `json:"currency"`
	NewStatus     string        `json:"new_status"`
	Envelope      EmailEnvelope `json:"envelope"`
	SentAt        time.Time     `json:"sent_at"`
}

// Ops alert payload for manual-review and orphaned-event conditions
type OpsAlertPayload struct {
	Severity  string        `json:"severity"` // info|warning|critical
	Message   string        `json:"message"`
	Reference string        `json:"reference,omitempty"`
	Envelope  EmailEnvelope `json:"envelope"`
	SentAt    time.Time     `json:"sent_at"`
}
