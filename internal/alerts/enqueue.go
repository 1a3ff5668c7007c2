package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/payhold/internal/events"
)

// ensureClient returns a usable client instance
func ensureClient() *asynq.Client {
	if client == nil {
		Init()
	}
	return client
}

func opsEmail() string {
	if v := os.Getenv("OPS_EMAIL"); v != "" {
		return v
	}
	return "ops@payhold.local"
}

// EnqueueEscrowNotice schedules a lifecycle notification for a state
// transition. Recipient routing per payee/payer lives with the account
// collaborator; this core notifies the ops inbox.
func EnqueueEscrowNotice(taskType string, ev events.EscrowEvent) error {
	env := EmailEnvelope{
		To:      opsEmail(),
		Subject: fmt.Sprintf("Escrow %s: transaction %s", ev.NewStatus, ev.TransactionID),
		Body: fmt.Sprintf(
			"Transaction %s for job %s is now %s.\nGross %d %s, payout %d %s.",
			ev.TransactionID, ev.JobID, ev.NewStatus,
			ev.GrossAmount, ev.Currency, ev.PayeePayout, ev.Currency,
		),
	}
	payload := EscrowNoticePayload{
		TransactionID: ev.TransactionID,
		JobID:         ev.JobID,
		GrossAmount:   ev.GrossAmount,
		PayeePayout:   ev.PayeePayout,
		Currency:      ev.Currency,
		NewStatus:     ev.NewStatus,
		Envelope:      env,
		SentAt:        time.Now(),
	}
	b, _ := json.Marshal(payload)
	task := asynq.NewTask(taskType, b)
	_, err := ensureClient().Enqueue(task, asynq.Queue("emails"))
	return err
}

// EnqueueOpsAlert sends an alert to the operations inbox
func EnqueueOpsAlert(severity, message, reference string) error {
	env := EmailEnvelope{To: opsEmail(), Subject: "PayHold ops alert", Body: message}
	payload := OpsAlertPayload{Severity: severity, Message: message, Reference: reference, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	task := asynq.NewTask(TaskOpsAlert, b)
	_, err := ensureClient().Enqueue(task, asynq.Queue("alerts"))
	return err
}
