package alerts

import (
	"encoding/json"
	"log"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/sudo-init-do/payhold/internal/events"
)

// HandleEscrowEvent is the watermill handler bridging domain events to
// notification tasks. Registered on the escrow.events topic in main.
func HandleEscrowEvent(msg *message.Message) error {
	var ev events.EscrowEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		// malformed payloads are dropped, not retried
		log.Printf("[alerts] dropping malformed escrow event %s: %v", msg.UUID, err)
		return nil
	}

	var taskType string
	switch ev.Name {
	case events.EscrowReleased:
		taskType = TaskEscrowReleased
	case events.EscrowRefunded:
		taskType = TaskEscrowRefunded
	case events.EscrowDisputed:
		taskType = TaskEscrowDisputed
	case events.EscrowFailed:
		taskType = TaskEscrowFailed
	default:
		// pending/held transitions are payer-visible only, no email
		return nil
	}

	if err := EnqueueEscrowNotice(taskType, ev); err != nil {
		log.Printf("[alerts] could not enqueue %s for %s: %v", taskType, ev.TransactionID, err)
	}
	if ev.Name == events.EscrowFailed {
		_ = EnqueueOpsAlert("warning", "Escrow transaction failed: "+ev.TransactionID, ev.TransactionID)
	}
	return nil
}
