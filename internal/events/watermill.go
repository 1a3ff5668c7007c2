package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// WatermillPublisher publishes escrow events as JSON messages on the
// shared topic. The underlying publisher is injected (gochannel in the
// API process, a broker-backed one if the deployment grows).
type WatermillPublisher struct {
	pub message.Publisher
}

func NewWatermillPublisher(pub message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{pub: pub}
}

func (w *WatermillPublisher) Publish(_ context.Context, ev EscrowEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_name", ev.Name)
	msg.Metadata.Set("transaction_id", ev.TransactionID)
	return w.pub.Publish(Topic, msg)
}
