package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType classifies messages on the event bus.
type EventType string

const (
	EventAuctionTick       EventType = "auction_tick"
	EventSubmissionSent    EventType = "submission_sent"
	EventSubmissionMined   EventType = "submission_mined"
	EventSubmissionFailed  EventType = "submission_failed"
	EventValidationRefused EventType = "validation_refused"
)

// Bus channel and stream names.
const (
	// EventsChannel carries every event over pub/sub.
	EventsChannel = "setrebal:events"
	// SubmissionStream keeps a durable trail of submission events.
	SubmissionStream = "setrebal:submissions"
)

// BasketChannel is the pub/sub channel for events about one basket.
func BasketChannel(basket common.Address) string {
	return EventsChannel + ":" + basket.Hex()
}

// Event is published whenever the coordinator observes or does something.
type Event struct {
	Type   EventType       `json:"type"`
	Basket common.Address  `json:"basket"`
	Data   json.RawMessage `json:"data,omitempty"`
	At     time.Time       `json:"at"`
}

// EventPublisher fans an event out to subscribers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev Event) error
}
