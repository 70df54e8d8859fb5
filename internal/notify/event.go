// Package notify publishes lifecycle events to the outbound webhook.
//
// Publishing is decoupled from the state transition that raises the event:
// Publish never blocks on delivery and never returns an error, so a slow or
// failing webhook cannot affect campaign state. Two buses are available, an
// in-process buffered channel and an SQS queue drained by SQSConsumer.
package notify

import (
	"context"
	"time"
)

// Event names.
const (
	EventCampaignCompleted = "campaign.completed"
)

// Event is one notification.
type Event struct {
	Name       string         `json:"event"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// Publisher accepts events fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Dispatcher delivers one event to its final destination.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
}

// CampaignCompleted builds the completion event.
func CampaignCompleted(campaignID, name string, totalRecipients int, at time.Time) Event {
	return Event{
		Name:       EventCampaignCompleted,
		OccurredAt: at,
		Payload: map[string]any{
			"campaign_id":      campaignID,
			"name":             name,
			"total_recipients": totalRecipients,
		},
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
