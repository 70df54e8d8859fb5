package domain

import "time"

// EngagementType enumerates recorded recipient interactions.
type EngagementType string

const (
	EngagementOpen  EngagementType = "open"
	EngagementClick EngagementType = "click"
)

// EngagementEvent is an open or a click against a CampaignSend. At most one
// open exists per send; clicks are never deduplicated.
type EngagementEvent struct {
	ID             string         `json:"id" db:"id"`
	CampaignSendID string         `json:"campaign_send_id" db:"campaign_send_id"`
	Type           EngagementType `json:"type" db:"event_type"`
	TrackingLinkID *string        `json:"tracking_link_id,omitempty" db:"tracking_link_id"`
	IPAddress      string         `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent      string         `json:"user_agent,omitempty" db:"user_agent"`
	DeviceType     string         `json:"device_type,omitempty" db:"device_type"`
	OccurredAt     time.Time      `json:"occurred_at" db:"occurred_at"`
}

// TrackingLink is a rewritten destination URL, unique per URL per send.
type TrackingLink struct {
	ID             string    `json:"id" db:"id"`
	CampaignSendID string    `json:"campaign_send_id" db:"campaign_send_id"`
	URL            string    `json:"url" db:"url"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
