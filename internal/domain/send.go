package domain

import "time"

// Recipient is one resolved audience member. Email is captured at resolve
// time so later edits to the contact do not change delivery.
type Recipient struct {
	LeadID    string `json:"lead_id"`
	ContactID string `json:"contact_id"`
	Email     string `json:"email"`
}

// CampaignSend is one planned message to one recipient for one campaign.
// Exactly one of SentAt and FailedAt is ever set.
type CampaignSend struct {
	ID                string     `json:"id" db:"id"`
	CampaignID        string     `json:"campaign_id" db:"campaign_id"`
	LeadID            string     `json:"lead_id" db:"lead_id"`
	ContactID         string     `json:"contact_id" db:"contact_id"`
	Email             string     `json:"email" db:"email"`
	Variant           string     `json:"variant,omitempty" db:"variant"`
	TrackingToken     string     `json:"-" db:"tracking_token"`
	SentAt            *time.Time `json:"sent_at" db:"sent_at"`
	FailedAt          *time.Time `json:"failed_at" db:"failed_at"`
	LastError         string     `json:"last_error,omitempty" db:"last_error"`
	ProviderMessageID string     `json:"provider_message_id,omitempty" db:"provider_message_id"`
	QueuedAt          *time.Time `json:"queued_at,omitempty" db:"queued_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// IsTerminal returns true once the send has either succeeded or exhausted retries.
func (s *CampaignSend) IsTerminal() bool {
	return s.SentAt != nil || s.FailedAt != nil
}

// Activity is a CRM history record written against a lead.
type Activity struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	LeadID         string    `json:"lead_id" db:"lead_id"`
	Kind           string    `json:"kind" db:"kind"`
	Subject        string    `json:"subject" db:"subject"`
	Completed      bool      `json:"completed" db:"completed"`
	UserID         string    `json:"user_id,omitempty" db:"user_id"`
	CampaignSendID string    `json:"campaign_send_id" db:"campaign_send_id"`
	OccurredAt     time.Time `json:"occurred_at" db:"occurred_at"`
}

// ActivityEmail is the activity kind recorded for a delivered campaign email.
const ActivityEmail = "email"

// VariantStats is the per-variant outcome used to pick an A/B winner.
type VariantStats struct {
	Variant string `json:"variant"`
	Sent    int    `json:"sent"`
	Opens   int    `json:"opens"`
}

// OpenRate returns opens/sent, or 0 when nothing was sent.
func (v VariantStats) OpenRate() float64 {
	if v.Sent == 0 {
		return 0
	}
	return float64(v.Opens) / float64(v.Sent)
}
