package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
)

// Channel is the medium a campaign is delivered over. Only email is
// delivered by the engine; the others are accepted and stored.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Variant labels.
const (
	VariantA = "A"
	VariantB = "B"
)

// Campaign represents one send effort against one segment and one template.
type Campaign struct {
	ID             string          `json:"id" db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	Name           string          `json:"name" db:"name"`
	SegmentID      string          `json:"segment_id" db:"segment_id"`
	TemplateID     string          `json:"template_id" db:"template_id"`
	Channel        Channel         `json:"channel" db:"channel"`
	AB             *ABConfig       `json:"ab_config,omitempty" db:"ab_config"`
	Schedule       *ScheduleConfig `json:"schedule,omitempty" db:"schedule"`
	Status         CampaignStatus  `json:"status" db:"status"`
	MaxRecipients  int             `json:"max_recipients" db:"max_recipients"`
	CreatedBy      string          `json:"created_by" db:"created_by"`

	// SentAt marks the moment the first batch was enqueued, not completion.
	SentAt      *time.Time `json:"sent_at" db:"sent_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`

	// Populated by queries, not stored on the row.
	TotalRecipients int `json:"total_recipients" db:"-"`
}

// IsTerminal returns true if the campaign is in its final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent
}

// Deletable reports whether the campaign has not yet started sending.
func (c *Campaign) Deletable() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}

// HasABTest reports whether recipients are split into variants.
func (c *Campaign) HasABTest() bool {
	return c.AB != nil && c.AB.SplitPercent > 0
}

// ABConfig holds per-variant overrides and the recorded winner.
type ABConfig struct {
	SplitPercent    int                       `json:"split_percent"`
	Variants        map[string]VariantContent `json:"variants,omitempty"`
	Winner          string                    `json:"winner,omitempty"`
	RemainderSentAt *time.Time                `json:"remainder_sent_at,omitempty"`
}

// Override returns the variant's content overrides, or nil.
func (a *ABConfig) Override(variant string) *VariantContent {
	if a == nil || variant == "" {
		return nil
	}
	v, ok := a.Variants[variant]
	if !ok {
		return nil
	}
	return &v
}

// VariantContent holds optional overrides. A nil field means "use the template".
type VariantContent struct {
	Subject  *string `json:"subject,omitempty"`
	HTMLBody *string `json:"html_body,omitempty"`
	TextBody *string `json:"text_body,omitempty"`
}

// ScheduleConfig is the persisted schedule blob of a campaign.
type ScheduleConfig struct {
	SendAt *time.Time  `json:"send_at,omitempty"`
	Window *SendWindow `json:"window,omitempty"`
}

// SendWindow is a recurring clock-time range in an IANA timezone.
// Start and End use 24-hour "HH:mm".
type SendWindow struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Template is the message a campaign renders for each recipient.
type Template struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Subject        string    `json:"subject" db:"subject"`
	HTMLBody       string    `json:"html_body" db:"html_body"`
	TextBody       *string   `json:"text_body,omitempty" db:"text_body"`
	FromName       string    `json:"from_name" db:"from_name"`
	FromEmail      string    `json:"from_email" db:"from_email"`
	ReplyTo        string    `json:"reply_to" db:"reply_to"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
