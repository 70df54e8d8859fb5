package segment

import (
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Sequence enrollment statuses as stored.
const (
	EnrollmentActive    = "active"
	EnrollmentPaused    = "paused"
	EnrollmentCompleted = "completed"
	EnrollmentStopped   = "stopped"
)

// Candidate is the read model the evaluator works on: one lead with its
// primary contact and the history predicates can reference.
type Candidate struct {
	LeadID     string
	CompanyID  string
	PipelineID string
	StageID    string
	Source     string
	TagIDs     []string
	Score      float64
	CreatedAt  time.Time

	UTM          map[string]string
	CustomFields map[string]string

	// Contact is the designated primary contact, nil when the lead has none.
	Contact *ContactInfo

	// Sequences maps sequence id to enrollment status.
	Sequences map[string]string

	// Engagement maps campaign id to this contact's history in it. A key is
	// present only when the contact had a send in that campaign.
	Engagement map[string]EngagementHistory
}

// ContactInfo is the subset of the primary contact the resolver needs.
type ContactInfo struct {
	ID           string
	Email        string
	Unsubscribed bool
	DoNotContact bool
	HardBounced  bool
}

// EngagementHistory summarizes a contact's sends in one prior campaign.
type EngagementHistory struct {
	Opened  bool
	Clicked bool
}

// Recipient converts an eligible candidate into the resolver's output triple.
func (c *Candidate) Recipient() domain.Recipient {
	return domain.Recipient{LeadID: c.LeadID, ContactID: c.Contact.ID, Email: c.Contact.Email}
}

// CandidateQuery carries the parts of a filter the store can push into its
// own query to narrow the scan. The evaluator still applies the full filter.
type CandidateQuery struct {
	PipelineID  string
	StageIDs    []string
	AnyTagIDs   []string
	MinScore    *float64
	MaxScore    *float64
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	CampaignIDs []string
	SequenceIDs []string
}

// Pushdown derives a CandidateQuery from the filter. Only predicates that
// can be expressed as plain column conditions are carried over; the rest
// contribute the ids whose history the store must load.
func Pushdown(f Filter) CandidateQuery {
	var q CandidateQuery
	for _, p := range f.Predicates {
		switch v := p.(type) {
		case PipelineStage:
			q.PipelineID = v.PipelineID
			q.StageIDs = v.StageIDs
		case HasTags:
			if v.Mode != TagsAll {
				q.AnyTagIDs = v.TagIDs
			}
		case ScoreRange:
			q.MinScore, q.MaxScore = v.Min, v.Max
		case CreatedBetween:
			q.CreatedFrom, q.CreatedTo = v.From, v.To
		case CampaignEngagement:
			q.CampaignIDs = append(q.CampaignIDs, v.CampaignID)
		case SequenceState:
			q.SequenceIDs = append(q.SequenceIDs, v.SequenceID)
		}
	}
	return q
}
