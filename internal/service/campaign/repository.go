package campaign

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, orgID, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, orgID string, filter ListFilter) ([]domain.Campaign, int, error)

	Create(ctx context.Context, c *domain.Campaign) error

	// Update writes the editable fields (name, segment, template, channel,
	// A/B config, schedule, max recipients) while the campaign is still
	// draft or scheduled. Returns ErrInvalidTransition otherwise.
	Update(ctx context.Context, c *domain.Campaign) error

	// Delete removes a draft or scheduled campaign. Returns
	// ErrInvalidTransition for any other status.
	Delete(ctx context.Context, orgID, id string) error

	// SetSchedule stores the schedule and moves from -> to in one
	// conditional write. Returns ErrInvalidTransition if the row is not in from.
	SetSchedule(ctx context.Context, orgID, id string, s *domain.ScheduleConfig, from, to domain.CampaignStatus) error

	// BeginSending atomically inserts every send and moves the campaign
	// from one of from to sending, setting sent_at to at if it is unset.
	// Either all of it happens or none does.
	BeginSending(ctx context.Context, orgID, id string, from []domain.CampaignStatus, sends []domain.CampaignSend, at time.Time) error

	// TransitionStatus is a conditional status change. Moving to sent sets
	// completed_at. Returns ErrInvalidTransition if the row is not in from.
	TransitionStatus(ctx context.Context, orgID, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) error

	// SetWinner records the A/B winner unless the remainder has been sent.
	SetWinner(ctx context.Context, orgID, id, winner string) error

	// MarkRemainderSent stamps the A/B remainder send.
	MarkRemainderSent(ctx context.Context, orgID, id string, at time.Time) error

	// ListDueScheduled returns scheduled campaigns of every org whose
	// send_at is at or before now, ordered by (send_at, id). A non-nil
	// after resumes past that campaign.
	ListDueScheduled(ctx context.Context, now time.Time, after *domain.Campaign, limit int) ([]domain.Campaign, error)

	// ListSendingComplete returns sending campaigns of every org whose
	// sends are all terminal, with TotalRecipients populated.
	ListSendingComplete(ctx context.Context, limit int) ([]domain.Campaign, error)

	// Template returns a template. Returns ErrMissingTemplate if absent.
	Template(ctx context.Context, orgID, id string) (*domain.Template, error)
}

// SendRepository is the data access contract for CampaignSends.
type SendRepository interface {
	// InsertBatch inserts every send or none.
	InsertBatch(ctx context.Context, sends []domain.CampaignSend) error

	// VariantStats returns sent and opened counts per variant.
	VariantStats(ctx context.Context, campaignID string) ([]domain.VariantStats, error)

	// NonOpeners returns recipients of delivered sends labelled variant
	// that have no open event, skipping contacts that already hold a send
	// labelled exclude in the same campaign.
	NonOpeners(ctx context.Context, campaignID, variant, exclude string) ([]domain.Recipient, error)

	CountByCampaign(ctx context.Context, campaignID string) (int, error)

	// MarkQueued stamps queued_at on those of ids that lack it.
	MarkQueued(ctx context.Context, ids []string, at time.Time) error

	// ListUnqueued returns ids of pending sends of every org that were
	// created before before and never reached the queue, oldest first.
	ListUnqueued(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}
