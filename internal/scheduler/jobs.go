package scheduler

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

const (
	// DefaultBatchSize bounds one page of campaigns or sends.
	DefaultBatchSize = 100

	// DefaultStrandedAfter is how old an unqueued pending send must be
	// before it is queued again.
	DefaultStrandedAfter = 5 * time.Minute

	// maxRequeuePages bounds one tick's re-queue pass; a store that keeps
	// failing to stamp sends would otherwise return the same page forever.
	maxRequeuePages = 50
)

// CampaignService is the subset of campaign.Service the jobs drive.
type CampaignService interface {
	Promote(ctx context.Context, c *domain.Campaign) (bool, error)
	Finalize(ctx context.Context, c *domain.Campaign) error
	RequeueUnqueued(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// CampaignStore lists the campaigns each job acts on, across all orgs.
type CampaignStore interface {
	ListDueScheduled(ctx context.Context, now time.Time, after *domain.Campaign, limit int) ([]domain.Campaign, error)
	ListSendingComplete(ctx context.Context, limit int) ([]domain.Campaign, error)
}

// CampaignJobs re-queues stranded sends, promotes due campaigns and
// finalizes finished ones.
type CampaignJobs struct {
	svc      CampaignService
	store    CampaignStore
	lock     distlock.DistLock
	batch    int
	stranded time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// NewCampaignJobs creates the campaign jobs. lock, if non-nil, makes one
// tick run cluster-wide at a time; per-campaign exclusion is the
// service's own.
func NewCampaignJobs(svc CampaignService, store CampaignStore, lock distlock.DistLock) *CampaignJobs {
	return &CampaignJobs{
		svc:      svc,
		store:    store,
		lock:     lock,
		batch:    DefaultBatchSize,
		stranded: DefaultStrandedAfter,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.With("component", "scheduler.CampaignJobs"),
	}
}

// SetBatchSize overrides DefaultBatchSize. Values below one are ignored.
func (j *CampaignJobs) SetBatchSize(n int) {
	if n > 0 {
		j.batch = n
	}
}

// SetStrandedAfter overrides DefaultStrandedAfter. It should exceed the
// time between persisting sends and queueing them.
func (j *CampaignJobs) SetStrandedAfter(d time.Duration) {
	if d > 0 {
		j.stranded = d
	}
}

// Tick runs RequeueStranded, PromoteDue then FinalizeComplete.
func (j *CampaignJobs) Tick(ctx context.Context) {
	run := func(ctx context.Context) error {
		j.RequeueStranded(ctx)
		j.PromoteDue(ctx)
		j.FinalizeComplete(ctx)
		return nil
	}
	if j.lock == nil {
		run(ctx)
		return
	}
	ran, err := distlock.Run(ctx, j.lock, run)
	if err != nil {
		j.log.Error("campaign tick lock failed", "error", err)
		return
	}
	if !ran {
		j.log.Debug("campaign tick skipped, another instance holds the lock")
	}
}

// RequeueStranded queues pending sends that were persisted but never
// reached the queue, a page at a time until none are left.
func (j *CampaignJobs) RequeueStranded(ctx context.Context) int {
	cutoff := j.now().Add(-j.stranded)
	total := 0
	for page := 0; page < maxRequeuePages && ctx.Err() == nil; page++ {
		n, err := j.svc.RequeueUnqueued(ctx, cutoff, j.batch)
		if err != nil {
			j.log.Error("requeue stranded sends", "error", err)
			break
		}
		total += n
		if n < j.batch {
			break
		}
	}
	return total
}

// PromoteDue starts every due scheduled campaign whose window is open.
// Campaigns are paged by (send_at, id) so closed-window campaigns left
// scheduled never hide later ones. A failure on one campaign is logged
// and the rest continue.
func (j *CampaignJobs) PromoteDue(ctx context.Context) int {
	now := j.now()
	promoted, seen := 0, 0
	var after *domain.Campaign
	for ctx.Err() == nil {
		due, err := j.store.ListDueScheduled(ctx, now, after, j.batch)
		if err != nil {
			j.log.Error("list due campaigns", "error", err)
			break
		}
		seen += len(due)
		for i := range due {
			if ctx.Err() != nil {
				break
			}
			c := &due[i]
			ok, err := j.svc.Promote(ctx, c)
			if err != nil {
				j.log.Error("promote campaign",
					"campaign_id", c.ID,
					"org_id", c.OrganizationID,
					"error", err,
				)
				continue
			}
			if ok {
				promoted++
				metrics.SchedulerPromotions.Inc()
			}
		}
		if len(due) < j.batch {
			break
		}
		after = &due[len(due)-1]
	}
	if promoted > 0 {
		j.log.Info("scheduled campaigns promoted", "due", seen, "promoted", promoted)
	}
	return promoted
}

// FinalizeComplete moves every sending campaign with no pending sends to sent.
func (j *CampaignJobs) FinalizeComplete(ctx context.Context) int {
	done, err := j.store.ListSendingComplete(ctx, j.batch)
	if err != nil {
		j.log.Error("list completed campaigns", "error", err)
		return 0
	}
	finalized := 0
	for i := range done {
		if ctx.Err() != nil {
			break
		}
		c := &done[i]
		if err := j.svc.Finalize(ctx, c); err != nil {
			j.log.Error("finalize campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		finalized++
		metrics.SchedulerFinalizations.Inc()
	}
	return finalized
}
