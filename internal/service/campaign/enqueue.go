package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/abtest"
	"github.com/ignite/campaign-engine/internal/delivery"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/service/suppression"
	"github.com/ignite/campaign-engine/internal/tracking"
)

// EnqueueResult summarizes one enqueue pass.
type EnqueueResult struct {
	Enqueued int                `json:"enqueued"`
	Variants map[string]int     `json:"variants,omitempty"`
	Filter   suppression.Report `json:"filter"`
}

// SendNow enqueues a draft campaign immediately. It is rejected when the
// campaign's send window is closed.
func (s *Service) SendNow(ctx context.Context, orgID, id, userID string) (*EnqueueResult, error) {
	c, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft {
		return nil, transition(string(c.Status), "send")
	}
	if c.Channel != domain.ChannelEmail {
		return nil, &ValidationError{Field: "channel", Err: ErrUnsupportedChannel, Msg: string(c.Channel)}
	}
	if c.Schedule != nil && !s.gate.AllowsAt(c.Schedule.Window, s.now()) {
		w := c.Schedule.Window
		return nil, &ValidationError{Err: ErrOutsideSendWindow, Msg: fmt.Sprintf("sends are allowed %s-%s %s", w.Start, w.End, w.Timezone)}
	}
	if _, err := s.repo.Template(ctx, orgID, c.TemplateID); err != nil {
		if errors.Is(err, ErrMissingTemplate) {
			return nil, &ValidationError{Field: "template_id", Err: ErrMissingTemplate, Msg: c.TemplateID}
		}
		return nil, err
	}

	var res *EnqueueResult
	ran, err := s.withLock(ctx, c.ID, func(ctx context.Context) error {
		var err error
		res, err = s.enqueue(ctx, c, []domain.CampaignStatus{domain.CampaignDraft}, userID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ran {
		return nil, ErrBusy
	}
	return res, nil
}

// Promote is the scheduler's path from scheduled to sending. It returns
// false without error when the window is closed, another process holds
// the campaign, or the campaign already moved on.
func (s *Service) Promote(ctx context.Context, c *domain.Campaign) (bool, error) {
	if c.Schedule != nil && !s.gate.AllowsAt(c.Schedule.Window, s.now()) {
		s.log.Debug("scheduled campaign outside send window", "campaign_id", c.ID)
		return false, nil
	}
	ran, err := s.withLock(ctx, c.ID, func(ctx context.Context) error {
		_, err := s.enqueue(ctx, c, []domain.CampaignStatus{domain.CampaignScheduled}, "scheduler", true)
		return err
	})
	if errors.Is(err, ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ran, nil
}

// enqueue runs resolve → filter → assign → persist → queue. The sends and
// the status change are written together; jobs go out only after both
// commit, so a worker never sees a send whose campaign is still a draft.
func (s *Service) enqueue(ctx context.Context, c *domain.Campaign, from []domain.CampaignStatus, triggeredBy string, allowEmpty bool) (*EnqueueResult, error) {
	now := s.now()
	recipients, err := s.resolver.Resolve(ctx, c.OrganizationID, c.SegmentID, c.MaxRecipients)
	if err != nil {
		return nil, fmt.Errorf("resolve segment: %w", err)
	}
	kept, report, err := s.filter.Filter(ctx, c.OrganizationID, recipients, now)
	if err != nil {
		return nil, err
	}
	if len(kept) == 0 && !allowEmpty {
		return nil, ErrNoRecipients
	}

	split := 0
	if c.HasABTest() {
		split = c.AB.SplitPercent
	}
	assigned := abtest.Assign(kept, split)
	sends := make([]domain.CampaignSend, len(assigned))
	res := &EnqueueResult{Filter: report}
	for i, a := range assigned {
		sends[i] = newSend(c.ID, a.Recipient, a.Variant, now)
		if a.Variant != "" {
			if res.Variants == nil {
				res.Variants = map[string]int{}
			}
			res.Variants[a.Variant]++
		}
	}

	if err := s.repo.BeginSending(ctx, c.OrganizationID, c.ID, from, sends, now); err != nil {
		return nil, err
	}
	if err := s.push(ctx, sendIDs(sends), triggeredBy, now); err != nil {
		// the sends stay unqueued and the scheduler re-queues them
		s.log.Error("sends persisted but not queued",
			"campaign_id", c.ID,
			"sends", len(sends),
			"error", err,
		)
		return nil, err
	}
	res.Enqueued = len(sends)
	s.log.Info("campaign enqueued",
		"campaign_id", c.ID,
		"org_id", c.OrganizationID,
		"recipients", len(sends),
		"triggered_by", triggeredBy,
	)
	return res, nil
}

// push queues one job per send and stamps the sends queued. A failed
// stamp only means the scheduler may queue them again, which the
// conditional mark-sent absorbs.
func (s *Service) push(ctx context.Context, ids []string, triggeredBy string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	jobs := make([]delivery.Job, len(ids))
	for i, id := range ids {
		jobs[i] = delivery.NewJob(id, triggeredBy, now)
	}
	if err := s.queue.EnqueueBatch(ctx, jobs); err != nil {
		return fmt.Errorf("enqueue jobs: %w", err)
	}
	metrics.SendsEnqueued.Add(float64(len(jobs)))
	if err := s.sends.MarkQueued(ctx, ids, now); err != nil {
		s.log.Warn("sends queued but not stamped", "sends", len(ids), "error", err)
	}
	return nil
}

// RequeueUnqueued queues pending sends created before olderThan that never
// reached the queue, such as after a queue outage between persisting the
// sends and enqueueing them. It returns how many were queued.
func (s *Service) RequeueUnqueued(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	ids, err := s.sends.ListUnqueued(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.push(ctx, ids, "scheduler", s.now()); err != nil {
		return 0, err
	}
	s.log.Warn("stranded sends re-queued", "sends", len(ids))
	return len(ids), nil
}

func sendIDs(sends []domain.CampaignSend) []string {
	ids := make([]string, len(sends))
	for i := range sends {
		ids[i] = sends[i].ID
	}
	return ids
}

func newSend(campaignID string, r domain.Recipient, variant string, now time.Time) domain.CampaignSend {
	return domain.CampaignSend{
		ID:            uuid.New().String(),
		CampaignID:    campaignID,
		LeadID:        r.LeadID,
		ContactID:     r.ContactID,
		Email:         r.Email,
		Variant:       variant,
		TrackingToken: tracking.NewToken(),
		CreatedAt:     now,
	}
}

// ApplyWinner computes the A/B winner from open rates and records it. It
// may be called repeatedly until the remainder is sent.
func (s *Service) ApplyWinner(ctx context.Context, orgID, id string) (string, []domain.VariantStats, error) {
	c, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return "", nil, err
	}
	if !c.HasABTest() {
		return "", nil, ErrNotABTest
	}
	if c.Status != domain.CampaignSent {
		return "", nil, transition(string(c.Status), "pick a winner for")
	}
	if c.AB.RemainderSentAt != nil {
		return "", nil, ErrRemainderSent
	}
	stats, err := s.sends.VariantStats(ctx, c.ID)
	if err != nil {
		return "", nil, err
	}
	winner, err := abtest.DetermineWinner(stats)
	if errors.Is(err, abtest.ErrNoStats) {
		return "", stats, ErrNoWinner
	}
	if err != nil {
		return "", stats, err
	}
	if err := s.repo.SetWinner(ctx, orgID, id, winner); err != nil {
		return "", stats, err
	}
	s.log.Info("a/b winner recorded", "campaign_id", id, "winner", winner)
	return winner, stats, nil
}

// SendRemainder sends the winning variant to recipients of the losing
// variant who never opened. Each gets a fresh tracking token. Running it
// again only reaches non-openers not already covered.
func (s *Service) SendRemainder(ctx context.Context, orgID, id, userID string) (*EnqueueResult, error) {
	c, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !c.HasABTest() {
		return nil, ErrNotABTest
	}
	if c.AB.Winner == "" {
		return nil, ErrNoWinner
	}
	if c.Status != domain.CampaignSent {
		return nil, transition(string(c.Status), "send the remainder of")
	}

	var res *EnqueueResult
	ran, err := s.withLock(ctx, c.ID, func(ctx context.Context) error {
		var err error
		res, err = s.remainder(ctx, c, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ran {
		return nil, ErrBusy
	}
	return res, nil
}

func (s *Service) remainder(ctx context.Context, c *domain.Campaign, userID string) (*EnqueueResult, error) {
	now := s.now()
	winner := c.AB.Winner
	candidates, err := s.sends.NonOpeners(ctx, c.ID, abtest.Loser(winner), winner)
	if err != nil {
		return nil, fmt.Errorf("load non-openers: %w", err)
	}
	kept, report, err := s.filter.Filter(ctx, c.OrganizationID, candidates, now)
	if err != nil {
		return nil, err
	}
	sends := make([]domain.CampaignSend, len(kept))
	for i, r := range kept {
		sends[i] = newSend(c.ID, r, winner, now)
	}
	if len(sends) > 0 {
		if err := s.sends.InsertBatch(ctx, sends); err != nil {
			return nil, err
		}
		if err := s.push(ctx, sendIDs(sends), userID, now); err != nil {
			return nil, err
		}
	}
	if err := s.repo.MarkRemainderSent(ctx, c.OrganizationID, c.ID, now); err != nil {
		return nil, err
	}
	s.log.Info("a/b remainder enqueued",
		"campaign_id", c.ID,
		"winner", winner,
		"candidates", len(candidates),
		"recipients", len(sends),
	)
	return &EnqueueResult{Enqueued: len(sends), Variants: map[string]int{winner: len(sends)}, Filter: report}, nil
}
