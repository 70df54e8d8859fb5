package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/delivery"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/notify"
	"github.com/ignite/campaign-engine/internal/pkg/distlock"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/sendwindow"
	"github.com/ignite/campaign-engine/internal/service/suppression"
)

// RecipientResolver turns a segment into an ordered recipient list.
type RecipientResolver interface {
	Resolve(ctx context.Context, orgID, segmentID string, limit int) ([]domain.Recipient, error)
}

// RecipientFilter drops suppressed and over-cap recipients, keeping order.
type RecipientFilter interface {
	Filter(ctx context.Context, orgID string, recipients []domain.Recipient, now time.Time) ([]domain.Recipient, suppression.Report, error)
}

// WindowGate decides whether a send window is open at a moment.
type WindowGate interface {
	AllowsAt(w *domain.SendWindow, t time.Time) bool
}

// Enqueuer hands jobs to the delivery queue.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, jobs []delivery.Job) error
}

// Deps bundles the collaborators of a Service. Gate, Events, Locks and Now
// are optional.
type Deps struct {
	Repo     Repository
	Sends    SendRepository
	Resolver RecipientResolver
	Filter   RecipientFilter
	Gate     WindowGate
	Queue    Enqueuer
	Events   notify.Publisher
	Locks    distlock.Factory
	Now      func() time.Time
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repositories are.
type Service struct {
	repo     Repository
	sends    SendRepository
	resolver RecipientResolver
	filter   RecipientFilter
	gate     WindowGate
	queue    Enqueuer
	events   notify.Publisher
	locks    distlock.Factory
	now      func() time.Time
	log      *logger.Logger
}

// NewService creates a campaign service.
func NewService(d Deps) *Service {
	s := &Service{
		repo:     d.Repo,
		sends:    d.Sends,
		resolver: d.Resolver,
		filter:   d.Filter,
		gate:     d.Gate,
		queue:    d.Queue,
		events:   d.Events,
		locks:    d.Locks,
		now:      d.Now,
		log:      logger.With("component", "campaign.Service"),
	}
	if s.events == nil {
		s.events = notify.Discard{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.gate == nil {
		s.gate = sendwindow.NewWithClock(s.now)
	}
	return s
}

// Input holds the operator-editable fields of a campaign.
type Input struct {
	Name          string             `json:"name"`
	SegmentID     string             `json:"segment_id"`
	TemplateID    string             `json:"template_id"`
	Channel       domain.Channel     `json:"channel"`
	AB            *domain.ABConfig   `json:"ab_config,omitempty"`
	Window        *domain.SendWindow `json:"send_window,omitempty"`
	MaxRecipients int                `json:"max_recipients"`
}

func (s *Service) validate(ctx context.Context, orgID string, in *Input) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("name", "is required")
	}
	if in.SegmentID == "" {
		return invalid("segment_id", "is required")
	}
	if in.TemplateID == "" {
		return invalid("template_id", "is required")
	}
	if in.Channel == "" {
		in.Channel = domain.ChannelEmail
	}
	switch in.Channel {
	case domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush:
	default:
		return invalid("channel", "unknown channel %q", in.Channel)
	}
	if in.MaxRecipients < 0 {
		return invalid("max_recipients", "must not be negative")
	}
	if in.AB != nil {
		if in.AB.SplitPercent < 0 || in.AB.SplitPercent > 100 {
			return invalid("ab_config.split_percent", "must be between 0 and 100")
		}
		for name := range in.AB.Variants {
			if name != domain.VariantA && name != domain.VariantB {
				return invalid("ab_config.variants", "unknown variant %q", name)
			}
		}
		// the winner is decided by the engine, never by the operator
		in.AB.Winner = ""
		in.AB.RemainderSentAt = nil
	}
	if in.Window != nil {
		if err := sendwindow.Validate(in.Window); err != nil {
			return invalid("send_window", "%v", err)
		}
	}
	if _, err := s.repo.Template(ctx, orgID, in.TemplateID); err != nil {
		if errors.Is(err, ErrMissingTemplate) {
			return &ValidationError{Field: "template_id", Err: ErrMissingTemplate, Msg: in.TemplateID}
		}
		return err
	}
	return nil
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, orgID, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, orgID, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, orgID string, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, orgID, f)
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, orgID, userID string, in Input) (*domain.Campaign, error) {
	if err := s.validate(ctx, orgID, &in); err != nil {
		return nil, err
	}
	now := s.now()
	c := &domain.Campaign{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           in.Name,
		SegmentID:      in.SegmentID,
		TemplateID:     in.TemplateID,
		Channel:        in.Channel,
		AB:             in.AB,
		Status:         domain.CampaignDraft,
		MaxRecipients:  in.MaxRecipients,
		CreatedBy:      userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Window != nil {
		c.Schedule = &domain.ScheduleConfig{Window: in.Window}
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Update replaces the editable fields of a draft or scheduled campaign.
// A scheduled campaign keeps its send time.
func (s *Service) Update(ctx context.Context, orgID, id string, in Input) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if !c.Deletable() {
		return nil, transition(string(c.Status), "edit")
	}
	if err := s.validate(ctx, orgID, &in); err != nil {
		return nil, err
	}
	c.Name = in.Name
	c.SegmentID = in.SegmentID
	c.TemplateID = in.TemplateID
	c.Channel = in.Channel
	c.AB = in.AB
	c.MaxRecipients = in.MaxRecipients
	switch {
	case c.Schedule != nil:
		c.Schedule.Window = in.Window
	case in.Window != nil:
		c.Schedule = &domain.ScheduleConfig{Window: in.Window}
	}
	c.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Schedule moves a draft to scheduled. sendAt must be strictly after now.
// A nil window keeps the one already configured.
func (s *Service) Schedule(ctx context.Context, orgID, id string, sendAt time.Time, window *domain.SendWindow) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft {
		return nil, transition(string(c.Status), "schedule")
	}
	if c.Channel != domain.ChannelEmail {
		return nil, &ValidationError{Field: "channel", Err: ErrUnsupportedChannel, Msg: string(c.Channel)}
	}
	if !sendAt.After(s.now()) {
		return nil, &ValidationError{Field: "send_at", Err: ErrScheduleInPast, Msg: sendAt.UTC().Format(time.RFC3339)}
	}
	if window == nil && c.Schedule != nil {
		window = c.Schedule.Window
	}
	if window != nil {
		if err := sendwindow.Validate(window); err != nil {
			return nil, invalid("send_window", "%v", err)
		}
	}
	at := sendAt.UTC()
	sched := &domain.ScheduleConfig{SendAt: &at, Window: window}
	if err := s.repo.SetSchedule(ctx, orgID, id, sched, domain.CampaignDraft, domain.CampaignScheduled); err != nil {
		return nil, err
	}
	c.Schedule = sched
	c.Status = domain.CampaignScheduled
	return c, nil
}

// Unschedule returns a scheduled campaign to draft and clears its schedule.
func (s *Service) Unschedule(ctx context.Context, orgID, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignScheduled {
		return nil, transition(string(c.Status), "unschedule")
	}
	if err := s.repo.SetSchedule(ctx, orgID, id, nil, domain.CampaignScheduled, domain.CampaignDraft); err != nil {
		return nil, err
	}
	c.Schedule = nil
	c.Status = domain.CampaignDraft
	return c, nil
}

// Clone copies a draft, scheduled or sent campaign into a new draft. Sends
// and the A/B outcome are never copied.
func (s *Service) Clone(ctx context.Context, orgID, id, userID string) (*domain.Campaign, error) {
	src, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if src.Status == domain.CampaignSending {
		return nil, transition(string(src.Status), "clone")
	}
	now := s.now()
	c := &domain.Campaign{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           src.Name + " (copy)",
		SegmentID:      src.SegmentID,
		TemplateID:     src.TemplateID,
		Channel:        src.Channel,
		Status:         domain.CampaignDraft,
		MaxRecipients:  src.MaxRecipients,
		CreatedBy:      userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if src.AB != nil {
		ab := &domain.ABConfig{SplitPercent: src.AB.SplitPercent}
		if len(src.AB.Variants) > 0 {
			ab.Variants = make(map[string]domain.VariantContent, len(src.AB.Variants))
			for k, v := range src.AB.Variants {
				ab.Variants[k] = v
			}
		}
		c.AB = ab
	}
	if src.Schedule != nil {
		sc := *src.Schedule
		if sc.Window != nil {
			w := *sc.Window
			sc.Window = &w
		}
		if sc.SendAt != nil {
			t := *sc.SendAt
			sc.SendAt = &t
		}
		c.Schedule = &sc
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a draft or scheduled campaign.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	c, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if !c.Deletable() {
		return transition(string(c.Status), "delete")
	}
	return s.repo.Delete(ctx, orgID, id)
}

// Finalize closes a sending campaign whose sends are all terminal and
// publishes the completion event. It is called by the scheduler only.
func (s *Service) Finalize(ctx context.Context, c *domain.Campaign) error {
	now := s.now()
	if err := s.repo.TransitionStatus(ctx, c.OrganizationID, c.ID, []domain.CampaignStatus{domain.CampaignSending}, domain.CampaignSent, now); err != nil {
		return err
	}
	s.log.Info("campaign completed",
		"campaign_id", c.ID,
		"org_id", c.OrganizationID,
		"total_recipients", c.TotalRecipients,
	)
	s.events.Publish(ctx, notify.CampaignCompleted(c.ID, c.Name, c.TotalRecipients, now))
	return nil
}

func (s *Service) withLock(ctx context.Context, campaignID string, fn func(context.Context) error) (bool, error) {
	if s.locks == nil {
		return true, fn(ctx)
	}
	return distlock.Run(ctx, s.locks(fmt.Sprintf("campaign:enqueue:%s", campaignID)), fn)
}
