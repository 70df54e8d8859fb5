// Package tracking records opens and clicks against campaign sends and
// serves the public pixel, redirect and unsubscribe endpoints.
//
// The endpoints are unauthenticated and reachable by mail clients, image
// proxies and bots. Unknown tokens are a normal outcome, never an error
// surfaced to the caller.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// ErrNotFound is returned by a Repository for an unknown token or link.
var ErrNotFound = errors.New("tracking target not found")

// Outcome describes what happened to one tracking hit.
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeExpired   Outcome = "expired"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeError     Outcome = "error"
)

// TrackedSend is a send together with the org that owns its campaign.
type TrackedSend struct {
	domain.CampaignSend
	OrganizationID string
}

// Repository is the storage contract of the recorder.
type Repository interface {
	SendByToken(ctx context.Context, token string) (*TrackedSend, error)
	LinkByID(ctx context.Context, linkID string) (*domain.TrackingLink, *TrackedSend, error)

	// InsertOpenOnce stores an open unless the send already has one.
	InsertOpenOnce(ctx context.Context, e *domain.EngagementEvent) (bool, error)

	InsertClick(ctx context.Context, e *domain.EngagementEvent) error
}

// Suppressor blocks an address for future campaigns.
type Suppressor interface {
	AddEntry(ctx context.Context, orgID string, kind domain.SuppressionKind, value, reason string) (*domain.SuppressionEntry, error)
}

// Meta is request metadata stored with an event.
type Meta struct {
	IP        string
	UserAgent string
}

// Recorder applies the open and click contracts.
type Recorder struct {
	repo       Repository
	suppressor Suppressor
	expiry     time.Duration
	now        func() time.Time
	log        *logger.Logger
}

// NewRecorder creates a Recorder. expiry <= 0 means tokens never expire.
// suppressor may be nil, in which case unsubscribes are not honored.
func NewRecorder(repo Repository, suppressor Suppressor, expiry time.Duration) *Recorder {
	return &Recorder{
		repo:       repo,
		suppressor: suppressor,
		expiry:     expiry,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.With("component", "tracking.Recorder"),
	}
}

// expired reports whether the send is older than the expiry window. Age
// runs from delivery, or from creation for sends never delivered.
func (r *Recorder) expired(s *TrackedSend) bool {
	if r.expiry <= 0 {
		return false
	}
	from := s.CreatedAt
	if s.SentAt != nil {
		from = *s.SentAt
	}
	return r.now().Sub(from) > r.expiry
}

func (r *Recorder) event(sendID string, t domain.EngagementType, m Meta) *domain.EngagementEvent {
	return &domain.EngagementEvent{
		ID:             uuid.New().String(),
		CampaignSendID: sendID,
		Type:           t,
		IPAddress:      m.IP,
		UserAgent:      m.UserAgent,
		DeviceType:     detectDevice(m.UserAgent),
		OccurredAt:     r.now(),
	}
}

// RecordOpen stores at most one open per send.
func (r *Recorder) RecordOpen(ctx context.Context, token string, m Meta) (outcome Outcome, err error) {
	defer func() { metrics.TrackingOpens.WithLabelValues(string(outcome)).Inc() }()

	send, err := r.repo.SendByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeError, fmt.Errorf("lookup token: %w", err)
	}
	if r.expired(send) {
		return OutcomeExpired, nil
	}
	inserted, err := r.repo.InsertOpenOnce(ctx, r.event(send.ID, domain.EngagementOpen, m))
	if err != nil {
		return OutcomeError, fmt.Errorf("record open: %w", err)
	}
	if !inserted {
		return OutcomeDuplicate, nil
	}
	return OutcomeRecorded, nil
}

// RecordClick stores every click and returns the destination. The URL is
// returned whenever the link is known, even if recording fails.
func (r *Recorder) RecordClick(ctx context.Context, linkID string, m Meta) (dest string, outcome Outcome, err error) {
	defer func() { metrics.TrackingClicks.WithLabelValues(string(outcome)).Inc() }()

	link, send, err := r.repo.LinkByID(ctx, linkID)
	if errors.Is(err, ErrNotFound) {
		return "", OutcomeNotFound, nil
	}
	if err != nil {
		return "", OutcomeError, fmt.Errorf("lookup link: %w", err)
	}
	if r.expired(send) {
		return link.URL, OutcomeExpired, nil
	}
	e := r.event(send.ID, domain.EngagementClick, m)
	e.TrackingLinkID = &link.ID
	if err := r.repo.InsertClick(ctx, e); err != nil {
		return link.URL, OutcomeError, fmt.Errorf("record click: %w", err)
	}
	return link.URL, OutcomeRecorded, nil
}

// Unsubscribe adds the send's address to its org's suppression list.
// Expiry does not apply: an unsubscribe request is always honored.
func (r *Recorder) Unsubscribe(ctx context.Context, token string) (Outcome, error) {
	if r.suppressor == nil {
		return OutcomeNotFound, nil
	}
	send, err := r.repo.SendByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeError, fmt.Errorf("lookup token: %w", err)
	}
	if _, err := r.suppressor.AddEntry(ctx, send.OrganizationID, domain.SuppressEmail, send.Email, "unsubscribed via campaign "+send.CampaignID); err != nil {
		return OutcomeError, fmt.Errorf("suppress: %w", err)
	}
	r.log.Info("recipient unsubscribed",
		"campaign_id", send.CampaignID,
		"send_id", send.ID,
		"email", send.Email,
	)
	return OutcomeRecorded, nil
}
