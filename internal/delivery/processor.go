package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/abtest"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/render"
	"github.com/ignite/campaign-engine/internal/tracking"
	"github.com/ignite/campaign-engine/internal/transport"
)

// Store is the data the processor reads and the markers it writes. Lookups
// return ErrNotFound when the record is gone.
type Store interface {
	GetSend(ctx context.Context, id string) (*domain.CampaignSend, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	GetTemplate(ctx context.Context, orgID, id string) (*domain.Template, error)
	RenderContext(ctx context.Context, orgID, leadID, contactID string) (*domain.RenderContext, error)

	// TrackingLink returns the link for (sendID, url), creating it once.
	TrackingLink(ctx context.Context, sendID, url string) (*domain.TrackingLink, error)

	// MarkSent sets sent_at only when neither marker is set. It reports
	// whether a row changed.
	MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) (bool, error)

	// MarkFailed sets failed_at and last_error only when neither marker is set.
	MarkFailed(ctx context.Context, id, reason string, at time.Time) (bool, error)

	InsertActivity(ctx context.Context, a *domain.Activity) error
}

// ProcessorConfig holds sender identity and URL bases.
type ProcessorConfig struct {
	TrackingBaseURL    string
	UnsubscribeBaseURL string
	DefaultFromName    string
	DefaultFromEmail   string
	DefaultReplyTo     string
}

// Processor delivers one CampaignSend per job.
type Processor struct {
	store     Store
	transport transport.Transport
	renderer  *render.Renderer
	cfg       ProcessorConfig
	now       func() time.Time
	log       *logger.Logger
}

func NewProcessor(store Store, t transport.Transport, r *render.Renderer, cfg ProcessorConfig) *Processor {
	cfg.TrackingBaseURL = strings.TrimRight(cfg.TrackingBaseURL, "/")
	return &Processor{
		store:     store,
		transport: t,
		renderer:  r,
		cfg:       cfg,
		now:       time.Now,
		log:       logger.With("component", "delivery.Processor"),
	}
}

// Process renders and transmits the job's send. Transport and store errors
// are returned for retry. Missing context returns an ErrPermanent error so
// the send is failed without consuming retries.
func (p *Processor) Process(ctx context.Context, job Job) error {
	send, err := p.store.GetSend(ctx, job.CampaignSendID)
	if errors.Is(err, ErrNotFound) {
		p.log.Warn("send no longer exists, skipping", "campaign_send_id", job.CampaignSendID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load send: %w", err)
	}
	if send.IsTerminal() {
		return nil
	}

	campaign, err := p.store.GetCampaign(ctx, send.CampaignID)
	if errors.Is(err, ErrNotFound) {
		return p.permanent(send, "campaign deleted")
	}
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}

	tmpl, err := p.store.GetTemplate(ctx, campaign.OrganizationID, campaign.TemplateID)
	if errors.Is(err, ErrNotFound) {
		return p.permanent(send, "template missing")
	}
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	rc, err := p.store.RenderContext(ctx, campaign.OrganizationID, send.LeadID, send.ContactID)
	if errors.Is(err, ErrNotFound) {
		return p.permanent(send, "recipient deleted")
	}
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}

	msg, err := p.compose(ctx, send, campaign, tmpl, rc)
	if err != nil {
		return err
	}

	messageID, err := p.transport.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	now := p.now().UTC()
	marked, err := p.store.MarkSent(ctx, send.ID, messageID, now)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if !marked {
		p.log.Warn("send already terminal after transmit", "campaign_send_id", send.ID)
		return nil
	}
	metrics.SendsDelivered.Inc()

	activity := &domain.Activity{
		ID:             uuid.New().String(),
		OrganizationID: campaign.OrganizationID,
		LeadID:         send.LeadID,
		Kind:           domain.ActivityEmail,
		Subject:        msg.Subject,
		Completed:      true,
		UserID:         job.TriggeredBy,
		CampaignSendID: send.ID,
		OccurredAt:     now,
	}
	if err := p.store.InsertActivity(ctx, activity); err != nil {
		p.log.Warn("activity not recorded", "campaign_send_id", send.ID, "error", err.Error())
	}
	return nil
}

func (p *Processor) compose(ctx context.Context, send *domain.CampaignSend, c *domain.Campaign, t *domain.Template, rc *domain.RenderContext) (transport.Message, error) {
	content := abtest.EffectiveContent(t, c.AB, send.Variant)
	out := p.renderer.Render(render.Content{
		Subject: content.Subject,
		HTML:    content.HTMLBody,
		Text:    content.TextBody,
	}, rc)

	unsubscribe := p.unsubscribeURL(send.TrackingToken)
	html, err := render.RewriteLinks(out.HTML, func(u string) (string, error) {
		link, err := p.store.TrackingLink(ctx, send.ID, u)
		if err != nil {
			return "", fmt.Errorf("tracking link: %w", err)
		}
		return tracking.ClickURL(p.cfg.TrackingBaseURL, link.ID), nil
	}, p.cfg.UnsubscribeBaseURL, p.cfg.TrackingBaseURL)
	if err != nil {
		return transport.Message{}, err
	}
	html = render.AppendPixel(html, tracking.OpenURL(p.cfg.TrackingBaseURL, send.TrackingToken))

	return transport.Message{
		To:                 send.Email,
		Subject:            out.Subject,
		HTML:               html,
		Text:               out.Text,
		FromName:           firstNonEmpty(t.FromName, p.cfg.DefaultFromName),
		FromEmail:          firstNonEmpty(t.FromEmail, p.cfg.DefaultFromEmail),
		ReplyTo:            firstNonEmpty(t.ReplyTo, p.cfg.DefaultReplyTo),
		ListUnsubscribeURL: unsubscribe,
		Tags: map[string]string{
			"campaign_id":      c.ID,
			"campaign_send_id": send.ID,
		},
	}, nil
}

func (p *Processor) unsubscribeURL(token string) string {
	if p.cfg.UnsubscribeBaseURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(p.cfg.UnsubscribeBaseURL, "?") {
		sep = "&"
	}
	return p.cfg.UnsubscribeBaseURL + sep + "token=" + url.QueryEscape(token)
}

// permanent reports a send that can never be delivered. The pool records
// it through Fail without spending retries.
func (p *Processor) permanent(send *domain.CampaignSend, reason string) error {
	p.log.Warn("send cannot be delivered", "campaign_send_id", send.ID, "reason", reason)
	return Permanent(reason)
}

// Fail marks the send failed with the final error.
func (p *Processor) Fail(ctx context.Context, job Job, cause error) error {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	if _, err := p.store.MarkFailed(ctx, job.CampaignSendID, reason, p.now().UTC()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
