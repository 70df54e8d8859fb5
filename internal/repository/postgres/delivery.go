package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/delivery"
	"github.com/ignite/campaign-engine/internal/domain"
)

// DeliveryStore implements delivery.Store against PostgreSQL.
type DeliveryStore struct{ db *sql.DB }

// NewDeliveryStore creates a Postgres-backed delivery store.
func NewDeliveryStore(db *sql.DB) *DeliveryStore { return &DeliveryStore{db: db} }

func (s *DeliveryStore) GetSend(ctx context.Context, id string) (*domain.CampaignSend, error) {
	send, err := scanSend(s.db.QueryRowContext(ctx, `
		SELECT `+sendColumns+`
		FROM campaign_sends s
		WHERE s.id = $1
	`, id))
	if noRow(err) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get send: %w", err)
	}
	return send, nil
}

func (s *DeliveryStore) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns c
		WHERE c.id = $1
	`, id))
	if noRow(err) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *DeliveryStore) GetTemplate(ctx context.Context, orgID, id string) (*domain.Template, error) {
	t, err := getTemplate(ctx, s.db, orgID, id)
	if noRow(err) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// RenderContext loads the lead, the contact and the lead's newest open deal.
func (s *DeliveryStore) RenderContext(ctx context.Context, orgID, leadID, contactID string) (*domain.RenderContext, error) {
	var (
		rc     domain.RenderContext
		custom []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT l.id, l.organization_id, l.name, l.company_name, l.owner_name, l.owner_email,
		       l.custom_fields, c.id, c.first_name, c.last_name, c.email
		FROM leads l
		JOIN contacts c ON c.lead_id = l.id
		WHERE l.id = $1 AND l.organization_id = $2 AND c.id = $3
	`, leadID, orgID, contactID).Scan(
		&rc.Lead.ID, &rc.Lead.OrganizationID, &rc.Lead.Name, &rc.Organization,
		&rc.OwnerName, &rc.OwnerEmail, &custom,
		&rc.Contact.ID, &rc.Contact.FirstName, &rc.Contact.LastName, &rc.Contact.Email,
	)
	if noRow(err) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load render context: %w", err)
	}
	if rc.CustomFields, err = stringMap(custom); err != nil {
		return nil, fmt.Errorf("decode custom_fields: %w", err)
	}

	var d domain.Deal
	err = s.db.QueryRowContext(ctx, `
		SELECT title, value, stage
		FROM deals
		WHERE lead_id = $1 AND is_open
		ORDER BY created_at DESC
		LIMIT 1
	`, leadID).Scan(&d.Title, &d.Value, &d.Stage)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("load deal: %w", err)
	default:
		rc.Deal = &d
	}
	return &rc, nil
}

func (s *DeliveryStore) TrackingLink(ctx context.Context, sendID, url string) (*domain.TrackingLink, error) {
	l := domain.TrackingLink{CampaignSendID: sendID, URL: url}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO campaign_tracking_links (id, campaign_send_id, url, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (campaign_send_id, url) DO UPDATE SET url = EXCLUDED.url
		RETURNING id, created_at
	`, uuid.New().String(), sendID, url).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("tracking link: %w", err)
	}
	return &l, nil
}

func (s *DeliveryStore) MarkSent(ctx context.Context, id, providerMessageID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_sends
		SET sent_at = $2, provider_message_id = $3
		WHERE id = $1 AND sent_at IS NULL AND failed_at IS NULL
	`, id, at, nullString(providerMessageID))
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *DeliveryStore) MarkFailed(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_sends
		SET failed_at = $2, last_error = $3
		WHERE id = $1 AND sent_at IS NULL AND failed_at IS NULL
	`, id, at, reason)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertActivity writes at most one activity per send.
func (s *DeliveryStore) InsertActivity(ctx context.Context, a *domain.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities
			(id, organization_id, lead_id, kind, subject, completed, user_id, campaign_send_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (campaign_send_id) DO NOTHING
	`, a.ID, a.OrganizationID, a.LeadID, a.Kind, a.Subject, a.Completed,
		nullString(a.UserID), a.CampaignSendID, a.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

const sendColumns = `s.id, s.campaign_id, s.lead_id, s.contact_id, s.email, s.variant,
	s.tracking_token, s.sent_at, s.failed_at, s.last_error, s.provider_message_id, s.created_at`

func scanSend(r rowScanner, extra ...any) (*domain.CampaignSend, error) {
	var (
		s                     domain.CampaignSend
		variant, errMsg, pmid sql.NullString
		sent, failed          sql.NullTime
	)
	dest := []any{
		&s.ID, &s.CampaignID, &s.LeadID, &s.ContactID, &s.Email, &variant,
		&s.TrackingToken, &sent, &failed, &errMsg, &pmid, &s.CreatedAt,
	}
	if err := r.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	s.Variant = variant.String
	s.LastError = errMsg.String
	s.ProviderMessageID = pmid.String
	s.SentAt = timePtr(sent)
	s.FailedAt = timePtr(failed)
	return &s, nil
}

var _ delivery.Store = (*DeliveryStore)(nil)
