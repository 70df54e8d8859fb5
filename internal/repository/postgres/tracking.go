package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/tracking"
)

// TrackingRepo implements tracking.Repository against PostgreSQL.
type TrackingRepo struct{ db *sql.DB }

// NewTrackingRepo creates a Postgres-backed tracking repository.
func NewTrackingRepo(db *sql.DB) *TrackingRepo { return &TrackingRepo{db: db} }

func (r *TrackingRepo) SendByToken(ctx context.Context, token string) (*tracking.TrackedSend, error) {
	var org string
	s, err := scanSend(r.db.QueryRowContext(ctx, `
		SELECT `+sendColumns+`, c.organization_id
		FROM campaign_sends s
		JOIN campaigns c ON c.id = s.campaign_id
		WHERE s.tracking_token = $1
	`, token), &org)
	if noRow(err) {
		return nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("send by token: %w", err)
	}
	return &tracking.TrackedSend{CampaignSend: *s, OrganizationID: org}, nil
}

func (r *TrackingRepo) LinkByID(ctx context.Context, linkID string) (*domain.TrackingLink, *tracking.TrackedSend, error) {
	var (
		l   domain.TrackingLink
		org string
	)
	s, err := scanSend(r.db.QueryRowContext(ctx, `
		SELECT `+sendColumns+`, c.organization_id, l.id, l.url, l.created_at
		FROM campaign_tracking_links l
		JOIN campaign_sends s ON s.id = l.campaign_send_id
		JOIN campaigns c ON c.id = s.campaign_id
		WHERE l.id = $1
	`, linkID), &org, &l.ID, &l.URL, &l.CreatedAt)
	if noRow(err) {
		return nil, nil, tracking.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("link by id: %w", err)
	}
	l.CampaignSendID = s.ID
	return &l, &tracking.TrackedSend{CampaignSend: *s, OrganizationID: org}, nil
}

// InsertOpenOnce relies on the partial unique index over opens; a second
// open of the same send inserts nothing.
func (r *TrackingRepo) InsertOpenOnce(ctx context.Context, e *domain.EngagementEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_engagement_events
			(id, campaign_send_id, event_type, ip_address, user_agent, device_type, occurred_at)
		VALUES ($1, $2, 'open', $3, $4, $5, $6)
		ON CONFLICT (campaign_send_id) WHERE event_type = 'open' DO NOTHING
	`, e.ID, e.CampaignSendID, e.IPAddress, e.UserAgent, e.DeviceType, e.OccurredAt)
	if err != nil {
		return false, fmt.Errorf("insert open: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *TrackingRepo) InsertClick(ctx context.Context, e *domain.EngagementEvent) error {
	var link sql.NullString
	if e.TrackingLinkID != nil {
		link = nullString(*e.TrackingLinkID)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_engagement_events
			(id, campaign_send_id, event_type, tracking_link_id, ip_address, user_agent, device_type, occurred_at)
		VALUES ($1, $2, 'click', $3, $4, $5, $6, $7)
	`, e.ID, e.CampaignSendID, link, e.IPAddress, e.UserAgent, e.DeviceType, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert click: %w", err)
	}
	return nil
}

var _ tracking.Repository = (*TrackingRepo)(nil)
