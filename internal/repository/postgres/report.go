package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/campaign-engine/internal/report"
)

// ReportRepo implements report.Repository against PostgreSQL.
type ReportRepo struct{ db *sql.DB }

// NewReportRepo creates a Postgres-backed report repository.
func NewReportRepo(db *sql.DB) *ReportRepo { return &ReportRepo{db: db} }

func (r *ReportRepo) owned(ctx context.Context, orgID, campaignID string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1 AND organization_id = $2)`,
		campaignID, orgID,
	).Scan(&exists)
	if noRow(err) {
		return report.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return report.ErrNotFound
	}
	return nil
}

func (r *ReportRepo) SendLog(ctx context.Context, orgID, campaignID string) ([]report.SendLogRow, error) {
	if err := r.owned(ctx, orgID, campaignID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sendColumns+`,
		       (SELECT MIN(e.occurred_at) FROM campaign_engagement_events e
		        WHERE e.campaign_send_id = s.id AND e.event_type = 'open'),
		       (SELECT COUNT(*) FROM campaign_engagement_events e
		        WHERE e.campaign_send_id = s.id AND e.event_type = 'click')
		FROM campaign_sends s
		WHERE s.campaign_id = $1
		ORDER BY s.created_at, s.id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("send log: %w", err)
	}
	defer rows.Close()

	var out []report.SendLogRow
	for rows.Next() {
		var (
			opened sql.NullTime
			clicks int
		)
		s, err := scanSend(rows, &opened, &clicks)
		if err != nil {
			return nil, fmt.Errorf("scan send log: %w", err)
		}
		row := report.SendLogRow{
			SendID:            s.ID,
			LeadID:            s.LeadID,
			ContactID:         s.ContactID,
			Email:             s.Email,
			Variant:           s.Variant,
			Status:            report.StatusPending,
			SentAt:            s.SentAt,
			FailedAt:          s.FailedAt,
			LastError:         s.LastError,
			ProviderMessageID: s.ProviderMessageID,
			OpenedAt:          timePtr(opened),
			Clicks:            clicks,
		}
		switch {
		case s.SentAt != nil:
			row.Status = report.StatusSent
		case s.FailedAt != nil:
			row.Status = report.StatusFailed
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LinkClicks groups clicks by destination URL. Latency is measured per
// recipient from delivery to their first click on that URL.
func (r *ReportRepo) LinkClicks(ctx context.Context, orgID, campaignID string) ([]report.LinkStats, error) {
	if err := r.owned(ctx, orgID, campaignID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		WITH clicks AS (
			SELECT l.url, s.contact_id, s.sent_at, e.id AS event_id, e.occurred_at
			FROM campaign_tracking_links l
			JOIN campaign_sends s ON s.id = l.campaign_send_id
			LEFT JOIN campaign_engagement_events e
			       ON e.tracking_link_id = l.id AND e.event_type = 'click'
			WHERE s.campaign_id = $1
		), firsts AS (
			SELECT url, EXTRACT(EPOCH FROM MIN(occurred_at) - MIN(sent_at)) AS latency
			FROM clicks
			WHERE event_id IS NOT NULL AND sent_at IS NOT NULL
			GROUP BY url, contact_id
		)
		SELECT c.url,
		       COUNT(c.event_id),
		       COUNT(DISTINCT c.contact_id) FILTER (WHERE c.event_id IS NOT NULL),
		       (SELECT percentile_cont(0.5) WITHIN GROUP (ORDER BY f.latency)
		        FROM firsts f WHERE f.url = c.url)
		FROM clicks c
		GROUP BY c.url
		ORDER BY COUNT(c.event_id) DESC, c.url
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("link clicks: %w", err)
	}
	defer rows.Close()

	var out []report.LinkStats
	for rows.Next() {
		var (
			ls     report.LinkStats
			median sql.NullFloat64
		)
		if err := rows.Scan(&ls.URL, &ls.Clicks, &ls.UniqueClickers, &median); err != nil {
			return nil, fmt.Errorf("scan link stats: %w", err)
		}
		if median.Valid {
			v := median.Float64
			ls.MedianFirstClickSeconds = &v
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

func (r *ReportRepo) Failures(ctx context.Context, orgID, campaignID string) ([]report.Failure, error) {
	if err := r.owned(ctx, orgID, campaignID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, COALESCE(variant, ''), failed_at, COALESCE(last_error, '')
		FROM campaign_sends
		WHERE campaign_id = $1 AND failed_at IS NOT NULL
		ORDER BY failed_at, id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failures: %w", err)
	}
	defer rows.Close()

	var out []report.Failure
	for rows.Next() {
		var f report.Failure
		if err := rows.Scan(&f.SendID, &f.Email, &f.Variant, &f.FailedAt, &f.LastError); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *ReportRepo) Summary(ctx context.Context, orgID, campaignID string) (*report.Summary, error) {
	if err := r.owned(ctx, orgID, campaignID); err != nil {
		return nil, err
	}
	sum := &report.Summary{CampaignID: campaignID}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE s.sent_at IS NOT NULL),
		       COUNT(*) FILTER (WHERE s.failed_at IS NOT NULL),
		       COUNT(*) FILTER (WHERE EXISTS (
		           SELECT 1 FROM campaign_engagement_events e
		           WHERE e.campaign_send_id = s.id AND e.event_type = 'open')),
		       COALESCE(SUM((SELECT COUNT(*) FROM campaign_engagement_events e
		           WHERE e.campaign_send_id = s.id AND e.event_type = 'click')), 0),
		       COUNT(*) FILTER (WHERE EXISTS (
		           SELECT 1 FROM campaign_engagement_events e
		           WHERE e.campaign_send_id = s.id AND e.event_type = 'click'))
		FROM campaign_sends s
		WHERE s.campaign_id = $1
	`, campaignID).Scan(&sum.Total, &sum.Sent, &sum.Failed, &sum.UniqueOpens, &sum.Clicks, &sum.UniqueClicks)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return sum, nil
}

var _ report.Repository = (*ReportRepo)(nil)
