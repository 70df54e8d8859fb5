package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/lib/pq"
)

// insertChunk bounds the rows of one multi-row INSERT.
const insertChunk = 500

const campaignColumns = `c.id, c.organization_id, c.name, c.segment_id, c.template_id, c.channel,
	c.ab_config, c.send_at, c.send_window, c.status, c.max_recipients, c.created_by,
	c.sent_at, c.completed_at, c.created_at, c.updated_at`

// CampaignRepo implements campaign.Repository and campaign.SendRepository
// against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(s rowScanner, extra ...any) (*domain.Campaign, error) {
	var (
		c                    domain.Campaign
		ab, window           []byte
		sendAt, sent, compAt sql.NullTime
	)
	dest := []any{
		&c.ID, &c.OrganizationID, &c.Name, &c.SegmentID, &c.TemplateID, &c.Channel,
		&ab, &sendAt, &window, &c.Status, &c.MaxRecipients, &c.CreatedBy,
		&sent, &compAt, &c.CreatedAt, &c.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if len(ab) > 0 {
		c.AB = &domain.ABConfig{}
		if err := json.Unmarshal(ab, c.AB); err != nil {
			return nil, fmt.Errorf("decode ab_config: %w", err)
		}
	}
	if sendAt.Valid || len(window) > 0 {
		c.Schedule = &domain.ScheduleConfig{SendAt: timePtr(sendAt)}
		if len(window) > 0 {
			c.Schedule.Window = &domain.SendWindow{}
			if err := json.Unmarshal(window, c.Schedule.Window); err != nil {
				return nil, fmt.Errorf("decode send_window: %w", err)
			}
		}
	}
	c.SentAt = timePtr(sent)
	c.CompletedAt = timePtr(compAt)
	return &c, nil
}

func scheduleArgs(s *domain.ScheduleConfig) (sql.NullTime, any, error) {
	if s == nil {
		return sql.NullTime{}, nil, nil
	}
	var window any
	if s.Window != nil {
		w, err := jsonb(s.Window)
		if err != nil {
			return sql.NullTime{}, nil, err
		}
		window = w
	}
	return nullTime(s.SendAt), window, nil
}

func (r *CampaignRepo) Get(ctx context.Context, orgID, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`,
		       (SELECT COUNT(*) FROM campaign_sends s WHERE s.campaign_id = c.id)
		FROM campaigns c
		WHERE c.id = $1 AND c.organization_id = $2
	`, id, orgID)
	var total int
	c, err := scanCampaign(row, &total)
	if noRow(err) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	c.TotalRecipients = total
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, orgID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ` WHERE c.organization_id = $1`
	args := []interface{}{orgID}
	idx := 2
	if f.Status != "" {
		where += fmt.Sprintf(" AND c.status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND c.name ILIKE $%d", idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns c`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + `,
	             (SELECT COUNT(*) FROM campaign_sends s WHERE s.campaign_id = c.id)
	      FROM campaigns c` + where +
		fmt.Sprintf(" ORDER BY c.created_at DESC, c.id LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var n int
		c, err := scanCampaign(rows, &n)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		c.TotalRecipients = n
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	ab, err := jsonb(c.AB)
	if err != nil {
		return fmt.Errorf("encode ab_config: %w", err)
	}
	sendAt, window, err := scheduleArgs(c.Schedule)
	if err != nil {
		return fmt.Errorf("encode send_window: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, organization_id, name, segment_id, template_id, channel, ab_config,
			 send_at, send_window, status, max_recipients, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, c.ID, c.OrganizationID, c.Name, c.SegmentID, c.TemplateID, c.Channel, ab,
		sendAt, window, c.Status, c.MaxRecipients, c.CreatedBy, c.CreatedAt)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return &campaign.ValidationError{Field: "segment_id", Err: campaign.ErrInvalidInput, Msg: "segment does not exist"}
		}
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Update(ctx context.Context, c *domain.Campaign) error {
	ab, err := jsonb(c.AB)
	if err != nil {
		return fmt.Errorf("encode ab_config: %w", err)
	}
	sendAt, window, err := scheduleArgs(c.Schedule)
	if err != nil {
		return fmt.Errorf("encode send_window: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET name = $3, segment_id = $4, template_id = $5, channel = $6, ab_config = $7,
		    send_at = $8, send_window = $9, max_recipients = $10, updated_at = $11
		WHERE id = $1 AND organization_id = $2 AND status IN ('draft', 'scheduled')
	`, c.ID, c.OrganizationID, c.Name, c.SegmentID, c.TemplateID, c.Channel, ab,
		sendAt, window, c.MaxRecipients, c.UpdatedAt)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return &campaign.ValidationError{Field: "segment_id", Err: campaign.ErrInvalidInput, Msg: "segment does not exist"}
		}
		return fmt.Errorf("update campaign: %w", err)
	}
	return r.checkAffected(ctx, res, c.OrganizationID, c.ID)
}

func (r *CampaignRepo) Delete(ctx context.Context, orgID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM campaigns
		WHERE id = $1 AND organization_id = $2 AND status IN ('draft', 'scheduled')
	`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	return r.checkAffected(ctx, res, orgID, id)
}

func (r *CampaignRepo) SetSchedule(ctx context.Context, orgID, id string, s *domain.ScheduleConfig, from, to domain.CampaignStatus) error {
	sendAt, window, err := scheduleArgs(s)
	if err != nil {
		return fmt.Errorf("encode send_window: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET send_at = $3, send_window = $4, status = $5, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND status = $6
	`, id, orgID, sendAt, window, to, from)
	if err != nil {
		return fmt.Errorf("set schedule: %w", err)
	}
	return r.checkAffected(ctx, res, orgID, id)
}

func (r *CampaignRepo) BeginSending(ctx context.Context, orgID, id string, from []domain.CampaignStatus, sends []domain.CampaignSend, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'sending', sent_at = COALESCE(sent_at, $3), updated_at = $3
		WHERE id = $1 AND organization_id = $2 AND status = ANY($4)
	`, id, orgID, at, pq.Array(statusStrings(from)))
	if err != nil {
		return fmt.Errorf("begin sending: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return r.missing(ctx, orgID, id)
	}
	if err := insertSends(ctx, tx, sends); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit begin sending: %w", err)
	}
	return nil
}

func (r *CampaignRepo) TransitionStatus(ctx context.Context, orgID, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $3,
		    completed_at = CASE WHEN $3 = 'sent' THEN $4 ELSE completed_at END,
		    updated_at = $4
		WHERE id = $1 AND organization_id = $2 AND status = ANY($5)
	`, id, orgID, to, at, pq.Array(statusStrings(from)))
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	return r.checkAffected(ctx, res, orgID, id)
}

func (r *CampaignRepo) SetWinner(ctx context.Context, orgID, id, winner string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET ab_config = jsonb_set(ab_config, '{winner}', to_jsonb($3::text)), updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		  AND ab_config IS NOT NULL
		  AND ab_config->>'remainder_sent_at' IS NULL
	`, id, orgID, winner)
	if err != nil {
		return fmt.Errorf("set winner: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	c, err := r.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if c.AB == nil {
		return campaign.ErrNotABTest
	}
	return campaign.ErrRemainderSent
}

func (r *CampaignRepo) MarkRemainderSent(ctx context.Context, orgID, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET ab_config = jsonb_set(ab_config, '{remainder_sent_at}', to_jsonb($3::timestamptz)), updated_at = $3
		WHERE id = $1 AND organization_id = $2 AND ab_config IS NOT NULL
	`, id, orgID, at)
	if err != nil {
		return fmt.Errorf("mark remainder sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, after *domain.Campaign, limit int) ([]domain.Campaign, error) {
	where := `c.status = 'scheduled' AND c.send_at <= $1`
	args := []interface{}{now}
	if after != nil && after.Schedule != nil && after.Schedule.SendAt != nil {
		where += ` AND (c.send_at, c.id) > ($2, $3)`
		args = append(args, *after.Schedule.SendAt, after.ID)
	}
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns c
		WHERE `+where+`
		ORDER BY c.send_at, c.id
		LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) ListSendingComplete(ctx context.Context, limit int) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`,
		       (SELECT COUNT(*) FROM campaign_sends s WHERE s.campaign_id = c.id)
		FROM campaigns c
		WHERE c.status = 'sending'
		  AND NOT EXISTS (
		      SELECT 1 FROM campaign_sends s
		      WHERE s.campaign_id = c.id AND s.sent_at IS NULL AND s.failed_at IS NULL
		  )
		ORDER BY c.sent_at, c.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list completed campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var n int
		c, err := scanCampaign(rows, &n)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.TotalRecipients = n
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) Template(ctx context.Context, orgID, id string) (*domain.Template, error) {
	t, err := getTemplate(ctx, r.db, orgID, id)
	if noRow(err) {
		return nil, campaign.ErrMissingTemplate
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// ── sends ──

func (r *CampaignRepo) InsertBatch(ctx context.Context, sends []domain.CampaignSend) error {
	if len(sends) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := insertSends(ctx, tx, sends); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sends: %w", err)
	}
	return nil
}

func insertSends(ctx context.Context, tx *sql.Tx, sends []domain.CampaignSend) error {
	const width = 8
	for start := 0; start < len(sends); start += insertChunk {
		end := min(start+insertChunk, len(sends))
		chunk := sends[start:end]
		args := make([]interface{}, 0, len(chunk)*width)
		for _, s := range chunk {
			args = append(args, s.ID, s.CampaignID, s.LeadID, s.ContactID, s.Email,
				nullString(s.Variant), s.TrackingToken, s.CreatedAt)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_sends
				(id, campaign_id, lead_id, contact_id, email, variant, tracking_token, created_at)
			VALUES `+placeholders(len(chunk), width, 1), args...)
		if err != nil {
			return fmt.Errorf("insert sends %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (r *CampaignRepo) MarkQueued(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_sends SET queued_at = $1
		WHERE id = ANY($2) AND queued_at IS NULL
	`, at, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark sends queued: %w", err)
	}
	return nil
}

func (r *CampaignRepo) ListUnqueued(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id
		FROM campaign_sends s
		WHERE s.queued_at IS NULL AND s.sent_at IS NULL AND s.failed_at IS NULL
		  AND s.created_at < $1
		ORDER BY s.created_at, s.id
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list unqueued sends: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan send id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *CampaignRepo) VariantStats(ctx context.Context, campaignID string) ([]domain.VariantStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.variant,
		       COUNT(*) FILTER (WHERE s.sent_at IS NOT NULL),
		       COUNT(e.id) FILTER (WHERE s.sent_at IS NOT NULL)
		FROM campaign_sends s
		LEFT JOIN campaign_engagement_events e
		       ON e.campaign_send_id = s.id AND e.event_type = 'open'
		WHERE s.campaign_id = $1 AND s.variant IS NOT NULL
		GROUP BY s.variant
		ORDER BY s.variant
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("variant stats: %w", err)
	}
	defer rows.Close()

	var out []domain.VariantStats
	for rows.Next() {
		var v domain.VariantStats
		if err := rows.Scan(&v.Variant, &v.Sent, &v.Opens); err != nil {
			return nil, fmt.Errorf("scan variant stats: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) NonOpeners(ctx context.Context, campaignID, variant, exclude string) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.lead_id, s.contact_id, s.email
		FROM campaign_sends s
		WHERE s.campaign_id = $1 AND s.variant = $2 AND s.sent_at IS NOT NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM campaign_engagement_events e
		      WHERE e.campaign_send_id = s.id AND e.event_type = 'open'
		  )
		  AND NOT EXISTS (
		      SELECT 1 FROM campaign_sends w
		      WHERE w.campaign_id = s.campaign_id AND w.variant = $3 AND w.contact_id = s.contact_id
		  )
		ORDER BY s.created_at, s.id
	`, campaignID, variant, exclude)
	if err != nil {
		return nil, fmt.Errorf("non-openers: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var rc domain.Recipient
		if err := rows.Scan(&rc.LeadID, &rc.ContactID, &rc.Email); err != nil {
			return nil, fmt.Errorf("scan non-opener: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) CountByCampaign(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_sends WHERE campaign_id = $1`, campaignID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sends: %w", err)
	}
	return n, nil
}

// checkAffected turns a conditional write that matched nothing into
// ErrNotFound or ErrInvalidTransition.
func (r *CampaignRepo) checkAffected(ctx context.Context, res sql.Result, orgID, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.missing(ctx, orgID, id)
}

func (r *CampaignRepo) missing(ctx context.Context, orgID, id string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1 AND organization_id = $2)`,
		id, orgID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return campaign.ErrNotFound
	}
	return campaign.ErrInvalidTransition
}

func getTemplate(ctx context.Context, db *sql.DB, orgID, id string) (*domain.Template, error) {
	var (
		t    domain.Template
		text sql.NullString
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, subject, html_body, text_body,
		       from_name, from_email, reply_to, created_at
		FROM email_templates
		WHERE id = $1 AND organization_id = $2
	`, id, orgID).Scan(
		&t.ID, &t.OrganizationID, &t.Name, &t.Subject, &t.HTMLBody, &text,
		&t.FromName, &t.FromEmail, &t.ReplyTo, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if text.Valid {
		t.TextBody = &text.String
	}
	return &t, nil
}

var _ interface {
	campaign.Repository
	campaign.SendRepository
} = (*CampaignRepo)(nil)
