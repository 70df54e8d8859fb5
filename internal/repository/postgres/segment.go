package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/segment"
	"github.com/lib/pq"
)

// SegmentRepo implements segment.Repository against PostgreSQL. It reads
// the CRM tables (leads, contacts, tags, enrollments) directly.
type SegmentRepo struct{ db *sql.DB }

// NewSegmentRepo creates a Postgres-backed segment repository.
func NewSegmentRepo(db *sql.DB) *SegmentRepo { return &SegmentRepo{db: db} }

func scanSegment(s rowScanner) (*segment.Segment, error) {
	var (
		seg     segment.Segment
		filter  []byte
		exclude sql.NullString
	)
	if err := s.Scan(&seg.ID, &seg.OrganizationID, &seg.Name, &filter, &exclude, &seg.CreatedAt, &seg.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(filter, &seg.Filter); err != nil {
		return nil, fmt.Errorf("decode filter of segment %s: %w", seg.ID, err)
	}
	if exclude.Valid {
		seg.ExcludeSegmentID = &exclude.String
	}
	return &seg, nil
}

func (r *SegmentRepo) GetSegment(ctx context.Context, orgID, id string) (*segment.Segment, error) {
	s, err := scanSegment(r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, filter, exclude_segment_id, created_at, updated_at
		FROM segments
		WHERE id = $1 AND organization_id = $2
	`, id, orgID))
	if noRow(err) {
		return nil, segment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return s, nil
}

func (r *SegmentRepo) List(ctx context.Context, orgID string) ([]segment.Segment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, name, filter, exclude_segment_id, created_at, updated_at
		FROM segments
		WHERE organization_id = $1
		ORDER BY name, id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []segment.Segment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *SegmentRepo) Create(ctx context.Context, s *segment.Segment) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	filter, err := json.Marshal(s.Filter)
	if err != nil {
		return fmt.Errorf("encode filter: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO segments (id, organization_id, name, filter, exclude_segment_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.OrganizationID, s.Name, filter, excludeArg(s), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	return nil
}

func (r *SegmentRepo) Update(ctx context.Context, s *segment.Segment) error {
	filter, err := json.Marshal(s.Filter)
	if err != nil {
		return fmt.Errorf("encode filter: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE segments
		SET name = $3, filter = $4, exclude_segment_id = $5, updated_at = $6
		WHERE id = $1 AND organization_id = $2
	`, s.ID, s.OrganizationID, s.Name, filter, excludeArg(s), s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update segment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return segment.ErrNotFound
	}
	return nil
}

func (r *SegmentRepo) Delete(ctx context.Context, orgID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM segments WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return segment.ErrInUse
		}
		return fmt.Errorf("delete segment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return segment.ErrNotFound
	}
	return nil
}

func excludeArg(s *segment.Segment) sql.NullString {
	if s.ExcludeSegmentID == nil {
		return sql.NullString{}
	}
	return nullString(*s.ExcludeSegmentID)
}

// Candidates loads the org's leads narrowed by q with their primary
// contact, then attaches enrollment and engagement history for the
// sequences and campaigns q names.
func (r *SegmentRepo) Candidates(ctx context.Context, orgID string, q segment.CandidateQuery) ([]segment.Candidate, error) {
	where := []string{"l.organization_id = $1"}
	args := []interface{}{orgID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.PipelineID != "" {
		add("l.pipeline_id = $%d", q.PipelineID)
		if len(q.StageIDs) > 0 {
			add("l.stage_id = ANY($%d)", pq.Array(q.StageIDs))
		}
	}
	if len(q.AnyTagIDs) > 0 {
		add("EXISTS (SELECT 1 FROM lead_tags t WHERE t.lead_id = l.id AND t.tag_id = ANY($%d))", pq.Array(q.AnyTagIDs))
	}
	if q.MinScore != nil {
		add("l.score >= $%d", *q.MinScore)
	}
	if q.MaxScore != nil {
		add("l.score <= $%d", *q.MaxScore)
	}
	if q.CreatedFrom != nil {
		add("l.created_at >= $%d", *q.CreatedFrom)
	}
	if q.CreatedTo != nil {
		add("l.created_at <= $%d", *q.CreatedTo)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT l.id, COALESCE(l.company_id, ''), COALESCE(l.pipeline_id, ''), COALESCE(l.stage_id, ''),
		       l.source, l.score, l.created_at, l.utm, l.custom_fields,
		       ARRAY(SELECT t.tag_id FROM lead_tags t WHERE t.lead_id = l.id ORDER BY t.tag_id),
		       c.id, COALESCE(c.email, ''), COALESCE(c.unsubscribed, FALSE),
		       COALESCE(c.do_not_contact, FALSE), COALESCE(c.hard_bounced, FALSE)
		FROM leads l
		LEFT JOIN contacts c ON c.lead_id = l.id AND c.is_primary
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY l.created_at, l.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	defer rows.Close()

	var (
		out       []segment.Candidate
		byContact = map[string]int{}
		byLead    = map[string]int{}
	)
	for rows.Next() {
		var (
			c         segment.Candidate
			utm, cf   []byte
			contactID sql.NullString
			contact   segment.ContactInfo
		)
		if err := rows.Scan(
			&c.LeadID, &c.CompanyID, &c.PipelineID, &c.StageID,
			&c.Source, &c.Score, &c.CreatedAt, &utm, &cf,
			pq.Array(&c.TagIDs),
			&contactID, &contact.Email, &contact.Unsubscribed,
			&contact.DoNotContact, &contact.HardBounced,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if c.UTM, err = stringMap(utm); err != nil {
			return nil, fmt.Errorf("decode utm of lead %s: %w", c.LeadID, err)
		}
		if c.CustomFields, err = stringMap(cf); err != nil {
			return nil, fmt.Errorf("decode custom_fields of lead %s: %w", c.LeadID, err)
		}
		if contactID.Valid {
			contact.ID = contactID.String
			c.Contact = &contact
			byContact[contact.ID] = len(out)
		}
		byLead[c.LeadID] = len(out)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	if len(q.SequenceIDs) > 0 {
		if err := r.attachSequences(ctx, orgID, q.SequenceIDs, out, byLead); err != nil {
			return nil, err
		}
	}
	if len(q.CampaignIDs) > 0 {
		if err := r.attachEngagement(ctx, orgID, q.CampaignIDs, out, byContact); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *SegmentRepo) attachSequences(ctx context.Context, orgID string, ids []string, out []segment.Candidate, byLead map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT se.lead_id, se.sequence_id, se.status
		FROM sequence_enrollments se
		JOIN leads l ON l.id = se.lead_id
		WHERE l.organization_id = $1 AND se.sequence_id = ANY($2)
	`, orgID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load enrollments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var leadID, seqID, status string
		if err := rows.Scan(&leadID, &seqID, &status); err != nil {
			return fmt.Errorf("scan enrollment: %w", err)
		}
		i, ok := byLead[leadID]
		if !ok {
			continue
		}
		if out[i].Sequences == nil {
			out[i].Sequences = map[string]string{}
		}
		out[i].Sequences[seqID] = status
	}
	return rows.Err()
}

func (r *SegmentRepo) attachEngagement(ctx context.Context, orgID string, ids []string, out []segment.Candidate, byContact map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.contact_id, s.campaign_id,
		       bool_or(EXISTS (SELECT 1 FROM campaign_engagement_events e
		                       WHERE e.campaign_send_id = s.id AND e.event_type = 'open')),
		       bool_or(EXISTS (SELECT 1 FROM campaign_engagement_events e
		                       WHERE e.campaign_send_id = s.id AND e.event_type = 'click'))
		FROM campaign_sends s
		JOIN campaigns c ON c.id = s.campaign_id
		WHERE c.organization_id = $1 AND s.campaign_id = ANY($2)
		GROUP BY s.contact_id, s.campaign_id
	`, orgID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load engagement: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			contactID, campaignID string
			h                     segment.EngagementHistory
		)
		if err := rows.Scan(&contactID, &campaignID, &h.Opened, &h.Clicked); err != nil {
			return fmt.Errorf("scan engagement: %w", err)
		}
		i, ok := byContact[contactID]
		if !ok {
			continue
		}
		if out[i].Engagement == nil {
			out[i].Engagement = map[string]segment.EngagementHistory{}
		}
		out[i].Engagement[campaignID] = h
	}
	return rows.Err()
}

// stringMap decodes a JSONB object, rendering non-string values as text.
func stringMap(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case nil:
		case string:
			out[k] = t
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out, nil
}

var _ segment.Repository = (*SegmentRepo)(nil)
