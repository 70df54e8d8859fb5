package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/suppression"
	"github.com/lib/pq"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) ListEntries(ctx context.Context, orgID string) ([]domain.SuppressionEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, kind, value, reason, created_at
		FROM suppression_entries
		WHERE organization_id = $1
		ORDER BY created_at DESC, id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionEntry
	for rows.Next() {
		var e domain.SuppressionEntry
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.Kind, &e.Value, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddEntry inserts e. On a duplicate kind/value the existing row is
// returned through e untouched.
func (r *SuppressionRepo) AddEntry(ctx context.Context, e *domain.SuppressionEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, `
		WITH ins AS (
			INSERT INTO suppression_entries (id, organization_id, kind, value, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (organization_id, kind, value) DO NOTHING
			RETURNING id, reason, created_at
		)
		SELECT id, reason, created_at FROM ins
		UNION ALL
		SELECT id, reason, created_at FROM suppression_entries
		WHERE organization_id = $2 AND kind = $3 AND value = $4
		LIMIT 1
	`, e.ID, e.OrganizationID, e.Kind, e.Value, e.Reason, e.CreatedAt).Scan(&e.ID, &e.Reason, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("add suppression: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) RemoveEntry(ctx context.Context, orgID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM suppression_entries WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		if noRow(err) {
			return suppression.ErrNotFound
		}
		return fmt.Errorf("remove suppression: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

// CountRecentSends counts delivered sends per contact across every
// campaign of the org.
func (r *SuppressionRepo) CountRecentSends(ctx context.Context, orgID string, contactIDs []string, since time.Time) (map[string]int, error) {
	out := make(map[string]int)
	if len(contactIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.contact_id, COUNT(*)
		FROM campaign_sends s
		JOIN campaigns c ON c.id = s.campaign_id
		WHERE c.organization_id = $1
		  AND s.contact_id = ANY($2::uuid[])
		  AND s.sent_at >= $3
		GROUP BY s.contact_id
	`, orgID, pq.Array(contactIDs), since)
	if err != nil {
		return nil, fmt.Errorf("count recent sends: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan send count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

var _ suppression.Repository = (*SuppressionRepo)(nil)
