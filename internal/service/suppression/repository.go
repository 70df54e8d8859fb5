package suppression

import (
	"context"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Repository defines the data access contract for the suppression list and
// the send history the frequency cap reads.
type Repository interface {
	// ListEntries returns every suppression entry for an org.
	ListEntries(ctx context.Context, orgID string) ([]domain.SuppressionEntry, error)

	// AddEntry inserts an entry. If the same kind/value already exists the
	// existing record is preserved (idempotent) and e.ID is set to it.
	AddEntry(ctx context.Context, e *domain.SuppressionEntry) error

	// RemoveEntry deletes an entry. Returns ErrNotFound if it doesn't exist.
	RemoveEntry(ctx context.Context, orgID, id string) error

	// CountRecentSends returns, per contact id, the number of sends with
	// sent_at in [since, now]. Contacts with no sends may be absent.
	CountRecentSends(ctx context.Context, orgID string, contactIDs []string, since time.Time) (map[string]int, error)
}
