package segment

import (
	"context"
	"time"
)

// Segment is a named, reusable audience definition. Identity is immutable,
// the filter is not.
type Segment struct {
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organization_id"`
	Name             string    `json:"name"`
	Filter           Filter    `json:"filter"`
	ExcludeSegmentID *string   `json:"exclude_segment_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Store is the read side the Resolver depends on.
type Store interface {
	// GetSegment returns ErrNotFound if the segment does not exist in the org.
	GetSegment(ctx context.Context, orgID, id string) (*Segment, error)

	// Candidates returns leads of the org narrowed by q, ordered by lead
	// created_at then lead id so repeated calls are stable.
	Candidates(ctx context.Context, orgID string, q CandidateQuery) ([]Candidate, error)
}

// Repository adds the write side used by the Service.
type Repository interface {
	Store

	List(ctx context.Context, orgID string) ([]Segment, error)
	Create(ctx context.Context, s *Segment) error
	Update(ctx context.Context, s *Segment) error
	// Delete returns ErrInUse when a campaign references the segment.
	Delete(ctx context.Context, orgID, id string) error
}
