package segment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Service implements segment CRUD. Resolution lives on Resolver.
type Service struct {
	repo Repository
}

// NewService creates a segment service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Input holds the operator-editable fields of a segment.
type Input struct {
	Name             string  `json:"name"`
	Filter           Filter  `json:"filter"`
	ExcludeSegmentID *string `json:"exclude_segment_id,omitempty"`
}

func (s *Service) validate(ctx context.Context, orgID, selfID string, in Input) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFilter)
	}
	if err := in.Filter.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	if in.ExcludeSegmentID == nil || *in.ExcludeSegmentID == "" {
		return nil
	}
	// walk the exclusion chain so a cycle is rejected at write time
	seen := map[string]bool{selfID: selfID != ""}
	next := *in.ExcludeSegmentID
	for next != "" {
		if seen[next] {
			return ErrExclusionCycle
		}
		seen[next] = true
		seg, err := s.repo.GetSegment(ctx, orgID, next)
		if err != nil {
			return fmt.Errorf("exclusion segment %s: %w", next, err)
		}
		if seg.ExcludeSegmentID == nil {
			break
		}
		next = *seg.ExcludeSegmentID
	}
	return nil
}

// Create validates and persists a new segment.
func (s *Service) Create(ctx context.Context, orgID string, in Input) (*Segment, error) {
	if err := s.validate(ctx, orgID, "", in); err != nil {
		return nil, err
	}
	seg := &Segment{
		ID:               uuid.New().String(),
		OrganizationID:   orgID,
		Name:             strings.TrimSpace(in.Name),
		Filter:           in.Filter,
		ExcludeSegmentID: in.ExcludeSegmentID,
	}
	if err := s.repo.Create(ctx, seg); err != nil {
		return nil, err
	}
	return seg, nil
}

// Get returns a single segment.
func (s *Service) Get(ctx context.Context, orgID, id string) (*Segment, error) {
	return s.repo.GetSegment(ctx, orgID, id)
}

// List returns the org's segments.
func (s *Service) List(ctx context.Context, orgID string) ([]Segment, error) {
	return s.repo.List(ctx, orgID)
}

// Update replaces the name, filter and exclusion reference.
func (s *Service) Update(ctx context.Context, orgID, id string, in Input) (*Segment, error) {
	seg, err := s.repo.GetSegment(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, orgID, id, in); err != nil {
		return nil, err
	}
	seg.Name = strings.TrimSpace(in.Name)
	seg.Filter = in.Filter
	seg.ExcludeSegmentID = in.ExcludeSegmentID
	if err := s.repo.Update(ctx, seg); err != nil {
		return nil, err
	}
	return seg, nil
}

// Delete removes a segment. Segments referenced by campaigns are kept.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	return s.repo.Delete(ctx, orgID, id)
}
