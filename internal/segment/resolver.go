package segment

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Resolver turns segments into deduplicated recipient lists.
// It is read-only and safe for concurrent use.
type Resolver struct {
	store Store
	log   *logger.Logger
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, log: logger.With("component", "segment.Resolver")}
}

// Resolve returns the segment's recipients in stable order. limit caps the
// result after the exclusion segment is subtracted; 0 means no cap.
func (r *Resolver) Resolve(ctx context.Context, orgID, segmentID string, limit int) ([]domain.Recipient, error) {
	recipients, err := r.resolve(ctx, orgID, segmentID, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(recipients) > limit {
		recipients = recipients[:limit]
	}
	r.log.Debug("segment resolved", "segment_id", segmentID, "recipients", len(recipients))
	return recipients, nil
}

// Preview evaluates an unsaved filter. It returns the full eligible count
// and up to limit sample recipients.
func (r *Resolver) Preview(ctx context.Context, orgID string, f Filter, limit int) (int, []domain.Recipient, error) {
	if err := f.Validate(); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	recipients, err := r.evaluate(ctx, orgID, f)
	if err != nil {
		return 0, nil, err
	}
	total := len(recipients)
	if limit > 0 && len(recipients) > limit {
		recipients = recipients[:limit]
	}
	return total, recipients, nil
}

// resolve runs one full pass for a segment and, when it names an exclusion
// segment, a second pass through the same path whose contact ids are
// subtracted. visited guards against exclusion cycles.
func (r *Resolver) resolve(ctx context.Context, orgID, segmentID string, visited map[string]bool) ([]domain.Recipient, error) {
	if visited[segmentID] {
		return nil, fmt.Errorf("%w: %s", ErrExclusionCycle, segmentID)
	}
	visited[segmentID] = true

	seg, err := r.store.GetSegment(ctx, orgID, segmentID)
	if err != nil {
		return nil, err
	}

	base, err := r.evaluate(ctx, orgID, seg.Filter)
	if err != nil {
		return nil, fmt.Errorf("resolve segment %s: %w", segmentID, err)
	}
	if seg.ExcludeSegmentID == nil || *seg.ExcludeSegmentID == "" {
		return base, nil
	}

	excluded, err := r.resolve(ctx, orgID, *seg.ExcludeSegmentID, visited)
	if err != nil {
		return nil, fmt.Errorf("resolve exclusion segment: %w", err)
	}
	return Subtract(base, excluded), nil
}

// evaluate loads candidates and applies the filter and contact rules,
// deduplicating by contact and keeping the first occurrence.
func (r *Resolver) evaluate(ctx context.Context, orgID string, f Filter) ([]domain.Recipient, error) {
	candidates, err := r.store.Candidates(ctx, orgID, Pushdown(f))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]domain.Recipient, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if !Eligible(c, f) || !f.Match(c) {
			continue
		}
		if seen[c.Contact.ID] {
			continue
		}
		seen[c.Contact.ID] = true
		out = append(out, c.Recipient())
	}
	return out, nil
}

// Eligible applies the contact-level rules that hold regardless of the
// predicates: a primary contact with an email, never do-not-contact,
// not unsubscribed unless opted in, not hard-bounced when requested.
func Eligible(c *Candidate, f Filter) bool {
	ct := c.Contact
	if ct == nil || ct.ID == "" || strings.TrimSpace(ct.Email) == "" {
		return false
	}
	if ct.DoNotContact {
		return false
	}
	if ct.Unsubscribed && !f.IncludeUnsubscribed {
		return false
	}
	if ct.HardBounced && f.ExcludeBounced {
		return false
	}
	return true
}

// Subtract returns base minus every contact present in excluded, keeping
// base order.
func Subtract(base, excluded []domain.Recipient) []domain.Recipient {
	if len(excluded) == 0 {
		return base
	}
	drop := make(map[string]bool, len(excluded))
	for _, e := range excluded {
		drop[e.ContactID] = true
	}
	out := base[:0:0]
	for _, b := range base {
		if !drop[b.ContactID] {
			out = append(out, b)
		}
	}
	return out
}
