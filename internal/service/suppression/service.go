package suppression

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// FrequencyWindow is the trailing window the per-contact cap counts over.
const FrequencyWindow = 24 * time.Hour

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo      Repository
	capPerDay int
	log       *logger.Logger
}

// NewService creates a suppression service. capPerDay <= 0 disables the
// frequency cap.
func NewService(repo Repository, capPerDay int) *Service {
	return &Service{
		repo:      repo,
		capPerDay: capPerDay,
		log:       logger.With("component", "suppression.Service"),
	}
}

// Normalize lowercases and trims a value. Domains also lose a leading "@".
func Normalize(kind domain.SuppressionKind, value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if kind == domain.SuppressDomain {
		v = strings.TrimPrefix(v, "@")
	}
	return v
}

// AddEntry normalizes, validates and stores an entry. Adding an existing
// entry is a no-op that returns the stored one.
func (s *Service) AddEntry(ctx context.Context, orgID string, kind domain.SuppressionKind, value, reason string) (*domain.SuppressionEntry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, kind)
	}
	value = Normalize(kind, value)
	if value == "" {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidEntry)
	}
	switch kind {
	case domain.SuppressEmail:
		if _, err := mail.ParseAddress(value); err != nil || !strings.Contains(value, "@") {
			return nil, fmt.Errorf("%w: %q is not an email address", ErrInvalidEntry, value)
		}
	case domain.SuppressDomain:
		if strings.Contains(value, "@") || !strings.Contains(value, ".") {
			return nil, fmt.Errorf("%w: %q is not a domain", ErrInvalidEntry, value)
		}
	}

	e := &domain.SuppressionEntry{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Kind:           kind,
		Value:          value,
		Reason:         reason,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.AddEntry(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RemoveEntry deletes an entry by id.
func (s *Service) RemoveEntry(ctx context.Context, orgID, id string) error {
	return s.repo.RemoveEntry(ctx, orgID, id)
}

// List returns the org's suppression entries.
func (s *Service) List(ctx context.Context, orgID string) ([]domain.SuppressionEntry, error) {
	return s.repo.ListEntries(ctx, orgID)
}

// Report counts what Filter dropped and why.
type Report struct {
	Input        int `json:"input"`
	Kept         int `json:"kept"`
	Email        int `json:"suppressed_email"`
	Domain       int `json:"suppressed_domain"`
	FrequencyCap int `json:"frequency_capped"`
}

// List is a compiled suppression list for fast membership checks.
type List struct {
	emails  map[string]bool
	domains map[string]bool
}

// Compile builds a List from stored entries.
func Compile(entries []domain.SuppressionEntry) *List {
	l := &List{emails: map[string]bool{}, domains: map[string]bool{}}
	for _, e := range entries {
		switch e.Kind {
		case domain.SuppressEmail:
			l.emails[Normalize(e.Kind, e.Value)] = true
		case domain.SuppressDomain:
			l.domains[Normalize(e.Kind, e.Value)] = true
		}
	}
	return l
}

// Match returns the kind of entry that blocks email, or "" when none does.
// Email entries match exactly (case-insensitive); domain entries match the
// part after the "@".
func (l *List) Match(email string) domain.SuppressionKind {
	if l.emails[strings.ToLower(strings.TrimSpace(email))] {
		return domain.SuppressEmail
	}
	if d := domain.EmailDomain(email); d != "" && l.domains[d] {
		return domain.SuppressDomain
	}
	return ""
}

// Filter removes suppressed recipients and, when a cap is configured, those
// with cap or more successful sends in the 24 hours before now. Order is
// preserved so variant assignment stays deterministic.
func (s *Service) Filter(ctx context.Context, orgID string, recipients []domain.Recipient, now time.Time) ([]domain.Recipient, Report, error) {
	report := Report{Input: len(recipients)}

	entries, err := s.repo.ListEntries(ctx, orgID)
	if err != nil {
		return nil, report, fmt.Errorf("load suppression list: %w", err)
	}
	list := Compile(entries)

	kept := make([]domain.Recipient, 0, len(recipients))
	for _, r := range recipients {
		switch list.Match(r.Email) {
		case domain.SuppressEmail:
			report.Email++
			continue
		case domain.SuppressDomain:
			report.Domain++
			continue
		}
		kept = append(kept, r)
	}

	if s.capPerDay > 0 && len(kept) > 0 {
		ids := make([]string, len(kept))
		for i, r := range kept {
			ids[i] = r.ContactID
		}
		counts, err := s.repo.CountRecentSends(ctx, orgID, ids, now.Add(-FrequencyWindow))
		if err != nil {
			return nil, report, fmt.Errorf("count recent sends: %w", err)
		}
		capped := kept[:0]
		for _, r := range kept {
			if counts[r.ContactID] >= s.capPerDay {
				report.FrequencyCap++
				continue
			}
			capped = append(capped, r)
		}
		kept = capped
	}

	report.Kept = len(kept)
	if report.Kept != report.Input {
		s.log.Info("recipients filtered",
			"org_id", orgID,
			"input", report.Input,
			"kept", report.Kept,
			"email", report.Email,
			"domain", report.Domain,
			"frequency_cap", report.FrequencyCap,
		)
	}
	return kept, report, nil
}
