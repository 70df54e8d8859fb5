package suppression

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ── mock repository ──────────────────────────────────────────────────────────

type sendRecord struct {
	contactID string
	sentAt    time.Time
}

type mockRepo struct {
	mu      sync.RWMutex
	entries map[string]domain.SuppressionEntry // keyed "orgID:kind:value"
	sends   map[string][]sendRecord            // keyed orgID
	listErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		entries: make(map[string]domain.SuppressionEntry),
		sends:   make(map[string][]sendRecord),
	}
}

func (m *mockRepo) key(orgID string, kind domain.SuppressionKind, value string) string {
	return orgID + ":" + string(kind) + ":" + value
}

func (m *mockRepo) ListEntries(_ context.Context, orgID string) ([]domain.SuppressionEntry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SuppressionEntry
	for _, e := range m.entries {
		if e.OrganizationID == orgID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockRepo) AddEntry(_ context.Context, e *domain.SuppressionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(e.OrganizationID, e.Kind, e.Value)
	if existing, ok := m.entries[k]; ok {
		*e = existing
		return nil
	}
	m.entries[k] = *e
	return nil
}

func (m *mockRepo) RemoveEntry(_ context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if e.OrganizationID == orgID && e.ID == id {
			delete(m.entries, k)
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockRepo) CountRecentSends(_ context.Context, orgID string, contactIDs []string, since time.Time) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]bool, len(contactIDs))
	for _, id := range contactIDs {
		want[id] = true
	}
	out := map[string]int{}
	for _, s := range m.sends[orgID] {
		if want[s.contactID] && !s.sentAt.Before(since) {
			out[s.contactID]++
		}
	}
	return out, nil
}

func (m *mockRepo) addSend(orgID, contactID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends[orgID] = append(m.sends[orgID], sendRecord{contactID: contactID, sentAt: at})
}

// ── helpers ──────────────────────────────────────────────────────────────────

const testOrg = "org-1"

func recipient(id, email string) domain.Recipient {
	return domain.Recipient{LeadID: "lead-" + id, ContactID: id, Email: email}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestAddEntry_NormalizesAndIsIdempotent(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, 0)
	ctx := context.Background()

	first, err := svc.AddEntry(ctx, testOrg, domain.SuppressDomain, "  @Competitor.COM ", "competitor")
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if first.Value != "competitor.com" {
		t.Errorf("expected normalized value competitor.com, got %q", first.Value)
	}

	second, err := svc.AddEntry(ctx, testOrg, domain.SuppressDomain, "competitor.com", "again")
	if err != nil {
		t.Fatalf("AddEntry (dup): %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected duplicate add to return existing id %s, got %s", first.ID, second.ID)
	}

	list, _ := svc.List(ctx, testOrg)
	if len(list) != 1 {
		t.Errorf("expected 1 entry, got %d", len(list))
	}
}

func TestAddEntry_Invalid(t *testing.T) {
	svc := NewService(newMockRepo(), 0)
	ctx := context.Background()

	cases := []struct {
		kind  domain.SuppressionKind
		value string
	}{
		{"phone", "555-1234"},
		{domain.SuppressEmail, ""},
		{domain.SuppressEmail, "not-an-email"},
		{domain.SuppressDomain, "user@example.com"},
		{domain.SuppressDomain, "localhost"},
	}
	for _, c := range cases {
		if _, err := svc.AddEntry(ctx, testOrg, c.kind, c.value, ""); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("AddEntry(%s, %q): expected ErrInvalidEntry, got %v", c.kind, c.value, err)
		}
	}
}

func TestRemoveEntry(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, 0)
	ctx := context.Background()

	e, err := svc.AddEntry(ctx, testOrg, domain.SuppressEmail, "a@b.com", "")
	if err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if err := svc.RemoveEntry(ctx, testOrg, e.ID); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	if err := svc.RemoveEntry(ctx, testOrg, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestFilter_DomainSuppression(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, 0)
	ctx := context.Background()

	if _, err := svc.AddEntry(ctx, testOrg, domain.SuppressDomain, "competitor.com", ""); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	in := []domain.Recipient{
		recipient("c1", "a@competitor.com"),
		recipient("c2", "b@other.com"),
		recipient("c3", "c@COMPETITOR.com"),
	}
	kept, report, err := svc.Filter(ctx, testOrg, in, time.Now())
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(kept) != 1 || kept[0].ContactID != "c2" {
		t.Fatalf("expected only c2 to remain, got %+v", kept)
	}
	if report.Domain != 2 || report.Kept != 1 || report.Input != 3 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestFilter_EmailSuppressionIsExactAndCaseInsensitive(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, 0)
	ctx := context.Background()

	if _, err := svc.AddEntry(ctx, testOrg, domain.SuppressEmail, "Bob@Example.com", ""); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	in := []domain.Recipient{
		recipient("c1", "bob@example.com"),
		recipient("c2", "bobby@example.com"),
	}
	kept, report, err := svc.Filter(ctx, testOrg, in, time.Now())
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(kept) != 1 || kept[0].ContactID != "c2" {
		t.Fatalf("expected only c2 to remain, got %+v", kept)
	}
	if report.Email != 1 {
		t.Errorf("expected 1 email suppression, got %d", report.Email)
	}
}

func TestFilter_OrgIsolation(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, 0)
	ctx := context.Background()

	if _, err := svc.AddEntry(ctx, "org-2", domain.SuppressEmail, "a@b.com", ""); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	kept, _, err := svc.Filter(ctx, testOrg, []domain.Recipient{recipient("c1", "a@b.com")}, time.Now())
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("another org's entry must not suppress, got %d kept", len(kept))
	}
}

func TestFilter_FrequencyCap(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, 2)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// c1 hit the cap within the window, c2 has one send, c3's sends are stale.
	repo.addSend(testOrg, "c1", now.Add(-2*time.Hour))
	repo.addSend(testOrg, "c1", now.Add(-23*time.Hour))
	repo.addSend(testOrg, "c2", now.Add(-1*time.Hour))
	repo.addSend(testOrg, "c3", now.Add(-25*time.Hour))
	repo.addSend(testOrg, "c3", now.Add(-30*time.Hour))

	in := []domain.Recipient{
		recipient("c1", "one@x.com"),
		recipient("c2", "two@x.com"),
		recipient("c3", "three@x.com"),
	}
	kept, report, err := svc.Filter(ctx, testOrg, in, now)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(kept) != 2 || kept[0].ContactID != "c2" || kept[1].ContactID != "c3" {
		t.Fatalf("expected c2 and c3 in order, got %+v", kept)
	}
	if report.FrequencyCap != 1 {
		t.Errorf("expected 1 capped, got %d", report.FrequencyCap)
	}
}

func TestFilter_CapDisabled(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, 0)
	now := time.Now()
	for i := 0; i < 10; i++ {
		repo.addSend(testOrg, "c1", now.Add(-time.Minute))
	}
	kept, _, err := svc.Filter(context.Background(), testOrg, []domain.Recipient{recipient("c1", "a@b.com")}, now)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("expected recipient kept with cap disabled")
	}
}

func TestFilter_RepoError(t *testing.T) {
	repo := newMockRepo()
	repo.listErr = errors.New("db down")
	svc := NewService(repo, 0)
	if _, _, err := svc.Filter(context.Background(), testOrg, []domain.Recipient{recipient("c1", "a@b.com")}, time.Now()); err == nil {
		t.Fatal("expected error when the list cannot be loaded")
	}
}

func TestListMatch(t *testing.T) {
	l := Compile([]domain.SuppressionEntry{
		{Kind: domain.SuppressEmail, Value: "x@y.com"},
		{Kind: domain.SuppressDomain, Value: "@Blocked.org"},
	})
	if got := l.Match("X@Y.com"); got != domain.SuppressEmail {
		t.Errorf("expected email match, got %q", got)
	}
	if got := l.Match("anyone@blocked.org"); got != domain.SuppressDomain {
		t.Errorf("expected domain match, got %q", got)
	}
	if got := l.Match("anyone@sub.blocked.org"); got != "" {
		t.Errorf("subdomains are not matched, got %q", got)
	}
}
