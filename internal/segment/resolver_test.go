package segment_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrg = "org-1"

// memStore is an in-memory segment repository for unit testing.
type memStore struct {
	mu         sync.Mutex
	segments   map[string]*segment.Segment
	candidates []segment.Candidate
	queries    []segment.CandidateQuery
}

func newMemStore() *memStore {
	return &memStore{segments: map[string]*segment.Segment{}}
}

func (m *memStore) GetSegment(_ context.Context, orgID, id string) (*segment.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[id]
	if !ok || s.OrganizationID != orgID {
		return nil, segment.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) Candidates(_ context.Context, _ string, q segment.CandidateQuery) ([]segment.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	out := append([]segment.Candidate(nil), m.candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].LeadID < out[j].LeadID
	})
	return out, nil
}

func (m *memStore) List(_ context.Context, orgID string) ([]segment.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []segment.Segment
	for _, s := range m.segments {
		if s.OrganizationID == orgID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) Create(_ context.Context, s *segment.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.segments[s.ID] = &cp
	return nil
}

func (m *memStore) Update(ctx context.Context, s *segment.Segment) error {
	return m.Create(ctx, s)
}

func (m *memStore) Delete(_ context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[id]; !ok {
		return segment.ErrNotFound
	}
	delete(m.segments, id)
	return nil
}

func (m *memStore) addSegment(id string, f segment.Filter, exclude string) {
	s := &segment.Segment{ID: id, OrganizationID: testOrg, Name: id, Filter: f}
	if exclude != "" {
		s.ExcludeSegmentID = &exclude
	}
	m.segments[id] = s
}

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func lead(n int, tags ...string) segment.Candidate {
	return segment.Candidate{
		LeadID:    fmt.Sprintf("lead-%02d", n),
		CreatedAt: base.Add(time.Duration(n) * time.Hour),
		TagIDs:    tags,
		Contact: &segment.ContactInfo{
			ID:    fmt.Sprintf("contact-%02d", n),
			Email: fmt.Sprintf("c%02d@example.com", n),
		},
	}
}

func contactIDs(rs []domain.Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ContactID
	}
	return out
}

func TestResolveIsDeterministic(t *testing.T) {
	store := newMemStore()
	for i := 10; i > 0; i-- {
		store.candidates = append(store.candidates, lead(i, "vip"))
	}
	store.addSegment("s1", segment.Filter{Predicates: []segment.Predicate{segment.HasTags{TagIDs: []string{"vip"}}}}, "")
	r := segment.NewResolver(store)

	first, err := r.Resolve(context.Background(), testOrg, "s1", 0)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), testOrg, "s1", 0)
	require.NoError(t, err)

	assert.Len(t, first, 10)
	assert.Equal(t, first, second)
	assert.Equal(t, "contact-01", first[0].ContactID)
}

func TestResolveExclusionIsSetDifference(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 6; i++ {
		tags := []string{"all"}
		if i%2 == 0 {
			tags = append(tags, "even")
		}
		store.candidates = append(store.candidates, lead(i, tags...))
	}
	store.addSegment("evens", segment.Filter{Predicates: []segment.Predicate{segment.HasTags{TagIDs: []string{"even"}}}}, "")
	store.addSegment("everyone-but-evens", segment.Filter{Predicates: []segment.Predicate{segment.HasTags{TagIDs: []string{"all"}}}}, "evens")
	r := segment.NewResolver(store)

	got, err := r.Resolve(context.Background(), testOrg, "everyone-but-evens", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"contact-01", "contact-03", "contact-05"}, contactIDs(got))
}

func TestResolveExclusionIsRecursive(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 4; i++ {
		store.candidates = append(store.candidates, lead(i))
	}
	store.candidates[0].Source, store.candidates[1].Source, store.candidates[2].Source = "web", "web", "web"
	store.candidates[3].Source = "partner"
	// c = {1,2,3}; b = everyone minus c = {4}; a = everyone minus b = {1,2,3}
	store.addSegment("c", segment.Filter{Predicates: []segment.Predicate{segment.SourceMatch{Text: "web"}}}, "")
	store.addSegment("b", segment.Filter{}, "c")
	store.addSegment("a", segment.Filter{}, "b")
	r := segment.NewResolver(store)

	got, err := r.Resolve(context.Background(), testOrg, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"contact-01", "contact-02", "contact-03"}, contactIDs(got))
}

func TestResolveDetectsExclusionCycle(t *testing.T) {
	store := newMemStore()
	store.candidates = []segment.Candidate{lead(1)}
	store.addSegment("a", segment.Filter{}, "b")
	store.addSegment("b", segment.Filter{}, "a")

	_, err := segment.NewResolver(store).Resolve(context.Background(), testOrg, "a", 0)
	assert.ErrorIs(t, err, segment.ErrExclusionCycle)
}

func TestResolveUnknownSegment(t *testing.T) {
	_, err := segment.NewResolver(newMemStore()).Resolve(context.Background(), testOrg, "missing", 0)
	assert.ErrorIs(t, err, segment.ErrNotFound)
}

func TestResolveDedupesByContact(t *testing.T) {
	store := newMemStore()
	a, b := lead(1), lead(2)
	b.Contact.ID = a.Contact.ID
	store.candidates = []segment.Candidate{a, b, lead(3)}
	store.addSegment("s", segment.Filter{}, "")

	got, err := segment.NewResolver(store).Resolve(context.Background(), testOrg, "s", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"contact-01", "contact-03"}, contactIDs(got))
	assert.Equal(t, "lead-01", got[0].LeadID, "first occurrence wins")
}

func TestResolveLimitAppliesAfterExclusion(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 5; i++ {
		store.candidates = append(store.candidates, lead(i))
	}
	store.candidates[0].Source = "drop"
	store.addSegment("drop", segment.Filter{Predicates: []segment.Predicate{segment.SourceMatch{Text: "drop"}}}, "")
	store.addSegment("s", segment.Filter{}, "drop")

	got, err := segment.NewResolver(store).Resolve(context.Background(), testOrg, "s", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"contact-02", "contact-03"}, contactIDs(got))
}

func TestResolveContactRules(t *testing.T) {
	noContact := lead(1)
	noContact.Contact = nil
	noEmail := lead(2)
	noEmail.Contact.Email = "  "
	unsub := lead(3)
	unsub.Contact.Unsubscribed = true
	dnc := lead(4)
	dnc.Contact.DoNotContact = true
	bounced := lead(5)
	bounced.Contact.HardBounced = true
	ok := lead(6)

	tests := []struct {
		name   string
		filter segment.Filter
		want   []string
	}{
		{"defaults", segment.Filter{}, []string{"contact-05", "contact-06"}},
		{"include unsubscribed", segment.Filter{IncludeUnsubscribed: true}, []string{"contact-03", "contact-05", "contact-06"}},
		{"exclude bounced", segment.Filter{ExcludeBounced: true}, []string{"contact-06"}},
		{"do-not-contact is never overridable", segment.Filter{IncludeUnsubscribed: true, ExcludeBounced: true}, []string{"contact-03", "contact-06"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.candidates = []segment.Candidate{noContact, noEmail, unsub, dnc, bounced, ok}
			store.addSegment("s", tt.filter, "")

			got, err := segment.NewResolver(store).Resolve(context.Background(), testOrg, "s", 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, contactIDs(got))
		})
	}
}

func TestResolvePushesDownFilter(t *testing.T) {
	store := newMemStore()
	min := 10.0
	store.addSegment("s", segment.Filter{Predicates: []segment.Predicate{
		segment.PipelineStage{PipelineID: "p1", StageIDs: []string{"won"}},
		segment.ScoreRange{Min: &min},
		segment.CampaignEngagement{CampaignID: "c-prev", State: segment.EngagedOpened},
	}}, "")

	_, err := segment.NewResolver(store).Resolve(context.Background(), testOrg, "s", 0)
	require.NoError(t, err)
	require.Len(t, store.queries, 1)
	q := store.queries[0]
	assert.Equal(t, "p1", q.PipelineID)
	assert.Equal(t, []string{"won"}, q.StageIDs)
	assert.Equal(t, &min, q.MinScore)
	assert.Equal(t, []string{"c-prev"}, q.CampaignIDs)
}

func TestPreview(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 4; i++ {
		store.candidates = append(store.candidates, lead(i, "t"))
	}
	r := segment.NewResolver(store)

	total, sample, err := r.Preview(context.Background(), testOrg, segment.Filter{Predicates: []segment.Predicate{segment.HasTags{TagIDs: []string{"t"}}}}, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, sample, 2)

	_, _, err = r.Preview(context.Background(), testOrg, segment.Filter{Predicates: []segment.Predicate{segment.HasTags{}}}, 2)
	assert.ErrorIs(t, err, segment.ErrInvalidFilter)
}

func TestServiceRejectsExclusionCycle(t *testing.T) {
	store := newMemStore()
	svc := segment.NewService(store)
	ctx := context.Background()

	a, err := svc.Create(ctx, testOrg, segment.Input{Name: "A"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, testOrg, segment.Input{Name: "B", ExcludeSegmentID: &a.ID})
	require.NoError(t, err)

	_, err = svc.Update(ctx, testOrg, a.ID, segment.Input{Name: "A", ExcludeSegmentID: &b.ID})
	assert.ErrorIs(t, err, segment.ErrExclusionCycle)

	_, err = svc.Update(ctx, testOrg, a.ID, segment.Input{Name: "A", ExcludeSegmentID: &a.ID})
	assert.ErrorIs(t, err, segment.ErrExclusionCycle)
}

func TestServiceCreateValidation(t *testing.T) {
	svc := segment.NewService(newMemStore())
	_, err := svc.Create(context.Background(), testOrg, segment.Input{})
	assert.ErrorIs(t, err, segment.ErrInvalidFilter)

	missing := "nope"
	_, err = svc.Create(context.Background(), testOrg, segment.Input{Name: "x", ExcludeSegmentID: &missing})
	assert.ErrorIs(t, err, segment.ErrNotFound)
}
