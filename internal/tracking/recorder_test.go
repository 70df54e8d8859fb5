package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu     sync.Mutex
	sends  map[string]*TrackedSend // keyed token
	links  map[string]*domain.TrackingLink
	events []domain.EngagementEvent
	err    error
}

func newMemRepo() *memRepo {
	return &memRepo{sends: map[string]*TrackedSend{}, links: map[string]*domain.TrackingLink{}}
}

func (m *memRepo) SendByToken(_ context.Context, token string) (*TrackedSend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sends[token]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *memRepo) LinkByID(_ context.Context, id string) (*domain.TrackingLink, *TrackedSend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	for _, s := range m.sends {
		if s.ID == l.CampaignSendID {
			return l, s, nil
		}
	}
	return nil, nil, ErrNotFound
}

func (m *memRepo) InsertOpenOnce(_ context.Context, e *domain.EngagementEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.events {
		if x.CampaignSendID == e.CampaignSendID && x.Type == domain.EngagementOpen {
			return false, nil
		}
	}
	m.events = append(m.events, *e)
	return true, nil
}

func (m *memRepo) InsertClick(_ context.Context, e *domain.EngagementEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *memRepo) count(t domain.EngagementType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fakeSuppressor struct {
	added []string
}

func (f *fakeSuppressor) AddEntry(_ context.Context, orgID string, kind domain.SuppressionKind, value, _ string) (*domain.SuppressionEntry, error) {
	f.added = append(f.added, orgID+":"+string(kind)+":"+value)
	return &domain.SuppressionEntry{OrganizationID: orgID, Kind: kind, Value: value}, nil
}

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func seed(repo *memRepo, sentAgo time.Duration) {
	sent := testNow.Add(-sentAgo)
	repo.sends["tok-1"] = &TrackedSend{
		CampaignSend: domain.CampaignSend{
			ID:         "send-1",
			CampaignID: "camp-1",
			Email:      "jane@example.com",
			SentAt:     &sent,
			CreatedAt:  sent.Add(-time.Minute),
		},
		OrganizationID: "org-1",
	}
	repo.links["link-1"] = &domain.TrackingLink{ID: "link-1", CampaignSendID: "send-1", URL: "https://example.com/offer"}
}

func newTestRecorder(repo *memRepo, expiry time.Duration) *Recorder {
	r := NewRecorder(repo, &fakeSuppressor{}, expiry)
	r.now = func() time.Time { return testNow }
	return r
}

func TestRecordOpenIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	seed(repo, time.Hour)
	rec := newTestRecorder(repo, 0)
	ctx := context.Background()

	out, err := rec.RecordOpen(ctx, "tok-1", Meta{IP: "1.2.3.4", UserAgent: "iPhone Mail"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, out)

	for i := 0; i < 3; i++ {
		out, err = rec.RecordOpen(ctx, "tok-1", Meta{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, out)
	}
	assert.Equal(t, 1, repo.count(domain.EngagementOpen))
	assert.Equal(t, "mobile", repo.events[0].DeviceType)
}

func TestRecordOpenUnknownToken(t *testing.T) {
	rec := newTestRecorder(newMemRepo(), 0)
	out, err := rec.RecordOpen(context.Background(), "nope", Meta{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, out)
}

func TestRecordOpenExpired(t *testing.T) {
	repo := newMemRepo()
	seed(repo, 31*24*time.Hour)
	rec := newTestRecorder(repo, 30*24*time.Hour)

	out, err := rec.RecordOpen(context.Background(), "tok-1", Meta{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, out)
	assert.Zero(t, repo.count(domain.EngagementOpen))
}

func TestRecordOpenStoreError(t *testing.T) {
	repo := newMemRepo()
	repo.err = errors.New("db down")
	rec := newTestRecorder(repo, 0)

	out, err := rec.RecordOpen(context.Background(), "tok-1", Meta{})
	assert.Error(t, err)
	assert.Equal(t, OutcomeError, out)
}

func TestRecordClickEveryClickCounts(t *testing.T) {
	repo := newMemRepo()
	seed(repo, time.Hour)
	rec := newTestRecorder(repo, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dest, out, err := rec.RecordClick(ctx, "link-1", Meta{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeRecorded, out)
		assert.Equal(t, "https://example.com/offer", dest)
	}
	assert.Equal(t, 3, repo.count(domain.EngagementClick))
	require.NotNil(t, repo.events[0].TrackingLinkID)
	assert.Equal(t, "link-1", *repo.events[0].TrackingLinkID)
}

func TestRecordClickExpiredStillRedirects(t *testing.T) {
	repo := newMemRepo()
	seed(repo, 48*time.Hour)
	rec := newTestRecorder(repo, 24*time.Hour)

	dest, out, err := rec.RecordClick(context.Background(), "link-1", Meta{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, out)
	assert.Equal(t, "https://example.com/offer", dest)
	assert.Zero(t, repo.count(domain.EngagementClick))
}

func TestRecordClickUnknownLink(t *testing.T) {
	rec := newTestRecorder(newMemRepo(), 0)
	dest, out, err := rec.RecordClick(context.Background(), "missing", Meta{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, out)
	assert.Empty(t, dest)
}

func TestExpiryUsesCreatedAtForUndeliveredSends(t *testing.T) {
	rec := newTestRecorder(newMemRepo(), time.Hour)
	s := &TrackedSend{CampaignSend: domain.CampaignSend{CreatedAt: testNow.Add(-2 * time.Hour)}}
	assert.True(t, rec.expired(s))

	sent := testNow.Add(-time.Minute)
	s.SentAt = &sent
	assert.False(t, rec.expired(s))
}

func TestUnsubscribe(t *testing.T) {
	repo := newMemRepo()
	seed(repo, 90*24*time.Hour)
	supp := &fakeSuppressor{}
	rec := NewRecorder(repo, supp, time.Hour)

	out, err := rec.Unsubscribe(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, out, "expiry never blocks an unsubscribe")
	assert.Equal(t, []string{"org-1:email:jane@example.com"}, supp.added)

	out, err = rec.Unsubscribe(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, out)
}

func TestTokenShape(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "=")
	assert.Equal(t, "https://t.example.com/open/"+a, OpenURL("https://t.example.com", a))
	assert.Equal(t, "https://t.example.com/click/l1", ClickURL("https://t.example.com", "l1"))
}
