package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/render"
	"github.com/ignite/campaign-engine/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── in-memory store ─────────────────────────────────────────────────────────

type memStore struct {
	mu         sync.Mutex
	sends      map[string]*domain.CampaignSend
	campaigns  map[string]*domain.Campaign
	templates  map[string]*domain.Template
	contexts   map[string]*domain.RenderContext // keyed contact id
	links      map[string]*domain.TrackingLink  // keyed send|url
	activities []domain.Activity
	markErr    error
}

func newMemStore() *memStore {
	return &memStore{
		sends:     map[string]*domain.CampaignSend{},
		campaigns: map[string]*domain.Campaign{},
		templates: map[string]*domain.Template{},
		contexts:  map[string]*domain.RenderContext{},
		links:     map[string]*domain.TrackingLink{},
	}
}

func (m *memStore) GetSend(_ context.Context, id string) (*domain.CampaignSend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sends[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *memStore) GetTemplate(_ context.Context, _, id string) (*domain.Template, error) {
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *memStore) RenderContext(_ context.Context, _, _, contactID string) (*domain.RenderContext, error) {
	rc, ok := m.contexts[contactID]
	if !ok {
		return nil, ErrNotFound
	}
	return rc, nil
}

func (m *memStore) TrackingLink(_ context.Context, sendID, url string) (*domain.TrackingLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sendID + "|" + url
	if l, ok := m.links[key]; ok {
		return l, nil
	}
	l := &domain.TrackingLink{ID: "link-" + string(rune('a'+len(m.links))), CampaignSendID: sendID, URL: url}
	m.links[key] = l
	return l, nil
}

func (m *memStore) MarkSent(_ context.Context, id, msgID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return false, m.markErr
	}
	s, ok := m.sends[id]
	if !ok || s.IsTerminal() {
		return false, nil
	}
	s.SentAt = &at
	s.ProviderMessageID = msgID
	return true, nil
}

func (m *memStore) MarkFailed(_ context.Context, id, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sends[id]
	if !ok || s.IsTerminal() {
		return false, nil
	}
	s.FailedAt = &at
	s.LastError = reason
	return true, nil
}

func (m *memStore) InsertActivity(_ context.Context, a *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, *a)
	return nil
}

// ── fake transport ──────────────────────────────────────────────────────────

type fakeTransport struct {
	mu   sync.Mutex
	sent []transport.Message
	err  error
}

func (f *fakeTransport) Send(_ context.Context, msg transport.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "msg-1", nil
}

// ── fixtures ────────────────────────────────────────────────────────────────

func str(s string) *string { return &s }

func seed() *memStore {
	m := newMemStore()
	m.templates["t1"] = &domain.Template{
		ID:        "t1",
		Subject:   "Hello {{ first_name }}",
		HTMLBody:  `<html><body><p>Hi {{ first_name }}, see <a href="https://acme.test/offer">offer</a></p></body></html>`,
		FromName:  "Acme",
		FromEmail: "news@acme.test",
	}
	m.campaigns["c1"] = &domain.Campaign{
		ID: "c1", OrganizationID: "org-1", TemplateID: "t1", Status: domain.CampaignSending,
		AB: &domain.ABConfig{SplitPercent: 50, Variants: map[string]domain.VariantContent{
			domain.VariantB: {Subject: str("B: {{ first_name }}, last chance")},
		}},
	}
	m.contexts["ct1"] = &domain.RenderContext{Contact: domain.Contact{ID: "ct1", FirstName: "Ada", Email: "ada@example.com"}}
	m.sends["s1"] = &domain.CampaignSend{ID: "s1", CampaignID: "c1", LeadID: "l1", ContactID: "ct1", Email: "ada@example.com", Variant: domain.VariantA, TrackingToken: "tokA"}
	m.sends["s2"] = &domain.CampaignSend{ID: "s2", CampaignID: "c1", LeadID: "l1", ContactID: "ct1", Email: "ada@example.com", Variant: domain.VariantB, TrackingToken: "tokB"}
	return m
}

func newTestProcessor(store Store, tr transport.Transport) *Processor {
	p := NewProcessor(store, tr, render.NewRenderer(), ProcessorConfig{
		TrackingBaseURL:    "https://t.acme.test/t/",
		UnsubscribeBaseURL: "https://acme.test/unsubscribe",
	})
	p.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

// ── tests ───────────────────────────────────────────────────────────────────

func TestProcessDeliversAndMarksSent(t *testing.T) {
	store := seed()
	tr := &fakeTransport{}
	p := newTestProcessor(store, tr)

	require.NoError(t, p.Process(context.Background(), Job{CampaignSendID: "s1", TriggeredBy: "u1"}))

	require.Len(t, tr.sent, 1)
	msg := tr.sent[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Hello Ada", msg.Subject)
	assert.Equal(t, "Acme", msg.FromName)
	assert.Contains(t, msg.HTML, `href="https://t.acme.test/t/click/link-a"`)
	assert.Contains(t, msg.HTML, `src="https://t.acme.test/t/open/tokA"`)
	assert.NotContains(t, msg.HTML, "https://acme.test/offer")
	assert.Equal(t, "Hi Ada, see offer", msg.Text)
	assert.Equal(t, "https://acme.test/unsubscribe?token=tokA", msg.ListUnsubscribeURL)

	s := store.sends["s1"]
	require.NotNil(t, s.SentAt)
	assert.Equal(t, "msg-1", s.ProviderMessageID)

	require.Len(t, store.activities, 1)
	a := store.activities[0]
	assert.Equal(t, domain.ActivityEmail, a.Kind)
	assert.True(t, a.Completed)
	assert.Equal(t, "l1", a.LeadID)
	assert.Equal(t, "u1", a.UserID)
}

func TestProcessFallsBackToDefaultReplyTo(t *testing.T) {
	store := seed()
	tr := &fakeTransport{}
	p := NewProcessor(store, tr, render.NewRenderer(), ProcessorConfig{
		TrackingBaseURL: "https://t.acme.test/t",
		DefaultReplyTo:  "support@acme.test",
	})

	require.NoError(t, p.Process(context.Background(), Job{CampaignSendID: "s1"}))
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "support@acme.test", tr.sent[0].ReplyTo)

	store.templates["t1"].ReplyTo = "ada-team@acme.test"
	require.NoError(t, p.Process(context.Background(), Job{CampaignSendID: "s2"}))
	require.Len(t, tr.sent, 2)
	assert.Equal(t, "ada-team@acme.test", tr.sent[1].ReplyTo)
}

func TestProcessUsesVariantOverride(t *testing.T) {
	store := seed()
	tr := &fakeTransport{}
	require.NoError(t, newTestProcessor(store, tr).Process(context.Background(), Job{CampaignSendID: "s2"}))
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "B: Ada, last chance", tr.sent[0].Subject)
	assert.True(t, strings.Contains(tr.sent[0].HTML, "Hi Ada"), "body falls back to the template")
}

func TestProcessSkipsAlreadySent(t *testing.T) {
	store := seed()
	sent := time.Now()
	store.sends["s1"].SentAt = &sent
	tr := &fakeTransport{}

	require.NoError(t, newTestProcessor(store, tr).Process(context.Background(), Job{CampaignSendID: "s1"}))
	assert.Empty(t, tr.sent, "a send with sent_at is never delivered again")
	assert.Empty(t, store.activities)
}

func TestProcessTransportErrorIsRetryable(t *testing.T) {
	store := seed()
	tr := &fakeTransport{err: errors.New("connection reset")}

	err := newTestProcessor(store, tr).Process(context.Background(), Job{CampaignSendID: "s1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPermanent))
	assert.Nil(t, store.sends["s1"].SentAt)
	assert.Nil(t, store.sends["s1"].FailedAt)
}

func TestProcessMissingContextIsTerminalWithoutRetry(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *memStore)
		reason string
	}{
		{"recipient deleted", func(m *memStore) { delete(m.contexts, "ct1") }, "recipient deleted"},
		{"template missing", func(m *memStore) { delete(m.templates, "t1") }, "template missing"},
		{"campaign deleted", func(m *memStore) { delete(m.campaigns, "c1") }, "campaign deleted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seed()
			tt.mutate(store)
			tr := &fakeTransport{}

			p := newTestProcessor(store, tr)
			err := p.Process(context.Background(), Job{CampaignSendID: "s1"})
			require.ErrorIs(t, err, ErrPermanent)
			assert.EqualError(t, err, tt.reason)
			assert.Empty(t, tr.sent)
			assert.Nil(t, store.sends["s1"].FailedAt, "recording the failure is left to Fail")

			require.NoError(t, p.Fail(context.Background(), Job{CampaignSendID: "s1"}, err))
			require.NotNil(t, store.sends["s1"].FailedAt)
			assert.Equal(t, tt.reason, store.sends["s1"].LastError)
		})
	}
}

func TestProcessMissingSendIsNoop(t *testing.T) {
	tr := &fakeTransport{}
	require.NoError(t, newTestProcessor(seed(), tr).Process(context.Background(), Job{CampaignSendID: "nope"}))
	assert.Empty(t, tr.sent)
}

func TestProcessLostMarkRaceWritesNoActivity(t *testing.T) {
	store := seed()
	// another worker marks the send between load and mark
	tr := &racingTransport{store: store, id: "s1"}
	require.NoError(t, newTestProcessor(store, tr).Process(context.Background(), Job{CampaignSendID: "s1"}))
	assert.Empty(t, store.activities)
}

type racingTransport struct {
	store *memStore
	id    string
}

func (r *racingTransport) Send(ctx context.Context, _ transport.Message) (string, error) {
	r.store.MarkSent(ctx, r.id, "other", time.Now())
	return "mine", nil
}

func TestFailMarksSendOnce(t *testing.T) {
	store := seed()
	p := newTestProcessor(store, &fakeTransport{})

	require.NoError(t, p.Fail(context.Background(), Job{CampaignSendID: "s1"}, errors.New("mailbox full")))
	assert.Equal(t, "mailbox full", store.sends["s1"].LastError)

	first := *store.sends["s1"].FailedAt
	require.NoError(t, p.Fail(context.Background(), Job{CampaignSendID: "s1"}, errors.New("again")))
	assert.Equal(t, "mailbox full", store.sends["s1"].LastError)
	assert.Equal(t, first, *store.sends["s1"].FailedAt)
}

func TestPoolWithProcessorFailsMissingRecipientOnce(t *testing.T) {
	store := seed()
	delete(store.contexts, "ct1")
	tr := &fakeTransport{}
	q := NewMemoryQueue()
	pool := NewPool(q, nil, newTestProcessor(store, tr), testPoolConfig())

	require.NoError(t, q.EnqueueBatch(context.Background(), jobs("s1")))
	pool.Start(context.Background())
	require.Eventually(t, func() bool { return pool.Stats()["failed"] == 1 }, 2*time.Second, 5*time.Millisecond)
	pool.Stop()

	assert.Equal(t, int64(0), pool.Stats()["retried"])
	assert.Equal(t, int64(0), pool.Stats()["processed"])
	require.NotNil(t, store.sends["s1"].FailedAt)
	assert.Equal(t, "recipient deleted", store.sends["s1"].LastError)
	assert.Empty(t, tr.sent)
}

func TestPoolWithProcessorAtMostOnceEffect(t *testing.T) {
	store := seed()
	tr := &fakeTransport{}
	q := NewMemoryQueue()
	pool := NewPool(q, nil, newTestProcessor(store, tr), testPoolConfig())

	// the same send queued three times, as after a redundant re-queue
	require.NoError(t, q.EnqueueBatch(context.Background(), jobs("s1", "s1", "s1")))
	pool.Start(context.Background())
	require.Eventually(t, func() bool {
		d, _ := q.Depth(context.Background())
		return d == 0 && pool.Stats()["processed"] == 3
	}, 2*time.Second, 5*time.Millisecond)
	pool.Stop()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.LessOrEqual(t, len(tr.sent), 3)
	assert.Len(t, store.activities, 1, "only one delivery takes effect")
}
