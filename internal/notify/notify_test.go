package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/campaign-engine/internal/pkg/httpretry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (r *recordingDispatcher) Dispatch(_ context.Context, e Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingDispatcher) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func TestBusDeliversAndDrainsOnClose(t *testing.T) {
	d := &recordingDispatcher{}
	bus := NewBus(d, 8, time.Second)

	bus.Publish(context.Background(), Event{Name: "one"})
	bus.Publish(context.Background(), Event{Name: "two"})
	bus.Close()

	assert.Equal(t, []string{"one", "two"}, d.names())

	// publishing after close is a logged no-op
	assert.NotPanics(t, func() { bus.Publish(context.Background(), Event{Name: "late"}) })
	bus.Close()
}

func TestBusDropsWhenFull(t *testing.T) {
	d := &recordingDispatcher{block: make(chan struct{})}
	bus := NewBus(d, 1, time.Second)

	// first event is taken by the dispatcher and blocks, second fills the buffer
	bus.Publish(context.Background(), Event{Name: "a"})
	require.Eventually(t, func() bool { return len(bus.ch) == 0 }, time.Second, time.Millisecond)
	bus.Publish(context.Background(), Event{Name: "b"})
	bus.Publish(context.Background(), Event{Name: "dropped"})

	close(d.block)
	bus.Close()
	assert.Equal(t, []string{"a", "b"}, d.names())
}

func TestBusDispatchErrorDoesNotStopLoop(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("boom")}
	bus := NewBus(d, 4, time.Second)
	bus.Publish(context.Background(), Event{Name: "x"})
	bus.Publish(context.Background(), Event{Name: "y"})
	bus.Close()
	assert.Len(t, d.names(), 2)
}

func TestWebhookDispatcher(t *testing.T) {
	var got Event
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := httpretry.NewRetryClient(srv.Client(), 2, httpretry.WithBackoff(time.Millisecond, 5*time.Millisecond))
	d := NewWebhookDispatcher(client, srv.URL)

	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	err := d.Dispatch(context.Background(), CampaignCompleted("c1", "Spring", 42, at))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, EventCampaignCompleted, got.Name)
	assert.Equal(t, "c1", got.Payload["campaign_id"])
	assert.Equal(t, "Spring", got.Payload["name"])
	assert.Equal(t, float64(42), got.Payload["total_recipients"])
}

func TestWebhookDispatcherNoURL(t *testing.T) {
	d := NewWebhookDispatcher(httpretry.NewRetryClient(http.DefaultClient, 0), "")
	assert.NoError(t, d.Dispatch(context.Background(), Event{Name: "x"}))
}

func TestWebhookDispatcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	d := NewWebhookDispatcher(httpretry.NewRetryClient(srv.Client(), 0), srv.URL)
	assert.Error(t, d.Dispatch(context.Background(), Event{Name: "x"}))
}

// ── SQS ──────────────────────────────────────────────────────────────────────

type fakeSQS struct {
	mu      sync.Mutex
	sent    []string
	inbox   []types.Message
	deleted []string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.inbox
	f.inbox = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) snapshot() (sent, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...), append([]string(nil), f.deleted...)
}

func TestSQSPublisherSendsJSON(t *testing.T) {
	f := &fakeSQS{}
	p := NewSQSPublisher(f, "https://sqs.local/notify")
	p.Publish(context.Background(), CampaignCompleted("c1", "n", 3, time.Now()))

	require.Eventually(t, func() bool {
		sent, _ := f.snapshot()
		return len(sent) == 1
	}, time.Second, 5*time.Millisecond)

	sent, _ := f.snapshot()
	var e Event
	require.NoError(t, json.Unmarshal([]byte(sent[0]), &e))
	assert.Equal(t, EventCampaignCompleted, e.Name)
}

func TestSQSConsumerDispatchesAndDeletes(t *testing.T) {
	body, _ := json.Marshal(Event{Name: "ok"})
	f := &fakeSQS{inbox: []types.Message{
		{Body: aws.String(string(body)), ReceiptHandle: aws.String("h1")},
		{Body: aws.String("not json"), ReceiptHandle: aws.String("h2")},
	}}
	d := &recordingDispatcher{}
	c := NewSQSConsumer(f, "https://sqs.local/notify", d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	require.Eventually(t, func() bool {
		_, deleted := f.snapshot()
		return len(deleted) == 2
	}, time.Second, 5*time.Millisecond)
	c.Stop()

	assert.Equal(t, []string{"ok"}, d.names())
	_, deleted := f.snapshot()
	assert.ElementsMatch(t, []string{"h1", "h2"}, deleted)
}

func TestSQSConsumerKeepsMessageOnDispatchError(t *testing.T) {
	body, _ := json.Marshal(Event{Name: "fails"})
	f := &fakeSQS{inbox: []types.Message{{Body: aws.String(string(body)), ReceiptHandle: aws.String("h1")}}}
	d := &recordingDispatcher{err: errors.New("down")}
	c := NewSQSConsumer(f, "q", d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	require.Eventually(t, func() bool { return len(d.names()) == 1 }, time.Second, 5*time.Millisecond)
	c.Stop()

	_, deleted := f.snapshot()
	assert.Empty(t, deleted)
}
