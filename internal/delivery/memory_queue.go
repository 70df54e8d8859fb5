package delivery

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for tests and single-process
// development. Jobs are lost on exit.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []Job
	delayed int
	notify  chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1)}
}

func (q *MemoryQueue) EnqueueBatch(_ context.Context, jobs []Job) error {
	q.mu.Lock()
	q.ready = append(q.ready, jobs...)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Claim(ctx context.Context, timeout time.Duration) (*Job, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			j := q.ready[0]
			q.ready = q.ready[1:]
			more := len(q.ready) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return &j, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-deadline.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Ack(context.Context, *Job) error { return nil }

func (q *MemoryQueue) Retry(_ context.Context, job *Job, delay time.Duration) error {
	j := *job
	if delay <= 0 {
		return q.EnqueueBatch(context.Background(), []Job{j})
	}
	q.mu.Lock()
	q.delayed++
	q.mu.Unlock()
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		q.delayed--
		q.ready = append(q.ready, j)
		q.mu.Unlock()
		q.signal()
	})
	return nil
}

func (q *MemoryQueue) Depth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready) + q.delayed), nil
}
