package delivery

import (
	"context"
	"time"
)

// Queue is a durable job queue with delayed retry.
type Queue interface {
	// EnqueueBatch makes every job ready for claiming.
	EnqueueBatch(ctx context.Context, jobs []Job) error

	// Claim blocks up to timeout for a ready job. It returns nil, nil on
	// timeout. A claimed job must be passed to Ack or Retry.
	Claim(ctx context.Context, timeout time.Duration) (*Job, error)

	// Ack removes a claimed job for good.
	Ack(ctx context.Context, job *Job) error

	// Retry releases a claimed job and makes it ready again after delay.
	Retry(ctx context.Context, job *Job, delay time.Duration) error

	// Depth returns ready plus delayed jobs.
	Depth(ctx context.Context) (int64, error)
}
