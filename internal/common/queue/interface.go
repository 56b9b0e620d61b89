package queue

import (
	"context"

	"judgeflow/internal/job"
)

// Queue defines the unified interface for the durable job queue. This
// abstraction allows switching between queue backends (Redis, Kafka)
// without changing worker or API logic.
type Queue interface {
	Producer
	Consumer

	// Ping verifies the queue backend connection is alive
	Ping(ctx context.Context) error

	// Close closes the queue connection
	Close() error
}

// Producer defines the interface for enqueueing jobs.
type Producer interface {
	// Enqueue persists a job and returns its queue-assigned id. It returns
	// immediately and never blocks on execution. If the backing store is
	// unreachable after bounded retry it fails with QueueUnavailable.
	Enqueue(ctx context.Context, j *job.Job) (string, error)
}

// Consumer defines the worker-side interface for claiming jobs.
type Consumer interface {
	// Dequeue blocks (polling) until a job is available or ctx is done.
	// The delivery is leased to the caller: it must be Ack'd before the
	// lease window elapses or the job becomes eligible for redelivery to
	// another worker. Delivery is at-least-once, never exactly-once.
	Dequeue(ctx context.Context) (*Delivery, error)
}

// Delivery is one leased job claimed by exactly one worker at a time.
type Delivery struct {
	// JobID is the queue-assigned id, distinct from the routing token.
	JobID string

	// Job is the decoded unit of work.
	Job *job.Job

	// Attempt counts prior deliveries of this job. 0 on first delivery;
	// anything higher means a lease expired somewhere.
	Attempt int

	acker func(ctx context.Context) error
}

// NewDelivery builds a delivery with the given ack hook. Backends in this
// package use it internally; it is exported for backends and fakes that
// live elsewhere.
func NewDelivery(jobID string, j *job.Job, attempt int, acker func(ctx context.Context) error) *Delivery {
	return &Delivery{JobID: jobID, Job: j, Attempt: attempt, acker: acker}
}

// Ack acknowledges completion and discards the job from the queue. After a
// successful Ack the job can no longer be redelivered.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.acker == nil {
		return nil
	}
	return d.acker(ctx)
}
