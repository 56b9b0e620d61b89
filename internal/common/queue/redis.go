package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"judgeflow/internal/job"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds settings for the Redis-backed queue.
type RedisConfig struct {
	// Name namespaces the queue keys: <name>:waiting, <name>:active,
	// <name>:seq, <name>:lease:<id>.
	Name string `yaml:"name"`

	// Lease is how long a claimed job stays invisible before it becomes
	// eligible for redelivery.
	Lease time.Duration `yaml:"lease"`

	// PollInterval is the dequeue polling period when the queue is empty.
	PollInterval time.Duration `yaml:"pollInterval"`

	// ReapInterval is how often expired leases are swept back to waiting.
	ReapInterval time.Duration `yaml:"reapInterval"`

	// CompressThreshold is the payload size in bytes above which job
	// bodies are zstd-compressed. 0 uses the default, negative disables.
	CompressThreshold int `yaml:"compressThreshold"`
}

func (c *RedisConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "jobs"
	}
	if c.Lease == 0 {
		c.Lease = time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = c.Lease / 4
	}
	if c.CompressThreshold == 0 {
		c.CompressThreshold = DefaultCompressThreshold
	}
}

// envelope is the queue entry stored in the Redis lists. Body carries the
// codec-encoded job; json base64-encodes it for binary safety.
type envelope struct {
	ID      string `json:"id"`
	Attempt int    `json:"attempt"`
	Body    []byte `json:"body"`
}

// RedisQueue implements Queue on Redis lists with per-job leases. Enqueued
// jobs wait on a list; Dequeue moves one entry to the active list and sets a
// lease key with a TTL. Ack removes the active entry and the lease. A reaper
// moves active entries whose lease key expired back to waiting, which is the
// at-least-once redelivery path.
type RedisQueue struct {
	client *redis.Client
	cfg    RedisConfig
	codec  *Codec

	reapCancel context.CancelFunc
	reapDone   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewRedisQueue creates a Redis-backed queue and starts its lease reaper.
func NewRedisQueue(client *redis.Client, cfg RedisConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	cfg.applyDefaults()
	threshold := cfg.CompressThreshold
	if threshold < 0 {
		threshold = 0
	}
	codec, err := NewCodec(threshold)
	if err != nil {
		return nil, err
	}

	q := &RedisQueue{
		client:   client,
		cfg:      cfg,
		codec:    codec,
		reapDone: make(chan struct{}),
	}
	reapCtx, cancel := context.WithCancel(context.Background())
	q.reapCancel = cancel
	go q.reapLoop(reapCtx)
	return q, nil
}

func (q *RedisQueue) waitingKey() string { return q.cfg.Name + ":waiting" }
func (q *RedisQueue) activeKey() string  { return q.cfg.Name + ":active" }
func (q *RedisQueue) seqKey() string     { return q.cfg.Name + ":seq" }
func (q *RedisQueue) leaseKey(id string) string {
	return q.cfg.Name + ":lease:" + id
}

// Enqueue persists a job on the waiting list and returns its sequence id.
func (q *RedisQueue) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	if j == nil {
		return "", appErr.New(appErr.InvalidParams).WithMessage("job is nil")
	}
	if err := j.Validate(); err != nil {
		return "", err
	}
	body, err := j.Encode()
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InvalidParams, "encode job failed")
	}

	seq, err := q.client.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return "", appErr.Wrapf(err, appErr.QueueUnavailable, "assign job id failed")
	}
	id := strconv.FormatInt(seq, 10)

	entry, err := json.Marshal(envelope{ID: id, Attempt: 0, Body: q.codec.Encode(body)})
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InternalServerError, "marshal queue entry failed")
	}
	if err := q.client.LPush(ctx, q.waitingKey(), entry).Err(); err != nil {
		return "", appErr.Wrapf(err, appErr.QueueUnavailable, "enqueue job failed")
	}
	return id, nil
}

// Dequeue claims one waiting job. It polls until a job is available or ctx
// is done.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		raw, err := q.client.LMove(ctx, q.waitingKey(), q.activeKey(), "RIGHT", "LEFT").Result()
		switch {
		case err == nil:
			return q.claim(ctx, raw)
		case errors.Is(err, redis.Nil):
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, appErr.Wrapf(err, appErr.DequeueFailed, "claim job failed")
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context, raw string) (*Delivery, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// A corrupt entry can never be processed: drop it so the queue
		// keeps serving the next job.
		_ = q.client.LRem(ctx, q.activeKey(), 1, raw).Err()
		return nil, appErr.Wrapf(err, appErr.DequeueFailed, "decode queue entry failed")
	}
	if err := q.client.Set(ctx, q.leaseKey(env.ID), env.Attempt, q.cfg.Lease).Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DequeueFailed, "set job lease failed")
	}

	body, err := q.codec.Decode(env.Body)
	if err != nil {
		_ = q.discard(ctx, raw, env.ID)
		return nil, appErr.Wrapf(err, appErr.DequeueFailed, "decode job payload failed")
	}
	j, err := job.Decode(body)
	if err != nil {
		_ = q.discard(ctx, raw, env.ID)
		return nil, appErr.Wrap(err, appErr.DequeueFailed)
	}

	return &Delivery{
		JobID:   env.ID,
		Job:     j,
		Attempt: env.Attempt,
		acker: func(ackCtx context.Context) error {
			return q.discard(ackCtx, raw, env.ID)
		},
	}, nil
}

func (q *RedisQueue) discard(ctx context.Context, raw, id string) error {
	if err := q.client.LRem(ctx, q.activeKey(), 1, raw).Err(); err != nil {
		return appErr.Wrapf(err, appErr.AckFailed, "remove active entry failed")
	}
	if err := q.client.Del(ctx, q.leaseKey(id)).Err(); err != nil {
		return appErr.Wrapf(err, appErr.AckFailed, "clear job lease failed")
	}
	return nil
}

// reapLoop returns active entries with expired leases to the waiting list.
func (q *RedisQueue) reapLoop(ctx context.Context) {
	defer close(q.reapDone)
	ticker := time.NewTicker(q.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.ReapExpired(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn(ctx, "lease reap failed", zap.Error(err))
			}
		}
	}
}

// ReapExpired scans the active list once and requeues every entry whose
// lease key is gone. Exported so tests can drive redelivery directly.
func (q *RedisQueue) ReapExpired(ctx context.Context) error {
	entries, err := q.client.LRange(ctx, q.activeKey(), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, raw := range entries {
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			_ = q.client.LRem(ctx, q.activeKey(), 1, raw).Err()
			continue
		}
		exists, err := q.client.Exists(ctx, q.leaseKey(env.ID)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			continue
		}
		// Lease expired: requeue with a bumped attempt counter. LRem
		// guards the race with a concurrent Ack.
		removed, err := q.client.LRem(ctx, q.activeKey(), 1, raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		env.Attempt++
		requeued, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if err := q.client.LPush(ctx, q.waitingKey(), requeued).Err(); err != nil {
			logger.Warn(ctx, "requeue expired job failed",
				zap.String("job_id", env.ID), zap.Error(err))
			continue
		}
		logger.Info(ctx, "requeued job after lease expiry",
			zap.String("job_id", env.ID), zap.Int("attempt", env.Attempt))
	}
	return nil
}

// Ping verifies the Redis connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close stops the reaper. The shared Redis client is owned by the caller
// and is not closed here.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.reapCancel()
	<-q.reapDone
	return nil
}
