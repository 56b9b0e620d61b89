package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"judgeflow/internal/common/pubsub"
	"judgeflow/internal/common/queue"
	"judgeflow/internal/job"
	"judgeflow/internal/judge/format"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/contextkey"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// Executor runs one job in the external sandbox. Satisfied by
// sandbox.Client.
type Executor interface {
	Execute(ctx context.Context, j *job.Job) (job.ExecutionResult, error)
}

// StatusStore persists the latest status per token. Satisfied by
// status.Repository; optional.
type StatusStore interface {
	Save(ctx context.Context, token string, update job.SubmissionUpdate) error
}

// Config holds pool dependencies and settings.
type Config struct {
	Queue     queue.Consumer
	Publisher pubsub.Publisher
	Executor  Executor
	Formatter *format.Formatter
	Statuses  StatusStore

	// PoolSize bounds concurrent jobs in this process.
	PoolSize int

	// PublishTimeout bounds each publish and ack call so a slow backend
	// cannot wedge the loop.
	PublishTimeout time.Duration

	// DequeueRetryDelay is the pause after a failed dequeue before the
	// next attempt, so a down backend does not get hammered in a hot
	// loop. Zero selects one second.
	DequeueRetryDelay time.Duration
}

// Pool drives the dequeue → execute → format → publish loop. Failures are
// caught at the per-job boundary and converted to a Failed publish; nothing
// escapes to crash the loop, and every claimed job publishes at least one
// terminal message.
type Pool struct {
	queue     queue.Consumer
	publisher pubsub.Publisher
	executor  Executor
	formatter *format.Formatter
	statuses  StatusStore

	limiter           *queue.TokenLimiter
	publishTimeout    time.Duration
	dequeueRetryDelay time.Duration
	wg                sync.WaitGroup
}

// NewPool creates a worker pool.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Queue == nil {
		return nil, errors.New("queue consumer is required")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Formatter == nil {
		cfg.Formatter = format.New(0)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.DequeueRetryDelay == 0 {
		cfg.DequeueRetryDelay = time.Second
	}
	return &Pool{
		queue:             cfg.Queue,
		publisher:         cfg.Publisher,
		executor:          cfg.Executor,
		formatter:         cfg.Formatter,
		statuses:          cfg.Statuses,
		limiter:           queue.NewTokenLimiter(cfg.PoolSize),
		publishTimeout:    cfg.PublishTimeout,
		dequeueRetryDelay: cfg.DequeueRetryDelay,
	}, nil
}

// Run consumes jobs until ctx is done, then waits for in-flight jobs.
func (p *Pool) Run(ctx context.Context) error {
	defer p.wg.Wait()
	for {
		if err := p.limiter.Acquire(ctx); err != nil {
			return ctx.Err()
		}
		delivery, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.limiter.Release()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			logger.Warn(ctx, "dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.dequeueRetryDelay):
			}
			continue
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.limiter.Release()
			p.Handle(ctx, delivery)
		}()
	}
}

// Handle processes one claimed job end to end: Claimed → Running →
// Completed|Failed. Exported so the loop and tests share one path.
func (p *Pool) Handle(ctx context.Context, d *queue.Delivery) {
	jobCtx := context.WithValue(ctx, contextkey.JobToken, d.Job.Token)
	jobCtx = context.WithValue(jobCtx, contextkey.JobID, d.JobID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error(jobCtx, "job handler panicked", zap.Any("panic", r))
			p.publish(jobCtx, d.Job.Token, job.Failed())
			p.ack(jobCtx, d)
		}
	}()

	if d.Attempt > 0 {
		logger.Warn(jobCtx, "processing redelivered job", zap.Int("attempt", d.Attempt))
	}
	p.publish(jobCtx, d.Job.Token, job.Running())

	res, err := p.executor.Execute(jobCtx, d.Job)
	if err != nil {
		// Sandbox failures are job failures, never pool failures. No
		// in-worker retry: lease expiry is the only redelivery path.
		logger.Error(jobCtx, "sandbox execution failed",
			zap.Int("code", int(appErr.GetCode(err))), zap.Error(err))
		p.publish(jobCtx, d.Job.Token, job.Failed())
		p.ack(jobCtx, d)
		return
	}

	report, err := p.format(res)
	if err != nil {
		logger.Error(jobCtx, "format result failed", zap.Error(err))
		p.publish(jobCtx, d.Job.Token, job.Failed())
		p.ack(jobCtx, d)
		return
	}

	p.publish(jobCtx, d.Job.Token, job.Completed(report.Body))
	p.ack(jobCtx, d)
	logger.Info(jobCtx, "job completed", zap.String("status", string(report.Status)))
}

// format guards the formatter behind a recover so a formatting bug can
// never prevent result delivery.
func (p *Pool) format(res job.ExecutionResult) (report format.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = appErr.Newf(appErr.FormatterError, "formatter panicked: %v", r)
		}
	}()
	return p.formatter.Format(res), nil
}

// publish sends one update and mirrors it into the status store. Publish
// failures are logged, never propagated: the job already ran, and the
// client-side consequence (a hang) is a documented limitation.
func (p *Pool) publish(ctx context.Context, token string, update job.SubmissionUpdate) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.publishTimeout)
	defer cancel()
	if err := p.publisher.Publish(pubCtx, token, update); err != nil {
		logger.Error(ctx, "publish update failed",
			zap.String("status", update.Status), zap.Error(err))
	}
	if p.statuses != nil {
		if err := p.statuses.Save(pubCtx, token, update); err != nil {
			logger.Warn(ctx, "save status failed", zap.Error(err))
		}
	}
}

func (p *Pool) ack(ctx context.Context, d *queue.Delivery) {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.publishTimeout)
	defer cancel()
	if err := d.Ack(ackCtx); err != nil {
		logger.Warn(ctx, "ack failed, job may be redelivered", zap.Error(err))
	}
}
