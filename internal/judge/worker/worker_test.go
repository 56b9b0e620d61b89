package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"judgeflow/internal/common/queue"
	"judgeflow/internal/job"
	"judgeflow/internal/judge/format"
	"judgeflow/internal/judge/worker"
	appErr "judgeflow/pkg/errors"
)

type fakePublisher struct {
	mu      sync.Mutex
	updates map[string][]job.SubmissionUpdate
	err     error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{updates: make(map[string][]job.SubmissionUpdate)}
}

func (f *fakePublisher) Publish(_ context.Context, token string, update job.SubmissionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.updates[token] = append(f.updates[token], update)
	return nil
}

func (f *fakePublisher) published(token string) []job.SubmissionUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]job.SubmissionUpdate, len(f.updates[token]))
	copy(out, f.updates[token])
	return out
}

type fakeExecutor struct {
	res    job.ExecutionResult
	err    error
	panics bool
}

func (f *fakeExecutor) Execute(_ context.Context, _ *job.Job) (job.ExecutionResult, error) {
	if f.panics {
		panic("executor blew up")
	}
	return f.res, f.err
}

type fakeStatuses struct {
	mu    sync.Mutex
	saved map[string][]job.SubmissionUpdate
}

func newFakeStatuses() *fakeStatuses {
	return &fakeStatuses{saved: make(map[string][]job.SubmissionUpdate)}
}

func (f *fakeStatuses) Save(_ context.Context, token string, update job.SubmissionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[token] = append(f.saved[token], update)
	return nil
}

type fakeConsumer struct {
	deliveries chan *queue.Delivery
}

func (f *fakeConsumer) Dequeue(ctx context.Context) (*queue.Delivery, error) {
	select {
	case d := <-f.deliveries:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type failingConsumer struct {
	mu    sync.Mutex
	calls int
}

func (f *failingConsumer) Dequeue(_ context.Context) (*queue.Delivery, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, appErr.New(appErr.DequeueFailed)
}

func (f *failingConsumer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testJob(token string) *job.Job {
	return &job.Job{Token: token, SourceCode: "print(1)", LanguageID: 71}
}

func newDelivery(token string, acked *bool) *queue.Delivery {
	return queue.NewDelivery("job-1", testJob(token), 0, func(context.Context) error {
		if acked != nil {
			*acked = true
		}
		return nil
	})
}

func newPool(t *testing.T, cfg worker.Config) *worker.Pool {
	t.Helper()
	if cfg.Queue == nil {
		cfg.Queue = &fakeConsumer{deliveries: make(chan *queue.Delivery)}
	}
	if cfg.Formatter == nil {
		cfg.Formatter = format.New(0)
	}
	pool, err := worker.NewPool(cfg)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return pool
}

func TestHandleSuccessPublishesRunningThenCompleted(t *testing.T) {
	pub := newFakePublisher()
	statuses := newFakeStatuses()
	pool := newPool(t, worker.Config{
		Publisher: pub,
		Executor:  &fakeExecutor{res: job.ExecutionResult{Stdout: "hello\n", Time: "0.01", Memory: 100}},
		Statuses:  statuses,
	})

	acked := false
	pool.Handle(context.Background(), newDelivery("tok-1", &acked))

	got := pub.published("tok-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 updates, got %d: %+v", len(got), got)
	}
	if got[0].Status != job.StatusRunning {
		t.Fatalf("expected first update Running, got %s", got[0].Status)
	}
	if got[1].Status != job.StatusCompleted {
		t.Fatalf("expected terminal Completed, got %s", got[1].Status)
	}
	if got[1].Output == "" {
		t.Fatal("expected completed update to carry the report")
	}
	if !acked {
		t.Fatal("expected job to be acked")
	}
	if len(statuses.saved["tok-1"]) != 2 {
		t.Fatalf("expected status mirror for both updates, got %d", len(statuses.saved["tok-1"]))
	}
}

// A sandbox failure is a job failure with the generic message, never an
// internal error string, and the job is still acked.
func TestHandleSandboxFailurePublishesGenericFailed(t *testing.T) {
	pub := newFakePublisher()
	pool := newPool(t, worker.Config{
		Publisher: pub,
		Executor:  &fakeExecutor{err: appErr.Newf(appErr.SandboxUnavailable, "dial tcp 10.0.0.5:2358: connect refused")},
	})

	acked := false
	pool.Handle(context.Background(), newDelivery("tok-2", &acked))

	got := pub.published("tok-2")
	if len(got) != 2 {
		t.Fatalf("expected Running then Failed, got %+v", got)
	}
	if got[1].Status != job.StatusFailed {
		t.Fatalf("expected Failed, got %s", got[1].Status)
	}
	if got[1].Output != job.GenericFailureMessage {
		t.Fatalf("expected generic failure message, got %q", got[1].Output)
	}
	if !acked {
		t.Fatal("expected failed job to still be acked")
	}
}

func TestHandleExecutorPanicRecovered(t *testing.T) {
	pub := newFakePublisher()
	pool := newPool(t, worker.Config{
		Publisher: pub,
		Executor:  &fakeExecutor{panics: true},
	})

	acked := false
	pool.Handle(context.Background(), newDelivery("tok-3", &acked))

	got := pub.published("tok-3")
	if len(got) == 0 || got[len(got)-1].Status != job.StatusFailed {
		t.Fatalf("expected terminal Failed after panic, got %+v", got)
	}
	if !acked {
		t.Fatal("expected panicked job to be acked")
	}
}

// Publish failure never prevents the ack: the job already ran.
func TestHandlePublishFailureStillAcks(t *testing.T) {
	pub := newFakePublisher()
	pub.err = appErr.New(appErr.PublishUnreachable)
	pool := newPool(t, worker.Config{
		Publisher: pub,
		Executor:  &fakeExecutor{res: job.ExecutionResult{Stdout: "out\n"}},
	})

	acked := false
	pool.Handle(context.Background(), newDelivery("tok-4", &acked))
	if !acked {
		t.Fatal("expected job to be acked despite publish failure")
	}
}

func TestRunProcessesDeliveriesUntilCancel(t *testing.T) {
	pub := newFakePublisher()
	consumer := &fakeConsumer{deliveries: make(chan *queue.Delivery, 2)}
	pool := newPool(t, worker.Config{
		Queue:     consumer,
		Publisher: pub,
		Executor:  &fakeExecutor{res: job.ExecutionResult{Stdout: "ok\n"}},
		PoolSize:  2,
	})

	consumer.deliveries <- newDelivery("tok-a", nil)
	consumer.deliveries <- newDelivery("tok-b", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if len(pub.published("tok-a")) == 2 && len(pub.published("tok-b")) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for both jobs; a=%d b=%d",
				len(pub.published("tok-a")), len(pub.published("tok-b")))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

// A down queue backend must not be hammered in a hot loop: consecutive
// dequeue failures are spaced by the retry delay, and cancellation during
// the pause still stops the pool promptly.
func TestRunBacksOffAfterDequeueFailure(t *testing.T) {
	consumer := &failingConsumer{}
	pool := newPool(t, worker.Config{
		Queue:             consumer,
		Publisher:         newFakePublisher(),
		Executor:          &fakeExecutor{},
		DequeueRetryDelay: 40 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop during retry backoff")
	}

	if n := consumer.count(); n < 2 || n > 10 {
		t.Fatalf("expected a handful of spaced retries, got %d dequeue calls", n)
	}
}

func TestHandleRedeliveredAttemptStillTerminates(t *testing.T) {
	pub := newFakePublisher()
	pool := newPool(t, worker.Config{
		Publisher: pub,
		Executor:  &fakeExecutor{res: job.ExecutionResult{Stdout: "ok\n"}},
	})

	d := queue.NewDelivery("job-9", testJob("tok-5"), 3, func(context.Context) error { return nil })
	pool.Handle(context.Background(), d)

	got := pub.published("tok-5")
	if len(got) != 2 || got[1].Status != job.StatusCompleted {
		t.Fatalf("expected redelivered job to complete, got %+v", got)
	}
}
