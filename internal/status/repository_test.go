package status_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"judgeflow/internal/job"
	"judgeflow/internal/status"
	appErr "judgeflow/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRepository(t *testing.T) (*status.Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo, err := status.NewRepository(client, time.Hour)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo, mr
}

func TestRepositorySaveAndGet(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	want := job.Completed("AllPassed\nreport body")
	if err := repo.Save(ctx, "tok-1", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != want.Status || got.Output != want.Output {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestRepositoryUnknownToken(t *testing.T) {
	repo, _ := newTestRepository(t)
	_, err := repo.Get(context.Background(), "tok-missing")
	if appErr.GetCode(err) != appErr.StatusNotFound {
		t.Fatalf("expected StatusNotFound, got %v", err)
	}
}

// A late Running publish (duplicate delivery) must never shadow a stored
// terminal result.
func TestRepositoryRunningNeverOverwritesTerminal(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Save(ctx, "tok-1", job.Completed("done")); err != nil {
		t.Fatalf("save terminal: %v", err)
	}
	if err := repo.Save(ctx, "tok-1", job.Running()); err != nil {
		t.Fatalf("save running: %v", err)
	}

	got, err := repo.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Fatalf("late Running shadowed terminal status: %+v", got)
	}
}

func TestRepositoryTerminalOverwritesRunning(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Save(ctx, "tok-1", job.Running()); err != nil {
		t.Fatalf("save running: %v", err)
	}
	if err := repo.Save(ctx, "tok-1", job.Failed()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := repo.Get(ctx, "tok-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != job.StatusFailed || got.Output != job.GenericFailureMessage {
		t.Fatalf("expected Failed with generic message, got %+v", got)
	}
}

// The terminal-wins rule must hold when the Running and terminal writers
// race, not only when they arrive in order: whichever interleaving the
// scheduler picks, the stored status ends up terminal.
func TestRepositoryConcurrentRunningAndTerminal(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		token := fmt.Sprintf("tok-race-%d", i)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := repo.Save(ctx, token, job.Running()); err != nil {
				t.Errorf("save running: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := repo.Save(ctx, token, job.Completed("done")); err != nil {
				t.Errorf("save terminal: %v", err)
			}
		}()
		wg.Wait()

		got, err := repo.Get(ctx, token)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != job.StatusCompleted {
			t.Fatalf("iteration %d: Running shadowed the terminal status: %+v", i, got)
		}
	}
}

func TestRepositoryStatusExpires(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Save(ctx, "tok-1", job.Completed("out")); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(2 * time.Hour)

	_, err := repo.Get(ctx, "tok-1")
	if appErr.GetCode(err) != appErr.StatusNotFound {
		t.Fatalf("expected expiry to clear the status, got %v", err)
	}
}

func TestRepositoryRejectsEmptyToken(t *testing.T) {
	repo, _ := newTestRepository(t)
	if err := repo.Save(context.Background(), "", job.Running()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := repo.Get(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}
