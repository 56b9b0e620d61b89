package pubsub_test

import (
	"context"
	"testing"
	"time"

	"judgeflow/internal/common/pubsub"
	"judgeflow/internal/job"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBroker(t *testing.T) (*pubsub.RedisBroker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	broker, err := pubsub.NewRedisBroker(client)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	t.Cleanup(func() { _ = broker.Close() })
	return broker, client
}

func waitEvent(t *testing.T, events <-chan pubsub.Event) pubsub.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return pubsub.Event{}
	}
}

func TestBrokerPublishReachesPatternSubscriber(t *testing.T) {
	broker, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := broker.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	want := job.Completed("AllPassed\n2/2 test cases passed\n")
	if err := broker.Publish(ctx, "tok-1", want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ev := waitEvent(t, events)
	if ev.Token != "tok-1" {
		t.Fatalf("expected token tok-1, got %s", ev.Token)
	}
	if ev.Update.Status != job.StatusCompleted || ev.Update.Output != want.Output {
		t.Fatalf("unexpected update: %+v", ev.Update)
	}
}

func TestBrokerRoutesDistinctTokens(t *testing.T) {
	broker, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := broker.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := broker.Publish(ctx, "tok-a", job.Running()); err != nil {
		t.Fatalf("publish a: %v", err)
	}
	if err := broker.Publish(ctx, "tok-b", job.Failed()); err != nil {
		t.Fatalf("publish b: %v", err)
	}

	first := waitEvent(t, events)
	second := waitEvent(t, events)
	got := map[string]string{
		first.Token:  first.Update.Status,
		second.Token: second.Update.Status,
	}
	if got["tok-a"] != job.StatusRunning || got["tok-b"] != job.StatusFailed {
		t.Fatalf("events crossed tokens: %+v", got)
	}
}

// Publishing with zero subscribers is fire-and-forget, never an error.
func TestBrokerPublishWithoutSubscribers(t *testing.T) {
	broker, _ := newTestBroker(t)
	if err := broker.Publish(context.Background(), "tok-nobody", job.Running()); err != nil {
		t.Fatalf("publish without subscribers: %v", err)
	}
}

// Malformed payloads on the channel space are dropped, not fatal.
func TestBrokerDropsMalformedPayload(t *testing.T) {
	broker, client := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := broker.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := client.Publish(ctx, pubsub.ChannelPrefix+"tok-x", "{not json").Err(); err != nil {
		t.Fatalf("publish raw: %v", err)
	}
	if err := broker.Publish(ctx, "tok-x", job.Running()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ev := waitEvent(t, events)
	if ev.Update.Status != job.StatusRunning {
		t.Fatalf("expected the valid update to arrive, got %+v", ev)
	}
}

func TestBrokerSecondSubscribeFails(t *testing.T) {
	broker, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := broker.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := broker.Subscribe(ctx); err == nil {
		t.Fatal("expected second subscribe to fail")
	}
}

func TestBrokerRejectsEmptyToken(t *testing.T) {
	broker, _ := newTestBroker(t)
	if err := broker.Publish(context.Background(), "", job.Running()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
