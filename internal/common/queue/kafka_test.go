package queue

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestKafkaQueueRequiresBrokersAndTopic(t *testing.T) {
	if _, err := NewKafkaQueue(KafkaConfig{Topic: "jobs"}); err == nil {
		t.Fatal("expected error for missing brokers")
	}
	if _, err := NewKafkaQueue(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}}); err == nil {
		t.Fatal("expected error for missing topic")
	}
}

// A consumer group with no committed offset must read from the earliest
// offset, or every job enqueued before the first worker start is skipped and
// its client waits forever.
func TestKafkaQueueConsumesFromEarliestOffset(t *testing.T) {
	q, err := NewKafkaQueue(KafkaConfig{
		Brokers: []string{"127.0.0.1:9092"},
		Topic:   "jobs",
	})
	if err != nil {
		t.Fatalf("new kafka queue: %v", err)
	}
	defer q.Close()

	cfg := q.readerConfig()
	if cfg.StartOffset != kafka.FirstOffset {
		t.Fatalf("start offset = %d, want FirstOffset", cfg.StartOffset)
	}
	if cfg.GroupID == "" {
		t.Fatal("expected a defaulted consumer group id")
	}
}
