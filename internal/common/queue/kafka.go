package queue

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"judgeflow/internal/job"
	appErr "judgeflow/pkg/errors"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	headerJobID   = "x-job-id"
	headerAttempt = "x-job-attempt"
)

// KafkaConfig defines configuration for the Kafka queue backend.
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	GroupID  string   `yaml:"groupID"`
	ClientID string   `yaml:"clientID"`

	// Producer settings
	RequiredAcks kafka.RequiredAcks `yaml:"requiredAcks"`
	BatchTimeout time.Duration      `yaml:"batchTimeout"`

	// Consumer settings
	MinBytes int           `yaml:"minBytes"`
	MaxBytes int           `yaml:"maxBytes"`
	MaxWait  time.Duration `yaml:"maxWait"`

	DialTimeout time.Duration `yaml:"dialTimeout"`

	CompressThreshold int `yaml:"compressThreshold"`
}

// KafkaQueue implements Queue on a Kafka topic. The consumer group offset
// commit is the lease discipline here: a fetched message is only committed
// on Ack, so a worker crash before Ack leaves the message for redelivery
// (at-least-once, same caveat as the Redis backend).
type KafkaQueue struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer
	codec  *Codec

	mu     sync.Mutex
	reader *kafka.Reader
	closed bool
}

// NewKafkaQueue creates a Kafka-backed job queue.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "judgeflow-" + cfg.Topic
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1 << 10
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = kafka.RequireOne
	}
	threshold := cfg.CompressThreshold
	if threshold == 0 {
		threshold = DefaultCompressThreshold
	}
	if threshold < 0 {
		threshold = 0
	}
	codec, err := NewCodec(threshold)
	if err != nil {
		return nil, err
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: cfg.RequiredAcks,
		BatchTimeout: cfg.BatchTimeout,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
			ClientID: cfg.ClientID,
		},
	}

	return &KafkaQueue{cfg: cfg, writer: writer, dialer: dialer, codec: codec}, nil
}

// Enqueue publishes a job keyed by its token and returns the assigned id.
func (k *KafkaQueue) Enqueue(ctx context.Context, j *job.Job) (string, error) {
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
	id := uuid.NewString()
	msg := kafka.Message{
		Key:   []byte(j.Token),
		Value: k.codec.Encode(body),
		Headers: []kafka.Header{
			{Key: headerJobID, Value: []byte(id)},
			{Key: headerAttempt, Value: []byte("0")},
		},
		Time: time.Now(),
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return "", appErr.Wrapf(err, appErr.QueueUnavailable, "enqueue job failed")
	}
	return id, nil
}

// Dequeue fetches the next uncommitted message from the consumer group.
func (k *KafkaQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	reader, err := k.getReader()
	if err != nil {
		return nil, err
	}
	msg, err := reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, appErr.Wrapf(err, appErr.DequeueFailed, "fetch message failed")
	}

	body, err := k.codec.Decode(msg.Value)
	if err != nil {
		// Unreadable message: commit so it cannot wedge the partition.
		_ = reader.CommitMessages(ctx, msg)
		return nil, appErr.Wrapf(err, appErr.DequeueFailed, "decode job payload failed")
	}
	j, err := job.Decode(body)
	if err != nil {
		_ = reader.CommitMessages(ctx, msg)
		return nil, appErr.Wrap(err, appErr.DequeueFailed)
	}

	id := ""
	attempt := 0
	for _, h := range msg.Headers {
		switch h.Key {
		case headerJobID:
			id = string(h.Value)
		case headerAttempt:
			if v, err := strconv.Atoi(string(h.Value)); err == nil && v >= 0 {
				attempt = v
			}
		}
	}
	if id == "" {
		id = strconv.FormatInt(msg.Offset, 10)
	}

	return &Delivery{
		JobID:   id,
		Job:     j,
		Attempt: attempt,
		acker: func(ackCtx context.Context) error {
			if err := reader.CommitMessages(ackCtx, msg); err != nil {
				return appErr.Wrapf(err, appErr.AckFailed, "commit message failed")
			}
			return nil
		},
	}, nil
}

func (k *KafkaQueue) getReader() (*kafka.Reader, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, appErr.New(appErr.QueueUnavailable).WithMessage("queue is closed")
	}
	if k.reader == nil {
		k.reader = kafka.NewReader(k.readerConfig())
	}
	return k.reader, nil
}

func (k *KafkaQueue) readerConfig() kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:  k.cfg.Brokers,
		Topic:    k.cfg.Topic,
		GroupID:  k.cfg.GroupID,
		MinBytes: k.cfg.MinBytes,
		MaxBytes: k.cfg.MaxBytes,
		MaxWait:  k.cfg.MaxWait,
		// A fresh consumer group must start from the earliest offset:
		// jobs enqueued before the first worker ever connected are still
		// owed a result. LastOffset would drop them on the floor.
		StartOffset: kafka.FirstOffset,
	}
}

// Ping verifies the Kafka connection.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close closes the producer and consumer.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	var err error
	if k.reader != nil {
		err = errors.Join(err, k.reader.Close())
	}
	return errors.Join(err, k.writer.Close())
}
