package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"judgeflow/internal/job"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker implements Publisher and Subscriber on Redis pub/sub channels
// named submission:<token>.
type RedisBroker struct {
	client *redis.Client

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
}

// NewRedisBroker creates a broker on the given client. The client lifecycle
// is owned by the caller.
func NewRedisBroker(client *redis.Client) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisBroker{client: client}, nil
}

// Publish sends one update on the token's channel. Fire-and-forget: it does
// not wait for, or count, subscribers.
func (b *RedisBroker) Publish(ctx context.Context, token string, update job.SubmissionUpdate) error {
	if token == "" {
		return appErr.ValidationError("token", "required")
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "marshal update failed")
	}
	if err := b.client.Publish(ctx, ChannelPrefix+token, payload).Err(); err != nil {
		return appErr.Wrapf(err, appErr.PublishUnreachable, "publish update failed")
	}
	return nil
}

// Subscribe opens the pattern subscription over the whole channel space and
// pumps decoded events until ctx is done.
func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, appErr.New(appErr.SubscribeFailed).WithMessage("broker is closed")
	}
	if b.pubsub != nil {
		return nil, appErr.New(appErr.SubscribeFailed).WithMessage("already subscribed")
	}

	ps := b.client.PSubscribe(ctx, Pattern)
	// Wait for the subscription to be active so a caller cannot race a
	// publish against an unconfirmed subscribe.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, appErr.Wrapf(err, appErr.SubscribeFailed, "open pattern subscription failed")
	}
	b.pubsub = ps

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ps.Channel():
				if !ok {
					return
				}
				token := strings.TrimPrefix(msg.Channel, ChannelPrefix)
				if token == "" || token == msg.Channel {
					continue
				}
				var update job.SubmissionUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					logger.Warn(ctx, "drop malformed update",
						zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case events <- Event{Token: token, Update: update}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

// Close tears down the pattern subscription.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
