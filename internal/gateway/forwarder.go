package gateway

import (
	"context"

	"judgeflow/internal/common/pubsub"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// Forwarder bridges the result broker into the local hub. Every gateway
// process runs one: it pattern-subscribes to the whole result channel
// space and routes each event to the subscribers this process holds, so a
// worker never needs to know which gateway a client is attached to.
type Forwarder struct {
	source pubsub.Subscriber
	hub    *Hub
}

// NewForwarder creates a forwarder from the broker subscription to the hub.
func NewForwarder(source pubsub.Subscriber, hub *Hub) *Forwarder {
	return &Forwarder{source: source, hub: hub}
}

// Run forwards events until ctx is done or the subscription closes.
func (f *Forwarder) Run(ctx context.Context) error {
	events, err := f.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	for ev := range events {
		n := f.hub.Deliver(ev.Token, ev.Update)
		logger.Debug(ctx, "update routed",
			zap.String("token", ev.Token),
			zap.String("status", ev.Update.Status),
			zap.Int("subscribers", n),
		)
	}
	return ctx.Err()
}
