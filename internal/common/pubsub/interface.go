package pubsub

import (
	"context"

	"judgeflow/internal/job"
)

// ChannelPrefix namespaces result channels. The publish target for a job is
// ChannelPrefix + token; the gateway pattern-subscribes to the whole space.
const ChannelPrefix = "submission:"

// Pattern matches every result channel.
const Pattern = ChannelPrefix + "*"

// Event is one update received from a result channel.
type Event struct {
	Token  string
	Update job.SubmissionUpdate
}

// Publisher fans a submission update out to whoever subscribed with the
// matching token. Publishing to a token nobody listens on is not an error;
// the result is simply dropped (the client disconnected).
type Publisher interface {
	Publish(ctx context.Context, token string, update job.SubmissionUpdate) error
}

// Subscriber delivers events for every token in the channel space. The
// per-connection token filtering happens in the gateway hub, not here.
type Subscriber interface {
	// Subscribe opens the pattern subscription and returns the event
	// stream. The channel closes when ctx is done or Close is called.
	Subscribe(ctx context.Context) (<-chan Event, error)

	Close() error
}
