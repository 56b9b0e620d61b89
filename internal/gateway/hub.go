package gateway

import (
	"context"
	"sync"

	"judgeflow/internal/job"
	"judgeflow/pkg/utils/logger"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Subscriber receives updates for tokens it registered interest in.
// Deliver must not block; it reports whether the update was accepted.
// Implemented by the websocket session and by test fakes.
type Subscriber interface {
	Deliver(token string, update job.SubmissionUpdate) bool
}

// Hub is the in-process subscription registry mapping tokens to connected
// subscribers. Routing is by token only: a subscriber sees exactly the
// updates for tokens it registered, and an update for a token with no
// subscribers is dropped without error.
type Hub struct {
	subs *xsync.MapOf[string, *subscriberSet]
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: xsync.NewMapOf[string, *subscriberSet]()}
}

// Register adds sub to the token's subscriber set. Registering twice is a
// no-op. Multiple subscribers may hold the same token; each receives every
// update for it. The add runs under the map entry's guard so a concurrent
// prune cannot delete the entry between lookup and add and strand sub on an
// orphaned set.
func (h *Hub) Register(token string, sub Subscriber) {
	h.subs.Compute(token, func(cur *subscriberSet, loaded bool) (*subscriberSet, bool) {
		if !loaded {
			cur = newSubscriberSet()
		}
		cur.add(sub)
		return cur, false
	})
}

// Unregister removes sub from one token's set.
func (h *Hub) Unregister(token string, sub Subscriber) {
	set, ok := h.subs.Load(token)
	if !ok {
		return
	}
	if set.remove(sub) {
		h.prune(token, set)
	}
}

// UnregisterAll removes sub from every token's set. Called when a
// connection closes, whatever it had subscribed to.
func (h *Hub) UnregisterAll(sub Subscriber) {
	h.subs.Range(func(token string, set *subscriberSet) bool {
		if set.remove(sub) {
			h.prune(token, set)
		}
		return true
	})
}

// Deliver fans the update out to the token's current subscribers and
// returns how many accepted it. Zero subscribers is a normal outcome: the
// client disconnected or never subscribed.
func (h *Hub) Deliver(token string, update job.SubmissionUpdate) int {
	set, ok := h.subs.Load(token)
	if !ok {
		return 0
	}
	delivered := 0
	for _, sub := range set.snapshot() {
		if sub.Deliver(token, update) {
			delivered++
		} else {
			logger.Warn(context.Background(), "subscriber rejected update, dropping",
				zap.String("token", token), zap.String("status", update.Status))
		}
	}
	return delivered
}

// prune drops the token entry once its set is empty. Register serializes
// with this on the same entry, so the guarded re-check keeps a repopulated
// set from being dropped.
func (h *Hub) prune(token string, set *subscriberSet) {
	if !set.empty() {
		return
	}
	h.subs.Compute(token, func(cur *subscriberSet, loaded bool) (*subscriberSet, bool) {
		if !loaded || cur != set || !cur.empty() {
			return cur, false
		}
		return nil, true
	})
}

type subscriberSet struct {
	mu      sync.RWMutex
	members map[Subscriber]struct{}
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{members: make(map[Subscriber]struct{})}
}

func (s *subscriberSet) add(sub Subscriber) {
	s.mu.Lock()
	s.members[sub] = struct{}{}
	s.mu.Unlock()
}

func (s *subscriberSet) remove(sub Subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[sub]; !ok {
		return false
	}
	delete(s.members, sub)
	return true
}

func (s *subscriberSet) empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members) == 0
}

func (s *subscriberSet) snapshot() []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscriber, 0, len(s.members))
	for sub := range s.members {
		out = append(out, sub)
	}
	return out
}
