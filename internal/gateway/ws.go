package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"judgeflow/internal/job"
	"judgeflow/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Wire events exchanged with the browser client. The names are part of the
// client contract and never change.
const (
	EventSubscribe        = "subscribe"
	EventSubscribed       = "subscribed"
	EventUnsubscribe      = "unsubscribe"
	EventUnsubscribed     = "unsubscribed"
	EventSubmissionUpdate = "submission-update"
	EventError            = "error"
)

// frame is one websocket message in either direction.
type frame struct {
	Event   string                `json:"event"`
	Token   string                `json:"token,omitempty"`
	Data    *job.SubmissionUpdate `json:"data,omitempty"`
	Message string                `json:"message,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The token is the capability; the origin carries no authority.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// WSHandler upgrades client connections and runs one session per
// connection. Each session subscribes to tokens on the shared hub and
// receives updates the forwarder routes through it.
type WSHandler struct {
	hub *Hub
}

// NewWSHandler creates a websocket handler bound to the hub.
func NewWSHandler(hub *Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Serve is the gin handler for the websocket endpoint.
func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	s := &session{
		conn: conn,
		out:  make(chan frame, sendBuffer),
		done: make(chan struct{}),
	}
	go s.writeLoop()
	defer func() {
		h.hub.UnregisterAll(s)
		s.close()
	}()

	s.readLoop(h.hub)
}

// session is one connected websocket client. All writes to the connection
// happen on the writeLoop goroutine; everyone else enqueues frames.
type session struct {
	conn *websocket.Conn
	out  chan frame

	closeOnce sync.Once
	done      chan struct{}
}

// Deliver implements Subscriber. It never blocks: a client too slow to
// drain its buffer loses the update and can recover it from the status
// endpoint.
func (s *session) Deliver(token string, update job.SubmissionUpdate) bool {
	return s.enqueue(frame{Event: EventSubmissionUpdate, Token: token, Data: &update})
}

func (s *session) enqueue(f frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- f:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// readLoop consumes client frames until the connection drops. Subscribe
// acks are enqueued before the hub registration, so the ack always
// precedes the first update for that token on the wire.
func (s *session) readLoop(hub *Hub) {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug(context.Background(), "websocket read failed", zap.Error(err))
			}
			return
		}
		switch f.Event {
		case EventSubscribe:
			if f.Token == "" {
				s.enqueue(frame{Event: EventError, Message: "token is required"})
				continue
			}
			s.enqueue(frame{Event: EventSubscribed, Token: f.Token})
			hub.Register(f.Token, s)
		case EventUnsubscribe:
			if f.Token == "" {
				s.enqueue(frame{Event: EventError, Message: "token is required"})
				continue
			}
			hub.Unregister(f.Token, s)
			s.enqueue(frame{Event: EventUnsubscribed, Token: f.Token})
		default:
			s.enqueue(frame{Event: EventError, Message: "unknown event"})
		}
	}
}

// writeLoop is the single writer for the connection. It pushes queued
// frames and keeps the connection alive with pings.
func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case f := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}
