// Package ws streams run lifecycle events to WebSocket subscribers.
// The hub fans every published envelope out to connected subscribers,
// optionally filtered to a single run. Slow subscribers are dropped
// rather than ever blocking the publisher.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jkaninda/mpango/internal/config"
	"github.com/jkaninda/mpango/internal/orchestrator"
	"github.com/jkaninda/mpango/internal/protocol"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Hub distributes run events to WebSocket subscribers.
type Hub struct {
	cfg    *config.WebSocketGatewayConfig
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// subscriber is one connected client. runID empty means all runs.
type subscriber struct {
	runID string
	ch    chan *protocol.Envelope
}

// Compile-time check.
var _ orchestrator.EventSink = (*Hub)(nil)

// NewHub creates a hub with no subscribers.
func NewHub(cfg *config.WebSocketGatewayConfig, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Publish fans the envelope out to matching subscribers. It never
// blocks: a subscriber whose buffer is full is dropped on the spot.
func (h *Hub) Publish(env *protocol.Envelope) {
	var slow []*subscriber

	h.mu.RLock()
	for sub := range h.subs {
		if sub.runID != "" && sub.runID != env.RunID {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.drop(sub)
		h.logger.Warn("dropping slow websocket subscriber",
			slog.String("run_id", sub.runID),
		)
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscriber and refuses new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Subscribe attaches a channel-level subscriber without a WebSocket
// connection, for callers that stream events over other transports.
// The returned cancel func releases the subscription; ok is false when
// the hub is closed. The channel is closed when the subscriber falls
// behind or the hub shuts down.
func (h *Hub) Subscribe(runID string) (<-chan *protocol.Envelope, func(), bool) {
	sub, ok := h.subscribe(runID)
	if !ok {
		return nil, nil, false
	}
	return sub.ch, func() { h.drop(sub) }, true
}

// Handler returns the http.Handler that upgrades connections and
// streams events. An optional run_id query parameter restricts the
// stream to one run.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.handleUpgrade)
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID != "" {
		if _, err := uuid.Parse(runID); err != nil {
			http.Error(w, "invalid run_id", http.StatusBadRequest)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"mpango-events-v1"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	sub, ok := h.subscribe(runID)
	if !ok {
		conn.Close(websocket.StatusGoingAway, "hub closed")
		return
	}
	defer h.drop(sub)

	h.logger.Info("websocket subscriber connected", slog.String("run_id", runID))
	h.serveConn(r.Context(), conn, sub)
	conn.Close(websocket.StatusNormalClosure, "connection closed")
}

func (h *Hub) subscribe(runID string) (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &subscriber{
		runID: runID,
		ch:    make(chan *protocol.Envelope, h.cfg.SubscriberBuffer()),
	}
	h.subs[sub] = struct{}{}
	return sub, true
}

// drop removes the subscriber and closes its channel exactly once; map
// membership is the once-guard.
func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// serveConn pumps envelopes to one connection until the client leaves,
// the hub drops it, or the context ends.
func (h *Hub) serveConn(ctx context.Context, conn *websocket.Conn, sub *subscriber) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribers never send, but reading surfaces disconnects.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.ch:
			if !ok {
				// Dropped: either too slow or the hub shut down.
				conn.Close(websocket.StatusGoingAway, "event stream closed")
				return
			}
			if err := h.write(ctx, conn, env); err != nil {
				return
			}
		case <-ticker.C:
			ping, err := protocol.NewEnvelope(protocol.MsgPing, "", nil)
			if err != nil {
				continue
			}
			if err := h.write(ctx, conn, ping); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
