package websocket

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"fleetwatch/internal/general/jwt"
	"fleetwatch/internal/general/logger"
	"fleetwatch/internal/stream"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 5 * time.Second
	ctrlTimeout    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Feed serves the vehicle-update stream over WebSocket. It drives the same
// session core as the SSE endpoint; only the framing differs (JSON text
// frames, ping control frames instead of comment lines).
type Feed struct {
	pool    stream.Pool
	log     *logger.Logger
	jwtMgr  *jwt.Manager
	channel string

	defaultLimit int
	maxLimit     int
}

// NewFeed constructs the WebSocket feed handler. A nil jwt manager disables auth.
func NewFeed(pool stream.Pool, log *logger.Logger, jwtMgr *jwt.Manager, channel string, defaultLimit, maxLimit int) *Feed {
	return &Feed{
		pool:         pool,
		log:          log,
		jwtMgr:       jwtMgr,
		channel:      channel,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := f.log.WithRequestID(r.Context(), uuid.NewString())

	// token comes as a query parameter; browsers cannot set WS headers
	if f.jwtMgr != nil {
		raw, err := jwt.FromAuthorization(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if _, _, err := f.jwtMgr.ParseAndValidate(raw); err != nil {
			http.Error(w, "authentication failed: invalid token", http.StatusUnauthorized)
			return
		}
	}

	scope := f.parseScope(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Error(ctx, "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	defer conn.Close()

	f.log.Info(ctx, "ws_feed_connected", "Vehicle feed WebSocket connected", map[string]any{
		"cost_code": scope.CostCode,
		"limit":     scope.Limit,
	})

	// detect client disconnect: the read loop fails when the peer goes away,
	// which cancels the session context exactly like an SSE request abort
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		conn.SetReadLimit(1 << 20) // 1 MiB
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	sink := newWSSink(conn)
	session := stream.NewSession(f.pool, sink, f.log, f.channel, scope)
	session.Run(runCtx)

	f.log.Info(ctx, "ws_feed_closed", "Vehicle feed WebSocket closed", map[string]any{
		"cost_code": scope.CostCode,
	})
}

func (f *Feed) parseScope(r *http.Request) stream.Scope {
	q := r.URL.Query()

	requested := 0
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			requested = n
		}
	}

	return stream.Scope{
		CostCode: strings.TrimSpace(q.Get("cost_code")),
		Limit:    stream.ClampLimit(requested, f.defaultLimit, f.maxLimit),
	}
}

// wsSink adapts one WebSocket connection to the stream.Sink contract with a
// per-connection writer lock.
type wsSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{conn: conn}
}

// Send writes the event payload as one JSON text frame. The SSE event name is
// dropped; WS clients dispatch on the payload's `type` field.
func (s *wsSink) Send(_ string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	// write errors are the disconnect race; the read loop ends the session
	_ = s.conn.WriteJSON(payload)
	return nil
}

// KeepAlive sends a ping control frame in place of an SSE comment line.
func (s *wsSink) KeepAlive(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
	return nil
}

// Close marks the sink closed; the feed handler owns closing the socket.
func (s *wsSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
