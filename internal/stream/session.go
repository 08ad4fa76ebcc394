package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"fleetwatch/internal/general/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// heartbeatInterval is the constant period between keep-alive comments.
	heartbeatInterval = 15 * time.Second
	// acquireTimeout bounds the wait for a pooled connection. A saturated
	// pool fails the session fast instead of queueing it indefinitely.
	acquireTimeout = 5 * time.Second
	// unlistenTimeout bounds the best-effort UNLISTEN during teardown.
	unlistenTimeout = 2 * time.Second
)

// Session owns one streaming connection to one client: a dedicated database
// connection, the LISTEN subscription, the heartbeat ticker, and the outbound
// sink. Teardown runs at most once no matter which of abort, setup failure, or
// notification-loop error triggers it.
type Session struct {
	pool    Pool
	sink    Sink
	log     *logger.Logger
	channel string
	scope   Scope

	// overridable in tests
	heartbeatEvery time.Duration
	acquireWithin  time.Duration

	conn       Conn
	cleanupCtx context.Context
	closeOnce  sync.Once
}

// NewSession wires a session; Run drives it to completion.
func NewSession(pool Pool, sink Sink, log *logger.Logger, channel string, scope Scope) *Session {
	return &Session{
		pool:           pool,
		sink:           sink,
		log:            log,
		channel:        channel,
		scope:          scope,
		heartbeatEvery: heartbeatInterval,
		acquireWithin:  acquireTimeout,
	}
}

// Run blocks until the client disconnects (ctx cancelled) or the session hits
// an unrecoverable error, then tears down. Nothing escapes as a panic or an
// unhandled error; every failure becomes an in-band error event or a no-op.
func (s *Session) Run(ctx context.Context) {
	// teardown must be able to issue UNLISTEN after the request context died
	s.cleanupCtx = context.WithoutCancel(ctx)
	defer s.teardown()

	acqCtx, cancel := context.WithTimeout(ctx, s.acquireWithin)
	conn, err := s.pool.Acquire(acqCtx)
	cancel()
	if err != nil {
		s.log.Error(ctx, "stream_acquire_failed", "No pooled connection available for stream", err, nil)
		_ = s.sink.Send("", errorPayload("database connection error"))
		return
	}
	s.conn = conn

	// transport preamble: marks the response as an active stream to proxies
	_ = s.sink.KeepAlive("connected")

	// snapshot first, LISTEN second: no live event may precede the initial
	// set. The query runs under the request context, so a client that leaves
	// mid-query cancels the server-side work.
	query, args := snapshotQuery(s.scope)
	rows, err := s.conn.Snapshot(ctx, query, args...)
	switch {
	case err == nil:
		_ = s.sink.Send("", initialPayload(rows))
	case ctx.Err() != nil:
		return
	default:
		// non-fatal: the client still gets live updates
		s.log.Error(ctx, "stream_snapshot_failed", "Initial vehicle snapshot query failed", err, nil)
		_ = s.sink.Send("", errorPayload("failed to load initial vehicle snapshot"))
	}

	if err := s.conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		if ctx.Err() == nil {
			s.log.Error(ctx, "stream_listen_failed", "LISTEN failed on stream connection", err,
				map[string]any{"channel": s.channel})
			_ = s.sink.Send("", errorPayload("failed to subscribe to vehicle updates"))
		}
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.heartbeatLoop(hbCtx)

	for {
		notification, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// client went away; normal end of session
				return
			}
			s.log.Error(ctx, "stream_wait_failed", "Notification wait ended the stream", err,
				map[string]any{"channel": s.channel})
			return
		}
		s.forward(notification)
	}
}

// forward turns one notification into at most one outbound event. Malformed
// payloads produce an error event and the session keeps listening.
func (s *Session) forward(n *pgconn.Notification) {
	if n == nil || strings.TrimSpace(n.Payload) == "" {
		_ = s.sink.Send("", errorPayload("empty notification payload"))
		return
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(n.Payload), &fields); err != nil {
		_ = s.sink.Send("", errorPayload("malformed notification payload"))
		return
	}

	// payload-level scoping: a scoped session drops changes for other tenants
	if s.scope.CostCode != "" {
		if cc, ok := fields["cost_code"].(string); ok && cc != "" && cc != s.scope.CostCode {
			return
		}
	}

	if kind, ok := fields["type"].(string); !ok || kind == "" {
		fields["type"] = DefaultChangeType
	}
	fields["timestamp"] = nowISO()

	_ = s.sink.Send(messageEventName, fields)
}

// heartbeatLoop emits a comment every tick until the session ends. Writes
// against a closed sink are dropped by the sink itself.
func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.sink.KeepAlive("heartbeat")
		}
	}
}

// teardown unsubscribes, releases the connection, and closes the sink, each
// best-effort, all exactly once.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		// closing the sink first guarantees no event follows teardown
		s.sink.Close()

		if s.conn == nil {
			return
		}
		ctx, cancel := context.WithTimeout(s.cleanupCtx, unlistenTimeout)
		if err := s.conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
			s.log.Debug(ctx, "stream_unlisten_failed", "UNLISTEN failed during teardown", map[string]any{
				"channel": s.channel,
				"error":   err.Error(),
			})
		}
		cancel()
		s.conn.Release()
	})
}
