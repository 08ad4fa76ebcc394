package stream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleetwatch/internal/general/logger"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeConn struct {
	mu    sync.Mutex
	execs []string

	rows        []map[string]any
	snapshotErr error
	listenErr   error

	notifs    chan *pgconn.Notification
	listening chan struct{}

	released  atomic.Int32
	unlistens atomic.Int32
}

func newFakeConn(rows []map[string]any) *fakeConn {
	return &fakeConn{
		rows:      rows,
		notifs:    make(chan *pgconn.Notification, 16),
		listening: make(chan struct{}),
	}
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) error {
	c.mu.Lock()
	c.execs = append(c.execs, sql)
	c.mu.Unlock()

	switch {
	case strings.HasPrefix(sql, "LISTEN"):
		if c.listenErr != nil {
			return c.listenErr
		}
		close(c.listening)
	case strings.HasPrefix(sql, "UNLISTEN"):
		c.unlistens.Add(1)
	}
	return nil
}

func (c *fakeConn) Snapshot(_ context.Context, _ string, _ ...any) ([]map[string]any, error) {
	if c.snapshotErr != nil {
		return nil, c.snapshotErr
	}
	return c.rows, nil
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case n := <-c.notifs:
		return n, nil
	}
}

func (c *fakeConn) Release() {
	c.released.Add(1)
}

func (c *fakeConn) sawExec(prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sql := range c.execs {
		if strings.HasPrefix(sql, prefix) {
			return true
		}
	}
	return false
}

type fakePool struct {
	conn     Conn
	err      error
	acquires atomic.Int32
}

func (p *fakePool) Acquire(context.Context) (Conn, error) {
	p.acquires.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

// --- harness ---

type sessionRun struct {
	rec     *httptest.ResponseRecorder
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

func startSession(t *testing.T, pool Pool, scope Scope, heartbeat time.Duration) *sessionRun {
	t.Helper()

	rec := httptest.NewRecorder()
	sink, err := NewSSEWriter(rec)
	require.NoError(t, err)

	session := NewSession(pool, sink, logger.New("stream-test"), "vehicle_updates", scope)
	if heartbeat > 0 {
		session.heartbeatEvery = heartbeat
	} else {
		session.heartbeatEvery = time.Hour // keep heartbeats out of the way
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		session.Run(ctx)
		close(done)
	}()

	return &sessionRun{rec: rec, session: session, cancel: cancel, done: done}
}

func (r *sessionRun) stop(t *testing.T) string {
	t.Helper()
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	// let any in-flight heartbeat goroutine drain behind the sink mutex
	time.Sleep(20 * time.Millisecond)
	return r.rec.Body.String()
}

func waitListening(t *testing.T, conn *fakeConn) {
	t.Helper()
	select {
	case <-conn.listening:
	case <-time.After(2 * time.Second):
		t.Fatal("session never issued LISTEN")
	}
}

func notify(conn *fakeConn, payload string) {
	conn.notifs <- &pgconn.Notification{Channel: "vehicle_updates", Payload: payload}
	// give the session goroutine a moment to forward it
	time.Sleep(20 * time.Millisecond)
}

// --- tests ---

func TestSessionInitialPrecedesNotifications(t *testing.T) {
	conn := newFakeConn([]map[string]any{{"id": "v-1", "cost_code": "COST-1"}})
	run := startSession(t, &fakePool{conn: conn}, Scope{Limit: 50}, 0)

	waitListening(t, conn)
	notify(conn, `{"type":"vehicle_update","id":42}`)

	body := run.stop(t)

	require.True(t, strings.HasPrefix(body, ": connected\n\n"), "stream must open with the preamble comment")

	initialAt := strings.Index(body, `"type":"initial"`)
	updateAt := strings.Index(body, `"type":"vehicle_update"`)
	require.GreaterOrEqual(t, initialAt, 0, "initial event missing")
	require.GreaterOrEqual(t, updateAt, 0, "notification event missing")
	assert.Less(t, initialAt, updateAt, "initial event must precede live events")

	assert.Contains(t, body, "event: message\n")
	assert.Contains(t, body, `"timestamp"`)
}

func TestSessionTeardownRunsOnce(t *testing.T) {
	conn := newFakeConn(nil)
	run := startSession(t, &fakePool{conn: conn}, Scope{Limit: 50}, 0)

	waitListening(t, conn)
	body := run.stop(t)

	// repeated teardown and late events are no-ops after close
	run.session.teardown()
	run.session.teardown()
	run.session.forward(&pgconn.Notification{Payload: `{"type":"vehicle_update"}`})

	assert.Equal(t, int32(1), conn.released.Load(), "connection must be released exactly once")
	assert.Equal(t, int32(1), conn.unlistens.Load(), "UNLISTEN must be issued exactly once")
	assert.Equal(t, body, run.rec.Body.String(), "no bytes may be written after teardown")
}

func TestSessionHeartbeatLiveness(t *testing.T) {
	conn := newFakeConn(nil)
	run := startSession(t, &fakePool{conn: conn}, Scope{Limit: 50}, 15*time.Millisecond)

	waitListening(t, conn)
	time.Sleep(80 * time.Millisecond)

	body := run.stop(t)

	beats := strings.Count(body, ": heartbeat\n\n")
	assert.GreaterOrEqual(t, beats, 3, "idle stream must keep emitting heartbeats")
	assert.NotContains(t, body, `"type":"error"`)
}

func TestSessionMalformedPayloadIsNonFatal(t *testing.T) {
	conn := newFakeConn(nil)
	run := startSession(t, &fakePool{conn: conn}, Scope{Limit: 50}, 0)

	waitListening(t, conn)
	notify(conn, `not-json{{`)
	notify(conn, `{"type":"vehicle_update","id":7}`)

	body := run.stop(t)

	assert.Equal(t, 1, strings.Count(body, `"type":"error"`), "exactly one error event per bad payload")
	assert.Contains(t, body, "malformed notification payload")
	assert.Contains(t, body, `"id":7`, "well-formed notifications must still flow after a bad one")
}

func TestSessionEmptyPayloadIsNonFatal(t *testing.T) {
	conn := newFakeConn(nil)
	run := startSession(t, &fakePool{conn: conn}, Scope{Limit: 50}, 0)

	waitListening(t, conn)
	notify(conn, "")

	body := run.stop(t)
	assert.Contains(t, body, "empty notification payload")
}

func TestSessionDefaultsMissingTypeTag(t *testing.T) {
	conn := newFakeConn(nil)
	run := startSession(t, &fakePool{conn: conn}, Scope{Limit: 50}, 0)

	waitListening(t, conn)
	notify(conn, `{"fuel_level":12.5}`)

	body := run.stop(t)
	assert.Contains(t, body, `"type":"vehicle_update"`)
}

func TestSessionAcquireFailureIsFatal(t *testing.T) {
	pool := &fakePool{err: errors.New("pool exhausted")}
	run := startSession(t, pool, Scope{Limit: 50}, 0)

	select {
	case <-run.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after acquire failure")
	}
	body := run.rec.Body.String()

	assert.Contains(t, body, "database connection error")
	assert.NotContains(t, body, ": connected", "no preamble when setup fails")
	assert.Equal(t, int32(1), pool.acquires.Load())
}

func TestSessionSnapshotFailureDegradesToLive(t *testing.T) {
	conn := newFakeConn(nil)
	conn.snapshotErr = errors.New("relation gone")
	run := startSession(t, &fakePool{conn: conn}, Scope{Limit: 50}, 0)

	waitListening(t, conn)
	notify(conn, `{"type":"vehicle_update","id":1}`)

	body := run.stop(t)

	assert.Contains(t, body, "failed to load initial vehicle snapshot")
	assert.NotContains(t, body, `"type":"initial"`)
	assert.True(t, conn.sawExec("LISTEN"), "subscription must proceed despite snapshot failure")
	assert.Contains(t, body, `"id":1`)
}

func TestSessionScopeFiltersForeignCostCodes(t *testing.T) {
	conn := newFakeConn(nil)
	run := startSession(t, &fakePool{conn: conn}, Scope{CostCode: "COST-1", Limit: 50}, 0)

	waitListening(t, conn)
	notify(conn, `{"type":"vehicle_update","cost_code":"COST-2","id":"other"}`)
	notify(conn, `{"type":"vehicle_update","cost_code":"COST-1","id":"mine"}`)

	body := run.stop(t)

	assert.NotContains(t, body, `"id":"other"`)
	assert.Contains(t, body, `"id":"mine"`)
}

func TestSessionReleasesConnOnClientAbort(t *testing.T) {
	conn := newFakeConn(nil)
	run := startSession(t, &fakePool{conn: conn}, Scope{Limit: 50}, 0)

	waitListening(t, conn)
	body := run.stop(t)

	assert.Equal(t, int32(1), conn.released.Load())
	assert.True(t, conn.sawExec("UNLISTEN"))
	assert.Equal(t, body, run.rec.Body.String())
}
