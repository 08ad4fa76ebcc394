package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleetwatch/internal/general/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(pool Pool) *Handler {
	return NewHandler(pool, logger.New("stream-test"), "vehicle_updates", 50, 500)
}

func TestHandlerRejectsNonGet(t *testing.T) {
	h := newTestHandler(&fakePool{conn: newFakeConn(nil)})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/vehicles/stream", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlerPlainSnapshotMode(t *testing.T) {
	conn := newFakeConn([]map[string]any{
		{"id": "v-1", "cost_code": "COST-1"},
		{"id": "v-2", "cost_code": "COST-1"},
	})
	h := newTestHandler(&fakePool{conn: conn})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vehicles/stream?realtime=false&cost_code=COST-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload struct {
		Type string           `json:"type"`
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, EventTypeInitial, payload.Type)
	assert.Len(t, payload.Data, 2)

	// plain mode returns the connection immediately
	assert.Equal(t, int32(1), conn.released.Load())
	assert.False(t, conn.sawExec("LISTEN"))
}

func TestHandlerPlainModeAcquireFailure(t *testing.T) {
	h := newTestHandler(&fakePool{err: context.DeadlineExceeded})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/vehicles/stream?realtime=0", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database connection error")
}

func TestHandlerStreamingMode(t *testing.T) {
	conn := newFakeConn([]map[string]any{{"id": "v-1"}})
	h := newTestHandler(&fakePool{conn: conn})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/vehicles/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	waitListening(t, conn)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after client abort")
	}
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, ": connected\n\n"))
	assert.Contains(t, body, `"type":"initial"`)
	assert.Equal(t, int32(1), conn.released.Load())
}

func TestHandlerScopeParsing(t *testing.T) {
	h := newTestHandler(&fakePool{conn: newFakeConn(nil)})

	tests := []struct {
		name  string
		query string
		want  Scope
	}{
		{"defaults", "", Scope{CostCode: "", Limit: 50}},
		{"cost code and limit", "cost_code=COST-1&limit=200", Scope{CostCode: "COST-1", Limit: 200}},
		{"limit clamped to max", "limit=99999", Scope{CostCode: "", Limit: 500}},
		{"garbage limit falls back", "limit=abc", Scope{CostCode: "", Limit: 50}},
		{"whitespace cost code trimmed", "cost_code=%20COST-9%20", Scope{CostCode: "COST-9", Limit: 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/vehicles/stream?"+tt.query, nil)
			assert.Equal(t, tt.want, h.parseScope(req))
		})
	}
}

func TestRealtimeRequested(t *testing.T) {
	for query, want := range map[string]bool{
		"":                true,
		"realtime=true":   true,
		"realtime=1":      true,
		"realtime=FALSE":  false,
		"realtime=0":      false,
		"realtime=no":     false,
		"realtime=banana": true,
	} {
		req := httptest.NewRequest(http.MethodGet, "/vehicles/stream?"+query, nil)
		assert.Equal(t, want, realtimeRequested(req), "query=%q", query)
	}
}
