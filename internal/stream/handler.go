package stream

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"fleetwatch/internal/general/logger"

	"github.com/google/uuid"
)

// Handler serves GET /vehicles/stream. With realtime enabled (the default) it
// holds the response open as an SSE stream; with realtime=false it answers the
// snapshot as a one-shot JSON body and returns the connection immediately.
type Handler struct {
	pool    Pool
	log     *logger.Logger
	channel string

	defaultLimit int
	maxLimit     int
}

// NewHandler constructs the streaming handler.
func NewHandler(pool Pool, log *logger.Logger, channel string, defaultLimit, maxLimit int) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = DefaultSnapshotLimit
	}
	if maxLimit <= 0 {
		maxLimit = MaxSnapshotLimit
	}
	return &Handler{
		pool:         pool,
		log:          log,
		channel:      channel,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := h.log.WithRequestID(r.Context(), uuid.NewString())
	scope := h.parseScope(r)

	if !realtimeRequested(r) {
		h.serveSnapshotJSON(w, r.WithContext(ctx), scope)
		return
	}

	WriteSSEHeaders(w)
	sink, err := NewSSEWriter(w)
	if err != nil {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	h.log.Info(ctx, "stream_opened", "Vehicle update stream opened", map[string]any{
		"cost_code": scope.CostCode,
		"limit":     scope.Limit,
	})

	session := NewSession(h.pool, sink, h.log, h.channel, scope)
	session.Run(ctx)

	h.log.Info(ctx, "stream_closed", "Vehicle update stream closed", map[string]any{
		"cost_code": scope.CostCode,
	})
}

// serveSnapshotJSON answers the plain-response mode: same bounded query, no
// subscription, connection returned to the pool right away.
func (h *Handler) serveSnapshotJSON(w http.ResponseWriter, r *http.Request, scope Scope) {
	ctx := r.Context()

	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		h.log.Error(ctx, "snapshot_acquire_failed", "No pooled connection for snapshot request", err, nil)
		writeJSONError(w, http.StatusServiceUnavailable, "database connection error")
		return
	}
	defer conn.Release()

	query, args := snapshotQuery(scope)
	rows, err := conn.Snapshot(ctx, query, args...)
	if err != nil {
		h.log.Error(ctx, "snapshot_query_failed", "Snapshot query failed", err, nil)
		writeJSONError(w, http.StatusInternalServerError, "failed to load vehicles")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(initialPayload(rows))
}

// parseScope reads cost_code and limit from the query string, clamping the
// limit into the configured bounds.
func (h *Handler) parseScope(r *http.Request) Scope {
	q := r.URL.Query()

	requested := 0
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			requested = n
		}
	}

	return Scope{
		CostCode: strings.TrimSpace(q.Get("cost_code")),
		Limit:    ClampLimit(requested, h.defaultLimit, h.maxLimit),
	}
}

// realtimeRequested defaults to true; only an explicit false/0 opts out.
func realtimeRequested(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("realtime")) {
	case "false", "0", "no":
		return false
	default:
		return true
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":    EventTypeError,
		"message": message,
	})
}
