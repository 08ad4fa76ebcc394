package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"fleetwatch/internal/general/logger"
)

// -------------------- RESPONSE HELPERS --------------------

func writeJSONError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]any{
		"error":      message,
		"code":       status,
		"request_id": logger.RequestIDFromContext(ctx),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSONInfo(_ context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
