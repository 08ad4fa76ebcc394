package stream

import "time"

// Application-level event kinds carried in the JSON `type` field.
const (
	EventTypeInitial = "initial"
	EventTypeError   = "error"

	// DefaultChangeType tags notification payloads that did not name a kind.
	DefaultChangeType = "vehicle_update"
)

// messageEventName is the SSE event name for notification-derived events.
// Initial and error payloads go out as unnamed data events.
const messageEventName = "message"

func initialPayload(rows []map[string]any) map[string]any {
	if rows == nil {
		rows = []map[string]any{}
	}
	return map[string]any{
		"type":      EventTypeInitial,
		"data":      rows,
		"timestamp": nowISO(),
	}
}

func errorPayload(message string) map[string]any {
	return map[string]any{
		"type":    EventTypeError,
		"message": message,
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
