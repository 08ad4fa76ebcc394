package contracts

import "time"

// Envelope adds cross-cutting headers all messages may carry.
type Envelope struct {
	CorrelationID string    `json:"correlation_id,omitempty"` // correlation for tracing across services
	Producer      string    `json:"producer,omitempty"`       // producer service name, e.g. "ingest-service"
	SentAt        time.Time `json:"sent_at,omitempty"`        // ISO-8601 send time (UTC)
}

// TelemetryReading mirrors one message on the telemetry_readings queue.
// Pointer fields are optional: a reading may carry only a subset of signals.
type TelemetryReading struct {
	VehicleID  string    `json:"vehicle_id"`
	CostCode   string    `json:"cost_code,omitempty"`
	FuelLevel  *float64  `json:"fuel_level,omitempty"`  // litres
	OdometerKm *float64  `json:"odometer_km,omitempty"` // cumulative
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	SpeedKmh   *float64  `json:"speed_kmh,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	Envelope
}

// VehicleUpdate is republished on the vehicle fanout exchange after a reading
// has been applied, and doubles as the pg_notify payload for stream sessions.
type VehicleUpdate struct {
	Type       string   `json:"type"` // "vehicle_update"
	VehicleID  string   `json:"vehicle_id"`
	CostCode   string   `json:"cost_code,omitempty"`
	Status     string   `json:"status,omitempty"`
	FuelLevel  *float64 `json:"fuel_level,omitempty"`
	OdometerKm *float64 `json:"odometer_km,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Envelope
}
