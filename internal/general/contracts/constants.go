package contracts

// Postgres notification channel watched by streaming sessions. The ingest
// service (or a table trigger) raises pg_notify on it for every vehicle change.
const ChannelVehicleUpdates = "vehicle_updates"

// Exchanges
const (
	ExchangeTelemetryTopic = "telemetry_topic"
	ExchangeVehicleFanout  = "vehicle_updates_fanout"
)

// Queues
const (
	QueueTelemetryReadings = "telemetry_readings"
)

// Routing patterns
const (
	RouteTelemetryPrefix = "telemetry.vehicle." // {vehicle_id}
)
