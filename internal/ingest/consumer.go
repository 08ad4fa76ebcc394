package ingest

import (
	"context"

	"fleetwatch/internal/general/contracts"
	"fleetwatch/internal/general/logger"
	"fleetwatch/internal/general/rabbitmq"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RunConsumer blocks consuming the telemetry queue until ctx is cancelled or
// the channel dies (the caller decides whether to restart).
func RunConsumer(ctx context.Context, client *rabbitmq.Client, svc *Service, log *logger.Logger, prefetch int) error {
	log.Info(ctx, "consumer_started", "Telemetry consumer starting", map[string]any{
		"queue":    contracts.QueueTelemetryReadings,
		"prefetch": prefetch,
	})

	return client.Consume(ctx, contracts.QueueTelemetryReadings, "ingest-service", prefetch,
		func(ctx context.Context, d amqp.Delivery) error {
			return svc.HandleReading(ctx, d.Body)
		})
}
