package ingestservice

import (
	"context"
	"time"

	"fleetwatch/internal/general/config"
	"fleetwatch/internal/general/logger"
	"fleetwatch/internal/general/postgres"
	"fleetwatch/internal/general/rabbitmq"
	"fleetwatch/internal/ingest"
)

// Run wires the telemetry ingest service and blocks until ctx is cancelled.
func Run(ctx context.Context, cfgPath string, prefetch int) error {
	logger := logger.New("ingest-service")
	ctx = logger.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	pool, err := postgres.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	mq, err := rabbitmq.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer mq.Close()

	vehicleRepo := postgres.NewVehicleRepo(pool, cfg.Stream.Channel)
	svc := ingest.NewService(vehicleRepo, rabbitmq.NewMQPublisher(mq), logger)

	logger.Info(ctx, "service_started", "Ingest service started", map[string]any{
		"prefetch": prefetch,
	})

	// the consumer returns when its channel dies; the client reconnects in the
	// background, so keep re-entering until shutdown
	for {
		err := ingest.RunConsumer(ctx, mq, svc, logger, prefetch)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Error(ctx, "consumer_stopped", "Telemetry consumer stopped; restarting", err, nil)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}
