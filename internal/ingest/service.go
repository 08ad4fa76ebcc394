package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleetwatch/internal/domain/vehicle"
	"fleetwatch/internal/general/contracts"
	"fleetwatch/internal/general/logger"
)

// Store applies telemetry readings to the vehicles table. The repository
// raises pg_notify inside the same transaction, which is what fans the change
// out to open streaming sessions.
type Store interface {
	ApplyReading(ctx context.Context, reading *contracts.TelemetryReading) (*vehicle.Vehicle, error)
}

// Publisher republishes applied updates for non-dashboard consumers.
type Publisher interface {
	Publish(exchange, routingKey string, body []byte) error
}

// Service processes telemetry readings from the ingest queue.
type Service struct {
	store Store
	pub   Publisher
	log   *logger.Logger
}

// NewService wires the ingest service.
func NewService(store Store, pub Publisher, log *logger.Logger) *Service {
	return &Service{store: store, pub: pub, log: log}
}

// HandleReading decodes and applies one telemetry message. A decode or
// validation failure is permanent (the message is poison); apply failures are
// returned so the caller can nack.
func (s *Service) HandleReading(ctx context.Context, body []byte) error {
	var reading contracts.TelemetryReading
	if err := json.Unmarshal(body, &reading); err != nil {
		return fmt.Errorf("decode telemetry reading: %w", err)
	}
	if err := vehicle.ValidateID(reading.VehicleID); err != nil {
		return fmt.Errorf("telemetry reading: %w", err)
	}

	ctx = s.log.WithVehicleID(ctx, reading.VehicleID)

	updated, err := s.store.ApplyReading(ctx, &reading)
	if err != nil {
		s.log.Error(ctx, "reading_apply_failed", "Failed to apply telemetry reading", err, nil)
		return err
	}

	s.log.Info(ctx, "reading_applied", "Telemetry reading applied", map[string]any{
		"cost_code":  updated.CostCode,
		"fuel_level": updated.FuelLevel,
	})

	// best-effort fanout; dashboard streams are already fed via pg_notify
	if s.pub != nil {
		if err := s.publishUpdate(updated); err != nil {
			s.log.Error(ctx, "update_publish_failed", "Failed to republish vehicle update", err, nil)
		}
	}

	return nil
}

func (s *Service) publishUpdate(v *vehicle.Vehicle) error {
	update := contracts.VehicleUpdate{
		Type:       "vehicle_update",
		VehicleID:  v.ID,
		CostCode:   v.CostCode,
		Status:     v.Status.String(),
		FuelLevel:  &v.FuelLevel,
		OdometerKm: &v.OdometerKm,
		Latitude:   v.Latitude,
		Longitude:  v.Longitude,
		Envelope: contracts.Envelope{
			Producer: "ingest-service",
			SentAt:   time.Now().UTC(),
		},
	}

	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal vehicle update: %w", err)
	}
	return s.pub.Publish(contracts.ExchangeVehicleFanout, "", body)
}
