package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetwatch/internal/domain/vehicle"
	"fleetwatch/internal/general/contracts"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// vehicleColumns is the projection shared by every vehicle query.
const vehicleColumns = `
        id, plate_number, model, cost_code, status,
        fuel_level, fuel_capacity, odometer_km,
        latitude, longitude, COALESCE(driver_name, ''),
        last_reading_at, created_at, updated_at`

// VehicleRepo persists vehicles using pgx and plain SQL.
type VehicleRepo struct {
	pool    *pgxpool.Pool
	channel string
}

// NewVehicleRepo constructs a VehicleRepo that raises pg_notify on the given
// channel after every mutation, so open streaming sessions see the change.
func NewVehicleRepo(pool *pgxpool.Pool, channel string) *VehicleRepo {
	return &VehicleRepo{pool: pool, channel: channel}
}

// RecentVehicles returns the most recently updated vehicles, optionally scoped
// to one cost code. The limit is applied as-is; callers clamp it.
func (r *VehicleRepo) RecentVehicles(ctx context.Context, costCode string, limit int) ([]*vehicle.Vehicle, error) {
	query := `
        SELECT` + vehicleColumns + `
        FROM vehicles
        WHERE ($1 = '' OR cost_code = $1)
        ORDER BY updated_at DESC
        LIMIT $2`

	rows, err := r.pool.Query(ctx, query, costCode, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []*vehicle.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return vehicles, nil
}

// GetVehicle returns one vehicle by ID.
func (r *VehicleRepo) GetVehicle(ctx context.Context, id string) (*vehicle.Vehicle, error) {
	row := r.pool.QueryRow(ctx, `
        SELECT`+vehicleColumns+`
        FROM vehicles
        WHERE id = $1`, id)

	v, err := scanVehicle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, vehicle.ErrUnknownVehicle
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle %s: %w", id, err)
	}
	return v, nil
}

// UpdateFuelLevel sets the fuel level of one vehicle and notifies streaming
// sessions. Update and notify run in one transaction so a committed change is
// never silently invisible to listeners.
func (r *VehicleRepo) UpdateFuelLevel(ctx context.Context, id string, level float64) (*vehicle.Vehicle, error) {
	if err := vehicle.ValidateID(id); err != nil {
		return nil, err
	}
	if level < 0 {
		return nil, vehicle.ErrInvalidFuelLevel
	}

	var updated *vehicle.Vehicle
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            UPDATE vehicles
            SET fuel_level = $2, updated_at = now()
            WHERE id = $1
            RETURNING`+vehicleColumns, id, level)

		v, err := scanVehicle(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return vehicle.ErrUnknownVehicle
		}
		if err != nil {
			return fmt.Errorf("update fuel level: %w", err)
		}

		updated = v
		return r.notify(ctx, tx, changePayload(v, "fuel_update"))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ApplyReading merges one telemetry reading into the vehicle row. Absent
// signals keep their previous value (COALESCE), and the row is stamped with
// the reading time. Streaming sessions are notified in the same transaction.
func (r *VehicleRepo) ApplyReading(ctx context.Context, reading *contracts.TelemetryReading) (*vehicle.Vehicle, error) {
	if err := vehicle.ValidateID(reading.VehicleID); err != nil {
		return nil, err
	}

	recordedAt := reading.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	var updated *vehicle.Vehicle
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            UPDATE vehicles
            SET fuel_level      = COALESCE($2, fuel_level),
                odometer_km     = COALESCE($3, odometer_km),
                latitude        = COALESCE($4, latitude),
                longitude       = COALESCE($5, longitude),
                status          = 'ACTIVE',
                last_reading_at = $6,
                updated_at      = now()
            WHERE id = $1
            RETURNING`+vehicleColumns,
			reading.VehicleID, reading.FuelLevel, reading.OdometerKm,
			reading.Latitude, reading.Longitude, recordedAt)

		v, err := scanVehicle(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return vehicle.ErrUnknownVehicle
		}
		if err != nil {
			return fmt.Errorf("apply reading: %w", err)
		}

		updated = v
		return r.notify(ctx, tx, changePayload(v, "vehicle_update"))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// --- internals ---

// withTx runs fn inside a transaction with rollback on error or panic.
func (r *VehicleRepo) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// notify raises pg_notify on the repo's channel with a JSON change payload.
func (r *VehicleRepo) notify(ctx context.Context, tx pgx.Tx, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.channel, string(body)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// changePayload is the notification body streaming sessions fan out to clients.
func changePayload(v *vehicle.Vehicle, kind string) map[string]any {
	return map[string]any{
		"type":        kind,
		"vehicle_id":  v.ID,
		"cost_code":   v.CostCode,
		"status":      v.Status.String(),
		"fuel_level":  v.FuelLevel,
		"odometer_km": v.OdometerKm,
		"latitude":    v.Latitude,
		"longitude":   v.Longitude,
	}
}

// scanVehicle reads one row in vehicleColumns order.
func scanVehicle(row pgx.Row) (*vehicle.Vehicle, error) {
	var v vehicle.Vehicle
	err := row.Scan(
		&v.ID, &v.PlateNumber, &v.Model, &v.CostCode, &v.Status,
		&v.FuelLevel, &v.FuelCapacity, &v.OdometerKm,
		&v.Latitude, &v.Longitude, &v.DriverName,
		&v.LastReadingAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
