package vehicle

import (
	"errors"
	"strings"
	"time"
)

// Vehicle is the domain entity corresponding to the `vehicles` table.
type Vehicle struct {
	// Identity & audit
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Required business fields
	PlateNumber string `json:"plate_number"`
	Model       string `json:"model"`
	CostCode    string `json:"cost_code"`
	Status      Status `json:"status"`

	// Fuel & motion telemetry
	FuelLevel     float64    `json:"fuel_level"`    // litres currently in tank
	FuelCapacity  float64    `json:"fuel_capacity"` // tank size in litres
	OdometerKm    float64    `json:"odometer_km"`   // cumulative distance
	Latitude      *float64   `json:"latitude,omitempty"`
	Longitude     *float64   `json:"longitude,omitempty"`
	DriverName    string     `json:"driver_name,omitempty"`
	LastReadingAt *time.Time `json:"last_reading_at,omitempty"`
}

var (
	ErrUnknownVehicle   = errors.New("vehicle not found")
	ErrInvalidVehicleID = errors.New("invalid vehicle id")
	ErrInvalidFuelLevel = errors.New("fuel level out of range")
)

// FuelPercent returns the fill level as 0..100, or 0 when the capacity is unknown.
func (v *Vehicle) FuelPercent() float64 {
	if v.FuelCapacity <= 0 {
		return 0
	}
	pct := v.FuelLevel / v.FuelCapacity * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ValidateID rejects empty or whitespace-only vehicle identifiers.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidVehicleID
	}
	return nil
}
