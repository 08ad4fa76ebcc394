package vehicle

import (
	"errors"
	"strings"
)

// Status is a vehicle status as stored in the `vehicles` table.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusIdle        Status = "IDLE"
	StatusMaintenance Status = "MAINTENANCE"
	StatusOffline     Status = "OFFLINE"
)

var ErrInvalidStatus = errors.New("invalid vehicle status")

// ParseStatus normalizes (uppercases+trims) and validates a vehicle status string.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether the status is one of the allowed status constants.
func (status Status) Valid() bool {
	switch status {
	case StatusActive, StatusIdle, StatusMaintenance, StatusOffline:
		return true
	default:
		return false
	}
}

// Moving indicates a vehicle that is expected to produce telemetry.
func (status Status) Moving() bool {
	return status == StatusActive
}

// String returns the string representation of the Status.
func (status Status) String() string {
	return string(status)
}
