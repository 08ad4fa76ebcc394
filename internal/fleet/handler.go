package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleetwatch/internal/domain/user"
	"fleetwatch/internal/domain/vehicle"
	"fleetwatch/internal/general/jwt"
	"fleetwatch/internal/general/logger"
	"fleetwatch/internal/stream"

	"github.com/google/uuid"
)

// Store is the vehicle persistence surface the dashboard API needs.
type Store interface {
	RecentVehicles(ctx context.Context, costCode string, limit int) ([]*vehicle.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (*vehicle.Vehicle, error)
	UpdateFuelLevel(ctx context.Context, id string, level float64) (*vehicle.Vehicle, error)
}

// Handler serves the thin JSON vehicle API around the streaming core.
type Handler struct {
	store  Store
	log    *logger.Logger
	jwtMgr *jwt.Manager
}

// NewHandler constructs the dashboard API handler.
func NewHandler(store Store, log *logger.Logger, jwtMgr *jwt.Manager) *Handler {
	return &Handler{store: store, log: log, jwtMgr: jwtMgr}
}

// RegisterRoutes attaches the vehicle routes to mux. Mutations require a
// writing role; reads are open (the dashboard proxies its own user auth).
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	requireWriter := jwt.AuthMiddlewareFunc(h.jwtMgr, user.RoleAdmin, user.RoleOperator)

	mux.HandleFunc("GET /vehicles", h.handleList)
	mux.HandleFunc("GET /vehicles/{id}", h.handleGet)
	mux.HandleFunc("PATCH /vehicles/{id}/fuel", requireWriter(h.handleUpdateFuel))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := h.log.WithRequestID(r.Context(), uuid.NewString())
	start := time.Now()

	q := r.URL.Query()
	costCode := strings.TrimSpace(q.Get("cost_code"))

	requested := 0
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			requested = n
		}
	}
	limit := stream.ClampLimit(requested, stream.DefaultSnapshotLimit, stream.MaxSnapshotLimit)

	vehicles, err := h.store.RecentVehicles(ctx, costCode, limit)
	if err != nil {
		h.log.Error(ctx, "vehicle_list_failed", "Failed to list vehicles", err, nil)
		writeJSONError(ctx, w, http.StatusInternalServerError, "internal server error")
		return
	}
	if vehicles == nil {
		vehicles = []*vehicle.Vehicle{}
	}

	writeJSONInfo(ctx, w, http.StatusOK, map[string]any{
		"vehicles": vehicles,
		"count":    len(vehicles),
	})

	h.log.Info(ctx, "vehicle_list", "Vehicles listed", map[string]any{
		"cost_code":   costCode,
		"count":       len(vehicles),
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := h.log.WithRequestID(r.Context(), uuid.NewString())
	vehicleID := r.PathValue("id")
	ctx = h.log.WithVehicleID(ctx, vehicleID)

	v, err := h.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		h.handleStoreError(ctx, w, err, vehicleID)
		return
	}

	writeJSONInfo(ctx, w, http.StatusOK, v)
}

type updateFuelRequest struct {
	FuelLevel float64 `json:"fuel_level"`
}

func (h *Handler) handleUpdateFuel(w http.ResponseWriter, r *http.Request) {
	ctx := h.log.WithRequestID(r.Context(), uuid.NewString())
	vehicleID := r.PathValue("id")
	ctx = h.log.WithVehicleID(ctx, vehicleID)

	var req updateFuelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error(ctx, "invalid_body", "Unable to decode request body", err, nil)
		writeJSONError(ctx, w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	v, err := h.store.UpdateFuelLevel(ctx, vehicleID, req.FuelLevel)
	if err != nil {
		h.handleStoreError(ctx, w, err, vehicleID)
		return
	}

	h.log.Info(ctx, "fuel_level_updated", "Vehicle fuel level updated", map[string]any{
		"fuel_level": v.FuelLevel,
	})

	writeJSONInfo(ctx, w, http.StatusOK, v)
}

// -------------------- ERROR HANDLING --------------------

func (h *Handler) handleStoreError(ctx context.Context, w http.ResponseWriter, err error, vehicleID string) {
	switch {
	case errors.Is(err, vehicle.ErrUnknownVehicle):
		writeJSONError(ctx, w, http.StatusNotFound, "vehicle not found")
	case errors.Is(err, vehicle.ErrInvalidVehicleID):
		writeJSONError(ctx, w, http.StatusBadRequest, "invalid vehicle ID")
	case errors.Is(err, vehicle.ErrInvalidFuelLevel):
		writeJSONError(ctx, w, http.StatusBadRequest, "fuel level out of range")
	default:
		h.log.Error(ctx, "internal_error", "Unhandled store error for vehicle "+vehicleID, err, nil)
		writeJSONError(ctx, w, http.StatusInternalServerError, "internal server error")
	}
}
