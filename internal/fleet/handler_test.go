package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleetwatch/internal/domain/user"
	"fleetwatch/internal/domain/vehicle"
	"fleetwatch/internal/general/jwt"
	"fleetwatch/internal/general/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	vehicles map[string]*vehicle.Vehicle

	listCostCode string
	listLimit    int
	updateErr    error
}

func (f *fakeStore) RecentVehicles(_ context.Context, costCode string, limit int) ([]*vehicle.Vehicle, error) {
	f.listCostCode = costCode
	f.listLimit = limit

	var out []*vehicle.Vehicle
	for _, v := range f.vehicles {
		if costCode == "" || v.CostCode == costCode {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) GetVehicle(_ context.Context, id string) (*vehicle.Vehicle, error) {
	if err := vehicle.ValidateID(id); err != nil {
		return nil, err
	}
	v, ok := f.vehicles[id]
	if !ok {
		return nil, vehicle.ErrUnknownVehicle
	}
	return v, nil
}

func (f *fakeStore) UpdateFuelLevel(_ context.Context, id string, level float64) (*vehicle.Vehicle, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	v, ok := f.vehicles[id]
	if !ok {
		return nil, vehicle.ErrUnknownVehicle
	}
	v.FuelLevel = level
	return v, nil
}

func newTestServer(t *testing.T, store *fakeStore) (*http.ServeMux, *jwt.Manager) {
	t.Helper()

	mgr := jwt.NewManager("test-secret", time.Hour)
	h := NewHandler(store, logger.New("fleet-test"), mgr)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, mgr
}

func seededStore() *fakeStore {
	return &fakeStore{vehicles: map[string]*vehicle.Vehicle{
		"VH-1001": {ID: "VH-1001", PlateNumber: "B-1001-XY", CostCode: "CC-OPS", Status: vehicle.StatusActive, FuelLevel: 30, FuelCapacity: 60},
		"VH-1002": {ID: "VH-1002", PlateNumber: "B-1002-XY", CostCode: "CC-LOG", Status: vehicle.StatusIdle, FuelLevel: 55, FuelCapacity: 60},
	}}
}

func TestListVehicles(t *testing.T) {
	store := seededStore()
	mux, _ := newTestServer(t, store)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/vehicles?cost_code=CC-OPS&limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "CC-OPS", store.listCostCode)
	assert.Equal(t, 10, store.listLimit)

	var resp struct {
		Vehicles []*vehicle.Vehicle `json:"vehicles"`
		Count    int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "VH-1001", resp.Vehicles[0].ID)
}

func TestListVehiclesClampsLimit(t *testing.T) {
	store := seededStore()
	mux, _ := newTestServer(t, store)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/vehicles?limit=99999", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, store.listLimit)
}

func TestGetVehicle(t *testing.T) {
	mux, _ := newTestServer(t, seededStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/vehicles/VH-1002", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var v vehicle.Vehicle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "VH-1002", v.ID)
	assert.Equal(t, vehicle.StatusIdle, v.Status)
}

func TestGetVehicleNotFound(t *testing.T) {
	mux, _ := newTestServer(t, seededStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/vehicles/VH-9999", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "vehicle not found")
}

func TestUpdateFuelRequiresToken(t *testing.T) {
	mux, _ := newTestServer(t, seededStore())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PATCH", "/vehicles/VH-1001/fuel", strings.NewReader(`{"fuel_level":45}`))
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateFuelRejectsViewer(t *testing.T) {
	mux, mgr := newTestServer(t, seededStore())

	token, _, err := mgr.IssueUserToken("viewer-1", user.RoleViewer)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PATCH", "/vehicles/VH-1001/fuel", strings.NewReader(`{"fuel_level":45}`))
	req.Header.Set("Authorization", "Bearer "+token)
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateFuelAsOperator(t *testing.T) {
	store := seededStore()
	mux, mgr := newTestServer(t, store)

	token, _, err := mgr.IssueUserToken("op-1", user.RoleOperator)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PATCH", "/vehicles/VH-1001/fuel", strings.NewReader(`{"fuel_level":45.5}`))
	req.Header.Set("Authorization", "Bearer "+token)
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 45.5, store.vehicles["VH-1001"].FuelLevel, 0.001)

	var v vehicle.Vehicle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.InDelta(t, 45.5, v.FuelLevel, 0.001)
}

func TestUpdateFuelBadBody(t *testing.T) {
	mux, mgr := newTestServer(t, seededStore())

	token, _, err := mgr.IssueUserToken("admin-1", user.RoleAdmin)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PATCH", "/vehicles/VH-1001/fuel", strings.NewReader("{nope"))
	req.Header.Set("Authorization", "Bearer "+token)
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateFuelOutOfRange(t *testing.T) {
	store := seededStore()
	store.updateErr = vehicle.ErrInvalidFuelLevel
	mux, mgr := newTestServer(t, store)

	token, _, err := mgr.IssueUserToken("admin-1", user.RoleAdmin)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PATCH", "/vehicles/VH-1001/fuel", strings.NewReader(`{"fuel_level":-5}`))
	req.Header.Set("Authorization", "Bearer "+token)
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "fuel level out of range")
}
