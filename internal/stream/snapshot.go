package stream

// Snapshot sizing: the initial payload stays bounded no matter how large the
// vehicles table grows.
const (
	DefaultSnapshotLimit = 50
	MaxSnapshotLimit     = 500
)

// Scope filters one session's snapshot and live events. The zero value is the
// unscoped "all recent vehicles" stream.
type Scope struct {
	CostCode string
	Limit    int
}

// ClampLimit folds a requested row count into [1, max], with def for zero or
// negative requests.
func ClampLimit(requested, def, max int) int {
	if def <= 0 {
		def = DefaultSnapshotLimit
	}
	if max <= 0 {
		max = MaxSnapshotLimit
	}
	if requested <= 0 {
		requested = def
	}
	if requested > max {
		requested = max
	}
	return requested
}

// snapshotQuery builds the parameterized recent-vehicles query for a scope.
// The projection is fixed; the scope only narrows rows.
func snapshotQuery(scope Scope) (string, []any) {
	query := `
        SELECT id, plate_number, model, cost_code, status,
               fuel_level, fuel_capacity, odometer_km,
               latitude, longitude, driver_name, last_reading_at, updated_at
        FROM vehicles
        WHERE ($1 = '' OR cost_code = $1)
        ORDER BY updated_at DESC
        LIMIT $2`
	return query, []any{scope.CostCode, scope.Limit}
}
