package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
)

// Location statuses
const (
	LocationStatusActive   = "ACTIVE"
	LocationStatusInactive = "INACTIVE"
)

// Location is a read model of a storage location, synced from the
// configuration service via events. Stock never owns location data.
type Location struct {
	ID          string    `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	WarehouseID string    `db:"warehouse_id" json:"warehouse_id"`
	ZoneID      *string   `db:"zone_id" json:"zone_id,omitempty"`
	Status      string    `db:"status" json:"status"`
	SyncedAt    time.Time `db:"synced_at" json:"synced_at"`
}

// LocationRepository handles the local location read model
type LocationRepository struct {
	q database.Queryer
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(q database.Queryer) *LocationRepository {
	return &LocationRepository{q: q}
}

// GetByID gets a location by ID
func (r *LocationRepository) GetByID(ctx context.Context, id string) (*Location, error) {
	var loc Location
	query := `SELECT id, code, name, warehouse_id, zone_id, status, synced_at FROM locations WHERE id = $1`
	if err := r.q.GetContext(ctx, &loc, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("location")
		}
		return nil, err
	}
	return &loc, nil
}

// List lists all known locations
func (r *LocationRepository) List(ctx context.Context) ([]*Location, error) {
	var locs []*Location
	query := `SELECT id, code, name, warehouse_id, zone_id, status, synced_at FROM locations ORDER BY code`
	if err := r.q.SelectContext(ctx, &locs, query); err != nil {
		return nil, err
	}
	return locs, nil
}

// Upsert inserts or refreshes a location from a configuration event
func (r *LocationRepository) Upsert(ctx context.Context, loc *Location) error {
	query := `
		INSERT INTO locations (id, code, name, warehouse_id, zone_id, status, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			warehouse_id = EXCLUDED.warehouse_id,
			zone_id = EXCLUDED.zone_id,
			status = EXCLUDED.status,
			synced_at = NOW()
	`
	_, err := r.q.ExecContext(ctx, query,
		loc.ID, loc.Code, loc.Name, loc.WarehouseID, loc.ZoneID, loc.Status)
	return err
}

// MarkInactive flags a location deleted upstream. The row is kept so
// historical movements and batches still resolve their location.
func (r *LocationRepository) MarkInactive(ctx context.Context, id string) error {
	query := `UPDATE locations SET status = 'INACTIVE', synced_at = NOW() WHERE id = $1`
	_, err := r.q.ExecContext(ctx, query, id)
	return err
}
