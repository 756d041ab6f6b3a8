package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-coordinator/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate runs a schema script, typically migrations/001_create_rides.sql.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

// SaveRide upserts the record. The updated_at guard keeps a late write of an
// older version from overwriting a newer one.
func (p *PostgresStore) SaveRide(ctx context.Context, r models.RideRequest) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO rides (id, rider_id, driver_id, pickup_lat, pickup_lon, status, created_at, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	driver_id = EXCLUDED.driver_id,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at
WHERE rides.updated_at <= EXCLUDED.updated_at`,
		r.ID, r.RiderID, r.MatchedDriverID, r.Pickup.Lat, r.Pickup.Lon, string(r.Status), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save ride %s: %w", r.ID, err)
	}
	return nil
}

func (p *PostgresStore) ListRides(ctx context.Context) ([]models.RideRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, rider_id, COALESCE(driver_id, ''), pickup_lat, pickup_lon, status, created_at, updated_at
FROM rides ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	defer rows.Close()

	var out []models.RideRequest
	for rows.Next() {
		var r models.RideRequest
		var status string
		if err := rows.Scan(&r.ID, &r.RiderID, &r.MatchedDriverID, &r.Pickup.Lat, &r.Pickup.Lon, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		r.Status = models.RideStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }
