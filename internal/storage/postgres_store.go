package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/moto-driver/internal/models"
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

// Migrate applies the schema from the given SQL text.
func (p *PostgresStore) Migrate(ctx context.Context, schema string) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresStore) SaveRide(ctx context.Context, r *models.AcceptedRide) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO accepted_rides(id, driver_id, pickup, dropoff, payment_method, value, client_phone, status, accepted_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET driver_id=EXCLUDED.driver_id, status=EXCLUDED.status, updated_at=EXCLUDED.updated_at`,
		r.ID, r.DriverID, r.Pickup, r.Dropoff, r.PaymentMethod, r.Value, r.ClientPhone, r.Status, r.AcceptedAt, time.Now())
	return err
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, rideID, status string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE accepted_rides SET status=$1, updated_at=$2 WHERE id=$3`, status, time.Now(), rideID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrNotFound
	}
	return nil
}

const rideColumns = `id, driver_id, pickup, dropoff, payment_method, value, client_phone, status, accepted_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (*models.AcceptedRide, error) {
	var r models.AcceptedRide
	var phone sql.NullString
	if err := s.Scan(&r.ID, &r.DriverID, &r.Pickup, &r.Dropoff, &r.PaymentMethod, &r.Value, &phone, &r.Status, &r.AcceptedAt); err != nil {
		return nil, err
	}
	r.ClientPhone = phone.String
	return &r, nil
}

func (p *PostgresStore) Get(ctx context.Context, rideID string) (*models.AcceptedRide, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM accepted_rides WHERE id=$1`, rideID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) ListByDriver(ctx context.Context, driverID string) ([]models.AcceptedRide, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM accepted_rides WHERE driver_id=$1 ORDER BY accepted_at DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.AcceptedRide, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Earnings(ctx context.Context, driverID string, since time.Time) (float64, error) {
	var total float64
	err := p.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(value), 0) FROM accepted_rides WHERE driver_id=$1 AND accepted_at >= $2`, driverID, since).Scan(&total)
	return total, err
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }
