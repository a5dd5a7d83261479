package repository

import (
	"context"
	"fmt"

	"parkeaya/internal/db"
)

const lotColumns = `id, owner_id, name, total_spaces, available_spaces, rate_per_hour,
	COALESCE(to_char(opening_time, 'HH24:MI'), ''), COALESCE(to_char(closing_time, 'HH24:MI'), ''),
	approved, active, accepts_reservations`

func (r *queries) getLot(ctx context.Context, id int64, lock bool) (*db.ParkingLot, error) {
	query := `SELECT ` + lotColumns + ` FROM parking_lots WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var l db.ParkingLot
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&l.ID, &l.OwnerID, &l.Name, &l.TotalSpaces, &l.AvailableSpaces, &l.RatePerHour,
		&l.OpeningTime, &l.ClosingTime, &l.Approved, &l.Active, &l.AcceptsReservations,
	)
	if err != nil {
		return nil, notFound(err, "parking lot", id)
	}

	rows, err := r.q.QueryContext(ctx, `SELECT user_id FROM lot_staff WHERE lot_id = $1 ORDER BY user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying lot staff: %w", err)
	}
	if l.StaffIDs, err = scanIDs[int64](rows); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *queries) GetLot(ctx context.Context, id int64) (*db.ParkingLot, error) {
	return r.getLot(ctx, id, false)
}

func (r *queries) LockLot(ctx context.Context, id int64) (*db.ParkingLot, error) {
	return r.getLot(ctx, id, true)
}

func (r *queries) SetLotAvailability(ctx context.Context, id int64, available int) error {
	res, err := r.q.ExecContext(ctx, `UPDATE parking_lots SET available_spaces = $2 WHERE id = $1`, id, available)
	if err != nil {
		return fmt.Errorf("updating availability of lot %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("parking lot %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *queries) GetVehicle(ctx context.Context, id int64) (*db.Vehicle, error) {
	var v db.Vehicle
	err := r.q.QueryRowContext(ctx, `SELECT id, owner_id, plate, model FROM vehicles WHERE id = $1`, id).
		Scan(&v.ID, &v.OwnerID, &v.Plate, &v.Model)
	if err != nil {
		return nil, notFound(err, "vehicle", id)
	}
	return &v, nil
}
