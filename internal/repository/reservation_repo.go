package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"parkeaya/internal/db"
)

const reservationColumns = `id, code, user_id, vehicle_id, lot_id, entry_time, exit_time,
	duration_minutes, estimated_cost, status, checked_in_at, created_at, updated_at`

func scanReservation(row interface{ Scan(...any) error }) (*db.Reservation, error) {
	var res db.Reservation
	var status string
	var checkedIn sql.NullTime
	err := row.Scan(
		&res.ID, &res.Code, &res.UserID, &res.VehicleID, &res.LotID, &res.EntryTime, &res.ExitTime,
		&res.DurationMinutes, &res.EstimatedCost, &status, &checkedIn, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if res.Status, err = db.ParseReservationStatus(status); err != nil {
		return nil, err
	}
	res.CheckedInAt = timePtr(checkedIn)
	return &res, nil
}

func (r *queries) GetReservationByID(ctx context.Context, id int64) (*db.Reservation, error) {
	res, err := scanReservation(r.q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "reservation", id)
	}
	return res, nil
}

func (r *queries) GetReservationByCode(ctx context.Context, code string) (*db.Reservation, error) {
	res, err := scanReservation(r.q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE code::text = $1`, code))
	if err != nil {
		return nil, notFound(err, "reservation", code)
	}
	return res, nil
}

func (r *queries) LockReservation(ctx context.Context, id int64) (*db.Reservation, error) {
	res, err := scanReservation(r.q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "reservation", id)
	}
	return res, nil
}

func (r *queries) HasOverlappingReservation(ctx context.Context, vehicleID int64, from, to time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE vehicle_id = $1
			  AND status = 'active'
			  AND entry_time < $3
			  AND exit_time > $2
		)`
	var exists bool
	if err := r.q.QueryRowContext(ctx, query, vehicleID, from, to).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking overlapping reservations: %w", err)
	}
	return exists, nil
}

func (r *queries) InsertReservation(ctx context.Context, res *db.Reservation) error {
	query := `
		INSERT INTO reservations
		(code, user_id, vehicle_id, lot_id, entry_time, exit_time, duration_minutes, estimated_cost, status, checked_in_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	err := r.q.QueryRowContext(ctx, query,
		res.Code,
		res.UserID,
		res.VehicleID,
		res.LotID,
		res.EntryTime,
		res.ExitTime,
		res.DurationMinutes,
		res.EstimatedCost,
		string(res.Status),
		nullTime(res.CheckedInAt),
		res.CreatedAt,
		res.UpdatedAt,
	).Scan(&res.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("reservation %s: %w", res.Code, ErrDuplicate)
		}
		return fmt.Errorf("inserting reservation: %w", err)
	}
	return nil
}

func (r *queries) UpdateReservation(ctx context.Context, res *db.Reservation) error {
	query := `
		UPDATE reservations
		SET exit_time = $2,
			duration_minutes = $3,
			estimated_cost = $4,
			status = $5,
			checked_in_at = $6,
			updated_at = $7
		WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query,
		res.ID,
		res.ExitTime,
		res.DurationMinutes,
		res.EstimatedCost,
		string(res.Status),
		nullTime(res.CheckedInAt),
		res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating reservation %d: %w", res.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reservation %d: %w", res.ID, ErrNotFound)
	}
	return nil
}

func (r *queries) ListReservations(ctx context.Context, f ReservationFilter) ([]db.Reservation, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != 0 {
		add("user_id = $%d", f.UserID)
	}
	if f.LotID != 0 {
		add("lot_id = $%d", f.LotID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.EntryFrom.IsZero() {
		add("entry_time >= $%d", f.EntryFrom)
	}
	if !f.EntryTo.IsZero() {
		add("entry_time < $%d", f.EntryTo)
	}
	if !f.ExitAfter.IsZero() {
		add("exit_time > $%d", f.ExitAfter)
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY entry_time, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying reservations: %w", err)
	}
	defer rows.Close()

	var out []db.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning reservation: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after iterating rows: %w", err)
	}
	return out, nil
}
