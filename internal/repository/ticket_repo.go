package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"parkeaya/internal/db"
)

const ticketColumns = `id, reservation_id, code, status, valid_from, valid_until, validated_at, validated_by,
	validation_attempts, last_error, qr_payload, issued_at, expired_at`

func scanTicket(row interface{ Scan(...any) error }) (*db.Ticket, error) {
	var t db.Ticket
	var status string
	var validatedAt, expiredAt sql.NullTime
	var validatedBy sql.NullInt64
	err := row.Scan(
		&t.ID, &t.ReservationID, &t.Code, &status, &t.ValidFrom, &t.ValidUntil, &validatedAt, &validatedBy,
		&t.ValidationAttempts, &t.LastError, &t.QRPayload, &t.IssuedAt, &expiredAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = db.TicketStatus(status)
	t.ValidatedAt = timePtr(validatedAt)
	t.ValidatedBy = int64Ptr(validatedBy)
	t.ExpiredAt = timePtr(expiredAt)
	return &t, nil
}

func (r *queries) GetTicketByID(ctx context.Context, id string) (*db.Ticket, error) {
	t, err := scanTicket(r.q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id::text = $1`, id))
	if err != nil {
		return nil, notFound(err, "ticket", id)
	}
	return t, nil
}

func (r *queries) GetTicketByCode(ctx context.Context, code string) (*db.Ticket, error) {
	t, err := scanTicket(r.q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE code = $1`, code))
	if err != nil {
		return nil, notFound(err, "ticket", code)
	}
	return t, nil
}

func (r *queries) GetTicketByReservation(ctx context.Context, reservationID int64) (*db.Ticket, error) {
	t, err := scanTicket(r.q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE reservation_id = $1`, reservationID))
	if err != nil {
		return nil, notFound(err, "ticket for reservation", reservationID)
	}
	return t, nil
}

func (r *queries) LockTicket(ctx context.Context, id string) (*db.Ticket, error) {
	t, err := scanTicket(r.q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id::text = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "ticket", id)
	}
	return t, nil
}

func (r *queries) InsertTicket(ctx context.Context, t *db.Ticket) error {
	query := `
		INSERT INTO tickets
		(id, reservation_id, code, status, valid_from, valid_until, validation_attempts, last_error, qr_payload, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.q.ExecContext(ctx, query,
		t.ID, t.ReservationID, t.Code, string(t.Status), t.ValidFrom, t.ValidUntil,
		t.ValidationAttempts, t.LastError, t.QRPayload, t.IssuedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ticket %s: %w", t.Code, ErrDuplicate)
		}
		return fmt.Errorf("inserting ticket: %w", err)
	}
	return nil
}

func (r *queries) UpdateTicket(ctx context.Context, t *db.Ticket) error {
	query := `
		UPDATE tickets
		SET status = $2,
			validated_at = $3,
			validated_by = $4,
			validation_attempts = $5,
			last_error = $6,
			expired_at = $7
		WHERE id::text = $1`
	_, err := r.q.ExecContext(ctx, query,
		t.ID, string(t.Status), nullTime(t.ValidatedAt), nullInt64(t.ValidatedBy),
		t.ValidationAttempts, t.LastError, nullTime(t.ExpiredAt),
	)
	if err != nil {
		return fmt.Errorf("updating ticket %s: %w", t.ID, err)
	}
	return nil
}

func (r *queries) AppendTicketHistory(ctx context.Context, h *db.TicketHistory) error {
	query := `INSERT INTO ticket_history (ticket_id, action, actor_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err := r.q.QueryRowContext(ctx, query, h.TicketID, string(h.Action), nullInt64(h.ActorID), h.Detail, h.CreatedAt).
		Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("appending history of ticket %s: %w", h.TicketID, err)
	}
	return nil
}

func (r *queries) ListTicketHistory(ctx context.Context, ticketID string) ([]db.TicketHistory, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, ticket_id, action, actor_id, detail, created_at
		FROM ticket_history WHERE ticket_id::text = $1 ORDER BY created_at, id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("querying ticket history: %w", err)
	}
	defer rows.Close()

	var history []db.TicketHistory
	for rows.Next() {
		var h db.TicketHistory
		var action string
		var actor sql.NullInt64
		if err := rows.Scan(&h.ID, &h.TicketID, &action, &actor, &h.Detail, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ticket history: %w", err)
		}
		h.Action = db.TicketAction(action)
		h.ActorID = int64Ptr(actor)
		history = append(history, h)
	}
	return history, rows.Err()
}

func (r *queries) ListTickets(ctx context.Context, f TicketFilter) ([]db.Ticket, error) {
	var (
		where []string
		args  []any
	)
	if f.LotID != 0 {
		args = append(args, f.LotID)
		where = append(where, fmt.Sprintf("reservation_id IN (SELECT id FROM reservations WHERE lot_id = $%d)", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY valid_from, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tickets: %w", err)
	}
	defer rows.Close()

	var tickets []db.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}
