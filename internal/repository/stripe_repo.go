package repository

import (
	"context"
	"database/sql"
	"fmt"

	"parkeaya/internal/db"
)

const paymentColumns = `id, reference, reservation_id, user_id, amount, currency, method, status,
	stripe_session_id, stripe_payment_intent_id, platform_fee, owner_amount, last_error,
	created_at, paid_at, refunded_at`

func scanPayment(row interface{ Scan(...any) error }) (*db.Payment, error) {
	var p db.Payment
	var method, status string
	var paidAt, refundedAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.Reference, &p.ReservationID, &p.UserID, &p.Amount, &p.Currency, &method, &status,
		&p.StripeSessionID, &p.StripePaymentIntID, &p.PlatformFee, &p.OwnerAmount, &p.LastError,
		&p.CreatedAt, &paidAt, &refundedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Method = db.PaymentMethod(method)
	p.Status = db.PaymentStatus(status)
	p.PaidAt = timePtr(paidAt)
	p.RefundedAt = timePtr(refundedAt)
	return &p, nil
}

func (r *queries) getPayment(ctx context.Context, where string, key any) (*db.Payment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where, key))
	if err != nil {
		return nil, notFound(err, "payment", key)
	}
	return p, nil
}

func (r *queries) GetPaymentByID(ctx context.Context, id int64) (*db.Payment, error) {
	return r.getPayment(ctx, `id = $1`, id)
}

func (r *queries) GetPaymentByReservation(ctx context.Context, reservationID int64) (*db.Payment, error) {
	return r.getPayment(ctx, `reservation_id = $1`, reservationID)
}

func (r *queries) GetPaymentBySessionID(ctx context.Context, sessionID string) (*db.Payment, error) {
	return r.getPayment(ctx, `stripe_session_id = $1 AND stripe_session_id <> ''`, sessionID)
}

func (r *queries) GetPaymentByIntentID(ctx context.Context, intentID string) (*db.Payment, error) {
	return r.getPayment(ctx, `stripe_payment_intent_id = $1 AND stripe_payment_intent_id <> ''`, intentID)
}

func (r *queries) LockPayment(ctx context.Context, id int64) (*db.Payment, error) {
	return r.getPayment(ctx, `id = $1 FOR UPDATE`, id)
}

func (r *queries) InsertPayment(ctx context.Context, p *db.Payment) error {
	query := `
		INSERT INTO payments
		(reference, reservation_id, user_id, amount, currency, method, status,
		 stripe_session_id, stripe_payment_intent_id, platform_fee, owner_amount, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`
	err := r.q.QueryRowContext(ctx, query,
		p.Reference, p.ReservationID, p.UserID, p.Amount, p.Currency, string(p.Method), string(p.Status),
		p.StripeSessionID, p.StripePaymentIntID, p.PlatformFee, p.OwnerAmount, p.LastError, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment for reservation %d: %w", p.ReservationID, ErrDuplicate)
		}
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

func (r *queries) UpdatePayment(ctx context.Context, p *db.Payment) error {
	query := `
		UPDATE payments
		SET status = $2,
			stripe_session_id = $3,
			stripe_payment_intent_id = $4,
			platform_fee = $5,
			owner_amount = $6,
			last_error = $7,
			paid_at = $8,
			refunded_at = $9
		WHERE id = $1`
	_, err := r.q.ExecContext(ctx, query,
		p.ID,
		string(p.Status),
		p.StripeSessionID,
		p.StripePaymentIntID,
		p.PlatformFee,
		p.OwnerAmount,
		p.LastError,
		nullTime(p.PaidAt),
		nullTime(p.RefundedAt),
	)
	if err != nil {
		return fmt.Errorf("updating payment %d: %w", p.ID, err)
	}
	return nil
}
