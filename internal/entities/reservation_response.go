package entities

import (
	"time"

	"parkeaya/internal/db"
)

type ReservationResponse struct {
	Code            string     `json:"reservation_code"`
	UserID          int64      `json:"user_id"`
	VehicleID       int64      `json:"vehicle_id"`
	LotID           int64      `json:"lot_id"`
	EntryTime       time.Time  `json:"entry_time"`
	ExitTime        time.Time  `json:"exit_time"`
	DurationMinutes int        `json:"duration_minutes"`
	EstimatedCost   string     `json:"estimated_cost"`
	Status          string     `json:"status"`
	CheckedInAt     *time.Time `json:"checked_in_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	PaymentStatus   string     `json:"payment_status,omitempty"`
	TicketCode      string     `json:"ticket_code,omitempty"`
}

func NewReservationResponse(r *db.Reservation) ReservationResponse {
	return ReservationResponse{
		Code:            r.Code,
		UserID:          r.UserID,
		VehicleID:       r.VehicleID,
		LotID:           r.LotID,
		EntryTime:       r.EntryTime,
		ExitTime:        r.ExitTime,
		DurationMinutes: r.DurationMinutes,
		EstimatedCost:   r.EstimatedCost.StringFixed(2),
		Status:          string(r.Status),
		CheckedInAt:     r.CheckedInAt,
		CreatedAt:       r.CreatedAt,
	}
}

type CheckoutResponse struct {
	FinalCost      string              `json:"final_cost"`
	ElapsedMinutes int                 `json:"elapsed_minutes"`
	Reservation    ReservationResponse `json:"reservation"`
}

type TicketHistoryEntry struct {
	Action    string    `json:"action"`
	ActorID   *int64    `json:"actor_id,omitempty"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

type TicketResponse struct {
	ID                 string               `json:"id"`
	Code               string               `json:"ticket_code"`
	Status             string               `json:"status"`
	ValidFrom          time.Time            `json:"valid_from"`
	ValidUntil         time.Time            `json:"valid_until"`
	ValidatedAt        *time.Time           `json:"validated_at,omitempty"`
	ValidatedBy        *int64               `json:"validated_by,omitempty"`
	ValidationAttempts int                  `json:"validation_attempts"`
	QRPayload          string               `json:"qr_payload"`
	History            []TicketHistoryEntry `json:"history,omitempty"`
}

func NewTicketResponse(t *db.Ticket, history []db.TicketHistory) TicketResponse {
	resp := TicketResponse{
		ID:                 t.ID,
		Code:               t.Code,
		Status:             string(t.Status),
		ValidFrom:          t.ValidFrom,
		ValidUntil:         t.ValidUntil,
		ValidatedAt:        t.ValidatedAt,
		ValidatedBy:        t.ValidatedBy,
		ValidationAttempts: t.ValidationAttempts,
		QRPayload:          t.QRPayload,
	}
	for _, h := range history {
		resp.History = append(resp.History, TicketHistoryEntry{
			Action:    string(h.Action),
			ActorID:   h.ActorID,
			Detail:    h.Detail,
			CreatedAt: h.CreatedAt,
		})
	}
	return resp
}

// ValidationResult is the outcome of a redemption attempt.
type ValidationResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code,omitempty"`
	Ticket  *TicketResponse `json:"ticket,omitempty"`
}

type PaymentResponse struct {
	ID          int64  `json:"id"`
	Reference   string `json:"reference"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	Status      string `json:"status"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	TicketCode  string `json:"ticket_code,omitempty"`
}

func NewPaymentResponse(p *db.Payment) PaymentResponse {
	return PaymentResponse{
		ID:        p.ID,
		Reference: p.Reference,
		Amount:    p.Amount.StringFixed(2),
		Currency:  p.Currency,
		Method:    string(p.Method),
		Status:    string(p.Status),
	}
}

type LoginResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
