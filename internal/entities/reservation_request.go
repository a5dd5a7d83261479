package entities

import "time"

type CreateReservationRequest struct {
	VehicleID       int64     `json:"vehicle_id" validate:"required,gt=0"`
	LotID           int64     `json:"lot_id" validate:"required,gt=0"`
	EntryTime       time.Time `json:"entry_time" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,gt=0"`
}

type ExtendReservationRequest struct {
	ExtraMinutes int `json:"extra_minutes" validate:"required,gt=0"`
}

type CreatePaymentRequest struct {
	Method string `json:"method" validate:"required,oneof=card cash"`
}

// ValidateTicketRequest carries either the printed ticket code or the
// raw content scanned from the QR image.
type ValidateTicketRequest struct {
	TicketCode string `json:"ticket_code" validate:"required_without=QRPayload"`
	QRPayload  string `json:"qr_payload" validate:"required_without=TicketCode"`
}

func (r ValidateTicketRequest) Ref() string {
	if r.QRPayload != "" {
		return r.QRPayload
	}
	return r.TicketCode
}

type CancelTicketRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
