package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	TicketPayloadVersion = "1.0"
	TicketPayloadType    = "parking_access"
)

// TicketPayload is the structured content encoded into the ticket QR
// image. External scanners key on Version.
type TicketPayload struct {
	Version         string    `json:"version"`
	Type            string    `json:"type"`
	TicketID        string    `json:"ticket_id"`
	TicketCode      string    `json:"ticket_code"`
	ReservationCode string    `json:"reservation_code"`
	ReservationID   int64     `json:"reservation_id"`
	UserID          int64     `json:"user_id"`
	LotID           int64     `json:"lot_id"`
	LotName         string    `json:"lot_name"`
	VehiclePlate    string    `json:"vehicle_plate"`
	EntryTime       time.Time `json:"entry_time"`
}

func (p TicketPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var ErrMalformedPayload = errors.New("malformed ticket payload")

// IsPayload reports whether ref looks like a scanned payload rather
// than a printed ticket code.
func IsPayload(ref string) bool {
	return strings.HasPrefix(strings.TrimSpace(ref), "{")
}

// ParseTicketPayload decodes a scanned payload and returns it when it
// names a ticket.
func ParseTicketPayload(raw string) (*TicketPayload, error) {
	var p TicketPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.TicketID == "" {
		return nil, fmt.Errorf("%w: missing ticket_id", ErrMalformedPayload)
	}
	return &p, nil
}
