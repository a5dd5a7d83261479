package db

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type UserState string

const (
	UserActive      UserState = "active"
	UserDeactivated UserState = "deactivated"
)

type User struct {
	ID           int64
	Email        string
	Name         string
	Phone        string
	PasswordHash string
	Roles        []string
	State        UserState
	CreatedAt    time.Time
}

type Vehicle struct {
	ID      int64
	OwnerID int64
	Plate   string
	Model   string
}

// ParkingLot is owned by the catalog. Reservations only ever mutate
// AvailableSpaces, and only while the row is locked.
type ParkingLot struct {
	ID                  int64
	OwnerID             int64
	StaffIDs            []int64
	Name                string
	TotalSpaces         int
	AvailableSpaces     int
	RatePerHour         decimal.Decimal
	OpeningTime         string // HH:MM, empty when always open
	ClosingTime         string
	Approved            bool
	Active              bool
	AcceptsReservations bool
}

// IsStaff reports whether userID owns or works at the lot.
func (l *ParkingLot) IsStaff(userID int64) bool {
	if l.OwnerID == userID {
		return true
	}
	for _, id := range l.StaffIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationCompleted ReservationStatus = "completed"
)

// ParseReservationStatus rejects anything outside the closed set.
func ParseReservationStatus(s string) (ReservationStatus, error) {
	switch st := ReservationStatus(s); st {
	case ReservationActive, ReservationCancelled, ReservationCompleted:
		return st, nil
	}
	return "", fmt.Errorf("unknown reservation status %q", s)
}

func (s ReservationStatus) Terminal() bool {
	return s == ReservationCancelled || s == ReservationCompleted
}

type Reservation struct {
	ID              int64
	Code            string
	UserID          int64
	VehicleID       int64
	LotID           int64
	EntryTime       time.Time
	ExitTime        time.Time
	DurationMinutes int
	EstimatedCost   decimal.Decimal
	Status          ReservationStatus
	CheckedInAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketExpired   TicketStatus = "expired"
	TicketCancelled TicketStatus = "cancelled"
)

func ParseTicketStatus(s string) (TicketStatus, error) {
	switch st := TicketStatus(s); st {
	case TicketValid, TicketUsed, TicketExpired, TicketCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown ticket status %q", s)
}

type Ticket struct {
	ID                 string
	ReservationID      int64
	Code               string
	Status             TicketStatus
	ValidFrom          time.Time
	ValidUntil         time.Time
	ValidatedAt        *time.Time
	ValidatedBy        *int64
	ValidationAttempts int
	LastError          string
	QRPayload          string
	IssuedAt           time.Time
	ExpiredAt          *time.Time
}

type TicketAction string

const (
	TicketActionCreated          TicketAction = "created"
	TicketActionValidated        TicketAction = "validated"
	TicketActionValidationFailed TicketAction = "validation_failed"
	TicketActionExpired          TicketAction = "expired"
	TicketActionCancelled        TicketAction = "cancelled"
)

type TicketHistory struct {
	ID        int64
	TicketID  string
	Action    TicketAction
	ActorID   *int64
	Detail    string
	CreatedAt time.Time
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCancelled  PaymentStatus = "cancelled"
)

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "card"
	PaymentCash PaymentMethod = "cash"
)

type Payment struct {
	ID                 int64
	Reference          string
	ReservationID      int64
	UserID             int64
	Amount             decimal.Decimal
	Currency           string
	Method             PaymentMethod
	Status             PaymentStatus
	StripeSessionID    string
	StripePaymentIntID string
	PlatformFee        decimal.Decimal
	OwnerAmount        decimal.Decimal
	LastError          string
	CreatedAt          time.Time
	PaidAt             *time.Time
	RefundedAt         *time.Time
}
