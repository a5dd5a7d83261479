// Package repository defines the persistence contract used by the
// services and its PostgreSQL implementation.
//
// All mutations happen inside WithinTx. The Lock* methods take an
// exclusive row lock which is held until the transaction ends, so a
// read-modify-write done through a Tx cannot lose updates. Callers
// must lock a parking lot before any reservation that belongs to it.
package repository

import (
	"context"
	"errors"
	"time"

	"parkeaya/internal/db"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint rejects a row.
	ErrDuplicate = errors.New("duplicate")
)

// ReservationFilter narrows ListReservations. Zero fields match
// anything. Results are ordered by entry time.
type ReservationFilter struct {
	UserID int64
	LotID  int64
	Status db.ReservationStatus
	// EntryFrom and EntryTo bound entry_time to [EntryFrom, EntryTo).
	EntryFrom time.Time
	EntryTo   time.Time
	// ExitAfter keeps reservations still running after it.
	ExitAfter time.Time
}

// TicketFilter narrows ListTickets. Zero fields match anything.
// Results are ordered by the start of the validity window.
type TicketFilter struct {
	LotID  int64
	Status db.TicketStatus
}

// Reader groups the queries which need no lock.
type Reader interface {
	GetUser(ctx context.Context, id int64) (*db.User, error)
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
	GetVehicle(ctx context.Context, id int64) (*db.Vehicle, error)
	GetLot(ctx context.Context, id int64) (*db.ParkingLot, error)

	GetReservationByID(ctx context.Context, id int64) (*db.Reservation, error)
	GetReservationByCode(ctx context.Context, code string) (*db.Reservation, error)

	GetTicketByID(ctx context.Context, id string) (*db.Ticket, error)
	GetTicketByCode(ctx context.Context, code string) (*db.Ticket, error)
	GetTicketByReservation(ctx context.Context, reservationID int64) (*db.Ticket, error)
	ListTicketHistory(ctx context.Context, ticketID string) ([]db.TicketHistory, error)

	ListReservations(ctx context.Context, f ReservationFilter) ([]db.Reservation, error)
	ListTickets(ctx context.Context, f TicketFilter) ([]db.Ticket, error)

	GetPaymentByID(ctx context.Context, id int64) (*db.Payment, error)
	GetPaymentByReservation(ctx context.Context, reservationID int64) (*db.Payment, error)
	GetPaymentBySessionID(ctx context.Context, sessionID string) (*db.Payment, error)
	GetPaymentByIntentID(ctx context.Context, intentID string) (*db.Payment, error)

	// Sweep candidates. Callers must re-check the state under lock.
	ListUnusedReservationIDs(ctx context.Context, entryBefore time.Time) ([]int64, error)
	ListOverdueReservationIDs(ctx context.Context, exitBefore time.Time) ([]int64, error)
	ListExpiredTicketIDs(ctx context.Context, validUntilBefore time.Time) ([]string, error)
}

// Tx is a unit of work.
type Tx interface {
	Reader

	LockLot(ctx context.Context, id int64) (*db.ParkingLot, error)
	SetLotAvailability(ctx context.Context, id int64, available int) error

	// HasOverlappingReservation reports an active reservation of the
	// vehicle whose [entry, exit) interval intersects [from, to).
	HasOverlappingReservation(ctx context.Context, vehicleID int64, from, to time.Time) (bool, error)
	InsertReservation(ctx context.Context, r *db.Reservation) error
	LockReservation(ctx context.Context, id int64) (*db.Reservation, error)
	UpdateReservation(ctx context.Context, r *db.Reservation) error

	InsertTicket(ctx context.Context, t *db.Ticket) error
	LockTicket(ctx context.Context, id string) (*db.Ticket, error)
	UpdateTicket(ctx context.Context, t *db.Ticket) error
	AppendTicketHistory(ctx context.Context, h *db.TicketHistory) error

	InsertPayment(ctx context.Context, p *db.Payment) error
	LockPayment(ctx context.Context, id int64) (*db.Payment, error)
	UpdatePayment(ctx context.Context, p *db.Payment) error
}

// Store is the entry point used by the services.
type Store interface {
	Reader

	// WithinTx runs fn in a transaction. fn may be invoked more than
	// once when the database asks for a retry, so it must not leak
	// side effects outside the transaction.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
