package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"parkeaya/internal/db"
	"parkeaya/internal/log"
)

// Event is a domain fact published after the transaction that produced
// it has committed.
type Event interface {
	EventName() string
}

type ReservationCreated struct {
	Reservation db.Reservation
}

type ReservationCancelled struct {
	Reservation db.Reservation
	ActorID     int64
}

type ReservationExtended struct {
	Reservation  db.Reservation
	ExtraMinutes int
	ExtraCost    decimal.Decimal
}

type ReservationCompleted struct {
	Reservation    db.Reservation
	ElapsedMinutes int
	FinalCost      decimal.Decimal
	// Overdue is set when the sweep closed the reservation.
	Overdue bool
}

// ReservationExpired is emitted when a reservation nobody used is
// cancelled by the sweep.
type ReservationExpired struct {
	Reservation db.Reservation
}

type TicketIssued struct {
	Ticket      db.Ticket
	Reservation db.Reservation
}

type TicketValidated struct {
	Ticket  db.Ticket
	ActorID int64
}

type PaymentReceived struct {
	Payment db.Payment
}

type PaymentRefunded struct {
	Payment db.Payment
}

func (ReservationCreated) EventName() string   { return "reservation.created" }
func (ReservationCancelled) EventName() string { return "reservation.cancelled" }
func (ReservationExtended) EventName() string  { return "reservation.extended" }
func (ReservationCompleted) EventName() string { return "reservation.completed" }
func (ReservationExpired) EventName() string   { return "reservation.expired" }
func (TicketIssued) EventName() string         { return "ticket.issued" }
func (TicketValidated) EventName() string      { return "ticket.validated" }
func (PaymentReceived) EventName() string      { return "payment.received" }
func (PaymentRefunded) EventName() string      { return "payment.refunded" }

type Handler func(ctx context.Context, e Event)

// Bus fans events out to subscribers. Each delivery runs on its own
// goroutine so a slow or failing subscriber never blocks the caller.
type Bus struct {
	mu       sync.Mutex
	idle     *sync.Cond
	handlers []Handler
	pending  int
	closed   bool
}

func NewBus() *Bus {
	b := &Bus{}
	b.idle = sync.NewCond(&b.mu)
	return b
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish is safe on a nil bus. Events published after Close are
// dropped.
func (b *Bus) Publish(ctx context.Context, events ...Event) {
	if b == nil || len(events) == 0 {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		for _, e := range events {
			log.Warn(ctx, "event dropped, bus closed", log.Str("event", e.EventName()))
		}
		return
	}
	handlers := append([]Handler(nil), b.handlers...)
	b.pending += len(handlers) * len(events)
	b.mu.Unlock()

	// Deliveries outlive the request that triggered them.
	ctx = context.WithoutCancel(ctx)
	for _, e := range events {
		for _, h := range handlers {
			go b.deliver(ctx, h, e)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer b.done()
	defer func() {
		if r := recover(); r != nil {
			log.Error(ctx, "event subscriber panicked",
				log.Str("event", e.EventName()), log.Str("panic", fmt.Sprint(r)))
		}
	}()
	h(ctx, e)
}

func (b *Bus) done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending--
	if b.pending == 0 {
		b.idle.Broadcast()
	}
}

// Wait blocks until no delivery is running, including deliveries
// published by subscribers while it waits.
func (b *Bus) Wait() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pending > 0 {
		b.idle.Wait()
	}
}

// Close stops accepting events and waits for the pending deliveries.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Wait()
}
