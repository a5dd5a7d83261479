// Package memstore is an in-process repository.Store. A transaction
// holds a single mutex for its whole duration and restores a snapshot
// when fn fails, so it offers serializable semantics for tests and
// single-node demos.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"parkeaya/internal/db"
	"parkeaya/internal/repository"
)

type state struct {
	users        map[int64]db.User
	vehicles     map[int64]db.Vehicle
	lots         map[int64]db.ParkingLot
	reservations map[int64]db.Reservation
	tickets      map[string]db.Ticket
	history      []db.TicketHistory
	payments     map[int64]db.Payment
	seq          int64
}

func (s *state) clone() state {
	return state{
		users:        maps.Clone(s.users),
		vehicles:     maps.Clone(s.vehicles),
		lots:         maps.Clone(s.lots),
		reservations: maps.Clone(s.reservations),
		tickets:      maps.Clone(s.tickets),
		history:      slices.Clone(s.history),
		payments:     maps.Clone(s.payments),
		seq:          s.seq,
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

type Store struct {
	mu sync.Mutex
	st state
}

func New() *Store {
	return &Store{st: state{
		users:        map[int64]db.User{},
		vehicles:     map[int64]db.Vehicle{},
		lots:         map[int64]db.ParkingLot{},
		reservations: map[int64]db.Reservation{},
		tickets:      map[string]db.Ticket{},
		payments:     map[int64]db.Payment{},
	}}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&tx{st: &s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// read runs fn under the store mutex.
func read[T any](s *Store, fn func(t *tx) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&tx{st: &s.st})
}

// AddUser seeds a user and returns its id.
func (s *Store) AddUser(u db.User) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.st.nextID()
	}
	if u.State == "" {
		u.State = db.UserActive
	}
	s.st.users[u.ID] = u
	return u.ID
}

func (s *Store) AddVehicle(v db.Vehicle) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == 0 {
		v.ID = s.st.nextID()
	}
	s.st.vehicles[v.ID] = v
	return v.ID
}

func (s *Store) AddLot(l db.ParkingLot) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = s.st.nextID()
	}
	s.st.lots[l.ID] = l
	return l.ID
}

func (s *Store) GetUser(ctx context.Context, id int64) (*db.User, error) {
	return read(s, func(t *tx) (*db.User, error) { return t.GetUser(ctx, id) })
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	return read(s, func(t *tx) (*db.User, error) { return t.GetUserByEmail(ctx, email) })
}

func (s *Store) GetVehicle(ctx context.Context, id int64) (*db.Vehicle, error) {
	return read(s, func(t *tx) (*db.Vehicle, error) { return t.GetVehicle(ctx, id) })
}

func (s *Store) GetLot(ctx context.Context, id int64) (*db.ParkingLot, error) {
	return read(s, func(t *tx) (*db.ParkingLot, error) { return t.GetLot(ctx, id) })
}

func (s *Store) GetReservationByID(ctx context.Context, id int64) (*db.Reservation, error) {
	return read(s, func(t *tx) (*db.Reservation, error) { return t.GetReservationByID(ctx, id) })
}

func (s *Store) GetReservationByCode(ctx context.Context, code string) (*db.Reservation, error) {
	return read(s, func(t *tx) (*db.Reservation, error) { return t.GetReservationByCode(ctx, code) })
}

func (s *Store) GetTicketByID(ctx context.Context, id string) (*db.Ticket, error) {
	return read(s, func(t *tx) (*db.Ticket, error) { return t.GetTicketByID(ctx, id) })
}

func (s *Store) GetTicketByCode(ctx context.Context, code string) (*db.Ticket, error) {
	return read(s, func(t *tx) (*db.Ticket, error) { return t.GetTicketByCode(ctx, code) })
}

func (s *Store) GetTicketByReservation(ctx context.Context, reservationID int64) (*db.Ticket, error) {
	return read(s, func(t *tx) (*db.Ticket, error) { return t.GetTicketByReservation(ctx, reservationID) })
}

func (s *Store) ListTicketHistory(ctx context.Context, ticketID string) ([]db.TicketHistory, error) {
	return read(s, func(t *tx) ([]db.TicketHistory, error) { return t.ListTicketHistory(ctx, ticketID) })
}

func (s *Store) GetPaymentByID(ctx context.Context, id int64) (*db.Payment, error) {
	return read(s, func(t *tx) (*db.Payment, error) { return t.GetPaymentByID(ctx, id) })
}

func (s *Store) GetPaymentByReservation(ctx context.Context, reservationID int64) (*db.Payment, error) {
	return read(s, func(t *tx) (*db.Payment, error) { return t.GetPaymentByReservation(ctx, reservationID) })
}

func (s *Store) GetPaymentBySessionID(ctx context.Context, sessionID string) (*db.Payment, error) {
	return read(s, func(t *tx) (*db.Payment, error) { return t.GetPaymentBySessionID(ctx, sessionID) })
}

func (s *Store) GetPaymentByIntentID(ctx context.Context, intentID string) (*db.Payment, error) {
	return read(s, func(t *tx) (*db.Payment, error) { return t.GetPaymentByIntentID(ctx, intentID) })
}

func (s *Store) ListUnusedReservationIDs(ctx context.Context, entryBefore time.Time) ([]int64, error) {
	return read(s, func(t *tx) ([]int64, error) { return t.ListUnusedReservationIDs(ctx, entryBefore) })
}

func (s *Store) ListOverdueReservationIDs(ctx context.Context, exitBefore time.Time) ([]int64, error) {
	return read(s, func(t *tx) ([]int64, error) { return t.ListOverdueReservationIDs(ctx, exitBefore) })
}

func (s *Store) ListExpiredTicketIDs(ctx context.Context, validUntilBefore time.Time) ([]string, error) {
	return read(s, func(t *tx) ([]string, error) { return t.ListExpiredTicketIDs(ctx, validUntilBefore) })
}

func (s *Store) ListReservations(ctx context.Context, f repository.ReservationFilter) ([]db.Reservation, error) {
	return read(s, func(t *tx) ([]db.Reservation, error) { return t.ListReservations(ctx, f) })
}

func (s *Store) ListTickets(ctx context.Context, f repository.TicketFilter) ([]db.Ticket, error) {
	return read(s, func(t *tx) ([]db.Ticket, error) { return t.ListTickets(ctx, f) })
}

// tx operates on the state while the store mutex is held.
type tx struct {
	st *state
}

func notFound(what string, key any) error {
	return fmt.Errorf("%s %v: %w", what, key, repository.ErrNotFound)
}

func (t *tx) GetUser(_ context.Context, id int64) (*db.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (t *tx) GetUserByEmail(_ context.Context, email string) (*db.User, error) {
	for _, u := range t.st.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, notFound("user", email)
}

func (t *tx) GetVehicle(_ context.Context, id int64) (*db.Vehicle, error) {
	v, ok := t.st.vehicles[id]
	if !ok {
		return nil, notFound("vehicle", id)
	}
	return &v, nil
}

func (t *tx) GetLot(_ context.Context, id int64) (*db.ParkingLot, error) {
	l, ok := t.st.lots[id]
	if !ok {
		return nil, notFound("parking lot", id)
	}
	l.StaffIDs = slices.Clone(l.StaffIDs)
	return &l, nil
}

func (t *tx) LockLot(ctx context.Context, id int64) (*db.ParkingLot, error) {
	return t.GetLot(ctx, id)
}

func (t *tx) SetLotAvailability(_ context.Context, id int64, available int) error {
	l, ok := t.st.lots[id]
	if !ok {
		return notFound("parking lot", id)
	}
	if available < 0 || available > l.TotalSpaces {
		return fmt.Errorf("parking lot %d: available %d outside [0, %d]", id, available, l.TotalSpaces)
	}
	l.AvailableSpaces = available
	t.st.lots[id] = l
	return nil
}

func (t *tx) GetReservationByID(_ context.Context, id int64) (*db.Reservation, error) {
	r, ok := t.st.reservations[id]
	if !ok {
		return nil, notFound("reservation", id)
	}
	return &r, nil
}

func (t *tx) GetReservationByCode(_ context.Context, code string) (*db.Reservation, error) {
	for _, r := range t.st.reservations {
		if r.Code == code {
			return &r, nil
		}
	}
	return nil, notFound("reservation", code)
}

func (t *tx) LockReservation(ctx context.Context, id int64) (*db.Reservation, error) {
	return t.GetReservationByID(ctx, id)
}

func (t *tx) HasOverlappingReservation(_ context.Context, vehicleID int64, from, to time.Time) (bool, error) {
	for _, r := range t.st.reservations {
		if r.VehicleID == vehicleID && r.Status == db.ReservationActive &&
			r.EntryTime.Before(to) && r.ExitTime.After(from) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertReservation(_ context.Context, r *db.Reservation) error {
	for _, existing := range t.st.reservations {
		if existing.Code == r.Code {
			return fmt.Errorf("reservation %s: %w", r.Code, repository.ErrDuplicate)
		}
	}
	r.ID = t.st.nextID()
	t.st.reservations[r.ID] = *r
	return nil
}

func (t *tx) UpdateReservation(_ context.Context, r *db.Reservation) error {
	if _, ok := t.st.reservations[r.ID]; !ok {
		return notFound("reservation", r.ID)
	}
	t.st.reservations[r.ID] = *r
	return nil
}

func (t *tx) GetTicketByID(_ context.Context, id string) (*db.Ticket, error) {
	tk, ok := t.st.tickets[id]
	if !ok {
		return nil, notFound("ticket", id)
	}
	return &tk, nil
}

func (t *tx) GetTicketByCode(_ context.Context, code string) (*db.Ticket, error) {
	for _, tk := range t.st.tickets {
		if tk.Code == code {
			return &tk, nil
		}
	}
	return nil, notFound("ticket", code)
}

func (t *tx) GetTicketByReservation(_ context.Context, reservationID int64) (*db.Ticket, error) {
	for _, tk := range t.st.tickets {
		if tk.ReservationID == reservationID {
			return &tk, nil
		}
	}
	return nil, notFound("ticket for reservation", reservationID)
}

func (t *tx) LockTicket(ctx context.Context, id string) (*db.Ticket, error) {
	return t.GetTicketByID(ctx, id)
}

func (t *tx) InsertTicket(_ context.Context, tk *db.Ticket) error {
	for _, existing := range t.st.tickets {
		if existing.ID == tk.ID || existing.Code == tk.Code || existing.ReservationID == tk.ReservationID {
			return fmt.Errorf("ticket %s: %w", tk.Code, repository.ErrDuplicate)
		}
	}
	t.st.tickets[tk.ID] = *tk
	return nil
}

func (t *tx) UpdateTicket(_ context.Context, tk *db.Ticket) error {
	if _, ok := t.st.tickets[tk.ID]; !ok {
		return notFound("ticket", tk.ID)
	}
	t.st.tickets[tk.ID] = *tk
	return nil
}

func (t *tx) AppendTicketHistory(_ context.Context, h *db.TicketHistory) error {
	h.ID = t.st.nextID()
	t.st.history = append(t.st.history, *h)
	return nil
}

func (t *tx) ListTicketHistory(_ context.Context, ticketID string) ([]db.TicketHistory, error) {
	var out []db.TicketHistory
	for _, h := range t.st.history {
		if h.TicketID == ticketID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (t *tx) GetPaymentByID(_ context.Context, id int64) (*db.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, notFound("payment", id)
	}
	return &p, nil
}

func (t *tx) findPayment(what string, key any, match func(p db.Payment) bool) (*db.Payment, error) {
	for _, p := range t.st.payments {
		if match(p) {
			return &p, nil
		}
	}
	return nil, notFound(what, key)
}

func (t *tx) GetPaymentByReservation(_ context.Context, reservationID int64) (*db.Payment, error) {
	return t.findPayment("payment for reservation", reservationID, func(p db.Payment) bool {
		return p.ReservationID == reservationID
	})
}

func (t *tx) GetPaymentBySessionID(_ context.Context, sessionID string) (*db.Payment, error) {
	return t.findPayment("payment", sessionID, func(p db.Payment) bool {
		return sessionID != "" && p.StripeSessionID == sessionID
	})
}

func (t *tx) GetPaymentByIntentID(_ context.Context, intentID string) (*db.Payment, error) {
	return t.findPayment("payment", intentID, func(p db.Payment) bool {
		return intentID != "" && p.StripePaymentIntID == intentID
	})
}

func (t *tx) LockPayment(ctx context.Context, id int64) (*db.Payment, error) {
	return t.GetPaymentByID(ctx, id)
}

func (t *tx) InsertPayment(_ context.Context, p *db.Payment) error {
	for _, existing := range t.st.payments {
		if existing.ReservationID == p.ReservationID || existing.Reference == p.Reference {
			return fmt.Errorf("payment for reservation %d: %w", p.ReservationID, repository.ErrDuplicate)
		}
	}
	p.ID = t.st.nextID()
	t.st.payments[p.ID] = *p
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, p *db.Payment) error {
	if _, ok := t.st.payments[p.ID]; !ok {
		return notFound("payment", p.ID)
	}
	t.st.payments[p.ID] = *p
	return nil
}

func (t *tx) ListUnusedReservationIDs(_ context.Context, entryBefore time.Time) ([]int64, error) {
	var ids []int64
	for _, r := range t.st.reservations {
		if r.Status == db.ReservationActive && r.CheckedInAt == nil && r.EntryTime.Before(entryBefore) {
			ids = append(ids, r.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (t *tx) ListOverdueReservationIDs(_ context.Context, exitBefore time.Time) ([]int64, error) {
	var ids []int64
	for _, r := range t.st.reservations {
		if r.Status == db.ReservationActive && r.ExitTime.Before(exitBefore) {
			ids = append(ids, r.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (t *tx) ListExpiredTicketIDs(_ context.Context, validUntilBefore time.Time) ([]string, error) {
	var ids []string
	for _, tk := range t.st.tickets {
		if tk.Status == db.TicketValid && tk.ValidUntil.Before(validUntilBefore) {
			ids = append(ids, tk.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (t *tx) ListReservations(_ context.Context, f repository.ReservationFilter) ([]db.Reservation, error) {
	var out []db.Reservation
	for _, r := range t.st.reservations {
		switch {
		case f.UserID != 0 && r.UserID != f.UserID,
			f.LotID != 0 && r.LotID != f.LotID,
			f.Status != "" && r.Status != f.Status,
			!f.EntryFrom.IsZero() && r.EntryTime.Before(f.EntryFrom),
			!f.EntryTo.IsZero() && !r.EntryTime.Before(f.EntryTo),
			!f.ExitAfter.IsZero() && !r.ExitTime.After(f.ExitAfter):
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b db.Reservation) int {
		if c := a.EntryTime.Compare(b.EntryTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) ListTickets(_ context.Context, f repository.TicketFilter) ([]db.Ticket, error) {
	var out []db.Ticket
	for _, tk := range t.st.tickets {
		if f.Status != "" && tk.Status != f.Status {
			continue
		}
		if f.LotID != 0 && t.st.reservations[tk.ReservationID].LotID != f.LotID {
			continue
		}
		out = append(out, tk)
	}
	slices.SortFunc(out, func(a, b db.Ticket) int {
		if c := a.ValidFrom.Compare(b.ValidFrom); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}
