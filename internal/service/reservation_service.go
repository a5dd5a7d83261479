package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"parkeaya/internal/config"
	"parkeaya/internal/db"
	"parkeaya/internal/entities"
	apperr "parkeaya/internal/errors"
	"parkeaya/internal/log"
	"parkeaya/internal/monitoring"
	"parkeaya/internal/repository"
)

type ReservationService struct {
	store  repository.Store
	bus    *Bus
	policy config.Policy
	now    func() time.Time
}

func NewReservationService(store repository.Store, bus *Bus, policy config.Policy) *ReservationService {
	return &ReservationService{
		store:  store,
		bus:    bus,
		policy: policy,
		now:    time.Now,
	}
}

// CheckoutResult is returned by CheckOut.
type CheckoutResult struct {
	Reservation    *db.Reservation
	FinalCost      decimal.Decimal
	ElapsedMinutes int
}

// Create reserves one space of the lot for the actor's vehicle.
func (s *ReservationService) Create(ctx context.Context, actor entities.Actor, req entities.CreateReservationRequest) (res *db.Reservation, err error) {
	defer s.track(ctx, "create", time.Now(), &err)

	now := s.now().UTC()
	if req.DurationMinutes <= 0 {
		return nil, apperr.ErrInvalidInput("duration_minutes must be greater than zero")
	}
	if req.EntryTime.IsZero() {
		return nil, apperr.ErrInvalidInput("entry_time is required")
	}
	if req.EntryTime.Before(now) {
		return nil, apperr.ErrInvalidInput("entry_time must not be in the past")
	}

	vehicle, err := s.store.GetVehicle(ctx, req.VehicleID)
	if err != nil {
		return nil, storeErr(err, "vehicle")
	}
	if vehicle.OwnerID != actor.UserID {
		return nil, apperr.ErrForbidden("vehicle does not belong to the requesting user")
	}

	entry := req.EntryTime.UTC()
	exit := entry.Add(time.Duration(req.DurationMinutes) * time.Minute)

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		res = nil
		lot, err := tx.LockLot(ctx, req.LotID)
		if err != nil {
			return storeErr(err, "parking lot")
		}
		if !lot.Approved || !lot.Active || !lot.AcceptsReservations {
			return apperr.ErrLotUnavailable("parking lot is not accepting reservations")
		}
		if lot.AvailableSpaces <= 0 {
			return apperr.ErrNoCapacity("no spaces available")
		}
		open, err := OpenDuring(lot.OpeningTime, lot.ClosingTime, entry, exit, s.policy.Location)
		if err != nil {
			return apperr.Internal("reading opening hours", err)
		}
		if !open {
			return apperr.ErrLotUnavailable(fmt.Sprintf("parking lot is closed during the requested window (open %s-%s)", lot.OpeningTime, lot.ClosingTime))
		}
		overlap, err := tx.HasOverlappingReservation(ctx, vehicle.ID, entry, exit)
		if err != nil {
			return storeErr(err, "checking overlapping reservations")
		}
		if overlap {
			return apperr.ErrConflict("vehicle already has a reservation overlapping the requested window")
		}

		if err := acquireSpace(ctx, tx, lot); err != nil {
			return err
		}
		r := &db.Reservation{
			Code:            uuid.NewString(),
			UserID:          actor.UserID,
			VehicleID:       vehicle.ID,
			LotID:           lot.ID,
			EntryTime:       entry,
			ExitTime:        exit,
			DurationMinutes: req.DurationMinutes,
			EstimatedCost:   Cost(lot.RatePerHour, req.DurationMinutes),
			Status:          db.ReservationActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return storeErr(err, "reservation")
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "reservation created", log.Code(res.Code), log.LotID(res.LotID), log.Actor(actor.UserID))
	s.bus.Publish(ctx, ReservationCreated{Reservation: *res})
	return res, nil
}

// Get returns a reservation visible to the actor.
func (s *ReservationService) Get(ctx context.Context, actor entities.Actor, code string) (*db.Reservation, error) {
	res, err := s.store.GetReservationByCode(ctx, code)
	if err != nil {
		return nil, storeErr(err, "reservation")
	}
	lot, err := s.store.GetLot(ctx, res.LotID)
	if err != nil {
		return nil, storeErr(err, "parking lot")
	}
	if !canView(actor, res, lot) {
		return nil, apperr.ErrForbidden("not allowed to view this reservation")
	}
	return res, nil
}

// ListMine returns the active reservations of the actor which have
// not ended yet.
func (s *ReservationService) ListMine(ctx context.Context, actor entities.Actor) ([]db.Reservation, error) {
	if actor.UserID == 0 {
		return nil, apperr.ErrUnauthorized("no user in request")
	}
	list, err := s.store.ListReservations(ctx, repository.ReservationFilter{
		UserID:    actor.UserID,
		Status:    db.ReservationActive,
		ExitAfter: s.now().UTC(),
	})
	if err != nil {
		return nil, storeErr(err, "reservations")
	}
	return list, nil
}

// ListForLot returns the reservations of a parking lot. An empty status
// matches every state; a non-zero day keeps the reservations entering
// on that calendar day in the lot timezone.
func (s *ReservationService) ListForLot(ctx context.Context, actor entities.Actor, lotID int64, status db.ReservationStatus, day time.Time) ([]db.Reservation, error) {
	lot, err := s.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, storeErr(err, "parking lot")
	}
	if !canOperateLot(actor, lot) {
		return nil, apperr.ErrForbidden("only staff of the parking lot can list its reservations")
	}

	f := repository.ReservationFilter{LotID: lot.ID, Status: status}
	if !day.IsZero() {
		loc := s.policy.Location
		if loc == nil {
			loc = time.UTC
		}
		y, m, d := day.Date()
		f.EntryFrom = time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
		f.EntryTo = time.Date(y, m, d+1, 0, 0, 0, 0, loc).UTC()
	}
	list, err := s.store.ListReservations(ctx, f)
	if err != nil {
		return nil, storeErr(err, "reservations")
	}
	return list, nil
}

// Cancel releases the space of a reservation which has not started yet.
func (s *ReservationService) Cancel(ctx context.Context, actor entities.Actor, code string) (res *db.Reservation, err error) {
	defer s.track(ctx, "cancel", time.Now(), &err)

	found, err := s.store.GetReservationByCode(ctx, code)
	if err != nil {
		return nil, storeErr(err, "reservation")
	}

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		res = nil
		lot, cur, err := lockReservation(ctx, tx, found)
		if err != nil {
			return err
		}
		if !canCancel(actor, cur, lot) {
			return apperr.ErrForbidden("not allowed to cancel this reservation")
		}
		if cur.Status != db.ReservationActive {
			return apperr.ErrInvalidState(fmt.Sprintf("reservation is %s", cur.Status))
		}
		now := s.now().UTC()
		if cur.CheckedInAt != nil || !now.Before(cur.EntryTime) {
			return apperr.ErrInvalidState("reservation has already started")
		}

		if err := closeReservation(ctx, tx, lot, cur, db.ReservationCancelled, now); err != nil {
			return err
		}
		if err := cancelReservationTicketTx(ctx, tx, cur.ID, actorRef(actor), "reservation cancelled", now); err != nil {
			return err
		}
		res = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "reservation cancelled", log.Code(res.Code), log.Actor(actor.UserID))
	s.bus.Publish(ctx, ReservationCancelled{Reservation: *res, ActorID: actor.UserID})
	return res, nil
}

// Extend pushes the exit time of an active reservation.
func (s *ReservationService) Extend(ctx context.Context, actor entities.Actor, code string, extraMinutes int) (res *db.Reservation, err error) {
	defer s.track(ctx, "extend", time.Now(), &err)

	if extraMinutes <= 0 {
		return nil, apperr.ErrInvalidInput("extra_minutes must be greater than zero")
	}
	found, err := s.store.GetReservationByCode(ctx, code)
	if err != nil {
		return nil, storeErr(err, "reservation")
	}

	var extra decimal.Decimal
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		res = nil
		lot, cur, err := lockReservation(ctx, tx, found)
		if err != nil {
			return err
		}
		if !canView(actor, cur, lot) {
			return apperr.ErrForbidden("not allowed to extend this reservation")
		}
		if cur.Status != db.ReservationActive {
			return apperr.ErrInvalidState(fmt.Sprintf("reservation is %s", cur.Status))
		}

		extra = Cost(lot.RatePerHour, extraMinutes)
		cur.ExitTime = cur.ExitTime.Add(time.Duration(extraMinutes) * time.Minute)
		cur.DurationMinutes += extraMinutes
		cur.EstimatedCost = cur.EstimatedCost.Add(extra)
		cur.UpdatedAt = s.now().UTC()
		if err := tx.UpdateReservation(ctx, cur); err != nil {
			return storeErr(err, "reservation")
		}
		res = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "reservation extended", log.Code(res.Code), log.Count("extra_minutes", extraMinutes))
	s.bus.Publish(ctx, ReservationExtended{Reservation: *res, ExtraMinutes: extraMinutes, ExtraCost: extra})
	return res, nil
}

// CheckIn marks the arrival of the holder. Repeated calls are no-ops.
func (s *ReservationService) CheckIn(ctx context.Context, actor entities.Actor, code string) (res *db.Reservation, err error) {
	defer s.track(ctx, "checkin", time.Now(), &err)

	found, err := s.store.GetReservationByCode(ctx, code)
	if err != nil {
		return nil, storeErr(err, "reservation")
	}
	lot, err := s.store.GetLot(ctx, found.LotID)
	if err != nil {
		return nil, storeErr(err, "parking lot")
	}
	if !canView(actor, found, lot) {
		return nil, apperr.ErrForbidden("not allowed to check in this reservation")
	}

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		res = nil
		cur, err := tx.LockReservation(ctx, found.ID)
		if err != nil {
			return storeErr(err, "reservation")
		}
		if cur.Status != db.ReservationActive {
			return apperr.ErrInvalidState(fmt.Sprintf("reservation is %s", cur.Status))
		}
		if cur.CheckedInAt == nil {
			now := s.now().UTC()
			cur.CheckedInAt = &now
			cur.UpdatedAt = now
			if err := tx.UpdateReservation(ctx, cur); err != nil {
				return storeErr(err, "reservation")
			}
		}
		res = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CheckOut completes the reservation, releases its space and charges
// the time actually spent.
func (s *ReservationService) CheckOut(ctx context.Context, actor entities.Actor, code string) (out *CheckoutResult, err error) {
	defer s.track(ctx, "checkout", time.Now(), &err)

	found, err := s.store.GetReservationByCode(ctx, code)
	if err != nil {
		return nil, storeErr(err, "reservation")
	}

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		out = nil
		lot, cur, err := lockReservation(ctx, tx, found)
		if err != nil {
			return err
		}
		if !canView(actor, cur, lot) {
			return apperr.ErrForbidden("not allowed to check out this reservation")
		}
		if cur.Status != db.ReservationActive {
			return apperr.ErrInvalidState(fmt.Sprintf("reservation is %s", cur.Status))
		}

		now := s.now().UTC()
		elapsed := ElapsedMinutes(cur.EntryTime, now)
		cost := CheckoutCost(lot.RatePerHour, max(now.Sub(cur.EntryTime), 0), s.policy.CheckoutGrace)
		cur.ExitTime = now
		cur.DurationMinutes = elapsed
		cur.EstimatedCost = cost
		if err := closeReservation(ctx, tx, lot, cur, db.ReservationCompleted, now); err != nil {
			return err
		}
		out = &CheckoutResult{Reservation: cur, FinalCost: cost, ElapsedMinutes: elapsed}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "reservation checked out", log.Code(out.Reservation.Code),
		log.Count("elapsed_minutes", out.ElapsedMinutes), log.Str("final_cost", out.FinalCost.StringFixed(2)))
	s.bus.Publish(ctx, ReservationCompleted{
		Reservation:    *out.Reservation,
		ElapsedMinutes: out.ElapsedMinutes,
		FinalCost:      out.FinalCost,
	})
	return out, nil
}

// ExpireUnused cancels a reservation nobody checked in to once the
// grace window after its entry time has passed. It reports whether a
// transition happened.
func (s *ReservationService) ExpireUnused(ctx context.Context, id int64) (bool, error) {
	var expired *db.Reservation
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		expired = nil
		found, err := tx.GetReservationByID(ctx, id)
		if err != nil {
			return storeErr(err, "reservation")
		}
		lot, cur, err := lockReservation(ctx, tx, found)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if cur.Status != db.ReservationActive || cur.CheckedInAt != nil ||
			!now.After(cur.EntryTime.Add(s.policy.UnusedGrace)) {
			return nil
		}
		if err := closeReservation(ctx, tx, lot, cur, db.ReservationCancelled, now); err != nil {
			return err
		}
		if err := cancelReservationTicketTx(ctx, tx, cur.ID, actorRef(entities.System), "reservation not used", now); err != nil {
			return err
		}
		expired = cur
		return nil
	})
	if err != nil || expired == nil {
		return false, err
	}
	s.bus.Publish(ctx, ReservationExpired{Reservation: *expired})
	return true, nil
}

// ExpireOverdue completes an active reservation whose exit time has
// passed, releasing its space. The estimated cost is kept as the final
// cost.
func (s *ReservationService) ExpireOverdue(ctx context.Context, id int64) (bool, error) {
	var completed *db.Reservation
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		completed = nil
		found, err := tx.GetReservationByID(ctx, id)
		if err != nil {
			return storeErr(err, "reservation")
		}
		lot, cur, err := lockReservation(ctx, tx, found)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if cur.Status != db.ReservationActive || !now.After(cur.ExitTime) {
			return nil
		}
		if err := closeReservation(ctx, tx, lot, cur, db.ReservationCompleted, now); err != nil {
			return err
		}
		completed = cur
		return nil
	})
	if err != nil || completed == nil {
		return false, err
	}
	s.bus.Publish(ctx, ReservationCompleted{
		Reservation:    *completed,
		ElapsedMinutes: completed.DurationMinutes,
		FinalCost:      completed.EstimatedCost,
		Overdue:        true,
	})
	return true, nil
}

func (s *ReservationService) track(ctx context.Context, op string, started time.Time, err *error) {
	monitoring.TrackOperation(op+"_reservation", outcome(*err), started)
	logInternal(ctx, op+" reservation", *err)
}

// lockReservation locks the lot of r and then r itself, and returns the
// fresh rows.
func lockReservation(ctx context.Context, tx repository.Tx, r *db.Reservation) (*db.ParkingLot, *db.Reservation, error) {
	lot, err := tx.LockLot(ctx, r.LotID)
	if err != nil {
		return nil, nil, storeErr(err, "parking lot")
	}
	cur, err := tx.LockReservation(ctx, r.ID)
	if err != nil {
		return nil, nil, storeErr(err, "reservation")
	}
	return lot, cur, nil
}

// acquireSpace takes one space of a locked lot.
func acquireSpace(ctx context.Context, tx repository.Tx, lot *db.ParkingLot) error {
	if lot.AvailableSpaces <= 0 {
		return apperr.ErrNoCapacity("no spaces available")
	}
	if lot.AvailableSpaces > lot.TotalSpaces {
		return apperr.Internal("capacity ledger", fmt.Errorf("lot %d has %d of %d spaces available", lot.ID, lot.AvailableSpaces, lot.TotalSpaces))
	}
	lot.AvailableSpaces--
	return storeErr(tx.SetLotAvailability(ctx, lot.ID, lot.AvailableSpaces), "parking lot")
}

// closeReservation is the only path out of ACTIVE. It moves cur to a
// terminal status and gives its space back to the locked lot, so every
// reservation releases exactly one space.
func closeReservation(ctx context.Context, tx repository.Tx, lot *db.ParkingLot, cur *db.Reservation, status db.ReservationStatus, now time.Time) error {
	if cur.Status != db.ReservationActive || !status.Terminal() {
		return apperr.Internal("closing reservation", fmt.Errorf("transition %s -> %s", cur.Status, status))
	}
	if lot.AvailableSpaces < 0 || lot.AvailableSpaces >= lot.TotalSpaces {
		return apperr.Internal("capacity ledger", fmt.Errorf("lot %d has %d of %d spaces available", lot.ID, lot.AvailableSpaces, lot.TotalSpaces))
	}
	lot.AvailableSpaces++
	if err := tx.SetLotAvailability(ctx, lot.ID, lot.AvailableSpaces); err != nil {
		return storeErr(err, "parking lot")
	}
	cur.Status = status
	cur.UpdatedAt = now
	return storeErr(tx.UpdateReservation(ctx, cur), "reservation")
}
