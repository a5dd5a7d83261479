package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"parkeaya/internal/config"
	"parkeaya/internal/db"
	"parkeaya/internal/entities"
	apperr "parkeaya/internal/errors"
	"parkeaya/internal/log"
	"parkeaya/internal/monitoring"
	"parkeaya/internal/repository"
	"parkeaya/internal/utils"
)

const issueAttempts = 3

type TicketService struct {
	store  repository.Store
	bus    *Bus
	policy config.Policy
	now    func() time.Time
	// newCode generates printed ticket codes.
	newCode func() (string, error)
}

func NewTicketService(store repository.Store, bus *Bus, policy config.Policy) *TicketService {
	return &TicketService{
		store:   store,
		bus:     bus,
		policy:  policy,
		now:     time.Now,
		newCode: utils.NewTicketCode,
	}
}

// Issue returns the ticket of the reservation identified by code,
// creating it on first call. Holders get a new ticket only once the
// reservation is paid, or is being paid in cash; lot staff may issue
// it at any time.
func (s *TicketService) Issue(ctx context.Context, actor entities.Actor, code string) (*db.Ticket, error) {
	res, err := s.store.GetReservationByCode(ctx, code)
	if err != nil {
		return nil, storeErr(err, "reservation")
	}
	lot, err := s.store.GetLot(ctx, res.LotID)
	if err != nil {
		return nil, storeErr(err, "parking lot")
	}
	if !canView(actor, res, lot) {
		return nil, apperr.ErrForbidden("not allowed to issue a ticket for this reservation")
	}
	return s.issue(ctx, res.ID, !canOperateLot(actor, lot))
}

// IssueForReservation is idempotent: a reservation which already has a
// ticket gets it back unchanged.
func (s *TicketService) IssueForReservation(ctx context.Context, reservationID int64) (*db.Ticket, error) {
	return s.issue(ctx, reservationID, false)
}

func (s *TicketService) issue(ctx context.Context, reservationID int64, requirePaid bool) (*db.Ticket, error) {
	var (
		ticket *db.Ticket
		issued *TicketIssued
		err    error
	)
	for attempt := 1; attempt <= issueAttempts; attempt++ {
		err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
			ticket, issued = nil, nil
			var err error
			ticket, issued, err = s.issueTx(ctx, tx, reservationID, requirePaid)
			return err
		})
		// A printed code collided with an existing one; a new
		// transaction draws a new code.
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		break
	}
	if err != nil {
		err = storeErr(err, "issuing ticket")
		logInternal(ctx, "issue ticket", err)
		return nil, err
	}
	if issued != nil {
		log.Info(ctx, "ticket issued", log.TicketID(ticket.ID), log.Str("ticket_code", ticket.Code))
		s.bus.Publish(ctx, *issued)
	}
	return ticket, nil
}

func (s *TicketService) issueTx(ctx context.Context, tx repository.Tx, reservationID int64, requirePaid bool) (*db.Ticket, *TicketIssued, error) {
	res, err := tx.LockReservation(ctx, reservationID)
	if err != nil {
		return nil, nil, storeErr(err, "reservation")
	}

	existing, err := tx.GetTicketByReservation(ctx, res.ID)
	switch {
	case err == nil:
		return existing, nil, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, nil, storeErr(err, "ticket")
	}

	if res.Status != db.ReservationActive {
		return nil, nil, apperr.ErrInvalidState(fmt.Sprintf("reservation is %s", res.Status))
	}
	if requirePaid {
		if err := checkPaid(ctx, tx, res.ID); err != nil {
			return nil, nil, err
		}
	}

	lot, err := tx.GetLot(ctx, res.LotID)
	if err != nil {
		return nil, nil, storeErr(err, "parking lot")
	}
	vehicle, err := tx.GetVehicle(ctx, res.VehicleID)
	if err != nil {
		return nil, nil, storeErr(err, "vehicle")
	}
	code, err := s.newCode()
	if err != nil {
		return nil, nil, apperr.Internal("generating ticket code", err)
	}

	now := s.now().UTC()
	t := &db.Ticket{
		ID:            uuid.NewString(),
		ReservationID: res.ID,
		Code:          code,
		Status:        db.TicketValid,
		ValidFrom:     res.EntryTime.Add(-s.policy.TicketBufferBefore),
		ValidUntil:    res.EntryTime.Add(s.policy.TicketBufferAfter),
		IssuedAt:      now,
	}
	t.QRPayload, err = entities.TicketPayload{
		Version:         entities.TicketPayloadVersion,
		Type:            entities.TicketPayloadType,
		TicketID:        t.ID,
		TicketCode:      t.Code,
		ReservationCode: res.Code,
		ReservationID:   res.ID,
		UserID:          res.UserID,
		LotID:           lot.ID,
		LotName:         lot.Name,
		VehiclePlate:    vehicle.Plate,
		EntryTime:       res.EntryTime,
	}.Encode()
	if err != nil {
		return nil, nil, apperr.Internal("encoding ticket payload", err)
	}

	if err := tx.InsertTicket(ctx, t); err != nil {
		return nil, nil, err
	}
	if err := appendHistory(ctx, tx, t.ID, db.TicketActionCreated, nil, "issued for reservation "+res.Code, now); err != nil {
		return nil, nil, err
	}
	return t, &TicketIssued{Ticket: *t, Reservation: *res}, nil
}

// checkPaid accepts a PAID payment or a cash payment waiting for
// collection at the lot.
func checkPaid(ctx context.Context, tx repository.Tx, reservationID int64) error {
	p, err := tx.GetPaymentByReservation(ctx, reservationID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.ErrInvalidState("reservation is not paid")
	}
	if err != nil {
		return storeErr(err, "payment")
	}
	switch {
	case p.Status == db.PaymentPaid:
		return nil
	case p.Method == db.PaymentCash && p.Status == db.PaymentPending:
		return nil
	}
	return apperr.ErrInvalidState("reservation is not paid")
}

// ValidateAndRedeem redeems the ticket named by ref, a printed code or
// a scanned payload. Rejected attempts are recorded on the ticket and
// returned as errors together with the ticket.
func (s *TicketService) ValidateAndRedeem(ctx context.Context, actor entities.Actor, ref string) (*db.Ticket, error) {
	started := time.Now()
	ticket, err := s.validate(ctx, actor, ref)
	monitoring.TrackOperation("validate_ticket", outcome(err), started)
	monitoring.TrackValidation(outcome(err))
	return ticket, err
}

func (s *TicketService) validate(ctx context.Context, actor entities.Actor, ref string) (*db.Ticket, error) {
	found, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	var (
		ticket    *db.Ticket
		rejection error
		validated *TicketValidated
	)
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		ticket, rejection, validated = nil, nil, nil

		res, err := tx.LockReservation(ctx, found.ReservationID)
		if err != nil {
			return storeErr(err, "reservation")
		}
		t, err := tx.LockTicket(ctx, found.ID)
		if err != nil {
			return storeErr(err, "ticket")
		}
		lot, err := tx.GetLot(ctx, res.LotID)
		if err != nil {
			return storeErr(err, "parking lot")
		}

		now := s.now().UTC()
		t.ValidationAttempts++
		rejection = s.checkRedeemable(t, lot, actor, now)
		if rejection != nil {
			t.LastError = apperr.MessageOf(rejection)
			if err := tx.UpdateTicket(ctx, t); err != nil {
				return storeErr(err, "ticket")
			}
			ticket = t
			return appendHistory(ctx, tx, t.ID, db.TicketActionValidationFailed, actorRef(actor), t.LastError, now)
		}

		t.Status = db.TicketUsed
		t.ValidatedAt = &now
		t.ValidatedBy = actorRef(actor)
		t.LastError = ""
		if err := tx.UpdateTicket(ctx, t); err != nil {
			return storeErr(err, "ticket")
		}
		if err := appendHistory(ctx, tx, t.ID, db.TicketActionValidated, actorRef(actor), "redeemed at "+lot.Name, now); err != nil {
			return err
		}

		// Redeeming the ticket at the gate is an arrival.
		if res.Status == db.ReservationActive && res.CheckedInAt == nil {
			res.CheckedInAt = &now
			res.UpdatedAt = now
			if err := tx.UpdateReservation(ctx, res); err != nil {
				return storeErr(err, "reservation")
			}
		}
		ticket = t
		validated = &TicketValidated{Ticket: *t, ActorID: actor.UserID}
		return nil
	})
	if err != nil {
		err = storeErr(err, "validating ticket")
		logInternal(ctx, "validate ticket", err)
		return nil, err
	}
	if rejection != nil {
		log.Warn(ctx, "ticket validation rejected",
			log.TicketID(ticket.ID), log.Actor(actor.UserID), log.Str("reason", ticket.LastError))
		return ticket, rejection
	}
	log.Info(ctx, "ticket redeemed", log.TicketID(ticket.ID), log.Actor(actor.UserID))
	s.bus.Publish(ctx, *validated)
	return ticket, nil
}

// checkRedeemable applies the redemption checks in order: state, time
// window, then the actor.
func (s *TicketService) checkRedeemable(t *db.Ticket, lot *db.ParkingLot, actor entities.Actor, now time.Time) error {
	switch t.Status {
	case db.TicketValid:
	case db.TicketUsed:
		return apperr.ErrInvalidState("ticket already used")
	case db.TicketExpired:
		return apperr.ErrInvalidState("ticket has expired")
	case db.TicketCancelled:
		return apperr.ErrInvalidState("ticket was cancelled")
	default:
		return apperr.ErrInvalidState(fmt.Sprintf("ticket is %s", t.Status))
	}
	if now.Before(t.ValidFrom) {
		return apperr.ErrNotYetValid("ticket is not valid until " + t.ValidFrom.Format(time.RFC3339))
	}
	if now.After(t.ValidUntil) {
		return apperr.ErrExpired("ticket validity ended at " + t.ValidUntil.Format(time.RFC3339))
	}
	if !canOperateLot(actor, lot) {
		return apperr.ErrForbidden("only staff of the parking lot can validate tickets")
	}
	return nil
}

// resolve finds the ticket named by a printed code or a scanned payload.
func (s *TicketService) resolve(ctx context.Context, ref string) (*db.Ticket, error) {
	if !entities.IsPayload(ref) {
		t, err := s.store.GetTicketByCode(ctx, ref)
		return t, storeErr(err, "ticket")
	}
	payload, err := entities.ParseTicketPayload(ref)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, "unreadable ticket payload", err)
	}
	t, err := s.store.GetTicketByID(ctx, payload.TicketID)
	if err != nil {
		return nil, storeErr(err, "ticket")
	}
	if payload.TicketCode != "" && payload.TicketCode != t.Code {
		return nil, apperr.ErrNotFound("ticket not found")
	}
	return t, nil
}

// ExpireTicket moves a VALID ticket past its window to EXPIRED. It
// reports whether a transition happened.
func (s *TicketService) ExpireTicket(ctx context.Context, ticketID string) (bool, error) {
	var expired bool
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		expired = false
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return storeErr(err, "ticket")
		}
		now := s.now().UTC()
		if t.Status != db.TicketValid || !now.After(t.ValidUntil) {
			return nil
		}
		t.Status = db.TicketExpired
		t.ExpiredAt = &now
		if err := tx.UpdateTicket(ctx, t); err != nil {
			return storeErr(err, "ticket")
		}
		expired = true
		return appendHistory(ctx, tx, t.ID, db.TicketActionExpired, actorRef(entities.System), "validity window elapsed", now)
	})
	return expired, storeErr(err, "expiring ticket")
}

// Cancel cancels a VALID ticket. Tickets in any other state are
// returned unchanged.
func (s *TicketService) Cancel(ctx context.Context, actor entities.Actor, code, reason string) (*db.Ticket, error) {
	found, err := s.store.GetTicketByCode(ctx, code)
	if err != nil {
		return nil, storeErr(err, "ticket")
	}
	res, err := s.store.GetReservationByID(ctx, found.ReservationID)
	if err != nil {
		return nil, storeErr(err, "reservation")
	}
	lot, err := s.store.GetLot(ctx, res.LotID)
	if err != nil {
		return nil, storeErr(err, "parking lot")
	}
	if !canOperateLot(actor, lot) {
		return nil, apperr.ErrForbidden("not allowed to cancel this ticket")
	}
	if reason == "" {
		reason = "cancelled by staff"
	}

	var ticket *db.Ticket
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		ticket = nil
		t, err := cancelTicketTx(ctx, tx, found.ID, actorRef(actor), reason, s.now().UTC())
		ticket = t
		return err
	})
	if err != nil {
		err = storeErr(err, "cancelling ticket")
		logInternal(ctx, "cancel ticket", err)
		return nil, err
	}
	return ticket, nil
}

// Get returns a ticket and its audit trail.
func (s *TicketService) Get(ctx context.Context, actor entities.Actor, code string) (*db.Ticket, []db.TicketHistory, error) {
	t, err := s.store.GetTicketByCode(ctx, code)
	if err != nil {
		return nil, nil, storeErr(err, "ticket")
	}
	res, err := s.store.GetReservationByID(ctx, t.ReservationID)
	if err != nil {
		return nil, nil, storeErr(err, "reservation")
	}
	lot, err := s.store.GetLot(ctx, res.LotID)
	if err != nil {
		return nil, nil, storeErr(err, "parking lot")
	}
	if !canView(actor, res, lot) {
		return nil, nil, apperr.ErrForbidden("not allowed to view this ticket")
	}
	history, err := s.store.ListTicketHistory(ctx, t.ID)
	if err != nil {
		return nil, nil, storeErr(err, "ticket history")
	}
	return t, history, nil
}

// ListForLot returns the tickets of a parking lot, optionally only
// those in status.
func (s *TicketService) ListForLot(ctx context.Context, actor entities.Actor, lotID int64, status db.TicketStatus) ([]db.Ticket, error) {
	lot, err := s.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, storeErr(err, "parking lot")
	}
	if !canOperateLot(actor, lot) {
		return nil, apperr.ErrForbidden("only staff of the parking lot can list its tickets")
	}
	list, err := s.store.ListTickets(ctx, repository.TicketFilter{LotID: lot.ID, Status: status})
	if err != nil {
		return nil, storeErr(err, "tickets")
	}
	return list, nil
}

// cancelTicketTx cancels the ticket if it is still VALID.
func cancelTicketTx(ctx context.Context, tx repository.Tx, ticketID string, actor *int64, reason string, now time.Time) (*db.Ticket, error) {
	t, err := tx.LockTicket(ctx, ticketID)
	if err != nil {
		return nil, storeErr(err, "ticket")
	}
	if t.Status != db.TicketValid {
		return t, nil
	}
	t.Status = db.TicketCancelled
	if err := tx.UpdateTicket(ctx, t); err != nil {
		return nil, storeErr(err, "ticket")
	}
	return t, appendHistory(ctx, tx, t.ID, db.TicketActionCancelled, actor, reason, now)
}

// cancelReservationTicketTx cancels the ticket of a reservation, if it
// has one.
func cancelReservationTicketTx(ctx context.Context, tx repository.Tx, reservationID int64, actor *int64, reason string, now time.Time) error {
	t, err := tx.GetTicketByReservation(ctx, reservationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr(err, "ticket")
	}
	_, err = cancelTicketTx(ctx, tx, t.ID, actor, reason, now)
	return err
}

func appendHistory(ctx context.Context, tx repository.Tx, ticketID string, action db.TicketAction, actor *int64, detail string, now time.Time) error {
	err := tx.AppendTicketHistory(ctx, &db.TicketHistory{
		TicketID:  ticketID,
		Action:    action,
		ActorID:   actor,
		Detail:    detail,
		CreatedAt: now,
	})
	return storeErr(err, "ticket history")
}
