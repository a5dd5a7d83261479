package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"parkeaya/internal/db"
	"parkeaya/internal/entities"
	apperr "parkeaya/internal/errors"
	"parkeaya/internal/log"
	"parkeaya/internal/repository"
	"parkeaya/internal/utils"
)

// PlatformFeeRate is the share of every paid amount kept by the
// platform. The rest belongs to the lot owner.
var PlatformFeeRate = decimal.RequireFromString("0.15")

var paymentTransitions = map[db.PaymentStatus][]db.PaymentStatus{
	db.PaymentPending:    {db.PaymentProcessing, db.PaymentPaid, db.PaymentFailed, db.PaymentCancelled},
	db.PaymentProcessing: {db.PaymentPaid, db.PaymentFailed, db.PaymentCancelled},
	db.PaymentFailed:     {db.PaymentPending},
	db.PaymentCancelled:  {db.PaymentPending},
	db.PaymentPaid:       {db.PaymentRefunded},
	db.PaymentRefunded:   nil,
}

// CanTransition reports whether a payment may move from one status to
// another.
func CanTransition(from, to db.PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type PaymentService struct {
	store    repository.Store
	gateway  PaymentGateway
	tickets  *TicketService
	bus      *Bus
	currency string
	now      func() time.Time
	newRef   func() (string, error)
}

func NewPaymentService(store repository.Store, gateway PaymentGateway, tickets *TicketService, bus *Bus, currency string) *PaymentService {
	return &PaymentService{
		store:    store,
		gateway:  gateway,
		tickets:  tickets,
		bus:      bus,
		currency: currency,
		now:      time.Now,
		newRef:   utils.NewPaymentReference,
	}
}

// PaymentResult is returned by Create. Card payments carry the hosted
// checkout URL, cash payments carry the ticket issued right away.
type PaymentResult struct {
	Payment     *db.Payment
	CheckoutURL string
	Ticket      *db.Ticket
}

// Create starts the payment of a reservation.
func (s *PaymentService) Create(ctx context.Context, actor entities.Actor, code string, method db.PaymentMethod) (*PaymentResult, error) {
	if method != db.PaymentCard && method != db.PaymentCash {
		return nil, apperr.ErrInvalidInput(fmt.Sprintf("unknown payment method %q", method))
	}
	res, err := s.store.GetReservationByCode(ctx, code)
	if err != nil {
		return nil, storeErr(err, "reservation")
	}
	lot, err := s.store.GetLot(ctx, res.LotID)
	if err != nil {
		return nil, storeErr(err, "parking lot")
	}
	if !canView(actor, res, lot) {
		return nil, apperr.ErrForbidden("not allowed to pay this reservation")
	}

	ref, err := s.newRef()
	if err != nil {
		return nil, apperr.Internal("generating payment reference", err)
	}

	var payment *db.Payment
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		payment = nil
		cur, err := tx.LockReservation(ctx, res.ID)
		if err != nil {
			return storeErr(err, "reservation")
		}
		if cur.Status != db.ReservationActive {
			return apperr.ErrInvalidState(fmt.Sprintf("reservation is %s", cur.Status))
		}

		now := s.now().UTC()
		existing, err := tx.GetPaymentByReservation(ctx, cur.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			p := &db.Payment{
				Reference:     ref,
				ReservationID: cur.ID,
				UserID:        cur.UserID,
				Amount:        cur.EstimatedCost,
				Currency:      s.currency,
				Method:        method,
				Status:        db.PaymentPending,
				CreatedAt:     now,
			}
			if err := tx.InsertPayment(ctx, p); err != nil {
				return storeErr(err, "payment")
			}
			payment = p
			return nil
		case err != nil:
			return storeErr(err, "payment")
		}

		// A failed or cancelled attempt is restarted on the same row.
		if !CanTransition(existing.Status, db.PaymentPending) {
			return apperr.ErrConflict(fmt.Sprintf("reservation already has a %s payment", existing.Status))
		}
		p, err := tx.LockPayment(ctx, existing.ID)
		if err != nil {
			return storeErr(err, "payment")
		}
		p.Amount = cur.EstimatedCost
		p.Method = method
		p.Status = db.PaymentPending
		p.StripeSessionID = ""
		p.StripePaymentIntID = ""
		p.LastError = ""
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return storeErr(err, "payment")
		}
		payment = p
		return nil
	})
	if err != nil {
		logInternal(ctx, "create payment", err)
		return nil, err
	}

	if method == db.PaymentCash {
		ticket, err := s.tickets.IssueForReservation(ctx, res.ID)
		if err != nil {
			return nil, err
		}
		log.Info(ctx, "cash payment registered", log.PaymentID(payment.ID), log.Code(res.Code))
		return &PaymentResult{Payment: payment, Ticket: ticket}, nil
	}
	return s.startCheckout(ctx, res, payment)
}

// startCheckout opens the hosted checkout. The gateway is called with
// no lock held.
func (s *PaymentService) startCheckout(ctx context.Context, res *db.Reservation, payment *db.Payment) (*PaymentResult, error) {
	var email string
	if user, err := s.store.GetUser(ctx, res.UserID); err == nil {
		email = user.Email
	}
	url, sessionID, gwErr := s.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		Reference:       payment.Reference,
		ReservationCode: res.Code,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Description:     "Parking reservation " + res.Code,
		CustomerEmail:   email,
	})

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := tx.LockPayment(ctx, payment.ID)
		if err != nil {
			return storeErr(err, "payment")
		}
		if gwErr != nil {
			if !CanTransition(p.Status, db.PaymentFailed) {
				return nil
			}
			p.Status = db.PaymentFailed
			p.LastError = gwErr.Error()
		} else {
			if !CanTransition(p.Status, db.PaymentProcessing) {
				return apperr.ErrInvalidState(fmt.Sprintf("payment is %s", p.Status))
			}
			p.Status = db.PaymentProcessing
			p.StripeSessionID = sessionID
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return storeErr(err, "payment")
		}
		*payment = *p
		return nil
	})
	if gwErr != nil {
		log.Error(ctx, "checkout session failed", log.PaymentID(payment.ID), log.Err(gwErr))
		return nil, apperr.Internal("payment gateway unavailable", gwErr)
	}
	if err != nil {
		logInternal(ctx, "start checkout", err)
		return nil, err
	}
	return &PaymentResult{Payment: payment, CheckoutURL: url}, nil
}

// CompleteCheckout marks the payment of a checkout session as PAID and
// issues the ticket. Repeated deliveries are no-ops.
func (s *PaymentService) CompleteCheckout(ctx context.Context, sessionID, intentID string) (*db.Payment, error) {
	found, err := s.store.GetPaymentBySessionID(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err, "payment")
	}
	return s.markPaid(ctx, found.ID, intentID, nil)
}

// ConfirmManual records that staff collected a cash payment.
func (s *PaymentService) ConfirmManual(ctx context.Context, actor entities.Actor, paymentID int64) (*db.Payment, error) {
	found, err := s.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, storeErr(err, "payment")
	}
	if found.Method != db.PaymentCash {
		return nil, apperr.ErrInvalidInput("only cash payments are confirmed manually")
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
		return nil, apperr.ErrForbidden("only staff of the parking lot can confirm cash payments")
	}
	return s.markPaid(ctx, found.ID, "", &actor)
}

func (s *PaymentService) markPaid(ctx context.Context, paymentID int64, intentID string, actor *entities.Actor) (*db.Payment, error) {
	var (
		payment *db.Payment
		changed bool
		late    bool
	)
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		payment, changed, late = nil, false, false
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return storeErr(err, "payment")
		}
		payment = p
		if p.Status == db.PaymentPaid {
			return nil
		}
		// The gateway may capture a checkout after its reservation
		// ended and the payment was cancelled. The money was taken, so
		// record it and refund it below.
		late = p.Status == db.PaymentCancelled && actor == nil
		if !late && !CanTransition(p.Status, db.PaymentPaid) {
			return apperr.ErrInvalidState(fmt.Sprintf("payment is %s", p.Status))
		}
		now := s.now().UTC()
		p.Status = db.PaymentPaid
		p.PaidAt = &now
		if intentID != "" {
			p.StripePaymentIntID = intentID
		}
		p.PlatformFee = p.Amount.Mul(PlatformFeeRate).Round(2)
		p.OwnerAmount = p.Amount.Sub(p.PlatformFee)
		p.LastError = ""
		changed = true
		return storeErr(tx.UpdatePayment(ctx, p), "payment")
	})
	if err != nil {
		logInternal(ctx, "mark payment paid", err)
		return nil, err
	}
	if !changed {
		return payment, nil
	}

	attrs := []slog.Attr{log.PaymentID(payment.ID), log.Str("amount", payment.Amount.StringFixed(2))}
	if actor != nil {
		attrs = append(attrs, log.Actor(actor.UserID))
	}
	log.Info(ctx, "payment received", attrs...)
	s.bus.Publish(ctx, PaymentReceived{Payment: *payment})

	if late {
		res, err := s.store.GetReservationByID(ctx, payment.ReservationID)
		if err != nil {
			log.Error(ctx, "loading reservation of late payment", log.PaymentID(payment.ID), log.Err(err))
			return payment, nil
		}
		if res.Status.Terminal() {
			log.Warn(ctx, "payment captured after the reservation ended", log.PaymentID(payment.ID), log.Code(res.Code))
			return s.refund(ctx, payment), nil
		}
	}

	if _, err := s.tickets.IssueForReservation(ctx, payment.ReservationID); err != nil {
		// The payment stands; the ticket can be issued again on demand.
		log.Error(ctx, "issuing ticket after payment failed", log.PaymentID(payment.ID), log.Err(err))
	}
	return payment, nil
}

// FailCheckout marks the payment of a session, or failing that of a
// payment intent, as FAILED.
func (s *PaymentService) FailCheckout(ctx context.Context, sessionID, intentID, reason string) error {
	var (
		found *db.Payment
		err   error
	)
	if sessionID != "" {
		found, err = s.store.GetPaymentBySessionID(ctx, sessionID)
	} else {
		found, err = s.store.GetPaymentByIntentID(ctx, intentID)
	}
	if err != nil {
		return storeErr(err, "payment")
	}
	_, err = s.transition(ctx, found.ID, db.PaymentFailed, func(p *db.Payment) {
		p.LastError = reason
		if intentID != "" {
			p.StripePaymentIntID = intentID
		}
	})
	return err
}

// MarkRefunded records a refund reported by the gateway.
func (s *PaymentService) MarkRefunded(ctx context.Context, intentID string) error {
	found, err := s.store.GetPaymentByIntentID(ctx, intentID)
	if err != nil {
		return storeErr(err, "payment")
	}
	return s.refunded(ctx, found.ID)
}

func (s *PaymentService) refunded(ctx context.Context, paymentID int64) error {
	changed, err := s.transition(ctx, paymentID, db.PaymentRefunded, func(p *db.Payment) {
		now := s.now().UTC()
		p.RefundedAt = &now
	})
	if err != nil || changed == nil {
		return err
	}
	log.Info(ctx, "payment refunded", log.PaymentID(changed.ID))
	s.bus.Publish(ctx, PaymentRefunded{Payment: *changed})
	return nil
}

// transition moves a payment to status and applies mutate. It returns
// the updated payment, or nil when it was already in status.
func (s *PaymentService) transition(ctx context.Context, paymentID int64, status db.PaymentStatus, mutate func(p *db.Payment)) (*db.Payment, error) {
	var changed *db.Payment
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		changed = nil
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return storeErr(err, "payment")
		}
		if p.Status == status {
			return nil
		}
		if !CanTransition(p.Status, status) {
			return apperr.ErrInvalidState(fmt.Sprintf("payment cannot go from %s to %s", p.Status, status))
		}
		p.Status = status
		if mutate != nil {
			mutate(p)
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return storeErr(err, "payment")
		}
		changed = p
		return nil
	})
	if err != nil {
		logInternal(ctx, "payment transition", err)
		return nil, err
	}
	return changed, nil
}

// HandleEvent settles the payment of reservations that end before they
// are used. Cancelled reservations are refunded, unused ones keep
// their paid amount.
func (s *PaymentService) HandleEvent(ctx context.Context, e Event) {
	switch ev := e.(type) {
	case ReservationCancelled:
		s.settle(ctx, ev.Reservation.ID, true)
	case ReservationExpired:
		s.settle(ctx, ev.Reservation.ID, false)
	}
}

func (s *PaymentService) settle(ctx context.Context, reservationID int64, refundPaid bool) {
	p, err := s.store.GetPaymentByReservation(ctx, reservationID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		log.Error(ctx, "loading payment of ended reservation", log.Err(err))
		return
	}

	switch p.Status {
	case db.PaymentPending, db.PaymentProcessing:
		if _, err := s.transition(ctx, p.ID, db.PaymentCancelled, nil); err != nil {
			log.Error(ctx, "cancelling payment failed", log.PaymentID(p.ID), log.Err(err))
		}
	case db.PaymentPaid:
		if refundPaid {
			s.refund(ctx, p)
		}
	}
}

// refund returns a paid amount through the gateway and records it. It
// returns the payment as last seen; failures are logged.
func (s *PaymentService) refund(ctx context.Context, p *db.Payment) *db.Payment {
	if p.Method != db.PaymentCard {
		log.Warn(ctx, "cash payment needs a manual refund", log.PaymentID(p.ID))
		return p
	}
	if err := s.gateway.Refund(ctx, p); err != nil {
		log.Error(ctx, "refund failed", log.PaymentID(p.ID), log.Err(err))
		return p
	}
	if err := s.refunded(ctx, p.ID); err != nil {
		log.Error(ctx, "recording refund failed", log.PaymentID(p.ID), log.Err(err))
		return p
	}
	if cur, err := s.store.GetPaymentByID(ctx, p.ID); err == nil {
		return cur
	}
	return p
}
