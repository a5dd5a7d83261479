package service

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"time"

	"parkeaya/internal/db"
	"parkeaya/internal/entities"
	"parkeaya/internal/log"
	"parkeaya/internal/monitoring"
	"parkeaya/internal/repository"
)

//go:embed templates/reservation_email.html
var templatesFS embed.FS

var emailTemplate = template.Must(template.ParseFS(templatesFS, "templates/reservation_email.html"))

const timeLayout = "02 Jan 2006 15:04 MST"

// SenderService turns domain events into receipts, tickets and owner
// notices. Delivery failures are logged and never reach the caller of
// the operation that emitted the event.
type SenderService struct {
	store    repository.Reader
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
}

func NewSenderService(store repository.Reader, notifier Notifier, loc *time.Location) *SenderService {
	if loc == nil {
		loc = time.UTC
	}
	return &SenderService{store: store, notifier: notifier, loc: loc, now: time.Now}
}

func (s *SenderService) HandleEvent(ctx context.Context, e Event) {
	switch ev := e.(type) {
	case TicketIssued:
		s.SendTicket(ctx, ev.Ticket.ID)
	case PaymentReceived:
		s.SendReceipt(ctx, ev.Payment.ID)
	case ReservationCreated:
		s.NotifyOwner(ctx, "created", ev.Reservation.ID)
	case ReservationCancelled:
		s.NotifyOwner(ctx, "cancelled", ev.Reservation.ID)
	case ReservationExpired:
		s.NotifyOwner(ctx, "expired without use", ev.Reservation.ID)
	}
}

// details gathers what every message about a reservation shows.
type details struct {
	reservation *db.Reservation
	user        *db.User
	lot         *db.ParkingLot
	vehicle     *db.Vehicle
}

func (s *SenderService) load(ctx context.Context, reservationID int64) (*details, error) {
	res, err := s.store.GetReservationByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, res.UserID)
	if err != nil {
		return nil, err
	}
	lot, err := s.store.GetLot(ctx, res.LotID)
	if err != nil {
		return nil, err
	}
	vehicle, err := s.store.GetVehicle(ctx, res.VehicleID)
	if err != nil {
		return nil, err
	}
	return &details{reservation: res, user: user, lot: lot, vehicle: vehicle}, nil
}

func (s *SenderService) emailData(d *details) entities.ReservationEmailData {
	return entities.ReservationEmailData{
		UserName:           d.user.Name,
		ReservationCode:    d.reservation.Code,
		LotName:            d.lot.Name,
		VehiclePlate:       d.vehicle.Plate,
		StartTimeFormatted: d.reservation.EntryTime.In(s.loc).Format(timeLayout),
		EndTimeFormatted:   d.reservation.ExitTime.In(s.loc).Format(timeLayout),
		CurrentYear:        s.now().In(s.loc).Year(),
	}
}

// SendTicket emails the ticket to the holder and texts the code.
func (s *SenderService) SendTicket(ctx context.Context, ticketID string) {
	t, err := s.store.GetTicketByID(ctx, ticketID)
	if err != nil {
		log.Error(ctx, "loading ticket for notification", log.TicketID(ticketID), log.Err(err))
		return
	}
	d, err := s.load(ctx, t.ReservationID)
	if err != nil {
		log.Error(ctx, "loading reservation for notification", log.TicketID(ticketID), log.Err(err))
		return
	}

	data := s.emailData(d)
	data.Title = "Your parking ticket"
	data.Intro = "Show this ticket at the entrance of the parking lot."
	data.TicketCode = t.Code
	subject := fmt.Sprintf("Parking ticket %s - %s", t.Code, d.lot.Name)
	plain := fmt.Sprintf("Hello %s,\n\nYour ticket for %s is %s.\nEntry: %s\nValid from %s until %s.\n",
		data.UserName, d.lot.Name, t.Code, data.StartTimeFormatted,
		t.ValidFrom.In(s.loc).Format(timeLayout), t.ValidUntil.In(s.loc).Format(timeLayout))
	s.email(ctx, d.user, subject, plain, data)

	if d.user.Phone != "" {
		sms := fmt.Sprintf("Parkeaya: ticket %s for %s, entry %s.", t.Code, d.lot.Name,
			d.reservation.EntryTime.In(s.loc).Format("02/01 15:04"))
		if err := s.notifier.SendSMS(ctx, d.user.Phone, sms); err != nil {
			monitoring.TrackNotificationFailure("sms")
			log.Warn(ctx, "ticket sms failed", log.TicketID(ticketID), log.Err(err))
		}
	}
}

// SendReceipt emails the payment receipt to the payer.
func (s *SenderService) SendReceipt(ctx context.Context, paymentID int64) {
	p, err := s.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		log.Error(ctx, "loading payment for receipt", log.PaymentID(paymentID), log.Err(err))
		return
	}
	d, err := s.load(ctx, p.ReservationID)
	if err != nil {
		log.Error(ctx, "loading reservation for receipt", log.PaymentID(paymentID), log.Err(err))
		return
	}

	data := s.emailData(d)
	data.Title = "Payment received"
	data.Intro = "We received your payment. Thank you."
	data.Amount = fmt.Sprintf("%s %s", p.Amount.StringFixed(2), p.Currency)
	subject := fmt.Sprintf("Receipt %s - %s", p.Reference, d.lot.Name)
	plain := fmt.Sprintf("Hello %s,\n\nWe received %s for reservation %s (reference %s).\n",
		data.UserName, data.Amount, d.reservation.Code, p.Reference)
	s.email(ctx, d.user, subject, plain, data)
}

// NotifyOwner tells the lot owner about a reservation event.
func (s *SenderService) NotifyOwner(ctx context.Context, event string, reservationID int64) {
	d, err := s.load(ctx, reservationID)
	if err != nil {
		log.Error(ctx, "loading reservation for owner notice", log.Err(err))
		return
	}
	owner, err := s.store.GetUser(ctx, d.lot.OwnerID)
	if err != nil {
		log.Error(ctx, "loading lot owner", log.LotID(d.lot.ID), log.Err(err))
		return
	}

	data := s.emailData(d)
	data.UserName = owner.Name
	data.Title = "Reservation " + event
	data.Intro = fmt.Sprintf("A reservation at %s was %s.", d.lot.Name, event)
	subject := fmt.Sprintf("Reservation %s at %s", event, d.lot.Name)
	plain := fmt.Sprintf("Hello %s,\n\nReservation %s for vehicle %s at %s was %s.\nEntry: %s\n",
		owner.Name, d.reservation.Code, d.vehicle.Plate, d.lot.Name, event, data.StartTimeFormatted)
	s.email(ctx, owner, subject, plain, data)
}

func (s *SenderService) email(ctx context.Context, to *db.User, subject, plain string, data entities.ReservationEmailData) {
	var html bytes.Buffer
	if err := emailTemplate.Execute(&html, data); err != nil {
		log.Warn(ctx, "rendering email template", log.Code(data.ReservationCode), log.Err(err))
		html.Reset()
	}
	if err := s.notifier.SendEmail(ctx, to.Email, to.Name, subject, plain, html.String()); err != nil {
		monitoring.TrackNotificationFailure("email")
		log.Warn(ctx, "email failed", log.Code(data.ReservationCode), log.Str("to", to.Email), log.Err(err))
	}
}
