package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"parkeaya/internal/db"
	"parkeaya/internal/entities"
	apperr "parkeaya/internal/errors"
	"parkeaya/internal/service"
)

const dateLayout = "2006-01-02"

// LotHandler serves the operational views of a parking lot for its
// owner and staff.
type LotHandler struct {
	reservations *service.ReservationService
	tickets      *service.TicketService
}

func NewLotHandler(reservations *service.ReservationService, tickets *service.TicketService) *LotHandler {
	return &LotHandler{reservations: reservations, tickets: tickets}
}

// Reservations lists the reservations of a lot, filtered by the
// optional status and date (YYYY-MM-DD) query parameters.
func (h *LotHandler) Reservations(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	lotID, err := lotIDOf(r)
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	var status db.ReservationStatus
	if s := q.Get("status"); s != "" {
		if status, err = db.ParseReservationStatus(s); err != nil {
			writeError(w, apperr.ErrInvalidInput(err.Error()))
			return
		}
	}
	var day time.Time
	if d := q.Get("date"); d != "" {
		if day, err = time.Parse(dateLayout, d); err != nil {
			writeError(w, apperr.ErrInvalidInput("date must be YYYY-MM-DD"))
			return
		}
	}

	list, err := h.reservations.ListForLot(r.Context(), actor, lotID, status, day)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservationList(list))
}

// Tickets lists the tickets of a lot, optionally only those in the
// status query parameter.
func (h *LotHandler) Tickets(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	lotID, err := lotIDOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var status db.TicketStatus
	if s := r.URL.Query().Get("status"); s != "" {
		if status, err = db.ParseTicketStatus(s); err != nil {
			writeError(w, apperr.ErrInvalidInput(err.Error()))
			return
		}
	}

	list, err := h.tickets.ListForLot(r.Context(), actor, lotID, status)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]entities.TicketResponse, 0, len(list))
	for i := range list {
		out = append(out, entities.NewTicketResponse(&list[i], nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func lotIDOf(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, apperr.ErrInvalidInput("invalid parking lot id")
	}
	return id, nil
}

func reservationList(list []db.Reservation) []entities.ReservationResponse {
	out := make([]entities.ReservationResponse, 0, len(list))
	for i := range list {
		out = append(out, entities.NewReservationResponse(&list[i]))
	}
	return out
}
