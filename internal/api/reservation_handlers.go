package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"parkeaya/internal/entities"
	"parkeaya/internal/service"
)

type ReservationHandler struct {
	reservations *service.ReservationService
	tickets      *service.TicketService
}

func NewReservationHandler(reservations *service.ReservationService, tickets *service.TicketService) *ReservationHandler {
	return &ReservationHandler{reservations: reservations, tickets: tickets}
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req entities.CreateReservationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.reservations.Create(r.Context(), actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entities.NewReservationResponse(res))
}

// ListMine returns the caller's active reservations that have not ended.
func (h *ReservationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.reservations.ListMine(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservationList(list))
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.reservations.Get(r.Context(), actor, mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewReservationResponse(res))
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.reservations.Cancel(r.Context(), actor, mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewReservationResponse(res))
}

func (h *ReservationHandler) Extend(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req entities.ExtendReservationRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.reservations.Extend(r.Context(), actor, mux.Vars(r)["code"], req.ExtraMinutes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewReservationResponse(res))
}

func (h *ReservationHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.reservations.CheckIn(r.Context(), actor, mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewReservationResponse(res))
}

func (h *ReservationHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.reservations.CheckOut(r.Context(), actor, mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.CheckoutResponse{
		FinalCost:      out.FinalCost.StringFixed(2),
		ElapsedMinutes: out.ElapsedMinutes,
		Reservation:    entities.NewReservationResponse(out.Reservation),
	})
}

// IssueTicket returns the ticket of the reservation, creating it when
// missing.
func (h *ReservationHandler) IssueTicket(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := h.tickets.Issue(r.Context(), actor, mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewTicketResponse(t, nil))
}
