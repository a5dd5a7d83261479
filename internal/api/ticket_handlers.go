package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"parkeaya/internal/entities"
	apperr "parkeaya/internal/errors"
	"parkeaya/internal/service"
)

type TicketHandler struct {
	tickets *service.TicketService
}

func NewTicketHandler(tickets *service.TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

// Validate redeems a ticket at the gate. Rejections are reported with
// the status of the failure and a ValidationResult body.
func (h *TicketHandler) Validate(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req entities.ValidateTicketRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	t, err := h.tickets.ValidateAndRedeem(r.Context(), actor, req.Ref())
	result := entities.ValidationResult{Success: err == nil, Message: "ticket validated"}
	if t != nil {
		resp := entities.NewTicketResponse(t, nil)
		result.Ticket = &resp
	}
	if err != nil {
		result.Code = string(apperr.KindOf(err))
		result.Message = apperr.MessageOf(err)
		writeJSON(w, apperr.StatusOf(err), result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	t, history, err := h.tickets.Get(r.Context(), actor, mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewTicketResponse(t, history))
}

func (h *TicketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req entities.CancelTicketRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	t, err := h.tickets.Cancel(r.Context(), actor, mux.Vars(r)["code"], req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewTicketResponse(t, nil))
}
