package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"parkeaya/internal/db"
	"parkeaya/internal/entities"
	apperr "parkeaya/internal/errors"
	"parkeaya/internal/service"
)

type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req entities.CreatePaymentRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.payments.Create(r.Context(), actor, mux.Vars(r)["code"], db.PaymentMethod(req.Method))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := entities.NewPaymentResponse(out.Payment)
	resp.CheckoutURL = out.CheckoutURL
	if out.Ticket != nil {
		resp.TicketCode = out.Ticket.Code
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor, err := actorOf(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, apperr.ErrInvalidInput("invalid payment id"))
		return
	}

	p, err := h.payments.ConfirmManual(r.Context(), actor, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities.NewPaymentResponse(p))
}
