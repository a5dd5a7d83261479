package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parkeaya/internal/auth"
	"parkeaya/internal/log"
	"parkeaya/internal/service"
)

// Deps are the services the router exposes.
type Deps struct {
	Reservations  *service.ReservationService
	Tickets       *service.TicketService
	Payments      *service.PaymentService
	Auth          *service.AuthService
	Tokens        *auth.Tokens
	WebhookSecret string
	// Ping checks the backing store for /healthz. It may be nil.
	Ping func(context.Context) error
}

func NewRouter(d Deps) *mux.Router {
	reservations := NewReservationHandler(d.Reservations, d.Tickets)
	tickets := NewTicketHandler(d.Tickets)
	payments := NewPaymentHandler(d.Payments)
	lots := NewLotHandler(d.Reservations, d.Tickets)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", health(d.Ping)).Methods(http.MethodGet)

	// Public endpoints
	public := r.PathPrefix("/api").Subrouter()
	public.HandleFunc("/auth/login", NewAuthHandler(d.Auth).Login).Methods(http.MethodPost)
	public.HandleFunc("/stripe/webhook", NewStripeWebhookHandler(d.WebhookSecret, d.Payments).HandleWebhook).Methods(http.MethodPost)

	// Authenticated endpoints
	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware(d.Tokens))
	api.HandleFunc("/reservations", reservations.Create).Methods(http.MethodPost)
	api.HandleFunc("/reservations", reservations.ListMine).Methods(http.MethodGet)
	api.HandleFunc("/reservations/{code}", reservations.Get).Methods(http.MethodGet)
	api.HandleFunc("/reservations/{code}/cancel", reservations.Cancel).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{code}/extend", reservations.Extend).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{code}/checkin", reservations.CheckIn).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{code}/checkout", reservations.CheckOut).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{code}/ticket", reservations.IssueTicket).Methods(http.MethodPost)
	api.HandleFunc("/reservations/{code}/payments", payments.Create).Methods(http.MethodPost)
	api.HandleFunc("/payments/{id:[0-9]+}/confirm", payments.Confirm).Methods(http.MethodPost)
	api.HandleFunc("/tickets/validate", tickets.Validate).Methods(http.MethodPost)
	api.HandleFunc("/tickets/{code}", tickets.Get).Methods(http.MethodGet)
	api.HandleFunc("/tickets/{code}/cancel", tickets.Cancel).Methods(http.MethodPost)
	api.HandleFunc("/lots/{id:[0-9]+}/reservations", lots.Reservations).Methods(http.MethodGet)
	api.HandleFunc("/lots/{id:[0-9]+}/tickets", lots.Tickets).Methods(http.MethodGet)

	return r
}

func health(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				log.Error(r.Context(), "health check failed", log.Err(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
