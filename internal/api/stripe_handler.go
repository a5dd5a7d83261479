package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	apperr "parkeaya/internal/errors"
	"parkeaya/internal/log"
	"parkeaya/internal/service"
)

type StripeWebhookHandler struct {
	secret   string
	payments *service.PaymentService
}

func NewStripeWebhookHandler(secret string, payments *service.PaymentService) *StripeWebhookHandler {
	return &StripeWebhookHandler{secret: secret, payments: payments}
}

func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodyBytes = int64(65536)
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn(ctx, "reading webhook body", log.Err(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.secret)
	if err != nil {
		log.Warn(ctx, "webhook signature verification failed", log.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil || sess.ID == "" {
			log.Warn(ctx, "malformed checkout.session payload", log.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		intentID := ""
		if sess.PaymentIntent != nil {
			intentID = sess.PaymentIntent.ID
		}
		_, err = h.payments.CompleteCheckout(ctx, sess.ID, intentID)

	case "checkout.session.expired":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil || sess.ID == "" {
			log.Warn(ctx, "malformed checkout.session payload", log.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		err = h.payments.FailCheckout(ctx, sess.ID, "", "checkout session expired")

	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil || intent.ID == "" {
			log.Warn(ctx, "malformed payment_intent payload", log.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reason := "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			reason = intent.LastPaymentError.Msg
		}
		err = h.payments.FailCheckout(ctx, "", intent.ID, reason)

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			log.Warn(ctx, "malformed charge payload", log.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
			err = h.payments.MarkRefunded(ctx, charge.PaymentIntent.ID)
		}

	default:
		log.Debug(ctx, "unhandled webhook event", log.Str("type", string(event.Type)))
	}

	// Only unexpected failures are retried by Stripe. Unknown payments and
	// stale transitions are acknowledged.
	if err != nil {
		if apperr.Is(err, apperr.KindInternal) {
			log.Error(ctx, "processing webhook", log.Str("type", string(event.Type)), log.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		log.Info(ctx, "webhook ignored", log.Str("type", string(event.Type)), log.Str("reason", apperr.MessageOf(err)))
	}
	w.WriteHeader(http.StatusOK)
}
