package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/refund"

	"parkeaya/internal/config"
	"parkeaya/internal/db"
)

// PaymentGateway is the card processor used for checkout and refunds.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (url, sessionID string, err error)
	Refund(ctx context.Context, p *db.Payment) error
}

type CheckoutRequest struct {
	Reference       string
	ReservationCode string
	Amount          decimal.Decimal
	Currency        string
	Description     string
	CustomerEmail   string
}

// StripeService talks to Stripe with the key set on stripe.Key.
type StripeService struct {
	successURL string
	cancelURL  string
}

func NewStripeService(cfg *config.Config) *StripeService {
	return &StripeService{
		successURL: cfg.CheckoutSuccessURL,
		cancelURL:  cfg.CheckoutCancelURL,
	}
}

// MinorUnits converts an amount to the integer cents Stripe expects.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (s *StripeService) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, string, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
					UnitAmount: stripe.Int64(MinorUnits(req.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(req.Reference),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.AddMetadata("payment_reference", req.Reference)
	params.AddMetadata("reservation_code", req.ReservationCode)

	sess, err := session.New(params)
	if err != nil {
		return "", "", fmt.Errorf("creating checkout session: %w", err)
	}
	return sess.URL, sess.ID, nil
}

// Refund refunds the payment intent of p, looking it up through the
// checkout session when the webhook has not reported it yet.
func (s *StripeService) Refund(ctx context.Context, p *db.Payment) error {
	intentID := p.StripePaymentIntID
	if intentID == "" {
		if p.StripeSessionID == "" {
			return fmt.Errorf("payment %s has no stripe session", p.Reference)
		}
		getParams := &stripe.CheckoutSessionParams{}
		getParams.Context = ctx
		sess, err := session.Get(p.StripeSessionID, getParams)
		if err != nil {
			return fmt.Errorf("reading checkout session %s: %w", p.StripeSessionID, err)
		}
		if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
			return fmt.Errorf("no payment intent found for session %s", p.StripeSessionID)
		}
		intentID = sess.PaymentIntent.ID
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	params.Context = ctx
	if _, err := refund.New(params); err != nil {
		return fmt.Errorf("refunding payment intent %s: %w", intentID, err)
	}
	return nil
}
