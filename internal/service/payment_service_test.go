package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkeaya/internal/db"
	apperr "parkeaya/internal/errors"
	"parkeaya/internal/repository"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(db.PaymentPending, db.PaymentProcessing))
	assert.True(t, CanTransition(db.PaymentProcessing, db.PaymentPaid))
	assert.True(t, CanTransition(db.PaymentPaid, db.PaymentRefunded))
	assert.True(t, CanTransition(db.PaymentFailed, db.PaymentPending))
	assert.False(t, CanTransition(db.PaymentPaid, db.PaymentFailed))
	assert.False(t, CanTransition(db.PaymentRefunded, db.PaymentPending))
	assert.False(t, CanTransition(db.PaymentCancelled, db.PaymentPaid))
}

func TestCardPayment_WebhookMarksPaidOnce(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)

	out, err := f.payments.Create(ctx, f.client, res.Code, db.PaymentCard)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentProcessing, out.Payment.Status)
	assert.Regexp(t, `^PAY-[A-Z0-9]{10}$`, out.Payment.Reference)
	assert.Equal(t, "https://checkout.test/"+out.Payment.Reference, out.CheckoutURL)
	require.Len(t, f.gateway.sessions, 1)
	assert.Equal(t, "3.00", f.gateway.sessions[0].Amount.StringFixed(2))
	assert.Equal(t, "ana@example.com", f.gateway.sessions[0].CustomerEmail)

	sessionID := out.Payment.StripeSessionID
	paid, err := f.payments.CompleteCheckout(ctx, sessionID, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, db.PaymentPaid, paid.Status)
	assert.Equal(t, "0.45", paid.PlatformFee.StringFixed(2))
	assert.Equal(t, "2.55", paid.OwnerAmount.StringFixed(2))
	assert.Equal(t, "pi_1", paid.StripePaymentIntID)

	again, err := f.payments.CompleteCheckout(ctx, sessionID, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, *paid.PaidAt, *again.PaidAt)

	tk, err := f.store.GetTicketByReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, db.TicketValid, tk.Status)

	_, err = f.payments.Create(ctx, f.client, res.Code, db.PaymentCard)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestCardPayment_GatewayFailureCanBeRetried(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)

	f.gateway.checkoutErr = errors.New("stripe down")
	_, err := f.payments.Create(ctx, f.client, res.Code, db.PaymentCard)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	failed, err := f.store.GetPaymentByReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentFailed, failed.Status)

	f.gateway.checkoutErr = nil
	out, err := f.payments.Create(ctx, f.client, res.Code, db.PaymentCard)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, out.Payment.ID)
	assert.Equal(t, db.PaymentProcessing, out.Payment.Status)
	assert.Empty(t, out.Payment.LastError)
}

func TestCardPayment_FailedWebhook(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)
	out, err := f.payments.Create(ctx, f.client, res.Code, db.PaymentCard)
	require.NoError(t, err)

	require.NoError(t, f.payments.FailCheckout(ctx, out.Payment.StripeSessionID, "", "checkout session expired"))
	p, err := f.store.GetPaymentByID(ctx, out.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentFailed, p.Status)
	assert.Equal(t, "checkout session expired", p.LastError)

	err = f.payments.FailCheckout(ctx, "", "pi_unknown", "declined")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCashPayment_TicketFirstThenConfirm(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)

	out, err := f.payments.Create(ctx, f.client, res.Code, db.PaymentCash)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentPending, out.Payment.Status)
	require.NotNil(t, out.Ticket)
	assert.Empty(t, f.gateway.sessions)

	_, err = f.payments.ConfirmManual(ctx, f.client, out.Payment.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	paid, err := f.payments.ConfirmManual(ctx, f.staff, out.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentPaid, paid.Status)

	tk, err := f.store.GetTicketByReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Ticket.ID, tk.ID)
}

func TestCreatePayment_Rejections(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)

	_, err := f.payments.Create(ctx, f.client, res.Code, db.PaymentMethod("crypto"))
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	_, err = f.payments.Create(ctx, f.other, res.Code, db.PaymentCard)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.payments.Create(ctx, f.client, "missing", db.PaymentCard)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	out, err := f.payments.Create(ctx, f.client, res.Code, db.PaymentCard)
	require.NoError(t, err)
	_, err = f.payments.ConfirmManual(ctx, f.staff, out.Payment.ID)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestCancelledReservation_RefundsCardPayment(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	f.bus.Subscribe(f.payments.HandleEvent)
	var refunded []int64
	f.bus.Subscribe(func(_ context.Context, e Event) {
		if ev, ok := e.(PaymentRefunded); ok {
			refunded = append(refunded, ev.Payment.ID)
		}
	})
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)
	out, err := f.payments.Create(ctx, f.client, res.Code, db.PaymentCard)
	require.NoError(t, err)
	_, err = f.payments.CompleteCheckout(ctx, out.Payment.StripeSessionID, "pi_9")
	require.NoError(t, err)

	_, err = f.reservations.Cancel(ctx, f.client, res.Code)
	require.NoError(t, err)
	f.bus.Wait()

	p, err := f.store.GetPaymentByID(ctx, out.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentRefunded, p.Status)
	assert.NotNil(t, p.RefundedAt)
	assert.Equal(t, []int64{p.ID}, f.gateway.refunds)
	assert.Equal(t, []int64{p.ID}, refunded)

	// The gateway later confirms the refund it already knows about.
	require.NoError(t, f.payments.MarkRefunded(ctx, "pi_9"))
}

func TestCancelledReservation_PendingPaymentIsCancelled(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	f.bus.Subscribe(f.payments.HandleEvent)
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)
	out, err := f.payments.Create(ctx, f.client, res.Code, db.PaymentCard)
	require.NoError(t, err)

	_, err = f.reservations.Cancel(ctx, f.client, res.Code)
	require.NoError(t, err)
	f.bus.Wait()

	p, err := f.store.GetPaymentByID(ctx, out.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentCancelled, p.Status)
	assert.Empty(t, f.gateway.refunds)
}

func TestCheckoutCompletedAfterCancel_IsRefunded(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	f.bus.Subscribe(f.payments.HandleEvent)
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)
	out, err := f.payments.Create(ctx, f.client, res.Code, db.PaymentCard)
	require.NoError(t, err)

	_, err = f.reservations.Cancel(ctx, f.client, res.Code)
	require.NoError(t, err)
	f.bus.Wait()
	p, err := f.store.GetPaymentByID(ctx, out.Payment.ID)
	require.NoError(t, err)
	require.Equal(t, db.PaymentCancelled, p.Status)

	// The customer finished the hosted checkout anyway.
	late, err := f.payments.CompleteCheckout(ctx, out.Payment.StripeSessionID, "pi_late")
	require.NoError(t, err)
	assert.Equal(t, db.PaymentRefunded, late.Status)
	assert.Equal(t, "pi_late", late.StripePaymentIntID)
	assert.NotNil(t, late.RefundedAt)
	assert.Equal(t, []int64{p.ID}, f.gateway.refunds)

	_, err = f.store.GetTicketByReservation(ctx, res.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	again, err := f.payments.CompleteCheckout(ctx, out.Payment.StripeSessionID, "pi_late")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Nil(t, again)
	assert.Len(t, f.gateway.refunds, 1)

	// Staff cannot collect a cancelled payment.
	cash := f.reserve(t, t0.Add(3*time.Hour), 60)
	cashOut, err := f.payments.Create(ctx, f.client, cash.Code, db.PaymentCash)
	require.NoError(t, err)
	_, err = f.reservations.Cancel(ctx, f.client, cash.Code)
	require.NoError(t, err)
	f.bus.Wait()
	_, err = f.payments.ConfirmManual(ctx, f.staff, cashOut.Payment.ID)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestRefundFailure_DoesNotUndoCancel(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	f.bus.Subscribe(f.payments.HandleEvent)
	f.gateway.refundErr = errors.New("refund rejected")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)
	out, err := f.payments.Create(ctx, f.client, res.Code, db.PaymentCard)
	require.NoError(t, err)
	_, err = f.payments.CompleteCheckout(ctx, out.Payment.StripeSessionID, "pi_2")
	require.NoError(t, err)

	_, err = f.reservations.Cancel(ctx, f.client, res.Code)
	require.NoError(t, err)
	f.bus.Wait()

	assert.Equal(t, db.ReservationCancelled, f.reservation(t, res.Code).Status)
	p, err := f.store.GetPaymentByID(ctx, out.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentPaid, p.Status)
}
