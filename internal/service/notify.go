package service

import (
	"context"

	"parkeaya/internal/log"
)

// Notifier delivers email and SMS messages.
type Notifier interface {
	SendEmail(ctx context.Context, toEmail, toName, subject, plainText, html string) error
	SendSMS(ctx context.Context, toNumber, body string) error
}

// LogNotifier only logs the messages. It is used when no provider is
// configured.
type LogNotifier struct{}

func (LogNotifier) SendEmail(ctx context.Context, toEmail, _, subject, _, _ string) error {
	log.Info(ctx, "email not sent, no provider configured", log.Str("to", toEmail), log.Str("subject", subject))
	return nil
}

func (LogNotifier) SendSMS(ctx context.Context, toNumber, _ string) error {
	log.Info(ctx, "sms not sent, no provider configured", log.Str("to", toNumber))
	return nil
}
