package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"parkeaya/internal/config"
	"parkeaya/internal/log"
)

// ProviderNotifier sends email through SendGrid and SMS through Twilio.
// A channel without credentials is skipped.
type ProviderNotifier struct {
	sendgrid  *sendgrid.Client
	fromEmail string
	fromName  string

	twilio     *twilio.RestClient
	fromNumber string
}

func NewProviderNotifier(cfg *config.Config) *ProviderNotifier {
	n := &ProviderNotifier{
		fromEmail:  cfg.SendGridFromEmail,
		fromName:   cfg.SendGridFromName,
		fromNumber: cfg.TwilioFromNumber,
	}
	if cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail != "" {
		n.sendgrid = sendgrid.NewSendClient(cfg.SendGridAPIKey)
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		n.twilio = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username:   cfg.TwilioAccountSID,
			Password:   cfg.TwilioAuthToken,
			AccountSid: cfg.TwilioAccountSID,
		})
	}
	return n
}

var errChannelDisabled = errors.New("channel not configured")

func (n *ProviderNotifier) SendEmail(ctx context.Context, toEmail, toName, subject, plainText, html string) error {
	if n.sendgrid == nil {
		return fmt.Errorf("email: %w", errChannelDisabled)
	}
	from := mail.NewEmail(n.fromName, n.fromEmail)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, html)

	response, err := n.sendgrid.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sending email through sendgrid: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}
	log.Debug(ctx, "email sent", log.Str("to", toEmail), log.Str("subject", subject))
	return nil
}

func (n *ProviderNotifier) SendSMS(ctx context.Context, toNumber, body string) error {
	if n.twilio == nil {
		return fmt.Errorf("sms: %w", errChannelDisabled)
	}
	if !strings.HasPrefix(toNumber, "+") {
		return fmt.Errorf("phone number %q is not in E.164 format", toNumber)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(toNumber)
	params.SetFrom(n.fromNumber)
	params.SetBody(body)

	resp, err := n.twilio.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("sending sms through twilio: %w", err)
	}
	if resp != nil && resp.Sid != nil {
		log.Debug(ctx, "sms sent", log.Str("to", toNumber), log.Str("sid", *resp.Sid))
	}
	return nil
}
