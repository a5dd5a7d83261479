package log

import (
	"log/slog"
	"time"
)

// Err returns an Attr for the given error value.
// A nil error is logged as "no-error".
func Err(value error) slog.Attr {
	if value == nil {
		return slog.String("error", "no-error")
	}
	return slog.String("error", value.Error())
}

// Code returns an Attr carrying a reservation code.
func Code(code string) slog.Attr {
	return slog.String("reservation_code", code)
}

// LotID returns an Attr carrying a parking lot id.
func LotID(id int64) slog.Attr {
	return slog.Int64("lot_id", id)
}

// TicketID returns an Attr carrying a ticket id.
func TicketID(id string) slog.Attr {
	return slog.String("ticket_id", id)
}

// PaymentID returns an Attr carrying a payment id.
func PaymentID(id int64) slog.Attr {
	return slog.Int64("payment_id", id)
}

// Actor returns an Attr carrying the acting user id.
func Actor(userID int64) slog.Attr {
	return slog.Int64("actor_id", userID)
}

// Job returns an Attr naming a background job.
func Job(name string) slog.Attr {
	return slog.String("job", name)
}

// Count returns an integer Attr.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Str returns a string Attr.
func Str(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Duration returns a duration Attr.
func Duration(key string, d time.Duration) slog.Attr {
	return slog.Duration(key, d)
}
