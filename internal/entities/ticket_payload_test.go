package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketPayload_EncodeThenParse(t *testing.T) {
	entry := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	raw, err := TicketPayload{
		Version:         TicketPayloadVersion,
		Type:            TicketPayloadType,
		TicketID:        "6f1c",
		TicketCode:      "TKT-ABC",
		ReservationCode: "r-1",
		LotID:           7,
		VehiclePlate:    "ABC-123",
		EntryTime:       entry,
	}.Encode()
	require.NoError(t, err)
	assert.True(t, IsPayload(raw))

	p, err := ParseTicketPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "6f1c", p.TicketID)
	assert.Equal(t, "1.0", p.Version)
	assert.True(t, entry.Equal(p.EntryTime))
}

func TestParseTicketPayload_Rejects(t *testing.T) {
	_, err := ParseTicketPayload("{not json")
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseTicketPayload(`{"ticket_code":"TKT-1"}`)
	assert.ErrorIs(t, err, ErrMalformedPayload)

	assert.False(t, IsPayload("TKT-ABCDEF"))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("staff")
	require.NoError(t, err)
	assert.Equal(t, RoleStaff, r)

	_, err = ParseRole("superuser")
	assert.Error(t, err)

	set := NewRoleSet(RoleAdmin)
	assert.True(t, Actor{UserID: 1, Roles: set}.IsAdmin())
	assert.False(t, System.IsAdmin())
}
