package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkeaya/internal/db"
	"parkeaya/internal/entities"
	apperr "parkeaya/internal/errors"
)

func TestCreate_ConcurrentRequestsForLastSpace(t *testing.T) {
	f := newFixture(t, 1, "3.00")
	entry := t0.Add(time.Hour)
	vehicles := []int64{f.addVehicle(f.client, 1), f.addVehicle(f.client, 2)}

	var wg sync.WaitGroup
	results := make([]*db.Reservation, len(vehicles))
	errs := make([]error, len(vehicles))
	for i, v := range vehicles {
		i, v := i, v
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.reservations.Create(context.Background(), f.client, entities.CreateReservationRequest{
				VehicleID: v, LotID: f.lotID, EntryTime: entry, DurationMinutes: 60,
			})
		}()
	}
	wg.Wait()

	var created, rejected int
	for i := range vehicles {
		if errs[i] == nil {
			created++
			assert.Equal(t, "3.00", results[i].EstimatedCost.StringFixed(2))
			continue
		}
		rejected++
		assert.Equal(t, apperr.KindNoCapacity, apperr.KindOf(errs[i]))
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 0, f.available(t))
}

func TestCreate_NeverOversells(t *testing.T) {
	const spaces, callers = 3, 12
	f := newFixture(t, spaces, "2.00")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		v := f.addVehicle(f.client, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.reservations.Create(context.Background(), f.client, entities.CreateReservationRequest{
				VehicleID: v, LotID: f.lotID, EntryTime: t0.Add(time.Hour), DurationMinutes: 30,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			assert.Equal(t, apperr.KindNoCapacity, apperr.KindOf(err))
		}()
	}
	wg.Wait()

	assert.Equal(t, spaces, succeeded)
	assert.Equal(t, 0, f.available(t))
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	ctx := context.Background()
	entry := t0.Add(time.Hour)
	req := func(mut func(*entities.CreateReservationRequest)) entities.CreateReservationRequest {
		r := entities.CreateReservationRequest{VehicleID: f.vehicleID, LotID: f.lotID, EntryTime: entry, DurationMinutes: 60}
		mut(&r)
		return r
	}

	cases := []struct {
		name  string
		actor entities.Actor
		req   entities.CreateReservationRequest
		kind  apperr.Kind
	}{
		{"zero duration", f.client, req(func(r *entities.CreateReservationRequest) { r.DurationMinutes = 0 }), apperr.KindInvalidInput},
		{"entry in the past", f.client, req(func(r *entities.CreateReservationRequest) { r.EntryTime = t0.Add(-time.Minute) }), apperr.KindInvalidInput},
		{"unknown vehicle", f.client, req(func(r *entities.CreateReservationRequest) { r.VehicleID = 9999 }), apperr.KindNotFound},
		{"unknown lot", f.client, req(func(r *entities.CreateReservationRequest) { r.LotID = 9999 }), apperr.KindNotFound},
		{"vehicle of someone else", f.other, req(func(*entities.CreateReservationRequest) {}), apperr.KindForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.reservations.Create(ctx, tc.actor, tc.req)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
	assert.Equal(t, 2, f.available(t))
}

func TestCreate_OverlappingReservationOfSameVehicle(t *testing.T) {
	f := newFixture(t, 5, "3.00")
	f.reserve(t, t0.Add(time.Hour), 60)

	_, err := f.reservations.Create(context.Background(), f.client, entities.CreateReservationRequest{
		VehicleID: f.vehicleID, LotID: f.lotID, EntryTime: t0.Add(90 * time.Minute), DurationMinutes: 60,
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// Back to back is fine.
	f.reserve(t, t0.Add(2*time.Hour), 30)
	assert.Equal(t, 3, f.available(t))
}

func TestCreate_LotNotAcceptingOrClosed(t *testing.T) {
	f := newFixture(t, 5, "3.00")
	ctx := context.Background()

	closed := f.store.AddLot(db.ParkingLot{
		OwnerID: f.owner.UserID, Name: "Noche", TotalSpaces: 5, AvailableSpaces: 5,
		RatePerHour: dec("3"), Approved: true, Active: true, AcceptsReservations: true,
		OpeningTime: "18:00", ClosingTime: "06:00",
	})
	pending := f.store.AddLot(db.ParkingLot{
		OwnerID: f.owner.UserID, Name: "Nuevo", TotalSpaces: 5, AvailableSpaces: 5,
		RatePerHour: dec("3"), Active: true, AcceptsReservations: true,
	})

	for _, lotID := range []int64{closed, pending} {
		_, err := f.reservations.Create(ctx, f.client, entities.CreateReservationRequest{
			VehicleID: f.vehicleID, LotID: lotID, EntryTime: t0.Add(time.Hour), DurationMinutes: 60,
		})
		assert.Equal(t, apperr.KindLotUnavailable, apperr.KindOf(err))
	}

	// Overnight window inside the opening hours.
	_, err := f.reservations.Create(ctx, f.client, entities.CreateReservationRequest{
		VehicleID: f.vehicleID, LotID: closed, EntryTime: t0.Add(14 * time.Hour), DurationMinutes: 120,
	})
	require.NoError(t, err)
}

func TestCreateThenCancel_RestoresCapacity(t *testing.T) {
	f := newFixture(t, 4, "3.00")
	before := f.available(t)

	res := f.reserve(t, t0.Add(time.Hour), 60)
	assert.Equal(t, before-1, f.available(t))

	cancelled, err := f.reservations.Cancel(context.Background(), f.client, res.Code)
	require.NoError(t, err)
	assert.Equal(t, db.ReservationCancelled, cancelled.Status)
	assert.Equal(t, before, f.available(t))
	assert.Equal(t, db.ReservationCancelled, f.reservation(t, res.Code).Status)
}

func TestCancel_Rules(t *testing.T) {
	f := newFixture(t, 4, "3.00")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)

	_, err := f.reservations.Cancel(ctx, f.other, res.Code)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.reservations.Cancel(ctx, f.staff, res.Code)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "staff cannot cancel")

	f.clock.Set(t0.Add(time.Hour))
	_, err = f.reservations.Cancel(ctx, f.client, res.Code)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err), "already started")

	f.clock.Set(t0)
	_, err = f.reservations.Cancel(ctx, f.owner, res.Code)
	require.NoError(t, err)
	_, err = f.reservations.Cancel(ctx, f.client, res.Code)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Equal(t, 4, f.available(t))
}

func TestCancel_CancelsValidTicket(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)
	tk, err := f.tickets.IssueForReservation(ctx, res.ID)
	require.NoError(t, err)

	_, err = f.reservations.Cancel(ctx, f.client, res.Code)
	require.NoError(t, err)
	assert.Equal(t, db.TicketCancelled, f.ticket(t, tk.Code).Status)
}

func TestExtend_AddsExtraCost(t *testing.T) {
	f := newFixture(t, 2, "4.00")
	entry := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	res := f.reserve(t, entry, 60)

	extended, err := f.reservations.Extend(context.Background(), f.client, res.Code, 30)
	require.NoError(t, err)

	assert.Equal(t, res.ExitTime.Add(30*time.Minute), extended.ExitTime)
	assert.Equal(t, 90, extended.DurationMinutes)
	assert.Equal(t, "2.00", extended.EstimatedCost.Sub(res.EstimatedCost).StringFixed(2))
	assert.Equal(t, "6.00", extended.EstimatedCost.StringFixed(2))
}

func TestExtend_Rejections(t *testing.T) {
	f := newFixture(t, 2, "4.00")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)

	_, err := f.reservations.Extend(ctx, f.client, res.Code, 0)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, err = f.reservations.Extend(ctx, f.other, res.Code, 15)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.reservations.Cancel(ctx, f.client, res.Code)
	require.NoError(t, err)
	_, err = f.reservations.Extend(ctx, f.client, res.Code, 15)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestCheckIn_IsIdempotent(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)

	f.clock.Set(t0.Add(55 * time.Minute))
	first, err := f.reservations.CheckIn(ctx, f.staff, res.Code)
	require.NoError(t, err)
	require.NotNil(t, first.CheckedInAt)

	f.clock.Set(t0.Add(70 * time.Minute))
	second, err := f.reservations.CheckIn(ctx, f.client, res.Code)
	require.NoError(t, err)
	assert.Equal(t, *first.CheckedInAt, *second.CheckedInAt)

	_, err = f.reservations.CheckIn(ctx, f.other, res.Code)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestCheckOut_Costs(t *testing.T) {
	cases := []struct {
		name    string
		elapsed time.Duration
		cost    string
	}{
		{"within grace", 10 * time.Minute, "0.00"},
		{"one second past grace", 15*time.Minute + time.Second, "0.75"},
		{"forty minutes", 40 * time.Minute, "2.00"},
		{"partial minute is charged", 40*time.Minute + 59*time.Second, "2.05"},
		{"over the reserved time", 75 * time.Minute, "3.75"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 1, "3.00")
			entry := t0.Add(time.Hour)
			res := f.reserve(t, entry, 60)

			f.clock.Set(entry.Add(tc.elapsed))
			out, err := f.reservations.CheckOut(context.Background(), f.client, res.Code)
			require.NoError(t, err)

			assert.Equal(t, tc.cost, out.FinalCost.StringFixed(2))
			assert.Equal(t, int(tc.elapsed/time.Minute), out.ElapsedMinutes)
			assert.Equal(t, db.ReservationCompleted, out.Reservation.Status)
			assert.Equal(t, 1, f.available(t))
		})
	}
}

func TestCheckOut_Twice(t *testing.T) {
	f := newFixture(t, 1, "3.00")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)

	f.clock.Set(t0.Add(90 * time.Minute))
	_, err := f.reservations.CheckOut(ctx, f.client, res.Code)
	require.NoError(t, err)
	_, err = f.reservations.CheckOut(ctx, f.client, res.Code)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Equal(t, 1, f.available(t))
}

func TestExpireUnused_RunningTwiceMatchesRunningOnce(t *testing.T) {
	f := newFixture(t, 3, "3.00")
	ctx := context.Background()
	unused := f.reserve(t, t0.Add(time.Hour), 60)
	used, err := f.reservations.Create(ctx, f.client, entities.CreateReservationRequest{
		VehicleID: f.addVehicle(f.client, 1), LotID: f.lotID, EntryTime: t0.Add(time.Hour), DurationMinutes: 60,
	})
	require.NoError(t, err)
	f.clock.Set(t0.Add(time.Hour))
	_, err = f.reservations.CheckIn(ctx, f.client, used.Code)
	require.NoError(t, err)

	f.clock.Set(t0.Add(time.Hour + f.policy.UnusedGrace + time.Minute))
	n, err := f.jobs.ExpireUnusedReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	afterOnce := f.available(t)

	n, err = f.jobs.ExpireUnusedReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, afterOnce, f.available(t))
	assert.Equal(t, 2, afterOnce)
	assert.Equal(t, db.ReservationCancelled, f.reservation(t, unused.Code).Status)
	assert.Equal(t, db.ReservationActive, f.reservation(t, used.Code).Status)
}

func TestExpireUnused_WaitsForGrace(t *testing.T) {
	f := newFixture(t, 1, "3.00")
	res := f.reserve(t, t0.Add(time.Hour), 60)

	f.clock.Set(t0.Add(time.Hour + f.policy.UnusedGrace))
	changed, err := f.reservations.ExpireUnused(context.Background(), res.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, f.available(t))
}

func TestExpireOverdue_CompletesAndReleases(t *testing.T) {
	f := newFixture(t, 1, "3.00")
	ctx := context.Background()
	res := f.reserve(t, t0.Add(time.Hour), 60)
	f.clock.Set(t0.Add(time.Hour))
	_, err := f.reservations.CheckIn(ctx, f.client, res.Code)
	require.NoError(t, err)

	f.clock.Set(t0.Add(2*time.Hour + time.Minute))
	n, err := f.jobs.ExpireOverdueReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, db.ReservationCompleted, f.reservation(t, res.Code).Status)
	assert.Equal(t, 1, f.available(t))

	n, err = f.jobs.ExpireOverdueReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.reservations.CheckOut(ctx, f.client, res.Code)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assert.Equal(t, 1, f.available(t))
}

func TestCapacityStaysWithinBounds(t *testing.T) {
	f := newFixture(t, 2, "3.00")
	ctx := context.Background()
	check := func() {
		avail := f.available(t)
		assert.GreaterOrEqual(t, avail, 0)
		assert.LessOrEqual(t, avail, 2)
	}

	a := f.reserve(t, t0.Add(time.Hour), 60)
	check()
	b, err := f.reservations.Create(ctx, f.client, entities.CreateReservationRequest{
		VehicleID: f.addVehicle(f.client, 1), LotID: f.lotID, EntryTime: t0.Add(time.Hour), DurationMinutes: 60,
	})
	require.NoError(t, err)
	check()
	_, err = f.reservations.Cancel(ctx, f.client, a.Code)
	require.NoError(t, err)
	check()

	f.clock.Set(t0.Add(3 * time.Hour))
	require.NoError(t, f.jobs.RunAll(ctx))
	check()
	_, err = f.reservations.CheckOut(ctx, f.client, b.Code)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	check()
	assert.Equal(t, 2, f.available(t))
}

func TestListMine_OnlyOwnUpcomingActive(t *testing.T) {
	f := newFixture(t, 4, "3.00")
	ctx := context.Background()
	cancelled := f.reserve(t, t0.Add(time.Hour), 60)
	tomorrow := f.reserve(t, t0.Add(26*time.Hour), 60)
	theirs, err := f.reservations.Create(ctx, f.other, entities.CreateReservationRequest{
		VehicleID: f.addVehicle(f.other, 1), LotID: f.lotID, EntryTime: t0.Add(2 * time.Hour), DurationMinutes: 60,
	})
	require.NoError(t, err)
	_, err = f.reservations.Cancel(ctx, f.client, cancelled.Code)
	require.NoError(t, err)

	mine, err := f.reservations.ListMine(ctx, f.client)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, tomorrow.Code, mine[0].Code)

	list, err := f.reservations.ListMine(ctx, f.other)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, theirs.Code, list[0].Code)

	f.clock.Set(t0.Add(4 * time.Hour))
	list, err = f.reservations.ListMine(ctx, f.other)
	require.NoError(t, err)
	assert.Empty(t, list, "ended reservations are not listed")

	_, err = f.reservations.ListMine(ctx, entities.Actor{})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestListForLot_Reservations(t *testing.T) {
	f := newFixture(t, 4, "3.00")
	ctx := context.Background()
	first := f.reserve(t, t0.Add(time.Hour), 60)
	nextDay := f.reserve(t, t0.Add(26*time.Hour), 60)
	second, err := f.reservations.Create(ctx, f.other, entities.CreateReservationRequest{
		VehicleID: f.addVehicle(f.other, 1), LotID: f.lotID, EntryTime: t0.Add(2 * time.Hour), DurationMinutes: 60,
	})
	require.NoError(t, err)
	_, err = f.reservations.Cancel(ctx, f.client, first.Code)
	require.NoError(t, err)

	for _, actor := range []entities.Actor{f.client, f.other} {
		_, err = f.reservations.ListForLot(ctx, actor, f.lotID, "", time.Time{})
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	}
	_, err = f.reservations.ListForLot(ctx, f.staff, 999, "", time.Time{})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	codes := func(list []db.Reservation) []string {
		out := []string{}
		for _, r := range list {
			out = append(out, r.Code)
		}
		return out
	}

	list, err := f.reservations.ListForLot(ctx, f.staff, f.lotID, "", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{first.Code, second.Code, nextDay.Code}, codes(list))

	list, err = f.reservations.ListForLot(ctx, f.owner, f.lotID, db.ReservationActive, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{second.Code, nextDay.Code}, codes(list))

	list, err = f.reservations.ListForLot(ctx, f.admin, f.lotID, "", t0)
	require.NoError(t, err)
	assert.Equal(t, []string{first.Code, second.Code}, codes(list))

	list, err = f.reservations.ListForLot(ctx, f.staff, f.lotID, db.ReservationActive, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{nextDay.Code}, codes(list))
}
