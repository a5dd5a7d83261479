package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"parkeaya/internal/config"
	"parkeaya/internal/db"
	"parkeaya/internal/entities"
	"parkeaya/internal/repository/memstore"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeGateway struct {
	mu          sync.Mutex
	sessions    []CheckoutRequest
	refunds     []int64
	checkoutErr error
	refundErr   error
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkoutErr != nil {
		return "", "", g.checkoutErr
	}
	g.sessions = append(g.sessions, req)
	return "https://checkout.test/" + req.Reference, "cs_" + req.Reference, nil
}

func (g *fakeGateway) Refund(_ context.Context, p *db.Payment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, p.ID)
	return nil
}

type fixture struct {
	store        *memstore.Store
	bus          *Bus
	clock        *clock
	gateway      *fakeGateway
	policy       config.Policy
	reservations *ReservationService
	tickets      *TicketService
	payments     *PaymentService
	jobs         *JobService

	client, other, staff, owner, admin entities.Actor
	lotID                              int64
	vehicleID                          int64
}

func newFixture(t *testing.T, spaces int, rate string) *fixture {
	t.Helper()
	f := &fixture{
		store:   memstore.New(),
		bus:     NewBus(),
		clock:   &clock{now: t0},
		gateway: &fakeGateway{},
		policy:  config.DefaultPolicy(),
	}

	clientID := f.store.AddUser(db.User{Email: "ana@example.com", Name: "Ana", Phone: "+51999111222", Roles: []string{"client"}})
	otherID := f.store.AddUser(db.User{Email: "bruno@example.com", Name: "Bruno", Roles: []string{"client"}})
	staffID := f.store.AddUser(db.User{Email: "staff@example.com", Name: "Staff", Roles: []string{"staff"}})
	ownerID := f.store.AddUser(db.User{Email: "owner@example.com", Name: "Owner", Roles: []string{"owner"}})
	adminID := f.store.AddUser(db.User{Email: "admin@example.com", Name: "Admin", Roles: []string{"admin"}})

	f.client = entities.Actor{UserID: clientID, Roles: entities.NewRoleSet(entities.RoleClient)}
	f.other = entities.Actor{UserID: otherID, Roles: entities.NewRoleSet(entities.RoleClient)}
	f.staff = entities.Actor{UserID: staffID, Roles: entities.NewRoleSet(entities.RoleStaff)}
	f.owner = entities.Actor{UserID: ownerID, Roles: entities.NewRoleSet(entities.RoleOwner)}
	f.admin = entities.Actor{UserID: adminID, Roles: entities.NewRoleSet(entities.RoleAdmin)}

	f.lotID = f.store.AddLot(db.ParkingLot{
		OwnerID:             ownerID,
		StaffIDs:            []int64{staffID},
		Name:                "Centro",
		TotalSpaces:         spaces,
		AvailableSpaces:     spaces,
		RatePerHour:         decimal.RequireFromString(rate),
		Approved:            true,
		Active:              true,
		AcceptsReservations: true,
	})
	f.vehicleID = f.store.AddVehicle(db.Vehicle{OwnerID: clientID, Plate: "ABC-123"})

	f.reservations = NewReservationService(f.store, f.bus, f.policy)
	f.reservations.now = f.clock.Now
	f.tickets = NewTicketService(f.store, f.bus, f.policy)
	f.tickets.now = f.clock.Now
	f.payments = NewPaymentService(f.store, f.gateway, f.tickets, f.bus, "pen")
	f.payments.now = f.clock.Now
	f.jobs = NewJobService(f.store, f.reservations, f.tickets, nil, time.Minute, f.policy)
	f.jobs.now = f.clock.Now

	t.Cleanup(f.bus.Wait)
	return f
}

// reserve creates a reservation of the client's vehicle.
func (f *fixture) reserve(t *testing.T, entry time.Time, minutes int) *db.Reservation {
	t.Helper()
	res, err := f.reservations.Create(context.Background(), f.client, entities.CreateReservationRequest{
		VehicleID:       f.vehicleID,
		LotID:           f.lotID,
		EntryTime:       entry,
		DurationMinutes: minutes,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) addVehicle(owner entities.Actor, n int) int64 {
	return f.store.AddVehicle(db.Vehicle{OwnerID: owner.UserID, Plate: fmt.Sprintf("CAR-%03d", n)})
}

func (f *fixture) available(t *testing.T) int {
	t.Helper()
	lot, err := f.store.GetLot(context.Background(), f.lotID)
	require.NoError(t, err)
	return lot.AvailableSpaces
}

func (f *fixture) reservation(t *testing.T, code string) *db.Reservation {
	t.Helper()
	res, err := f.store.GetReservationByCode(context.Background(), code)
	require.NoError(t, err)
	return res
}

func (f *fixture) ticket(t *testing.T, code string) *db.Ticket {
	t.Helper()
	tk, err := f.store.GetTicketByCode(context.Background(), code)
	require.NoError(t, err)
	return tk
}
