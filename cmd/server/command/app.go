package command

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v82"

	"parkeaya/internal/auth"
	"parkeaya/internal/broker"
	"parkeaya/internal/config"
	"parkeaya/internal/lease"
	"parkeaya/internal/log"
	"parkeaya/internal/monitoring"
	"parkeaya/internal/repository"
	"parkeaya/internal/repository/memstore"
	"parkeaya/internal/service"
	"parkeaya/internal/utils"
)

// app is the wired set of services shared by the commands.
type app struct {
	cfg          *config.Config
	store        repository.Store
	db           *sql.DB
	bus          *service.Bus
	tokens       *auth.Tokens
	reservations *service.ReservationService
	tickets      *service.TicketService
	payments     *service.PaymentService
	auth         *service.AuthService
	jobs         *service.JobService

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, bus: service.NewBus()}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	stripe.Key = cfg.StripeSecretKey
	var notifier service.Notifier = service.LogNotifier{}
	if cfg.SendGridAPIKey != "" || cfg.TwilioAccountSID != "" {
		notifier = service.NewProviderNotifier(cfg)
	}

	a.tokens = auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	a.reservations = service.NewReservationService(a.store, a.bus, cfg.Policy)
	a.tickets = service.NewTicketService(a.store, a.bus, cfg.Policy)
	a.payments = service.NewPaymentService(a.store, service.NewStripeService(cfg), a.tickets, a.bus, cfg.Currency)
	a.auth = service.NewAuthService(a.store, a.tokens)

	var locker lease.Locker = lease.Noop{}
	if cfg.RedisURL != "" {
		client, err := utils.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		locker = lease.NewRedis(client)
		log.Info(ctx, "sweep leases use redis", log.Str("addr", redisAddr(client)))
	}
	a.jobs = service.NewJobService(a.store, a.reservations, a.tickets, locker, cfg.SweepLeaseTTL, cfg.Policy)

	sender := service.NewSenderService(a.store, notifier, cfg.Policy.Location)
	a.bus.Subscribe(sender.HandleEvent)
	a.bus.Subscribe(a.payments.HandleEvent)
	if cfg.RabbitMQURL != "" {
		publisher := broker.NewPublisher(cfg.RabbitMQURL)
		a.bus.Subscribe(publisher.HandleEvent)
		a.closers = append(a.closers, publisher.Close)
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store {
	case config.StoreMemory:
		log.Warn(ctx, "using the in-memory store, data is lost on exit")
		a.store = memstore.New()
		return nil
	case config.StorePostgres:
		db, err := openDB(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		pg := repository.NewPostgresStore(db)
		pg.OnRetry = func(attempt int, err error) {
			monitoring.TrackTxRetry()
			log.Debug(ctx, "retrying transaction", log.Count("attempt", attempt), log.Err(err))
		}
		a.db = db
		a.store = pg
		a.closers = append(a.closers, func() { _ = db.Close() })
		return nil
	}
	return fmt.Errorf("unknown store %q", a.cfg.Store)
}

// ping checks the database, if any.
func (a *app) ping(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.PingContext(ctx)
}

// Close drains the event bus and releases connections.
func (a *app) Close() {
	a.bus.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

func redisAddr(c *redis.Client) string {
	return c.Options().Addr
}
