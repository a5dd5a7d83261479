package command

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"parkeaya/internal/api"
	"parkeaya/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the scheduled sweeps",
	RunE:  serve,
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SweepSchedule, func() {
		if err := a.jobs.RunAll(ctx); err != nil {
			log.Error(ctx, "scheduled sweep failed", log.Err(err))
		}
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	router := api.NewRouter(api.Deps{
		Reservations:  a.reservations,
		Tickets:       a.tickets,
		Payments:      a.payments,
		Auth:          a.auth,
		Tokens:        a.tokens,
		WebhookSecret: cfg.StripeWebhookSecret,
		Ping:          a.ping,
	})
	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.CombinedLoggingHandler(os.Stdout, handlers.RecoveryHandler()(cors(router))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "server running", log.Str("port", cfg.Port), log.Str("store", cfg.Store))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
