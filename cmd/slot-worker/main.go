package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebook/appointment-booking/internal/booking"
	"github.com/carebook/appointment-booking/internal/config"
	"github.com/carebook/appointment-booking/internal/db"
	"github.com/carebook/appointment-booking/internal/identity"
	"github.com/carebook/appointment-booking/internal/notify"
	redisclient "github.com/carebook/appointment-booking/internal/redis"
)

// slot-worker keeps a rolling horizon of bookable slots materialized for
// every doctor with active availability, so the first booking attempt of the
// day does not pay the generation cost.
func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "slot-worker").Logger()
	log.Info().Msg("slot-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("horizon_days", cfg.HorizonDays).
		Msg("worker configuration")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	users := identity.NewPgRepository(pgPool)
	repo := booking.NewPgRepository(pgPool)

	// The worker only inserts on the unique key; it needs neither the
	// advisory lock nor outbound notifications.
	svc := booking.NewService(repo, users, redisclient.NoopLocker{}, notify.NewLogNotifier(log), log)

	runOnce(rootCtx, svc, cfg.HorizonDays, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping slot worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.HorizonDays, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, horizonDays int, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()
	if err := svc.MaterializeHorizon(runCtx, horizonDays); err != nil {
		log.Error().Err(err).Msg("horizon run error")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("horizon run complete")
}
