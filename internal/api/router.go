package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebook/appointment-booking/internal/booking"
	"github.com/carebook/appointment-booking/internal/identity"
)

type RouterConfig struct {
	Service *booking.Service
	Tokens  *identity.TokenManager
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints stay public
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens))

		// Availability windows
		r.Post("/availability", createAvailabilityHandler(cfg.Service))
		r.Get("/availability", listAvailabilityHandler(cfg.Service))
		r.Get("/availability/{id}", getAvailabilityHandler(cfg.Service))
		r.Put("/availability/{id}", updateAvailabilityHandler(cfg.Service))
		r.Delete("/availability/{id}", deactivateAvailabilityHandler(cfg.Service))

		// Slots
		r.Get("/doctors/{doctorID}/slots", listSlotsHandler(cfg.Service))
		r.Post("/doctors/{doctorID}/slots/generate", generateSlotsHandler(cfg.Service))

		// Bookings and appointments
		r.Post("/bookings", createBookingHandler(cfg.Service))
		r.Get("/appointments", listAppointmentsHandler(cfg.Service))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Patch("/appointments/{id}/status", updateAppointmentStatusHandler(cfg.Service))
	})

	return r
}
