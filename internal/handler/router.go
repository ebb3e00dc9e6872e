package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pawtrust/adoption-platform/internal/middleware"
	"github.com/pawtrust/adoption-platform/internal/service"
	"github.com/pawtrust/adoption-platform/pkg/logger"
)

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	Lifecycle *service.Lifecycle
	Chats     *service.ChatProtocol
	Digest    *service.TermsDigest
	Checks    map[string]Pinger
	Logger    *logger.Logger

	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	health := NewHealthHandler(cfg.Checks)
	adoptions := NewAdoptionHandler(cfg.Lifecycle, cfg.Logger)
	chats := NewChatHandler(cfg.Chats, cfg.Digest, cfg.Logger)
	pets := NewPetHandler(cfg.Lifecycle, cfg.Logger)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.Identify)
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/adoption-requests", func(r chi.Router) {
			r.With(middleware.RequireRole(middleware.RoleIndividual)).Post("/", adoptions.Create)
			r.Get("/", adoptions.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", adoptions.Get)
				r.Patch("/", adoptions.Decide)
				r.Get("/events", adoptions.Events)
			})
		})

		r.Route("/chats", func(r chi.Router) {
			r.Get("/adoption/{requestId}", chats.Open)
			r.Post("/adoption/{requestId}", chats.Open)

			r.Route("/{chatId}", func(r chi.Router) {
				r.Get("/", chats.Get)
				r.Post("/messages", chats.PostMessage)
				r.Post("/accept", chats.Accept)
				r.Get("/digest", chats.Digest)
			})
		})

		r.With(middleware.RequireRole(middleware.RoleBusiness)).Get("/pets/mine", pets.Mine)
	})

	return r
}
