package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"locallift/internal/config"
	"locallift/internal/metrics"
	"locallift/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

type Server struct {
	svc      *services.Service
	cfg      config.Config
	auth     Authenticator
	limiter  RateCounter
	validate *validator.Validate
	logger   *slog.Logger
}

// NewServer wires the HTTP surface. limiter may be nil to disable rate limiting.
func NewServer(svc *services.Service, cfg config.Config, auth Authenticator, limiter RateCounter, logger *slog.Logger) *Server {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Server{
		svc:      svc,
		cfg:      cfg,
		auth:     auth,
		limiter:  limiter,
		validate: v,
		logger:   logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingRecoverer)
	r.Use(s.requestLogger)
	r.Use(metrics.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Public endpoints
		r.Get("/google/oauth/callback", s.handleGoogleCallback)
		r.Post("/stripe/webhook", s.handleStripeWebhook)
		r.With(s.rateLimit).Post("/audit/free-profile", s.handleFreeAudit)
		r.With(s.rateLimit).Post("/leads", s.handleCaptureLead)
		r.With(s.optionalUser, s.rateLimit).Post("/audit/profile", s.handleAudit)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/google/oauth/start", s.handleGoogleStart)
			r.Post("/google/disconnect", s.handleGoogleDisconnect)
			r.Get("/google/locations", s.handleListLocations)
			r.Post("/google/locations/sync", s.handleSyncLocations)
			r.Post("/google/reviews/sync", s.handleSyncReviews)
			r.Post("/google/replies", s.handlePostReply)

			r.Get("/plan", s.handlePlan)
			r.Get("/dashboard/summary", s.handleDashboardSummary)
			r.Get("/reviews", s.handleListReviews)

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", s.handleListProjects)
				r.Post("/", s.handleCreateProject)
				r.Get("/{id}", s.handleGetProject)
				r.Put("/{id}", s.handleUpdateProject)
				r.Delete("/{id}", s.handleDeleteProject)
			})

			r.Post("/stripe/checkout", s.handleCheckout)
			r.Post("/stripe/portal", s.handlePortal)

			r.Group(func(r chi.Router) {
				r.Use(s.rateLimit)
				r.Post("/openai/generate", s.handleGenerateContent)
				r.Post("/openai/review-reply", s.handleReviewReply)
			})
		})
	})

	return r
}

// decode reads a JSON body into dst and runs its validate tags. It writes
// the 400 response itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, validationError(err))
		return false
	}
	return true
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("missing %s", fe.Field())
	case "email":
		return fmt.Errorf("%s must be a valid email", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

// wantsJSON is true for fetch-style callers; form posts get redirects.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
