package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/dentalchart-platform/internal/dentalchart"
	httpmiddleware "github.com/wolfman30/dentalchart-platform/internal/http/middleware"
	"github.com/wolfman30/dentalchart-platform/pkg/logging"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Charts             *dentalchart.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// ClinicianAuthSecret enables HMAC JWT auth on /charts. Empty leaves the routes open (local dev).
	ClinicianAuthSecret string

	// ExportLimiter throttles the export routes. Nil disables throttling.
	ExportLimiter func(http.Handler) http.Handler

	// Dependencies checked by /ready, keyed by name.
	Readiness map[string]Pinger
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		public.Get("/ready", ready(cfg.Readiness))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.Charts != nil {
		r.Group(func(charts chi.Router) {
			if cfg.ClinicianAuthSecret != "" {
				charts.Use(httpmiddleware.ClinicianJWT(cfg.ClinicianAuthSecret))
			} else if cfg.Logger != nil {
				cfg.Logger.Warn("clinician auth secret not set; chart routes are unauthenticated")
			}
			charts.Mount("/charts", cfg.Charts.Routes(cfg.ExportLimiter))
		})
	}

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ready(checks map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "unavailable"
		}
		writeJSON(w, status, map[string]any{"status": overall, "checks": results})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
