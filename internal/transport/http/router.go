// Package httptransport assembles the HTTP surface: middleware chain, record
// routes, operator endpoints and probes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"keeper/internal/mediator/handler"
	"keeper/internal/platform/metrics"
	"keeper/pkg/platform/httputil"
	"keeper/pkg/platform/middleware/admin"
	authmw "keeper/pkg/platform/middleware/auth"
	"keeper/pkg/platform/middleware/metadata"
	"keeper/pkg/platform/middleware/request"
	"keeper/pkg/platform/middleware/requesttime"
)

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the router mounts. Revocations, RateLimit,
// Metrics and Checks are optional.
type Deps struct {
	Records     *handler.Handler
	RateLimit   func(http.Handler) http.Handler
	Validator   authmw.JWTValidator
	Revocations Revoker
	AdminHash   string
	Metrics     *metrics.Metrics
	Checks      map[string]HealthCheck
	Logger      *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(d.Logger))
	r.Use(request.Logger(d.Logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(d.Checks, d.Logger))
	r.Handle("/metrics", metrics.Handler())

	var revocationChecker authmw.TokenRevocationChecker
	if d.Revocations != nil {
		revocationChecker = d.Revocations
	}
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(d.Validator, revocationChecker, d.Logger))
		if d.RateLimit != nil {
			r.Use(d.RateLimit)
		}
		d.Records.Register(r)
	})

	if d.Revocations != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(admin.RequireAdminToken(d.AdminHash, d.Logger))
			r.Post("/revocations", handleRevoke(d.Revocations, d.Logger))
		})
	}
	return r
}

func readiness(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := map[string]string{}
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
				status[name] = "unavailable"
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		if !healthy {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, status)
	}
}
