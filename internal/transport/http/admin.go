package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	dErrors "keeper/pkg/domain-errors"
	"keeper/pkg/platform/httputil"
	"keeper/pkg/requestcontext"
)

const maxRevocationTTL = 30 * 24 * time.Hour

// Revoker maintains the token denylist consulted by the auth middleware.
type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type revokeRequest struct {
	JTI string `json:"jti"`
	TTL string `json:"ttl"`
}

func (r *revokeRequest) validate() (time.Duration, error) {
	if r.JTI == "" {
		return 0, dErrors.New(dErrors.CodeValidation, "jti is required")
	}
	ttl, err := time.ParseDuration(r.TTL)
	if err != nil || ttl <= 0 || ttl > maxRevocationTTL {
		return 0, dErrors.New(dErrors.CodeValidation, "ttl must be a positive duration of at most 720h")
	}
	return ttl, nil
}

// handleRevoke denies a token by JWT ID until ttl elapses.
func handleRevoke(revoker Revoker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req revokeRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		ttl, err := req.validate()
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := revoker.Revoke(ctx, req.JTI, ttl); err != nil {
			logger.ErrorContext(ctx, "failed to revoke token",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke token"))
			return
		}
		logger.InfoContext(ctx, "token revoked",
			"log_type", "audit",
			"request_id", requestcontext.RequestID(ctx),
			"jti", req.JTI,
			"ttl", ttl.String(),
		)
		w.WriteHeader(http.StatusNoContent)
	}
}
