package admin

import (
	"log/slog"
	"net/http"

	dErrors "keeper/pkg/domain-errors"
	"keeper/pkg/platform/httputil"
	"keeper/pkg/platform/secrets"
	"keeper/pkg/requestcontext"
)

const HeaderAdminToken = "X-Admin-Token"

// RequireAdminToken guards operator endpoints with a shared secret sent in
// X-Admin-Token and checked against its bcrypt hash. An empty hash disables
// the endpoints entirely.
func RequireAdminToken(tokenHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get(HeaderAdminToken)
			if tokenHash == "" || token == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}
			if err := secrets.Verify(token, tokenHash); err != nil {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
