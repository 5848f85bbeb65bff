// Package auth provides the bearer-token middleware that resolves the
// authenticated claimant for claim endpoints.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"verikey/pkg/requestcontext"
)

// TokenValidator verifies an access token and returns the claimant it
// identifies.
type TokenValidator interface {
	ValidateToken(tokenString string) (uuid.UUID, error)
}

// RequireClaimant rejects requests without a valid bearer token and stores
// the claimant in the request context for handlers to read.
func RequireClaimant(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx))
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claimant, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx))
				unauthorized(w, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithClaimantID(ctx, claimant)))
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
