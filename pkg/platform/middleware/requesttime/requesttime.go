// Package requesttime stamps each request with its arrival time and a
// request ID. Downstream code reads both through pkg/requestcontext, so a
// single request sees one consistent clock value across expiry checks.
package requesttime

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"verikey/pkg/requestcontext"
)

// Middleware injects the arrival time and a generated request ID into the
// request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		ctx = requestcontext.WithRequestID(ctx, uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
