package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/superapp/errortrack/internal/api/response"
	"github.com/superapp/errortrack/pkg/models"
)

// PanicTracker records recovered panics as error records.
type PanicTracker interface {
	TrackPanic(ctx context.Context, recovered any, req *http.Request, extra map[string]any) *models.ErrorRecord
}

// Recovery converts handler panics into 500 responses. Recovered panics are
// fed to the tracker; this is the explicit replacement for ambient
// "current exception" state.
func Recovery(tracker PanicTracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					requestID, _ := GetRequestID(r)
					slog.Error("panic recovered",
						"error", rec,
						"request_id", requestID,
						"method", r.Method,
						"path", r.URL.Path,
					)
					if tracker != nil {
						var extra map[string]any
						if requestID != "" {
							extra = map[string]any{"request_id": requestID}
						}
						tracker.TrackPanic(r.Context(), rec, r, extra)
					}
					response.Error(w, http.StatusInternalServerError,
						"INTERNAL_ERROR", "An unexpected error occurred", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
