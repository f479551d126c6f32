package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/superapp/errortrack/internal/api/middleware"
	"github.com/superapp/errortrack/internal/api/response"
	"github.com/superapp/errortrack/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	// Recovery wraps every route; panics become tracked error records.
	Recovery func(http.Handler) http.Handler

	HealthHandler http.HandlerFunc

	ReportHandler    http.HandlerFunc
	ListErrors       http.HandlerFunc
	GetError         http.HandlerFunc
	ResolveError     http.HandlerFunc
	UnresolveError   http.HandlerFunc
	StatsHandler     http.HandlerFunc
	PurgeResolved    http.HandlerFunc
	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	if deps.Recovery != nil {
		r.Use(deps.Recovery)
	}

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		// Ingestion
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeReport))

			r.Post("/api/v1/errors", orNotImplemented(deps.ReportHandler))
		})

		// Query and resolution workflow
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRead))

			r.Get("/api/v1/errors", orNotImplemented(deps.ListErrors))
			r.Get("/api/v1/errors/stats", orNotImplemented(deps.StatsHandler))
			r.Get("/api/v1/errors/{recordID}", orNotImplemented(deps.GetError))
			r.Post("/api/v1/errors/{recordID}/resolve", orNotImplemented(deps.ResolveError))
			r.Delete("/api/v1/errors/{recordID}/resolve", orNotImplemented(deps.UnresolveError))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Delete("/api/v1/admin/errors/resolved", orNotImplemented(deps.PurgeResolved))
			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
