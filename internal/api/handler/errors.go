package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/superapp/errortrack/internal/api/middleware"
	"github.com/superapp/errortrack/internal/api/response"
	"github.com/superapp/errortrack/internal/cache"
	"github.com/superapp/errortrack/internal/store"
	"github.com/superapp/errortrack/pkg/models"
)

// RecordStore is the store surface the admin endpoints depend on.
type RecordStore interface {
	GetErrorRecord(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error)
	ListErrorRecords(ctx context.Context, f store.RecordFilter) ([]*models.ErrorRecord, int, error)
	ResolveErrorRecord(ctx context.Context, id uuid.UUID, resolvedBy, notes string) (*models.ErrorRecord, error)
	UnresolveErrorRecord(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error)
	ErrorStats(ctx context.Context) (*models.ErrorStats, error)
	PurgeResolved(ctx context.Context, olderThan time.Time) (int64, error)
}

// sinceShorthands maps the relative time filters accepted by list endpoints.
var sinceShorthands = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// parseSince accepts a shorthand ("1h", "24h", "7d", "30d") or an RFC3339
// timestamp. An empty value means no lower bound.
func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if d, ok := sinceShorthands[raw]; ok {
		return time.Now().UTC().Add(-d), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("since must be 1h, 24h, 7d, 30d, or an RFC3339 timestamp")
	}
	return ts, nil
}

// NewListErrorsHandler returns an http.HandlerFunc for GET /api/v1/errors.
func NewListErrorsHandler(s RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filter := store.RecordFilter{
			Level:         q.Get("level"),
			ExceptionType: q.Get("exception_type"),
			Search:        q.Get("q"),
		}

		if filter.Level != "" && !models.ValidLevel(filter.Level) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"level must be one of debug, info, warning, error, critical", nil)
			return
		}

		if raw := q.Get("resolved"); raw != "" {
			resolved, err := strconv.ParseBool(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"resolved must be true or false", nil)
				return
			}
			filter.Resolved = &resolved
		}

		since, err := parseSince(q.Get("since"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		filter.Since = since

		if raw := q.Get("page"); raw != "" {
			if filter.Page, err = strconv.Atoi(raw); err != nil || filter.Page < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
				return
			}
		}
		if raw := q.Get("limit"); raw != "" {
			if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
		}

		records, total, err := s.ListErrorRecords(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list error records", nil)
			return
		}

		page := filter.Page
		if page < 1 {
			page = 1
		}
		limit := filter.Limit
		if limit < 1 {
			limit = store.DefaultPageLimit
		}
		if limit > store.MaxPageLimit {
			limit = store.MaxPageLimit
		}

		response.Collection(w, records, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: total > page*limit,
		})
	}
}

// NewGetErrorHandler returns an http.HandlerFunc for GET /api/v1/errors/{recordID}.
func NewGetErrorHandler(s RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := recordID(w, r)
		if !ok {
			return
		}

		rec, err := s.GetErrorRecord(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RECORD_NOT_FOUND", "Error record not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load error record", nil)
			return
		}
		response.JSON(w, rec)
	}
}

// NewResolveHandler returns an http.HandlerFunc for POST /api/v1/errors/{recordID}/resolve.
// Resolution is attributed to the authenticated key's name unless the body
// overrides resolved_by.
func NewResolveHandler(s RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := recordID(w, r)
		if !ok {
			return
		}

		var req struct {
			ResolvedBy string `json:"resolved_by"`
			Notes      string `json:"notes"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		resolvedBy := req.ResolvedBy
		if resolvedBy == "" {
			if actor, ok := mw.GetActorName(r); ok {
				resolvedBy = actor
			}
		}

		rec, err := s.ResolveErrorRecord(r.Context(), id, resolvedBy, req.Notes)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RECORD_NOT_FOUND", "Error record not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to resolve error record", nil)
			return
		}
		response.JSON(w, rec)
	}
}

// NewUnresolveHandler returns an http.HandlerFunc for DELETE /api/v1/errors/{recordID}/resolve.
func NewUnresolveHandler(s RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := recordID(w, r)
		if !ok {
			return
		}

		rec, err := s.UnresolveErrorRecord(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "RECORD_NOT_FOUND", "Error record not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to reopen error record", nil)
			return
		}
		response.JSON(w, rec)
	}
}

// NewStatsHandler returns an http.HandlerFunc for GET /api/v1/errors/stats.
// Results are cached in Redis for ttl; a degraded cache falls through to the
// database.
func NewStatsHandler(s RecordStore, c cache.Cache, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := cache.StatsKey()

		if c != nil {
			if raw, found, err := c.Get(r.Context(), key); err == nil && found {
				var stats models.ErrorStats
				if json.Unmarshal(raw, &stats) == nil {
					response.JSON(w, &stats)
					return
				}
			}
		}

		stats, err := s.ErrorStats(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to compute error stats", nil)
			return
		}

		if c != nil && ttl > 0 {
			if raw, err := json.Marshal(stats); err == nil {
				c.Set(r.Context(), key, raw, ttl)
			}
		}
		response.JSON(w, stats)
	}
}

// NewPurgeResolvedHandler returns an http.HandlerFunc for
// DELETE /api/v1/admin/errors/resolved. The older_than query parameter uses
// the same shorthand grammar as the since filter; default is 30d.
func NewPurgeResolvedHandler(s RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("older_than")
		if raw == "" {
			raw = "30d"
		}
		olderThan, err := parseSince(raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"older_than must be 1h, 24h, 7d, 30d, or an RFC3339 timestamp", nil)
			return
		}

		purged, err := s.PurgeResolved(r.Context(), olderThan)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to purge resolved records", nil)
			return
		}
		response.JSON(w, map[string]int64{"purged": purged})
	}
}

func recordID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "recordID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_RECORD_ID", "Invalid record ID format", nil)
		return uuid.Nil, false
	}
	return id, true
}
