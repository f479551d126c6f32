package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/superapp/errortrack/internal/api/response"
	"github.com/superapp/errortrack/internal/track"
	"github.com/superapp/errortrack/pkg/models"
)

// Reporter is the tracker surface the ingestion endpoint depends on.
type Reporter interface {
	TrackError(ctx context.Context, ev track.Event) *models.ErrorRecord
}

type reportRequest struct {
	Message       string         `json:"message"`
	ExceptionType string         `json:"exception_type"`
	ErrorLevel    string         `json:"error_level"`
	FilePath      string         `json:"file_path"`
	LineNumber    int            `json:"line_number"`
	FunctionName  string         `json:"function_name"`
	UserID        *uuid.UUID     `json:"user_id"`
	Username      string         `json:"username"`
	StackTrace    string         `json:"stack_trace"`
	Request       *requestMeta   `json:"request"`
	Context       map[string]any `json:"context"`
}

type requestMeta struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	UserAgent string `json:"user_agent"`
	IPAddress string `json:"ip_address"`
}

// NewReportHandler returns an http.HandlerFunc for POST /api/v1/errors.
// Ingestion never fails on a degraded store; a report the tracker could not
// persist is still acknowledged with 202 and an empty body.
func NewReportHandler(tracker Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Message == "" && req.ExceptionType == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"message or exception_type is required", nil)
			return
		}

		ev := track.Event{
			Message:       req.Message,
			ExceptionType: req.ExceptionType,
			Level:         req.ErrorLevel,
			UserID:        req.UserID,
			Username:      req.Username,
			StackTrace:    req.StackTrace,
			Context:       req.Context,
			// Always pin the location, even when the body carries none. The
			// caller-frame fallback is for in-process use; a remote report
			// must never inherit this server's own frames.
			Location: &track.Location{
				FilePath:     req.FilePath,
				LineNumber:   req.LineNumber,
				FunctionName: req.FunctionName,
			},
		}
		if m := req.Request; m != nil {
			ev.RequestMeta = &track.RequestMeta{
				Method:    m.Method,
				Path:      m.Path,
				UserAgent: m.UserAgent,
				IPAddress: m.IPAddress,
			}
		}

		rec := tracker.TrackError(r.Context(), ev)
		if rec == nil {
			response.Accepted(w, nil)
			return
		}
		response.Accepted(w, map[string]any{
			"id":          rec.ID.String(),
			"fingerprint": rec.Fingerprint,
			"count":       rec.Count,
		})
	}
}
