// Package models contains shared data models used across the errortrack codebase.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error levels, ordered by severity.
const (
	LevelDebug    = "debug"
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelError    = "error"
	LevelCritical = "critical"
)

var levelSeverity = map[string]int{
	LevelDebug:    0,
	LevelInfo:     1,
	LevelWarning:  2,
	LevelError:    3,
	LevelCritical: 4,
}

// ValidLevel reports whether level is a recognized error level.
func ValidLevel(level string) bool {
	_, ok := levelSeverity[level]
	return ok
}

// LevelSeverity maps an error level to a numeric severity. Unknown levels
// rank below debug.
func LevelSeverity(level string) int {
	if s, ok := levelSeverity[level]; ok {
		return s
	}
	return -1
}

// Levels returns all valid error levels in ascending severity order.
func Levels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical}
}

// ErrorRecord is one deduplicated error signature. Repeated occurrences of
// the same fingerprint update the existing row instead of inserting a new one.
type ErrorRecord struct {
	ID               uuid.UUID      `db:"id"                json:"id"`
	Fingerprint      string         `db:"fingerprint"       json:"fingerprint"`
	Level            string         `db:"error_level"       json:"error_level"`
	ExceptionType    string         `db:"exception_type"    json:"exception_type"`
	ExceptionMessage string         `db:"exception_message" json:"exception_message"`
	FilePath         string         `db:"file_path"         json:"file_path"`
	LineNumber       *int           `db:"line_number"       json:"line_number,omitempty"`
	FunctionName     string         `db:"function_name"     json:"function_name"`
	UserID           *uuid.UUID     `db:"user_id"           json:"user_id,omitempty"`
	Username         string         `db:"username"          json:"username"`
	RequestMethod    string         `db:"request_method"    json:"request_method"`
	RequestPath      string         `db:"request_path"      json:"request_path"`
	UserAgent        string         `db:"user_agent"        json:"user_agent"`
	IPAddress        *string        `db:"ip_address"        json:"ip_address,omitempty"`
	StackTrace       string         `db:"stack_trace"       json:"stack_trace"`
	DebugContext     map[string]any `db:"debug_context"     json:"debug_context"`
	Count            int            `db:"count"             json:"count"`
	FirstOccurrence  time.Time      `db:"first_occurrence"  json:"first_occurrence"`
	LastOccurrence   time.Time      `db:"last_occurrence"   json:"last_occurrence"`
	Resolved         bool           `db:"resolved"          json:"resolved"`
	ResolvedBy       *string        `db:"resolved_by"       json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time     `db:"resolved_at"       json:"resolved_at,omitempty"`
	ResolutionNotes  string         `db:"resolution_notes"  json:"resolution_notes"`
	CreatedAt        time.Time      `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"        json:"updated_at"`
}

// Location returns "file:line" for display, or just the file when the line
// is unknown.
func (r *ErrorRecord) Location() string {
	if r.LineNumber != nil {
		return fmt.Sprintf("%s:%d", r.FilePath, *r.LineNumber)
	}
	return r.FilePath
}

// ErrorStats summarizes the current state of the error table.
type ErrorStats struct {
	Total      int            `json:"total"`
	Unresolved int            `json:"unresolved"`
	Last24h    int            `json:"last_24h"`
	ByLevel    map[string]int `json:"by_level"`
}
