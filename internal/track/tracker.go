package track

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/superapp/errortrack/pkg/models"
)

// Exception types used when the event carries no Go error value.
const (
	TypeCustomError  = "CustomError"
	TypeUnknownError = "UnknownError"
	TypePanic        = "Panic"
)

// Recorder is the narrow store dependency the tracker needs: an atomic
// insert-or-increment keyed by fingerprint.
type Recorder interface {
	UpsertErrorRecord(ctx context.Context, rec *models.ErrorRecord) (*models.ErrorRecord, error)
}

// Observer is invoked synchronously after each successful upsert. A
// panicking observer is isolated; it never blocks siblings or the caller.
type Observer func(*models.ErrorRecord)

// RequestMeta is request context already extracted on the reporter's side.
type RequestMeta struct {
	Method    string
	Path      string
	UserAgent string
	IPAddress string
}

// Location overrides runtime frame detection for an event.
type Location struct {
	FilePath     string
	LineNumber   int
	FunctionName string
}

// Event is one error occurrence. Err, Message, or neither may be set;
// tracking succeeds in every case.
type Event struct {
	// Err is the Go error that occurred, if any.
	Err error
	// Message overrides the error message, or stands alone as a custom entry.
	Message string
	// ExceptionType overrides type detection. Out-of-process reporters use
	// this to carry their own exception class names.
	ExceptionType string
	// Level is one of the models error levels; unrecognized values fall
	// back to "error".
	Level string
	// Request, when present, contributes user agent, client IP, method and path.
	Request *http.Request
	// RequestMeta carries pre-extracted request context from out-of-process
	// reporters. Ignored when Request is set.
	RequestMeta *RequestMeta
	// UserID and Username weakly reference the acting user, if known.
	UserID   *uuid.UUID
	Username string
	// Location pins the origin; when nil the first caller frame outside
	// this package is used.
	Location *Location
	// StackTrace carries a pre-rendered stack, e.g. from a recovered panic.
	StackTrace string
	// Context holds arbitrary JSON-safe debug data. Sensitive keys are
	// redacted before storage.
	Context map[string]any
}

// Options configures a Tracker.
type Options struct {
	// Debug enables verbose diagnostics on every tracking call.
	Debug bool
	// MessagePrefixLen bounds the normalized message prefix in the identity
	// key. Zero means DefaultMessagePrefixLen.
	MessagePrefixLen int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Tracker builds normalized ErrorRecords and commits them through the store.
// Safe for concurrent use.
type Tracker struct {
	store     Recorder
	log       *slog.Logger
	debug     bool
	prefixLen int

	mu        sync.RWMutex
	observers []Observer
}

// New creates a Tracker backed by the given store.
func New(store Recorder, opts Options) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefixLen := opts.MessagePrefixLen
	if prefixLen <= 0 {
		prefixLen = DefaultMessagePrefixLen
	}
	return &Tracker{
		store:     store,
		log:       logger,
		debug:     opts.Debug,
		prefixLen: prefixLen,
	}
}

// Subscribe registers an observer for successfully persisted records.
func (t *Tracker) Subscribe(fn Observer) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// TrackError records one error occurrence. It never panics and never returns
// an error; a failed store write yields nil.
func (t *Tracker) TrackError(ctx context.Context, ev Event) (rec *models.ErrorRecord) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("error tracking panicked", "panic", r)
			rec = nil
		}
	}()

	record := t.buildRecord(ev)

	if t.debug {
		t.log.Debug("tracking error",
			"exception_type", record.ExceptionType,
			"fingerprint", record.Fingerprint,
			"level", record.Level,
			"file", record.FilePath,
		)
	}

	saved, err := t.store.UpsertErrorRecord(ctx, record)
	if err != nil {
		t.log.Error("error tracking failed",
			"error", err,
			"exception_type", record.ExceptionType,
			"fingerprint", record.Fingerprint,
		)
		return nil
	}

	t.logRecord(saved)
	t.notify(saved)
	return saved
}

// TrackPanic records a recovered panic value. Callers pass the result of
// recover() explicitly; a nil value still produces a generic record.
func (t *Tracker) TrackPanic(ctx context.Context, recovered any, req *http.Request, extra map[string]any) *models.ErrorRecord {
	ev := Event{
		Level:      models.LevelCritical,
		Request:    req,
		StackTrace: string(debug.Stack()),
		Context:    extra,
	}
	switch v := recovered.(type) {
	case nil:
		ev.StackTrace = ""
	case error:
		ev.Err = v
	default:
		ev.ExceptionType = TypePanic
		ev.Message = fmt.Sprint(v)
	}
	return t.TrackError(ctx, ev)
}

// TrackWarning records a custom message at warning level.
func (t *Tracker) TrackWarning(ctx context.Context, message string, req *http.Request, extra map[string]any) *models.ErrorRecord {
	return t.TrackError(ctx, Event{Message: message, Level: models.LevelWarning, Request: req, Context: extra})
}

// TrackInfo records a custom message at info level.
func (t *Tracker) TrackInfo(ctx context.Context, message string, req *http.Request, extra map[string]any) *models.ErrorRecord {
	return t.TrackError(ctx, Event{Message: message, Level: models.LevelInfo, Request: req, Context: extra})
}

// TrackCritical records an error at critical level.
func (t *Tracker) TrackCritical(ctx context.Context, err error, req *http.Request, extra map[string]any) *models.ErrorRecord {
	return t.TrackError(ctx, Event{Err: err, Level: models.LevelCritical, Request: req, Context: extra})
}

func (t *Tracker) buildRecord(ev Event) *models.ErrorRecord {
	level := ev.Level
	if !models.ValidLevel(level) {
		level = models.LevelError
	}

	excType, message := classify(ev)

	loc := ev.Location
	if loc == nil {
		loc = callerLocation()
	}

	now := time.Now().UTC()
	record := &models.ErrorRecord{
		ID:               uuid.New(),
		Level:            level,
		ExceptionType:    excType,
		ExceptionMessage: message,
		UserID:           ev.UserID,
		Username:         ev.Username,
		StackTrace:       ev.StackTrace,
		Count:            1,
		FirstOccurrence:  now,
		LastOccurrence:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if loc != nil {
		record.FilePath = loc.FilePath
		record.FunctionName = loc.FunctionName
		if loc.LineNumber > 0 {
			line := loc.LineNumber
			record.LineNumber = &line
		}
	}

	debugCtx := make(map[string]any, len(ev.Context)+1)
	for k, v := range ev.Context {
		debugCtx[k] = v
	}

	switch {
	case ev.Request != nil:
		r := ev.Request
		record.RequestMethod = r.Method
		if r.URL != nil {
			record.RequestPath = r.URL.Path
		}
		record.UserAgent = r.UserAgent()
		record.IPAddress = clientIP(r)
		if details := requestDetails(r); len(details) > 0 {
			debugCtx["request"] = details
		}
	case ev.RequestMeta != nil:
		m := ev.RequestMeta
		record.RequestMethod = m.Method
		record.RequestPath = m.Path
		record.UserAgent = m.UserAgent
		if m.IPAddress != "" {
			ip := m.IPAddress
			record.IPAddress = &ip
		}
	}

	if len(debugCtx) > 0 {
		record.DebugContext = Redact(debugCtx)
	}

	record.Fingerprint = Fingerprint(
		record.ExceptionType,
		record.FilePath,
		record.FunctionName,
		record.ExceptionMessage,
		t.prefixLen,
	)
	return record
}

// logRecord mirrors the record into the application log at its own level.
func (t *Tracker) logRecord(rec *models.ErrorRecord) {
	msg := "error tracked"
	args := []any{
		"id", rec.ID,
		"exception_type", rec.ExceptionType,
		"count", rec.Count,
	}
	switch rec.Level {
	case models.LevelCritical, models.LevelError:
		t.log.Error(msg, args...)
	case models.LevelWarning:
		t.log.Warn(msg, args...)
	case models.LevelInfo:
		t.log.Info(msg, args...)
	default:
		t.log.Debug(msg, args...)
	}
}

func (t *Tracker) notify(rec *models.ErrorRecord) {
	t.mu.RLock()
	observers := make([]Observer, len(t.observers))
	copy(observers, t.observers)
	t.mu.RUnlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.log.Error("error observer panicked", "panic", r)
				}
			}()
			fn(rec)
		}()
	}
}

// classify picks the exception type and message for an event.
func classify(ev Event) (string, string) {
	excType := ev.ExceptionType
	message := ev.Message

	switch {
	case ev.Err != nil:
		if excType == "" {
			excType = errorTypeName(ev.Err)
		}
		if message == "" {
			message = ev.Err.Error()
		}
	case message != "":
		if excType == "" {
			excType = TypeCustomError
		}
	default:
		if excType == "" {
			excType = TypeUnknownError
		}
		message = "unknown error"
	}
	return excType, message
}

// errorTypeName reports the concrete type of err, pointer indirection removed.
func errorTypeName(err error) string {
	rt := reflect.TypeOf(err)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil {
		return TypeUnknownError
	}
	if name := rt.String(); name != "" {
		return name
	}
	return TypeUnknownError
}

// callerLocation walks up the stack to the first frame outside this package.
func callerLocation() *Location {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(2, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !strings.Contains(frame.Function, "errortrack/internal/track.") {
			return &Location{
				FilePath:     frame.File,
				LineNumber:   frame.Line,
				FunctionName: shortFuncName(frame.Function),
			}
		}
		if !more {
			return nil
		}
	}
}

// shortFuncName trims the package path: "a/b/pkg.Fn" -> "pkg.Fn".
func shortFuncName(full string) string {
	if i := strings.LastIndex(full, "/"); i >= 0 {
		return full[i+1:]
	}
	return full
}

// clientIP prefers the first X-Forwarded-For entry, then X-Real-IP, then the
// direct connection address. Returns nil when nothing usable is present.
func clientIP(r *http.Request) *string {
	if r == nil {
		return nil
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return &first
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return &xr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return nil
	}
	return &host
}

// requestDetails captures query parameters for the debug context. Values are
// redacted with the rest of the context before storage.
func requestDetails(r *http.Request) map[string]any {
	if r.URL == nil {
		return nil
	}
	query := r.URL.Query()
	if len(query) == 0 {
		return nil
	}
	params := make(map[string]any, len(query))
	for k, vs := range query {
		if len(vs) == 1 {
			params[k] = vs[0]
		} else {
			params[k] = strings.Join(vs, ",")
		}
	}
	return map[string]any{"query_params": params}
}
