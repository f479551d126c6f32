package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/superapp/errortrack/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Pagination bounds for list queries.
const (
	DefaultPageLimit = 25
	MaxPageLimit     = 100
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	UpsertErrorRecord(ctx context.Context, rec *models.ErrorRecord) (*models.ErrorRecord, error)
	GetErrorRecord(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error)
	ListErrorRecords(ctx context.Context, filter RecordFilter) ([]*models.ErrorRecord, int, error)
	ResolveErrorRecord(ctx context.Context, id uuid.UUID, resolvedBy string, notes string) (*models.ErrorRecord, error)
	UnresolveErrorRecord(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error)
	ErrorStats(ctx context.Context) (*models.ErrorStats, error)
	PurgeResolved(ctx context.Context, olderThan time.Time) (int64, error)
}

// RecordFilter selects error records for listing. Zero values mean "no
// constraint". Results are ordered by last_occurrence descending.
type RecordFilter struct {
	Level         string
	Resolved      *bool
	ExceptionType string
	Since         time.Time
	// Search matches case-insensitively against exception type, message,
	// file path, function name, request path, and username.
	Search string
	Page   int
	Limit  int
}
