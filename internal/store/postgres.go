package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/superapp/errortrack/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Error Records ---

const recordColumns = `id, fingerprint, error_level, exception_type, exception_message,
	file_path, line_number, function_name, user_id, username,
	request_method, request_path, user_agent, ip_address, stack_trace,
	debug_context, count, first_occurrence, last_occurrence,
	resolved, resolved_by, resolved_at, resolution_notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.ErrorRecord, error) {
	var r models.ErrorRecord
	err := row.Scan(&r.ID, &r.Fingerprint, &r.Level, &r.ExceptionType, &r.ExceptionMessage,
		&r.FilePath, &r.LineNumber, &r.FunctionName, &r.UserID, &r.Username,
		&r.RequestMethod, &r.RequestPath, &r.UserAgent, &r.IPAddress, &r.StackTrace,
		&r.DebugContext, &r.Count, &r.FirstOccurrence, &r.LastOccurrence,
		&r.Resolved, &r.ResolvedBy, &r.ResolvedAt, &r.ResolutionNotes, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertErrorRecord inserts a new error signature or, when the fingerprint
// already exists, atomically increments its count and refreshes
// last_occurrence and debug_context. A recurrence of a resolved record
// reopens it. Safe under concurrent calls with the same fingerprint: the
// conflict resolution happens inside a single statement against the unique
// fingerprint index.
func (s *PostgresStore) UpsertErrorRecord(ctx context.Context, rec *models.ErrorRecord) (*models.ErrorRecord, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO error_records (
			id, fingerprint, error_level, exception_type, exception_message,
			file_path, line_number, function_name, user_id, username,
			request_method, request_path, user_agent, ip_address, stack_trace,
			debug_context, count, first_occurrence, last_occurrence, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   count = error_records.count + 1,
		   last_occurrence = GREATEST(error_records.last_occurrence, EXCLUDED.last_occurrence),
		   debug_context = EXCLUDED.debug_context,
		   error_level = EXCLUDED.error_level,
		   resolved = FALSE,
		   resolved_by = NULL,
		   resolved_at = NULL,
		   resolution_notes = '',
		   updated_at = NOW()
		 RETURNING `+recordColumns,
		rec.ID, rec.Fingerprint, rec.Level, rec.ExceptionType, rec.ExceptionMessage,
		rec.FilePath, rec.LineNumber, rec.FunctionName, rec.UserID, rec.Username,
		rec.RequestMethod, rec.RequestPath, rec.UserAgent, rec.IPAddress, rec.StackTrace,
		rec.DebugContext, rec.Count, rec.FirstOccurrence, rec.LastOccurrence, rec.CreatedAt, rec.UpdatedAt)

	result, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("upsert error record: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) GetErrorRecord(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM error_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get error record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListErrorRecords(ctx context.Context, filter RecordFilter) ([]*models.ErrorRecord, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Level != "" {
		conditions = append(conditions, fmt.Sprintf("error_level = $%d", argIdx))
		args = append(args, filter.Level)
		argIdx++
	}
	if filter.Resolved != nil {
		conditions = append(conditions, fmt.Sprintf("resolved = $%d", argIdx))
		args = append(args, *filter.Resolved)
		argIdx++
	}
	if filter.ExceptionType != "" {
		conditions = append(conditions, fmt.Sprintf("exception_type = $%d", argIdx))
		args = append(args, filter.ExceptionType)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("last_occurrence >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			`(exception_type ILIKE $%[1]d OR exception_message ILIKE $%[1]d OR file_path ILIKE $%[1]d
			  OR function_name ILIKE $%[1]d OR request_path ILIKE $%[1]d OR username ILIKE $%[1]d)`, argIdx))
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	// Count query
	var total int
	countQuery := "SELECT COUNT(*) FROM error_records WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count error records: %w", err)
	}

	// Normalize pagination
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	// Data query
	dataQuery := fmt.Sprintf(
		`SELECT `+recordColumns+` FROM error_records WHERE %s ORDER BY last_occurrence DESC LIMIT $%d OFFSET $%d`,
		where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list error records: %w", err)
	}
	defer rows.Close()

	var records []*models.ErrorRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan error record: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// ResolveErrorRecord marks a record resolved. Idempotent: resolving an
// already-resolved record overwrites the resolution metadata.
func (s *PostgresStore) ResolveErrorRecord(ctx context.Context, id uuid.UUID, resolvedBy string, notes string) (*models.ErrorRecord, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE error_records SET
		   resolved = TRUE,
		   resolved_by = $2,
		   resolved_at = NOW(),
		   resolution_notes = $3,
		   updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+recordColumns, id, resolvedBy, notes)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve error record: %w", err)
	}
	return rec, nil
}

// UnresolveErrorRecord clears all resolution metadata.
func (s *PostgresStore) UnresolveErrorRecord(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE error_records SET
		   resolved = FALSE,
		   resolved_by = NULL,
		   resolved_at = NULL,
		   resolution_notes = '',
		   updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+recordColumns, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unresolve error record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ErrorStats(ctx context.Context) (*models.ErrorStats, error) {
	stats := &models.ErrorStats{ByLevel: make(map[string]int)}

	rows, err := s.pool.Query(ctx,
		`SELECT error_level, COUNT(*) FROM error_records GROUP BY error_level`)
	if err != nil {
		return nil, fmt.Errorf("error stats by level: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("scan level count: %w", err)
		}
		stats.ByLevel[level] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error stats by level: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE NOT resolved),
		   COUNT(*) FILTER (WHERE last_occurrence >= $1)
		 FROM error_records`, time.Now().UTC().Add(-24*time.Hour),
	).Scan(&stats.Unresolved, &stats.Last24h)
	if err != nil {
		return nil, fmt.Errorf("error stats totals: %w", err)
	}

	return stats, nil
}

// PurgeResolved deletes resolved records whose resolution is older than the
// given bound and returns how many were removed. A zero bound means "now",
// which purges everything already resolved.
func (s *PostgresStore) PurgeResolved(ctx context.Context, olderThan time.Time) (int64, error) {
	if olderThan.IsZero() {
		olderThan = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM error_records WHERE resolved AND resolved_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge resolved records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
