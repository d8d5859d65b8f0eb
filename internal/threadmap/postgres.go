package threadmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const ddlThreadMappings = `
CREATE TABLE IF NOT EXISTS thread_mappings (
    id            BIGSERIAL    PRIMARY KEY,
    external_id   TEXT         NOT NULL,
    external_type TEXT         NOT NULL DEFAULT 'phone',
    thread_id     TEXT         NOT NULL UNIQUE,
    call_sid      TEXT         NOT NULL DEFAULT '',
    user_name     TEXT         NOT NULL DEFAULT '',
    metadata      JSONB        NOT NULL DEFAULT '{}',
    is_active     BOOLEAN      NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_thread_mappings_active
    ON thread_mappings (external_id, external_type) WHERE is_active;

CREATE INDEX IF NOT EXISTS idx_thread_mappings_call_sid
    ON thread_mappings (call_sid) WHERE call_sid <> '';
`

// Migrate creates the thread_mappings table and its indexes. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlThreadMappings); err != nil {
		return fmt.Errorf("threadmap migrate: %w", err)
	}
	return nil
}

// PostgresStore is the production Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("threadmap: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("threadmap: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreWithPool wraps an existing pool. Migrate must have run.
func NewPostgresStoreWithPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// GetOrCreate implements [Store]. Concurrent callers racing on the same
// identifier converge on a single thread via the partial unique index.
func (s *PostgresStore) GetOrCreate(ctx context.Context, externalID, externalType, callSID, userName string) (string, bool, error) {
	if threadID, err := s.refreshExisting(ctx, externalID, externalType, callSID, userName); err == nil {
		return threadID, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", false, err
	}

	const q = `
		INSERT INTO thread_mappings (external_id, external_type, thread_id, call_sid, user_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id, external_type) WHERE is_active DO NOTHING
		RETURNING thread_id`

	var threadID string
	err := s.pool.QueryRow(ctx, q, externalID, externalType, uuid.NewString(), callSID, userName).Scan(&threadID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the insert race; the winner's thread is now active.
		threadID, err = s.refreshExisting(ctx, externalID, externalType, callSID, userName)
		if err != nil {
			return "", false, err
		}
		return threadID, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("threadmap: get or create: %w", err)
	}
	return threadID, true, nil
}

// refreshExisting returns the active thread and bumps call_sid/user_name
// with any non-empty replacements.
func (s *PostgresStore) refreshExisting(ctx context.Context, externalID, externalType, callSID, userName string) (string, error) {
	const q = `
		UPDATE thread_mappings
		SET    call_sid   = CASE WHEN $3 <> '' THEN $3 ELSE call_sid END,
		       user_name  = CASE WHEN $4 <> '' THEN $4 ELSE user_name END,
		       updated_at = now()
		WHERE  external_id = $1 AND external_type = $2 AND is_active
		RETURNING thread_id`

	var threadID string
	err := s.pool.QueryRow(ctx, q, externalID, externalType, callSID, userName).Scan(&threadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("threadmap: refresh mapping: %w", err)
	}
	return threadID, nil
}

// ByExternalID implements [Store].
func (s *PostgresStore) ByExternalID(ctx context.Context, externalID, externalType string) (string, error) {
	const q = `
		SELECT thread_id FROM thread_mappings
		WHERE  external_id = $1 AND external_type = $2 AND is_active`

	var threadID string
	err := s.pool.QueryRow(ctx, q, externalID, externalType).Scan(&threadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("threadmap: by external id: %w", err)
	}
	return threadID, nil
}

// ByCallSID implements [Store].
func (s *PostgresStore) ByCallSID(ctx context.Context, callSID string) (string, error) {
	const q = `
		SELECT thread_id FROM thread_mappings
		WHERE  call_sid = $1 AND is_active`

	var threadID string
	err := s.pool.QueryRow(ctx, q, callSID).Scan(&threadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("threadmap: by call sid: %w", err)
	}
	return threadID, nil
}

// ByThreadID implements [Store].
func (s *PostgresStore) ByThreadID(ctx context.Context, threadID string) (Mapping, error) {
	const q = `
		SELECT thread_id, external_id, external_type, call_sid, user_name, metadata, created_at, updated_at
		FROM   thread_mappings
		WHERE  thread_id = $1 AND is_active`

	var m Mapping
	err := s.pool.QueryRow(ctx, q, threadID).Scan(
		&m.ThreadID, &m.ExternalID, &m.ExternalType,
		&m.CallSID, &m.UserName, &m.Metadata,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Mapping{}, ErrNotFound
	}
	if err != nil {
		return Mapping{}, fmt.Errorf("threadmap: by thread id: %w", err)
	}
	return m, nil
}

// UpdateCallSID implements [Store].
func (s *PostgresStore) UpdateCallSID(ctx context.Context, threadID, callSID string) error {
	const q = `
		UPDATE thread_mappings
		SET    call_sid = $2, updated_at = now()
		WHERE  thread_id = $1 AND is_active`

	tag, err := s.pool.Exec(ctx, q, threadID, callSID)
	if err != nil {
		return fmt.Errorf("threadmap: update call sid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMetadata implements [Store]. The merge happens in the database so
// concurrent updates to different keys cannot clobber each other.
func (s *PostgresStore) UpdateMetadata(ctx context.Context, threadID string, metadata map[string]any) error {
	const q = `
		UPDATE thread_mappings
		SET    metadata = metadata || $2::jsonb, updated_at = now()
		WHERE  thread_id = $1 AND is_active`

	tag, err := s.pool.Exec(ctx, q, threadID, metadata)
	if err != nil {
		return fmt.Errorf("threadmap: update metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate implements [Store].
func (s *PostgresStore) Deactivate(ctx context.Context, externalID, externalType string) (bool, error) {
	const q = `
		UPDATE thread_mappings
		SET    is_active = FALSE, updated_at = now()
		WHERE  external_id = $1 AND external_type = $2 AND is_active`

	tag, err := s.pool.Exec(ctx, q, externalID, externalType)
	if err != nil {
		return false, fmt.Errorf("threadmap: deactivate: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ForceNew implements [Store].
func (s *PostgresStore) ForceNew(ctx context.Context, externalID, externalType, callSID, userName string) (string, error) {
	if _, err := s.Deactivate(ctx, externalID, externalType); err != nil {
		return "", err
	}
	threadID, _, err := s.GetOrCreate(ctx, externalID, externalType, callSID, userName)
	return threadID, err
}
