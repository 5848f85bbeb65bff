package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"verikey/internal/verification/models"
	"verikey/pkg/platform/sentinel"
)

// Schema is the DDL the postgres stores expect. Applied by the integration
// test harness; production deployments manage it with their own migration
// tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS key_groups (
	name        TEXT PRIMARY KEY,
	ttl_minutes INTEGER NOT NULL DEFAULT 0,
	generator   TEXT NOT NULL,
	has_fact    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS verification_keys (
	id         UUID PRIMARY KEY,
	token      TEXT NOT NULL UNIQUE,
	group_name TEXT NOT NULL REFERENCES key_groups(name) ON DELETE CASCADE,
	fact       TEXT NOT NULL DEFAULT '',
	issued_at  TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	claimed_at TIMESTAMPTZ,
	claimed_by UUID
);

CREATE INDEX IF NOT EXISTS verification_keys_group_idx ON verification_keys (group_name);
CREATE INDEX IF NOT EXISTS verification_keys_expires_idx ON verification_keys (expires_at) WHERE expires_at IS NOT NULL;
`

const uniqueViolation = "23505"

const keyColumns = "id, token, group_name, fact, issued_at, expires_at, claimed_at, claimed_by"

// PostgresKeyStore persists keys in PostgreSQL. This store is pure I/O
// except for the atomic conditional claim update.
type PostgresKeyStore struct {
	db *sql.DB
}

func NewPostgresKeyStore(db *sql.DB) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

func (s *PostgresKeyStore) Create(ctx context.Context, key *models.Key) error {
	query := `
		INSERT INTO verification_keys (id, token, group_name, fact, issued_at, expires_at, claimed_at, claimed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		key.ID,
		key.Token,
		key.Group,
		key.Fact,
		key.IssuedAt,
		key.ExpiresAt,
		key.ClaimedAt,
		key.ClaimedBy,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("token %q: %w", key.Token, sentinel.ErrConflict)
		}
		return fmt.Errorf("create key: %w", err)
	}
	return nil
}

func (s *PostgresKeyStore) FindByToken(ctx context.Context, token string) (*models.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM verification_keys WHERE token = $1`
	key, err := scanKey(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token %q: %w", token, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find key: %w", err)
	}
	return key, nil
}

// Claim performs the transition as a single conditional UPDATE so that
// concurrent claims on the same token cannot both succeed. When no row
// matches, a follow-up SELECT classifies the failure; the classification
// read races only with other failures, never with a successful claim.
func (s *PostgresKeyStore) Claim(ctx context.Context, token string, claimant uuid.UUID, now time.Time) (*models.Key, error) {
	query := `
		UPDATE verification_keys
		SET claimed_at = $2, claimed_by = $3
		WHERE token = $1
		  AND claimed_at IS NULL
		  AND (expires_at IS NULL OR expires_at > $2)
		RETURNING ` + keyColumns
	key, err := scanKey(s.db.QueryRowContext(ctx, query, token, now, claimant))
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim key: %w", err)
	}

	existing, err := s.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if existing.Expired(now) {
		return nil, fmt.Errorf("token %q: %w", token, sentinel.ErrExpired)
	}
	return nil, fmt.Errorf("token %q: %w", token, sentinel.ErrAlreadyUsed)
}

func (s *PostgresKeyStore) ListByState(ctx context.Context, state models.KeyState, group string, now time.Time) ([]*models.Key, error) {
	var (
		predicate string
		args      []any
	)
	switch state {
	case models.StateAvailable:
		predicate = `claimed_at IS NULL AND (expires_at IS NULL OR expires_at > $1)`
		args = append(args, now)
	case models.StateExpired:
		predicate = `expires_at IS NOT NULL AND expires_at <= $1`
		args = append(args, now)
	case models.StateClaimed:
		predicate = `claimed_at IS NOT NULL`
	default:
		return nil, fmt.Errorf("list keys: unknown state %q", state)
	}

	query := `SELECT ` + keyColumns + ` FROM verification_keys WHERE ` + predicate
	if group != "" {
		args = append(args, group)
		query += fmt.Sprintf(` AND group_name = $%d`, len(args))
	}
	query += ` ORDER BY issued_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var out []*models.Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return out, nil
}

func (s *PostgresKeyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_keys WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired keys: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired keys rows affected: %w", err)
	}
	return rows, nil
}

func (s *PostgresKeyStore) PurgeGroup(ctx context.Context, group string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_keys WHERE group_name = $1`, group)
	if err != nil {
		return 0, fmt.Errorf("purge group keys: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge group keys rows affected: %w", err)
	}
	return rows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*models.Key, error) {
	var (
		key       models.Key
		expiresAt sql.NullTime
		claimedAt sql.NullTime
		claimedBy uuid.NullUUID
	)
	err := row.Scan(&key.ID, &key.Token, &key.Group, &key.Fact, &key.IssuedAt, &expiresAt, &claimedAt, &claimedBy)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if claimedAt.Valid {
		key.ClaimedAt = &claimedAt.Time
	}
	if claimedBy.Valid {
		key.ClaimedBy = &claimedBy.UUID
	}
	return &key, nil
}

// PostgresGroupStore persists key groups in PostgreSQL.
type PostgresGroupStore struct {
	db *sql.DB
}

func NewPostgresGroupStore(db *sql.DB) *PostgresGroupStore {
	return &PostgresGroupStore{db: db}
}

func (s *PostgresGroupStore) Create(ctx context.Context, group *models.KeyGroup) error {
	query := `
		INSERT INTO key_groups (name, ttl_minutes, generator, has_fact, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		group.Name, group.TTLMinutes, group.Generator, group.HasFact, group.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("group %q: %w", group.Name, sentinel.ErrConflict)
		}
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (s *PostgresGroupStore) FindByName(ctx context.Context, name string) (*models.KeyGroup, error) {
	query := `SELECT name, ttl_minutes, generator, has_fact, created_at FROM key_groups WHERE name = $1`
	var group models.KeyGroup
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&group.Name, &group.TTLMinutes, &group.Generator, &group.HasFact, &group.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("group %q: %w", name, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find group: %w", err)
	}
	return &group, nil
}

func (s *PostgresGroupStore) List(ctx context.Context) ([]*models.KeyGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, ttl_minutes, generator, has_fact, created_at FROM key_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []*models.KeyGroup
	for rows.Next() {
		var group models.KeyGroup
		if err := rows.Scan(&group.Name, &group.TTLMinutes, &group.Generator, &group.HasFact, &group.CreatedAt); err != nil {
			return nil, fmt.Errorf("list groups: %w", err)
		}
		out = append(out, &group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return out, nil
}

func (s *PostgresGroupStore) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM key_groups WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete group rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("group %q: %w", name, sentinel.ErrNotFound)
	}
	return nil
}
