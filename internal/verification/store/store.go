// Package store persists verification keys and key groups.
//
// Stores are interface-driven so the service layer stays testable and
// deployments can pick in-memory, PostgreSQL, or Redis persistence without
// rewiring business code. Stores are pure I/O plus the single atomicity
// guarantee the claim transition needs; all other domain logic belongs in
// the service.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"verikey/internal/verification/models"
)

// KeyStore persists issued keys.
//
// Claim is the one operation with semantics beyond plain I/O: it must
// perform the check-then-set transition atomically with respect to other
// Claim calls on the same token. Implementations use a conditional update
// (postgres), a server-side script (redis), or a mutex (memory). A plain
// read-then-write is not an acceptable implementation.
type KeyStore interface {
	// Create persists a new key. A token collision surfaces as
	// sentinel.ErrConflict; there is no regenerate-on-collision retry.
	Create(ctx context.Context, key *models.Key) error

	// FindByToken returns the key with the exact token, or
	// sentinel.ErrNotFound.
	FindByToken(ctx context.Context, token string) (*models.Key, error)

	// Claim sets claimed_by/claimed_at iff the key exists, is unexpired at
	// now, and is unclaimed. Failures are classified as
	// sentinel.ErrNotFound, sentinel.ErrExpired, or sentinel.ErrAlreadyUsed.
	// Expiry uses the same expires_at <= now comparison as DeleteExpired.
	Claim(ctx context.Context, token string, claimant uuid.UUID, now time.Time) (*models.Key, error)

	// ListByState returns keys in the given derived state, optionally
	// filtered by group ("" = all groups).
	ListByState(ctx context.Context, state models.KeyState, group string, now time.Time) ([]*models.Key, error)

	// DeleteExpired bulk-deletes keys whose expiry has passed, independent
	// of claim state, and returns the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// PurgeGroup deletes every key belonging to group and returns the
	// number removed.
	PurgeGroup(ctx context.Context, group string) (int64, error)
}

// GroupStore persists key groups.
type GroupStore interface {
	// Create persists a new group; a duplicate name surfaces as
	// sentinel.ErrConflict.
	Create(ctx context.Context, group *models.KeyGroup) error

	// FindByName returns the group, or sentinel.ErrNotFound.
	FindByName(ctx context.Context, name string) (*models.KeyGroup, error)

	// List returns all groups ordered by name.
	List(ctx context.Context) ([]*models.KeyGroup, error)

	// Delete removes the group, or sentinel.ErrNotFound. Callers purge the
	// group's keys first.
	Delete(ctx context.Context, name string) error
}
