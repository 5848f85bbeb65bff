package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// KeyState classifies keys for the query operations. Expired and available
// are derived from timestamps, not stored.
type KeyState string

const (
	// StateAvailable: not claimed and not past expiry.
	StateAvailable KeyState = "available"
	// StateExpired: expiry set and in the past, regardless of claim state.
	StateExpired KeyState = "expired"
	// StateClaimed: claimed at some point, regardless of expiry.
	StateClaimed KeyState = "claimed"
)

// ParseKeyState validates a state string from an external caller.
func ParseKeyState(s string) (KeyState, error) {
	switch KeyState(s) {
	case StateAvailable, StateExpired, StateClaimed:
		return KeyState(s), nil
	}
	return "", fmt.Errorf("unknown key state %q", s)
}

// Key is an issued verification token bound to a group's policy.
//
// Invariants:
//   - Token is immutable after creation and unique across all keys.
//   - ExpiresAt is computed once at creation from the group TTL and never
//     changes afterwards.
//   - ClaimedAt is one-shot: once set it is never cleared or changed.
//   - ClaimedBy may be pre-populated before issuance (out-of-band delivery
//     to an already-known principal) while ClaimedAt stays nil.
type Key struct {
	ID        uuid.UUID  `json:"id"`
	Token     string     `json:"token"`
	Group     string     `json:"group"`
	Fact      string     `json:"fact,omitempty"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	ClaimedBy *uuid.UUID `json:"claimed_by,omitempty"`
}

// NewKey constructs an unclaimed key for group, deriving the expiry from
// the group TTL.
func NewKey(group *KeyGroup, token string, now time.Time) *Key {
	k := &Key{
		ID:       uuid.New(),
		Token:    token,
		Group:    group.Name,
		IssuedAt: now,
	}
	if group.Expires() {
		expires := now.Add(group.TTL())
		k.ExpiresAt = &expires
	}
	return k
}

// Expired reports whether the key's expiry is set and has passed. The same
// comparison gates both claims and the expiry purge, so a key past its
// expiry can never be claimed even before it is purged.
func (k *Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// Claimed reports whether the key has been claimed.
func (k *Key) Claimed() bool {
	return k.ClaimedAt != nil
}

// Available reports whether the key can still be claimed.
func (k *Key) Available(now time.Time) bool {
	return !k.Claimed() && !k.Expired(now)
}

// CanClaim checks the claim preconditions in classification order: expiry
// wins over already-claimed. Pair with ApplyClaim under the store's
// atomicity guard.
func (k *Key) CanClaim(now time.Time) error {
	if k.Expired(now) {
		return fmt.Errorf("%w at %s", ErrKeyExpired, k.ExpiresAt.Format(time.RFC3339))
	}
	if k.Claimed() {
		return ErrKeyAlreadyClaimed
	}
	return nil
}

// ApplyClaim records the one-shot claim transition. Call CanClaim first;
// the store must make the check-then-set sequence atomic.
func (k *Key) ApplyClaim(claimant uuid.UUID, now time.Time) {
	k.ClaimedBy = &claimant
	k.ClaimedAt = &now
}

// ValidateFor enforces group-level constraints before persistence.
func (k *Key) ValidateFor(group *KeyGroup) error {
	if k.Group != group.Name {
		return fmt.Errorf("key belongs to group %q, not %q", k.Group, group.Name)
	}
	if group.HasFact && k.Fact == "" {
		return ErrFactRequired
	}
	return nil
}

// String renders the key for logs and operator output.
func (k *Key) String() string {
	expires := "never"
	if k.ExpiresAt != nil {
		expires = k.ExpiresAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s (%s) %s (<= %s)", k.Token, k.Group, k.IssuedAt.Format(time.RFC3339), expires)
}
