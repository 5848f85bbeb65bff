package models

import "errors"

// Expected, user-facing verification errors. These propagate unchanged to
// callers and are never retried internally: not-found means a typo'd token,
// expired and already-claimed are final states, and the configuration
// errors need an operator fix, not a retry.
var (
	// ErrNoGenerator means a group references a generator name that the
	// registry cannot resolve, so no key can be issued for it.
	ErrNoGenerator = errors.New("no generator resolvable for key group")

	// ErrKeyNotFound means no key exists with the presented token.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyExpired means the key exists but its expiry has passed. The
	// key is left intact for inspection until purged separately.
	ErrKeyExpired = errors.New("key expired")

	// ErrKeyAlreadyClaimed means the key was already claimed, regardless
	// of who is asking.
	ErrKeyAlreadyClaimed = errors.New("key already claimed")

	// ErrFactRequired means a key in a has-fact group was about to be
	// saved without a fact. Checked before persistence, never at claim
	// time.
	ErrFactRequired = errors.New("key group requires a fact")

	// ErrNoClaimant means a claim was attempted without any claimant: no
	// authenticated principal and no pre-addressed claimant on the key.
	ErrNoClaimant = errors.New("no claimant for key")

	// ErrInvalidGroup covers group validation failures (bad name, negative
	// TTL, missing generator name).
	ErrInvalidGroup = errors.New("invalid key group")
)
