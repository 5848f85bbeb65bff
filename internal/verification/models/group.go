package models

import (
	"fmt"
	"regexp"
	"time"
)

// MaxGroupNameLength bounds group names so they stay usable in URLs and as
// a primary key.
const MaxGroupNameLength = 32

var groupNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// KeyGroup is a named policy bucket controlling how keys in it are
// generated and when they expire.
//
// Invariants:
//   - Name is slug-safe, at most 32 characters, and immutable once created
//     (it is the group's identity).
//   - TTLMinutes is never negative; 0 means keys in this group never expire.
//   - Generator names a registry entry; it may reference a name that is not
//     (yet) registered, in which case issuance fails with ErrNoGenerator.
//   - HasFact forces every key in the group to carry a non-empty fact.
type KeyGroup struct {
	Name       string    `json:"name"`
	TTLMinutes int       `json:"ttl_minutes"`
	Generator  string    `json:"generator"`
	HasFact    bool      `json:"has_fact"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewKeyGroup validates and constructs a group.
func NewKeyGroup(name, generator string, ttlMinutes int, hasFact bool, now time.Time) (*KeyGroup, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidGroup)
	}
	if len(name) > MaxGroupNameLength {
		return nil, fmt.Errorf("%w: name must be %d characters or less", ErrInvalidGroup, MaxGroupNameLength)
	}
	if !groupNameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: name may only contain letters, digits, hyphen and underscore", ErrInvalidGroup)
	}
	if generator == "" {
		return nil, fmt.Errorf("%w: generator name is required", ErrInvalidGroup)
	}
	if ttlMinutes < 0 {
		return nil, fmt.Errorf("%w: ttl must not be negative", ErrInvalidGroup)
	}
	return &KeyGroup{
		Name:       name,
		TTLMinutes: ttlMinutes,
		Generator:  generator,
		HasFact:    hasFact,
		CreatedAt:  now,
	}, nil
}

// Expires reports whether keys in this group carry an expiry timestamp.
func (g *KeyGroup) Expires() bool {
	return g.TTLMinutes > 0
}

// TTL returns the group's time-to-live as a duration, zero when keys never
// expire.
func (g *KeyGroup) TTL() time.Duration {
	return time.Duration(g.TTLMinutes) * time.Minute
}

func (g *KeyGroup) String() string {
	return g.Name
}
