package models

import (
	"context"

	"github.com/google/uuid"
)

// KeyClaimed is emitted exactly once per successful claim, after the claim
// is persisted and before Claim returns to its caller.
type KeyClaimed struct {
	Key      *Key
	Claimant uuid.UUID
	Group    *KeyGroup
}

// KeyClaimedListener reacts to a claim, e.g. marking the claimant's account
// active. Listener errors are logged by the dispatcher but never undo the
// claim and never prevent other listeners from running.
type KeyClaimedListener func(ctx context.Context, event KeyClaimed) error
