package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"verikey/internal/verification/models"
	"verikey/pkg/platform/sentinel"
	"verikey/pkg/requestcontext"
)

// Claim redeems the key with the exact token for claimant. The store makes
// the check-then-set transition atomic, so concurrent claims on one token
// produce exactly one winner. On success the claim event is dispatched to
// all listeners before returning.
func (s *Service) Claim(ctx context.Context, token string, claimant uuid.UUID) (*models.Key, error) {
	if claimant == uuid.Nil {
		return nil, models.ErrNoClaimant
	}

	now := requestcontext.Now(ctx)
	key, err := s.keys.Claim(ctx, token, claimant, now)
	if err != nil {
		return nil, s.classifyClaimFailure(token, err)
	}

	if s.metrics != nil {
		s.metrics.IncrementClaimsSucceeded()
	}
	s.logger.Info("key claimed", "group", key.Group, "key_id", key.ID, "claimant", claimant)

	group, err := s.groups.FindByName(ctx, key.Group)
	if err != nil {
		// The claim is committed; a missing group only degrades the event.
		s.logger.Error("claimed key references unknown group", "group", key.Group, "error", err)
	}
	s.dispatchClaimed(ctx, models.KeyClaimed{Key: key, Claimant: claimant, Group: group})

	return key, nil
}

// ClaimPreAddressed redeems a key on behalf of the principal it was
// pre-addressed to at issuance, for flows where the token is delivered
// out-of-band before any login exists.
func (s *Service) ClaimPreAddressed(ctx context.Context, token string) (*models.Key, error) {
	key, err := s.keys.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("token %q: %w", token, models.ErrKeyNotFound)
		}
		return nil, err
	}
	if key.Claimed() {
		// Pre-addressed keys keep ClaimedBy after redemption; report the
		// repeat attempt instead of re-claiming for the stored principal.
		return nil, fmt.Errorf("token %q: %w", token, models.ErrKeyAlreadyClaimed)
	}
	if key.ClaimedBy == nil {
		return nil, fmt.Errorf("token %q: %w", token, models.ErrNoClaimant)
	}
	return s.Claim(ctx, token, *key.ClaimedBy)
}

// classifyClaimFailure translates store sentinels into the user-facing
// claim error taxonomy and records the failure reason.
func (s *Service) classifyClaimFailure(token string, err error) error {
	var reason string
	var domainErr error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		reason, domainErr = "not_found", models.ErrKeyNotFound
	case errors.Is(err, sentinel.ErrExpired):
		reason, domainErr = "expired", models.ErrKeyExpired
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		reason, domainErr = "already_claimed", models.ErrKeyAlreadyClaimed
	default:
		return fmt.Errorf("claim key: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementClaimsFailed(reason)
	}
	return fmt.Errorf("token %q: %w", token, domainErr)
}

// OnKeyClaimed registers a listener invoked once per successful claim,
// after persistence, before Claim returns.
func (s *Service) OnKeyClaimed(listener models.KeyClaimedListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// dispatchClaimed delivers the event to every listener. Delivery is
// best-effort: a listener failure or panic is logged and counted but never
// undoes the claim and never stops the remaining listeners.
func (s *Service) dispatchClaimed(ctx context.Context, event models.KeyClaimed) {
	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	s.mu.RUnlock()

	for _, listener := range listeners {
		s.runListener(ctx, listener, event)
	}
}

func (s *Service) runListener(ctx context.Context, listener models.KeyClaimedListener, event models.KeyClaimed) {
	defer func() {
		if r := recover(); r != nil {
			if s.metrics != nil {
				s.metrics.IncrementListenerErrors()
			}
			s.logger.Error("claim listener panicked", "key_id", event.Key.ID, "panic", r)
		}
	}()

	if err := listener(ctx, event); err != nil {
		if s.metrics != nil {
			s.metrics.IncrementListenerErrors()
		}
		s.logger.Error("claim listener failed", "key_id", event.Key.ID, "error", err)
	}
}
