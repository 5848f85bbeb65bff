package service

import (
	"context"
	"fmt"

	"verikey/internal/verification/models"
	"verikey/pkg/requestcontext"
)

// Available returns keys that can still be claimed, optionally filtered by
// group ("" = all groups).
func (s *Service) Available(ctx context.Context, group string) ([]*models.Key, error) {
	return s.listByState(ctx, models.StateAvailable, group)
}

// Expired returns keys whose expiry has passed, independent of claim state.
func (s *Service) Expired(ctx context.Context, group string) ([]*models.Key, error) {
	return s.listByState(ctx, models.StateExpired, group)
}

// Claimed returns keys that have been claimed.
func (s *Service) Claimed(ctx context.Context, group string) ([]*models.Key, error) {
	return s.listByState(ctx, models.StateClaimed, group)
}

// ListKeys returns keys in the given derived state.
func (s *Service) ListKeys(ctx context.Context, state models.KeyState, group string) ([]*models.Key, error) {
	return s.listByState(ctx, state, group)
}

func (s *Service) listByState(ctx context.Context, state models.KeyState, group string) ([]*models.Key, error) {
	keys, err := s.keys.ListByState(ctx, state, group, requestcontext.Now(ctx))
	if err != nil {
		return nil, fmt.Errorf("list %s keys: %w", state, err)
	}
	return keys, nil
}

// DeleteExpired bulk-removes keys past their expiry. It uses the same
// timestamp comparison as Claim, so a key that could still race a claim is
// a key the claim would reject anyway.
func (s *Service) DeleteExpired(ctx context.Context) (int64, error) {
	removed, err := s.keys.DeleteExpired(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, fmt.Errorf("delete expired keys: %w", err)
	}
	if removed > 0 {
		if s.metrics != nil {
			s.metrics.AddKeysPurged(removed)
		}
		s.logger.Info("purged expired keys", "removed", removed)
	}
	return removed, nil
}
