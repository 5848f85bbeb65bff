// Package service implements the verification key engine: issuing keys
// under a group's policy, the one-shot claim transition, the derived-state
// queries, and claim event dispatch.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"verikey/internal/verification/generator"
	"verikey/internal/verification/metrics"
	"verikey/internal/verification/models"
	"verikey/internal/verification/store"
	"verikey/pkg/platform/sentinel"
	"verikey/pkg/requestcontext"
)

// Service orchestrates key issuance and claims. Domain logic lives here;
// stores supply I/O plus the atomic claim primitive.
type Service struct {
	keys     store.KeyStore
	groups   store.GroupStore
	registry *generator.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.RWMutex
	listeners []models.KeyClaimedListener
}

// Option configures optional service dependencies.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics wires Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the service. The registry is passed explicitly rather than
// read from the process-wide default so ownership stays with the caller.
func New(keys store.KeyStore, groups store.GroupStore, registry *generator.Registry, opts ...Option) *Service {
	s := &Service{
		keys:     keys,
		groups:   groups,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateGroup validates and persists a new key group. The generator name is
// allowed to reference a not-yet-registered generator; issuance will fail
// until it is registered, so we log the gap instead of rejecting it.
func (s *Service) CreateGroup(ctx context.Context, name, generatorName string, ttlMinutes int, hasFact bool) (*models.KeyGroup, error) {
	group, err := models.NewKeyGroup(name, generatorName, ttlMinutes, hasFact, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if s.registry.Lookup(generatorName, nil) == nil {
		s.logger.Warn("key group references unregistered generator",
			"group", name, "generator", generatorName)
	}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, fmt.Errorf("create key group: %w", err)
	}
	return group, nil
}

// GetGroup returns the group by name.
func (s *Service) GetGroup(ctx context.Context, name string) (*models.KeyGroup, error) {
	return s.groups.FindByName(ctx, name)
}

// ListGroups returns all groups.
func (s *Service) ListGroups(ctx context.Context) ([]*models.KeyGroup, error) {
	return s.groups.List(ctx)
}

// PurgeGroup deletes every key belonging to the group. Irreversible.
func (s *Service) PurgeGroup(ctx context.Context, name string) (int64, error) {
	if _, err := s.groups.FindByName(ctx, name); err != nil {
		return 0, err
	}
	removed, err := s.keys.PurgeGroup(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("purge group %q: %w", name, err)
	}
	if s.metrics != nil {
		s.metrics.AddKeysPurged(removed)
	}
	s.logger.Info("purged group keys", "group", name, "removed", removed)
	return removed, nil
}

// DeleteGroup purges the group's keys and removes the group itself.
func (s *Service) DeleteGroup(ctx context.Context, name string) error {
	if _, err := s.PurgeGroup(ctx, name); err != nil {
		return err
	}
	return s.groups.Delete(ctx, name)
}

// GenerateOption configures a single key issuance.
type GenerateOption func(*generateParams)

type generateParams struct {
	fact     string
	claimant *uuid.UUID
	args     []string
	seed     *int64
}

// WithFact attaches the fact the key verifies (e.g. the email address).
func WithFact(fact string) GenerateOption {
	return func(p *generateParams) { p.fact = fact }
}

// WithClaimant pre-addresses the key to a known principal. The key stays
// unclaimed until that principal redeems it.
func WithClaimant(claimant uuid.UUID) GenerateOption {
	return func(p *generateParams) { p.claimant = &claimant }
}

// WithGeneratorArgs feeds extra context into digest-based generators.
func WithGeneratorArgs(args ...string) GenerateOption {
	return func(p *generateParams) { p.args = args }
}

// WithSeed requests deterministic generation. For tests only: a fixed seed
// makes tokens predictable, so production issuance must never set it.
func WithSeed(seed int64) GenerateOption {
	return func(p *generateParams) { p.seed = &seed }
}

// GenerateKey mints a key under the group's policy: resolve the group's
// generator, produce a token, derive the expiry from the group TTL, and
// persist. A token collision is surfaced as a conflict error rather than
// retried; callers decide whether to re-issue.
func (s *Service) GenerateKey(ctx context.Context, groupName string, opts ...GenerateOption) (*models.Key, error) {
	var p generateParams
	for _, opt := range opts {
		opt(&p)
	}

	group, err := s.groups.FindByName(ctx, groupName)
	if err != nil {
		return nil, err
	}

	gen := s.registry.Lookup(group.Generator, nil)
	if gen == nil {
		return nil, fmt.Errorf("group %q generator %q: %w", group.Name, group.Generator, models.ErrNoGenerator)
	}
	if p.seed != nil {
		seeder, ok := gen.(generator.Seeder)
		if !ok {
			return nil, fmt.Errorf("group %q generator %q does not support seeding", group.Name, group.Generator)
		}
		gen = seeder.Seeded(*p.seed)
	}

	token, err := gen.Generate(p.args...)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	key := models.NewKey(group, token, requestcontext.Now(ctx))
	key.Fact = p.fact
	key.ClaimedBy = p.claimant
	if err := key.ValidateFor(group); err != nil {
		return nil, err
	}

	if err := s.keys.Create(ctx, key); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, fmt.Errorf("token collision in group %q: %w", group.Name, err)
		}
		return nil, fmt.Errorf("persist key: %w", err)
	}

	if s.metrics != nil {
		s.metrics.IncrementKeysIssued()
	}
	s.logger.Info("issued verification key",
		"group", group.Name, "key_id", key.ID, "expires_at", key.ExpiresAt)
	return key, nil
}
