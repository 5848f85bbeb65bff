package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"verikey/internal/verification/models"
	"verikey/pkg/platform/sentinel"
)

// MemoryKeyStore is the in-memory KeyStore used by tests and single-process
// deployments. A single mutex makes the claim transition atomic.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*models.Key // by token
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]*models.Key)}
}

func (s *MemoryKeyStore) Create(_ context.Context, key *models.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key.Token]; exists {
		return fmt.Errorf("token %q: %w", key.Token, sentinel.ErrConflict)
	}
	s.keys[key.Token] = cloneKey(key)
	return nil
}

func (s *MemoryKeyStore) FindByToken(_ context.Context, token string) (*models.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[token]
	if !ok {
		return nil, fmt.Errorf("token %q: %w", token, sentinel.ErrNotFound)
	}
	return cloneKey(key), nil
}

// Claim holds the write lock across the whole check-then-set sequence, so
// concurrent claims on one token serialize and exactly one wins.
func (s *MemoryKeyStore) Claim(_ context.Context, token string, claimant uuid.UUID, now time.Time) (*models.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[token]
	if !ok {
		return nil, fmt.Errorf("token %q: %w", token, sentinel.ErrNotFound)
	}
	if key.Expired(now) {
		return nil, fmt.Errorf("token %q: %w", token, sentinel.ErrExpired)
	}
	if key.Claimed() {
		return nil, fmt.Errorf("token %q: %w", token, sentinel.ErrAlreadyUsed)
	}
	key.ApplyClaim(claimant, now)
	return cloneKey(key), nil
}

func (s *MemoryKeyStore) ListByState(_ context.Context, state models.KeyState, group string, now time.Time) ([]*models.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Key
	for _, key := range s.keys {
		if group != "" && key.Group != group {
			continue
		}
		if matchesState(key, state, now) {
			out = append(out, cloneKey(key))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (s *MemoryKeyStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, key := range s.keys {
		if key.Expired(now) {
			delete(s.keys, token)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryKeyStore) PurgeGroup(_ context.Context, group string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, key := range s.keys {
		if key.Group == group {
			delete(s.keys, token)
			removed++
		}
	}
	return removed, nil
}

func matchesState(key *models.Key, state models.KeyState, now time.Time) bool {
	switch state {
	case models.StateAvailable:
		return key.Available(now)
	case models.StateExpired:
		return key.Expired(now)
	case models.StateClaimed:
		return key.Claimed()
	}
	return false
}

func cloneKey(key *models.Key) *models.Key {
	clone := *key
	if key.ExpiresAt != nil {
		t := *key.ExpiresAt
		clone.ExpiresAt = &t
	}
	if key.ClaimedAt != nil {
		t := *key.ClaimedAt
		clone.ClaimedAt = &t
	}
	if key.ClaimedBy != nil {
		id := *key.ClaimedBy
		clone.ClaimedBy = &id
	}
	return &clone
}

// MemoryGroupStore is the in-memory GroupStore.
type MemoryGroupStore struct {
	mu     sync.RWMutex
	groups map[string]*models.KeyGroup
}

func NewMemoryGroupStore() *MemoryGroupStore {
	return &MemoryGroupStore{groups: make(map[string]*models.KeyGroup)}
}

func (s *MemoryGroupStore) Create(_ context.Context, group *models.KeyGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.groups[group.Name]; exists {
		return fmt.Errorf("group %q: %w", group.Name, sentinel.ErrConflict)
	}
	clone := *group
	s.groups[group.Name] = &clone
	return nil
}

func (s *MemoryGroupStore) FindByName(_ context.Context, name string) (*models.KeyGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[name]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", name, sentinel.ErrNotFound)
	}
	clone := *group
	return &clone, nil
}

func (s *MemoryGroupStore) List(_ context.Context) ([]*models.KeyGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.KeyGroup, 0, len(s.groups))
	for _, group := range s.groups {
		clone := *group
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryGroupStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[name]; !ok {
		return fmt.Errorf("group %q: %w", name, sentinel.ErrNotFound)
	}
	delete(s.groups, name)
	return nil
}
