//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"verikey/internal/verification/models"
	"verikey/internal/verification/store"
	"verikey/pkg/platform/sentinel"
	"verikey/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	keys     *store.PostgresKeyStore
	groups   *store.PostgresGroupStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(s.postgres.ApplySchema(context.Background(), store.Schema))
	s.keys = store.NewPostgresKeyStore(s.postgres.DB)
	s.groups = store.NewPostgresGroupStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	// Truncate in dependency order; verification_keys references key_groups.
	err := s.postgres.TruncateTables(context.Background(), "verification_keys", "key_groups")
	s.Require().NoError(err)
}

var pgNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func (s *PostgresStoreSuite) createGroup(name string, ttlMinutes int) *models.KeyGroup {
	group, err := models.NewKeyGroup(name, "sms", ttlMinutes, false, pgNow)
	s.Require().NoError(err)
	s.Require().NoError(s.groups.Create(context.Background(), group))
	return group
}

func (s *PostgresStoreSuite) createKey(token string, group *models.KeyGroup) *models.Key {
	key := models.NewKey(group, token, pgNow)
	s.Require().NoError(s.keys.Create(context.Background(), key))
	return key
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	group := s.createGroup("activate", 60)
	key := s.createKey("abcdefgh", group)

	found, err := s.keys.FindByToken(ctx, "abcdefgh")
	s.Require().NoError(err)
	s.Equal(key.ID, found.ID)
	s.Equal("activate", found.Group)
	s.Require().NotNil(found.ExpiresAt)
	s.True(found.ExpiresAt.Equal(pgNow.Add(time.Hour)))

	_, err = s.keys.FindByToken(ctx, "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDuplicateTokenConflict() {
	ctx := context.Background()
	group := s.createGroup("activate", 0)
	s.createKey("duplicate", group)

	err := s.keys.Create(ctx, models.NewKey(group, "duplicate", pgNow))
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestClaimTransitions() {
	ctx := context.Background()
	group := s.createGroup("activate", 60)
	claimant := uuid.New()

	s.Run("claims available key", func() {
		s.createKey("claimable", group)

		claimed, err := s.keys.Claim(ctx, "claimable", claimant, pgNow)
		s.Require().NoError(err)
		s.Require().NotNil(claimed.ClaimedBy)
		s.Equal(claimant, *claimed.ClaimedBy)
		s.Require().NotNil(claimed.ClaimedAt)
	})

	s.Run("second claim is already used", func() {
		_, err := s.keys.Claim(ctx, "claimable", uuid.New(), pgNow.Add(time.Second))
		s.Require().ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("expired key cannot be claimed and is not modified", func() {
		s.createKey("expiredkey", group)

		afterExpiry := pgNow.Add(2 * time.Hour)
		_, err := s.keys.Claim(ctx, "expiredkey", claimant, afterExpiry)
		s.Require().ErrorIs(err, sentinel.ErrExpired)

		found, err := s.keys.FindByToken(ctx, "expiredkey")
		s.Require().NoError(err)
		s.Nil(found.ClaimedAt)
	})

	s.Run("unknown token", func() {
		_, err := s.keys.Claim(ctx, "missing", claimant, pgNow)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestConcurrentClaims verifies the conditional UPDATE enforces the
// exactly-once guarantee under real database concurrency.
func (s *PostgresStoreSuite) TestConcurrentClaims() {
	ctx := context.Background()
	group := s.createGroup("activate", 0)
	s.createKey("contended", group)

	const goroutines = 50
	var wg sync.WaitGroup
	var successCount, alreadyUsedCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.keys.Claim(ctx, "contended", uuid.New(), pgNow)
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrAlreadyUsed) {
				alreadyUsedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one claim should succeed")
	s.Equal(int32(goroutines-1), alreadyUsedCount.Load())
}

func (s *PostgresStoreSuite) TestListByState() {
	ctx := context.Background()
	activate := s.createGroup("activate", 60)
	reset := s.createGroup("reset", 0)

	s.createKey("avail1", reset)
	s.createKey("expired1", activate)
	s.createKey("claimed1", reset)
	_, err := s.keys.Claim(ctx, "claimed1", uuid.New(), pgNow)
	s.Require().NoError(err)

	afterExpiry := pgNow.Add(2 * time.Hour)

	available, err := s.keys.ListByState(ctx, models.StateAvailable, "", afterExpiry)
	s.Require().NoError(err)
	s.Equal([]string{"avail1"}, tokenList(available))

	expired, err := s.keys.ListByState(ctx, models.StateExpired, "", afterExpiry)
	s.Require().NoError(err)
	s.Equal([]string{"expired1"}, tokenList(expired))

	claimed, err := s.keys.ListByState(ctx, models.StateClaimed, "reset", afterExpiry)
	s.Require().NoError(err)
	s.Equal([]string{"claimed1"}, tokenList(claimed))
}

func (s *PostgresStoreSuite) TestDeleteExpiredAndPurge() {
	ctx := context.Background()
	activate := s.createGroup("activate", 60)
	reset := s.createGroup("reset", 0)

	s.createKey("gone", activate)
	s.createKey("keeper", reset)

	removed, err := s.keys.DeleteExpired(ctx, pgNow.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), removed)

	_, err = s.keys.FindByToken(ctx, "keeper")
	s.NoError(err)

	s.createKey("r2", reset)
	purged, err := s.keys.PurgeGroup(ctx, "reset")
	s.Require().NoError(err)
	s.Equal(int64(2), purged)
}

func (s *PostgresStoreSuite) TestGroupStore() {
	ctx := context.Background()
	s.createGroup("activate", 60)

	found, err := s.groups.FindByName(ctx, "activate")
	s.Require().NoError(err)
	s.Equal(60, found.TTLMinutes)
	s.Equal("sms", found.Generator)

	group, err := models.NewKeyGroup("activate", "pin", 0, false, pgNow)
	s.Require().NoError(err)
	s.ErrorIs(s.groups.Create(ctx, group), sentinel.ErrConflict)

	groups, err := s.groups.List(ctx)
	s.Require().NoError(err)
	s.Len(groups, 1)

	s.Require().NoError(s.groups.Delete(ctx, "activate"))
	s.ErrorIs(s.groups.Delete(ctx, "activate"), sentinel.ErrNotFound)
}

func tokenList(keys []*models.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.Token)
	}
	return out
}
