package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verikey/internal/verification/models"
	"verikey/pkg/platform/sentinel"
)

func newRedisStore(t *testing.T) *RedisKeyStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisKeyStore(client)
}

func redisKey(token, group string, expiresAt *time.Time) *models.Key {
	return &models.Key{
		ID:        uuid.New(),
		Token:     token,
		Group:     group,
		IssuedAt:  storeNow,
		ExpiresAt: expiresAt,
	}
}

func TestRedisKeyStoreCreateAndFind(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	fact := "user@example.com"
	key := redisKey("abcdefgh", "activate", expiry(storeNow.Add(time.Hour)))
	key.Fact = fact
	require.NoError(t, s.Create(ctx, key))

	found, err := s.FindByToken(ctx, "abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, key.ID, found.ID)
	assert.Equal(t, "activate", found.Group)
	assert.Equal(t, fact, found.Fact)
	assert.Equal(t, storeNow, found.IssuedAt)
	require.NotNil(t, found.ExpiresAt)
	assert.Equal(t, storeNow.Add(time.Hour), *found.ExpiresAt)
	assert.Nil(t, found.ClaimedAt)
	assert.Nil(t, found.ClaimedBy)

	_, err = s.FindByToken(ctx, "missing")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	err = s.Create(ctx, redisKey("abcdefgh", "reset", nil))
	require.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestRedisKeyStoreClaim(t *testing.T) {
	ctx := context.Background()
	claimant := uuid.New()

	t.Run("claims an available key once", func(t *testing.T) {
		s := newRedisStore(t)
		require.NoError(t, s.Create(ctx, redisKey("claimable", "activate", nil)))

		claimed, err := s.Claim(ctx, "claimable", claimant, storeNow)
		require.NoError(t, err)
		require.NotNil(t, claimed.ClaimedBy)
		assert.Equal(t, claimant, *claimed.ClaimedBy)
		require.NotNil(t, claimed.ClaimedAt)
		assert.Equal(t, storeNow, *claimed.ClaimedAt)

		_, err = s.Claim(ctx, "claimable", uuid.New(), storeNow.Add(time.Second))
		require.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
	})

	t.Run("unknown token", func(t *testing.T) {
		s := newRedisStore(t)
		_, err := s.Claim(ctx, "missing", claimant, storeNow)
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("expired key stays intact", func(t *testing.T) {
		s := newRedisStore(t)
		require.NoError(t, s.Create(ctx, redisKey("expiredkey", "activate", expiry(storeNow.Add(-time.Second)))))

		_, err := s.Claim(ctx, "expiredkey", claimant, storeNow)
		require.ErrorIs(t, err, sentinel.ErrExpired)

		found, err := s.FindByToken(ctx, "expiredkey")
		require.NoError(t, err)
		assert.Nil(t, found.ClaimedAt)
	})

	t.Run("expiry boundary is inclusive", func(t *testing.T) {
		s := newRedisStore(t)
		require.NoError(t, s.Create(ctx, redisKey("boundary", "activate", expiry(storeNow))))

		_, err := s.Claim(ctx, "boundary", claimant, storeNow)
		require.ErrorIs(t, err, sentinel.ErrExpired)
	})
}

func TestRedisKeyStoreListByState(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, redisKey("avail1", "activate", nil)))
	require.NoError(t, s.Create(ctx, redisKey("expired1", "activate", expiry(storeNow.Add(-time.Second)))))
	require.NoError(t, s.Create(ctx, redisKey("claimed1", "reset", nil)))
	_, err := s.Claim(ctx, "claimed1", uuid.New(), storeNow)
	require.NoError(t, err)

	available, err := s.ListByState(ctx, models.StateAvailable, "", storeNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"avail1"}, tokens(available))

	expired, err := s.ListByState(ctx, models.StateExpired, "", storeNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"expired1"}, tokens(expired))

	claimed, err := s.ListByState(ctx, models.StateClaimed, "", storeNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"claimed1"}, tokens(claimed))

	byGroup, err := s.ListByState(ctx, models.StateClaimed, "activate", storeNow)
	require.NoError(t, err)
	assert.Empty(t, byGroup)
}

func TestRedisKeyStoreDeleteExpired(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, redisKey("keeper", "activate", nil)))
	require.NoError(t, s.Create(ctx, redisKey("gone", "activate", expiry(storeNow.Add(-time.Second)))))

	removed, err := s.DeleteExpired(ctx, storeNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.FindByToken(ctx, "keeper")
	assert.NoError(t, err)
	_, err = s.FindByToken(ctx, "gone")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	// Index entries were cleaned up as well.
	listed, err := s.ListByState(ctx, models.StateExpired, "", storeNow)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestRedisKeyStorePurgeGroup(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, redisKey("a1", "activate", nil)))
	require.NoError(t, s.Create(ctx, redisKey("a2", "activate", nil)))
	require.NoError(t, s.Create(ctx, redisKey("r1", "reset", nil)))

	removed, err := s.PurgeGroup(ctx, "activate")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = s.FindByToken(ctx, "a1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = s.FindByToken(ctx, "r1")
	assert.NoError(t, err)
}

func TestRedisGroupStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisGroupStore(client)
	ctx := context.Background()

	group, err := models.NewKeyGroup("activate", "sms", 60, true, storeNow)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, group))

	err = s.Create(ctx, group)
	require.ErrorIs(t, err, sentinel.ErrConflict)

	found, err := s.FindByName(ctx, "activate")
	require.NoError(t, err)
	assert.Equal(t, "activate", found.Name)
	assert.Equal(t, "sms", found.Generator)
	assert.Equal(t, 60, found.TTLMinutes)
	assert.True(t, found.HasFact)

	_, err = s.FindByName(ctx, "missing")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	second, err := models.NewKeyGroup("reset", "pin", 0, false, storeNow)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, second))

	groups, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "activate", groups[0].Name)
	assert.Equal(t, "reset", groups[1].Name)

	require.NoError(t, s.Delete(ctx, "activate"))
	require.ErrorIs(t, s.Delete(ctx, "activate"), sentinel.ErrNotFound)

	groups, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
}
