package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"verikey/internal/verification/models"
	"verikey/pkg/platform/sentinel"
)

const (
	redisKeyPrefix      = "vk:key:"
	redisTokensKey      = "vk:tokens"
	redisGroupPrefix    = "vk:group:"
	redisGroupDefPrefix = "vk:groupdef:"
	redisGroupsKey      = "vk:groups"
)

// claimScript performs the check-then-set claim transition server-side, so
// it is atomic with respect to every other claim on the same token. The
// expiry comparison (expires_at <= now) matches DeleteExpired.
var claimScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  return 'notfound'
end
local expires = redis.call('HGET', key, 'expires_at')
if expires and expires ~= '' and tonumber(expires) <= tonumber(ARGV[1]) then
  return 'expired'
end
local claimed = redis.call('HGET', key, 'claimed_at')
if claimed and claimed ~= '' then
  return 'claimed'
end
redis.call('HSET', key, 'claimed_at', ARGV[1], 'claimed_by', ARGV[2])
return 'ok'
`)

// RedisKeyStore persists keys in Redis hashes, one per token, with index
// sets per group and for the whole keyspace. Expiry is an explicit field
// rather than a Redis TTL because expired keys must stay inspectable until
// the purge sweep removes them.
//
// List and sweep operations scan the token index; this is linear in the
// number of live keys, which verification workloads keep small by purging.
type RedisKeyStore struct {
	client *redis.Client
}

func NewRedisKeyStore(client *redis.Client) *RedisKeyStore {
	return &RedisKeyStore{client: client}
}

func (s *RedisKeyStore) Create(ctx context.Context, key *models.Key) error {
	// SADD is atomic: exactly one concurrent Create for a token sees 1.
	added, err := s.client.SAdd(ctx, redisTokensKey, key.Token).Result()
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	if added == 0 {
		return fmt.Errorf("token %q: %w", key.Token, sentinel.ErrConflict)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, redisKeyPrefix+key.Token, encodeKey(key))
	pipe.SAdd(ctx, redisGroupPrefix+key.Group, key.Token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	return nil
}

func (s *RedisKeyStore) FindByToken(ctx context.Context, token string) (*models.Key, error) {
	fields, err := s.client.HGetAll(ctx, redisKeyPrefix+token).Result()
	if err != nil {
		return nil, fmt.Errorf("find key: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("token %q: %w", token, sentinel.ErrNotFound)
	}
	return decodeKey(fields)
}

func (s *RedisKeyStore) Claim(ctx context.Context, token string, claimant uuid.UUID, now time.Time) (*models.Key, error) {
	result, err := claimScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + token},
		strconv.FormatInt(now.UnixNano(), 10),
		claimant.String(),
	).Text()
	if err != nil {
		return nil, fmt.Errorf("claim key: %w", err)
	}

	switch result {
	case "ok":
		return s.FindByToken(ctx, token)
	case "notfound":
		return nil, fmt.Errorf("token %q: %w", token, sentinel.ErrNotFound)
	case "expired":
		return nil, fmt.Errorf("token %q: %w", token, sentinel.ErrExpired)
	case "claimed":
		return nil, fmt.Errorf("token %q: %w", token, sentinel.ErrAlreadyUsed)
	}
	return nil, fmt.Errorf("claim key: unexpected script result %q", result)
}

func (s *RedisKeyStore) ListByState(ctx context.Context, state models.KeyState, group string, now time.Time) ([]*models.Key, error) {
	indexKey := redisTokensKey
	if group != "" {
		indexKey = redisGroupPrefix + group
	}
	tokens, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	var out []*models.Key
	for _, token := range tokens {
		key, err := s.FindByToken(ctx, token)
		if err != nil {
			// Raced with a delete; the index entry is already gone or will
			// be cleaned by the next sweep.
			continue
		}
		if matchesState(key, state, now) {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (s *RedisKeyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tokens, err := s.client.SMembers(ctx, redisTokensKey).Result()
	if err != nil {
		return 0, fmt.Errorf("delete expired keys: %w", err)
	}

	var removed int64
	for _, token := range tokens {
		key, err := s.FindByToken(ctx, token)
		if err != nil {
			continue
		}
		if !key.Expired(now) {
			continue
		}
		if err := s.remove(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *RedisKeyStore) PurgeGroup(ctx context.Context, group string) (int64, error) {
	tokens, err := s.client.SMembers(ctx, redisGroupPrefix+group).Result()
	if err != nil {
		return 0, fmt.Errorf("purge group keys: %w", err)
	}

	var removed int64
	for _, token := range tokens {
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, redisKeyPrefix+token)
		pipe.SRem(ctx, redisTokensKey, token)
		pipe.SRem(ctx, redisGroupPrefix+group, token)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("purge group keys: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (s *RedisKeyStore) remove(ctx context.Context, key *models.Key) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisKeyPrefix+key.Token)
	pipe.SRem(ctx, redisTokensKey, key.Token)
	pipe.SRem(ctx, redisGroupPrefix+key.Group, key.Token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}

func encodeKey(key *models.Key) map[string]string {
	fields := map[string]string{
		"id":         key.ID.String(),
		"token":      key.Token,
		"group":      key.Group,
		"fact":       key.Fact,
		"issued_at":  strconv.FormatInt(key.IssuedAt.UnixNano(), 10),
		"expires_at": "",
		"claimed_at": "",
		"claimed_by": "",
	}
	if key.ExpiresAt != nil {
		fields["expires_at"] = strconv.FormatInt(key.ExpiresAt.UnixNano(), 10)
	}
	if key.ClaimedAt != nil {
		fields["claimed_at"] = strconv.FormatInt(key.ClaimedAt.UnixNano(), 10)
	}
	if key.ClaimedBy != nil {
		fields["claimed_by"] = key.ClaimedBy.String()
	}
	return fields
}

func decodeKey(fields map[string]string) (*models.Key, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("decode key id: %w", err)
	}
	issuedAt, err := decodeTime(fields["issued_at"])
	if err != nil || issuedAt == nil {
		return nil, fmt.Errorf("decode key issued_at %q: %w", fields["issued_at"], err)
	}

	key := &models.Key{
		ID:       id,
		Token:    fields["token"],
		Group:    fields["group"],
		Fact:     fields["fact"],
		IssuedAt: *issuedAt,
	}
	if key.ExpiresAt, err = decodeTime(fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("decode key expires_at: %w", err)
	}
	if key.ClaimedAt, err = decodeTime(fields["claimed_at"]); err != nil {
		return nil, fmt.Errorf("decode key claimed_at: %w", err)
	}
	if claimedBy := fields["claimed_by"]; claimedBy != "" {
		parsed, err := uuid.Parse(claimedBy)
		if err != nil {
			return nil, fmt.Errorf("decode key claimed_by: %w", err)
		}
		key.ClaimedBy = &parsed
	}
	return key, nil
}

func decodeTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	nanos, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, err
	}
	t := time.Unix(0, nanos).UTC()
	return &t, nil
}

// RedisGroupStore persists group definitions as JSON blobs with a name
// index set.
type RedisGroupStore struct {
	client *redis.Client
}

func NewRedisGroupStore(client *redis.Client) *RedisGroupStore {
	return &RedisGroupStore{client: client}
}

func (s *RedisGroupStore) Create(ctx context.Context, group *models.KeyGroup) error {
	encoded, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("encode group: %w", err)
	}
	created, err := s.client.SetNX(ctx, redisGroupDefPrefix+group.Name, encoded, 0).Result()
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	if !created {
		return fmt.Errorf("group %q: %w", group.Name, sentinel.ErrConflict)
	}
	if err := s.client.SAdd(ctx, redisGroupsKey, group.Name).Err(); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (s *RedisGroupStore) FindByName(ctx context.Context, name string) (*models.KeyGroup, error) {
	encoded, err := s.client.Get(ctx, redisGroupDefPrefix+name).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("group %q: %w", name, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find group: %w", err)
	}
	var group models.KeyGroup
	if err := json.Unmarshal([]byte(encoded), &group); err != nil {
		return nil, fmt.Errorf("decode group %q: %w", name, err)
	}
	return &group, nil
}

func (s *RedisGroupStore) List(ctx context.Context) ([]*models.KeyGroup, error) {
	names, err := s.client.SMembers(ctx, redisGroupsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	out := make([]*models.KeyGroup, 0, len(names))
	for _, name := range names {
		group, err := s.FindByName(ctx, name)
		if err != nil {
			continue
		}
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *RedisGroupStore) Delete(ctx context.Context, name string) error {
	deleted, err := s.client.Del(ctx, redisGroupDefPrefix+name).Result()
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("group %q: %w", name, sentinel.ErrNotFound)
	}
	if err := s.client.SRem(ctx, redisGroupsKey, name).Err(); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}
