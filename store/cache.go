package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"houseparty-server/models"
	"houseparty-server/utils/logger"
)

var ErrCacheMiss = errors.New("cache: miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr bumps an integer counter and (re)sets its expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// CachedUserStore reads users through a cache. Cached copies are keyed by a
// per-user generation that every write bumps, so a fill racing a write lands
// under a generation no reader asks for anymore. Cache failures degrade to
// the underlying store.
type CachedUserStore struct {
	UserStore
	cache Cache
	ttl   time.Duration
}

func NewCachedUserStore(next UserStore, cache Cache, ttl time.Duration) *CachedUserStore {
	return &CachedUserStore{UserStore: next, cache: cache, ttl: ttl}
}

func generationKey(id string) string {
	return "user:" + id + ":gen"
}

func userKey(id string, gen int64) string {
	return "user:" + id + ":" + strconv.FormatInt(gen, 10)
}

// generation must outlive any entry written under it.
func (c *CachedUserStore) generationTTL() time.Duration {
	return 2 * c.ttl
}

func (c *CachedUserStore) generation(ctx context.Context, id string) (int64, error) {
	b, err := c.cache.Get(ctx, generationKey(id))
	if errors.Is(err, ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(b), 10, 64)
}

// cachedUser mirrors models.User with the fields the JSON projection hides.
type cachedUser struct {
	models.User
	PasswordHash string   `json:"passwordHash"`
	DeviceTokens []string `json:"deviceTokens"`
}

func (c *CachedUserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	log := logger.FromContext(ctx)
	gen, err := c.generation(ctx, id)
	if err != nil {
		log.WithError(err).Debug("user cache read failed")
		return c.UserStore.FindByID(ctx, id)
	}

	key := userKey(id, gen)
	if b, err := c.cache.Get(ctx, key); err == nil {
		var cu cachedUser
		if err := json.Unmarshal(b, &cu); err == nil {
			u := cu.User
			u.PasswordHash = cu.PasswordHash
			u.DeviceTokens = cu.DeviceTokens
			return &u, nil
		}
		log.WithField("user_id", id).Warn("discarding undecodable cached user")
	} else if !errors.Is(err, ErrCacheMiss) {
		log.WithError(err).Debug("user cache read failed")
	}

	u, err := c.UserStore.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(cachedUser{User: *u, PasswordHash: u.PasswordHash, DeviceTokens: u.DeviceTokens})
	if err == nil {
		if err := c.cache.Set(ctx, key, b, c.ttl); err != nil {
			log.WithError(err).Debug("user cache write failed")
		}
	}
	return u, nil
}

func (c *CachedUserStore) invalidate(ctx context.Context, ids ...string) {
	for _, id := range ids {
		if _, err := c.cache.Incr(ctx, generationKey(id), c.generationTTL()); err != nil {
			logger.FromContext(ctx).WithError(err).WithField("user_id", id).Warn("user cache invalidation failed")
		}
	}
}

func (c *CachedUserStore) SetEmailVerified(ctx context.Context, id string) error {
	defer c.invalidate(ctx, id)
	return c.UserStore.SetEmailVerified(ctx, id)
}

func (c *CachedUserStore) SetPasswordHash(ctx context.Context, id, hash string) error {
	defer c.invalidate(ctx, id)
	return c.UserStore.SetPasswordHash(ctx, id, hash)
}

func (c *CachedUserStore) UpdateProfile(ctx context.Context, id string, username, profilePicture *string) error {
	defer c.invalidate(ctx, id)
	return c.UserStore.UpdateProfile(ctx, id, username, profilePicture)
}

func (c *CachedUserStore) UpdateSettings(ctx context.Context, id string, settings models.Settings) error {
	defer c.invalidate(ctx, id)
	return c.UserStore.UpdateSettings(ctx, id, settings)
}

func (c *CachedUserStore) AddDeviceToken(ctx context.Context, id, token string) error {
	defer c.invalidate(ctx, id)
	return c.UserStore.AddDeviceToken(ctx, id, token)
}

func (c *CachedUserStore) RemoveDeviceTokens(ctx context.Context, id string, tokens ...string) error {
	defer c.invalidate(ctx, id)
	return c.UserStore.RemoveDeviceTokens(ctx, id, tokens...)
}

func (c *CachedUserStore) AddFriendship(ctx context.Context, a, b string) error {
	defer c.invalidate(ctx, a, b)
	return c.UserStore.AddFriendship(ctx, a, b)
}

func (c *CachedUserStore) RemoveFriendship(ctx context.Context, a, b string) error {
	defer c.invalidate(ctx, a, b)
	return c.UserStore.RemoveFriendship(ctx, a, b)
}

func (c *CachedUserStore) SetPresence(ctx context.Context, id string, inHouse bool, at time.Time) error {
	defer c.invalidate(ctx, id)
	return c.UserStore.SetPresence(ctx, id, inHouse, at)
}
