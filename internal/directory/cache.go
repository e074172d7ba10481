package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// redisCmdable is the part of *redis.Client the cache uses.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

const (
	cacheLockTTL      = 5 * time.Second
	cacheLockAttempts = 5
	cacheLockWait     = 50 * time.Millisecond
)

// CachedDirectory is a read-through Redis cache in front of another Directory.
// Only successful lookups are cached. Redis failures degrade to the backing
// directory.
type CachedDirectory struct {
	next   Directory
	client redisCmdable
	prefix string
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewCachedDirectory(next Directory, client redisCmdable, prefix string, ttl time.Duration, log logrus.FieldLogger) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{next: next, client: client, prefix: prefix, ttl: ttl, log: log}
}

// NewRedisClient pings addr before returning the client.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *CachedDirectory) VoiceID(ctx context.Context, userID string) (string, error) {
	var out string
	err := c.load(ctx, "voice:"+userID, &out, func() (any, error) {
		return c.next.VoiceID(ctx, userID)
	})
	return out, err
}

func (c *CachedDirectory) Profile(ctx context.Context, userID string) (Profile, error) {
	var out Profile
	err := c.load(ctx, "profile:"+userID, &out, func() (any, error) {
		return c.next.Profile(ctx, userID)
	})
	return out, err
}

// Invalidate drops both cached entries for userID.
func (c *CachedDirectory) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.prefix+"voice:"+userID, c.prefix+"profile:"+userID).Err()
}

func (c *CachedDirectory) load(ctx context.Context, key string, out any, loader func() (any, error)) error {
	fullKey := c.prefix + key
	if c.readCached(ctx, fullKey, out) {
		return nil
	}

	lockKey := c.prefix + "lock:" + key
	for i := 0; i < cacheLockAttempts; i++ {
		locked, err := c.client.SetNX(ctx, lockKey, "1", cacheLockTTL).Result()
		if err != nil {
			break
		}
		if locked {
			defer c.client.Del(ctx, lockKey)
			return c.fill(ctx, fullKey, out, loader)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cacheLockWait):
		}
		if c.readCached(ctx, fullKey, out) {
			return nil
		}
	}
	return c.fill(ctx, fullKey, out, loader)
}

func (c *CachedDirectory) fill(ctx context.Context, fullKey string, out any, loader func() (any, error)) error {
	v, err := loader()
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, fullKey, data, c.ttl).Err(); err != nil && c.log != nil {
		c.log.WithError(err).WithField("key", fullKey).Warn("directory cache write failed")
	}
	return json.Unmarshal(data, out)
}

func (c *CachedDirectory) readCached(ctx context.Context, fullKey string, out any) bool {
	data, err := c.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.log != nil {
			c.log.WithError(err).WithField("key", fullKey).Warn("directory cache read failed")
		}
		return false
	}
	return json.Unmarshal(data, out) == nil
}
