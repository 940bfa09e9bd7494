package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mailcleaner/internal/models"
	"mailcleaner/internal/store"
)

const keyPrefix = "mailcleaner:lock:"

// releaseScript deletes the key only if the caller still owns it.
var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and cjson.decode(v)['owner'] == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a store.LockStore for deployments that already run Redis next to
// several API or worker replicas. Redis expires the key itself, so an
// abandoned lock disappears after its TTL without a health check.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and pings it to ensure it's alive.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) TryLock(ctx context.Context, l models.Lock) (bool, error) {
	val, err := json.Marshal(l)
	if err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, keyPrefix+l.Name, val, l.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

func (r *Redis) Unlock(ctx context.Context, name, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{keyPrefix + name}, owner).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

func (r *Redis) GetLock(ctx context.Context, name string) (*models.Lock, error) {
	raw, err := r.client.Get(ctx, keyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var l models.Lock
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode lock %s: %w", name, err)
	}
	return &l, nil
}

func (r *Redis) ForceUnlock(ctx context.Context, name string) error {
	return r.client.Del(ctx, keyPrefix+name).Err()
}

func (r *Redis) Close() error { return r.client.Close() }
