package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "apitree:session"

type hashCmdable interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Redis keeps all session entries in a single Redis hash.
type Redis struct {
	store hashCmdable
	raw   *redis.Client
	key   string
	ttl   time.Duration
}

var _ Store = (*Redis)(nil)

// RedisOptions configures a Redis store.
type RedisOptions struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string
	// Key is the hash key. Defaults to "apitree:session".
	Key string
	// TTL, when positive, is refreshed on every write.
	TTL time.Duration
}

// OpenRedis connects to Redis and verifies connectivity.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("redis url is required")
	}
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	raw := redis.NewClient(parsed)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s := NewRedis(raw, opts.Key, opts.TTL)
	s.raw = raw
	return s, nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = defaultRedisKey
	}
	return &Redis{store: client, key: key, ttl: ttl}
}

// Close closes the connection opened by OpenRedis.
func (r *Redis) Close() error {
	if r.raw == nil {
		return nil
	}
	return r.raw.Close()
}

func (r *Redis) Snapshot(ctx context.Context) (map[string]any, error) {
	fields, err := r.store.HGetAll(ctx, r.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read session hash: %w", err)
	}
	out := make(map[string]any, len(fields))
	for k, raw := range fields {
		v, err := decodeValue([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode session entry %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func (r *Redis) Put(ctx context.Context, entries map[string]any) error {
	encoded, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	var values []any
	var deletes []string
	for _, k := range sortedKeys(encoded) {
		if encoded[k] == nil {
			deletes = append(deletes, k)
			continue
		}
		values = append(values, k, string(encoded[k]))
	}
	if len(values) > 0 {
		if err := r.store.HSet(ctx, r.key, values...).Err(); err != nil {
			return fmt.Errorf("write session hash: %w", err)
		}
		if r.ttl > 0 {
			if err := r.store.Expire(ctx, r.key, r.ttl).Err(); err != nil {
				return fmt.Errorf("expire session hash: %w", err)
			}
		}
	}
	return r.Dispose(ctx, deletes...)
}

func (r *Redis) Dispose(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.store.HDel(ctx, r.key, keys...).Err(); err != nil {
		return fmt.Errorf("delete session entries: %w", err)
	}
	return nil
}

func (r *Redis) ClearAll(ctx context.Context) error {
	if err := r.store.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("clear session hash: %w", err)
	}
	return nil
}
