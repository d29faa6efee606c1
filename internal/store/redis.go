package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/coryrvde/EVERYBODY-sub001/internal/logging"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps entries in Redis under "<namespace>:" so several
// deployments can share one database.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

var _ KV = (*RedisStore)(nil)

// NewRedisStore connects to redisURL (redis://host:port/db) and verifies the
// connection with PING.
func NewRedisStore(ctx context.Context, redisURL, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	logging.Store("Connected to redis %s (db %d, namespace %q)", opts.Addr, opts.DB, namespace)
	return NewRedisStoreWithClient(client, namespace), nil
}

// NewRedisStoreWithClient wraps an existing client. The store takes ownership
// and closes it on Close.
func NewRedisStoreWithClient(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (r *RedisStore) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *RedisStore) strip(k string) string {
	if r.namespace == "" {
		return k
	}
	return strings.TrimPrefix(k, r.namespace+":")
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	logging.StoreDebug("redis set %s (%d bytes)", key, len(value))
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(r.key(prefix)) + "*"
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, r.strip(k))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	// SCAN may return a key more than once.
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i > 0 && k == keys[i-1] {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func (r *RedisStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: "redis"}
	keys, err := r.Keys(ctx, "")
	if err != nil {
		return stats, err
	}
	if len(keys) == 0 {
		return stats, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.StrLen(ctx, r.key(k))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return stats, fmt.Errorf("redis strlen: %w", err)
	}
	for _, c := range cmds {
		n, err := c.Result()
		if err != nil {
			continue
		}
		stats.Keys++
		stats.ValueBytes += n
	}
	return stats, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
