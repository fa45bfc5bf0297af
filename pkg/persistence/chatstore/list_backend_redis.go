package chatstore

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisScanBatch = 200

// RedisListBackend maps the list primitives one-to-one onto Redis list commands.
type RedisListBackend struct {
	client *redis.Client
}

var _ ListBackend = &RedisListBackend{}
var _ KeyScanner = &RedisListBackend{}

// NewRedisListBackend parses a redis:// (or rediss://, unix://) URL, connects
// and pings. The client is closed again when the ping fails.
func NewRedisListBackend(ctx context.Context, redisURL string) (*RedisListBackend, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.Wrap(ErrMissingConnectionInfo, "redis list backend: empty url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "redis list backend: parse url: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, backendError("redis list backend: ping", err)
	}
	return &RedisListBackend{client: client}, nil
}

// NewRedisListBackendFromClient wraps an existing client. The backend takes
// ownership: Close closes the client.
func NewRedisListBackendFromClient(client *redis.Client) *RedisListBackend {
	return &RedisListBackend{client: client}
}

func (s *RedisListBackend) Push(ctx context.Context, key string, items ...[]byte) (int64, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("redis list backend: client is nil")
	}
	if len(items) == 0 {
		return s.Len(ctx, key)
	}
	values := make([]interface{}, len(items))
	for i, item := range items {
		values[i] = item
	}
	// RPUSH with several values is a single atomic command.
	n, err := s.client.RPush(ctx, key, values...).Result()
	if err != nil {
		return 0, backendError("redis list backend: rpush", err)
	}
	return n, nil
}

func (s *RedisListBackend) Trim(ctx context.Context, key string, start, stop int64) error {
	if s == nil || s.client == nil {
		return errors.New("redis list backend: client is nil")
	}
	return backendError("redis list backend: ltrim", s.client.LTrim(ctx, key, start, stop).Err())
}

func (s *RedisListBackend) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis list backend: client is nil")
	}
	values, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, backendError("redis list backend: lrange", err)
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *RedisListBackend) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return errors.New("redis list backend: client is nil")
	}
	return backendError("redis list backend: del", s.client.Del(ctx, key).Err())
}

func (s *RedisListBackend) Len(ctx context.Context, key string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("redis list backend: client is nil")
	}
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, backendError("redis list backend: llen", err)
	}
	return n, nil
}

// ScanKeys walks the keyspace with SCAN rather than KEYS so large databases
// are not blocked.
func (s *RedisListBackend) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis list backend: client is nil")
	}
	pattern := "*"
	if prefix != "" {
		pattern = escapeGlob(prefix+KeySeparator) + "*"
	}
	seen := map[string]struct{}{}
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, redisScanBatch).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, backendError("redis list backend: scan", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisListBackend) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("redis list backend: client is nil")
	}
	return backendError("redis list backend: ping", s.client.Ping(ctx).Err())
}

func (s *RedisListBackend) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
