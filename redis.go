package resq

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace is the key prefix used when none is configured.
const DefaultNamespace = "resque:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string

	// existingClient allows injecting a pre-configured *redis.Client,
	// bypassing the built-in connection setup. When set, Addr, Password
	// and DB are ignored (only Prefix is still used).
	existingClient *redis.Client
}

// RedisClient wraps a go-redis client and namespaces every key it builds.
type RedisClient struct {
	rdb    *redis.Client
	prefix string
	owned  bool // true if we created the client (and should close it)
}

// NewRedisClient creates a new RedisClient with the given options.
func NewRedisClient(opts ...RedisOption) (*RedisClient, error) {
	cfg := &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: DefaultNamespace,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	rdb := cfg.existingClient
	owned := rdb == nil
	if rdb == nil {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	return &RedisClient{rdb: rdb, prefix: normalizePrefix(cfg.Prefix), owned: owned}, nil
}

// normalizePrefix makes sure a non-empty namespace ends with a colon.
func normalizePrefix(p string) string {
	if p == "" || strings.HasSuffix(p, ":") {
		return p
	}
	return p + ":"
}

// Ping checks the Redis connection.
func (rc *RedisClient) Ping(ctx context.Context) error {
	if err := rc.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the underlying Redis connection. If the client was
// injected via WithRedisClient, Close is a no-op.
func (rc *RedisClient) Close() error {
	if !rc.owned {
		return nil
	}
	return rc.rdb.Close()
}

// Key returns a namespaced Redis key.
func (rc *RedisClient) Key(parts ...string) string {
	return rc.prefix + strings.Join(parts, ":")
}

// Unwrap returns the underlying go-redis client for advanced operations.
func (rc *RedisClient) Unwrap() *redis.Client {
	return rc.rdb
}

// Prefix returns the key prefix used by this client.
func (rc *RedisClient) Prefix() string {
	return rc.prefix
}

// RedisOption configures a RedisConfig.
type RedisOption func(*RedisConfig)

// WithRedisAddr sets the Redis server address (host:port).
func WithRedisAddr(addr string) RedisOption {
	return func(cfg *RedisConfig) { cfg.Addr = addr }
}

// WithRedisPassword sets the Redis password.
func WithRedisPassword(password string) RedisOption {
	return func(cfg *RedisConfig) { cfg.Password = password }
}

// WithRedisDB sets the Redis database number.
func WithRedisDB(db int) RedisOption {
	return func(cfg *RedisConfig) { cfg.DB = db }
}

// WithPrefix sets the namespace for all keys. A trailing colon is added
// when missing.
func WithPrefix(prefix string) RedisOption {
	return func(cfg *RedisConfig) { cfg.Prefix = prefix }
}

// WithRedisClient injects a pre-configured *redis.Client. The caller keeps
// ownership and must close it.
func WithRedisClient(rdb *redis.Client) RedisOption {
	return func(cfg *RedisConfig) { cfg.existingClient = rdb }
}
