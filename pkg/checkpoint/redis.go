package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis checkpoint backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all checkpoint keys (e.g., "docexport:runs:")
	Prefix string

	// TTL is the time-to-live for finished records (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "docexport:runs:",
		TTL:          7 * 24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisBackend stores records in Redis. Open runs are indexed in a set so
// ListIncomplete does not scan the keyspace.
type RedisBackend struct {
	cfg    RedisConfig
	client redis.UniversalClient
}

// NewRedisBackend connects to Redis and checks the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	b := NewRedisBackendWithClient(client, cfg)
	if err := b.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return b, nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &RedisBackend{cfg: cfg, client: client}
}

func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + sanitizeKey(id)
}

func (b *RedisBackend) incompleteSetKey() string {
	return b.cfg.Prefix + "index:incomplete"
}

// Save persists a record. Finished records expire after TTL.
func (b *RedisBackend) Save(ctx context.Context, r *Record) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := b.client.TxPipeline()
	if r.Done() {
		pipe.Set(ctx, b.key(r.RunUID), data, b.cfg.TTL)
		pipe.SRem(ctx, b.incompleteSetKey(), r.RunUID)
	} else {
		pipe.Set(ctx, b.key(r.RunUID), data, 0)
		pipe.SAdd(ctx, b.incompleteSetKey(), r.RunUID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint to Redis: %w", err)
	}
	return nil
}

// Load retrieves a record from Redis.
func (b *RedisBackend) Load(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to load checkpoint from Redis: %w", err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &r, nil
}

// Delete removes a record and its index entry.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.key(id))
	pipe.SRem(ctx, b.incompleteSetKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

// List scans for records whose run uid starts with prefix.
func (b *RedisBackend) List(ctx context.Context, prefix string) ([]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var records []*Record
	iter := b.client.Scan(ctx, 0, b.cfg.Prefix+sanitizeKey(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, b.cfg.Prefix+"index:") {
			continue
		}
		r, err := b.Load(ctx, strings.TrimPrefix(key, b.cfg.Prefix))
		if err != nil {
			continue
		}
		records = append(records, r)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	sortRecords(records)
	return records, nil
}

// ListIncomplete returns the records in the open-run index, pruning stale
// entries.
func (b *RedisBackend) ListIncomplete(ctx context.Context) ([]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	ids, err := b.client.SMembers(ctx, b.incompleteSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get incomplete checkpoints: %w", err)
	}

	var records []*Record
	for _, id := range ids {
		r, err := b.Load(ctx, id)
		if err != nil || r.Done() {
			b.client.SRem(ctx, b.incompleteSetKey(), id)
			continue
		}
		records = append(records, r)
	}
	sortRecords(records)
	return records, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return "redis"
}

// Ping checks the Redis connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
