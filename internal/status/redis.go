package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix      = "gateway:operation:"
	defaultStatusTTL    = 24 * time.Hour
	redisConnectTimeout = 5 * time.Second
)

// RedisStoreConfig configures the Redis-backed status store.
type RedisStoreConfig struct {
	Address  string
	Password string
	DB       int
	// TTL bounds how long a tracked operation survives; zero uses the
	// 24 hour default.
	TTL    time.Duration
	Logger *zap.Logger
}

// RedisStore is the bounded Store variant: entries expire after the
// configured TTL instead of accumulating forever.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  redisConnectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	logger.Info("connected to redis for operation status tracking",
		zap.String("addr", cfg.Address),
		zap.Duration("ttl", ttl))

	return &RedisStore{client: client, ttl: ttl, logger: logger}, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Set records the status for a reference id with the store's TTL.
func (s *RedisStore) Set(ctx context.Context, referenceID string, status Status) error {
	return s.client.Set(ctx, redisKeyPrefix+referenceID, string(status), s.ttl).Err()
}

// Get reports the status for a reference id; expired entries read as
// absent.
func (s *RedisStore) Get(ctx context.Context, referenceID string) (Status, bool, error) {
	value, err := s.client.Get(ctx, redisKeyPrefix+referenceID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	parsed, err := Parse(value)
	if err != nil {
		return "", false, err
	}
	return parsed, true, nil
}
