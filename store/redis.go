// store/redis.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/model"
)

// RedisStore persists session snapshots and backs the request rate limiter.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Successfully connected to Redis", zap.String("addr", addr))
	return &RedisStore{client: client, ttl: ttl}, nil
}

// NewRedisStoreFromClient wraps an existing client; used by tests.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Close() {
	if err := s.client.Close(); err != nil {
		logger.Error("Error closing Redis connection", zap.Error(err))
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("rbac:session:%s", sessionID)
}

// Save persists a session snapshot.
func (s *RedisStore) Save(ctx context.Context, sessionID string, snap model.Snapshot) error {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(sessionID), snapJSON, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}

	logger.Debug("Session snapshot cached", zap.String("sessionID", sessionID))
	return nil
}

// Load retrieves a session snapshot. A missing snapshot returns (nil, nil).
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*model.Snapshot, error) {
	snapJSON, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		logger.Debug("Session snapshot not found", zap.String("sessionID", sessionID))
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(snapJSON), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	logger.Debug("Session snapshot retrieved", zap.String("sessionID", sessionID))
	return &snap, nil
}

// Delete removes a session snapshot.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// RateLimit counts a hit for key within the window and reports whether the
// caller is still under the limit.
func (s *RedisStore) RateLimit(ctx context.Context, key string, limit int, per time.Duration) (bool, error) {
	rlKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := s.client.Incr(ctx, rlKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, rlKey, per).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit expiry: %w", err)
		}
	}

	return count <= int64(limit), nil
}
