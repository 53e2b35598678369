package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "admission:hint:"

// Options configures the Redis connection behind HintStore.
type Options struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// HintStore keeps the last draft id per session in Redis with a sliding TTL.
type HintStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ application.HintStore = (*HintStore)(nil)

// NewClient opens a pooled client with the timeouts used across the API.
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

// NewHintStore wraps client. A zero TTL keeps hints forever.
func NewHintStore(client *redis.Client, opts Options) *HintStore {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &HintStore{client: client, prefix: prefix, ttl: opts.TTL}
}

func (s *HintStore) key(sessionKey string) string {
	return s.prefix + strings.TrimSpace(sessionKey)
}

// Remember stores applicationID for sessionKey. Empty keys are ignored.
func (s *HintStore) Remember(ctx context.Context, sessionKey, applicationID string) error {
	if strings.TrimSpace(sessionKey) == "" || strings.TrimSpace(applicationID) == "" {
		return nil
	}
	if err := s.client.Set(ctx, s.key(sessionKey), applicationID, s.ttl).Err(); err != nil {
		return fmt.Errorf("remember draft hint: %w", err)
	}
	return nil
}

// Recall returns the remembered id or "" when there is none.
func (s *HintStore) Recall(ctx context.Context, sessionKey string) (string, error) {
	if strings.TrimSpace(sessionKey) == "" {
		return "", nil
	}
	id, err := s.client.Get(ctx, s.key(sessionKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("recall draft hint: %w", err)
	}
	return id, nil
}

// Ping checks connectivity for the health endpoint.
func (s *HintStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
