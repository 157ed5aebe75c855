package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore records, per user, the instant before which every
// session is revoked. A zero time means nothing was revoked.
type RevocationStore interface {
	ValidSince(ctx context.Context, uid string) (time.Time, error)
	Revoke(ctx context.Context, uid string, at time.Time) error
}

// MemoryRevocations is a process-local RevocationStore.
type MemoryRevocations struct {
	mu    sync.RWMutex
	since map[string]time.Time
}

// NewMemoryRevocations returns an empty store.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{since: make(map[string]time.Time)}
}

func (m *MemoryRevocations) ValidSince(_ context.Context, uid string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since[uid], nil
}

func (m *MemoryRevocations) Revoke(_ context.Context, uid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.since[uid] = at.Truncate(time.Second)
	return nil
}

// RedisRevocations keeps revocation instants in Redis so every server
// instance sees them. Keys expire after ttl, the longest a session can live.
type RedisRevocations struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRevocations connects to redisURL and pings it.
func NewRedisRevocations(ctx context.Context, redisURL string, ttl time.Duration) (*RedisRevocations, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisRevocationsWithClient(client, ttl), nil
}

// NewRedisRevocationsWithClient wraps an existing client.
func NewRedisRevocationsWithClient(client *redis.Client, ttl time.Duration) *RedisRevocations {
	return &RedisRevocations{client: client, prefix: "revoked:", ttl: ttl}
}

func (s *RedisRevocations) key(uid string) string {
	return s.prefix + uid
}

func (s *RedisRevocations) ValidSince(ctx context.Context, uid string) (time.Time, error) {
	val, err := s.client.Get(ctx, s.key(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read revocation: %w", err)
	}
	secs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse revocation %q: %w", val, err)
	}
	return time.Unix(secs, 0), nil
}

func (s *RedisRevocations) Revoke(ctx context.Context, uid string, at time.Time) error {
	if err := s.client.Set(ctx, s.key(uid), strconv.FormatInt(at.Unix(), 10), s.ttl).Err(); err != nil {
		return fmt.Errorf("store revocation: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisRevocations) Close() error {
	return s.client.Close()
}
