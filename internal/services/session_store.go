package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kast/internal/utils"

	goredis "github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("auth session not found")

const (
	DefaultSessionTTL      = 5 * time.Minute
	sessionKeyPrefix       = "kast:auth:"
	memorySessionStoreSize = 10000
)

// AuthSession is a completed sign-in waiting to be collected by the polling client.
type AuthSession struct {
	User      Profile   `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionStore keeps sign-in results keyed by the state nonce. Take returns a session at
// most once.
type SessionStore interface {
	Put(ctx context.Context, nonce string, s AuthSession) error
	Take(ctx context.Context, nonce string) (AuthSession, error)
}

// RedisSessionStore stores sessions with a Redis TTL so every instance sees them.
type RedisSessionStore struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

func NewRedisSessionStore(client goredis.UniversalClient, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

func (r *RedisSessionStore) Put(ctx context.Context, nonce string, s AuthSession) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKeyPrefix+nonce, payload, r.ttl).Err()
}

func (r *RedisSessionStore) Take(ctx context.Context, nonce string) (AuthSession, error) {
	val, err := r.client.GetDel(ctx, sessionKeyPrefix+nonce).Bytes()
	if errors.Is(err, goredis.Nil) {
		return AuthSession{}, ErrSessionNotFound
	}
	if err != nil {
		return AuthSession{}, err
	}
	var s AuthSession
	if err := json.Unmarshal(val, &s); err != nil {
		return AuthSession{}, fmt.Errorf("decode auth session: %w", err)
	}
	return s, nil
}

// MemorySessionStore is a single-process store for development and tests.
type MemorySessionStore struct {
	cache *utils.TTLCache[AuthSession]
	ttl   time.Duration
}

func NewMemorySessionStore(ttl time.Duration) (*MemorySessionStore, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	cache, err := utils.NewTTLCache[AuthSession](memorySessionStoreSize)
	if err != nil {
		return nil, err
	}
	return &MemorySessionStore{cache: cache, ttl: ttl}, nil
}

func (m *MemorySessionStore) Put(_ context.Context, nonce string, s AuthSession) error {
	m.cache.Set(nonce, s, m.ttl)
	return nil
}

func (m *MemorySessionStore) Take(_ context.Context, nonce string) (AuthSession, error) {
	s, ok := m.cache.Pop(nonce)
	if !ok {
		return AuthSession{}, ErrSessionNotFound
	}
	return s, nil
}

// NewSessionStore picks Redis when redisURL is set and memory otherwise.
func NewSessionStore(redisURL string, ttl time.Duration) (SessionStore, error) {
	if redisURL == "" {
		return NewMemorySessionStore(ttl)
	}
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return NewRedisSessionStore(goredis.NewClient(opts), ttl), nil
}
