package changeset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/ria/model"
)

// IdempotencyStore deduplicates change set submits carrying an idempotency
// key. Keys have the form "submit:{service}:{key}".
type IdempotencyStore interface {
	// Check returns the stored response for key. A key that was stored with
	// a different request hash yields a CONFLICT error.
	Check(ctx context.Context, key, requestHash string) (resp *model.SubmitResponse, found bool, err error)

	// Store saves a response under key for ttl.
	Store(ctx context.Context, key, requestHash string, resp model.SubmitResponse, ttl time.Duration) error
}

type idempotencyEntry struct {
	RequestHash string               `json:"request_hash"`
	Response    model.SubmitResponse `json:"response"`
}

func reusedKeyError(key string) error {
	return model.NewConflictError(fmt.Sprintf("idempotency key %q already used with a different change set", key))
}

// MemoryIdempotencyStore keeps submit responses in process memory.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	data      idempotencyEntry
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// Check implements IdempotencyStore.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key, requestHash string) (*model.SubmitResponse, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()
	if !exists {
		return nil, false, nil
	}

	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	if entry.data.RequestHash != requestHash {
		return nil, true, reusedKeyError(key)
	}
	resp := entry.data.Response
	return &resp, true, nil
}

// Store implements IdempotencyStore.
func (s *MemoryIdempotencyStore) Store(_ context.Context, key, requestHash string, resp model.SubmitResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memEntry{
		data:      idempotencyEntry{RequestHash: requestHash, Response: resp},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored keys, expired ones included.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RedisIdempotencyStore keeps submit responses in Redis with a TTL.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a Redis-backed store.
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Check implements IdempotencyStore.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key, requestHash string) (*model.SubmitResponse, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}
	if entry.RequestHash != requestHash {
		return nil, true, reusedKeyError(key)
	}
	return &entry.Response, true, nil
}

// Store implements IdempotencyStore.
func (s *RedisIdempotencyStore) Store(ctx context.Context, key, requestHash string, resp model.SubmitResponse, ttl time.Duration) error {
	data, err := json.Marshal(idempotencyEntry{RequestHash: requestHash, Response: resp})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// FormatIdempotencyKey builds the store key of a submit. Keys are scoped
// by tenant so one tenant never receives another's stored response.
func FormatIdempotencyKey(tenant, service, key string) string {
	return fmt.Sprintf("submit:%s:%s:%s", tenant, service, key)
}
