package artifacts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// Store holds generated download artifacts until they expire. Exports and
// portability payloads both go through here; the TTL is what enforces the
// expires_at contract on the job objects.
type Store interface {
	Put(ctx context.Context, key string, contentType string, body []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) (contentType string, body []byte, err error)
	Delete(ctx context.Context, key string) error
}

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Put(ctx context.Context, key, contentType string, body []byte, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(key), body, ttl)
	pipe.Set(ctx, s.key(key)+":ct", contentType, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, []byte, error) {
	body, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", nil, ErrArtifactNotFound
	}
	if err != nil {
		return "", nil, err
	}
	contentType, err := s.client.Get(ctx, s.key(key)+":ct").Result()
	if errors.Is(err, redis.Nil) {
		contentType = "application/octet-stream"
	} else if err != nil {
		return "", nil, err
	}
	return contentType, body, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key), s.key(key)+":ct").Err()
}

type memoryEntry struct {
	contentType string
	body        []byte
	expiresAt   time.Time
}

// MemoryStore backs tests and single-node deployments without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, body []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{
		contentType: contentType,
		body:        append([]byte(nil), body...),
		expiresAt:   s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return "", nil, ErrArtifactNotFound
	}
	return entry.contentType, entry.body, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
