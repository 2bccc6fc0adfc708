package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyWatchHash = "relay:watch"
	// watchTTL is refreshed on every write, so the hash only expires after
	// the watcher has been idle that long.
	watchTTL = 7 * 24 * time.Hour
)

// Entry is what the watcher remembers about a job it has reported.
type Entry struct {
	MessageID int64   `json:"message_id"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	Filename  string  `json:"filename"`
}

// Store keeps entries by remote job id.
type Store interface {
	Get(ctx context.Context, id string) (Entry, bool, error)
	Put(ctx context.Context, id string, e Entry) error
	Delete(ctx context.Context, id string) error
	IDs(ctx context.Context) ([]string, error)
}

// MemoryStore is a Store that lives as long as the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, id string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = e
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) IDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids, nil
}

// RedisStore keeps entries in one hash so a restarted process keeps
// editing the messages it already sent.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, key: keyWatchHash}
}

func (s *RedisStore) Get(ctx context.Context, id string) (Entry, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read watch entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode watch entry: %w", err)
	}
	return e, true, nil
}

func (s *RedisStore) Put(ctx context.Context, id string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key, id, data)
	pipe.Expire(ctx, s.key, watchTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save watch entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.HDel(ctx, s.key, id).Err()
}

func (s *RedisStore) IDs(ctx context.Context) ([]string, error) {
	return s.client.HKeys(ctx, s.key).Result()
}
