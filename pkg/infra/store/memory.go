package store

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process implementation of Store with full TTL
// semantics. It backs single-process deployments and tests; expiry is
// evaluated lazily against an injectable clock.
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[string]memoryEntry
	timeProvider func() time.Time
}

type MemoryStoreOpts struct {
	TimeProvider func() time.Time
}

func NewMemoryStore(opts *MemoryStoreOpts) *MemoryStore {
	timeProvider := time.Now
	if opts != nil && opts.TimeProvider != nil {
		timeProvider = opts.TimeProvider
	}
	return &MemoryStore{
		entries:      make(map[string]memoryEntry),
		timeProvider: timeProvider,
	}
}

// get returns the live entry for key, pruning it if expired. Callers hold mu.
func (s *MemoryStore) get(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(s.timeProvider()) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64 = 1
	entry, ok := s.get(key)
	if ok {
		current, err := strconv.ParseInt(entry.value, 10, 64)
		if err != nil {
			return 0, err
		}
		count = current + 1
	}
	s.entries[key] = memoryEntry{
		value:     strconv.FormatInt(count, 10),
		expiresAt: entry.expiresAt,
	}
	return count, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.get(key)
	if !ok {
		return false, nil
	}
	entry.expiresAt = s.timeProvider().Add(ttl)
	s.entries[key] = entry
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.get(key)
	if !ok {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.timeProvider().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, key := range keys {
		if _, ok := s.get(key); ok {
			delete(s.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.get(key)
	return ok, nil
}

func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeProvider()
	var keys []string
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
