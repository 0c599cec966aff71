package slotstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryStore implements Store with a plain mutex-guarded map. It exists for
// tests and single-node deployments, entries expire lazily on access.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryValue
	sets   map[string]map[string]struct{}
}

type memoryValue struct {
	data string
	// zero means the entry never expires
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryValue),
		sets:   make(map[string]map[string]struct{}),
	}
}

// getLocked returns the live entry for key, dropping it first when expired.
// Callers must hold s.mu.
func (s *MemoryStore) getLocked(key string) (memoryValue, bool) {
	entry, ok := s.values[key]
	if !ok {
		return memoryValue{}, false
	}
	if !entry.expiresAt.IsZero() && !time.Now().Before(entry.expiresAt) {
		delete(s.values, key)
		return memoryValue{}, false
	}
	return entry, true
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.getLocked(key); ok {
		return false, nil
	}
	s.values[key] = memoryValue{data: value, expiresAt: expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) ReleaseIfValue(_ context.Context, key string, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.getLocked(key)
	if !ok || entry.data != value {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

func (s *MemoryStore) RefreshIfValue(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.getLocked(key)
	if !ok || entry.data != value {
		return false, nil
	}
	entry.expiresAt = expiry(ttl)
	s.values[key] = entry
	return true, nil
}

func (s *MemoryStore) AdjustCounterWithFloor(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	entry, ok := s.getLocked(key)
	if ok {
		parsed, err := strconv.ParseInt(entry.data, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("adjust counter %s: value is not an integer", key)
		}
		current = parsed
	}

	current += delta
	if current < 0 {
		current = 0
	}

	next := memoryValue{data: strconv.FormatInt(current, 10), expiresAt: entry.expiresAt}
	if ttl > 0 {
		next.expiresAt = expiry(ttl)
	}
	s.values[key] = next
	return current, nil
}

func (s *MemoryStore) GetCounter(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.getLocked(key)
	if !ok {
		return 0, nil
	}
	parsed, err := strconv.ParseInt(entry.data, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("get counter %s: value is not an integer", key)
	}
	return parsed, nil
}

func (s *MemoryStore) RefreshTTL(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.getLocked(key)
	if !ok {
		return false, nil
	}
	entry.expiresAt = expiry(ttl)
	s.values[key] = entry
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

func (s *MemoryStore) AddToSet(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveFromSet(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.sets[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(s.sets, key)
		}
	}
	return nil
}

// ScanSet ignores count and returns the whole set in a single page.
func (s *MemoryStore) ScanSet(_ context.Context, key string, cursor uint64, count int64) ([]string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cursor != 0 {
		return nil, 0, nil
	}
	members := make([]string, 0, len(s.sets[key]))
	for member := range s.sets[key] {
		members = append(members, member)
	}
	return members, 0, nil
}

func (s *MemoryStore) CountSet(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.sets[key])), nil
}
