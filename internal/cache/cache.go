// Package cache provides a small JSON value cache with in-memory and Redis
// backends.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

type Cache interface {
	// Get decodes the value stored under key into dest. It reports false on a
	// miss or an expired entry.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type entry struct {
	content    []byte
	expiration time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && e.expiration.Before(now)
}

// Memory is a process-local Cache. Entries with a zero TTL never expire.
type Memory struct {
	sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]entry),
		now:   time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	m.RLock()
	e, ok := m.items[key]
	m.RUnlock()

	if !ok {
		return false, nil
	}
	if e.expired(m.now()) {
		m.Lock()
		delete(m.items, key)
		m.Unlock()
		return false, nil
	}
	if err := json.Unmarshal(e.content, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	content, err := json.Marshal(value)
	if err != nil {
		return err
	}

	e := entry{content: content}
	if ttl > 0 {
		e.expiration = m.now().Add(ttl)
	}

	m.Lock()
	m.items[key] = e
	m.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.Lock()
	delete(m.items, key)
	m.Unlock()
	return nil
}

// PurgePrefix drops every entry whose key starts with prefix.
func (m *Memory) PurgePrefix(prefix string) {
	m.Lock()
	defer m.Unlock()

	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
		}
	}
}

// CleanExpired drops expired entries and returns how many were removed.
func (m *Memory) CleanExpired() int {
	now := m.now()

	m.Lock()
	defer m.Unlock()

	removed := 0
	for key, e := range m.items {
		if e.expired(now) {
			delete(m.items, key)
			removed++
		}
	}
	return removed
}

func (m *Memory) Len() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.items)
}
