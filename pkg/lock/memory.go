package lock

import (
	"context"
	"sync"
	"time"
)

// Memory holds job locks inside a single process. A consumer runs one job at
// a time, so it only excludes anything when several consumers share it.
type Memory struct {
	lock *sync.Mutex
	now  func() time.Time

	held map[string]time.Time
}

// NewMemory returns an empty in-process locker
func NewMemory() *Memory {
	return &Memory{
		lock: &sync.Mutex{},
		now:  time.Now,

		held: map[string]time.Time{},
	}
}

// Acquire refuses the key while an unexpired holder exists
func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()

	expires, ok := m.held[key]
	if ok && now.Before(expires) {
		return false, nil
	}

	// No holder or the previous one expired
	m.held[key] = now.Add(ttl)

	return true, nil
}

// Extend moves the expiry of an unexpired key
func (m *Memory) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()

	expires, ok := m.held[key]
	if !ok || !now.Before(expires) {
		return false, nil
	}

	m.held[key] = now.Add(ttl)

	return true, nil
}

// Release drops the key
func (m *Memory) Release(ctx context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	delete(m.held, key)

	return nil
}
