// Package lease grants workers short-lived exclusive claims on report
// requests, so a redelivered copy of an in-flight job is deferred instead of
// executed concurrently.
package lease

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process lease table. It only coordinates workers sharing
// one process.
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	held   map[string]memoryHold
	tokens uint64
}

type memoryHold struct {
	token   uint64
	expires time.Time
}

// NewMemory constructs an empty lease table.
func NewMemory() *Memory {
	return &Memory{
		now:  time.Now,
		held: make(map[string]memoryHold),
	}
}

// Acquire claims requestID for ttl. ok is false while another holder's lease
// is unexpired.
func (m *Memory) Acquire(_ context.Context, requestID string, ttl time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, exists := m.held[requestID]; exists && now.Before(h.expires) {
		return func() {}, false, nil
	}
	m.tokens++
	token := m.tokens
	m.held[requestID] = memoryHold{token: token, expires: now.Add(ttl)}

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if h, exists := m.held[requestID]; exists && h.token == token {
				delete(m.held, requestID)
			}
		})
	}
	return release, true, nil
}
