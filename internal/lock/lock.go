// Package lock provides the mutual-exclusion primitives used by the
// worker pool's fingerprint table. It exists so every package that
// locks does so the same way, with go-deadlock's detection behind the
// same call sites.
package lock

import (
	"github.com/sasha-s/go-deadlock"
)

// RWMutex is a drop-in replacement for sync.RWMutex backed by
// go-deadlock, which detects lock-ordering cycles in every build at a
// small runtime cost. It is safe for the zero
// value to be used, same as sync.RWMutex.
type RWMutex struct {
	mu deadlock.RWMutex
}

func (m *RWMutex) Lock()    { m.mu.Lock() }
func (m *RWMutex) Unlock()  { m.mu.Unlock() }
func (m *RWMutex) RLock()   { m.mu.RLock() }
func (m *RWMutex) RUnlock() { m.mu.RUnlock() }

// TryRLock acquires a read lock only if it is immediately available.
func (m *RWMutex) TryRLock() bool { return m.mu.TryRLock() }

// TryLock acquires a write lock only if it is immediately available.
func (m *RWMutex) TryLock() bool { return m.mu.TryLock() }

// Mutex is the non-reader-writer counterpart, used where no readers
// ever need concurrent access (the worker pool's fingerprint table).
type Mutex struct {
	mu deadlock.Mutex
}

func (m *Mutex) Lock()   { m.mu.Lock() }
func (m *Mutex) Unlock() { m.mu.Unlock() }
