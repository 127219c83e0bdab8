// Package locks grants a single time-boxed advisory edit lock per document.
//
// A lock expires a fixed timeout after acquisition unless released earlier.
// An expired lock is treated as absent and is cleared before a new one is
// granted. Locks never gate edits; they let clients negotiate exclusive bulk
// edit windows.
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
)

// DefaultTimeout is the lock lifetime used when none is configured.
const DefaultTimeout = 5 * time.Minute

// Manager is implemented by the in-memory and Redis lock managers.
type Manager interface {
	// Acquire grants the lock to userID when no live lock exists and reports
	// whether userID holds it afterwards. It never blocks on another holder.
	Acquire(ctx context.Context, documentID, userID string) (bool, error)

	// Release drops the lock if userID holds it and reports whether it did.
	Release(ctx context.Context, documentID, userID string) (bool, error)

	// Holder returns the live lock of the document, or nil.
	Holder(ctx context.Context, documentID string) (*document.Lock, error)
}

// MemoryManager keeps locks in a process-local map.
type MemoryManager struct {
	mu      sync.Mutex
	locks   map[string]document.Lock
	timeout time.Duration
	now     func() time.Time
}

// NewMemoryManager returns a MemoryManager. A nil clock means time.Now.
func NewMemoryManager(timeout time.Duration, now func() time.Time) *MemoryManager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryManager{locks: map[string]document.Lock{}, timeout: timeout, now: now}
}

// live returns the unexpired lock of the document, clearing an expired one.
// Callers hold m.mu.
func (m *MemoryManager) live(documentID string, now time.Time) (document.Lock, bool) {
	l, ok := m.locks[documentID]
	if ok && l.Expired(now) {
		delete(m.locks, documentID)
		return document.Lock{}, false
	}
	return l, ok
}

func (m *MemoryManager) Acquire(_ context.Context, documentID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.live(documentID, now); ok {
		return l.HolderID == userID, nil
	}
	m.locks[documentID] = document.Lock{
		DocumentID: documentID,
		HolderID:   userID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.timeout),
	}
	return true, nil
}

func (m *MemoryManager) Release(_ context.Context, documentID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.live(documentID, m.now())
	if !ok || l.HolderID != userID {
		return false, nil
	}
	delete(m.locks, documentID)
	return true, nil
}

func (m *MemoryManager) Holder(_ context.Context, documentID string) (*document.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.live(documentID, m.now())
	if !ok {
		return nil, nil
	}
	return &l, nil
}
