// Package locker provides mutexes keyed by name, so that work on one document
// never waits on work for another. Entries are created on demand and removed
// once nobody holds or waits for them.
//
// Written with reference to github.com/moby/locker.
package locker

import (
	"errors"
	"sync"
)

// ErrNoSuchLock is returned when unlocking a name that is not locked.
var ErrNoSuchLock = errors.New("no such lock")

// Locker hands out one mutex per name.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockCtr
}

// lockCtr is a named mutex plus the number of goroutines holding or waiting on it.
type lockCtr struct {
	mu   sync.Mutex
	refs int
}

// New creates a new Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*lockCtr)}
}

func (l *Locker) acquireRef(name string) *lockCtr {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctr, ok := l.locks[name]
	if !ok {
		ctr = &lockCtr{}
		l.locks[name] = ctr
	}
	// counted while holding l.mu so Unlock never deletes an entry someone is about to wait on
	ctr.refs++
	return ctr
}

// Lock blocks until the mutex for name is held.
func (l *Locker) Lock(name string) {
	l.acquireRef(name).mu.Lock()
}

// TryLock acquires the mutex for name if it is free.
func (l *Locker) TryLock(name string) bool {
	ctr := l.acquireRef(name)
	if ctr.mu.TryLock() {
		return true
	}

	l.mu.Lock()
	ctr.refs--
	if ctr.refs == 0 {
		delete(l.locks, name)
	}
	l.mu.Unlock()
	return false
}

// Unlock releases the mutex for name.
func (l *Locker) Unlock(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctr, ok := l.locks[name]
	if !ok {
		return ErrNoSuchLock
	}
	ctr.refs--
	if ctr.refs == 0 {
		delete(l.locks, name)
	}
	ctr.mu.Unlock()
	return nil
}

// Len returns the number of names currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
