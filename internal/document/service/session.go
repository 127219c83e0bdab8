package service

import (
	"context"
	"fmt"

	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/events"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/logger"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/metrics"
)

// JoinSession adds userID to the editors of a document and returns the
// current editors. Joining requires edit permission.
func (s *Service) JoinSession(ctx context.Context, userID, id string) ([]string, error) {
	if _, err := s.load(ctx, userID, id, document.CapabilityEdit); err != nil {
		return nil, fmt.Errorf("join session on %s: %w", id, err)
	}
	if s.presence.Join(id, userID) {
		s.notify(ctx, events.Event{Type: events.EditorJoined, DocumentID: id, ActorID: userID})
	}
	return s.presence.Editors(id), nil
}

// LeaveSession removes userID from the editors of a document. A lock held by
// userID is released first, so lockReleased is emitted before editorLeft.
func (s *Service) LeaveSession(ctx context.Context, userID, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return fmt.Errorf("leave session on %s: %w", id, storeErr(err))
	}

	released, err := s.locks.Release(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("leave session on %s: %w", id, err)
	}
	if released {
		metrics.Locks.WithLabelValues("released").Inc()
		s.notify(ctx, events.Event{Type: events.LockReleased, DocumentID: id, ActorID: userID})
	}
	if s.presence.Leave(id, userID) {
		s.notify(ctx, events.Event{Type: events.EditorLeft, DocumentID: id, ActorID: userID})
	}
	return nil
}

// ActiveEditors returns the users with an open session on a document.
func (s *Service) ActiveEditors(ctx context.Context, userID, id string) ([]string, error) {
	if _, err := s.load(ctx, userID, id, document.CapabilityView); err != nil {
		return nil, fmt.Errorf("editors of %s: %w", id, err)
	}
	return s.presence.Editors(id), nil
}

// AcquireLock tries to take the advisory lock of a document. It reports false
// without error when someone else holds a live lock. The holder asking again
// keeps the lock without extending it.
func (s *Service) AcquireLock(ctx context.Context, userID, id string) (bool, error) {
	if _, err := s.load(ctx, userID, id, document.CapabilityEdit); err != nil {
		return false, fmt.Errorf("acquire lock on %s: %w", id, err)
	}

	held, err := s.locks.Holder(ctx, id)
	if err != nil {
		return false, fmt.Errorf("acquire lock on %s: %w", id, err)
	}
	if held != nil && held.HolderID == userID {
		return true, nil
	}

	ok, err := s.locks.Acquire(ctx, id, userID)
	if err != nil {
		return false, fmt.Errorf("acquire lock on %s: %w", id, err)
	}
	if !ok {
		metrics.Locks.WithLabelValues("busy").Inc()
		return false, nil
	}

	metrics.Locks.WithLabelValues("acquired").Inc()
	logger.Debugf("lock on %s granted to %s", id, userID)
	s.notify(ctx, events.Event{Type: events.LockAcquired, DocumentID: id, ActorID: userID})
	return true, nil
}

// ReleaseLock releases the lock of a document if userID holds it and reports
// whether it did. Releasing a lock held by someone else is a no-op.
func (s *Service) ReleaseLock(ctx context.Context, userID, id string) (bool, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return false, fmt.Errorf("release lock on %s: %w", id, storeErr(err))
	}
	released, err := s.locks.Release(ctx, id, userID)
	if err != nil {
		return false, fmt.Errorf("release lock on %s: %w", id, err)
	}
	if !released {
		return false, nil
	}

	metrics.Locks.WithLabelValues("released").Inc()
	logger.Debugf("lock on %s released by %s", id, userID)
	s.notify(ctx, events.Event{Type: events.LockReleased, DocumentID: id, ActorID: userID})
	return true, nil
}

// LockStatus returns the live lock of a document, or nil.
func (s *Service) LockStatus(ctx context.Context, userID, id string) (*document.Lock, error) {
	if _, err := s.load(ctx, userID, id, document.CapabilityView); err != nil {
		return nil, fmt.Errorf("lock status of %s: %w", id, err)
	}
	l, err := s.locks.Holder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock status of %s: %w", id, err)
	}
	return l, nil
}
