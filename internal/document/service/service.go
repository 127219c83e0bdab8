// Package service implements the collaboration core: the conflict-aware edit
// engine, comment threads, the review state machine, editing sessions and
// advisory locks, and the document lifecycle around them.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document/repository"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/events"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/locks"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/presence"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/locker"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/logger"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/metrics"
)

// DefaultConflictWindow is how far back ApplyEdit looks for overlapping edits.
const DefaultConflictWindow = 30 * time.Second

// Archiver stores a snapshot of a document that was just published and
// returns the key it was stored under.
type Archiver interface {
	ArchivePublished(ctx context.Context, d *document.Document) (string, error)
}

// Service coordinates the document store, the lock manager, the presence
// registry and the notifier.
type Service struct {
	repo     repository.Repository
	locks    locks.Manager
	presence *presence.Registry
	notifier events.Notifier
	archiver Archiver

	docLocks *locker.Locker
	window   time.Duration
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithConflictWindow sets the trailing window of the edit conflict check.
func WithConflictWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithArchiver enables snapshots of approved documents.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// New returns a Service. A nil notifier discards events.
func New(
	repo repository.Repository,
	lm locks.Manager,
	reg *presence.Registry,
	n events.Notifier,
	opts ...Option,
) *Service {
	if n == nil {
		n = events.Discard{}
	}
	if reg == nil {
		reg = presence.NewRegistry()
	}
	s := &Service{
		repo:     repo,
		locks:    lm,
		presence: reg,
		notifier: n,
		docLocks: locker.New(),
		window:   DefaultConflictWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping reports whether the document store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return storeErr(s.repo.Ping(ctx))
}

// NewDocument is the input of CreateDocument.
type NewDocument struct {
	Title         string
	Content       string
	Collaborators []string
	Permissions   document.Permissions
}

// CreateDocument stores a draft at the initial version owned by creatorID.
func (s *Service) CreateDocument(ctx context.Context, creatorID string, in NewDocument) (*document.Document, error) {
	if creatorID == "" {
		return nil, fmt.Errorf("create document: missing creator: %w", document.ErrInvalidArgument)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("create document: empty title: %w", document.ErrInvalidArgument)
	}

	now := s.now().UTC()
	d := &document.Document{
		Title:     title,
		Content:   in.Content,
		CreatorID: creatorID,
		Status:    document.StatusDraft,
		Version:   document.InitialVersion,
		CreatedAt: now,
	}
	document.Grant{
		Collaborators: in.Collaborators,
		CanEdit:       in.Permissions.CanEdit,
		CanComment:    in.Permissions.CanComment,
		CanApprove:    in.Permissions.CanApprove,
	}.Apply(d)

	id, err := s.repo.Create(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", storeErr(err))
	}
	created, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", storeErr(err))
	}

	s.notify(ctx, events.Event{
		Type:       events.PostCreated,
		DocumentID: id,
		ActorID:    creatorID,
		Payload:    map[string]any{"title": created.Title, "version": created.Version},
	})
	return created, nil
}

// GetDocument returns a document the user may view.
func (s *Service) GetDocument(ctx context.Context, userID, id string) (*document.Document, error) {
	return s.load(ctx, userID, id, document.CapabilityView)
}

// ListDocuments returns the documents userID may view.
func (s *Service) ListDocuments(ctx context.Context, userID string) ([]*document.Document, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", storeErr(err))
	}
	out := make([]*document.Document, 0, len(all))
	for _, d := range all {
		if document.HasCapability(d, userID, document.CapabilityView) {
			out = append(out, d)
		}
	}
	return out, nil
}

// DeleteDocument removes a document with its edits, comments and review
// history. Only the creator may delete. Presence and any lock are dropped.
func (s *Service) DeleteDocument(ctx context.Context, userID, id string) error {
	if err := s.deleteDocument(ctx, userID, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	s.presence.Forget(id)
	if held, err := s.locks.Holder(ctx, id); err != nil {
		logger.Warnf("delete %s: read lock: %v", id, err)
	} else if held != nil {
		if _, err := s.locks.Release(ctx, id, held.HolderID); err != nil {
			logger.Warnf("delete %s: release lock of %s: %v", id, held.HolderID, err)
		}
	}

	s.notify(ctx, events.Event{Type: events.DocumentDeleted, DocumentID: id, ActorID: userID})
	return nil
}

func (s *Service) deleteDocument(ctx context.Context, userID, id string) error {
	unlock := s.lockDocument(id)
	defer unlock()

	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	if d.CreatorID != userID {
		return fmt.Errorf("only the creator may delete: %w", document.ErrPermissionDenied)
	}
	return storeErr(s.repo.Delete(ctx, id))
}

// GrantAccess adds collaborators and explicit grants. Only the creator may
// grant, and grants are never removed.
func (s *Service) GrantAccess(ctx context.Context, userID, id string, g document.Grant) (*document.Document, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("grant access to %s: %w", id, storeErr(err))
	}
	if d.CreatorID != userID {
		return nil, fmt.Errorf("grant access to %s: only the creator may grant: %w", id, document.ErrPermissionDenied)
	}
	updated, err := s.repo.UpdateAccess(ctx, id, g)
	if err != nil {
		return nil, fmt.Errorf("grant access to %s: %w", id, storeErr(err))
	}

	s.notify(ctx, events.Event{
		Type:       events.AccessGranted,
		DocumentID: id,
		ActorID:    userID,
		Payload: map[string]any{
			"collaborators": g.Collaborators,
			"canEdit":       g.CanEdit,
			"canComment":    g.CanComment,
			"canApprove":    g.CanApprove,
		},
	})
	return updated, nil
}

// load reads a document and checks userID holds capability c on it.
func (s *Service) load(ctx context.Context, userID, id string, c document.Capability) (*document.Document, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	if !document.HasCapability(d, userID, c) {
		return nil, fmt.Errorf("%s %s: %w", c, id, document.ErrPermissionDenied)
	}
	return d, nil
}

// lockDocument serializes read-check-write sequences on one document.
func (s *Service) lockDocument(id string) func() {
	s.docLocks.Lock(id)
	return func() {
		if err := s.docLocks.Unlock(id); err != nil {
			logger.Errorf("unlock document %s: %v", id, err)
		}
	}
}

// notify publishes e. A failed publish never fails the operation that
// produced the event. It must not be called under the document mutex, since
// a slow subscriber would hold up every writer of that document.
func (s *Service) notify(ctx context.Context, e events.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now().UTC()
	}
	if err := s.notifier.Publish(ctx, e); err != nil {
		logger.Warnf("publish %s for %s: %v", e.Type, e.DocumentID, err)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
}

// storeErr maps repository outcomes onto the document error taxonomy.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, document.ErrNotFound),
		errors.Is(err, document.ErrInvalidArgument):
		return err
	case errors.Is(err, repository.ErrVersionMismatch):
		return fmt.Errorf("%w: %v", document.ErrEditConflict, err)
	case errors.Is(err, repository.ErrStatusMismatch),
		errors.Is(err, repository.ErrAlreadyResolved):
		return fmt.Errorf("%w: %v", document.ErrInvalidState, err)
	case errors.Is(err, document.ErrStoreUnavailable):
		logger.Errorf("document store: %v", err)
		return err
	}
	logger.Errorf("document store: %v", err)
	return fmt.Errorf("%w: %v", document.ErrStoreUnavailable, err)
}
