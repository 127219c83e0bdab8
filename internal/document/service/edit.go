package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/events"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/logger"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/metrics"
)

// EditRequest is a single edit as submitted by a client.
type EditRequest struct {
	Kind            document.EditKind
	Position        int
	Content         string
	PreviousContent string
}

// EditResult is the outcome of an accepted edit.
type EditResult struct {
	Edit     *document.Edit
	Document *document.Document
}

// ApplyEdit applies one edit to a document on behalf of userID.
//
// The edit is rejected with ErrEditConflict when its character range overlaps
// the range of any edit another user made within the conflict window, or when
// PreviousContent no longer matches the document. Reading the document,
// checking conflicts and committing the new version happen under the
// document's mutex, and the store commit is conditional on the version read.
// The editApplied event is published once the mutex is released.
func (s *Service) ApplyEdit(ctx context.Context, userID, id string, req EditRequest) (*EditResult, error) {
	e := &document.Edit{
		DocumentID:      id,
		AuthorID:        userID,
		Kind:            req.Kind,
		Position:        req.Position,
		Content:         req.Content,
		PreviousContent: req.PreviousContent,
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("apply edit to %s: %w", id, err)
	}

	updated, err := s.commitEdit(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("apply edit to %s: %w", id, err)
	}

	s.notify(ctx, events.Event{
		Type:       events.EditApplied,
		DocumentID: id,
		ActorID:    userID,
		OccurredAt: e.CreatedAt,
		Payload: map[string]any{
			"editId":          e.ID,
			"kind":            e.Kind,
			"position":        e.Position,
			"content":         e.Content,
			"previousContent": e.PreviousContent,
			"version":         updated.Version,
			"status":          updated.Status,
		},
	})
	return &EditResult{Edit: e, Document: updated}, nil
}

// commitEdit reads the document, checks e against recent edits and the
// current content, and commits the next version, all under the document's
// mutex.
func (s *Service) commitEdit(ctx context.Context, e *document.Edit) (*document.Document, error) {
	id, userID := e.DocumentID, e.AuthorID
	unlock := s.lockDocument(id)
	defer unlock()

	start := time.Now()
	defer func() { metrics.EditDuration.Observe(time.Since(start).Seconds()) }()

	d, err := s.load(ctx, userID, id, document.CapabilityEdit)
	if err != nil {
		return nil, err
	}
	if d.Status == document.StatusPublished {
		return nil, fmt.Errorf("document is published: %w", document.ErrInvalidState)
	}

	now := s.now().UTC()
	recent, err := s.repo.EditsSince(ctx, id, now.Add(-s.window))
	if err != nil {
		return nil, storeErr(err)
	}
	r := e.Range()
	for _, prior := range recent {
		if prior.AuthorID == userID {
			continue
		}
		if pr := prior.Range(); r.Overlaps(pr) {
			metrics.EditConflicts.Inc()
			logger.Infof("edit by %s on %s at [%d,%d) overlaps edit %s by %s at [%d,%d)",
				userID, id, r.Start, r.End, prior.ID, prior.AuthorID, pr.Start, pr.End)
			return nil, fmt.Errorf("overlaps recent edit by %s: %w", prior.AuthorID, document.ErrEditConflict)
		}
	}

	content, err := e.ApplyTo(d.Content)
	if err != nil {
		if errors.Is(err, document.ErrEditConflict) {
			metrics.EditConflicts.Inc()
			logger.Infof("edit by %s on %s: stale content: %v", userID, id, err)
		}
		return nil, err
	}

	e.CreatedAt = now
	updated, err := s.repo.CommitEdit(ctx, e, content, d.Version)
	if err != nil {
		err = storeErr(err)
		if errors.Is(err, document.ErrEditConflict) {
			metrics.EditConflicts.Inc()
		}
		return nil, err
	}

	metrics.EditsApplied.Inc()
	if d.Status != updated.Status {
		metrics.ReviewTransitions.WithLabelValues(string(updated.Status)).Inc()
	}
	return updated, nil
}

// ListEdits returns the edit log of a document ordered by version.
func (s *Service) ListEdits(ctx context.Context, userID, id string) ([]*document.Edit, error) {
	if _, err := s.load(ctx, userID, id, document.CapabilityView); err != nil {
		return nil, fmt.Errorf("list edits of %s: %w", id, err)
	}
	edits, err := s.repo.ListEdits(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list edits of %s: %w", id, storeErr(err))
	}
	return edits, nil
}
