package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/events"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/logger"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/metrics"
)

// The review workflow:
//
//	draft -> in_progress        first accepted edit
//	in_progress -> review       RequestReview, creator only
//	review -> published         ApprovePost, canApprove only
//	review -> in_progress       RejectPost, canApprove only
//
// published is terminal.

// RequestReview moves an in_progress document to review and notifies every
// approver. Only the creator may request a review.
func (s *Service) RequestReview(ctx context.Context, userID, id string) (*document.Document, error) {
	creator := func() (*document.Document, error) {
		d, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, storeErr(err)
		}
		if d.CreatorID != userID {
			return nil, fmt.Errorf("only the creator may request review: %w", document.ErrPermissionDenied)
		}
		return d, nil
	}
	updated, err := s.review(ctx, id, creator, document.StatusInProgress, document.StatusReview,
		s.reviewRecord(userID, document.DecisionRequested, ""))
	if err != nil {
		return nil, fmt.Errorf("request review of %s: %w", id, err)
	}

	s.notify(ctx, events.Event{
		Type:       events.ReviewRequested,
		DocumentID: id,
		ActorID:    userID,
		Recipients: append([]string(nil), updated.Permissions.CanApprove...),
		Payload:    map[string]any{"title": updated.Title, "version": updated.Version},
	})
	return updated, nil
}

// ApprovePost publishes a document under review. PublishedAt is set once.
func (s *Service) ApprovePost(ctx context.Context, reviewerID, id string) (*document.Document, error) {
	updated, err := s.review(ctx, id, s.approver(ctx, reviewerID, id), document.StatusReview, document.StatusPublished,
		s.reviewRecord(reviewerID, document.DecisionApproved, ""))
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", id, err)
	}

	payload := map[string]any{"version": updated.Version}
	if updated.PublishedAt != nil {
		payload["publishedAt"] = *updated.PublishedAt
	}
	if s.archiver != nil {
		key, err := s.archiver.ArchivePublished(ctx, updated)
		if err != nil {
			logger.Warnf("approve %s: archive snapshot: %v", id, err)
		} else {
			payload["snapshotKey"] = key
		}
	}

	s.notify(ctx, events.Event{
		Type:       events.PostApproved,
		DocumentID: id,
		ActorID:    reviewerID,
		Recipients: []string{updated.CreatorID},
		Payload:    payload,
	})
	return updated, nil
}

// RejectPost returns a document under review to in_progress. The reason is
// required and content is left untouched.
func (s *Service) RejectPost(ctx context.Context, reviewerID, id, reason string) (*document.Document, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("reject %s: empty reason: %w", id, document.ErrInvalidArgument)
	}

	updated, err := s.review(ctx, id, s.approver(ctx, reviewerID, id), document.StatusReview, document.StatusInProgress,
		s.reviewRecord(reviewerID, document.DecisionRejected, reason))
	if err != nil {
		return nil, fmt.Errorf("reject %s: %w", id, err)
	}

	s.notify(ctx, events.Event{
		Type:       events.PostRejected,
		DocumentID: id,
		ActorID:    reviewerID,
		Recipients: []string{updated.CreatorID},
		Payload:    map[string]any{"reason": reason},
	})
	return updated, nil
}

// ListReviewHistory returns the review records of a document, oldest first.
func (s *Service) ListReviewHistory(ctx context.Context, userID, id string) ([]*document.ReviewRecord, error) {
	if _, err := s.load(ctx, userID, id, document.CapabilityView); err != nil {
		return nil, fmt.Errorf("review history of %s: %w", id, err)
	}
	records, err := s.repo.ListReviewRecords(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("review history of %s: %w", id, storeErr(err))
	}
	return records, nil
}

// review loads a document through load and moves it between two statuses,
// both under the document's mutex. Callers notify after it returns.
func (s *Service) review(
	ctx context.Context,
	id string,
	load func() (*document.Document, error),
	from, to document.Status,
	r *document.ReviewRecord,
) (*document.Document, error) {
	unlock := s.lockDocument(id)
	defer unlock()

	d, err := load()
	if err != nil {
		return nil, err
	}
	if d.Status != from {
		return nil, fmt.Errorf("cannot move from %s to %s: %w", d.Status, to, document.ErrInvalidState)
	}
	updated, err := s.repo.TransitionStatus(ctx, d.ID, from, to, r)
	if err != nil {
		return nil, storeErr(err)
	}
	metrics.ReviewTransitions.WithLabelValues(string(to)).Inc()
	return updated, nil
}

func (s *Service) approver(ctx context.Context, userID, id string) func() (*document.Document, error) {
	return func() (*document.Document, error) {
		return s.load(ctx, userID, id, document.CapabilityApprove)
	}
}

func (s *Service) reviewRecord(actorID string, decision document.Decision, reason string) *document.ReviewRecord {
	return &document.ReviewRecord{
		ActorID:   actorID,
		Decision:  decision,
		Reason:    reason,
		CreatedAt: s.now().UTC(),
	}
}
