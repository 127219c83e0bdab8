package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/events"
)

// AddComment attaches a comment to a document, optionally anchored at a
// character position of the current content.
func (s *Service) AddComment(ctx context.Context, userID, id, content string, anchor *int) (*document.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("comment on %s: empty content: %w", id, document.ErrInvalidArgument)
	}

	d, err := s.load(ctx, userID, id, document.CapabilityComment)
	if err != nil {
		return nil, fmt.Errorf("comment on %s: %w", id, err)
	}
	if anchor != nil {
		if n := utf8.RuneCountInString(d.Content); *anchor < 0 || *anchor > n {
			return nil, fmt.Errorf("comment on %s: anchor %d outside [0,%d]: %w", id, *anchor, n, document.ErrInvalidArgument)
		}
	}

	c := &document.Comment{
		DocumentID: id,
		AuthorID:   userID,
		Content:    content,
		Anchor:     anchor,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.AppendComment(ctx, c); err != nil {
		return nil, fmt.Errorf("comment on %s: %w", id, storeErr(err))
	}

	payload := map[string]any{"commentId": c.ID, "content": c.Content}
	if anchor != nil {
		payload["anchor"] = *anchor
	}
	s.notify(ctx, events.Event{
		Type:       events.CommentAdded,
		DocumentID: id,
		ActorID:    userID,
		OccurredAt: c.CreatedAt,
		Payload:    payload,
	})
	return c.DeepCopy(), nil
}

// ResolveComment marks a comment resolved. It requires edit permission on the
// parent document and fails with ErrInvalidState if the comment is already
// resolved. A non-empty documentID must match the comment's document.
func (s *Service) ResolveComment(ctx context.Context, userID, documentID, commentID string) (*document.Comment, error) {
	c, err := s.repo.GetComment(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("resolve comment %s: %w", commentID, storeErr(err))
	}
	if documentID != "" && c.DocumentID != documentID {
		return nil, fmt.Errorf("resolve comment %s: not on document %s: %w", commentID, documentID, document.ErrNotFound)
	}
	if _, err := s.load(ctx, userID, c.DocumentID, document.CapabilityEdit); err != nil {
		return nil, fmt.Errorf("resolve comment %s: %w", commentID, err)
	}
	if c.Resolved {
		return nil, fmt.Errorf("resolve comment %s: already resolved by %s: %w", commentID, c.ResolvedBy, document.ErrInvalidState)
	}

	resolved, err := s.repo.ResolveComment(ctx, commentID, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("resolve comment %s: %w", commentID, storeErr(err))
	}

	s.notify(ctx, events.Event{
		Type:       events.CommentResolved,
		DocumentID: c.DocumentID,
		ActorID:    userID,
		Payload:    map[string]any{"commentId": commentID},
	})
	return resolved, nil
}

// ListComments returns the comments of a document in creation order.
func (s *Service) ListComments(ctx context.Context, userID, id string) ([]*document.Comment, error) {
	if _, err := s.load(ctx, userID, id, document.CapabilityView); err != nil {
		return nil, fmt.Errorf("list comments of %s: %w", id, err)
	}
	comments, err := s.repo.ListComments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list comments of %s: %w", id, storeErr(err))
	}
	return comments, nil
}
