// Package events carries collaboration notifications to interested parties.
//
// The service publishes an Event after every state change. Delivery is best
// effort: subscribers that do not drain their channel in time miss events.
package events

import (
	"context"
	"time"

	"go.uber.org/multierr"
)

// Type names a collaboration event.
type Type string

const (
	PostCreated     Type = "postCreated"
	EditApplied     Type = "editApplied"
	CommentAdded    Type = "commentAdded"
	CommentResolved Type = "commentResolved"
	ReviewRequested Type = "reviewRequested"
	PostApproved    Type = "postApproved"
	PostRejected    Type = "postRejected"
	EditorJoined    Type = "editorJoined"
	EditorLeft      Type = "editorLeft"
	LockAcquired    Type = "lockAcquired"
	LockReleased    Type = "lockReleased"
	DocumentDeleted Type = "documentDeleted"
	AccessGranted   Type = "accessGranted"
)

// Event is a single notification about a document. Every event reaches the
// subscribers of its document; Recipients lists users that must also be
// notified directly, such as the approvers of a review request.
type Event struct {
	Type       Type           `json:"type"`
	DocumentID string         `json:"documentId"`
	ActorID    string         `json:"actorId"`
	Recipients []string       `json:"recipients,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Notifier publishes events.
type Notifier interface {
	Publish(ctx context.Context, e Event) error
}

// Fanout publishes every event to each notifier in order. All notifiers are
// tried even when one fails.
type Fanout []Notifier

func (f Fanout) Publish(ctx context.Context, e Event) error {
	var err error
	for _, n := range f {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Publish(ctx, e))
	}
	return err
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
