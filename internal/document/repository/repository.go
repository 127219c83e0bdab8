package repository

import (
	"context"
	"errors"
	"time"

	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
	"github.com/rs/xid"
)

var (
	ErrNotFound = document.ErrNotFound

	// ErrVersionMismatch is returned by CommitEdit when the stored version is
	// not the expected one, i.e. another edit committed first.
	ErrVersionMismatch = errors.New("document version mismatch")

	// ErrStatusMismatch is returned when a conditional status change finds
	// the document in a different status.
	ErrStatusMismatch = errors.New("document status mismatch")

	// ErrAlreadyResolved is returned when resolving a resolved comment.
	ErrAlreadyResolved = errors.New("comment already resolved")
)

// Repository is the document store gateway. Every conditional write is an
// atomic compare-and-set on the stored record.
type Repository interface {
	Create(ctx context.Context, d *document.Document) (string, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	List(ctx context.Context) ([]*document.Document, error)
	Delete(ctx context.Context, id string) error
	UpdateAccess(ctx context.Context, id string, g document.Grant) (*document.Document, error)

	// CommitEdit appends e to the edit log and stores content as version
	// expectedVersion+1, only if the stored version equals expectedVersion and
	// the document is not published. A draft document moves to in_progress.
	CommitEdit(ctx context.Context, e *document.Edit, content string, expectedVersion int64) (*document.Document, error)
	EditsSince(ctx context.Context, documentID string, since time.Time) ([]*document.Edit, error)
	ListEdits(ctx context.Context, documentID string) ([]*document.Edit, error)

	// TransitionStatus moves the document from one status to another and
	// appends r to its review history. Either both are stored or neither is.
	// Entering published stamps PublishedAt with r.CreatedAt.
	TransitionStatus(ctx context.Context, id string, from, to document.Status, r *document.ReviewRecord) (*document.Document, error)
	ListReviewRecords(ctx context.Context, documentID string) ([]*document.ReviewRecord, error)

	AppendComment(ctx context.Context, c *document.Comment) error
	GetComment(ctx context.Context, id string) (*document.Comment, error)
	ResolveComment(ctx context.Context, id, resolverID string, at time.Time) (*document.Comment, error)
	ListComments(ctx context.Context, documentID string) ([]*document.Comment, error)

	Ping(ctx context.Context) error
}

func newID() string {
	return xid.New().String()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// normalize fills the defaults of a freshly created document.
func normalize(d *document.Document, now time.Time) {
	if d.ID == "" {
		d.ID = newID()
	}
	if d.Status == "" {
		d.Status = document.StatusDraft
	}
	if d.Version == 0 {
		d.Version = document.InitialVersion
	}
	d.Collaborators = nonNil(d.Collaborators)
	d.Permissions.CanEdit = nonNil(d.Permissions.CanEdit)
	d.Permissions.CanComment = nonNil(d.Permissions.CanComment)
	d.Permissions.CanApprove = nonNil(d.Permissions.CanApprove)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = d.CreatedAt
}
