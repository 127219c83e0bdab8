package document

import "time"

// Status is the publication lifecycle state of a document.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusPublished  Status = "published"
)

// InitialVersion is the version every new document starts at.
const InitialVersion int64 = 1

// Permissions holds the explicit per-document grants. Creator and
// collaborators are handled separately by HasCapability.
type Permissions struct {
	CanEdit    []string `json:"canEdit" bson:"canEdit"`
	CanComment []string `json:"canComment" bson:"canComment"`
	CanApprove []string `json:"canApprove" bson:"canApprove"`
}

// Document is the shared content entity being collaboratively edited.
type Document struct {
	ID            string      `json:"id" bson:"id"`
	Title         string      `json:"title" bson:"title"`
	Content       string      `json:"content" bson:"content"`
	CreatorID     string      `json:"creatorId" bson:"creatorId"`
	Collaborators []string    `json:"collaborators" bson:"collaborators"`
	Permissions   Permissions `json:"permissions" bson:"permissions"`
	Status        Status      `json:"status" bson:"status"`
	Version       int64       `json:"version" bson:"version"`
	PublishedAt   *time.Time  `json:"publishedAt,omitempty" bson:"publishedAt,omitempty"`
	CreatedAt     time.Time   `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt" bson:"updatedAt"`
}

// DeepCopy returns a copy that shares no slices with d.
func (d *Document) DeepCopy() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Collaborators = append([]string(nil), d.Collaborators...)
	c.Permissions = Permissions{
		CanEdit:    append([]string(nil), d.Permissions.CanEdit...),
		CanComment: append([]string(nil), d.Permissions.CanComment...),
		CanApprove: append([]string(nil), d.Permissions.CanApprove...),
	}
	if d.PublishedAt != nil {
		t := *d.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

// Comment is a position-anchored remark on a document. It is created
// unresolved and only ever transitions to resolved once.
type Comment struct {
	ID         string     `json:"id" bson:"id"`
	DocumentID string     `json:"documentId" bson:"documentId"`
	AuthorID   string     `json:"authorId" bson:"authorId"`
	Content    string     `json:"content" bson:"content"`
	Anchor     *int       `json:"anchor,omitempty" bson:"anchor,omitempty"`
	Resolved   bool       `json:"resolved" bson:"resolved"`
	ResolvedBy string     `json:"resolvedBy,omitempty" bson:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt" bson:"createdAt"`
}

// DeepCopy returns a copy of c.
func (c *Comment) DeepCopy() *Comment {
	if c == nil {
		return nil
	}
	out := *c
	if c.Anchor != nil {
		a := *c.Anchor
		out.Anchor = &a
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// Decision is the kind of a review record.
type Decision string

const (
	DecisionRequested Decision = "requested"
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
)

// ReviewRecord is one entry of a document's review history.
type ReviewRecord struct {
	ID         string    `json:"id" bson:"id"`
	DocumentID string    `json:"documentId" bson:"documentId"`
	ActorID    string    `json:"actorId" bson:"actorId"`
	Decision   Decision  `json:"decision" bson:"decision"`
	Reason     string    `json:"reason,omitempty" bson:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

// Lock is a time-boxed advisory exclusive edit grant.
type Lock struct {
	DocumentID string    `json:"documentId"`
	HolderID   string    `json:"holderId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the lock is no longer live at now.
func (l *Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
