package document

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// EditKind is the operation an edit performs.
type EditKind string

const (
	EditInsert  EditKind = "insert"
	EditDelete  EditKind = "delete"
	EditReplace EditKind = "replace"
)

// Edit is a single immutable entry of a document's edit log. Position and
// lengths are measured in characters (runes), not bytes.
type Edit struct {
	ID              string    `json:"id" bson:"id"`
	DocumentID      string    `json:"documentId" bson:"documentId"`
	AuthorID        string    `json:"authorId" bson:"authorId"`
	Kind            EditKind  `json:"kind" bson:"kind"`
	Position        int       `json:"position" bson:"position"`
	Content         string    `json:"content,omitempty" bson:"content,omitempty"`
	PreviousContent string    `json:"previousContent,omitempty" bson:"previousContent,omitempty"`
	Version         int64     `json:"version" bson:"version"`
	CreatedAt       time.Time `json:"createdAt" bson:"createdAt"`
}

// Range is a half-open character interval [Start, End).
type Range struct {
	Start int
	End   int
}

// Overlaps reports whether r and o share at least one character.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// AffectedLength is the number of characters the edit touched: the inserted
// text for inserts, the removed text for deletes and replaces.
func (e *Edit) AffectedLength() int {
	if e.Kind == EditInsert {
		return utf8.RuneCountInString(e.Content)
	}
	return utf8.RuneCountInString(e.PreviousContent)
}

// Range returns the character range the edit touched.
func (e *Edit) Range() Range {
	return Range{Start: e.Position, End: e.Position + e.AffectedLength()}
}

// Validate checks the edit is well formed independent of any content.
func (e *Edit) Validate() error {
	if e.Position < 0 {
		return fmt.Errorf("position %d: %w", e.Position, ErrInvalidArgument)
	}
	switch e.Kind {
	case EditInsert:
		if e.Content == "" {
			return fmt.Errorf("insert without content: %w", ErrInvalidArgument)
		}
	case EditDelete:
		if e.PreviousContent == "" {
			return fmt.Errorf("delete without previous content: %w", ErrInvalidArgument)
		}
	case EditReplace:
		if e.PreviousContent == "" {
			return fmt.Errorf("replace without previous content: %w", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("edit kind %q: %w", e.Kind, ErrInvalidArgument)
	}
	return nil
}

// ApplyTo returns content with the edit applied.
//
// A position outside the content is an invalid argument. If the removed
// characters do not match PreviousContent the edit was computed against a
// stale view and ErrEditConflict is returned.
func (e *Edit) ApplyTo(content string) (string, error) {
	runes := []rune(content)
	if e.Position > len(runes) {
		return "", fmt.Errorf("position %d beyond length %d: %w", e.Position, len(runes), ErrInvalidArgument)
	}

	head := string(runes[:e.Position])
	if e.Kind == EditInsert {
		return head + e.Content + string(runes[e.Position:]), nil
	}

	end := e.Position + utf8.RuneCountInString(e.PreviousContent)
	if end > len(runes) {
		return "", fmt.Errorf("range [%d,%d) beyond length %d: %w", e.Position, end, len(runes), ErrInvalidArgument)
	}
	if string(runes[e.Position:end]) != e.PreviousContent {
		return "", fmt.Errorf("previous content mismatch at [%d,%d): %w", e.Position, end, ErrEditConflict)
	}

	tail := string(runes[end:])
	if e.Kind == EditReplace {
		return head + e.Content + tail, nil
	}
	return head + tail, nil
}
