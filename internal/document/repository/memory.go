package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
)

var (
	tblDocuments = "documents"
	tblEdits     = "edits"
	tblComments  = "comments"
	tblReviews   = "reviews"
)

func byDocumentTable(name string) *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: name,
		Indexes: map[string]*memdb.IndexSchema{
			"id": {
				Name:    "id",
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
			"document_id": {
				Name:    "document_id",
				Indexer: &memdb.StringFieldIndex{Field: "DocumentID"},
			},
		},
	}
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblDocuments: {
			Name: tblDocuments,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
		tblEdits:    byDocumentTable(tblEdits),
		tblComments: byDocumentTable(tblComments),
		tblReviews:  byDocumentTable(tblReviews),
	},
}

// MemoryRepo is an in-memory Repository backed by go-memdb. Write
// transactions are serialized by memdb, which makes every read-check-write
// below atomic. Stored objects are never mutated in place; updates insert
// copies.
type MemoryRepo struct {
	db *memdb.MemDB
}

// NewMemoryRepo creates an empty in-memory repository.
func NewMemoryRepo() (*MemoryRepo, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &MemoryRepo{db: db}, nil
}

func (m *MemoryRepo) Create(_ context.Context, d *document.Document) (string, error) {
	normalize(d, time.Now())

	txn := m.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tblDocuments, "id", d.ID)
	if err != nil {
		return "", fmt.Errorf("create document %s: %w", d.ID, err)
	}
	if raw != nil {
		return "", fmt.Errorf("create document %s: duplicate id: %w", d.ID, document.ErrInvalidArgument)
	}
	if err := txn.Insert(tblDocuments, d.DeepCopy()); err != nil {
		return "", fmt.Errorf("create document %s: %w", d.ID, err)
	}
	txn.Commit()
	return d.ID, nil
}

func (m *MemoryRepo) Get(_ context.Context, id string) (*document.Document, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	d, err := findDocument(txn, id)
	if err != nil {
		return nil, err
	}
	return d.DeepCopy(), nil
}

func (m *MemoryRepo) List(_ context.Context) ([]*document.Document, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblDocuments, "id")
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	out := []*document.Document{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*document.Document).DeepCopy())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepo) Delete(_ context.Context, id string) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	d, err := findDocument(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(tblDocuments, d); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	for _, tbl := range []string{tblEdits, tblComments, tblReviews} {
		if _, err := txn.DeleteAll(tbl, "document_id", id); err != nil {
			return fmt.Errorf("delete %s of %s: %w", tbl, id, err)
		}
	}
	txn.Commit()
	return nil
}

func (m *MemoryRepo) UpdateAccess(_ context.Context, id string, g document.Grant) (*document.Document, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	d, err := findDocument(txn, id)
	if err != nil {
		return nil, err
	}
	updated := d.DeepCopy()
	g.Apply(updated)
	updated.UpdatedAt = time.Now()
	if err := txn.Insert(tblDocuments, updated); err != nil {
		return nil, fmt.Errorf("update access of %s: %w", id, err)
	}
	txn.Commit()
	return updated.DeepCopy(), nil
}

func (m *MemoryRepo) CommitEdit(
	_ context.Context,
	e *document.Edit,
	content string,
	expectedVersion int64,
) (*document.Document, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	d, err := findDocument(txn, e.DocumentID)
	if err != nil {
		return nil, err
	}
	if d.Status == document.StatusPublished {
		return nil, fmt.Errorf("commit edit to %s: %w", d.ID, ErrStatusMismatch)
	}
	if d.Version != expectedVersion {
		return nil, fmt.Errorf("commit edit to %s: have %d want %d: %w", d.ID, d.Version, expectedVersion, ErrVersionMismatch)
	}

	if e.ID == "" {
		e.ID = newID()
	}
	e.Version = expectedVersion + 1
	record := *e
	if err := txn.Insert(tblEdits, &record); err != nil {
		return nil, fmt.Errorf("append edit to %s: %w", d.ID, err)
	}

	updated := d.DeepCopy()
	updated.Content = content
	updated.Version = e.Version
	updated.UpdatedAt = e.CreatedAt
	if updated.Status == document.StatusDraft {
		updated.Status = document.StatusInProgress
	}
	if err := txn.Insert(tblDocuments, updated); err != nil {
		return nil, fmt.Errorf("commit edit to %s: %w", d.ID, err)
	}

	txn.Commit()
	return updated.DeepCopy(), nil
}

func (m *MemoryRepo) EditsSince(_ context.Context, documentID string, since time.Time) ([]*document.Edit, error) {
	edits, err := m.edits(documentID)
	if err != nil {
		return nil, err
	}
	out := edits[:0]
	for _, e := range edits {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryRepo) ListEdits(_ context.Context, documentID string) ([]*document.Edit, error) {
	return m.edits(documentID)
}

func (m *MemoryRepo) edits(documentID string) ([]*document.Edit, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblEdits, "document_id", documentID)
	if err != nil {
		return nil, fmt.Errorf("find edits of %s: %w", documentID, err)
	}
	out := []*document.Edit{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		e := *raw.(*document.Edit)
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *MemoryRepo) TransitionStatus(
	_ context.Context,
	id string,
	from, to document.Status,
	r *document.ReviewRecord,
) (*document.Document, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	d, err := findDocument(txn, id)
	if err != nil {
		return nil, err
	}
	if d.Status != from {
		return nil, fmt.Errorf("transition %s from %s: is %s: %w", id, from, d.Status, ErrStatusMismatch)
	}

	updated := d.DeepCopy()
	updated.Status = to
	updated.UpdatedAt = r.CreatedAt
	if to == document.StatusPublished && updated.PublishedAt == nil {
		t := r.CreatedAt
		updated.PublishedAt = &t
	}
	if err := txn.Insert(tblDocuments, updated); err != nil {
		return nil, fmt.Errorf("transition %s: %w", id, err)
	}

	if r.ID == "" {
		r.ID = newID()
	}
	r.DocumentID = id
	record := *r
	if err := txn.Insert(tblReviews, &record); err != nil {
		return nil, fmt.Errorf("append review record to %s: %w", id, err)
	}

	txn.Commit()
	return updated.DeepCopy(), nil
}

func (m *MemoryRepo) ListReviewRecords(_ context.Context, documentID string) ([]*document.ReviewRecord, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblReviews, "document_id", documentID)
	if err != nil {
		return nil, fmt.Errorf("find review records of %s: %w", documentID, err)
	}
	out := []*document.ReviewRecord{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		r := *raw.(*document.ReviewRecord)
		out = append(out, &r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepo) AppendComment(_ context.Context, c *document.Comment) error {
	if c.ID == "" {
		c.ID = newID()
	}

	txn := m.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tblComments, c.DeepCopy()); err != nil {
		return fmt.Errorf("append comment to %s: %w", c.DocumentID, err)
	}
	txn.Commit()
	return nil
}

func (m *MemoryRepo) GetComment(_ context.Context, id string) (*document.Comment, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	c, err := findComment(txn, id)
	if err != nil {
		return nil, err
	}
	return c.DeepCopy(), nil
}

func (m *MemoryRepo) ResolveComment(_ context.Context, id, resolverID string, at time.Time) (*document.Comment, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	c, err := findComment(txn, id)
	if err != nil {
		return nil, err
	}
	if c.Resolved {
		return nil, fmt.Errorf("resolve comment %s: %w", id, ErrAlreadyResolved)
	}

	updated := c.DeepCopy()
	updated.Resolved = true
	updated.ResolvedBy = resolverID
	t := at
	updated.ResolvedAt = &t
	if err := txn.Insert(tblComments, updated); err != nil {
		return nil, fmt.Errorf("resolve comment %s: %w", id, err)
	}
	txn.Commit()
	return updated.DeepCopy(), nil
}

func (m *MemoryRepo) ListComments(_ context.Context, documentID string) ([]*document.Comment, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tblComments, "document_id", documentID)
	if err != nil {
		return nil, fmt.Errorf("find comments of %s: %w", documentID, err)
	}
	out := []*document.Comment{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*document.Comment).DeepCopy())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryRepo) Ping(context.Context) error { return nil }

func findDocument(txn *memdb.Txn, id string) (*document.Document, error) {
	raw, err := txn.First(tblDocuments, "id", id)
	if err != nil {
		return nil, fmt.Errorf("find document %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("find document %s: %w", id, ErrNotFound)
	}
	return raw.(*document.Document), nil
}

func findComment(txn *memdb.Txn, id string) (*document.Comment, error) {
	raw, err := txn.First(tblComments, "id", id)
	if err != nil {
		return nil, fmt.Errorf("find comment %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("find comment %s: %w", id, ErrNotFound)
	}
	return raw.(*document.Comment), nil
}
