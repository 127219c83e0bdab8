package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// rollbackTimeout bounds cleanup writes made after the caller's
	// context is done.
	rollbackTimeout = 5 * time.Second

	// orphanAge is how old an uncommitted edit record must be before a
	// later commit may reclaim its version.
	orphanAge = time.Minute
)

const (
	colDocuments = "documents"
	colEdits     = "edits"
	colComments  = "comments"
	colReviews   = "reviews"
)

// MongoRepo implements Repository on a MongoDB database. Records are keyed by
// a string "id" field. Version and status changes are conditional updates
// (FindOneAndUpdate with the expected value in the filter), so two writers
// can never both advance the same version.
type MongoRepo struct {
	db        *mongo.Database
	documents *mongo.Collection
	edits     *mongo.Collection
	comments  *mongo.Collection
	reviews   *mongo.Collection
}

// NewMongoRepo returns a repository on db and ensures its indexes.
func NewMongoRepo(ctx context.Context, db *mongo.Database) (*MongoRepo, error) {
	m := &MongoRepo{
		db:        db,
		documents: db.Collection(colDocuments),
		edits:     db.Collection(colEdits),
		comments:  db.Collection(colComments),
		reviews:   db.Collection(colReviews),
	}

	unique := options.Index().SetUnique(true)
	indexes := []struct {
		col   *mongo.Collection
		model []mongo.IndexModel
	}{
		{m.documents, []mongo.IndexModel{{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique}}},
		{m.edits, []mongo.IndexModel{
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique},
			// one edit record per produced version
			{Keys: bson.D{{Key: "documentId", Value: 1}, {Key: "version", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "documentId", Value: 1}, {Key: "createdAt", Value: 1}}},
		}},
		{m.comments, []mongo.IndexModel{
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "documentId", Value: 1}, {Key: "createdAt", Value: 1}}},
		}},
		{m.reviews, []mongo.IndexModel{
			{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "documentId", Value: 1}, {Key: "createdAt", Value: 1}}},
		}},
	}
	for _, idx := range indexes {
		if _, err := idx.col.Indexes().CreateMany(ctx, idx.model); err != nil {
			return nil, fmt.Errorf("ensure indexes on %s: %w", idx.col.Name(), unavailable(err))
		}
	}
	return m, nil
}

func (m *MongoRepo) Create(ctx context.Context, d *document.Document) (string, error) {
	normalize(d, time.Now())
	if _, err := m.documents.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("create document %s: duplicate id: %w", d.ID, document.ErrInvalidArgument)
		}
		return "", fmt.Errorf("create document %s: %w", d.ID, unavailable(err))
	}
	return d.ID, nil
}

func (m *MongoRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	if err := m.documents.FindOne(ctx, bson.M{"id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("find document %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("find document %s: %w", id, unavailable(err))
	}
	return &d, nil
}

func (m *MongoRepo) List(ctx context.Context) ([]*document.Document, error) {
	out := []*document.Document{}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if err := findAll(ctx, m.documents, bson.M{}, opts, &out); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return out, nil
}

func (m *MongoRepo) Delete(ctx context.Context, id string) error {
	res, err := m.documents.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, unavailable(err))
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete document %s: %w", id, ErrNotFound)
	}
	for _, col := range []*mongo.Collection{m.edits, m.comments, m.reviews} {
		if _, err := col.DeleteMany(ctx, bson.M{"documentId": id}); err != nil {
			return fmt.Errorf("delete %s of %s: %w", col.Name(), id, unavailable(err))
		}
	}
	return nil
}

func (m *MongoRepo) UpdateAccess(ctx context.Context, id string, g document.Grant) (*document.Document, error) {
	each := func(s []string) bson.M { return bson.M{"$each": nonNil(s)} }
	update := bson.M{
		"$addToSet": bson.M{
			"collaborators":          each(g.Collaborators),
			"permissions.canEdit":    each(g.CanEdit),
			"permissions.canComment": each(g.CanComment),
			"permissions.canApprove": each(g.CanApprove),
		},
		"$set": bson.M{"updatedAt": time.Now()},
	}
	var d document.Document
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if err := m.documents.FindOneAndUpdate(ctx, bson.M{"id": id}, update, opts).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("update access of %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("update access of %s: %w", id, unavailable(err))
	}
	return &d, nil
}

// CommitEdit first inserts the edit record, whose (documentId, version) index
// rejects a second record for the same version, then advances the document
// with a version-conditional update. Only the holder of the record for
// version N+1 can move the document to N+1, so after a failed update the
// stored version tells whether this edit committed. A record that did not
// commit is removed again.
func (m *MongoRepo) CommitEdit(
	ctx context.Context,
	e *document.Edit,
	content string,
	expectedVersion int64,
) (*document.Document, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	e.Version = expectedVersion + 1

	if err := m.insertEdit(ctx, e, expectedVersion); err != nil {
		return nil, err
	}

	filter := bson.M{
		"id":      e.DocumentID,
		"version": expectedVersion,
		"status":  bson.M{"$ne": document.StatusPublished},
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "content", Value: content},
			{Key: "version", Value: e.Version},
			{Key: "updatedAt", Value: e.CreatedAt},
			{Key: "status", Value: bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$status", document.StatusDraft}},
				document.StatusInProgress,
				"$status",
			}}},
		}}},
	}
	var d document.Document
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := m.documents.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	if err == nil {
		return &d, nil
	}

	// the caller may be gone, the cleanup still has to run
	cctx, cancel := detached(ctx)
	defer cancel()

	current, gerr := m.Get(cctx, e.DocumentID)
	switch {
	case gerr == nil && current.Version >= e.Version:
		// applied, only the reply was lost
		return current, nil
	case gerr != nil && !errors.Is(gerr, ErrNotFound):
		// unknown outcome; a stale record is reclaimed by the next insert
		return nil, fmt.Errorf("commit edit to %s: %w", e.DocumentID, unavailable(err))
	}

	if _, derr := m.edits.DeleteOne(cctx, bson.M{"id": e.ID}); derr != nil {
		return nil, fmt.Errorf("roll back edit %s: %w", e.ID, unavailable(derr))
	}
	switch {
	case gerr != nil:
		return nil, gerr
	case !errors.Is(err, mongo.ErrNoDocuments):
		return nil, fmt.Errorf("commit edit to %s: %w", e.DocumentID, unavailable(err))
	case current.Status == document.StatusPublished:
		return nil, fmt.Errorf("commit edit to %s: %w", e.DocumentID, ErrStatusMismatch)
	}
	return nil, fmt.Errorf("commit edit to %s: have %d want %d: %w", e.DocumentID, current.Version, expectedVersion, ErrVersionMismatch)
}

// insertEdit stores e. When the slot for e.Version is taken by a record whose
// document never left expectedVersion and which is older than orphanAge, that
// record is left over from a commit whose cleanup could not reach the store.
// It is removed and the insert retried once.
func (m *MongoRepo) insertEdit(ctx context.Context, e *document.Edit, expectedVersion int64) error {
	_, err := m.edits.InsertOne(ctx, e)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("append edit to %s: %w", e.DocumentID, unavailable(err))
	}

	var prior document.Edit
	ferr := m.edits.FindOne(ctx, bson.M{"documentId": e.DocumentID, "version": e.Version}).Decode(&prior)
	switch {
	case errors.Is(ferr, mongo.ErrNoDocuments):
	case ferr != nil:
		return fmt.Errorf("append edit to %s: %w", e.DocumentID, unavailable(ferr))
	case prior.ID == e.ID || time.Since(prior.CreatedAt) < orphanAge:
		return fmt.Errorf("commit edit to %s: %w", e.DocumentID, ErrVersionMismatch)
	default:
		current, gerr := m.Get(ctx, e.DocumentID)
		if gerr != nil {
			return gerr
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("commit edit to %s: %w", e.DocumentID, ErrVersionMismatch)
		}
		if _, derr := m.edits.DeleteOne(ctx, bson.M{"id": prior.ID, "version": e.Version}); derr != nil {
			return fmt.Errorf("reclaim edit %s: %w", prior.ID, unavailable(derr))
		}
	}

	if _, err := m.edits.InsertOne(ctx, e); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("commit edit to %s: %w", e.DocumentID, ErrVersionMismatch)
		}
		return fmt.Errorf("append edit to %s: %w", e.DocumentID, unavailable(err))
	}
	return nil
}

func (m *MongoRepo) EditsSince(ctx context.Context, documentID string, since time.Time) ([]*document.Edit, error) {
	out := []*document.Edit{}
	filter := bson.M{"documentId": documentID, "createdAt": bson.M{"$gte": since}}
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	if err := findAll(ctx, m.edits, filter, opts, &out); err != nil {
		return nil, fmt.Errorf("find edits of %s: %w", documentID, err)
	}
	return out, nil
}

func (m *MongoRepo) ListEdits(ctx context.Context, documentID string) ([]*document.Edit, error) {
	out := []*document.Edit{}
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	if err := findAll(ctx, m.edits, bson.M{"documentId": documentID}, opts, &out); err != nil {
		return nil, fmt.Errorf("find edits of %s: %w", documentID, err)
	}
	return out, nil
}

// TransitionStatus inserts the review record first and then changes the
// status conditionally. The record is removed again unless the document
// carries this transition's timestamp.
func (m *MongoRepo) TransitionStatus(
	ctx context.Context,
	id string,
	from, to document.Status,
	r *document.ReviewRecord,
) (*document.Document, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	r.DocumentID = id
	// stored dates have millisecond precision
	at := r.CreatedAt.Truncate(time.Millisecond)
	r.CreatedAt = at

	if _, err := m.reviews.InsertOne(ctx, r); err != nil {
		return nil, fmt.Errorf("append review record to %s: %w", id, unavailable(err))
	}

	set := bson.M{"status": to, "updatedAt": at}
	if to == document.StatusPublished {
		set["publishedAt"] = at
	}
	var d document.Document
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := m.documents.FindOneAndUpdate(ctx, bson.M{"id": id, "status": from}, bson.M{"$set": set}, opts).Decode(&d)
	if err == nil {
		return &d, nil
	}

	cctx, cancel := detached(ctx)
	defer cancel()

	current, gerr := m.Get(cctx, id)
	switch {
	case gerr == nil && current.Status == to && current.UpdatedAt.Equal(at):
		return current, nil
	case gerr != nil && !errors.Is(gerr, ErrNotFound):
		return nil, fmt.Errorf("transition %s: %w", id, unavailable(err))
	}

	if _, derr := m.reviews.DeleteOne(cctx, bson.M{"id": r.ID}); derr != nil {
		return nil, fmt.Errorf("roll back review record %s: %w", r.ID, unavailable(derr))
	}
	switch {
	case gerr != nil:
		return nil, gerr
	case !errors.Is(err, mongo.ErrNoDocuments):
		return nil, fmt.Errorf("transition %s: %w", id, unavailable(err))
	}
	return nil, fmt.Errorf("transition %s from %s: is %s: %w", id, from, current.Status, ErrStatusMismatch)
}

func (m *MongoRepo) ListReviewRecords(ctx context.Context, documentID string) ([]*document.ReviewRecord, error) {
	out := []*document.ReviewRecord{}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if err := findAll(ctx, m.reviews, bson.M{"documentId": documentID}, opts, &out); err != nil {
		return nil, fmt.Errorf("find review records of %s: %w", documentID, err)
	}
	return out, nil
}

func (m *MongoRepo) AppendComment(ctx context.Context, c *document.Comment) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if _, err := m.comments.InsertOne(ctx, c); err != nil {
		return fmt.Errorf("append comment to %s: %w", c.DocumentID, unavailable(err))
	}
	return nil
}

func (m *MongoRepo) GetComment(ctx context.Context, id string) (*document.Comment, error) {
	var c document.Comment
	if err := m.comments.FindOne(ctx, bson.M{"id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("find comment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("find comment %s: %w", id, unavailable(err))
	}
	return &c, nil
}

func (m *MongoRepo) ResolveComment(ctx context.Context, id, resolverID string, at time.Time) (*document.Comment, error) {
	update := bson.M{"$set": bson.M{"resolved": true, "resolvedBy": resolverID, "resolvedAt": at}}
	var c document.Comment
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := m.comments.FindOneAndUpdate(ctx, bson.M{"id": id, "resolved": false}, update, opts).Decode(&c)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("resolve comment %s: %w", id, unavailable(err))
	}
	if _, gerr := m.GetComment(ctx, id); gerr != nil {
		return nil, gerr
	}
	return nil, fmt.Errorf("resolve comment %s: %w", id, ErrAlreadyResolved)
}

func (m *MongoRepo) ListComments(ctx context.Context, documentID string) ([]*document.Comment, error) {
	out := []*document.Comment{}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if err := findAll(ctx, m.comments, bson.M{"documentId": documentID}, opts, &out); err != nil {
		return nil, fmt.Errorf("find comments of %s: %w", documentID, err)
	}
	return out, nil
}

func (m *MongoRepo) Ping(ctx context.Context) error {
	if err := m.db.Client().Ping(ctx, nil); err != nil {
		return unavailable(err)
	}
	return nil
}

func findAll(ctx context.Context, col *mongo.Collection, filter interface{}, opts *options.FindOptions, out interface{}) error {
	cur, err := col.Find(ctx, filter, opts)
	if err != nil {
		return unavailable(err)
	}
	defer cur.Close(ctx)
	if err := cur.All(ctx, out); err != nil {
		return unavailable(err)
	}
	return nil
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
}

// unavailable tags a driver error as a store failure while keeping its text.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", document.ErrStoreUnavailable, err)
}
