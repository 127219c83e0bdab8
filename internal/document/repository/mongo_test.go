package repository

import (
	"context"
	"testing"
	"time"

	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mockRepo builds a MongoRepo on the mock deployment. The first four replies
// answer the index creation of each collection.
func mockRepo(mt *mtest.T) *MongoRepo {
	mt.Helper()
	for i := 0; i < 4; i++ {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
	}
	r, err := NewMongoRepo(context.Background(), mt.DB)
	require.NoError(mt, err)
	mt.ClearEvents()
	return r
}

func toBSON(mt *mtest.T, v interface{}) bson.D {
	mt.Helper()
	raw, err := bson.Marshal(v)
	require.NoError(mt, err)
	var d bson.D
	require.NoError(mt, bson.Unmarshal(raw, &d))
	return d
}

// modified is a findAndModify reply. A nil v means nothing matched.
func modified(mt *mtest.T, v interface{}) bson.D {
	if v == nil {
		return bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: nil}}
	}
	return bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: toBSON(mt, v)}}
}

func found(mt *mtest.T, col string, docs ...interface{}) bson.D {
	batch := make([]bson.D, 0, len(docs))
	for _, d := range docs {
		batch = append(batch, toBSON(mt, d))
	}
	return mtest.CreateCursorResponse(0, mt.DB.Name()+"."+col, mtest.FirstBatch, batch...)
}

func deleted(n int) bson.D {
	return mtest.CreateSuccessResponse(bson.E{Key: "n", Value: n})
}

func commandError() bson.D {
	return mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "connection reset"})
}

func duplicateKey() bson.D {
	return mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "E11000 duplicate key error"})
}

func started(mt *mtest.T) (names []string, byName map[string]*event.CommandStartedEvent) {
	byName = map[string]*event.CommandStartedEvent{}
	for e := mt.GetStartedEvent(); e != nil; e = mt.GetStartedEvent() {
		names = append(names, e.CommandName)
		byName[e.CommandName] = e
	}
	return names, byName
}

func storedDoc(version int64, status document.Status) *document.Document {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &document.Document{
		ID:            "d1",
		Title:         "notes",
		Content:       "hello",
		CreatorID:     "u1",
		Collaborators: []string{},
		Status:        status,
		Version:       version,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func newEdit() *document.Edit {
	return &document.Edit{
		DocumentID: "d1",
		AuthorID:   "u1",
		Kind:       document.EditInsert,
		Position:   5,
		Content:    "!",
		CreatedAt:  time.Now().UTC(),
	}
}

func TestMongoRepoCommitEdit(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("draft moves to in_progress", func(mt *mtest.T) {
		r := mockRepo(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			modified(mt, storedDoc(2, document.StatusInProgress)),
		)

		e := newEdit()
		d, err := r.CommitEdit(context.Background(), e, "hello!", 1)
		require.NoError(mt, err)
		require.Equal(mt, int64(2), e.Version)
		require.Equal(mt, int64(2), d.Version)
		require.Equal(mt, document.StatusInProgress, d.Status)

		names, cmds := started(mt)
		require.Equal(mt, []string{"insert", "findAndModify"}, names)
		fam := cmds["findAndModify"].Command
		require.Equal(mt, int64(1), fam.Lookup("query", "version").Int64())
		require.Equal(mt, string(document.StatusPublished), fam.Lookup("query", "status", "$ne").StringValue())
		pipeline := fam.Lookup("update").String()
		require.Contains(mt, pipeline, "$cond")
		require.Contains(mt, pipeline, string(document.StatusDraft))
		require.Contains(mt, pipeline, string(document.StatusInProgress))
	})

	mt.Run("published document is refused and the record removed", func(mt *mtest.T) {
		r := mockRepo(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			modified(mt, nil),
			found(mt, colDocuments, storedDoc(1, document.StatusPublished)),
			deleted(1),
		)

		_, err := r.CommitEdit(context.Background(), newEdit(), "hello!", 1)
		require.ErrorIs(mt, err, ErrStatusMismatch)

		names, cmds := started(mt)
		require.Equal(mt, []string{"insert", "findAndModify", "find", "delete"}, names)
		require.NotEmpty(mt, cmds["delete"].Command.Lookup("deletes").String())
	})

	mt.Run("taken version is a mismatch", func(mt *mtest.T) {
		r := mockRepo(mt)
		prior := newEdit()
		prior.ID = "other"
		prior.Version = 2
		mt.AddMockResponses(
			duplicateKey(),
			found(mt, colEdits, prior),
		)

		_, err := r.CommitEdit(context.Background(), newEdit(), "hello!", 1)
		require.ErrorIs(mt, err, ErrVersionMismatch)

		names, _ := started(mt)
		require.Equal(mt, []string{"insert", "find"}, names)
	})

	mt.Run("lost reply of an applied update keeps the record", func(mt *mtest.T) {
		r := mockRepo(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			commandError(),
			found(mt, colDocuments, storedDoc(2, document.StatusInProgress)),
		)

		d, err := r.CommitEdit(context.Background(), newEdit(), "hello!", 1)
		require.NoError(mt, err)
		require.Equal(mt, int64(2), d.Version)

		names, _ := started(mt)
		require.Equal(mt, []string{"insert", "findAndModify", "find"}, names)
	})

	mt.Run("failed update is rolled back", func(mt *mtest.T) {
		r := mockRepo(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			commandError(),
			found(mt, colDocuments, storedDoc(1, document.StatusInProgress)),
			deleted(1),
		)

		_, err := r.CommitEdit(context.Background(), newEdit(), "hello!", 1)
		require.ErrorIs(mt, err, document.ErrStoreUnavailable)

		names, _ := started(mt)
		require.Equal(mt, []string{"insert", "findAndModify", "find", "delete"}, names)
	})

	mt.Run("stale record from an earlier failed commit is reclaimed", func(mt *mtest.T) {
		r := mockRepo(mt)
		stale := newEdit()
		stale.ID = "stale"
		stale.Version = 2
		stale.CreatedAt = time.Now().Add(-2 * orphanAge).UTC()
		mt.AddMockResponses(
			duplicateKey(),
			found(mt, colEdits, stale),
			found(mt, colDocuments, storedDoc(1, document.StatusInProgress)),
			deleted(1),
			mtest.CreateSuccessResponse(),
			modified(mt, storedDoc(2, document.StatusInProgress)),
		)

		d, err := r.CommitEdit(context.Background(), newEdit(), "hello!", 1)
		require.NoError(mt, err)
		require.Equal(mt, int64(2), d.Version)

		names, _ := started(mt)
		require.Equal(mt, []string{"insert", "find", "find", "delete", "insert", "findAndModify"}, names)
	})
}

func TestMongoRepoCommitEditCallerGone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sent []string
	monitor := &event.CommandMonitor{
		Started: func(_ context.Context, e *event.CommandStartedEvent) {
			sent = append(sent, e.CommandName)
		},
		Succeeded: func(_ context.Context, e *event.CommandSucceededEvent) {
			// the request is abandoned right after the edit record is written
			if e.CommandName == "insert" {
				cancel()
			}
		},
	}
	opts := mtest.NewOptions().ClientType(mtest.Mock).ClientOptions(options.Client().SetMonitor(monitor))
	mt := mtest.New(t, opts)

	mt.Run("record is removed", func(mt *mtest.T) {
		r := mockRepo(mt)
		sent = nil
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			found(mt, colDocuments, storedDoc(1, document.StatusInProgress)),
			deleted(1),
		)

		_, err := r.CommitEdit(ctx, newEdit(), "hello!", 1)
		require.ErrorIs(mt, err, document.ErrStoreUnavailable)
		require.Error(mt, ctx.Err())

		require.Equal(mt, "insert", sent[0])
		require.Contains(mt, sent, "find")
		require.Equal(mt, "delete", sent[len(sent)-1])
	})
}

func TestMongoRepoTransitionStatus(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("status mismatch removes the review record", func(mt *mtest.T) {
		r := mockRepo(mt)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			modified(mt, nil),
			found(mt, colDocuments, storedDoc(3, document.StatusInProgress)),
			deleted(1),
		)

		rec := &document.ReviewRecord{ActorID: "u2", Decision: document.DecisionApproved, CreatedAt: time.Now()}
		_, err := r.TransitionStatus(context.Background(), "d1", document.StatusReview, document.StatusPublished, rec)
		require.ErrorIs(mt, err, ErrStatusMismatch)

		names, cmds := started(mt)
		require.Equal(mt, []string{"insert", "findAndModify", "find", "delete"}, names)
		require.Equal(mt, string(document.StatusReview), cmds["findAndModify"].Command.Lookup("query", "status").StringValue())
		require.Equal(mt, "reviews", cmds["delete"].Command.Lookup("delete").StringValue())
	})

	mt.Run("publishing stamps publishedAt", func(mt *mtest.T) {
		r := mockRepo(mt)
		published := storedDoc(3, document.StatusPublished)
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(),
			modified(mt, published),
		)

		rec := &document.ReviewRecord{ActorID: "u2", Decision: document.DecisionApproved, CreatedAt: time.Now()}
		d, err := r.TransitionStatus(context.Background(), "d1", document.StatusReview, document.StatusPublished, rec)
		require.NoError(mt, err)
		require.Equal(mt, document.StatusPublished, d.Status)
		require.Equal(mt, "d1", rec.DocumentID)
		require.NotEmpty(mt, rec.ID)

		names, cmds := started(mt)
		require.Equal(mt, []string{"insert", "findAndModify"}, names)
		_, err = cmds["findAndModify"].Command.LookupErr("update", "$set", "publishedAt")
		require.NoError(mt, err)
	})

	mt.Run("failed record write changes nothing", func(mt *mtest.T) {
		r := mockRepo(mt)
		mt.AddMockResponses(commandError())

		rec := &document.ReviewRecord{ActorID: "u1", Decision: document.DecisionRequested, CreatedAt: time.Now()}
		_, err := r.TransitionStatus(context.Background(), "d1", document.StatusInProgress, document.StatusReview, rec)
		require.ErrorIs(mt, err, document.ErrStoreUnavailable)

		names, _ := started(mt)
		require.Equal(mt, []string{"insert"}, names)
	})
}

func TestMongoRepoResolveComment(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	at := time.Now().UTC().Truncate(time.Millisecond)
	comment := func(resolved bool) *document.Comment {
		c := &document.Comment{ID: "c1", DocumentID: "d1", AuthorID: "u1", Content: "typo", CreatedAt: at}
		if resolved {
			c.Resolved, c.ResolvedBy, c.ResolvedAt = true, "u2", &at
		}
		return c
	}

	mt.Run("only unresolved comments match", func(mt *mtest.T) {
		r := mockRepo(mt)
		mt.AddMockResponses(modified(mt, comment(true)))

		c, err := r.ResolveComment(context.Background(), "c1", "u2", at)
		require.NoError(mt, err)
		require.True(mt, c.Resolved)
		require.Equal(mt, "u2", c.ResolvedBy)

		_, cmds := started(mt)
		require.False(mt, cmds["findAndModify"].Command.Lookup("query", "resolved").Boolean())
	})

	mt.Run("already resolved", func(mt *mtest.T) {
		r := mockRepo(mt)
		mt.AddMockResponses(modified(mt, nil), found(mt, colComments, comment(true)))

		_, err := r.ResolveComment(context.Background(), "c1", "u3", at)
		require.ErrorIs(mt, err, ErrAlreadyResolved)
	})

	mt.Run("missing comment", func(mt *mtest.T) {
		r := mockRepo(mt)
		mt.AddMockResponses(modified(mt, nil), found(mt, colComments))

		_, err := r.ResolveComment(context.Background(), "c1", "u3", at)
		require.ErrorIs(mt, err, ErrNotFound)
	})
}
