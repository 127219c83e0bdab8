package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document/repository"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document/service"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/events"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/locks"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/presence"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/middleware"
	"github.com/stretchr/testify/require"
)

// userToken treats the bearer token as the user id.
type userToken string

func (t userToken) Claims(v interface{}) error {
	b, _ := json.Marshal(map[string]string{"sub": string(t)})
	return json.Unmarshal(b, v)
}

type userVerifier struct{}

func (userVerifier) Verify(_ context.Context, raw string) (middleware.Token, error) {
	return userToken(raw), nil
}

type fakeLinker struct{ err error }

func (l fakeLinker) SnapshotURL(_ context.Context, d *document.Document, _ time.Duration) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	return "https://snapshots.local/" + d.ID, nil
}

type env struct {
	svc    *service.Service
	broker *events.Broker
	router *gin.Engine
}

func newEnv(t *testing.T, linker SnapshotLinker) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, err := repository.NewMemoryRepo()
	require.NoError(t, err)
	broker := events.NewBroker(16)
	svc := service.New(repo, locks.NewMemoryManager(locks.DefaultTimeout, nil), presence.NewRegistry(), broker)

	r := gin.New()
	New(svc, broker, linker).Register(r.Group("/api", middleware.AuthMiddleware(userVerifier{}, nil)))
	return &env{svc: svc, broker: broker, router: r}
}

func (e *env) do(t *testing.T, user, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *env) createDoc(t *testing.T) string {
	t.Helper()
	w := e.do(t, "alice", http.MethodPost, "/api/documents",
		`{"title":"Notes","content":"Hello","collaborators":["bob"],"permissions":{"canApprove":["carol"],"canComment":["dave"]}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[document.Document](t, w).ID
}

func TestHandler_DocumentLifecycle(t *testing.T) {
	e := newEnv(t, fakeLinker{})

	w := e.do(t, "", http.MethodGet, "/api/documents", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	id := e.createDoc(t)

	w = e.do(t, "bob", http.MethodGet, "/api/documents/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Hello", decode[document.Document](t, w).Content)

	w = e.do(t, "mallory", http.MethodGet, "/api/documents/"+id, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, "alice", http.MethodGet, "/api/documents/missing", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, "mallory", http.MethodGet, "/api/documents", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, decode[[]document.Document](t, w))

	w = e.do(t, "alice", http.MethodPost, "/api/documents/"+id+"/grants", `{"canComment":["mallory"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, "mallory", http.MethodGet, "/api/documents", "")
	require.Len(t, decode[[]document.Document](t, w), 1)

	w = e.do(t, "bob", http.MethodDelete, "/api/documents/"+id, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, "alice", http.MethodDelete, "/api/documents/"+id, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, "alice", http.MethodGet, "/api/documents/"+id, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_EditsAndConflicts(t *testing.T) {
	e := newEnv(t, nil)
	id := e.createDoc(t)

	w := e.do(t, "alice", http.MethodPost, "/api/documents/"+id+"/edits", `{"kind":"insert","position":5,"content":" world"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[struct {
		Edit     document.Edit     `json:"edit"`
		Document document.Document `json:"document"`
	}](t, w)
	require.Equal(t, "Hello world", res.Document.Content)
	require.Equal(t, int64(2), res.Document.Version)
	require.Equal(t, document.StatusInProgress, res.Document.Status)

	w = e.do(t, "bob", http.MethodPost, "/api/documents/"+id+"/edits", `{"kind":"replace","position":6,"content":"there","previousContent":"world"}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, "bob", http.MethodPost, "/api/documents/"+id+"/edits", `{"kind":"insert","position":99,"content":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, "bob", http.MethodPost, "/api/documents/"+id+"/edits", `{"position":0}`)
	require.Equal(t, http.StatusBadRequest, w.Code, "kind is required")
	w = e.do(t, "dave", http.MethodPost, "/api/documents/"+id+"/edits", `{"kind":"insert","position":0,"content":"x"}`)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, "carol", http.MethodGet, "/api/documents/"+id+"/edits", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[[]document.Edit](t, w), 1)
}

func TestHandler_ReviewFlow(t *testing.T) {
	e := newEnv(t, fakeLinker{})
	id := e.createDoc(t)
	base := "/api/documents/" + id

	w := e.do(t, "alice", http.MethodPost, base+"/review/request", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, "draft cannot go to review")

	require.Equal(t, http.StatusOK, e.do(t, "alice", http.MethodPost, base+"/edits", `{"kind":"insert","position":0,"content":"# "}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, "alice", http.MethodPost, base+"/review/request", "").Code)

	w = e.do(t, "carol", http.MethodPost, base+"/review/reject", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = e.do(t, "carol", http.MethodPost, base+"/review/reject", `{"reason":"add a summary"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, document.StatusInProgress, decode[document.Document](t, w).Status)

	w = e.do(t, "alice", http.MethodGet, base+"/snapshot", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	require.Equal(t, http.StatusOK, e.do(t, "alice", http.MethodPost, base+"/review/request", "").Code)
	w = e.do(t, "bob", http.MethodPost, base+"/review/approve", "")
	require.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, "carol", http.MethodPost, base+"/review/approve", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, document.StatusPublished, decode[document.Document](t, w).Status)

	w = e.do(t, "alice", http.MethodGet, base+"/review", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decode[[]document.ReviewRecord](t, w), 4)

	w = e.do(t, "bob", http.MethodGet, base+"/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "https://snapshots.local/"+id, decode[map[string]any](t, w)["url"])
}

func TestHandler_SnapshotErrors(t *testing.T) {
	e := newEnv(t, nil)
	id := e.createDoc(t)
	require.Equal(t, http.StatusNotImplemented, e.do(t, "alice", http.MethodGet, "/api/documents/"+id+"/snapshot", "").Code)

	e = newEnv(t, fakeLinker{err: errors.New("no credentials")})
	id = e.createDoc(t)
	ctx := context.Background()
	_, err := e.svc.ApplyEdit(ctx, "alice", id, service.EditRequest{Kind: document.EditInsert, Position: 0, Content: "!"})
	require.NoError(t, err)
	_, err = e.svc.RequestReview(ctx, "alice", id)
	require.NoError(t, err)
	_, err = e.svc.ApprovePost(ctx, "carol", id)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, e.do(t, "alice", http.MethodGet, "/api/documents/"+id+"/snapshot", "").Code)
}

func TestHandler_CommentsSessionsLocks(t *testing.T) {
	e := newEnv(t, nil)
	base := "/api/documents/" + e.createDoc(t)

	w := e.do(t, "dave", http.MethodPost, base+"/comments", `{"content":"typo?","anchor":1}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	c := decode[document.Comment](t, w)

	w = e.do(t, "dave", http.MethodPost, base+"/comments/"+c.ID+"/resolve", "")
	require.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, "bob", http.MethodPost, base+"/comments/"+c.ID+"/resolve", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, "bob", http.MethodPost, base+"/comments/"+c.ID+"/resolve", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = e.do(t, "alice", http.MethodGet, base+"/comments", "")
	require.Len(t, decode[[]document.Comment](t, w), 1)

	w = e.do(t, "bob", http.MethodPost, base+"/session/join", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"bob"}, decode[map[string][]string](t, w)["editors"])
	w = e.do(t, "dave", http.MethodPost, base+"/session/join", "")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, "bob", http.MethodPost, base+"/lock", "")
	require.Equal(t, map[string]bool{"acquired": true}, decode[map[string]bool](t, w))
	w = e.do(t, "alice", http.MethodPost, base+"/lock", "")
	require.Equal(t, map[string]bool{"acquired": false}, decode[map[string]bool](t, w))
	w = e.do(t, "alice", http.MethodDelete, base+"/lock", "")
	require.Equal(t, map[string]bool{"released": false}, decode[map[string]bool](t, w))

	w = e.do(t, "carol", http.MethodGet, base+"/lock", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"holderId":"bob"`)

	require.Equal(t, http.StatusNoContent, e.do(t, "bob", http.MethodPost, base+"/session/leave", "").Code)
	w = e.do(t, "carol", http.MethodGet, base+"/lock", "")
	require.JSONEq(t, `{"lock":null}`, w.Body.String())
	w = e.do(t, "carol", http.MethodGet, base+"/session", "")
	require.Empty(t, decode[map[string][]string](t, w)["editors"])
}

func TestHandler_EventStream(t *testing.T) {
	e := newEnv(t, nil)
	id := e.createDoc(t)

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/documents/"+id+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer bob")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if name, ok := strings.CutPrefix(lines.Text(), "event:"); ok {
				return strings.TrimSpace(name)
			}
		}
		return ""
	}
	require.Equal(t, "subscribed", next())

	_, err = e.svc.ApplyEdit(context.Background(), "alice", id, service.EditRequest{Kind: document.EditInsert, Position: 5, Content: "!"})
	require.NoError(t, err)
	require.Equal(t, string(events.EditApplied), next())

	require.NoError(t, e.svc.DeleteDocument(context.Background(), "alice", id))
	e.broker.CloseDocument(id)
	require.Equal(t, string(events.DocumentDeleted), next())
	require.Equal(t, "", next(), "stream ends after deletion")
}

func TestHandler_EventStreamNeedsAccess(t *testing.T) {
	e := newEnv(t, nil)
	id := e.createDoc(t)
	w := e.do(t, "mallory", http.MethodGet, "/api/documents/"+id+"/events", "")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Zero(t, e.broker.Subscribers(id))
}
