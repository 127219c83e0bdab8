package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document/service"
	"github.com/piratebomber/cirkel.io/backend/go-services/internal/events"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/logger"
	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/middleware"
)

const snapshotLinkTTL = 15 * time.Minute

// SnapshotLinker returns a temporary download link for the archived
// snapshot of a published document.
type SnapshotLinker interface {
	SnapshotURL(ctx context.Context, d *document.Document, expires time.Duration) (string, error)
}

// Handler exposes the collaboration service over HTTP.
type Handler struct {
	svc       *service.Service
	broker    *events.Broker
	snapshots SnapshotLinker
}

// New returns a Handler. broker and snapshots may be nil, which disables the
// event stream and snapshot links.
func New(svc *service.Service, broker *events.Broker, snapshots SnapshotLinker) *Handler {
	return &Handler{svc: svc, broker: broker, snapshots: snapshots}
}

// Register mounts the document routes on rg. rg must run the auth middleware.
func (h *Handler) Register(rg *gin.RouterGroup) {
	docs := rg.Group("/documents")
	docs.GET("", h.list)
	docs.POST("", h.create)
	docs.GET("/:id", h.get)
	docs.DELETE("/:id", h.delete)
	docs.POST("/:id/grants", h.grant)

	docs.GET("/:id/edits", h.listEdits)
	docs.POST("/:id/edits", h.applyEdit)

	docs.GET("/:id/comments", h.listComments)
	docs.POST("/:id/comments", h.addComment)
	docs.POST("/:id/comments/:commentId/resolve", h.resolveComment)

	docs.GET("/:id/session", h.editors)
	docs.POST("/:id/session/join", h.join)
	docs.POST("/:id/session/leave", h.leave)

	docs.GET("/:id/lock", h.lockStatus)
	docs.POST("/:id/lock", h.acquireLock)
	docs.DELETE("/:id/lock", h.releaseLock)

	docs.GET("/:id/review", h.reviewHistory)
	docs.POST("/:id/review/request", h.requestReview)
	docs.POST("/:id/review/approve", h.approve)
	docs.POST("/:id/review/reject", h.reject)

	docs.GET("/:id/snapshot", h.snapshot)
	docs.GET("/:id/events", h.events)
}

// caller returns the authenticated user or aborts with 401.
func caller(c *gin.Context) (string, bool) {
	sub := middleware.Subject(c)
	if sub == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return "", false
	}
	return sub, true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, document.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, document.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, document.ErrEditConflict):
		return http.StatusConflict
	case errors.Is(err, document.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, document.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (h *Handler) list(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	list, err := h.svc.ListDocuments(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) create(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Title         string               `json:"title"`
		Content       string               `json:"content"`
		Collaborators []string             `json:"collaborators"`
		Permissions   document.Permissions `json:"permissions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.svc.CreateDocument(c.Request.Context(), user, service.NewDocument{
		Title:         req.Title,
		Content:       req.Content,
		Collaborators: req.Collaborators,
		Permissions:   req.Permissions,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) get(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	d, err := h.svc.GetDocument(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) delete(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.svc.DeleteDocument(c.Request.Context(), user, id); err != nil {
		fail(c, err)
		return
	}
	// open streams have already been sent documentDeleted
	if h.broker != nil {
		h.broker.CloseDocument(id)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) grant(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	var g document.Grant
	if err := c.ShouldBindJSON(&g); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.svc.GrantAccess(c.Request.Context(), user, c.Param("id"), g)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) listEdits(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	list, err := h.svc.ListEdits(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) applyEdit(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Kind            document.EditKind `json:"kind" binding:"required"`
		Position        int               `json:"position"`
		Content         string            `json:"content"`
		PreviousContent string            `json:"previousContent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.ApplyEdit(c.Request.Context(), user, c.Param("id"), service.EditRequest{
		Kind:            req.Kind,
		Position:        req.Position,
		Content:         req.Content,
		PreviousContent: req.PreviousContent,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"edit": res.Edit, "document": res.Document})
}

func (h *Handler) listComments(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	list, err := h.svc.ListComments(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) addComment(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
		Anchor  *int   `json:"anchor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cm, err := h.svc.AddComment(c.Request.Context(), user, c.Param("id"), req.Content, req.Anchor)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cm)
}

func (h *Handler) resolveComment(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	cm, err := h.svc.ResolveComment(c.Request.Context(), user, c.Param("id"), c.Param("commentId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cm)
}

func (h *Handler) editors(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	editors, err := h.svc.ActiveEditors(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"editors": editors})
}

func (h *Handler) join(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	editors, err := h.svc.JoinSession(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"editors": editors})
}

func (h *Handler) leave(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	if err := h.svc.LeaveSession(c.Request.Context(), user, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) lockStatus(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	l, err := h.svc.LockStatus(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lock": l})
}

func (h *Handler) acquireLock(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	acquired, err := h.svc.AcquireLock(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acquired": acquired})
}

func (h *Handler) releaseLock(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	released, err := h.svc.ReleaseLock(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": released})
}

func (h *Handler) reviewHistory(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	history, err := h.svc.ListReviewHistory(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) requestReview(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	d, err := h.svc.RequestReview(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) approve(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	d, err := h.svc.ApprovePost(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) reject(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := h.svc.RejectPost(c.Request.Context(), user, c.Param("id"), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) snapshot(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	if h.snapshots == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "snapshot archive not configured"})
		return
	}
	d, err := h.svc.GetDocument(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if d.Status != document.StatusPublished {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "document is not published"})
		return
	}
	url, err := h.snapshots.SnapshotURL(c.Request.Context(), d, snapshotLinkTTL)
	if err != nil {
		logger.Errorf("snapshot link for %s: %v", d.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to sign snapshot link"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expiresIn": int(snapshotLinkTTL.Seconds())})
}

// events streams the document's events as server-sent events until the
// client goes away or the document is deleted.
func (h *Handler) events(c *gin.Context) {
	user, ok := caller(c)
	if !ok {
		return
	}
	if h.broker == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event stream not configured"})
		return
	}
	id := c.Param("id")
	if _, err := h.svc.GetDocument(c.Request.Context(), user, id); err != nil {
		fail(c, err)
		return
	}

	sub := h.broker.Subscribe(id, user)
	defer h.broker.Unsubscribe(sub)
	logger.Debugf("event stream %s opened on %s for %s", sub.ID(), id, user)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("subscribed", gin.H{"subscription": sub.ID(), "documentId": id})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, open := <-sub.Events():
			if !open {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return e.Type != events.DocumentDeleted
		}
	})
	logger.Debugf("event stream %s closed", sub.ID())
}
