package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/auth"
	"github.com/pushkarjay/safecom/internal/messaging"
	"github.com/pushkarjay/safecom/internal/middleware"
	"go.uber.org/zap"
)

type ConversationHandler struct {
	tracker *messaging.Tracker
	logger  *zap.Logger
}

func NewConversationHandler(tracker *messaging.Tracker, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{tracker: tracker, logger: logger}
}

// Create handles POST /v1/conversations
func (h *ConversationHandler) Create(c *gin.Context) {
	var in messaging.ConversationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	conv, err := h.tracker.CreateConversation(c.Request.Context(), in, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// List handles GET /v1/conversations?archived=true&limit=&offset=
func (h *ConversationHandler) List(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	views, err := h.tracker.ListConversations(c.Request.Context(), middleware.GetPrincipal(c),
		c.Query("archived") == "true", limit, offset)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

// MarkRead handles PATCH /v1/conversations/:id/read
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	n, err := h.tracker.MarkRead(c.Request.Context(), id, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// MarkDelivered handles PATCH /v1/conversations/:id/delivered
func (h *ConversationHandler) MarkDelivered(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	n, err := h.tracker.MarkDelivered(c.Request.Context(), id, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// flagRequest is the body of archive and mute. A missing value means true.
type flagRequest struct {
	Value *bool `json:"value"`
}

func (r flagRequest) value() bool {
	return r.Value == nil || *r.Value
}

// Archive handles PATCH /v1/conversations/:id/archive
func (h *ConversationHandler) Archive(c *gin.Context) {
	h.setFlag(c, h.tracker.SetArchived)
}

// Mute handles PATCH /v1/conversations/:id/mute
func (h *ConversationHandler) Mute(c *gin.Context) {
	h.setFlag(c, h.tracker.SetMuted)
}

func (h *ConversationHandler) setFlag(c *gin.Context, set func(ctx context.Context, id uuid.UUID, p auth.Principal, v bool) error) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req flagRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if err := set(c.Request.Context(), id, middleware.GetPrincipal(c), req.value()); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
