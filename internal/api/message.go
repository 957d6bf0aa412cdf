package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/messaging"
	"github.com/pushkarjay/safecom/internal/middleware"
	"go.uber.org/zap"
)

type MessageHandler struct {
	tracker *messaging.Tracker
	logger  *zap.Logger
}

func NewMessageHandler(tracker *messaging.Tracker, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{tracker: tracker, logger: logger}
}

// Send handles POST /v1/messages
//
// Either conversation_id or recipient_id must be set. With only a
// recipient, the direct conversation is found or created first.
func (h *MessageHandler) Send(c *gin.Context) {
	var in messaging.SendInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	m, err := h.tracker.SendMessage(c.Request.Context(), in, middleware.GetPrincipal(c), c.GetHeader(idempotencyHeader))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// List handles GET /v1/conversations/:id/messages?before=123&limit=50
//
// Cursor-based pagination:
//   - "before" = message ID. "Give me messages older than this." 0 = start from latest.
//   - "limit"  = how many to return. Default 50, capped at 100.
func (h *MessageHandler) List(c *gin.Context) {
	conversationID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var before int64
	if b := c.Query("before"); b != "" {
		var err error
		before, err = strconv.ParseInt(b, 10, 64)
		if err != nil || before < 0 {
			badRequest(c, "invalid 'before' parameter")
			return
		}
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}

	msgs, err := h.tracker.ListMessages(c.Request.Context(), conversationID, middleware.GetPrincipal(c), before, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type editRequest struct {
	Content string `json:"content"`
}

// Edit handles PATCH /v1/messages/:id
func (h *MessageHandler) Edit(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	m, err := h.tracker.EditMessage(c.Request.Context(), id, req.Content, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Delete handles DELETE /v1/messages/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	if err := h.tracker.DeleteMessage(c.Request.Context(), id, middleware.GetPrincipal(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// AddReaction handles POST /v1/messages/:id/reactions
func (h *MessageHandler) AddReaction(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	m, err := h.tracker.AddReaction(c.Request.Context(), id, req.Emoji, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// RemoveReaction handles DELETE /v1/messages/:id/reactions
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	m, err := h.tracker.RemoveReaction(c.Request.Context(), id, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Search handles GET /v1/messages/search?q=&limit=
func (h *MessageHandler) Search(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	msgs, err := h.tracker.Search(c.Request.Context(), middleware.GetPrincipal(c), c.Query("q"), limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// UnreadCount handles GET /v1/messages/unread-count?conversation_id=
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	var conversationID *uuid.UUID
	if raw := c.Query("conversation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid 'conversation_id' parameter")
			return
		}
		conversationID = &id
	}
	n, err := h.tracker.UnreadCount(c.Request.Context(), middleware.GetPrincipal(c), conversationID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}
