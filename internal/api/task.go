package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/middleware"
	"github.com/pushkarjay/safecom/internal/models"
	"github.com/pushkarjay/safecom/internal/tasks"
	"go.uber.org/zap"
)

type TaskHandler struct {
	manager *tasks.Manager
	logger  *zap.Logger
}

func NewTaskHandler(manager *tasks.Manager, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{manager: manager, logger: logger}
}

// Create handles POST /v1/tasks
//
// A retried request carrying the same Idempotency-Key gets the task from
// the first attempt back, and nobody is notified twice.
func (h *TaskHandler) Create(c *gin.Context) {
	var in tasks.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	t, err := h.manager.CreateTask(c.Request.Context(), in, middleware.GetPrincipal(c), c.GetHeader(idempotencyHeader))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// List handles GET /v1/tasks?status=&priority=&assigned_to=&q=&limit=&offset=
func (h *TaskHandler) List(c *gin.Context) {
	f := tasks.ListFilter{
		Status:   models.TaskStatus(c.Query("status")),
		Priority: models.TaskPriority(c.Query("priority")),
		Query:    c.Query("q"),
	}
	if raw := c.Query("assigned_to"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid 'assigned_to' parameter")
			return
		}
		f.AssignedTo = &id
	}
	var ok bool
	if f.Limit, ok = queryInt(c, "limit", 50); !ok {
		return
	}
	if f.Offset, ok = queryInt(c, "offset", 0); !ok {
		return
	}

	list, err := h.manager.ListTasks(c.Request.Context(), f, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list})
}

// Get handles GET /v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	t, err := h.manager.GetTask(c.Request.Context(), id, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Update handles PATCH /v1/tasks/:id
func (h *TaskHandler) Update(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var p tasks.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err.Error())
		return
	}
	t, err := h.manager.UpdateTask(c.Request.Context(), id, p, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Delete handles DELETE /v1/tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.manager.DeleteTask(c.Request.Context(), id, middleware.GetPrincipal(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type commentRequest struct {
	Content string `json:"content" binding:"required"`
}

// AddComment handles POST /v1/tasks/:id/comments
func (h *TaskHandler) AddComment(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	comment, err := h.manager.AddComment(c.Request.Context(), id, req.Content, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

type timeLogRequest struct {
	Seconds int `json:"seconds"`
}

// LogTime handles POST /v1/tasks/:id/time
func (h *TaskHandler) LogTime(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req timeLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	l, err := h.manager.LogTime(c.Request.Context(), id, req.Seconds, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

type watcherRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// AddWatcher handles POST /v1/tasks/:id/watchers
func (h *TaskHandler) AddWatcher(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req watcherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.UserID == uuid.Nil {
		badRequest(c, "user_id is required")
		return
	}
	t, err := h.manager.AddWatcher(c.Request.Context(), id, req.UserID, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// RemoveWatcher handles DELETE /v1/tasks/:id/watchers/:userId
func (h *TaskHandler) RemoveWatcher(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	t, err := h.manager.RemoveWatcher(c.Request.Context(), id, userID, middleware.GetPrincipal(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
