package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pushkarjay/safecom/internal/auth"
	"github.com/pushkarjay/safecom/internal/middleware"
	"github.com/pushkarjay/safecom/internal/repository"
	"go.uber.org/zap"
)

// UserHandler handles the caller's profile, push devices, and
// administrative user changes.
type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// GetMe handles GET /v1/users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.repo.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	// A valid token for a user that is not in the store.
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

type deviceRequest struct {
	Token string `json:"token" binding:"required"`
}

// AddDevice handles POST /v1/users/me/devices
func (h *UserHandler) AddDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		badRequest(c, "token is required")
		return
	}
	if err := h.repo.AddDeviceToken(c.Request.Context(), middleware.GetUserID(c), token); err != nil {
		h.logger.Error("failed to add device token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveDevice handles DELETE /v1/users/me/devices/:token
func (h *UserHandler) RemoveDevice(c *gin.Context) {
	if err := h.repo.RemoveDeviceToken(c.Request.Context(), middleware.GetUserID(c), c.Param("token")); err != nil {
		h.logger.Error("failed to remove device token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove device"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Deactivate handles PATCH /v1/users/:id/deactivate. Deactivated users
// cannot log in and receive no pushes; their records stay.
func (h *UserHandler) Deactivate(c *gin.Context) {
	if !middleware.GetPrincipal(c).Can(auth.CapManageUsers) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only admins can deactivate users"})
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	user, err := h.repo.GetByID(ctx, id)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err := h.repo.SetActive(ctx, id, false); err != nil {
		h.logger.Error("failed to deactivate user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate user"})
		return
	}

	h.logger.Info("user deactivated",
		zap.String("user_id", id.String()),
		zap.String("by", middleware.GetUserID(c).String()),
	)
	user.IsActive = false
	c.JSON(http.StatusOK, user)
}
