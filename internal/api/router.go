package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pushkarjay/safecom/internal/middleware"
	"go.uber.org/zap"
)

// Handlers groups everything NewRouter mounts.
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Tasks         *TaskHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	WS            *WSHandler
}

// NewRouter builds the HTTP surface. Health, auth and the websocket
// handshake are public; everything else under /v1 requires a JWT.
func NewRouter(h Handlers, jwtSecret string, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))

	// Load balancers hit this without credentials.
	r.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/v1/auth/signup", h.Auth.Signup)
	r.POST("/v1/auth/login", h.Auth.Login)
	r.GET("/v1/ws", h.WS.Serve)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtSecret))

	v1.GET("/users/me", h.Users.GetMe)
	v1.POST("/users/me/devices", h.Users.AddDevice)
	v1.DELETE("/users/me/devices/:token", h.Users.RemoveDevice)
	v1.PATCH("/users/:id/deactivate", h.Users.Deactivate)

	v1.POST("/tasks", h.Tasks.Create)
	v1.GET("/tasks", h.Tasks.List)
	v1.GET("/tasks/:id", h.Tasks.Get)
	v1.PATCH("/tasks/:id", h.Tasks.Update)
	v1.DELETE("/tasks/:id", h.Tasks.Delete)
	v1.POST("/tasks/:id/comments", h.Tasks.AddComment)
	v1.POST("/tasks/:id/time", h.Tasks.LogTime)
	v1.POST("/tasks/:id/watchers", h.Tasks.AddWatcher)
	v1.DELETE("/tasks/:id/watchers/:userId", h.Tasks.RemoveWatcher)

	v1.POST("/conversations", h.Conversations.Create)
	v1.GET("/conversations", h.Conversations.List)
	v1.GET("/conversations/:id/messages", h.Messages.List)
	v1.PATCH("/conversations/:id/read", h.Conversations.MarkRead)
	v1.PATCH("/conversations/:id/delivered", h.Conversations.MarkDelivered)
	v1.PATCH("/conversations/:id/archive", h.Conversations.Archive)
	v1.PATCH("/conversations/:id/mute", h.Conversations.Mute)

	// Static segments win over :id in gin's tree, so search and
	// unread-count do not collide with /messages/:id.
	v1.POST("/messages", h.Messages.Send)
	v1.GET("/messages/search", h.Messages.Search)
	v1.GET("/messages/unread-count", h.Messages.UnreadCount)
	v1.PATCH("/messages/:id", h.Messages.Edit)
	v1.DELETE("/messages/:id", h.Messages.Delete)
	v1.POST("/messages/:id/reactions", h.Messages.AddReaction)
	v1.DELETE("/messages/:id/reactions", h.Messages.RemoveReaction)

	return r
}
