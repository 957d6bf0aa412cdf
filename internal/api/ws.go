package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pushkarjay/safecom/internal/auth"
	"github.com/pushkarjay/safecom/internal/realtime"
	"go.uber.org/zap"
)

// WSHandler upgrades GET /v1/ws to a realtime connection. Browsers cannot
// set headers on a websocket handshake, so the JWT comes in ?token=.
type WSHandler struct {
	hub       *realtime.Hub
	access    realtime.Authorizer
	jwtSecret string
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

func NewWSHandler(hub *realtime.Hub, access realtime.Authorizer, jwtSecret string, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:       hub,
		access:    access,
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Mobile clients send no Origin; the token is the credential.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Serve handles GET /v1/ws?token=<jwt>
func (h *WSHandler) Serve(c *gin.Context) {
	claims, err := auth.ParseToken(c.Query("token"), h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	userID := claims.Principal().UserID
	realtime.NewClient(conn, h.hub, h.access, userID, h.logger).Serve(c.Request.Context())
}
