package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pushkarjay/safecom/internal/apperr"
	"go.uber.org/zap"
)

// writeError maps a service error to its HTTP status. Domain errors carry
// their message to the client; anything else is logged and reported as a
// retryable failure without detail.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var status int
	switch {
	case errors.Is(err, apperr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": apperr.FieldsOf(err)})
		return
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrTooOld):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrInvalidTransition):
		status = http.StatusConflict
	default:
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Network error - please retry"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id < 1 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, "invalid '"+name+"' parameter")
		return 0, false
	}
	return n, true
}

const idempotencyHeader = "Idempotency-Key"
