package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"habitat/server/internal/apperror"
)

var statusByKind = map[apperror.Kind]int{
	apperror.KindNotFound:        http.StatusNotFound,
	apperror.KindUnauthenticated: http.StatusUnauthorized,
	apperror.KindUnauthorized:    http.StatusForbidden,
	apperror.KindInvalidInput:    http.StatusBadRequest,
	apperror.KindConflict:        http.StatusConflict,
	apperror.KindDeliveryFailed:  http.StatusBadGateway,
	apperror.KindInternal:        http.StatusInternalServerError,
}

// respondError writes err as {"error", "kind"} with the status of its kind.
// Internal errors never expose their cause.
func (h *Handler) respondError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	message := "internal server error"
	var appErr *apperror.Error
	if kind != apperror.KindInternal && errors.As(err, &appErr) {
		message = appErr.Message
	}

	if kind == apperror.KindUnauthenticated {
		c.Header("WWW-Authenticate", "Bearer")
	}
	if kind == apperror.KindInternal {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}

	c.AbortWithStatusJSON(status, gin.H{"error": message, "kind": string(kind)})
}

// badRequest reports a malformed request body or query.
func (h *Handler) badRequest(c *gin.Context, err error) {
	h.logger.WithError(err).Debug("Invalid request")
	h.respondError(c, apperror.InvalidInput("invalid request: %v", err))
}
