package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oriyet/backend/pkg/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Message: message, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Message: message, Data: data})
}

// Fail sends a failure envelope with an explicit status. Data may be nil.
func Fail(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Body{Success: false, Message: message, Data: data})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, message, nil)
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, message string) {
	Fail(c, http.StatusUnauthorized, message, nil)
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, message string) {
	Fail(c, http.StatusForbidden, message, nil)
}

// NotFound sends 404.
func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, message, nil)
}

// TooManyRequests sends 429.
func TooManyRequests(c *gin.Context, message string) {
	Fail(c, http.StatusTooManyRequests, message, nil)
}

// Internal sends 500.
func Internal(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, message, nil)
}

// Error maps err onto the envelope. Classified errors keep their message;
// anything else is logged and answered with a generic 500.
func Error(c *gin.Context, logger *zap.Logger, err error) {
	ae, ok := apperr.From(err)
	if !ok {
		if logger != nil {
			logger.Error("unhandled error", zap.Error(err), zap.String("path", c.FullPath()))
		}
		Internal(c, "Internal server error")
		return
	}
	status := ae.Kind.HTTPStatus()
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			zap.Error(err),
			zap.String("kind", ae.Kind.String()),
			zap.String("path", c.FullPath()),
		)
	}
	message := ae.Message
	if ae.Kind == apperr.KindConfiguration || ae.Kind == apperr.KindInternal {
		message = "Internal server error"
	}
	Fail(c, status, message, nil)
}
