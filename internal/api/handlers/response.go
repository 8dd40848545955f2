package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/ticketauth/internal/api/middleware"
	"github.com/adamscao/ticketauth/internal/apperr"
	"github.com/adamscao/ticketauth/internal/service"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// MessageResponse represents a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// RespondError sends an error response
func RespondError(c *gin.Context, statusCode int, errorCode string, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// RespondAppError maps err onto a status and body. Unclassified errors are
// logged and reported as internal errors without their text.
func RespondAppError(c *gin.Context, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	RespondError(c, status, apperr.Code(err), apperr.Message(err))
}

// RespondSuccess sends a success response
func RespondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// RespondMessage sends a plain acknowledgement
func RespondMessage(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, MessageResponse{Message: message})
}

// requestMeta describes the caller for the audit log
func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		SourceAddr: middleware.ClientIP(c),
		Agent:      c.GetHeader("User-Agent"),
	}
}

// bindJSON decodes the body into req, answering 400 on malformed input
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}
