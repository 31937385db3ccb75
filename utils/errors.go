package utils

import (
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the wire shape of every error this API returns.
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError writes the standard error envelope.
func RespondWithError(c *gin.Context, status int, code, message string, details interface{}) {
	c.JSON(status, ErrorResponse{
		ErrorCode: code,
		Message:   message,
		Details:   details,
	})
}

// AbortWithError writes the envelope and stops the handler chain. For use
// from middleware.
func AbortWithError(c *gin.Context, status int, code, message string, details interface{}) {
	RespondWithError(c, status, code, message, details)
	c.Abort()
}
