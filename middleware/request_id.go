package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

const ctxRequestID = "request_id"

// RequestIDMiddleware tags every request with an ID that rides on logs,
// traces and audit events. A caller-supplied header wins so ids stay stable
// across service hops.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(ctxRequestID, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// GetRequestID returns the request id, or "" outside RequestIDMiddleware.
func GetRequestID(c *gin.Context) string {
	return ctxString(c, ctxRequestID)
}
