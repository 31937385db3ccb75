package middleware

import (
	"net/http"

	"kb-search-platform/utils"

	"github.com/gin-gonic/gin"
)

// RequestSizeLimit rejects oversized request bodies. The Content-Length
// check gives well-behaved clients a clean error up front; MaxBytesReader
// backstops chunked uploads that never declare a length.
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			utils.AbortWithError(c, http.StatusRequestEntityTooLarge,
				"request_too_large",
				"Request body exceeds maximum size",
				gin.H{
					"max_size_bytes": maxSize,
					"received":       c.Request.ContentLength,
				})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}
		c.Next()
	}
}
