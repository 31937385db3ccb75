package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"kb-search-platform/internal/auth"
	"kb-search-platform/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Bodies past this size are passed through untouched and logged without a
// change set.
const maxAuditBody = 1 << 20

// Probe endpoints fire every few seconds and would drown real activity.
var auditExempt = map[string]bool{
	"/health": true,
	"/ready":  true,
}

// AuditMiddleware records every API request as an event in the hash-chained
// audit trail. Events are written off the request path, so a storage hiccup
// slows nothing down and loses at most the hiccup's events.
func AuditMiddleware(auditor *models.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auditExempt[c.Request.URL.Path] {
			c.Next()
			return
		}

		body := captureBody(c)

		requestID := GetRequestID(c)
		if requestID == "" {
			requestID = uuid.NewString()
			c.Set(ctxRequestID, requestID)
		}

		c.Next()

		auditor.LogAsync(auditEvent(c, body, requestID))
	}
}

// replayBody stitches an already-read prefix back onto the unread remainder
// of a request body.
type replayBody struct {
	io.Reader
	io.Closer
}

// captureBody tees the request body so the handler can still read it.
// Multipart uploads and oversized bodies are skipped; the handler always
// sees the complete stream either way.
func captureBody(c *gin.Context) []byte {
	if c.Request.Body == nil {
		return nil
	}
	if strings.HasPrefix(c.Request.Header.Get("Content-Type"), "multipart/") {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAuditBody+1))
	if err != nil {
		c.Request.Body = replayBody{io.MultiReader(bytes.NewReader(raw), c.Request.Body), c.Request.Body}
		return nil
	}
	if len(raw) > maxAuditBody {
		c.Request.Body = replayBody{io.MultiReader(bytes.NewReader(raw), c.Request.Body), c.Request.Body}
		return nil
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	return raw
}

// auditEvent distills the finished request into a trail entry.
func auditEvent(c *gin.Context, body []byte, requestID string) *models.AuditEvent {
	event := &models.AuditEvent{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		RequestID: requestID,
		Success:   c.Writer.Status() < 400,
	}

	if claims, ok := c.Get("claims"); ok {
		if cl, ok := claims.(*auth.Claims); ok {
			event.TenantID = cl.TenantID
			event.UserID = cl.UserID
		}
	}

	event.Action = actionFor(c.Request.Method)
	event.Resource, event.ResourceID = resourceFor(c.Request.URL.Path)
	if !event.Success {
		event.ErrorMessage = errorSummary(c)
	}
	event.Changes = redactedChanges(body, event.Action)

	return event
}

func actionFor(method string) string {
	switch method {
	case http.MethodGet:
		return "READ"
	case http.MethodPost:
		return "CREATE"
	case http.MethodPut, http.MethodPatch:
		return "UPDATE"
	case http.MethodDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Resource classification is prefix-based and ordered most specific first.
var resourcePrefixes = []struct {
	prefix   string
	resource string
	withID   bool
}{
	{"/search/rate", "rating", false},
	{"/search/stats", "analytics", false},
	{"/search", "search", false},
	{"/documents", "document", true},
	{"/admin/audit", "audit", false},
	{"/admin", "admin", true},
	{"/auth", "auth", false},
}

func resourceFor(path string) (string, string) {
	for _, p := range resourcePrefixes {
		if strings.HasPrefix(path, p.prefix) {
			if p.withID {
				return p.resource, pathID(path)
			}
			return p.resource, ""
		}
	}
	return "unknown", ""
}

// pathID picks the first segment shaped like an identifier we issue:
// 16-hex document ids, 24-hex Mongo object ids, or UUID rating event ids.
func pathID(path string) string {
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		switch {
		case len(part) == 36 && strings.Count(part, "-") == 4:
			return part
		case (len(part) == 16 || len(part) == 24) && isLowerHex(part):
			return part
		}
	}
	return ""
}

func isLowerHex(s string) bool {
	for _, ch := range s {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return len(s) > 0
}

// errorSummary prefers errors handlers attached to the context over the
// bare status line.
func errorSummary(c *gin.Context) string {
	if len(c.Errors) > 0 {
		return c.Errors.Last().Error()
	}
	return "HTTP " + strconv.Itoa(c.Writer.Status())
}

// Body fields whose values never reach the trail.
var redactedFields = []string{"password", "token", "secret", "key"}

// redactedChanges parses a mutating request's JSON body with credential
// fields masked. Reads and deletes carry no change set.
func redactedChanges(body []byte, action string) map[string]interface{} {
	if len(body) == 0 || action == "READ" || action == "DELETE" {
		return nil
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Non-JSON bodies are kept raw so the trail still shows intent.
		return map[string]interface{}{"raw_body": string(body)}
	}

	for key := range parsed {
		if sensitiveField(key) {
			parsed[key] = "[REDACTED]"
		}
	}
	return parsed
}

func sensitiveField(field string) bool {
	lower := strings.ToLower(field)
	for _, s := range redactedFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
