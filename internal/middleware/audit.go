package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/opscope/opscope/internal/audit"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderTenantID      = "X-Tenant-ID"
	HeaderActor         = "X-User-ID"

	ContextCorrelationID = "correlation_id"
	ContextAuditHandle   = "audit_handle"
)

// AuditMiddleware opens one audit root per request and completes it after the
// handler chain returns. The correlation id is taken from the inbound header
// when present so upstream services can stitch their own trails, otherwise a
// fresh UUID is issued. Recording is append-only and never fails the request.
func AuditMiddleware(recorder *audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := strings.TrimSpace(c.GetHeader(HeaderCorrelationID))
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Header(HeaderCorrelationID, correlationID)
		c.Set(ContextCorrelationID, correlationID)

		handle := recorder.BeginRequest(
			correlationID,
			c.Request.Method,
			c.Request.URL.Path,
			c.GetHeader(HeaderActor),
			c.GetHeader(HeaderTenantID),
		)
		c.Set(ContextAuditHandle, handle)

		c.Next()

		recorder.CompleteRequest(handle, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}

// CorrelationID returns the request's correlation id, if the audit middleware
// ran.
func CorrelationID(c *gin.Context) string {
	if v, exists := c.Get(ContextCorrelationID); exists {
		if cid, ok := v.(string); ok {
			return cid
		}
	}
	return ""
}
