package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-chat/internal/middleware"
	"crm-chat/internal/telemetry"
)

// RegisterDebugRoutes mounts GET /debug/audit-test, which pushes one audit
// record through the publisher. Only dev deployments enable it.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		rec := telemetry.AuditRecord{
			RequestID: requestIDFromContext(c),
			Action:    "audit_test",
			GroupID:   c.Query("group_id"),
			Text:      "audit test",
		}
		if sess := middleware.SessionFrom(c); sess != nil {
			rec.TenantID = sess.TenantID()
			rec.UserID = sess.UserID()
		}
		emitter.Emit(c.Request.Context(), "info", rec)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "requestId": rec.RequestID})
	})
}
