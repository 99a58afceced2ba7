package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"support-chat/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		actor := actorFromContext(c)
		emitter.Emit(c.Request.Context(), "INFO", "audit test", telemetry.Actor{
			RequestID: requestIDFromContext(c),
			UserID:    actor.UserID,
			CompanyID: actor.CompanyID,
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
