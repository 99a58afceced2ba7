package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"support-chat/internal/middleware"
	"support-chat/internal/services"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

// actorFromContext reads the identity stored by the auth middleware.
func actorFromContext(c *gin.Context) services.Actor {
	return services.Actor{
		UserID:    c.GetInt("userID"),
		CompanyID: c.GetInt("companyID"),
	}
}
