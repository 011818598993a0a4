package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/customeros/draftsync/internal/utils"
)

const (
	HeaderOwnerId   = "X-Owner-Id"
	HeaderRequestId = "X-Request-Id"
)

// OwnerMiddleware requires the owner header. Every draft lookup is scoped by it.
func OwnerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.GetHeader(HeaderOwnerId))
		if owner == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "owner header is required"})
			c.Abort()
			return
		}

		c.Set(utils.GinKeyOwnerId, owner)
		c.Next()
	}
}

// RequestIdMiddleware keeps the caller's request id or assigns one.
func RequestIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := c.GetHeader(HeaderRequestId)
		if requestId == "" {
			requestId = utils.GenerateNanoIDWithPrefix("req", 16)
		}
		c.Set(utils.GinKeyRequestId, requestId)
		c.Header(HeaderRequestId, requestId)
		c.Next()
	}
}
