package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/customeros/draftsync/internal/utils"
)

// CustomContextMiddleware copies owner and request id from gin into the
// request context so services can read them.
func CustomContextMiddleware(appSource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := utils.WithCustomContextFromGinRequest(c, appSource)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
