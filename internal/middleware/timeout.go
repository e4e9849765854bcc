package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"teleclinic-backend/pkg/constants"
)

// Timeout bounds every request's context. Handlers that outlive the budget
// see their context cancelled; the websocket upgrade route must be excluded
// since room connections are long-lived.
func Timeout(d time.Duration) gin.HandlerFunc {
	if d <= 0 {
		d = constants.DefaultTimeout
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if ctx.Err() == context.DeadlineExceeded && !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "Request timed out"})
		}
	}
}
