package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets the response headers every consult-service endpoint
// carries. The service only ever serves JSON (plus the websocket upgrade,
// whose handshake bypasses these), so the CSP refuses all content outright
// and responses are never cached: consultation records are per-user data.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Cache-Control", "no-store")

		c.Next()
	}
}
