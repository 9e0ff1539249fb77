package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const StationKeyHeader = "X-Station-Key"

// RequireStationKey guards the routes used by print station terminals.
// With no key configured every station request is refused.
func RequireStationKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Station access is not configured"})
			return
		}

		got := c.GetHeader(StationKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid station key"})
			return
		}
		c.Next()
	}
}
