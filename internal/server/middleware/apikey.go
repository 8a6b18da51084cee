package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chart-backend/internal/server/respond"
)

const apiKeyHeader = "X-API-Key"

// APIKey validates the static API key header. With no key configured every
// request passes, which is the local development mode.
func APIKey(expected string) gin.HandlerFunc {
	expected = strings.TrimSpace(expected)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		if expected == "" {
			c.Next()
			return
		}

		provided := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if provided == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
			return
		}
		c.Next()
	}
}
