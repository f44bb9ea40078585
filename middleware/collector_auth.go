package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CollectorAuth guards the worker queue. Workers send the shared token as a bearer
// token or in x-collector-token; an unset token locks the queue.
func CollectorAuth(token string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(token))
	return func(c *gin.Context) {
		presented := strings.TrimSpace(c.GetHeader("x-collector-token"))
		if presented == "" {
			if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
				presented = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			}
		}

		if len(expected) == 0 || presented == "" || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "message": "unauthorized"})
			return
		}
		c.Next()
	}
}
