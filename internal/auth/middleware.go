package auth

import (
	"crypto/subtle"
	"net/http"

	"anonreport/internal/httputil"

	"github.com/gin-gonic/gin"
)

// AdminKey checks the X-Admin-Key header against key. Use for enroll, revoke
// and audit routes only. The key is never accepted from the query string, so
// it cannot end up in access logs.
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, httputil.ErrorBody{Error: "server not configured", Code: "config"})
			return
		}
		if !constantTimeEqual(c.GetHeader("X-Admin-Key"), key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.ErrorBody{Error: "invalid admin key", Code: "unauthorized"})
			return
		}
		c.Next()
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
