// Package auth guards operator endpoints with a shared admin secret.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderAdminSecret carries the admin secret.
	HeaderAdminSecret = "X-Admin-Secret"
	// ContextKeyAdmin is set in the gin context once the secret is verified.
	ContextKeyAdmin = "authAdmin"
)

// RequireAdmin rejects requests that do not present secret, either in the
// X-Admin-Secret header or as "Authorization: Bearer <secret>". An empty
// secret disables the protected routes entirely.
func RequireAdmin(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is disabled. Set ADMIN_SECRET to enable it.",
			})
			return
		}

		got := presented(c)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin secret required. Include 'X-Admin-Secret' header.",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret.",
			})
			return
		}

		c.Set(ContextKeyAdmin, true)
		c.Next()
	}
}

func presented(c *gin.Context) string {
	if s := c.GetHeader(HeaderAdminSecret); s != "" {
		return s
	}
	const prefix = "Bearer "
	if h := c.GetHeader("Authorization"); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// IsAdmin reports whether RequireAdmin accepted the request.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextKeyAdmin)
}
