// Package security hardens PayGuard's HTTP responses.
package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/payguard/internal/auth"
)

// apiHeaders suit a JSON-only API whose responses name receivers.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Cache-Control", "no-store"},
	{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()"},
}

const hstsValue = "max-age=31536000; includeSubDomains"

// Headers sets the API response headers. hsts adds Strict-Transport-Security
// and should only be on behind TLS.
func Headers(hsts bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range apiHeaders {
			h.Set(kv[0], kv[1])
		}
		if hsts {
			h.Set("Strict-Transport-Security", hstsValue)
		}
		c.Next()
	}
}

var (
	allowHeaders  = strings.Join([]string{"Content-Type", "X-Request-ID", auth.HeaderAdminSecret}, ", ")
	exposeHeaders = "X-Request-ID, Retry-After"
)

// CORS decides which browser origins may call the API.
type CORS struct {
	origins map[string]bool
	open    bool
}

// NewCORS builds a CORS policy. An empty list or "*" admits every origin,
// in which case credentials are never allowed.
func NewCORS(origins []string) *CORS {
	p := &CORS{origins: make(map[string]bool, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			p.open = true
		}
		p.origins[o] = true
	}
	if len(p.origins) == 0 {
		p.open = true
	}
	return p
}

// Allows reports whether origin may read responses.
func (p *CORS) Allows(origin string) bool {
	return p.open || p.origins[origin]
}

// Middleware applies the policy. Preflights from origins outside the policy
// are refused with 403; other requests proceed without CORS headers.
func (p *CORS) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		c.Header("Vary", "Origin")

		preflight := c.Request.Method == http.MethodOptions
		if origin == "" {
			if preflight {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
			return
		}

		if !p.Allows(origin) {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		if p.open {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Expose-Headers", exposeHeaders)

		if preflight {
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Max-Age", "86400")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
