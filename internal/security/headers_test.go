package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(h gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(h)
	r.Any("/v1/analyze", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(method, "/v1/analyze", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHeaders(t *testing.T) {
	w := serve(Headers(false), http.MethodPost, "")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", w.Header().Get("Content-Security-Policy"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = serve(Headers(true), http.MethodPost, "")
	assert.Equal(t, hstsValue, w.Header().Get("Strict-Transport-Security"))
}

func TestCORS_AllowList(t *testing.T) {
	p := NewCORS([]string{"https://wallet.example.com/"})

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"listed origin", http.MethodPost, "https://wallet.example.com", http.StatusOK, "https://wallet.example.com"},
		{"unlisted origin passes without headers", http.MethodPost, "https://evil.example", http.StatusOK, ""},
		{"unlisted preflight refused", http.MethodOptions, "https://evil.example", http.StatusForbidden, ""},
		{"listed preflight", http.MethodOptions, "https://wallet.example.com", http.StatusNoContent, "https://wallet.example.com"},
		{"no origin", http.MethodPost, "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(p.Middleware(), tt.method, tt.origin)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "Origin", w.Header().Get("Vary"))
		})
	}
}

func TestCORS_CredentialsOnlyForListedOrigins(t *testing.T) {
	w := serve(NewCORS([]string{"https://wallet.example.com"}).Middleware(), http.MethodPost, "https://wallet.example.com")
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	for _, origins := range [][]string{nil, {"*"}} {
		w := serve(NewCORS(origins).Middleware(), http.MethodPost, "https://anywhere.example")
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	}
}

func TestCORS_PreflightAllowsAdminHeader(t *testing.T) {
	w := serve(NewCORS(nil).Middleware(), http.MethodOptions, "https://ops.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Admin-Secret")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
}

func TestCORS_Allows(t *testing.T) {
	p := NewCORS([]string{" https://a.example "})
	assert.True(t, p.Allows("https://a.example"))
	assert.False(t, p.Allows("https://b.example"))
	assert.True(t, NewCORS(nil).Allows("https://b.example"))
}
