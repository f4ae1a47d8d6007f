package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/blnkfinance/prizepay/config"
)

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/payouts/pending", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestSecretKeyAuth(t *testing.T) {
	router := newTestRouter(SecretKeyAuth("top-secret"))

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "guess", http.StatusUnauthorized},
		{"valid key", "top-secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/payouts/pending", nil)
			if tt.key != "" {
				req.Header.Set(SecretKeyHeader, tt.key)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			assert.Equal(t, tt.status, resp.Code)
		})
	}
}

func TestSecretKeyAuthWithoutConfiguredKey(t *testing.T) {
	router := newTestRouter(SecretKeyAuth(""))

	req := httptest.NewRequest(http.MethodGet, "/payouts/pending", nil)
	req.Header.Set(SecretKeyHeader, "anything")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestRateLimitWithoutCleanupInterval(t *testing.T) {
	rps := 1.0
	burst := 1
	router := newTestRouter(RateLimit(config.RateLimitConfig{
		RequestsPerSecond: &rps,
		Burst:             &burst,
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/payouts/pending", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestRateLimitDisabled(t *testing.T) {
	router := newTestRouter(RateLimit(config.RateLimitConfig{}))
	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/payouts/pending", nil))
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}
