package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowEnforcesBurst(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 2})
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"), "burst exhausted")
}

func TestAllowIsolatesIPs(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 1})
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "other IPs have their own bucket")
	assert.Equal(t, 2, rl.Len())
}

func TestAllowRefillsOverTime(t *testing.T) {
	rl := New(Config{Rate: 100, Burst: 1})
	defer rl.Stop()

	require.True(t, rl.Allow("10.0.0.1"))
	require.False(t, rl.Allow("10.0.0.1"))

	assert.Eventually(t, func() bool {
		return rl.Allow("10.0.0.1")
	}, time.Second, 5*time.Millisecond)
}

func TestCleanupRemovesStaleEntries(t *testing.T) {
	rl := New(Config{
		Rate:            1,
		Burst:           1,
		CleanupInterval: 10 * time.Millisecond,
		MaxAge:          20 * time.Millisecond,
	})
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	require.Equal(t, 1, rl.Len())

	assert.Eventually(t, func() bool {
		return rl.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMiddlewareReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := New(Config{Rate: 1, Burst: 1})
	defer rl.Stop()

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	doGet := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, doGet())
	assert.Equal(t, http.StatusTooManyRequests, doGet())
}

func TestDefaultAPIConfig(t *testing.T) {
	cfg := DefaultAPIConfig()
	assert.Equal(t, float64(20), cfg.Rate)
	assert.Equal(t, 50, cfg.Burst)

	rl := New(Config{Rate: 1, Burst: 1})
	defer rl.Stop()
	assert.Equal(t, time.Minute, rl.Config().CleanupInterval, "zero values get defaults")
	assert.Equal(t, 5*time.Minute, rl.Config().MaxAge)
}
