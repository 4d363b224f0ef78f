package sandbox

import (
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulate_Disabled(t *testing.T) {
	c := NewChaos("test-service")
	for i := 0; i < 50; i++ {
		require.NoError(t, c.Simulate())
	}
}

func TestSimulate_FailsSomeCalls(t *testing.T) {
	c := NewChaos("test-service")
	c.rng = rand.New(rand.NewSource(1))
	c.SetEnabled(true)

	failures := 0
	for i := 0; i < 200; i++ {
		if err := c.Simulate(); err != nil {
			assert.ErrorIs(t, err, ErrChaos)
			failures++
		}
	}
	assert.Greater(t, failures, 40)
	assert.Less(t, failures, 140)
}

func TestSimulate_SlowMode(t *testing.T) {
	c := NewChaos("test-service")
	var slept time.Duration
	c.sleep = func(d time.Duration) { slept = d }
	c.SetSlowMode(true)

	require.NoError(t, c.Simulate())
	assert.GreaterOrEqual(t, slept, 5*time.Second)
	assert.Less(t, slept, 10*time.Second)
}

func TestRegister_Toggles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewChaos("test-service")
	router := gin.New()
	c.Register(router, "payment")

	post := func(path string) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, post("/chaos/payment/enable"))
	assert.Equal(t, true, c.Status()["chaos_enabled"])
	assert.Equal(t, http.StatusOK, post("/chaos/payment/slow"))
	assert.Equal(t, true, c.Status()["chaos_slow_mode"])

	assert.Equal(t, http.StatusOK, post("/chaos/payment/disable"))
	assert.Equal(t, false, c.Status()["chaos_enabled"])
	assert.Equal(t, false, c.Status()["chaos_slow_mode"])
}
