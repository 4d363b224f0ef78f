// Package sandbox holds what the local merchant and payment sandboxes share.
package sandbox

import (
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/ashendes/storefront-checkout/internal/metrics"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var ErrChaos = errors.New("simulated failure")

const failureRate = 0.4

// Chaos injects random failures and delays into a sandbox's handlers
type Chaos struct {
	service  string
	mu       sync.RWMutex
	enabled  bool
	slowMode bool
	rng      *rand.Rand
	sleep    func(time.Duration)
}

func NewChaos(service string) *Chaos {
	return &Chaos{
		service: service,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   time.Sleep,
	}
}

// Register mounts the chaos toggles under /chaos/{name}
func (c *Chaos) Register(router gin.IRouter, name string) {
	g := router.Group("/chaos/" + name)
	g.POST("/enable", func(ctx *gin.Context) {
		c.SetEnabled(true)
		ctx.JSON(http.StatusOK, gin.H{
			"message": "Chaos mode enabled",
			"info":    "40% of requests will fail randomly",
		})
	})
	g.POST("/disable", func(ctx *gin.Context) {
		c.SetEnabled(false)
		c.SetSlowMode(false)
		ctx.JSON(http.StatusOK, gin.H{"message": "Chaos mode disabled"})
	})
	g.POST("/slow", func(ctx *gin.Context) {
		c.SetSlowMode(true)
		ctx.JSON(http.StatusOK, gin.H{
			"message": "Slow mode enabled",
			"info":    "Requests will have 5-10 second delays",
		})
	})
	g.POST("/slow/disable", func(ctx *gin.Context) {
		c.SetSlowMode(false)
		ctx.JSON(http.StatusOK, gin.H{"message": "Slow mode disabled"})
	})
}

func (c *Chaos) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
	metrics.ChaosFailureRate.WithLabelValues(c.service).Set(boolGauge(enabled))
	log.WithFields(log.Fields{"service": c.service, "enabled": enabled}).Info("Chaos mode changed")
}

func (c *Chaos) SetSlowMode(enabled bool) {
	c.mu.Lock()
	c.slowMode = enabled
	c.mu.Unlock()
	metrics.ChaosSlowMode.WithLabelValues(c.service).Set(boolGauge(enabled))
	log.WithFields(log.Fields{"service": c.service, "enabled": enabled}).Info("Slow mode changed")
}

// Status is reported by the sandboxes' status endpoints
func (c *Chaos) Status() gin.H {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gin.H{
		"service":         c.service,
		"status":          "healthy",
		"chaos_enabled":   c.enabled,
		"chaos_slow_mode": c.slowMode,
		"timestamp":       time.Now().Format(time.RFC3339),
	}
}

// Simulate delays when slow mode is on and fails 40% of calls when chaos is on
func (c *Chaos) Simulate() error {
	c.mu.Lock()
	enabled, slow := c.enabled, c.slowMode
	var delay time.Duration
	if slow {
		delay = time.Duration(5000+c.rng.Intn(5000)) * time.Millisecond
	}
	fail := enabled && c.rng.Float32() < failureRate
	c.mu.Unlock()

	if slow {
		log.WithField("delay_ms", delay.Milliseconds()).Debug("Chaos: Simulating slow response")
		c.sleep(delay)
	}
	if fail {
		return ErrChaos
	}
	return nil
}

// Unavailable writes the structured 503 the sandboxes answer under chaos
func Unavailable(ctx *gin.Context, err error) {
	ctx.JSON(http.StatusServiceUnavailable, gin.H{
		"message": "Service temporarily unavailable: " + err.Error(),
	})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
