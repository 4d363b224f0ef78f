package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashendes/storefront-checkout/internal/activity"
	"github.com/ashendes/storefront-checkout/internal/api"
	"github.com/ashendes/storefront-checkout/internal/checkout"
	"github.com/ashendes/storefront-checkout/internal/clients"
	"github.com/ashendes/storefront-checkout/internal/config"
	"github.com/ashendes/storefront-checkout/internal/coupon"
	"github.com/ashendes/storefront-checkout/internal/metrics"
	"github.com/ashendes/storefront-checkout/internal/ordering"
	"github.com/ashendes/storefront-checkout/internal/payment"
	"github.com/ashendes/storefront-checkout/internal/session"
	"github.com/ashendes/storefront-checkout/internal/sweeper"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

func init() {
	config.ConfigureLogging()
}

func main() {
	cfg := config.LoadCheckoutConfig()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatal("Failed to connect to redis: ", err)
	}
	cancel()

	store := session.NewRedisStore(rdb, cfg.SessionTTL)
	merchant := clients.NewMerchantClient(cfg.MerchantServiceURL, cfg.RequestTimeout, cfg.BulkheadSize)
	provider := clients.NewPaymentClient(cfg.PaymentServiceURL, cfg.RequestTimeout, cfg.ChallengeTimeout, cfg.BulkheadSize)

	var sink activity.Sink = activity.NewHTTPSink(merchant)
	if cfg.ActivitySink == "kafka" {
		kafkaSink := activity.NewKafkaSink(cfg.ActivityTopic, cfg.KafkaBrokers...)
		defer kafkaSink.Close()
		sink = kafkaSink
	}

	queue := activity.NewQueue(rdb, cfg.SessionTTL)
	orchestrator := payment.NewOrchestrator(provider, store, cfg.ReturnBaseURL)
	service := checkout.NewService(
		store,
		merchant,
		ordering.NewSubmitter(merchant, queue, sink),
		orchestrator,
		coupon.NewService(merchant),
		queue,
	)

	sweep := sweeper.New(store, orchestrator, cfg.AbandonAfter)
	if err := sweep.Start(cfg.SweepSpec); err != nil {
		log.Fatal("Failed to schedule attempt sweeper: ", err)
	}
	defer sweep.Stop()

	router := gin.Default()
	router.Use(metrics.PrometheusMiddleware("checkout-service"))

	router.GET("/health", func(c *gin.Context) {
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api.NewHandler(service, orchestrator, merchant, cfg.StoreID, merchant.Breaker(), provider.Breaker()).Register(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: cfg.Port, Handler: router}
	go func() {
		log.WithFields(log.Fields{
			"merchant_url":  cfg.MerchantServiceURL,
			"payment_url":   cfg.PaymentServiceURL,
			"redis":         cfg.RedisAddr,
			"activity_sink": cfg.ActivitySink,
		}).Info("Checkout Service starting on port ", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down checkout service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed: ", err)
	}
}
