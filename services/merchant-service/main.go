package main

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashendes/storefront-checkout/internal/config"
	"github.com/ashendes/storefront-checkout/internal/metrics"
	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/ashendes/storefront-checkout/internal/sandbox"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const earthRadiusMeters = 6371000

// MerchantService is an in-memory stand-in for the store, order and wallet backends
type MerchantService struct {
	stores   map[string]*models.Store
	coupons  map[string]*models.Coupon
	orders   map[string]*models.OrderConfirmation
	wallet   decimal.Decimal
	activity int
	mutex    sync.RWMutex
	chaos    *sandbox.Chaos
}

func init() {
	config.ConfigureLogging()
}

func newMerchantService() *MerchantService {
	maxFee := decimal.RequireFromString("8.00")
	minPurchase := decimal.RequireFromString("30.00")
	freeDeliveryMin := decimal.RequireFromString("20.00")

	return &MerchantService{
		stores: map[string]*models.Store{
			"store-1": {
				ID: "store-1", Name: "Corner Pizzeria", Active: true, Open: true, Currency: "GBP",
				Latitude: 51.5074, Longitude: -0.1278,
				FeeModel: models.FeeModel{
					Mode:        models.DeliveryModePlatform,
					Unit:        models.UnitKilometers,
					PerUnitRate: decimal.RequireFromString("1.20"),
					MinimumFee:  decimal.RequireFromString("2.50"),
					MaximumFee:  &maxFee,
				},
				ServiceCharge: &models.Charge{Type: models.ChargeFlat, Value: decimal.RequireFromString("0.50"), Label: "Service charge"},
			},
			"store-2": {
				ID: "store-2", Name: "Night Noodles", Active: true, Open: false, Currency: "GBP",
				Latitude: 51.5155, Longitude: -0.0922,
				FeeModel: models.FeeModel{
					Mode:             models.DeliveryModeSelf,
					Unit:             models.UnitMiles,
					SelfDeliveryRate: "1.75",
					MinimumFee:       decimal.RequireFromString("3.00"),
				},
				CustomFee: &models.Charge{Type: models.ChargePercent, Value: decimal.NewFromInt(5), Label: "Packaging"},
			},
		},
		coupons: map[string]*models.Coupon{
			"TEN": {
				Code: "TEN", DiscountType: models.DiscountPercent, DiscountValue: decimal.NewFromInt(10),
			},
			"FIVEOFF": {
				Code: "FIVEOFF", DiscountType: models.DiscountAmount, DiscountValue: decimal.NewFromInt(5),
				MinPurchase: &minPurchase,
			},
			"FREEDEL": {
				Code: "FREEDEL", DiscountType: models.DiscountAmount, DiscountValue: decimal.Zero,
				MinPurchase: &freeDeliveryMin, EligibleOrderType: models.OrderTypeDelivery,
				FreeDelivery: &models.DeliveryAllowance{FreeDistance: decimal.NewFromInt(3), PerUnitCharge: decimal.RequireFromString("0.80")},
			},
		},
		orders: make(map[string]*models.OrderConfirmation),
		wallet: decimal.RequireFromString("5.00"),
		chaos:  sandbox.NewChaos("merchant-service"),
	}
}

func main() {
	cfg := config.LoadSandboxConfig("8081")
	router := newRouter(newMerchantService())

	log.Info("Merchant Service starting on port ", cfg.Port)
	if err := router.Run(cfg.Port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}

func newRouter(ms *MerchantService) *gin.Engine {
	router := gin.Default()
	router.Use(metrics.PrometheusMiddleware("merchant-service"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/merchant/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, ms.chaos.Status())
	})

	router.GET("/stores/:storeId", ms.getStore)
	router.GET("/coupons/:code", ms.getCoupon)
	router.GET("/distance", ms.getDistance)
	router.GET("/wallet", ms.getWallet)
	router.POST("/activity", ms.logActivity)
	router.POST("/orders", ms.placeOrder)
	router.GET("/orders/:orderId", ms.getOrder)

	ms.chaos.Register(router, "merchant")

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func (ms *MerchantService) getStore(c *gin.Context) {
	if err := ms.chaos.Simulate(); err != nil {
		sandbox.Unavailable(c, err)
		return
	}
	ms.mutex.RLock()
	store, exists := ms.stores[c.Param("storeId")]
	ms.mutex.RUnlock()
	if !exists {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Store not found"})
		return
	}
	c.JSON(http.StatusOK, store)
}

func (ms *MerchantService) getCoupon(c *gin.Context) {
	ms.mutex.RLock()
	cp, exists := ms.coupons[c.Param("code")]
	ms.mutex.RUnlock()
	if !exists {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Coupon not found"})
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (ms *MerchantService) getDistance(c *gin.Context) {
	var coords [4]float64
	for i, key := range []string{"origin_lat", "origin_lng", "destination_lat", "destination_lng"} {
		v, err := strconv.ParseFloat(c.Query(key), 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid " + key})
			return
		}
		coords[i] = v
	}
	if err := ms.chaos.Simulate(); err != nil {
		sandbox.Unavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"distance_meters": haversine(coords[0], coords[1], coords[2], coords[3])})
}

// haversine is the great-circle distance in meters
func haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return math.Round(2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a)))
}

func (ms *MerchantService) getWallet(c *gin.Context) {
	if c.Query("session_id") == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "session_id is required"})
		return
	}
	ms.mutex.RLock()
	balance := ms.wallet
	ms.mutex.RUnlock()
	c.JSON(http.StatusOK, models.WalletBalance{Balance: balance, CurrencyCode: "GBP"})
}

type activityBatch struct {
	Records []models.ActivityRecord `json:"records"`
}

func (ms *MerchantService) logActivity(c *gin.Context) {
	var batch activityBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request: " + err.Error()})
		return
	}
	ms.mutex.Lock()
	ms.activity += len(batch.Records)
	ms.mutex.Unlock()

	log.WithField("records", len(batch.Records)).Info("Activity received")
	c.Status(http.StatusNoContent)
}

func (ms *MerchantService) placeOrder(c *gin.Context) {
	var req models.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request: " + err.Error()})
		return
	}

	if err := ms.chaos.Simulate(); err != nil {
		log.WithField("session_id", req.SessionID).Warn("Chaos: Simulated failure during order placement")
		sandbox.Unavailable(c, err)
		return
	}

	ms.mutex.RLock()
	store, exists := ms.stores[req.StoreID]
	ms.mutex.RUnlock()

	var problems []models.ErrorDetail
	switch {
	case !exists:
		problems = append(problems, models.ErrorDetail{Code: "store_not_found", Message: "This store does not exist."})
	case !store.Open:
		problems = append(problems, models.ErrorDetail{Code: "store_closed", Message: "This store is not accepting orders right now."})
	}
	if len(req.Lines) == 0 {
		problems = append(problems, models.ErrorDetail{Code: "empty_order", Message: "Your order has no items."})
	}
	if req.OrderType == models.OrderTypeDelivery && req.Address == nil {
		problems = append(problems, models.ErrorDetail{Code: "missing_address", Message: "A delivery address is required."})
	}
	if len(problems) > 0 {
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Errors: problems})
		return
	}

	order := &models.OrderConfirmation{
		OrderID:   uuid.New().String(),
		StoreID:   req.StoreID,
		Status:    "placed",
		OrderType: req.OrderType,
		Totals:    req.Totals,
		CreatedAt: time.Now(),
	}
	ms.mutex.Lock()
	ms.orders[order.OrderID] = order
	ms.mutex.Unlock()

	log.WithFields(log.Fields{
		"order_id": order.OrderID,
		"store_id": req.StoreID,
		"lines":    len(req.Lines),
		"payable":  req.Totals.Payable.StringFixed(2),
	}).Info("Order placed")

	c.JSON(http.StatusCreated, models.PlaceOrderResponse{OrderID: order.OrderID, Message: "Order placed"})
}

func (ms *MerchantService) getOrder(c *gin.Context) {
	ms.mutex.RLock()
	order, exists := ms.orders[c.Param("orderId")]
	ms.mutex.RUnlock()
	if !exists {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Order not found", OrderID: c.Param("orderId")})
		return
	}
	c.JSON(http.StatusOK, order)
}
