package main

import (
	"net/http"
	"net/url"
	"strings"
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

// Saved card references with scripted behaviour. Any other reference is
// charged without a challenge.
const (
	cardDeclined      = "card_declined"
	cardChallenge     = "card_3ds"
	cardChallengeFail = "card_3ds_fail"
)

// intent is one payment the sandbox is tracking, keyed by client secret
type intent struct {
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
	CardRef   string
	Status    models.ConfirmationStatus
	ReturnURL string
	CreatedAt time.Time
}

type hostedSession struct {
	OrderID    string
	ReturnHost string
	Status     models.ConfirmationStatus
	Message    string
}

// PaymentService is an in-memory payment provider with 3DS, wallet and
// hosted-redirect flows
type PaymentService struct {
	publicURL string
	intents   map[string]*intent
	hosted    map[string]*hostedSession
	mutex     sync.RWMutex
	chaos     *sandbox.Chaos
}

func init() {
	config.ConfigureLogging()
}

func newPaymentService(publicURL string) *PaymentService {
	return &PaymentService{
		publicURL: publicURL,
		intents:   make(map[string]*intent),
		hosted:    make(map[string]*hostedSession),
		chaos:     sandbox.NewChaos("payment-service"),
	}
}

func main() {
	cfg := config.LoadSandboxConfig("8082")
	router := newRouter(newPaymentService(cfg.PublicURL))

	log.WithField("public_url", cfg.PublicURL).Info("Payment Service starting on port ", cfg.Port)
	if err := router.Run(cfg.Port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}

func newRouter(ps *PaymentService) *gin.Engine {
	router := gin.Default()
	router.Use(metrics.PrometheusMiddleware("payment-service"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/payment/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, ps.chaos.Status())
	})

	router.POST("/payment/confirmations", ps.createConfirmation)
	router.POST("/payment/confirmations/challenge", ps.confirmChallenge)
	router.POST("/payment/wallet-redirects", ps.createWalletRedirect)
	router.POST("/payment/hosted-redirects", ps.createHostedRedirect)
	router.GET("/payment/hosted-redirects/:orderId", ps.getHostedStatus)

	// pages the shopper's browser is sent to
	router.GET("/payment/pages/wallet/:secret", ps.completeWallet)
	router.GET("/payment/pages/hosted/:orderId", ps.completeHosted)

	ps.chaos.Register(router, "payment")

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func (ps *PaymentService) createConfirmation(c *gin.Context) {
	var req models.CardConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request: " + err.Error()})
		return
	}

	if err := ps.chaos.Simulate(); err != nil {
		log.WithFields(log.Fields{
			"order_id": req.OrderID,
			"amount":   req.Amount.StringFixed(2),
		}).Warn("Chaos: Simulated payment failure")
		sandbox.Unavailable(c, err)
		return
	}

	if req.SavedCardRef == cardDeclined {
		c.JSON(http.StatusPaymentRequired, models.ErrorResponse{Errors: []models.ErrorDetail{
			{Code: "card_declined", Message: "Your card was declined. Please use a different card."},
		}})
		return
	}

	secret := "cs_" + uuid.New().String()
	in := &intent{
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		CardRef:   req.SavedCardRef,
		Status:    models.StatusRequiresAction,
		CreatedAt: time.Now(),
	}
	// a plain saved card is charged straight away
	if req.SavedCardRef != "" && !strings.HasPrefix(req.SavedCardRef, cardChallenge) {
		in.Status = models.StatusSucceeded
	}

	ps.mutex.Lock()
	ps.intents[secret] = in
	ps.mutex.Unlock()

	log.WithFields(log.Fields{
		"order_id": req.OrderID,
		"amount":   req.Amount.StringFixed(2),
		"status":   in.Status,
	}).Info("Payment confirmation created")

	resp := models.CardConfirmationResponse{Status: in.Status}
	if in.Status == models.StatusRequiresAction {
		resp.ClientSecret = secret
	}
	c.JSON(http.StatusOK, resp)
}

func (ps *PaymentService) confirmChallenge(c *gin.Context) {
	var req models.ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request: " + err.Error()})
		return
	}
	if err := ps.chaos.Simulate(); err != nil {
		sandbox.Unavailable(c, err)
		return
	}

	ps.mutex.Lock()
	in, exists := ps.intents[req.ClientSecret]
	if exists && in.CardRef != "" && in.Status == models.StatusRequiresAction {
		in.Status = models.StatusSucceeded
		if in.CardRef == cardChallengeFail {
			in.Status = models.StatusDeclined
		}
	}
	var status models.ConfirmationStatus
	if exists {
		status = in.Status
	}
	ps.mutex.Unlock()

	if !exists {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Unknown client secret"})
		return
	}

	resp := models.ChallengeResponse{Status: status}
	switch status {
	case models.StatusDeclined:
		resp.Message = "Authentication failed. Please try again or use a different card."
	case models.StatusRequiresAction:
		// the wallet page has not been completed yet
		resp.Status = models.StatusProcessing
	}
	c.JSON(http.StatusOK, resp)
}

func (ps *PaymentService) createWalletRedirect(c *gin.Context) {
	var req models.WalletRedirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request: " + err.Error()})
		return
	}
	if err := ps.chaos.Simulate(); err != nil {
		sandbox.Unavailable(c, err)
		return
	}

	ps.mutex.Lock()
	in, exists := ps.intents[req.ClientSecret]
	if exists {
		in.ReturnURL = req.ReturnURL
	}
	ps.mutex.Unlock()
	if !exists {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Unknown client secret"})
		return
	}

	c.JSON(http.StatusOK, models.WalletRedirectResponse{
		RedirectURL: ps.publicURL + "/payment/pages/wallet/" + url.PathEscape(req.ClientSecret),
	})
}

func (ps *PaymentService) createHostedRedirect(c *gin.Context) {
	var req models.HostedRedirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request: " + err.Error()})
		return
	}
	if err := ps.chaos.Simulate(); err != nil {
		sandbox.Unavailable(c, err)
		return
	}

	ps.mutex.Lock()
	ps.hosted[req.OrderID] = &hostedSession{
		OrderID:    req.OrderID,
		ReturnHost: strings.TrimRight(req.ReturnHost, "/"),
		Status:     models.StatusProcessing,
	}
	ps.mutex.Unlock()

	c.JSON(http.StatusOK, models.HostedRedirectResponse{
		AuthorizationURL: ps.publicURL + "/payment/pages/hosted/" + url.PathEscape(req.OrderID),
	})
}

// completeWallet stands in for the wallet page. ?outcome=failed declines.
func (ps *PaymentService) completeWallet(c *gin.Context) {
	succeeded := c.DefaultQuery("outcome", "succeeded") == "succeeded"

	ps.mutex.Lock()
	in, exists := ps.intents[c.Param("secret")]
	var returnURL string
	if exists {
		in.Status = models.StatusDeclined
		if succeeded {
			in.Status = models.StatusSucceeded
		}
		returnURL = in.ReturnURL
	}
	ps.mutex.Unlock()

	if !exists || returnURL == "" {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Unknown wallet session"})
		return
	}
	c.Redirect(http.StatusFound, returnURL)
}

// getHostedStatus is the processor's own record of an authorization
func (ps *PaymentService) getHostedStatus(c *gin.Context) {
	if err := ps.chaos.Simulate(); err != nil {
		sandbox.Unavailable(c, err)
		return
	}

	ps.mutex.RLock()
	hs, exists := ps.hosted[c.Param("orderId")]
	var resp models.HostedPaymentStatus
	if exists {
		resp = models.HostedPaymentStatus{OrderID: hs.OrderID, Status: hs.Status, Message: hs.Message}
	}
	ps.mutex.RUnlock()

	if !exists {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Unknown authorization"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// completeHosted stands in for the processor's authorization page
func (ps *PaymentService) completeHosted(c *gin.Context) {
	succeeded := c.DefaultQuery("outcome", "succeeded") == "succeeded"

	ps.mutex.Lock()
	hs, exists := ps.hosted[c.Param("orderId")]
	var outcome hostedSession
	if exists {
		// the first visit settles the authorization
		if hs.Status == models.StatusProcessing {
			hs.Status = models.StatusDeclined
			hs.Message = "The payment was not authorized."
			if succeeded {
				hs.Status = models.StatusSucceeded
				hs.Message = ""
			}
		}
		outcome = *hs
	}
	ps.mutex.Unlock()

	if !exists {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Unknown authorization"})
		return
	}

	q := url.Values{}
	q.Set("order_id", outcome.OrderID)
	q.Set("route", string(models.RouteHosted))
	if outcome.Status == models.StatusSucceeded {
		q.Set("status", "succeeded")
	} else {
		q.Set("status", "failed")
		q.Set("message", outcome.Message)
	}
	c.Redirect(http.StatusFound, outcome.ReturnHost+"/checkout/return?"+q.Encode())
}
