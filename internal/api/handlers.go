// Package api exposes the checkout service over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ashendes/storefront-checkout/internal/checkout"
	"github.com/ashendes/storefront-checkout/internal/clients"
	"github.com/ashendes/storefront-checkout/internal/coupon"
	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/ashendes/storefront-checkout/internal/patterns"
	"github.com/ashendes/storefront-checkout/internal/payment"
	"github.com/ashendes/storefront-checkout/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const heartbeatInterval = 15 * time.Second

// Payments is the orchestrator surface the handlers drive
type Payments interface {
	Get(ctx context.Context, orderID string) (payment.Event, error)
	ResolveChallenge(ctx context.Context, orderID string) (payment.Event, error)
	CancelChallenge(ctx context.Context, orderID string) (payment.Event, error)
	ReconcileOnReturn(ctx context.Context, orderID string, params payment.ReturnParams) (payment.Event, error)
	Subscribe(orderID string) (<-chan payment.Event, func())
}

// Orders fetches the confirmation view for an order id
type Orders interface {
	GetOrder(ctx context.Context, orderID string) (*models.OrderConfirmation, error)
}

// Handler serves the checkout routes
type Handler struct {
	checkout       *checkout.Service
	payments       Payments
	orders         Orders
	defaultStoreID string
	breakers       []*patterns.CircuitBreaker
}

func NewHandler(svc *checkout.Service, payments Payments, orders Orders, defaultStoreID string, breakers ...*patterns.CircuitBreaker) *Handler {
	return &Handler{
		checkout:       svc,
		payments:       payments,
		orders:         orders,
		defaultStoreID: defaultStoreID,
		breakers:       breakers,
	}
}

func (h *Handler) Register(router gin.IRouter) {
	sessions := router.Group("/sessions")
	sessions.POST("", h.createSession)
	sessions.GET("/:id", h.getSession)
	sessions.POST("/:id/lines", h.addLine)
	sessions.PATCH("/:id/lines/:key", h.setLineQuantity)
	sessions.DELETE("/:id/lines/:key", h.removeLine)
	sessions.PUT("/:id/address", h.setAddress)
	sessions.POST("/:id/address/confirm", h.confirmAddress)
	sessions.PUT("/:id/order-type", h.setOrderType)
	sessions.PUT("/:id/payment", h.setPayment)
	sessions.POST("/:id/coupon", h.applyCoupon)
	sessions.DELETE("/:id/coupon", h.removeCoupon)
	sessions.PUT("/:id/tip", h.setTip)
	sessions.PUT("/:id/note", h.setNote)
	sessions.POST("/:id/activity", h.recordActivity)
	sessions.GET("/:id/quote", h.quote)
	sessions.POST("/:id/checkout", h.submitCheckout)

	attempts := router.Group("/attempts/:orderId")
	attempts.GET("", h.getAttempt)
	attempts.GET("/events", h.streamEvents)
	attempts.POST("/challenge", h.resolveChallenge)
	attempts.DELETE("/challenge", h.cancelChallenge)

	router.GET("/checkout/return", h.handleReturn)
	router.GET("/checkout/circuit-status", h.circuitStatus)
	router.GET("/orders/:orderId/confirmation", h.confirmation)
}

type createSessionRequest struct {
	StoreID string `json:"store_id"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	if req.StoreID == "" {
		req.StoreID = h.defaultStoreID
	}
	sess, err := h.checkout.CreateSession(c.Request.Context(), req.StoreID)
	respondSession(c, http.StatusCreated, sess, err)
}

func (h *Handler) getSession(c *gin.Context) {
	sess, err := h.checkout.Session(c.Request.Context(), c.Param("id"))
	respondSession(c, http.StatusOK, sess, err)
}

func (h *Handler) addLine(c *gin.Context) {
	var line models.BasketLine
	if err := c.ShouldBindJSON(&line); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.checkout.AddLine(c.Request.Context(), c.Param("id"), line)
	respondSession(c, http.StatusOK, sess, err)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) setLineQuantity(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.checkout.SetLineQuantity(c.Request.Context(), c.Param("id"), c.Param("key"), req.Quantity)
	respondSession(c, http.StatusOK, sess, err)
}

func (h *Handler) removeLine(c *gin.Context) {
	sess, err := h.checkout.RemoveLine(c.Request.Context(), c.Param("id"), c.Param("key"))
	respondSession(c, http.StatusOK, sess, err)
}

func (h *Handler) setAddress(c *gin.Context) {
	var addr models.Address
	if err := c.ShouldBindJSON(&addr); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.checkout.SetAddress(c.Request.Context(), c.Param("id"), addr)
	respondSession(c, http.StatusOK, sess, err)
}

func (h *Handler) confirmAddress(c *gin.Context) {
	sess, err := h.checkout.ConfirmAddress(c.Request.Context(), c.Param("id"))
	respondSession(c, http.StatusOK, sess, err)
}

type orderTypeRequest struct {
	OrderType models.OrderType `json:"order_type" binding:"required"`
}

func (h *Handler) setOrderType(c *gin.Context) {
	var req orderTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.checkout.SetOrderType(c.Request.Context(), c.Param("id"), req.OrderType)
	respondSession(c, http.StatusOK, sess, err)
}

func (h *Handler) setPayment(c *gin.Context) {
	var wire models.PaymentSelectionWire
	if err := c.ShouldBindJSON(&wire); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.checkout.SetPayment(c.Request.Context(), c.Param("id"), wire)
	respondSession(c, http.StatusOK, sess, err)
}

type couponRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) applyCoupon(c *gin.Context) {
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.checkout.ApplyCoupon(c.Request.Context(), c.Param("id"), req.Code)
	respondSession(c, http.StatusOK, sess, err)
}

func (h *Handler) removeCoupon(c *gin.Context) {
	sess, err := h.checkout.RemoveCoupon(c.Request.Context(), c.Param("id"))
	respondSession(c, http.StatusOK, sess, err)
}

type tipRequest struct {
	Tip decimal.Decimal `json:"tip"`
}

func (h *Handler) setTip(c *gin.Context) {
	var req tipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.checkout.SetTip(c.Request.Context(), c.Param("id"), req.Tip)
	respondSession(c, http.StatusOK, sess, err)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (h *Handler) setNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.checkout.SetNote(c.Request.Context(), c.Param("id"), req.Note)
	respondSession(c, http.StatusOK, sess, err)
}

type activityRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handler) recordActivity(c *gin.Context) {
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.checkout.RecordActivity(c.Request.Context(), c.Param("id"), req.Text)
	c.Status(http.StatusAccepted)
}

func (h *Handler) quote(c *gin.Context) {
	q, err := h.checkout.Quote(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// submitCheckout answers 200 for every shopper-facing outcome, including
// validation and payment failures, which are described in the body.
func (h *Handler) submitCheckout(c *gin.Context) {
	res, err := h.checkout.Checkout(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.WithFields(log.Fields{"session_id": c.Param("id"), "order_id": res.OrderID}).Error("Checkout failed: ", err)
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if len(res.ValidationErrors) > 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

func (h *Handler) getAttempt(c *gin.Context) {
	ev, err := h.payments.Get(c.Request.Context(), c.Param("orderId"))
	respondEvent(c, ev, err)
}

func (h *Handler) resolveChallenge(c *gin.Context) {
	ev, err := h.payments.ResolveChallenge(c.Request.Context(), c.Param("orderId"))
	respondEvent(c, ev, err)
}

func (h *Handler) cancelChallenge(c *gin.Context) {
	ev, err := h.payments.CancelChallenge(c.Request.Context(), c.Param("orderId"))
	respondEvent(c, ev, err)
}

type returnQuery struct {
	OrderID string `form:"order_id" binding:"required"`
	Status  string `form:"status"`
	Message string `form:"message"`
}

// handleReturn is where the wallet and hosted pages send the shopper back
func (h *Handler) handleReturn(c *gin.Context) {
	var q returnQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	ev, err := h.payments.ReconcileOnReturn(c.Request.Context(), q.OrderID, payment.ReturnParams{
		Status:  q.Status,
		Message: q.Message,
	})
	respondEvent(c, ev, err)
}

// streamEvents sends the attempt's current state followed by every change
// until it finishes or the client goes away.
func (h *Handler) streamEvents(c *gin.Context) {
	orderID := c.Param("orderId")
	events, unsubscribe := h.payments.Subscribe(orderID)
	defer unsubscribe()

	current, err := h.payments.Get(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("state", current)
	c.Writer.Flush()
	if current.State.IsTerminal() {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("state", ev)
			return !ev.State.IsTerminal()
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) confirmation(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) circuitStatus(c *gin.Context) {
	out := gin.H{}
	for _, cb := range h.breakers {
		out[cb.Name()] = gin.H{
			"state": cb.GetState(),
			"value": cb.GetStateValue(),
		}
	}
	c.JSON(http.StatusOK, out)
}

func respondSession(c *gin.Context, status int, sess *session.Session, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(status, sess)
}

// respondEvent reports provider failures as the Failed event they produced
func respondEvent(c *gin.Context, ev payment.Event, err error) {
	var perr *payment.ProviderError
	if err != nil && !errors.As(err, &perr) {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request: " + err.Error()})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	var rejection *coupon.RejectionError
	var apiErr *clients.APIError
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, payment.ErrAttemptNotFound),
		errors.Is(err, models.ErrLineNotFound),
		errors.Is(err, coupon.ErrCouponNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrCheckoutInProgress),
		errors.Is(err, session.ErrConflict),
		errors.Is(err, payment.ErrAttemptFinished),
		errors.Is(err, payment.ErrIllegalTransition):
		status = http.StatusConflict
	case errors.As(err, &rejection),
		errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrUnknownRoute),
		errors.Is(err, checkout.ErrInvalidTip),
		errors.Is(err, checkout.ErrInvalidOrderType),
		errors.Is(err, checkout.ErrNoAddress):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, patterns.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
		if apiErr.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
		if msg := apiErr.Message(); msg != "" {
			message = msg
		}
	}
	if status == http.StatusInternalServerError {
		log.WithField("path", c.FullPath()).Error("Request failed: ", err)
	}
	c.JSON(status, models.ErrorResponse{Message: message})
}
