// Package ordering validates a checkout and places the order with the
// merchant collaborator.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashendes/storefront-checkout/internal/activity"
	"github.com/ashendes/storefront-checkout/internal/clients"
	"github.com/ashendes/storefront-checkout/internal/coupon"
	"github.com/ashendes/storefront-checkout/internal/metrics"
	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/ashendes/storefront-checkout/internal/pricing"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	MsgStoreInactive   = "This store is not accepting orders at the moment."
	MsgStoreClosed     = "This store is currently closed."
	MsgBasketEmpty     = "Your basket is empty."
	MsgNoPaymentRoute  = "Please select a payment method."
	MsgNoCard          = "Please select a saved card."
	MsgNoOrderType     = "Please choose delivery or pickup."
	MsgNoAddress       = "Please select a delivery address."
	MsgNegativePayable = "The order total cannot be negative."
	MsgMissingOrderID  = "The order could not be placed. Please try again."
)

const flushTimeout = time.Second

// ValidationError lists every user-facing problem found before submission.
// It is never sent to the server.
type ValidationError struct {
	Messages []string
	causes   []error
}

func (e *ValidationError) Error() string {
	return "checkout validation failed: " + strings.Join(e.Messages, "; ")
}

func (e *ValidationError) Unwrap() []error {
	return e.causes
}

func (e *ValidationError) add(msg string, cause error) {
	e.Messages = append(e.Messages, msg)
	if cause != nil {
		e.causes = append(e.causes, cause)
	}
}

// AddressConfirmationRequired asks the shopper to acknowledge the delivery
// address before the order is placed.
type AddressConfirmationRequired struct {
	Address models.Address
}

func (e *AddressConfirmationRequired) Error() string {
	return fmt.Sprintf("please confirm delivery to %s", e.Address.Line1)
}

// Input is everything a submission is built from. Totals must be derived at
// the moment of submission.
type Input struct {
	SessionID        string
	Store            *models.Store
	Basket           models.Basket
	OrderType        models.OrderType
	Address          *models.Address
	AddressConfirmed bool
	Coupon           *models.Coupon
	Payment          models.PaymentSelection
	Totals           models.OrderTotals
	WalletCredit     decimal.Decimal
	Note             string
	Revision         int64
}

// Validate runs the preconditions in order. The store check short-circuits;
// the selection checks and the amount checks each report every problem in
// their group before stopping.
func Validate(in Input) error {
	verr := &ValidationError{}

	switch {
	case in.Store == nil || !in.Store.Active:
		verr.add(MsgStoreInactive, nil)
		return verr
	case !in.Store.Open:
		verr.add(MsgStoreClosed, nil)
		return verr
	}

	if in.Basket.IsEmpty() {
		verr.add(MsgBasketEmpty, nil)
	}
	switch sel := in.Payment.(type) {
	case nil:
		verr.add(MsgNoPaymentRoute, nil)
	case models.CardWith3DS:
		if sel.SavedCardID == "" {
			verr.add(MsgNoCard, nil)
		}
	}
	if !in.OrderType.Valid() {
		verr.add(MsgNoOrderType, nil)
	}
	if in.OrderType == models.OrderTypeDelivery && in.Address == nil {
		verr.add(MsgNoAddress, nil)
	}
	if len(verr.Messages) > 0 {
		return verr
	}

	if in.Coupon != nil {
		if err := coupon.Validate(*in.Coupon, in.OrderType, in.Totals.Subtotal); err != nil {
			verr.add(couponMessage(in.Coupon, in.OrderType, err), err)
		}
	}
	if err := pricing.Validate(in.Totals); err != nil {
		verr.add(MsgNegativePayable, err)
	}
	if len(verr.Messages) > 0 {
		return verr
	}
	return nil
}

func couponMessage(c *models.Coupon, orderType models.OrderType, err error) string {
	var rej *coupon.RejectionError
	if errors.As(err, &rej) && errors.Is(err, coupon.ErrMinimumPurchaseNotMet) {
		return fmt.Sprintf("Minimum purchase not met for coupon %s (minimum %s).", c.Code, rej.Required.StringFixed(2))
	}
	return fmt.Sprintf("Coupon %s cannot be used for %s orders.", c.Code, orderType)
}

// BuildPayload serializes the validated input for placeOrder
func BuildPayload(in Input) models.PlaceOrderRequest {
	req := models.PlaceOrderRequest{
		SessionID:    in.SessionID,
		StoreID:      in.Store.ID,
		OrderType:    in.OrderType,
		Lines:        in.Basket.Clone().Lines,
		Totals:       in.Totals,
		WalletCredit: in.WalletCredit,
		Note:         strings.TrimSpace(in.Note),
		Currency:     in.Store.Currency,
	}
	if in.OrderType == models.OrderTypeDelivery && in.Address != nil {
		addr := *in.Address
		req.Address = &addr
	}
	if in.Coupon != nil {
		req.CouponCode = in.Coupon.Code
	}
	if in.Payment != nil {
		req.PaymentMethod = in.Payment.Route()
	}
	return req
}

// Placer is the order-placement collaborator
type Placer interface {
	PlaceOrder(ctx context.Context, req models.PlaceOrderRequest) (*models.PlaceOrderResponse, error)
}

// Submitter validates and places orders
type Submitter struct {
	placer Placer
	queue  *activity.Queue
	sink   activity.Sink
	now    func() time.Time
}

func NewSubmitter(placer Placer, queue *activity.Queue, sink activity.Sink) *Submitter {
	return &Submitter{
		placer: placer,
		queue:  queue,
		sink:   sink,
		now:    time.Now,
	}
}

// Submit validates the input and places the order. The returned submission
// is the only record of the order id; it is never reused for a retry.
// Errors are *ValidationError, *AddressConfirmationRequired or
// *clients.PlaceOrderError.
func (s *Submitter) Submit(ctx context.Context, in Input) (*models.OrderSubmission, error) {
	if err := Validate(in); err != nil {
		metrics.CheckoutOrders.WithLabelValues("validation_failed").Inc()
		return nil, err
	}
	if in.OrderType == models.OrderTypeDelivery && !in.AddressConfirmed {
		return nil, &AddressConfirmationRequired{Address: *in.Address}
	}

	req := BuildPayload(in)

	if s.queue != nil {
		flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
		activity.Flush(flushCtx, s.queue, in.SessionID, s.sink)
		cancel()
	}

	resp, err := s.placer.PlaceOrder(ctx, req)
	if err != nil {
		metrics.CheckoutOrders.WithLabelValues("placement_failed").Inc()
		logger := log.WithFields(log.Fields{"session_id": in.SessionID, "store_id": req.StoreID})
		var perr *clients.PlaceOrderError
		if errors.As(err, &perr) {
			logger.WithField("order_id", perr.OrderID).Error("Order placement failed: ", perr.Message)
			return nil, perr
		}
		logger.Error("Order placement failed: ", err)
		return nil, &clients.PlaceOrderError{Message: MsgMissingOrderID, Err: err}
	}
	if resp == nil || resp.OrderID == "" {
		metrics.CheckoutOrders.WithLabelValues("placement_failed").Inc()
		return nil, &clients.PlaceOrderError{Message: MsgMissingOrderID}
	}

	metrics.CheckoutOrders.WithLabelValues("placed").Inc()
	metrics.PayableAmount.Observe(in.Totals.Payable.InexactFloat64())
	log.WithFields(log.Fields{
		"session_id": in.SessionID,
		"order_id":   resp.OrderID,
		"payable":    in.Totals.Payable.StringFixed(2),
		"route":      req.PaymentMethod,
	}).Info("Order placed")

	totals := in.Totals
	totals.WalletCredit = in.WalletCredit
	return &models.OrderSubmission{
		OrderID:   resp.OrderID,
		SessionID: in.SessionID,
		StoreID:   req.StoreID,
		Currency:  req.Currency,
		Revision:  in.Revision,
		Totals:    totals,
		Payment:   in.Payment,
		CreatedAt: s.now(),
	}, nil
}
