// Package checkout is the single entry point that turns a shopper's session
// into a placed order and a running payment attempt.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashendes/storefront-checkout/internal/activity"
	"github.com/ashendes/storefront-checkout/internal/clients"
	"github.com/ashendes/storefront-checkout/internal/fees"
	"github.com/ashendes/storefront-checkout/internal/metrics"
	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/ashendes/storefront-checkout/internal/ordering"
	"github.com/ashendes/storefront-checkout/internal/payment"
	"github.com/ashendes/storefront-checkout/internal/pricing"
	"github.com/ashendes/storefront-checkout/internal/session"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	msgChangedDuringPlacement = "Your order changed while it was being placed. Please review it and try again."
	msgOrderNotLinked         = "We couldn't start the payment for your order. Please try again."
)

// Sessions is the session store used by the service
type Sessions interface {
	Create(ctx context.Context, storeID string) (*session.Session, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	Update(ctx context.Context, id string, fn func(*session.Session) error) (*session.Session, error)
	BeginCheckout(ctx context.Context, id string) (*session.Session, error)
	AttachOrder(ctx context.Context, id, orderID string) (*session.Session, bool, error)
	EndCheckout(ctx context.Context, id, orderID string) error
}

// Merchant is the part of the merchant collaborator pricing depends on
type Merchant interface {
	GetStore(ctx context.Context, storeID string) (*models.Store, error)
	GetDistance(ctx context.Context, origin, destination clients.Coordinates) (float64, error)
	GetWalletBalance(ctx context.Context, sessionID string) (*models.WalletBalance, error)
}

type Submitter interface {
	Submit(ctx context.Context, in ordering.Input) (*models.OrderSubmission, error)
}

type Payments interface {
	Initiate(ctx context.Context, sub *models.OrderSubmission) (payment.Event, error)
	Discard(ctx context.Context, sub *models.OrderSubmission, message string) (payment.Event, error)
	Invalidate(ctx context.Context, orderID string) (payment.Event, error)
}

type CouponApplier interface {
	Apply(ctx context.Context, code, storeID string, orderType models.OrderType, subtotal decimal.Decimal) (*models.Coupon, error)
}

// Service wires pricing, submission and payment together over a session
type Service struct {
	sessions  Sessions
	merchant  Merchant
	submitter Submitter
	payments  Payments
	coupons   CouponApplier
	activity  *activity.Queue
}

func NewService(sessions Sessions, merchant Merchant, submitter Submitter, payments Payments, coupons CouponApplier, queue *activity.Queue) *Service {
	return &Service{
		sessions:  sessions,
		merchant:  merchant,
		submitter: submitter,
		payments:  payments,
		coupons:   coupons,
		activity:  queue,
	}
}

// Quote is the priced view of a session
type Quote struct {
	Currency string                  `json:"currency"`
	Totals   models.OrderTotals      `json:"totals"`
	Wallet   pricing.Credit          `json:"wallet"`
	Delivery *models.DeliveryContext `json:"delivery,omitempty"`
}

// Result is the outcome of Checkout. Exactly one of Payment,
// ValidationErrors, ConfirmAddress or PaymentError describes it.
type Result struct {
	OrderID          string              `json:"order_id,omitempty"`
	Totals           *models.OrderTotals `json:"totals,omitempty"`
	Payment          *payment.Event      `json:"payment,omitempty"`
	ValidationErrors []string            `json:"validation_errors,omitempty"`
	ConfirmAddress   *models.Address     `json:"confirm_address,omitempty"`
	PaymentError     string              `json:"payment_error,omitempty"`
}

// Quote prices the session as it stands. A recomputed delivery context is
// cached on the session unless a checkout is in flight.
func (s *Service) Quote(ctx context.Context, sessionID string) (*Quote, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	store, err := s.merchant.GetStore(ctx, sess.StoreID)
	if err != nil {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}

	totals, delivery, looked, err := s.derive(ctx, sess, store)
	if err != nil {
		return nil, err
	}

	if looked && sess.Checkout == nil {
		_, err := s.sessions.Update(ctx, sessionID, func(cur *session.Session) error {
			if cur.Address != nil && cur.Address.ID == delivery.AddressID {
				cur.Delivery = delivery
			}
			return nil
		})
		if err != nil {
			log.WithField("session_id", sessionID).Warn("Failed to cache delivery context: ", err)
		}
	}

	return &Quote{
		Currency: store.Currency,
		Totals:   totals,
		Wallet:   pricing.WalletCredit(s.walletBalance(ctx, sessionID), store.Currency, totals.Payable),
		Delivery: delivery,
	}, nil
}

// Checkout validates the session, places the order and starts the payment
// attempt. Totals are always re-derived here rather than taken from an
// earlier quote. Returned errors are infrastructure failures; shopper-facing
// outcomes are in the Result.
func (s *Service) Checkout(ctx context.Context, sessionID string) (Result, error) {
	sess, err := s.sessions.BeginCheckout(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	logger := log.WithField("session_id", sessionID)
	release := func() {
		if err := s.sessions.EndCheckout(ctx, sessionID, ""); err != nil {
			logger.Error("Failed to release checkout claim: ", err)
		}
	}

	store, err := s.merchant.GetStore(ctx, sess.StoreID)
	if err != nil {
		release()
		return Result{}, fmt.Errorf("failed to load store: %w", err)
	}
	totals, _, _, err := s.derive(ctx, sess, store)
	if err != nil {
		release()
		return Result{}, err
	}

	var selection models.PaymentSelection
	if sess.Payment != nil {
		// an unknown route is reported as no route by validation
		selection, _ = sess.Payment.Selection()
	}
	credit := pricing.WalletCredit(s.walletBalance(ctx, sessionID), store.Currency, totals.Payable)

	sub, err := s.submitter.Submit(ctx, ordering.Input{
		SessionID:        sessionID,
		Store:            store,
		Basket:           sess.Basket,
		OrderType:        sess.OrderType,
		Address:          sess.Address,
		AddressConfirmed: sess.AddressConfirmed,
		Coupon:           sess.Coupon,
		Payment:          selection,
		Totals:           totals,
		WalletCredit:     credit.Applied,
		Note:             sess.Note,
		Revision:         sess.Revision,
	})
	if err != nil {
		release()
		return submitFailure(totals, err)
	}

	attached, changed, err := s.sessions.AttachOrder(ctx, sessionID, sub.OrderID)
	if err != nil {
		return s.orphaned(ctx, logger, sub, totals, err)
	}
	if changed {
		ev, _ := s.payments.Discard(ctx, sub, msgChangedDuringPlacement)
		metrics.CheckoutOrders.WithLabelValues("payment_failed").Inc()
		return Result{OrderID: sub.OrderID, Totals: &totals, Payment: &ev, PaymentError: msgChangedDuringPlacement}, nil
	}

	ev, err := s.payments.Initiate(ctx, sub)
	if err != nil {
		var perr *payment.ProviderError
		if errors.As(err, &perr) {
			metrics.CheckoutOrders.WithLabelValues("payment_failed").Inc()
			return Result{OrderID: sub.OrderID, Totals: &totals, Payment: &ev, PaymentError: perr.Message}, nil
		}
		if ev.State == "" || ev.State.IsTerminal() {
			if err := s.sessions.EndCheckout(ctx, sessionID, sub.OrderID); err != nil {
				logger.Error("Failed to release checkout claim: ", err)
			}
		}
		return Result{OrderID: sub.OrderID}, err
	}

	// a basket or route change that raced the payment request
	if !ev.State.IsTerminal() {
		if cur, err := s.sessions.Get(ctx, sessionID); err == nil && cur.Revision != attached.Revision {
			if inv, err := s.payments.Invalidate(ctx, sub.OrderID); err == nil {
				ev = inv
				metrics.CheckoutOrders.WithLabelValues("payment_failed").Inc()
				return Result{OrderID: sub.OrderID, Totals: &totals, Payment: &ev, PaymentError: ev.Message}, nil
			}
		}
	}

	return Result{OrderID: sub.OrderID, Totals: &totals, Payment: &ev}, nil
}

// orphaned handles a placed order that could not be bound to the session.
// Its attempt is failed without contacting the provider and the claim is
// released.
func (s *Service) orphaned(ctx context.Context, logger *log.Entry, sub *models.OrderSubmission, totals models.OrderTotals, cause error) (Result, error) {
	logger = logger.WithField("order_id", sub.OrderID)
	logger.Error("ORPHANED ORDER: placed order could not be attached to session: ", cause)

	ev, err := s.payments.Discard(ctx, sub, msgOrderNotLinked)
	if rerr := s.sessions.EndCheckout(ctx, sub.SessionID, ""); rerr != nil {
		logger.Error("Failed to release checkout claim: ", rerr)
	}

	var perr *payment.ProviderError
	if !errors.As(err, &perr) {
		logger.Error("ORPHANED ORDER: failed to record discarded attempt: ", err)
		return Result{OrderID: sub.OrderID}, cause
	}
	metrics.CheckoutOrders.WithLabelValues("payment_failed").Inc()
	return Result{OrderID: sub.OrderID, Totals: &totals, Payment: &ev, PaymentError: perr.Message}, nil
}

func submitFailure(totals models.OrderTotals, err error) (Result, error) {
	var verr *ordering.ValidationError
	if errors.As(err, &verr) {
		return Result{Totals: &totals, ValidationErrors: verr.Messages}, nil
	}
	var confirm *ordering.AddressConfirmationRequired
	if errors.As(err, &confirm) {
		addr := confirm.Address
		return Result{Totals: &totals, ConfirmAddress: &addr}, nil
	}
	var perr *clients.PlaceOrderError
	if errors.As(err, &perr) {
		// the order may exist server-side even though placement failed
		return Result{OrderID: perr.OrderID, PaymentError: perr.Message}, nil
	}
	return Result{}, err
}

// derive computes totals for the session against the current store. The
// distance is looked up again when the address or store changed; looked
// reports whether that happened.
func (s *Service) derive(ctx context.Context, sess *session.Session, store *models.Store) (totals models.OrderTotals, delivery *models.DeliveryContext, looked bool, err error) {
	fee := decimal.Zero
	delivery = sess.Delivery

	if sess.OrderType == models.OrderTypeDelivery && sess.Address != nil {
		if delivery.IsStale(store.ID, sess.Address.ID) {
			meters, err := s.merchant.GetDistance(ctx,
				clients.Coordinates{Latitude: store.Latitude, Longitude: store.Longitude},
				clients.Coordinates{Latitude: sess.Address.Latitude, Longitude: sess.Address.Longitude},
			)
			if err != nil {
				return models.OrderTotals{}, nil, false, fmt.Errorf("failed to get delivery distance: %w", err)
			}
			delivery = &models.DeliveryContext{
				StoreID:        store.ID,
				AddressID:      sess.Address.ID,
				DistanceMeters: meters,
				DistanceUnit:   store.FeeModel.Unit,
				FeeModel:       store.FeeModel,
			}
			looked = true
		}
		// the fee model always comes from the store as loaded now
		fee = fees.ComputeDeliveryFee(store.FeeModel, delivery.DistanceMeters, sess.Coupon)
	}

	subtotal := sess.Basket.Subtotal()
	totals = pricing.ComputeTotals(
		sess.Basket,
		fee,
		pricing.Surcharge(store.ServiceCharge, subtotal),
		pricing.Surcharge(store.CustomFee, subtotal),
		sess.Tip,
		sess.Coupon,
	)
	return totals, delivery, looked, nil
}

// walletBalance is informational; a failed lookup prices without credit
func (s *Service) walletBalance(ctx context.Context, sessionID string) *models.WalletBalance {
	w, err := s.merchant.GetWalletBalance(ctx, sessionID)
	if err != nil {
		log.WithField("session_id", sessionID).Warn("Wallet balance unavailable: ", err)
		return nil
	}
	return w
}
