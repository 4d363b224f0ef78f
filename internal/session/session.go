// Package session keeps the shopper's checkout selections and the payment
// attempts in Redis.
package session

import (
	"errors"
	"time"

	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrCheckoutInProgress = errors.New("a checkout is already in progress for this session")
	ErrConflict           = errors.New("session was modified concurrently, please retry")
)

// staleClaim is how long a checkout claim without an order id is honoured.
// A claim only lacks an order id while the order is being placed.
const staleClaim = 2 * time.Minute

// ActiveCheckout marks a session that has a checkout in flight
type ActiveCheckout struct {
	OrderID   string    `json:"order_id,omitempty"`
	Revision  int64     `json:"revision"`
	StartedAt time.Time `json:"started_at"`
}

// Session is the shopper's shared mutable checkout state
type Session struct {
	ID               string                       `json:"id"`
	StoreID          string                       `json:"store_id"`
	Basket           models.Basket                `json:"basket"`
	Address          *models.Address              `json:"address,omitempty"`
	AddressConfirmed bool                         `json:"address_confirmed"`
	OrderType        models.OrderType             `json:"order_type,omitempty"`
	Payment          *models.PaymentSelectionWire `json:"payment,omitempty"`
	Coupon           *models.Coupon               `json:"coupon,omitempty"`
	Tip              decimal.Decimal              `json:"tip"`
	Note             string                       `json:"note,omitempty"`
	Delivery         *models.DeliveryContext      `json:"delivery,omitempty"`
	Checkout         *ActiveCheckout              `json:"checkout,omitempty"`
	LastOrderID      string                       `json:"last_order_id,omitempty"`
	Revision         int64                        `json:"revision"`
	CreatedAt        time.Time                    `json:"created_at"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

// InFlightOrderID returns the order id of the active checkout, if any.
func (s *Session) InFlightOrderID() string {
	if s.Checkout == nil {
		return ""
	}
	return s.Checkout.OrderID
}

func (s *Session) claimed(now time.Time) bool {
	if s.Checkout == nil {
		return false
	}
	if s.Checkout.OrderID == "" && now.Sub(s.Checkout.StartedAt) > staleClaim {
		return false
	}
	return true
}

// SetAddress replaces the selected address. The delivery context and any
// earlier confirmation no longer apply.
func (s *Session) SetAddress(addr *models.Address) {
	s.Address = addr
	s.AddressConfirmed = false
	if addr == nil || s.Delivery.IsStale(s.StoreID, addr.ID) {
		s.Delivery = nil
	}
}

// clearAfterSuccess resets every selection of a paid order in one step
func (s *Session) clearAfterSuccess(orderID string) {
	s.Basket = models.Basket{}
	s.Payment = nil
	s.Address = nil
	s.AddressConfirmed = false
	s.OrderType = ""
	s.Note = ""
	s.Tip = decimal.Zero
	s.Coupon = nil
	s.Delivery = nil
	s.Checkout = nil
	s.LastOrderID = orderID
}
