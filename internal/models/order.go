package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is delivery or pickup. OrderTypeAll only appears on coupons.
type OrderType string

const (
	OrderTypeAll      OrderType = "all"
	OrderTypeDelivery OrderType = "delivery"
	OrderTypePickup   OrderType = "pickup"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeDelivery || t == OrderTypePickup
}

// Address represents a saved delivery address
type Address struct {
	ID        string  `json:"id" binding:"required"`
	Label     string  `json:"label,omitempty"`
	Line1     string  `json:"line1" binding:"required"`
	Line2     string  `json:"line2,omitempty"`
	City      string  `json:"city"`
	Postcode  string  `json:"postcode"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Contact   string  `json:"contact,omitempty"`
	Phone     string  `json:"phone,omitempty"`
}

// OrderTotals is derived at submission time and never stored on its own
type OrderTotals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	ServiceCharge decimal.Decimal `json:"service_charge"`
	CustomFee     decimal.Decimal `json:"custom_fee"`
	Tip           decimal.Decimal `json:"tip"`
	Discount      decimal.Decimal `json:"discount"`
	WalletCredit  decimal.Decimal `json:"wallet_credit"`
	Payable       decimal.Decimal `json:"payable"`
}

// OrderSubmission is created once per successful order placement and is not
// modified afterwards. A retry needs a new one.
type OrderSubmission struct {
	OrderID   string
	SessionID string
	StoreID   string
	Currency  string
	Revision  int64
	Totals    OrderTotals
	Payment   PaymentSelection
	CreatedAt time.Time
}

// PlaceOrderRequest is the payload sent to the order-placement collaborator
type PlaceOrderRequest struct {
	SessionID     string          `json:"session_id"`
	StoreID       string          `json:"store_id"`
	OrderType     OrderType       `json:"order_type"`
	Lines         []BasketLine    `json:"lines"`
	Totals        OrderTotals     `json:"totals"`
	WalletCredit  decimal.Decimal `json:"wallet_credit"`
	Address       *Address        `json:"address,omitempty"`
	Note          string          `json:"note,omitempty"`
	CouponCode    string          `json:"coupon_code,omitempty"`
	PaymentMethod PaymentRoute    `json:"payment_method"`
	Currency      string          `json:"currency"`
}

// PlaceOrderResponse carries the server-assigned order identifier
type PlaceOrderResponse struct {
	OrderID string `json:"order_id"`
	Message string `json:"message,omitempty"`
}

// OrderConfirmation is the confirmation view, fetchable by order id alone
type OrderConfirmation struct {
	OrderID   string      `json:"order_id"`
	StoreID   string      `json:"store_id"`
	Status    string      `json:"status"`
	OrderType OrderType   `json:"order_type"`
	Totals    OrderTotals `json:"totals"`
	CreatedAt time.Time   `json:"created_at"`
}

// ErrorDetail is one entry of a structured collaborator error body
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ErrorResponse is the structured error body returned by collaborators
type ErrorResponse struct {
	Message string        `json:"message,omitempty"`
	OrderID string        `json:"order_id,omitempty"`
	Errors  []ErrorDetail `json:"errors,omitempty"`
}

// FirstMessage returns the first structured message, if any.
func (e ErrorResponse) FirstMessage() string {
	for _, d := range e.Errors {
		if d.Message != "" {
			return d.Message
		}
	}
	return e.Message
}

// ActivityRecord is a queued user-activity entry
type ActivityRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}
