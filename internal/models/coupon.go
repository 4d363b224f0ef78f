package models

import "github.com/shopspring/decimal"

// DiscountType is how a coupon's value is interpreted
type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountAmount  DiscountType = "amount"
)

// DeliveryAllowance is the distance-based delivery charge a free-delivery
// coupon replaces the merchant fee with. Distance is in the merchant's unit.
type DeliveryAllowance struct {
	FreeDistance  decimal.Decimal `json:"free_distance"`
	PerUnitCharge decimal.Decimal `json:"per_unit_charge"`
}

// Coupon represents a discount code fetched for a store
type Coupon struct {
	Code              string             `json:"code" binding:"required"`
	DiscountType      DiscountType       `json:"discount_type"`
	DiscountValue     decimal.Decimal    `json:"discount_value"`
	MinPurchase       *decimal.Decimal   `json:"min_purchase,omitempty"`
	EligibleOrderType OrderType          `json:"eligible_order_type,omitempty"`
	FreeDelivery      *DeliveryAllowance `json:"free_delivery,omitempty"`
}

// AppliesTo reports whether the coupon is restricted to another order type.
func (c Coupon) AppliesTo(t OrderType) bool {
	if c.EligibleOrderType == "" || c.EligibleOrderType == OrderTypeAll {
		return true
	}
	return c.EligibleOrderType == t
}
