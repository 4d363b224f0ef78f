// Package coupon applies a fetched coupon's eligibility rules and discount.
package coupon

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderTypeMismatch     = errors.New("coupon is not valid for this order type")
	ErrMinimumPurchaseNotMet = errors.New("minimum purchase not met")
	ErrCouponNotFound        = errors.New("coupon not found")
)

var hundred = decimal.NewFromInt(100)

// RejectionError carries the reason a coupon was refused
type RejectionError struct {
	Code   string
	Reason error
	// Required is the minimum purchase when Reason is ErrMinimumPurchaseNotMet.
	Required decimal.Decimal
}

func (e *RejectionError) Error() string {
	if errors.Is(e.Reason, ErrMinimumPurchaseNotMet) {
		return fmt.Sprintf("coupon %s: %v (requires %s)", e.Code, e.Reason, e.Required.StringFixed(2))
	}
	return fmt.Sprintf("coupon %s: %v", e.Code, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}

// Validate checks order-type eligibility, then minimum purchase.
func Validate(c models.Coupon, orderType models.OrderType, subtotal decimal.Decimal) error {
	if !c.AppliesTo(orderType) {
		return &RejectionError{Code: c.Code, Reason: ErrOrderTypeMismatch}
	}
	return ValidateMinimum(c, subtotal)
}

// ValidateMinimum re-checks only the minimum purchase rule. Used before
// submission when the basket may have changed since the coupon was applied.
func ValidateMinimum(c models.Coupon, subtotal decimal.Decimal) error {
	if c.MinPurchase != nil && subtotal.LessThan(*c.MinPurchase) {
		return &RejectionError{Code: c.Code, Reason: ErrMinimumPurchaseNotMet, Required: *c.MinPurchase}
	}
	return nil
}

// Discount returns the discount for a subtotal, clamped to [0, subtotal].
func Discount(c *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if c == nil || !subtotal.IsPositive() {
		return decimal.Zero
	}
	var d decimal.Decimal
	switch c.DiscountType {
	case models.DiscountPercent:
		d = c.DiscountValue.Div(hundred).Mul(subtotal)
	case models.DiscountAmount:
		d = c.DiscountValue
	default:
		return decimal.Zero
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(d, subtotal).Round(2)
}

// Finder fetches a coupon by code for a store
type Finder interface {
	ApplyCoupon(ctx context.Context, code, storeID string) (*models.Coupon, error)
}

// Service looks up a coupon and checks it against the current order state
type Service struct {
	finder Finder
}

func NewService(finder Finder) *Service {
	return &Service{finder: finder}
}

// Apply fetches the coupon and validates it. The caller stores it only when
// no error is returned.
func (s *Service) Apply(ctx context.Context, code, storeID string, orderType models.OrderType, subtotal decimal.Decimal) (*models.Coupon, error) {
	c, err := s.finder.ApplyCoupon(ctx, code, storeID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCouponNotFound
	}
	if err := Validate(*c, orderType, subtotal); err != nil {
		return nil, err
	}
	return c, nil
}
