// Package pricing aggregates basket, fees, tip and discount into payable totals.
package pricing

import (
	"errors"
	"strings"

	"github.com/ashendes/storefront-checkout/internal/coupon"
	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/shopspring/decimal"
)

var ErrNegativePayable = errors.New("payable amount cannot be negative")

var hundred = decimal.NewFromInt(100)

// ComputeTotals derives OrderTotals. Wallet credit is left at zero: it never
// reduces the payable amount here.
func ComputeTotals(basket models.Basket, deliveryFee, serviceCharge, customFee, tip decimal.Decimal, c *models.Coupon) models.OrderTotals {
	subtotal := basket.Subtotal()
	discount := coupon.Discount(c, subtotal)

	payable := subtotal.
		Add(deliveryFee).
		Add(serviceCharge).
		Add(customFee).
		Add(tip).
		Sub(discount)

	return models.OrderTotals{
		Subtotal:      subtotal,
		DeliveryFee:   deliveryFee,
		ServiceCharge: serviceCharge,
		CustomFee:     customFee,
		Tip:           tip,
		Discount:      discount,
		WalletCredit:  decimal.Zero,
		Payable:       payable.Round(2),
	}
}

// Validate refuses a negative payable rather than flooring it.
func Validate(t models.OrderTotals) error {
	if t.Payable.IsNegative() {
		return ErrNegativePayable
	}
	return nil
}

// Surcharge evaluates a merchant charge against the subtotal. A nil charge is zero.
func Surcharge(ch *models.Charge, subtotal decimal.Decimal) decimal.Decimal {
	if ch == nil || ch.Value.IsNegative() {
		return decimal.Zero
	}
	if ch.Type == models.ChargePercent {
		return ch.Value.Div(hundred).Mul(subtotal).Round(2)
	}
	return ch.Value
}

// Credit describes how much wallet balance an order could use
type Credit struct {
	Balance decimal.Decimal `json:"balance"`
	Usable  bool            `json:"usable"`
	Applied decimal.Decimal `json:"applied"`
}

// WalletCredit caps the usable credit to min(balance, payable). Balances held
// in another currency are shown but not usable.
func WalletCredit(w *models.WalletBalance, merchantCurrency string, payable decimal.Decimal) Credit {
	if w == nil {
		return Credit{Balance: decimal.Zero, Applied: decimal.Zero}
	}
	c := Credit{Balance: w.Balance, Applied: decimal.Zero}
	if !strings.EqualFold(w.CurrencyCode, merchantCurrency) || !w.Balance.IsPositive() || !payable.IsPositive() {
		return c
	}
	c.Usable = true
	c.Applied = decimal.Min(w.Balance, payable)
	return c
}
