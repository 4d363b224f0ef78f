// Package fees computes delivery fees from distance and merchant configuration.
package fees

import (
	"strings"

	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/shopspring/decimal"
)

var (
	metersPerKilometer = decimal.NewFromInt(1000)
	metersPerMile      = decimal.NewFromFloat(1609.344)
)

// ConvertDistance converts raw meters into the merchant's billing unit.
func ConvertDistance(meters float64, unit models.DistanceUnit) decimal.Decimal {
	m := decimal.NewFromFloat(meters)
	if m.IsNegative() {
		m = decimal.Zero
	}
	if unit == models.UnitMiles {
		return m.Div(metersPerMile)
	}
	return m.Div(metersPerKilometer)
}

// ParseRate reads the self-delivery rate from its configured string form.
// Anything unparsable or negative is treated as zero.
func ParseRate(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.IsNegative() {
		return decimal.Zero
	}
	return rate
}

// ComputeDeliveryFee returns the delivery fee for a distance in meters.
// A free-delivery coupon replaces the merchant rate with its own allowance but
// never goes below the merchant minimum.
func ComputeDeliveryFee(model models.FeeModel, distanceMeters float64, coupon *models.Coupon) decimal.Decimal {
	if model.Mode == models.DeliveryModeSelf && model.FreeDelivery {
		return decimal.Zero
	}

	distance := ConvertDistance(distanceMeters, model.Unit)
	minimum := nonNegative(model.MinimumFee)

	if coupon != nil && coupon.FreeDelivery != nil {
		return decimal.Max(allowance(*coupon.FreeDelivery, distance), minimum).Round(2)
	}

	var rate decimal.Decimal
	switch model.Mode {
	case models.DeliveryModeSelf:
		rate = ParseRate(model.SelfDeliveryRate)
	default:
		rate = nonNegative(model.PerUnitRate)
	}

	fee := decimal.Max(rate.Mul(distance), minimum)
	if model.MaximumFee != nil && model.MaximumFee.GreaterThanOrEqual(minimum) {
		fee = decimal.Min(fee, *model.MaximumFee)
	}
	return fee.Round(2)
}

func allowance(a models.DeliveryAllowance, distance decimal.Decimal) decimal.Decimal {
	chargeable := distance.Sub(nonNegative(a.FreeDistance))
	if chargeable.IsNegative() {
		return decimal.Zero
	}
	return chargeable.Mul(nonNegative(a.PerUnitCharge))
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
