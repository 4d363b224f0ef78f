package pricing

import (
	"testing"

	"github.com/ashendes/storefront-checkout/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func scenarioBasket(t *testing.T) models.Basket {
	var b models.Basket
	require.NoError(t, b.Add(models.BasketLine{ItemID: "pizza", UniqueKey: "pizza-large", UnitPrice: dec("9.25"), Quantity: 2}))
	require.NoError(t, b.Add(models.BasketLine{ItemID: "cola", UniqueKey: "cola", UnitPrice: dec("2.50"), Quantity: 2}))
	return b
}

func TestComputeTotals_NoCoupon(t *testing.T) {
	b := scenarioBasket(t)

	totals := ComputeTotals(b, dec("3.84"), dec("0.50"), decimal.Zero, decimal.Zero, nil)

	assert.True(t, dec("23.50").Equal(totals.Subtotal), "subtotal %s", totals.Subtotal)
	assert.True(t, totals.Discount.IsZero())
	assert.True(t, dec("27.84").Equal(totals.Payable), "payable %s", totals.Payable)
	assert.NoError(t, Validate(totals))
}

func TestComputeTotals_PercentCoupon(t *testing.T) {
	b := scenarioBasket(t)
	c := &models.Coupon{Code: "TEN", DiscountType: models.DiscountPercent, DiscountValue: dec("10"), MinPurchase: decPtr("20")}

	totals := ComputeTotals(b, dec("3.84"), dec("0.50"), decimal.Zero, decimal.Zero, c)

	assert.True(t, dec("2.35").Equal(totals.Discount), "discount %s", totals.Discount)
	assert.True(t, dec("25.49").Equal(totals.Payable), "payable %s", totals.Payable)
}

func TestComputeTotals_AllComponents(t *testing.T) {
	b := scenarioBasket(t)
	c := &models.Coupon{DiscountType: models.DiscountAmount, DiscountValue: dec("100")}

	totals := ComputeTotals(b, dec("2"), dec("1"), dec("0.75"), dec("3"), c)

	// discount clamps to the subtotal, leaving only the fees and tip
	assert.True(t, dec("23.50").Equal(totals.Discount))
	assert.True(t, dec("6.75").Equal(totals.Payable), "payable %s", totals.Payable)
	assert.True(t, totals.WalletCredit.IsZero())
}

func TestComputeTotals_SubtotalIsSumOfLines(t *testing.T) {
	var b models.Basket
	prices := []string{"1.10", "2.20", "3.30", "0.05"}
	want := decimal.Zero
	for i, p := range prices {
		line := models.BasketLine{ItemID: p, UniqueKey: p, UnitPrice: dec(p), Quantity: i + 1}
		require.NoError(t, b.Add(line))
		want = want.Add(dec(p).Mul(decimal.NewFromInt(int64(i + 1))))
	}

	totals := ComputeTotals(b, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, nil)
	assert.True(t, want.Equal(totals.Subtotal), "got %s want %s", totals.Subtotal, want)
}

func TestComputeTotals_Idempotent(t *testing.T) {
	b := scenarioBasket(t)
	c := &models.Coupon{DiscountType: models.DiscountPercent, DiscountValue: dec("15")}

	first := ComputeTotals(b, dec("3.84"), dec("0.50"), dec("1"), dec("2"), c)
	second := ComputeTotals(b, dec("3.84"), dec("0.50"), dec("1"), dec("2"), c)
	assert.True(t, first.Payable.Equal(second.Payable))
	assert.True(t, first.Discount.Equal(second.Discount))
}

func TestValidate_NegativePayable(t *testing.T) {
	err := Validate(models.OrderTotals{Payable: dec("-0.01")})
	assert.ErrorIs(t, err, ErrNegativePayable)
}

func TestSurcharge(t *testing.T) {
	assert.True(t, Surcharge(nil, dec("10")).IsZero())
	assert.True(t, dec("0.50").Equal(Surcharge(&models.Charge{Type: models.ChargeFlat, Value: dec("0.50")}, dec("10"))))
	assert.True(t, dec("1.18").Equal(Surcharge(&models.Charge{Type: models.ChargePercent, Value: dec("5")}, dec("23.50"))))
	assert.True(t, Surcharge(&models.Charge{Type: models.ChargeFlat, Value: dec("-1")}, dec("10")).IsZero())
}

func TestWalletCredit(t *testing.T) {
	t.Run("capped to payable", func(t *testing.T) {
		c := WalletCredit(&models.WalletBalance{Balance: dec("50"), CurrencyCode: "gbp"}, "GBP", dec("27.84"))
		assert.True(t, c.Usable)
		assert.True(t, dec("27.84").Equal(c.Applied))
	})

	t.Run("capped to balance", func(t *testing.T) {
		c := WalletCredit(&models.WalletBalance{Balance: dec("5"), CurrencyCode: "GBP"}, "GBP", dec("27.84"))
		assert.True(t, c.Usable)
		assert.True(t, dec("5").Equal(c.Applied))
	})

	t.Run("currency mismatch is informational", func(t *testing.T) {
		c := WalletCredit(&models.WalletBalance{Balance: dec("50"), CurrencyCode: "EUR"}, "GBP", dec("27.84"))
		assert.False(t, c.Usable)
		assert.True(t, c.Applied.IsZero())
		assert.True(t, dec("50").Equal(c.Balance))
	})

	t.Run("no wallet", func(t *testing.T) {
		c := WalletCredit(nil, "GBP", dec("10"))
		assert.False(t, c.Usable)
	})
}
