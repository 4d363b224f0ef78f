package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrLineNotFound    = errors.New("basket line not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// Option is a chosen variation or addon on a basket line. Its surcharge is
// already folded into the line's unit price.
type Option struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Surcharge decimal.Decimal `json:"surcharge"`
}

// BasketLine represents one product in the basket with a specific set of options
type BasketLine struct {
	ItemID           string          `json:"item_id" binding:"required"`
	UniqueKey        string          `json:"unique_key" binding:"required"`
	Name             string          `json:"name,omitempty"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Quantity         int             `json:"quantity" binding:"required,gt=0"`
	FreeQuantity     int             `json:"free_quantity,omitempty"`
	ChosenVariations []Option        `json:"chosen_variations,omitempty"`
	ChosenAddons     []Option        `json:"chosen_addons,omitempty"`
	LineTotal        decimal.Decimal `json:"line_total"`
}

func (l *BasketLine) recompute() {
	l.LineTotal = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Basket holds the shopper's lines for a single merchant
type Basket struct {
	Lines []BasketLine `json:"lines"`
}

// Add merges the line into an existing one with the same unique key, or
// appends it.
func (b *Basket) Add(line BasketLine) error {
	if line.Quantity < 1 {
		return ErrInvalidQuantity
	}
	for i := range b.Lines {
		if b.Lines[i].UniqueKey == line.UniqueKey {
			b.Lines[i].Quantity += line.Quantity
			b.Lines[i].FreeQuantity += line.FreeQuantity
			b.Lines[i].recompute()
			return nil
		}
	}
	line.recompute()
	b.Lines = append(b.Lines, line)
	return nil
}

// SetQuantity updates a line's quantity. A quantity of zero or less removes it.
func (b *Basket) SetQuantity(uniqueKey string, quantity int) error {
	for i := range b.Lines {
		if b.Lines[i].UniqueKey != uniqueKey {
			continue
		}
		if quantity <= 0 {
			b.Lines = append(b.Lines[:i], b.Lines[i+1:]...)
			return nil
		}
		b.Lines[i].Quantity = quantity
		b.Lines[i].recompute()
		return nil
	}
	return ErrLineNotFound
}

func (b *Basket) Remove(uniqueKey string) error {
	return b.SetQuantity(uniqueKey, 0)
}

// Subtotal sums every line total.
func (b Basket) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range b.Lines {
		sum = sum.Add(l.LineTotal)
	}
	return sum
}

func (b Basket) IsEmpty() bool {
	return len(b.Lines) == 0
}

// Clone returns a deep copy used for submission snapshots.
func (b Basket) Clone() Basket {
	lines := make([]BasketLine, len(b.Lines))
	for i, l := range b.Lines {
		l.ChosenVariations = append([]Option(nil), l.ChosenVariations...)
		l.ChosenAddons = append([]Option(nil), l.ChosenAddons...)
		lines[i] = l
	}
	return Basket{Lines: lines}
}
