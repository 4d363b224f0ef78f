package models

import (
	"github.com/shopspring/decimal"
)

// DeliveryMode selects who delivers and therefore which rate applies
type DeliveryMode string

const (
	DeliveryModeSelf     DeliveryMode = "self"
	DeliveryModePlatform DeliveryMode = "platform"
)

// DistanceUnit is the merchant's configured billing unit
type DistanceUnit string

const (
	UnitKilometers DistanceUnit = "km"
	UnitMiles      DistanceUnit = "miles"
)

// FeeModel carries a merchant's delivery fee configuration. SelfDeliveryRate
// is kept as the raw configured string and parsed when a fee is computed.
type FeeModel struct {
	Mode             DeliveryMode     `json:"mode"`
	Unit             DistanceUnit     `json:"unit"`
	FreeDelivery     bool             `json:"free_delivery"`
	SelfDeliveryRate string           `json:"self_delivery_rate,omitempty"`
	PerUnitRate      decimal.Decimal  `json:"per_unit_rate"`
	MinimumFee       decimal.Decimal  `json:"minimum_fee"`
	MaximumFee       *decimal.Decimal `json:"maximum_fee,omitempty"`
}

// ChargeType is shared by service charges and custom fees
type ChargeType string

const (
	ChargeFlat    ChargeType = "flat"
	ChargePercent ChargeType = "percent"
)

// Charge is a merchant-configured surcharge
type Charge struct {
	Type  ChargeType      `json:"type"`
	Value decimal.Decimal `json:"value"`
	Label string          `json:"label,omitempty"`
}

// Store represents the single merchant being ordered from
type Store struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Active        bool     `json:"active"`
	Open          bool     `json:"open"`
	Currency      string   `json:"currency"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	FeeModel      FeeModel `json:"fee_model"`
	ServiceCharge *Charge  `json:"service_charge,omitempty"`
	CustomFee     *Charge  `json:"custom_fee,omitempty"`
}

// DeliveryContext is the distance between an address and a store. It is
// stale once either side changes.
type DeliveryContext struct {
	StoreID        string       `json:"store_id"`
	AddressID      string       `json:"address_id"`
	DistanceMeters float64      `json:"distance_meters"`
	DistanceUnit   DistanceUnit `json:"distance_unit"`
	FeeModel       FeeModel     `json:"fee_model"`
}

func (d *DeliveryContext) IsStale(storeID, addressID string) bool {
	return d == nil || d.StoreID != storeID || d.AddressID != addressID
}

// WalletBalance represents the shopper's stored credit
type WalletBalance struct {
	Balance      decimal.Decimal `json:"balance"`
	CurrencyCode string          `json:"currency_code"`
}
