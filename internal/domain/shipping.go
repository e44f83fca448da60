package domain

import "github.com/shopspring/decimal"

// ShippingRegion identifies the rate table used to price a parcel.
type ShippingRegion string

const (
	ShippingRegionUK            ShippingRegion = "uk"
	ShippingRegionEU            ShippingRegion = "eu"
	ShippingRegionInternational ShippingRegion = "international"
)

// CartItem is the shipping-relevant view of a cart line. A nil WeightKg falls back to the default item weight.
type CartItem struct {
	SKU      string
	WeightKg *decimal.Decimal
	Quantity int
}

// ShippingOption is a single selectable delivery method.
type ShippingOption struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	EstimatedDays string
	Description   string
	IsCollection  bool
}

// ShippingQuote lists the delivery options for a cart along with the weight breakdown used to select them.
type ShippingQuote struct {
	Region            ShippingRegion
	Currency          string
	Options           []ShippingOption
	TotalItems        int
	ProductWeightKg   decimal.Decimal
	PackagingWeightKg decimal.Decimal
	TotalWeightKg     decimal.Decimal
}
