package services

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/lumiere-salon/api/internal/domain"
)

// ErrShippingInvalidInput signals a cart line that cannot be weighed.
var ErrShippingInvalidInput = errors.New("shipping: invalid input")

// maxItemQuantity bounds a single cart line so item counts cannot overflow.
const maxItemQuantity = 10_000

var defaultItemWeightKg = decimal.RequireFromString("0.1")

// EstimateShipping weighs the cart, adds the packaging allowance and returns the delivery options for the
// destination. Unknown country/currency combinations resolve to the international rate card.
func EstimateShipping(items []domain.CartItem, currency, countryCode string) (domain.ShippingQuote, error) {
	productWeight := decimal.Zero
	totalItems := 0
	for i, item := range items {
		if item.Quantity < 1 || item.Quantity > maxItemQuantity {
			return domain.ShippingQuote{}, fmt.Errorf("%w: items[%d].quantity must be between 1 and %d", ErrShippingInvalidInput, i, maxItemQuantity)
		}
		weight := defaultItemWeightKg
		if item.WeightKg != nil {
			weight = *item.WeightKg
		}
		if weight.IsNegative() {
			return domain.ShippingQuote{}, fmt.Errorf("%w: items[%d].weightKg must be >= 0", ErrShippingInvalidInput, i)
		}
		productWeight = productWeight.Add(weight.Mul(decimal.NewFromInt(int64(item.Quantity))))
		totalItems += item.Quantity
	}

	packaging := packagingWeightFor(totalItems)
	total := productWeight.Add(packaging)

	card := rateCards[ResolveShippingRegion(currency, countryCode)]
	tier := card.tierFor(total)

	return domain.ShippingQuote{
		Region:            card.region,
		Currency:          shippingPriceCurrency,
		Options:           slices.Clone(tier.options),
		TotalItems:        totalItems,
		ProductWeightKg:   productWeight,
		PackagingWeightKg: packaging,
		TotalWeightKg:     total,
	}, nil
}

// ResolveShippingRegion applies the destination rules: EUR carts and any country other than GB or US ship
// on the EU card, GB ships domestically, everything else is international.
func ResolveShippingRegion(currency, countryCode string) domain.ShippingRegion {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	country := strings.ToUpper(strings.TrimSpace(countryCode))

	isEU := cur == "EUR" || (country != "GB" && country != "US")
	switch {
	case country == "GB" && !isEU:
		return domain.ShippingRegionUK
	case isEU:
		return domain.ShippingRegionEU
	default:
		return domain.ShippingRegionInternational
	}
}

// CheapestShippingOption returns the lowest-priced option that is not in-person collection.
func CheapestShippingOption(quote domain.ShippingQuote) (domain.ShippingOption, bool) {
	var (
		best  domain.ShippingOption
		found bool
	)
	for _, option := range quote.Options {
		if option.IsCollection {
			continue
		}
		if !found || option.Price.LessThan(best.Price) {
			best = option
			found = true
		}
	}
	return best, found
}
