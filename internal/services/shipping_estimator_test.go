package services

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/lumiere-salon/api/internal/domain"
)

func weight(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func optionIDs(quote domain.ShippingQuote) []string {
	ids := make([]string, 0, len(quote.Options))
	for _, option := range quote.Options {
		ids = append(ids, option.ID)
	}
	return ids
}

func TestEstimateShippingUKSmallParcel(t *testing.T) {
	quote, err := EstimateShipping([]domain.CartItem{{SKU: "serum-50ml", WeightKg: weight("1.2"), Quantity: 1}}, "GBP", "GB")
	require.NoError(t, err)

	assert.Equal(t, domain.ShippingRegionUK, quote.Region)
	assert.Equal(t, 1, quote.TotalItems)
	assert.True(t, quote.ProductWeightKg.Equal(decimal.RequireFromString("1.2")))
	assert.True(t, quote.PackagingWeightKg.Equal(decimal.RequireFromString("0.025")))
	assert.True(t, quote.TotalWeightKg.Equal(decimal.RequireFromString("1.225")), "total %s", quote.TotalWeightKg)
	require.Len(t, quote.Options, 4)
	assert.Equal(t, []string{"tracked_48", "tracked_24", "tracked_24_signature", "collect_in_person"}, optionIDs(quote))

	cheapest, ok := CheapestShippingOption(quote)
	require.True(t, ok)
	assert.Equal(t, "3.55", cheapest.Price.StringFixed(2))

	collection := quote.Options[3]
	assert.True(t, collection.IsCollection)
	assert.True(t, collection.Price.IsZero())
}

func TestEstimateShippingUKTiers(t *testing.T) {
	cases := []struct {
		name    string
		weight  string
		wantIDs []string
	}{
		{name: "exactly two kilos", weight: "1.975", wantIDs: []string{"tracked_48", "tracked_24", "tracked_24_signature", "collect_in_person"}},
		{name: "medium parcel", weight: "4", wantIDs: []string{"tracked_48_signature", "collect_in_person"}},
		{name: "exactly ten kilos", weight: "9.975", wantIDs: []string{"tracked_48_signature", "collect_in_person"}},
		{name: "heavy parcel", weight: "12", wantIDs: []string{"custom_quote", "collect_in_person"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quote, err := EstimateShipping([]domain.CartItem{{WeightKg: weight(tc.weight), Quantity: 1}}, "gbp", "gb")
			require.NoError(t, err)
			assert.Equal(t, tc.wantIDs, optionIDs(quote))
		})
	}

	quote, err := EstimateShipping([]domain.CartItem{{WeightKg: weight("12"), Quantity: 1}}, "GBP", "GB")
	require.NoError(t, err)
	assert.Equal(t, "15.99", quote.Options[0].Price.StringFixed(2))
}

func TestEstimateShippingEUBrackets(t *testing.T) {
	cases := []struct {
		productWeight string
		wantPrice     string
	}{
		{productWeight: "0.075", wantPrice: "6.30"},
		{productWeight: "0.2", wantPrice: "8.50"},
		{productWeight: "0.475", wantPrice: "9.95"},
		{productWeight: "0.476", wantPrice: "11.25"},
		{productWeight: "0.975", wantPrice: "12.20"},
		{productWeight: "1.1", wantPrice: "12.90"},
		{productWeight: "1.4", wantPrice: "14.60"},
		{productWeight: "1.7", wantPrice: "16.30"},
		{productWeight: "1.975", wantPrice: "18.00"},
		{productWeight: "2.5", wantPrice: "25.00"},
	}
	for _, tc := range cases {
		quote, err := EstimateShipping([]domain.CartItem{{WeightKg: weight(tc.productWeight), Quantity: 1}}, "EUR", "FR")
		require.NoError(t, err)
		require.Equal(t, domain.ShippingRegionEU, quote.Region)
		require.Len(t, quote.Options, 2, "weight %s", tc.productWeight)
		assert.Equal(t, tc.wantPrice, quote.Options[0].Price.StringFixed(2), "weight %s", tc.productWeight)
		assert.True(t, quote.Options[1].IsCollection)
	}
}

func TestEstimateShippingEUBoundaryIsInclusive(t *testing.T) {
	quote, err := EstimateShipping([]domain.CartItem{{WeightKg: weight("0.475"), Quantity: 1}}, "EUR", "DE")
	require.NoError(t, err)
	require.True(t, quote.TotalWeightKg.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, "9.95", quote.Options[0].Price.StringFixed(2))
}

func TestEstimateShippingRegionSelection(t *testing.T) {
	cases := []struct {
		currency string
		country  string
		want     domain.ShippingRegion
	}{
		{currency: "GBP", country: "GB", want: domain.ShippingRegionUK},
		{currency: "EUR", country: "GB", want: domain.ShippingRegionEU},
		{currency: "GBP", country: "FR", want: domain.ShippingRegionEU},
		{currency: "USD", country: "US", want: domain.ShippingRegionInternational},
		{currency: "GBP", country: "US", want: domain.ShippingRegionInternational},
		{currency: "EUR", country: "US", want: domain.ShippingRegionEU},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveShippingRegion(tc.currency, tc.country), "%s/%s", tc.currency, tc.country)
	}

	quote, err := EstimateShipping([]domain.CartItem{{Quantity: 2}}, "USD", "US")
	require.NoError(t, err)
	assert.Equal(t, []string{"international_standard", "international_tracked"}, optionIDs(quote))
	for _, option := range quote.Options {
		assert.False(t, option.IsCollection)
	}
}

func TestEstimateShippingPackagingSteps(t *testing.T) {
	cases := []struct {
		items int
		want  string
	}{
		{items: 6, want: "0.025"},
		{items: 7, want: "0.05"},
		{items: 12, want: "0.05"},
		{items: 24, want: "0.1"},
		{items: 25, want: "0.15"},
	}
	for _, tc := range cases {
		quote, err := EstimateShipping([]domain.CartItem{{WeightKg: weight("0.01"), Quantity: tc.items}}, "GBP", "GB")
		require.NoError(t, err)
		assert.Equal(t, tc.items, quote.TotalItems)
		assert.True(t, quote.PackagingWeightKg.Equal(decimal.RequireFromString(tc.want)), "items %d: got %s", tc.items, quote.PackagingWeightKg)
	}
}

func TestEstimateShippingDefaultsMissingWeight(t *testing.T) {
	quote, err := EstimateShipping([]domain.CartItem{
		{SKU: "balm", Quantity: 3},
		{SKU: "comb", WeightKg: weight("0"), Quantity: 1},
	}, "GBP", "GB")
	require.NoError(t, err)
	assert.True(t, quote.ProductWeightKg.Equal(decimal.RequireFromString("0.3")), "product %s", quote.ProductWeightKg)
	assert.Equal(t, 4, quote.TotalItems)
}

func TestEstimateShippingIsDeterministic(t *testing.T) {
	items := []domain.CartItem{
		{SKU: "shampoo", WeightKg: weight("0.35"), Quantity: 2},
		{SKU: "mask", WeightKg: weight("0.2"), Quantity: 1},
	}
	first, err := EstimateShipping(items, "GBP", "GB")
	require.NoError(t, err)
	second, err := EstimateShipping(items, "GBP", "GB")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	first.Options[0].Name = "mutated"
	third, err := EstimateShipping(items, "GBP", "GB")
	require.NoError(t, err)
	assert.Equal(t, "Tracked 48", third.Options[0].Name)
}

func TestEstimateShippingRejectsInvalidItems(t *testing.T) {
	_, err := EstimateShipping([]domain.CartItem{{WeightKg: weight("-0.1"), Quantity: 1}}, "GBP", "GB")
	assert.ErrorIs(t, err, ErrShippingInvalidInput)

	_, err = EstimateShipping([]domain.CartItem{{WeightKg: weight("0.1"), Quantity: 0}}, "GBP", "GB")
	assert.ErrorIs(t, err, ErrShippingInvalidInput)

	_, err = EstimateShipping([]domain.CartItem{{Quantity: math.MaxInt / 2}, {Quantity: math.MaxInt / 2}}, "GBP", "GB")
	assert.ErrorIs(t, err, ErrShippingInvalidInput)

	_, err = EstimateShipping([]domain.CartItem{{Quantity: maxItemQuantity + 1}}, "GBP", "GB")
	assert.ErrorIs(t, err, ErrShippingInvalidInput)

	quote, err := EstimateShipping([]domain.CartItem{{WeightKg: weight("0"), Quantity: maxItemQuantity}}, "GBP", "GB")
	require.NoError(t, err)
	assert.Equal(t, maxItemQuantity, quote.TotalItems)
}
