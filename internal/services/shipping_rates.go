package services

import (
	"github.com/shopspring/decimal"

	domain "github.com/lumiere-salon/api/internal/domain"
)

// shippingPriceCurrency is the currency every rate card is priced in.
const shippingPriceCurrency = "gbp"

type shippingTier struct {
	// maxWeightKg is the inclusive upper bound of the tier; unbounded tiers catch everything heavier.
	maxWeightKg decimal.Decimal
	unbounded   bool
	options     []domain.ShippingOption
}

type shippingRateCard struct {
	region domain.ShippingRegion
	tiers  []shippingTier
}

// tierFor returns the first tier whose upper bound covers weight. Tiers are ordered by ascending weight.
func (c shippingRateCard) tierFor(weight decimal.Decimal) shippingTier {
	for _, tier := range c.tiers {
		if tier.unbounded || weight.LessThanOrEqual(tier.maxWeightKg) {
			return tier
		}
	}
	return c.tiers[len(c.tiers)-1]
}

func price(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func collectInPerson() domain.ShippingOption {
	return domain.ShippingOption{
		ID:            "collect_in_person",
		Name:          "Collect in Person",
		Price:         decimal.Zero,
		EstimatedDays: "Next working day",
		Description:   "Collect your order from the salon during opening hours.",
		IsCollection:  true,
	}
}

func customQuote(value string) domain.ShippingOption {
	return domain.ShippingOption{
		ID:            "custom_quote",
		Name:          "Custom Quote",
		Price:         price(value),
		EstimatedDays: "Confirmed on dispatch",
		Description:   "Heavy parcel. The salon will confirm the final delivery price before dispatch.",
	}
}

func euStandard(value string) domain.ShippingOption {
	return domain.ShippingOption{
		ID:            "international_standard",
		Name:          "International Standard",
		Price:         price(value),
		EstimatedDays: "5-7 working days",
		Description:   "Tracked international delivery to EU addresses.",
	}
}

func euTier(maxWeightKg, value string) shippingTier {
	return shippingTier{
		maxWeightKg: price(maxWeightKg),
		options:     []domain.ShippingOption{euStandard(value), collectInPerson()},
	}
}

var rateCards = map[domain.ShippingRegion]shippingRateCard{
	domain.ShippingRegionUK:            ukRateCard,
	domain.ShippingRegionEU:            euRateCard,
	domain.ShippingRegionInternational: internationalRateCard,
}

var ukRateCard = shippingRateCard{
	region: domain.ShippingRegionUK,
	tiers: []shippingTier{
		{
			maxWeightKg: price("2"),
			options: []domain.ShippingOption{
				{
					ID:            "tracked_48",
					Name:          "Tracked 48",
					Price:         price("3.55"),
					EstimatedDays: "2-3 working days",
					Description:   "Royal Mail Tracked 48.",
				},
				{
					ID:            "tracked_24",
					Name:          "Tracked 24",
					Price:         price("4.45"),
					EstimatedDays: "1-2 working days",
					Description:   "Royal Mail Tracked 24.",
				},
				{
					ID:            "tracked_24_signature",
					Name:          "Tracked 24 + Signature",
					Price:         price("5.95"),
					EstimatedDays: "1-2 working days",
					Description:   "Royal Mail Tracked 24 with signature on delivery.",
				},
				collectInPerson(),
			},
		},
		{
			maxWeightKg: price("10"),
			options: []domain.ShippingOption{
				{
					ID:            "tracked_48_signature",
					Name:          "Tracked 48 + Signature",
					Price:         price("8.55"),
					EstimatedDays: "2-3 working days",
					Description:   "Royal Mail Tracked 48 with signature on delivery.",
				},
				collectInPerson(),
			},
		},
		{
			unbounded: true,
			options:   []domain.ShippingOption{customQuote("15.99"), collectInPerson()},
		},
	},
}

var euRateCard = shippingRateCard{
	region: domain.ShippingRegionEU,
	tiers: []shippingTier{
		euTier("0.1", "6.30"),
		euTier("0.25", "8.50"),
		euTier("0.5", "9.95"),
		euTier("0.75", "11.25"),
		euTier("1.0", "12.20"),
		euTier("1.25", "12.90"),
		euTier("1.5", "14.60"),
		euTier("1.75", "16.30"),
		euTier("2.0", "18.00"),
		{
			unbounded: true,
			options:   []domain.ShippingOption{customQuote("25.00"), collectInPerson()},
		},
	},
}

var internationalRateCard = shippingRateCard{
	region: domain.ShippingRegionInternational,
	tiers: []shippingTier{
		{
			unbounded: true,
			options: []domain.ShippingOption{
				{
					ID:            "international_standard",
					Name:          "International Standard",
					Price:         price("14.95"),
					EstimatedDays: "7-14 working days",
					Description:   "Untracked international delivery.",
				},
				{
					ID:            "international_tracked",
					Name:          "International Tracked",
					Price:         price("24.95"),
					EstimatedDays: "5-10 working days",
					Description:   "Tracked international delivery with signature.",
				},
			},
		},
	},
}

// packagingTier maps an item count to the packaging allowance added to product weight.
type packagingTier struct {
	maxItems  int
	unbounded bool
	weightKg  decimal.Decimal
}

var packagingTiers = []packagingTier{
	{maxItems: 6, weightKg: price("0.025")},
	{maxItems: 12, weightKg: price("0.05")},
	{maxItems: 24, weightKg: price("0.1")},
	{unbounded: true, weightKg: price("0.15")},
}

func packagingWeightFor(totalItems int) decimal.Decimal {
	for _, tier := range packagingTiers {
		if tier.unbounded || totalItems <= tier.maxItems {
			return tier.weightKg
		}
	}
	return packagingTiers[len(packagingTiers)-1].weightKg
}
