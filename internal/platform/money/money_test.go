package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestScale(t *testing.T) {
	cases := map[string]int32{
		"gbp":   2,
		"EUR":   2,
		"jpy":   0,
		" usd ": 2,
		"zzz":   2,
		"":      2,
	}
	for code, want := range cases {
		if got := Scale(code); got != want {
			t.Errorf("Scale(%q) = %d, want %d", code, got, want)
		}
	}
}

func TestPercentRoundsToMinorUnit(t *testing.T) {
	got := Percent(decimal.RequireFromString("33.33"), decimal.NewFromInt(50), "gbp")
	if !got.Equal(decimal.RequireFromString("16.67")) {
		t.Fatalf("expected 16.67, got %s", got)
	}

	got = Percent(decimal.NewFromInt(999), decimal.NewFromInt(50), "jpy")
	if !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected 500, got %s", got)
	}
}

func TestMinorUnitConversion(t *testing.T) {
	if got := ToMinorUnits(decimal.RequireFromString("12.50"), "gbp"); got != 1250 {
		t.Fatalf("expected 1250, got %d", got)
	}
	if got := ToMinorUnits(decimal.NewFromInt(1200), "jpy"); got != 1200 {
		t.Fatalf("expected 1200, got %d", got)
	}
	if got := FromMinorUnits(355, "gbp"); !got.Equal(decimal.RequireFromString("3.55")) {
		t.Fatalf("expected 3.55, got %s", got)
	}
}

func TestFormat(t *testing.T) {
	if got := Format(decimal.NewFromInt(100), "gbp"); got != "100.00" {
		t.Fatalf("expected 100.00, got %s", got)
	}
	if got := Format(decimal.Zero, "gbp"); got != "0.00" {
		t.Fatalf("expected 0.00, got %s", got)
	}
}

func TestIsKnownCurrency(t *testing.T) {
	if !IsKnownCurrency("gbp") {
		t.Fatal("expected gbp to be known")
	}
	if IsKnownCurrency("abc1") {
		t.Fatal("expected malformed code to be rejected")
	}
}
