package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDeriveROAS(t *testing.T) {
	d := Derive(Totals{Revenue: dec("250"), Cost: dec("100")})
	if !d.ROAS.Equal(dec("2.5")) {
		t.Fatalf("expected ROAS 2.5, got %s", d.ROAS)
	}
}

func TestDeriveZeroDenominators(t *testing.T) {
	d := Derive(Totals{Revenue: dec("250")})
	for name, v := range map[string]decimal.Decimal{"roas": d.ROAS, "ctr": d.CTR, "cpc": d.CPC, "cpa": d.CPA} {
		if !v.IsZero() {
			t.Fatalf("%s expected 0 with zero denominator, got %s", name, v)
		}
	}
}

func TestDeriveRatios(t *testing.T) {
	d := Derive(Totals{Impressions: 1000, Clicks: 50, Conversions: 4, Cost: dec("100"), Revenue: dec("300")})
	tests := map[string]struct{ got, want decimal.Decimal }{
		"roas": {d.ROAS, dec("3")},
		"ctr":  {d.CTR, dec("0.05")},
		"cpc":  {d.CPC, dec("2")},
		"cpa":  {d.CPA, dec("25")},
	}
	for name, tt := range tests {
		if !tt.got.Equal(tt.want) {
			t.Fatalf("%s expected %s got %s", name, tt.want, tt.got)
		}
	}
}

func TestRatioRoundsHalfUpToFourPlaces(t *testing.T) {
	if got := Ratio(dec("1"), dec("3")); !got.Equal(dec("0.3333")) {
		t.Fatalf("expected 0.3333, got %s", got)
	}
	if got := Ratio(dec("2"), dec("3")); !got.Equal(dec("0.6667")) {
		t.Fatalf("expected 0.6667, got %s", got)
	}
	if got := Ratio(dec("1"), dec("20000")); !got.Equal(dec("0.0001")) {
		t.Fatalf("expected half-up 0.0001, got %s", got)
	}
}

func TestTotalsAddIsOrderIndependent(t *testing.T) {
	parts := []Totals{
		{Clicks: 1, Cost: dec("0.10")},
		{Clicks: 2, Cost: dec("0.20")},
		{Clicks: 3, Cost: dec("0.30")},
	}
	var forward, backward Totals
	for i := range parts {
		forward.Add(parts[i])
		backward.Add(parts[len(parts)-1-i])
	}
	if !forward.Cost.Equal(backward.Cost) || !forward.Cost.Equal(dec("0.6")) {
		t.Fatalf("expected exact 0.6 both ways, got %s and %s", forward.Cost, backward.Cost)
	}
}

func TestDayTruncatesToUTC(t *testing.T) {
	loc := time.FixedZone("x", -5*3600)
	got := Day(time.Date(2026, 3, 1, 22, 30, 0, 0, loc))
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
}
