package aggregator

import (
	"time"

	"github.com/shopspring/decimal"
)

// ratioPlaces is the rounding scale of every derived ratio.
const ratioPlaces = 4

// Totals are the additive per-day sums for one campaign.
type Totals struct {
	Impressions int64
	Clicks      int64
	Conversions int64
	Cost        decimal.Decimal
	Revenue     decimal.Decimal
}

// Add merges other into t.
func (t *Totals) Add(other Totals) {
	t.Impressions += other.Impressions
	t.Clicks += other.Clicks
	t.Conversions += other.Conversions
	t.Cost = t.Cost.Add(other.Cost)
	t.Revenue = t.Revenue.Add(other.Revenue)
}

// Derived holds the ratio metrics computed from Totals.
type Derived struct {
	ROAS decimal.Decimal
	CTR  decimal.Decimal
	CPC  decimal.Decimal
	CPA  decimal.Decimal
}

// Derive computes the ratio metrics. A ratio whose denominator is zero is
// zero, never an error.
func Derive(t Totals) Derived {
	return Derived{
		ROAS: Ratio(t.Revenue, t.Cost),
		CTR:  Ratio(decimal.NewFromInt(t.Clicks), decimal.NewFromInt(t.Impressions)),
		CPC:  Ratio(t.Cost, decimal.NewFromInt(t.Clicks)),
		CPA:  Ratio(t.Cost, decimal.NewFromInt(t.Conversions)),
	}
}

// Ratio divides num by den rounded half-up to four places, or returns zero
// when den is zero.
func Ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.DivRound(den, ratioPlaces)
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
