package reports

import (
	"github.com/mmdatafocus/finreport_backend/utils"
	"github.com/shopspring/decimal"
)

// Ratio is numerator / denominator as a percentage at full precision.
// A zero denominator yields zero.
func Ratio(numerator, denominator decimal.Decimal) decimal.Decimal {
	if denominator.IsZero() {
		return decimal.Zero
	}
	return numerator.Mul(utils.Hundred()).Div(denominator)
}

// Deviation is actual minus plan.
func Deviation(actual, plan decimal.Decimal) decimal.Decimal {
	return actual.Sub(plan)
}

type WeightedRate struct {
	Rate decimal.Decimal
	Plan decimal.Decimal
}

// Weight is the item's plan, or 1 for an unplanned line.
func (w WeightedRate) Weight() decimal.Decimal {
	if w.Plan.GreaterThan(decimal.Zero) {
		return w.Plan
	}
	return decimal.NewFromInt(1)
}

// WeightedAverage averages rates by plan. An empty list averages to zero.
func WeightedAverage(items []WeightedRate) decimal.Decimal {
	total, weights := decimal.Zero, decimal.Zero
	for _, it := range items {
		w := it.Weight()
		total = total.Add(it.Rate.Mul(w))
		weights = weights.Add(w)
	}
	if weights.IsZero() {
		return decimal.Zero
	}
	return total.Div(weights)
}
