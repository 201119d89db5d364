package reports

import (
	"context"
	"time"

	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/utils"
	"github.com/shopspring/decimal"
)

type SeriesField struct {
	Field             string           `json:"field"`
	CurrentAmount     decimal.Decimal  `json:"current_amount"`
	Cumulative        *decimal.Decimal `json:"cumulative,omitempty"`
	ClosingBalance    *decimal.Decimal `json:"closing_balance,omitempty"`
	CompletionPercent *decimal.Decimal `json:"completion_percent,omitempty"`
}

type SeriesPoint struct {
	Period         models.Period    `json:"period"`
	Stored         bool             `json:"stored"`
	Fields         []SeriesField    `json:"fields"`
	WeightedRate   *decimal.Decimal `json:"weighted_rate,omitempty"`
	RunningBalance *decimal.Decimal `json:"running_balance,omitempty"`
}

// Series is the twelve-point chart of one family for one calendar year.
type Series struct {
	Family string        `json:"family"`
	Year   int           `json:"year"`
	Points []SeriesPoint `json:"points"`
}

// YearSeries reads January..December in one fan-out. Months without facts
// still report their year-to-date carry; balances and rates stay empty.
func (l *Ledger) YearSeries(ctx context.Context, familyKey string, year int) (*Series, error) {
	f, err := l.families.Lookup(familyKey)
	if err != nil {
		return nil, err
	}
	months, err := models.YearPeriods(year)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	ctx, span := startSpan(ctx, "reports.YearSeries", f.Key, months[0].String())
	defer span.End()
	defer logSlowReport(ctx, "year_series", started, map[string]any{"family": f.Key, "year": year})

	facts, err := l.loadMonths(ctx, f, months)
	if err != nil {
		return nil, err
	}

	plans := make(map[string]decimal.Decimal, len(f.Fields))
	for _, k := range f.Keys() {
		plans[k.Field] = plans[k.Field].Add(f.Plan(k))
	}

	series := &Series{Family: f.Key, Year: year, Points: make([]SeriesPoint, 0, len(months))}
	for _, m := range months {
		stored := facts[m]
		point := SeriesPoint{Period: m, Stored: len(stored) > 0}

		var ytd map[models.DimensionKey]decimal.Decimal
		if f.Kind != models.FamilyKindRate {
			ytd = yearToDate(f, facts, m)
		}
		for _, field := range f.Fields {
			sf := SeriesField{Field: field}
			cum := decimal.Zero
			for _, k := range f.Keys() {
				if k.Field != field {
					continue
				}
				cum = cum.Add(ytd[k])
				fact, ok := stored[k]
				if !ok {
					continue
				}
				sf.CurrentAmount = sf.CurrentAmount.Add(fact.CurrentAmount)
				if fact.ClosingBalance != nil {
					sf.ClosingBalance = decimalPtr(utils.DereferencePtr(sf.ClosingBalance).Add(*fact.ClosingBalance))
				}
			}
			sf.CurrentAmount = utils.RoundDisplay(sf.CurrentAmount)
			sf.ClosingBalance = utils.RoundDisplayPtr(sf.ClosingBalance)
			if ytd != nil {
				sf.Cumulative = decimalPtr(utils.RoundDisplay(cum))
				sf.CompletionPercent = decimalPtr(utils.RoundDisplay(Ratio(cum, plans[field])))
			}
			point.Fields = append(point.Fields, sf)
		}

		switch f.Kind {
		case models.FamilyKindRate:
			if point.Stored {
				var rates []WeightedRate
				for _, k := range f.Keys() {
					if fact, ok := stored[k]; ok {
						rates = append(rates, WeightedRate{Rate: fact.CurrentAmount, Plan: f.Plan(k)})
					}
				}
				point.WeightedRate = decimalPtr(utils.RoundDisplay(WeightedAverage(rates)))
			}
		case models.FamilyKindRunningBalance:
			total := decimal.Zero
			for _, rb := range runningBalances(f, ytd) {
				total = total.Add(rb.Balance)
			}
			point.RunningBalance = decimalPtr(utils.RoundDisplay(total))
		}
		series.Points = append(series.Points, point)
	}
	return series, nil
}
