package reports

import (
	"context"

	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/utils"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type SegmentMargin struct {
	Segment       string          `json:"segment"`
	Income        decimal.Decimal `json:"income"`
	Cost          decimal.Decimal `json:"cost"`
	Plan          decimal.Decimal `json:"plan"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
}

type MarginReport struct {
	IncomeFamily string          `json:"income_family"`
	CostFamily   string          `json:"cost_family"`
	Period       models.Period   `json:"period"`
	Segments     []SegmentMargin `json:"segments"`
	TotalIncome  decimal.Decimal `json:"total_income"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	// WeightedMargin averages segment margins weighted by income plan.
	WeightedMargin decimal.Decimal `json:"weighted_margin"`
	// OverallMargin is the margin of the totals.
	OverallMargin decimal.Decimal `json:"overall_margin"`
}

// Margin compares year-to-date income and cost per segment at period.
func (l *Ledger) Margin(ctx context.Context, incomeKey string, costKey string, period models.Period) (*MarginReport, error) {
	income, err := l.activityFamily(incomeKey, "income")
	if err != nil {
		return nil, err
	}
	cost, err := l.activityFamily(costKey, "cost")
	if err != nil {
		return nil, err
	}

	var incomeYTD, costYTD map[models.DimensionKey]decimal.Decimal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		incomeYTD, err = l.cumulativeByKey(gctx, income, period)
		return err
	})
	g.Go(func() (err error) {
		costYTD, err = l.cumulativeByKey(gctx, cost, period)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var order []string
	bySegment := map[string]*SegmentMargin{}
	segment := func(name string) *SegmentMargin {
		s, ok := bySegment[name]
		if !ok {
			s = &SegmentMargin{Segment: name}
			bySegment[name] = s
			order = append(order, name)
		}
		return s
	}
	for _, d := range income.Dimensions {
		s := segment(d.Segment)
		s.Plan = s.Plan.Add(d.Plan)
	}
	for k, v := range incomeYTD {
		s := segment(k.Segment)
		s.Income = s.Income.Add(v)
	}
	for _, d := range cost.Dimensions {
		segment(d.Segment)
	}
	for k, v := range costYTD {
		s := segment(k.Segment)
		s.Cost = s.Cost.Add(v)
	}

	report := &MarginReport{IncomeFamily: income.Key, CostFamily: cost.Key, Period: period}
	rates := make([]WeightedRate, 0, len(order))
	for _, name := range order {
		s := bySegment[name]
		s.MarginPercent = Ratio(s.Income.Sub(s.Cost), s.Income)
		rates = append(rates, WeightedRate{Rate: s.MarginPercent, Plan: s.Plan})
		report.TotalIncome = report.TotalIncome.Add(s.Income)
		report.TotalCost = report.TotalCost.Add(s.Cost)
		report.Segments = append(report.Segments, SegmentMargin{
			Segment:       s.Segment,
			Income:        utils.RoundDisplay(s.Income),
			Cost:          utils.RoundDisplay(s.Cost),
			Plan:          utils.RoundDisplay(s.Plan),
			MarginPercent: utils.RoundDisplay(s.MarginPercent),
		})
	}
	report.WeightedMargin = utils.RoundDisplay(WeightedAverage(rates))
	report.OverallMargin = utils.RoundDisplay(Ratio(report.TotalIncome.Sub(report.TotalCost), report.TotalIncome))
	report.TotalIncome = utils.RoundDisplay(report.TotalIncome)
	report.TotalCost = utils.RoundDisplay(report.TotalCost)
	return report, nil
}

func (l *Ledger) activityFamily(key string, role string) (*models.StatementFamily, error) {
	if key == "" {
		return nil, utils.NewValidationError(role, "is required")
	}
	f, err := l.families.Lookup(key)
	if err != nil {
		return nil, err
	}
	if f.Kind != models.FamilyKindActivity {
		return nil, utils.NewValidationError(role, "%s is a %s family, expected activity", f.Key, f.Kind)
	}
	return f, nil
}
