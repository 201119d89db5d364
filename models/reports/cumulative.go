package reports

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/finreport_backend/config"
	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/utils"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type CumulativeLine struct {
	Segment    string          `json:"segment"`
	Customer   string          `json:"customer"`
	Field      string          `json:"field"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

// RunningBalanceLine is yearBeginningBalance + increases - decreases, months 1..P.
type RunningBalanceLine struct {
	Segment              string          `json:"segment"`
	Customer             string          `json:"customer"`
	YearBeginningBalance decimal.Decimal `json:"year_beginning_balance"`
	Increase             decimal.Decimal `json:"increase"`
	Decrease             decimal.Decimal `json:"decrease"`
	Balance              decimal.Decimal `json:"balance"`
}

type CumulativeReport struct {
	Family          string               `json:"family"`
	Period          models.Period        `json:"period"`
	Lines           []CumulativeLine     `json:"lines"`
	RunningBalances []RunningBalanceLine `json:"running_balances,omitempty"`
}

func roundRunningBalances(lines []RunningBalanceLine) {
	for i := range lines {
		rb := &lines[i]
		rb.YearBeginningBalance = utils.RoundDisplay(rb.YearBeginningBalance)
		rb.Increase = utils.RoundDisplay(rb.Increase)
		rb.Decrease = utils.RoundDisplay(rb.Decrease)
		rb.Balance = utils.RoundDisplay(rb.Balance)
	}
}

// CumulativeSum is the year-to-date value of one key at period.
//
// For a family that resets annually it sums current amounts over January..period,
// a month without a fact contributing zero. Otherwise key names a line and
// the result is that line's running balance.
func (l *Ledger) CumulativeSum(ctx context.Context, familyKey string, key models.DimensionKey, period models.Period) (decimal.Decimal, error) {
	f, err := l.families.Lookup(familyKey)
	if err != nil {
		return decimal.Zero, err
	}
	if f.Kind == models.FamilyKindRate {
		return decimal.Zero, rateNotCumulative(f)
	}
	mode := f.AggregateMode()
	if mode == models.AggregateModeRunningBalance {
		key = key.Line()
		if _, ok := f.Dimension(key); !ok {
			return decimal.Zero, utils.NewValidationError("dimension", "%s is not a line of %s", key.String(), f.Key)
		}
	} else if err := key.ValidateComplete(); err != nil {
		return decimal.Zero, err
	} else if !f.Contains(key) {
		return decimal.Zero, utils.NewValidationError("dimension", "%s is not a line of %s", key.String(), f.Key)
	}

	if v, ok, err := l.cache.Get(ctx, f.Key, key, period, mode); err == nil && ok {
		return v, nil
	}
	gen := l.writeGeneration(f.Key)

	started := time.Now()
	ctx, span := startSpan(ctx, "reports.CumulativeSum", f.Key, period.String())
	defer span.End()
	defer logSlowReport(ctx, "cumulative_sum", started, map[string]any{"family": f.Key, "key": key.String(), "period": period.String()})

	months := period.MonthsFromYearStart()
	var value decimal.Decimal
	if mode == models.AggregateModeRunningBalance {
		d, _ := f.Dimension(key)
		inc, err := l.sumMonths(ctx, f.Scope(), key.WithField(f.RunningBalance.IncreaseField), months)
		if err != nil {
			return decimal.Zero, err
		}
		dec, err := l.sumMonths(ctx, f.Scope(), key.WithField(f.RunningBalance.DecreaseField), months)
		if err != nil {
			return decimal.Zero, err
		}
		value = d.YearBeginningBalance.Add(inc).Sub(dec)
	} else {
		value, err = l.sumMonths(ctx, f.Scope(), key, months)
		if err != nil {
			return decimal.Zero, err
		}
	}

	l.memoize(ctx, f, period, gen, []memo{{key: key, mode: mode, value: value}})
	return value, nil
}

type memo struct {
	key   models.DimensionKey
	mode  models.AggregateMode
	value decimal.Decimal
}

// memoize stores sums computed at write generation gen. A write that commits
// while the entries are being stored moves the generation, and the second
// check drops what was just stored.
func (l *Ledger) memoize(ctx context.Context, f *models.StatementFamily, period models.Period, gen uint64, entries []memo) {
	if l.writeGeneration(f.Key) != gen {
		return
	}
	keys := make([]models.DimensionKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.key)
		if err := l.cache.Set(ctx, f.Key, e.key, period, e.mode, e.value); err != nil {
			config.LogError(config.GetLogger(), "cumulative.go", "memoize", "set aggregate cache", f.Key+" "+period.String(), err)
			break
		}
	}
	if l.writeGeneration(f.Key) == gen {
		return
	}
	if err := l.cache.InvalidateFrom(ctx, f.Key, keys, period); err != nil {
		config.LogError(config.GetLogger(), "cumulative.go", "memoize", "drop sums stored across a write", f.Key+" "+period.String(), err)
	}
}

func rateNotCumulative(f *models.StatementFamily) error {
	return utils.NewValidationError("family", "%s holds rates, which do not accumulate", f.Key)
}

// sumMonths looks every month up concurrently. Only a clean not-found
// counts as zero; anything else, the fan-out deadline included, fails the sum.
func (l *Ledger) sumMonths(ctx context.Context, scope models.Scope, key models.DimensionKey, months []models.Period) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	amounts := make([]decimal.Decimal, len(months))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range months {
		g.Go(func() error {
			fact, err := l.store.Get(gctx, scope, key, m)
			var nf *utils.NotFoundError
			switch {
			case errors.As(err, &nf):
				amounts[i] = decimal.Zero
				return nil
			case err != nil:
				return &utils.AmbiguousAggregationError{Key: key.String(), Period: m.String(), Err: err}
			}
			amounts[i] = fact.CurrentAmount
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum, nil
}

type monthFacts map[models.Period]map[models.DimensionKey]*models.PeriodFact

// loadMonths reads each month's rows concurrently, one lookup per month.
func (l *Ledger) loadMonths(ctx context.Context, f *models.StatementFamily, months []models.Period) (monthFacts, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	results := make([][]*models.PeriodFact, len(months))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range months {
		g.Go(func() error {
			rows, err := l.store.ListPeriod(gctx, f.Scope(), m)
			if err != nil {
				return &utils.AmbiguousAggregationError{Key: f.Key, Period: m.String(), Err: err}
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(monthFacts, len(months))
	for i, m := range months {
		byKey := make(map[models.DimensionKey]*models.PeriodFact, len(results[i]))
		for _, fact := range results[i] {
			byKey[fact.Key()] = fact
		}
		out[m] = byKey
	}
	return out, nil
}

// yearToDate folds months January..period into per-key sums.
func yearToDate(f *models.StatementFamily, facts monthFacts, period models.Period) map[models.DimensionKey]decimal.Decimal {
	sums := make(map[models.DimensionKey]decimal.Decimal, len(f.Dimensions)*len(f.Fields))
	for _, k := range f.Keys() {
		sum := decimal.Zero
		for _, m := range period.MonthsFromYearStart() {
			if fact, ok := facts[m][k]; ok {
				sum = sum.Add(fact.CurrentAmount)
			}
		}
		sums[k] = sum
	}
	return sums
}

func runningBalances(f *models.StatementFamily, ytd map[models.DimensionKey]decimal.Decimal) []RunningBalanceLine {
	if f.RunningBalance == nil {
		return nil
	}
	out := make([]RunningBalanceLine, 0, len(f.Dimensions))
	for _, d := range f.Dimensions {
		inc := ytd[d.Line().WithField(f.RunningBalance.IncreaseField)]
		dec := ytd[d.Line().WithField(f.RunningBalance.DecreaseField)]
		out = append(out, RunningBalanceLine{
			Segment:              d.Segment,
			Customer:             d.Customer,
			YearBeginningBalance: d.YearBeginningBalance,
			Increase:             inc,
			Decrease:             dec,
			Balance:              d.YearBeginningBalance.Add(inc).Sub(dec),
		})
	}
	return out
}

// Cumulative reports every key of the family at period, rounded for display.
func (l *Ledger) Cumulative(ctx context.Context, familyKey string, period models.Period) (*CumulativeReport, error) {
	f, err := l.families.Lookup(familyKey)
	if err != nil {
		return nil, err
	}
	if f.Kind == models.FamilyKindRate {
		return nil, rateNotCumulative(f)
	}
	ytd, err := l.cumulativeByKey(ctx, f, period)
	if err != nil {
		return nil, err
	}
	report := &CumulativeReport{Family: f.Key, Period: period}
	for _, k := range f.Keys() {
		report.Lines = append(report.Lines, CumulativeLine{Segment: k.Segment, Customer: k.Customer, Field: k.Field, Cumulative: utils.RoundDisplay(ytd[k])})
	}
	report.RunningBalances = runningBalances(f, ytd)
	roundRunningBalances(report.RunningBalances)
	return report, nil
}

// cumulativeByKey serves every key from the cache or, on any miss, from a
// single fan-out over the months.
func (l *Ledger) cumulativeByKey(ctx context.Context, f *models.StatementFamily, period models.Period) (map[models.DimensionKey]decimal.Decimal, error) {
	keys := f.Keys()
	ytd := make(map[models.DimensionKey]decimal.Decimal, len(keys))
	for _, k := range keys {
		v, ok, err := l.cache.Get(ctx, f.Key, k, period, models.AggregateModeYearToDate)
		if err != nil || !ok {
			ytd = nil
			break
		}
		ytd[k] = v
	}
	if ytd != nil {
		return ytd, nil
	}

	gen := l.writeGeneration(f.Key)
	started := time.Now()
	ctx, span := startSpan(ctx, "reports.Cumulative", f.Key, period.String())
	defer span.End()
	defer logSlowReport(ctx, "cumulative", started, map[string]any{"family": f.Key, "period": period.String()})

	facts, err := l.loadMonths(ctx, f, period.MonthsFromYearStart())
	if err != nil {
		return nil, err
	}
	ytd = yearToDate(f, facts, period)
	entries := make([]memo, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, memo{key: k, mode: models.AggregateModeYearToDate, value: ytd[k]})
	}
	l.memoize(ctx, f, period, gen, entries)
	return ytd, nil
}
