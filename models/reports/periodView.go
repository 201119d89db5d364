package reports

import (
	"context"
	"time"

	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/utils"
	"github.com/shopspring/decimal"
)

type LineView struct {
	Segment           string           `json:"segment"`
	Customer          string           `json:"customer"`
	Field             string           `json:"field"`
	CurrentAmount     decimal.Decimal  `json:"current_amount"`
	OpeningBalance    *decimal.Decimal `json:"opening_balance,omitempty"`
	ClosingBalance    *decimal.Decimal `json:"closing_balance,omitempty"`
	Cumulative        *decimal.Decimal `json:"cumulative,omitempty"`
	Plan              decimal.Decimal  `json:"plan"`
	CompletionPercent *decimal.Decimal `json:"completion_percent,omitempty"`
	Deviation         *decimal.Decimal `json:"deviation,omitempty"`
}

type FieldTotal struct {
	Field             string           `json:"field"`
	CurrentAmount     decimal.Decimal  `json:"current_amount"`
	Cumulative        *decimal.Decimal `json:"cumulative,omitempty"`
	ClosingBalance    *decimal.Decimal `json:"closing_balance,omitempty"`
	Plan              decimal.Decimal  `json:"plan"`
	CompletionPercent *decimal.Decimal `json:"completion_percent,omitempty"`
}

// PeriodView is what the form shows for one stored period: the facts plus
// the derived columns.
type PeriodView struct {
	Family          string               `json:"family"`
	Name            string               `json:"name"`
	Entity          string               `json:"entity"`
	Kind            models.FamilyKind    `json:"kind"`
	Period          models.Period        `json:"period"`
	UpdatedAt       time.Time            `json:"updated_at"`
	Lines           []LineView           `json:"lines"`
	Totals          []FieldTotal         `json:"totals"`
	WeightedRate    *decimal.Decimal     `json:"weighted_rate,omitempty"`
	RunningBalances []RunningBalanceLine `json:"running_balances,omitempty"`
}

func decimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

func (l *Ledger) PeriodView(ctx context.Context, familyKey string, period models.Period) (*PeriodView, error) {
	f, err := l.families.Lookup(familyKey)
	if err != nil {
		return nil, err
	}
	facts, err := l.Facts(ctx, f.Key, period)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	defer logSlowReport(ctx, "period_view", started, map[string]any{"family": f.Key, "period": period.String()})

	stored := make(map[models.DimensionKey]*models.PeriodFact, len(facts))
	view := &PeriodView{Family: f.Key, Name: f.Name, Entity: f.Entity, Kind: f.Kind, Period: period}
	for _, fact := range facts {
		stored[fact.Key()] = fact
		if fact.UpdatedAt.After(view.UpdatedAt) {
			view.UpdatedAt = fact.UpdatedAt
		}
	}

	var ytd map[models.DimensionKey]decimal.Decimal
	if f.Kind != models.FamilyKindRate {
		if ytd, err = l.cumulativeByKey(ctx, f, period); err != nil {
			return nil, err
		}
	}

	totals := make(map[string]*FieldTotal, len(f.Fields))
	for _, field := range f.Fields {
		totals[field] = &FieldTotal{Field: field}
	}
	var rates []WeightedRate
	for _, k := range f.Keys() {
		plan := f.Plan(k)
		t := totals[k.Field]
		t.Plan = t.Plan.Add(plan)
		if ytd != nil {
			t.Cumulative = decimalPtr(utils.DereferencePtr(t.Cumulative).Add(ytd[k]))
		}

		fact, ok := stored[k]
		if !ok {
			continue
		}
		line := LineView{
			Segment:        k.Segment,
			Customer:       k.Customer,
			Field:          k.Field,
			CurrentAmount:  utils.RoundDisplay(fact.CurrentAmount),
			OpeningBalance: utils.RoundDisplayPtr(fact.OpeningBalance),
			ClosingBalance: utils.RoundDisplayPtr(fact.ClosingBalance),
			Plan:           utils.RoundDisplay(plan),
		}
		t.CurrentAmount = t.CurrentAmount.Add(fact.CurrentAmount)
		if fact.ClosingBalance != nil {
			t.ClosingBalance = decimalPtr(utils.DereferencePtr(t.ClosingBalance).Add(*fact.ClosingBalance))
		}
		if ytd != nil {
			cum := ytd[k]
			line.Cumulative = decimalPtr(utils.RoundDisplay(cum))
			line.CompletionPercent = decimalPtr(utils.RoundDisplay(Ratio(cum, plan)))
			line.Deviation = decimalPtr(utils.RoundDisplay(Deviation(cum, plan)))
		}
		if f.Kind == models.FamilyKindRate {
			rates = append(rates, WeightedRate{Rate: fact.CurrentAmount, Plan: plan})
		}
		view.Lines = append(view.Lines, line)
	}

	for _, field := range f.Fields {
		t := totals[field]
		if t.Cumulative != nil {
			t.CompletionPercent = decimalPtr(utils.RoundDisplay(Ratio(*t.Cumulative, t.Plan)))
			t.Cumulative = utils.RoundDisplayPtr(t.Cumulative)
		}
		t.CurrentAmount = utils.RoundDisplay(t.CurrentAmount)
		t.ClosingBalance = utils.RoundDisplayPtr(t.ClosingBalance)
		t.Plan = utils.RoundDisplay(t.Plan)
		view.Totals = append(view.Totals, *t)
	}
	if f.Kind == models.FamilyKindRate {
		view.WeightedRate = decimalPtr(utils.RoundDisplay(WeightedAverage(rates)))
	}
	if ytd != nil {
		view.RunningBalances = runningBalances(f, ytd)
		roundRunningBalances(view.RunningBalances)
	}
	return view, nil
}
