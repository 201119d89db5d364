package reports

import (
	"context"

	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/utils"
	"github.com/shopspring/decimal"
)

type OpeningBalanceLine struct {
	Segment        string          `json:"segment"`
	Customer       string          `json:"customer"`
	Field          string          `json:"field"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type OpeningBalances struct {
	Family         string               `json:"family"`
	Period         models.Period        `json:"period"`
	PreviousPeriod models.Period        `json:"previous_period"`
	Lines          []OpeningBalanceLine `json:"lines"`
	// MissingLines had no closing balance in the previous period. They are
	// left for manual entry, never filled with zero.
	MissingLines []models.DimensionKey `json:"missing_lines,omitempty"`
}

// OpeningBalances relabels the previous period's closing balances as
// period's opening balances. When the previous period holds nothing the
// result is a NotFoundError naming that period.
func (l *Ledger) OpeningBalances(ctx context.Context, familyKey string, period models.Period) (*OpeningBalances, error) {
	f, err := l.families.Lookup(familyKey)
	if err != nil {
		return nil, err
	}
	if !f.Kind.CarriesForward() {
		return nil, utils.NewValidationError("family", "%s does not carry balances forward", f.Key)
	}
	prev := period.Previous()
	facts, err := l.store.ListPeriod(ctx, f.Scope(), prev)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, &utils.NotFoundError{Resource: f.Key, Period: period.String(), PreviousPeriod: prev.String()}
	}

	closing := make(map[models.DimensionKey]decimal.Decimal, len(facts))
	for _, fact := range facts {
		if fact.ClosingBalance != nil {
			closing[fact.Key()] = *fact.ClosingBalance
		}
	}
	out := &OpeningBalances{Family: f.Key, Period: period, PreviousPeriod: prev}
	for _, k := range f.Keys() {
		v, ok := closing[k]
		if !ok {
			out.MissingLines = append(out.MissingLines, k)
			continue
		}
		out.Lines = append(out.Lines, OpeningBalanceLine{
			Segment:        k.Segment,
			Customer:       k.Customer,
			Field:          k.Field,
			OpeningBalance: utils.RoundDisplay(v),
		})
	}
	return out, nil
}
