package reports

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/utils"
)

// CumulativeRewriter is a store that keeps the cumulative_amount cache column.
type CumulativeRewriter interface {
	RewriteCumulative(ctx context.Context, scope models.Scope, facts []models.PeriodFact) error
}

type BackfillResult struct {
	Family string `json:"family"`
	Year   int    `json:"year"`
	Rows   int    `json:"rows"`
}

// BackfillCumulative recomputes the stored cumulative column of every fact
// the family holds in year from current amounts, in one transaction.
func (l *Ledger) BackfillCumulative(ctx context.Context, familyKey string, year int) (*BackfillResult, error) {
	f, err := l.families.Lookup(familyKey)
	if err != nil {
		return nil, err
	}
	rewriter, ok := l.store.(CumulativeRewriter)
	if !ok {
		return nil, fmt.Errorf("%T does not keep a cumulative column", l.store)
	}
	if f.Kind == models.FamilyKindRate {
		return &BackfillResult{Family: f.Key, Year: year}, nil
	}
	months, err := models.YearPeriods(year)
	if err != nil {
		return nil, err
	}
	facts, err := l.loadMonths(ctx, f, months)
	if err != nil {
		return nil, err
	}

	var rows []models.PeriodFact
	for _, m := range months {
		if len(facts[m]) == 0 {
			continue
		}
		ytd := yearToDate(f, facts, m)
		for k, fact := range facts[m] {
			row := *fact
			v, known := ytd[k]
			if !known {
				return nil, utils.NewValidationError("dimension", "%s at %s is not a line of %s", k.String(), m, f.Key)
			}
			row.CumulativeAmount = &v
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return &BackfillResult{Family: f.Key, Year: year}, nil
	}
	if err := rewriter.RewriteCumulative(ctx, f.Scope(), rows); err != nil {
		return nil, err
	}
	return &BackfillResult{Family: f.Key, Year: year, Rows: len(rows)}, nil
}
