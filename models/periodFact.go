package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/finreport_backend/utils"
	"github.com/shopspring/decimal"
)

// PeriodFact is the stored unit: one line of one family for one month.
// A new save for the same (entity, period, key) replaces it; there is no history.
type PeriodFact struct {
	ID       int    `gorm:"primary_key" json:"-"`
	Entity   string `gorm:"size:64;not null;uniqueIndex:idx_fact_key,priority:1;index:idx_fact_series,priority:1" json:"-"`
	Period   Period `gorm:"type:char(7);not null;uniqueIndex:idx_fact_key,priority:2;index:idx_fact_series,priority:5" json:"period"`
	Segment  string `gorm:"size:64;not null;uniqueIndex:idx_fact_key,priority:3;index:idx_fact_series,priority:2" json:"segment"`
	Customer string `gorm:"size:64;not null;uniqueIndex:idx_fact_key,priority:4;index:idx_fact_series,priority:3" json:"customer"`
	Field    string `gorm:"size:64;not null;uniqueIndex:idx_fact_key,priority:5;index:idx_fact_series,priority:4" json:"field"`

	CurrentAmount decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"current_amount"`
	// CumulativeAmount is a cache maintained by cmd/backfill-cumulative.
	// Year-to-date figures are always recomputed from CurrentAmount.
	CumulativeAmount *decimal.Decimal `gorm:"type:decimal(20,4)" json:"cumulative_amount,omitempty"`
	OpeningBalance   *decimal.Decimal `gorm:"type:decimal(20,4)" json:"opening_balance,omitempty"`
	ClosingBalance   *decimal.Decimal `gorm:"type:decimal(20,4)" json:"closing_balance,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (f PeriodFact) Key() DimensionKey {
	return DimensionKey{Segment: f.Segment, Customer: f.Customer, Field: f.Field}
}

// Scope addresses one entity's rows inside one ledger table.
type Scope struct {
	Table  string
	Entity string
}

func (s Scope) String() string {
	return s.Table + ":" + s.Entity
}

func (s Scope) validate() error {
	if s.Table == "" || s.Entity == "" {
		return utils.NewValidationError("scope", "table and entity are required")
	}
	return nil
}

type PeriodSummary struct {
	Period    Period    `json:"period"`
	Rows      int64     `json:"rows"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerStore is durable keyed storage of PeriodFacts.
//
// Get returns a *utils.NotFoundError when the key has no fact for the period.
// UpsertAll replaces every fact of (scope, period) atomically: on any failure
// the period is left exactly as it was and a *utils.StoreTransactionError is returned.
// A store that is not reachable returns utils.ErrStoreUnavailable.
type LedgerStore interface {
	Get(ctx context.Context, scope Scope, key DimensionKey, period Period) (*PeriodFact, error)
	GetRange(ctx context.Context, scope Scope, prefix DimensionKey, from Period, to Period) ([]*PeriodFact, error)
	ListPeriod(ctx context.Context, scope Scope, period Period) ([]*PeriodFact, error)
	ListPeriods(ctx context.Context, scope Scope) ([]PeriodSummary, error)
	UpsertAll(ctx context.Context, scope Scope, period Period, facts []PeriodFact) error
	Delete(ctx context.Context, scope Scope, prefix DimensionKey, period Period) (int64, error)
}

type SavePeriodInput struct {
	Period string          `json:"period" validate:"required"`
	Data   []NewPeriodFact `json:"data" validate:"required,min=1,dive"`
}

type NewPeriodFact struct {
	Segment        string           `json:"segment" validate:"required"`
	Customer       string           `json:"customer" validate:"required"`
	Field          string           `json:"field" validate:"required"`
	CurrentAmount  decimal.Decimal  `json:"current_amount"`
	OpeningBalance *decimal.Decimal `json:"opening_balance"`
	ClosingBalance *decimal.Decimal `json:"closing_balance"`
}

// Facts converts a validated submission into rows for period.
func (in *SavePeriodInput) Facts(entity string, period Period) []PeriodFact {
	facts := make([]PeriodFact, 0, len(in.Data))
	for _, d := range in.Data {
		facts = append(facts, PeriodFact{
			Entity:         entity,
			Period:         period,
			Segment:        d.Segment,
			Customer:       d.Customer,
			Field:          d.Field,
			CurrentAmount:  d.CurrentAmount,
			OpeningBalance: d.OpeningBalance,
			ClosingBalance: d.ClosingBalance,
		})
	}
	return facts
}
