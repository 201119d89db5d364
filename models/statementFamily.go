package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mmdatafocus/finreport_backend/config"
	"github.com/mmdatafocus/finreport_backend/utils"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Dimension is one fixed line of a family: segment × customer, with its
// yearly plan and, for running balances, the balance brought into the year.
type Dimension struct {
	Segment              string          `json:"segment"`
	Customer             string          `json:"customer"`
	Plan                 decimal.Decimal `json:"plan"`
	YearBeginningBalance decimal.Decimal `json:"year_beginning_balance"`
}

func (d Dimension) Line() DimensionKey {
	return DimensionKey{Segment: d.Segment, Customer: d.Customer}
}

type RunningBalanceFields struct {
	IncreaseField string `yaml:"increase_field" json:"increase_field"`
	DecreaseField string `yaml:"decrease_field" json:"decrease_field"`
}

// StatementFamily is the static declaration of one report type.
type StatementFamily struct {
	Key            string                `json:"key"`
	Name           string                `json:"name"`
	Entity         string                `json:"entity"`
	Table          string                `json:"-"`
	Kind           FamilyKind            `json:"kind"`
	ResetsAnnually bool                  `json:"resets_annually"`
	Fields         []string              `json:"fields"`
	Dimensions     []Dimension           `json:"dimensions"`
	RunningBalance *RunningBalanceFields `json:"running_balance,omitempty"`

	lines  map[DimensionKey]int
	fields map[string]struct{}
}

// Scope is the slice of a ledger table owned by this family.
func (f *StatementFamily) Scope() Scope {
	return Scope{Table: f.Table, Entity: f.Entity}
}

// Keys lists every DimensionKey of the family in declaration order.
func (f *StatementFamily) Keys() []DimensionKey {
	out := make([]DimensionKey, 0, len(f.Dimensions)*len(f.Fields))
	for _, d := range f.Dimensions {
		for _, field := range f.Fields {
			out = append(out, d.Line().WithField(field))
		}
	}
	return out
}

func (f *StatementFamily) HasField(field string) bool {
	_, ok := f.fields[field]
	return ok
}

// Dimension finds the line a key belongs to.
func (f *StatementFamily) Dimension(k DimensionKey) (Dimension, bool) {
	i, ok := f.lines[k.Line()]
	if !ok {
		return Dimension{}, false
	}
	return f.Dimensions[i], true
}

// Contains reports whether k is one of the family's fixed keys.
func (f *StatementFamily) Contains(k DimensionKey) bool {
	if _, ok := f.lines[k.Line()]; !ok {
		return false
	}
	return f.HasField(k.Field)
}

// Plan is the yearly plan of k's line, zero when unplanned or unknown.
func (f *StatementFamily) Plan(k DimensionKey) decimal.Decimal {
	d, ok := f.Dimension(k)
	if !ok {
		return decimal.Zero
	}
	return d.Plan
}

// ValidateFacts checks a submission against the fixed schema: every key
// known, no key twice.
func (f *StatementFamily) ValidateFacts(facts []PeriodFact) error {
	seen := make(map[DimensionKey]int, len(facts))
	for i, fact := range facts {
		k := fact.Key()
		if err := k.ValidateComplete(); err != nil {
			return utils.NewValidationError(fmt.Sprintf("data[%d]", i), "%s", err.Error())
		}
		if !f.Contains(k) {
			return utils.NewValidationError(fmt.Sprintf("data[%d]", i), "%s is not a line of %s", k.String(), f.Key)
		}
		if j, dup := seen[k]; dup {
			return utils.NewValidationError(fmt.Sprintf("data[%d]", i), "%s repeats data[%d]", k.String(), j)
		}
		seen[k] = i
		if f.Kind.CarriesForward() && fact.ClosingBalance == nil {
			return utils.NewValidationError(fmt.Sprintf("data[%d].closing_balance", i), "required for %s", f.Key)
		}
	}
	return nil
}

func (f *StatementFamily) validate() error {
	if f.Key == "" {
		return errors.New("statement family without key")
	}
	if f.Entity == "" || f.Table == "" {
		return fmt.Errorf("%s: entity and table are required", f.Key)
	}
	if !f.Kind.IsValid() {
		return fmt.Errorf("%s: invalid kind %q", f.Key, f.Kind)
	}
	if len(f.Fields) == 0 || len(f.Dimensions) == 0 {
		return fmt.Errorf("%s: fields and dimensions are required", f.Key)
	}
	f.fields = make(map[string]struct{}, len(f.Fields))
	for _, field := range f.Fields {
		if field == "" {
			return fmt.Errorf("%s: empty field name", f.Key)
		}
		if _, dup := f.fields[field]; dup {
			return fmt.Errorf("%s: field %s declared twice", f.Key, field)
		}
		f.fields[field] = struct{}{}
	}
	f.lines = make(map[DimensionKey]int, len(f.Dimensions))
	for i, d := range f.Dimensions {
		line := d.Line()
		if d.Segment == "" || d.Customer == "" {
			return fmt.Errorf("%s: dimension %d needs segment and customer", f.Key, i)
		}
		if _, dup := f.lines[line]; dup {
			return fmt.Errorf("%s: dimension %s declared twice", f.Key, line.String())
		}
		f.lines[line] = i
	}
	switch f.Kind {
	case FamilyKindRunningBalance:
		if f.ResetsAnnually {
			return fmt.Errorf("%s: running balances do not reset annually", f.Key)
		}
		rb := f.RunningBalance
		if rb == nil {
			return fmt.Errorf("%s: running_balance is required for kind %s", f.Key, f.Kind)
		}
		if !f.HasField(rb.IncreaseField) || !f.HasField(rb.DecreaseField) {
			return fmt.Errorf("%s: running_balance fields must be declared in fields", f.Key)
		}
	case FamilyKindActivity, FamilyKindRate:
		if !f.ResetsAnnually {
			return fmt.Errorf("%s: kind %s resets annually; use kind running_balance for a balance carried across years", f.Key, f.Kind)
		}
	}
	if f.RunningBalance != nil && f.Kind != FamilyKindRunningBalance {
		return fmt.Errorf("%s: running_balance only applies to kind %s", f.Key, FamilyKindRunningBalance)
	}
	return nil
}

// AggregateMode picks how year-to-date figures are derived: a yearly sum
// that restarts each January, or a running balance from the configured
// year-beginning balance.
func (f *StatementFamily) AggregateMode() AggregateMode {
	if !f.ResetsAnnually && f.RunningBalance != nil {
		return AggregateModeRunningBalance
	}
	return AggregateModeYearToDate
}

// StatementFamilies is the registry loaded once at startup. Read-only afterwards.
type StatementFamilies struct {
	byKey map[string]*StatementFamily
	order []*StatementFamily
}

type yamlDimension struct {
	Segment              string  `yaml:"segment"`
	Customer             string  `yaml:"customer"`
	Plan                 float64 `yaml:"plan"`
	YearBeginningBalance float64 `yaml:"year_beginning_balance"`
}

type yamlFamily struct {
	Key            string                `yaml:"key"`
	Name           string                `yaml:"name"`
	Entity         string                `yaml:"entity"`
	Table          string                `yaml:"table"`
	Kind           string                `yaml:"kind"`
	ResetsAnnually bool                  `yaml:"resets_annually"`
	Fields         []string              `yaml:"fields"`
	Dimensions     []yamlDimension       `yaml:"dimensions"`
	RunningBalance *RunningBalanceFields `yaml:"running_balance"`
}

// ParseStatementFamilies decodes and validates a YAML family table.
func ParseStatementFamilies(b []byte) (*StatementFamilies, error) {
	var raw []yamlFamily
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode statement families: %w", err)
	}
	reg := &StatementFamilies{byKey: make(map[string]*StatementFamily, len(raw))}
	tableOwners := map[string]string{}
	for _, rf := range raw {
		f := &StatementFamily{
			Key:            strings.TrimSpace(rf.Key),
			Name:           rf.Name,
			Entity:         strings.TrimSpace(rf.Entity),
			Table:          strings.TrimSpace(rf.Table),
			ResetsAnnually: rf.ResetsAnnually,
			Fields:         rf.Fields,
			RunningBalance: rf.RunningBalance,
		}
		if err := f.Kind.UnmarshalText([]byte(rf.Kind)); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Key, err)
		}
		for _, d := range rf.Dimensions {
			f.Dimensions = append(f.Dimensions, Dimension{
				Segment:              strings.TrimSpace(d.Segment),
				Customer:             strings.TrimSpace(d.Customer),
				Plan:                 decimal.NewFromFloat(d.Plan),
				YearBeginningBalance: decimal.NewFromFloat(d.YearBeginningBalance),
			})
		}
		if err := f.validate(); err != nil {
			return nil, err
		}
		if _, dup := reg.byKey[f.Key]; dup {
			return nil, fmt.Errorf("statement family %s declared twice", f.Key)
		}
		// Two families may share a table only under different entities.
		owner := f.Table + "|" + f.Entity
		if other, taken := tableOwners[owner]; taken {
			return nil, fmt.Errorf("%s and %s both own %s for entity %s", other, f.Key, f.Table, f.Entity)
		}
		tableOwners[owner] = f.Key
		reg.byKey[f.Key] = f
		reg.order = append(reg.order, f)
	}
	if len(reg.order) == 0 {
		return nil, errors.New("no statement families configured")
	}
	return reg, nil
}

// LoadStatementFamilies reads the configured family table.
func LoadStatementFamilies() (*StatementFamilies, error) {
	b, source, err := config.StatementFamiliesSource()
	if err != nil {
		return nil, fmt.Errorf("read statement families from %s: %w", source, err)
	}
	return ParseStatementFamilies(b)
}

// Lookup returns the family or a NotFoundError.
func (r *StatementFamilies) Lookup(key string) (*StatementFamily, error) {
	f, ok := r.byKey[key]
	if !ok {
		return nil, &utils.NotFoundError{Resource: "statement family " + key}
	}
	return f, nil
}

func (r *StatementFamilies) All() []*StatementFamily {
	return r.order
}

// Tables lists each distinct ledger table once, sorted.
func (r *StatementFamilies) Tables() []string {
	var tables []string
	for _, f := range r.order {
		tables = append(tables, f.Table)
	}
	tables = utils.UniqueSlice(tables)
	sort.Strings(tables)
	return tables
}
