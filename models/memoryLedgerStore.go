package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/finreport_backend/utils"
)

var errDuplicateKey = errors.New("duplicate dimension key")

// MemoryLedgerStore is a process-local LedgerStore for LEDGER_BACKEND=memory
// and DB-free tests. Writes swap a whole period at once, so readers see the
// period either before or after an upsert.
type MemoryLedgerStore struct {
	mu     sync.RWMutex
	data   map[Scope]map[Period]map[DimensionKey]PeriodFact
	nextID int
	now    func() time.Time
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		data: make(map[Scope]map[Period]map[DimensionKey]PeriodFact),
		now:  time.Now,
	}
}

func (s *MemoryLedgerStore) Get(ctx context.Context, scope Scope, key DimensionKey, period Period) (*PeriodFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if err := key.ValidateComplete(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fact, ok := s.data[scope][period][key]
	if !ok {
		return nil, &utils.NotFoundError{Resource: key.String(), Period: period.String()}
	}
	return &fact, nil
}

func (s *MemoryLedgerStore) GetRange(ctx context.Context, scope Scope, prefix DimensionKey, from Period, to Period) ([]*PeriodFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := scope.validate(); err != nil {
		return nil, err
	}
	if err := prefix.ValidatePrefix(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PeriodFact
	for period, rows := range s.data[scope] {
		if period.Before(from) || period.After(to) {
			continue
		}
		for k, fact := range rows {
			if prefix.Matches(k) {
				f := fact
				out = append(out, &f)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Period.Compare(out[j].Period); c != 0 {
			return c < 0
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	return out, nil
}

func (s *MemoryLedgerStore) ListPeriod(ctx context.Context, scope Scope, period Period) ([]*PeriodFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := scope.validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.data[scope][period]
	out := make([]*PeriodFact, 0, len(rows))
	for _, fact := range rows {
		f := fact
		out = append(out, &f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryLedgerStore) ListPeriods(ctx context.Context, scope Scope) ([]PeriodSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := scope.validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeriodSummary, 0, len(s.data[scope]))
	for period, rows := range s.data[scope] {
		if len(rows) == 0 {
			continue
		}
		sum := PeriodSummary{Period: period, Rows: int64(len(rows))}
		for _, f := range rows {
			if f.UpdatedAt.After(sum.UpdatedAt) {
				sum.UpdatedAt = f.UpdatedAt
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.After(out[j].Period) })
	return out, nil
}

func (s *MemoryLedgerStore) UpsertAll(ctx context.Context, scope Scope, period Period, facts []PeriodFact) error {
	if err := scope.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &utils.StoreTransactionError{Op: fmt.Sprintf("upsert %s %s", scope, period), Retryable: true, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := make(map[DimensionKey]PeriodFact, len(facts))
	id := s.nextID
	for i, f := range facts {
		k := f.Key()
		if _, dup := next[k]; dup {
			// Mirrors the unique index: nothing staged so far is kept.
			return &utils.StoreTransactionError{
				Op:  fmt.Sprintf("upsert %s %s", scope, period),
				Err: fmt.Errorf("row %d: %w %s", i+1, errDuplicateKey, k.String()),
			}
		}
		id++
		f.ID = id
		f.Entity = scope.Entity
		f.Period = period
		f.CreatedAt = now
		f.UpdatedAt = now
		next[k] = f
	}
	s.nextID = id
	if s.data[scope] == nil {
		s.data[scope] = make(map[Period]map[DimensionKey]PeriodFact)
	}
	if len(next) == 0 {
		delete(s.data[scope], period)
		return nil
	}
	s.data[scope][period] = next
	return nil
}

func (s *MemoryLedgerStore) Delete(ctx context.Context, scope Scope, prefix DimensionKey, period Period) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := scope.validate(); err != nil {
		return 0, err
	}
	if err := prefix.ValidatePrefix(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.data[scope][period]
	var n int64
	for k := range rows {
		if prefix.Matches(k) {
			delete(rows, k)
			n++
		}
	}
	if len(rows) == 0 && s.data[scope] != nil {
		delete(s.data[scope], period)
	}
	return n, nil
}

// RewriteCumulative updates the cumulative cache column of existing rows.
func (s *MemoryLedgerStore) RewriteCumulative(ctx context.Context, scope Scope, facts []PeriodFact) error {
	if err := scope.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &utils.StoreTransactionError{Op: "rewrite cumulative " + scope.String(), Retryable: true, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range facts {
		if _, ok := s.data[scope][f.Period][f.Key()]; !ok {
			return &utils.StoreTransactionError{
				Op:  "rewrite cumulative " + scope.String(),
				Err: &utils.NotFoundError{Resource: f.Key().String(), Period: f.Period.String()},
			}
		}
	}
	for _, f := range facts {
		row := s.data[scope][f.Period][f.Key()]
		row.CumulativeAmount = f.CumulativeAmount
		row.UpdatedAt = s.now()
		s.data[scope][f.Period][f.Key()] = row
	}
	return nil
}
