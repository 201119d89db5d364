package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/finreport_backend/config"
	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/utils"
	"github.com/shopspring/decimal"
)

const testFamilies = `
- key: acme_balance
  name: Balance sheet
  entity: acme
  table: balance_facts
  kind: balance
  fields: [balance]
  dimensions:
    - {segment: 流动资产, customer: 货币资金}
    - {segment: 流动资产, customer: 存货}

- key: acme_income
  name: Income
  entity: acme
  table: income_facts
  kind: activity
  resets_annually: true
  fields: [income]
  dimensions:
    - {segment: 设备, customer: 上海, plan: 1000}
    - {segment: 工程, customer: 一包, plan: 0}

- key: acme_cost
  name: Cost
  entity: acme
  table: cost_facts
  kind: activity
  resets_annually: true
  fields: [cost]
  dimensions:
    - {segment: 设备, customer: 上海}
    - {segment: 工程, customer: 一包}

- key: acme_rate
  name: Margin rate
  entity: acme
  table: rate_facts
  kind: rate
  resets_annually: true
  fields: [rate]
  dimensions:
    - {segment: 设备, customer: A, plan: 5}
    - {segment: 设备, customer: B}

- key: acme_bad_debt
  name: Bad debt provision
  entity: acme
  table: bad_debt_facts
  kind: running_balance
  fields: [new_addition, collection]
  running_balance: {increase_field: new_addition, decrease_field: collection}
  dimensions:
    - {segment: 工程, customer: 域内, year_beginning_balance: 7.48}
`

func testRegistry(t *testing.T) *models.StatementFamilies {
	t.Helper()
	reg, err := models.ParseStatementFamilies([]byte(testFamilies))
	if err != nil {
		t.Fatalf("ParseStatementFamilies: %v", err)
	}
	return reg
}

type testLedger struct {
	*Ledger
	store       *models.MemoryLedgerStore
	cache       *MemoryAggregateCache
	submissions *models.MemorySubmissionTracker
}

func newTestLedger(t *testing.T) *testLedger {
	t.Helper()
	store := models.NewMemoryLedgerStore()
	cache := NewMemoryAggregateCache()
	submissions := models.NewMemorySubmissionTracker()
	return &testLedger{
		Ledger:      NewLedger(store, cache, submissions, testRegistry(t)),
		store:       store,
		cache:       cache,
		submissions: submissions,
	}
}

func p(s string) models.Period {
	return models.MustParsePeriod(s)
}

func fact(segment, customer, field, amount string) models.PeriodFact {
	return models.PeriodFact{Segment: segment, Customer: customer, Field: field, CurrentAmount: dec(amount)}
}

func balance(customer, closing string) models.PeriodFact {
	c := dec(closing)
	return models.PeriodFact{Segment: "流动资产", Customer: customer, Field: "balance", ClosingBalance: &c}
}

func mustSave(t *testing.T, l *Ledger, family string, period string, facts ...models.PeriodFact) {
	t.Helper()
	if err := l.SavePeriod(context.Background(), family, p(period), facts); err != nil {
		t.Fatalf("SavePeriod %s %s: %v", family, period, err)
	}
}

var shanghai = models.DimensionKey{Segment: "设备", Customer: "上海", Field: "income"}

func TestOpeningBalances_CarriesPreviousClosing(t *testing.T) {
	l := newTestLedger(t)
	mustSave(t, l.Ledger, "acme_balance", "2024-03", balance("货币资金", "150000"), balance("存货", "20.5"))

	got, err := l.OpeningBalances(context.Background(), "acme_balance", p("2024-04"))
	if err != nil {
		t.Fatalf("OpeningBalances: %v", err)
	}
	if got.PreviousPeriod != p("2024-03") || len(got.Lines) != 2 || len(got.MissingLines) != 0 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got.Lines[0].Customer != "货币资金" || !got.Lines[0].OpeningBalance.Equal(dec("150000")) {
		t.Fatalf("expected 货币资金 to open at 150000, got %+v", got.Lines[0])
	}
}

func TestOpeningBalances_AcrossYearEnd(t *testing.T) {
	l := newTestLedger(t)
	mustSave(t, l.Ledger, "acme_balance", "2023-12", balance("货币资金", "88"), balance("存货", "1"))

	got, err := l.OpeningBalances(context.Background(), "acme_balance", p("2024-01"))
	if err != nil {
		t.Fatalf("OpeningBalances: %v", err)
	}
	if !got.Lines[0].OpeningBalance.Equal(dec("88")) {
		t.Fatalf("expected 88, got %s", got.Lines[0].OpeningBalance)
	}
}

func TestOpeningBalances_NoPreviousPeriod(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.OpeningBalances(context.Background(), "acme_balance", p("2024-01"))
	var nf *utils.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.PreviousPeriod != "2023-12" {
		t.Fatalf("expected previous period 2023-12, got %q", nf.PreviousPeriod)
	}
	if utils.HTTPStatus(err) != 404 {
		t.Fatalf("expected 404, got %d", utils.HTTPStatus(err))
	}
}

func TestOpeningBalances_MissingLineIsNotZeroFilled(t *testing.T) {
	l := newTestLedger(t)
	mustSave(t, l.Ledger, "acme_balance", "2024-05", balance("货币资金", "10"))

	got, err := l.OpeningBalances(context.Background(), "acme_balance", p("2024-06"))
	if err != nil {
		t.Fatalf("OpeningBalances: %v", err)
	}
	if len(got.Lines) != 1 || len(got.MissingLines) != 1 || got.MissingLines[0].Customer != "存货" {
		t.Fatalf("expected 存货 reported missing, got %+v", got)
	}
}

func TestOpeningBalances_RejectsActivityFamily(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.OpeningBalances(context.Background(), "acme_income", p("2024-06"))
	var ve *utils.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCumulativeSum_MissingMonthsCountAsZero(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustSave(t, l.Ledger, "acme_income", "2024-01", fact("设备", "上海", "income", "100"))
	mustSave(t, l.Ledger, "acme_income", "2024-03", fact("设备", "上海", "income", "50"))

	cases := []struct {
		period string
		want   string
	}{
		{"2024-01", "100"},
		{"2024-02", "100"},
		{"2024-03", "150"},
		{"2024-12", "150"},
		{"2025-01", "0"},
	}
	for _, tc := range cases {
		got, err := l.CumulativeSum(ctx, "acme_income", shanghai, p(tc.period))
		if err != nil {
			t.Fatalf("CumulativeSum %s: %v", tc.period, err)
		}
		if !got.Equal(dec(tc.want)) {
			t.Fatalf("CumulativeSum %s = %s, want %s", tc.period, got, tc.want)
		}
	}
}

func TestCumulativeSum_RejectsUnknownKey(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	for _, key := range []models.DimensionKey{
		{Segment: "设备", Customer: "北京", Field: "income"},
		{Segment: "设备", Customer: "上海"},
	} {
		if _, err := l.CumulativeSum(ctx, "acme_income", key, p("2024-03")); !errors.As(err, new(*utils.ValidationError)) {
			t.Fatalf("%s: expected ValidationError, got %v", key.String(), err)
		}
	}
}

func TestCumulativeSum_RejectsRateFamily(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustSave(t, l.Ledger, "acme_rate", "2024-01", fact("设备", "A", "rate", "10"))
	key := models.DimensionKey{Segment: "设备", Customer: "A", Field: "rate"}
	if _, err := l.CumulativeSum(ctx, "acme_rate", key, p("2024-01")); !errors.As(err, new(*utils.ValidationError)) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if l.cache.Len() != 0 {
		t.Fatalf("expected nothing memoized for a rate family")
	}
}

func TestSavePeriod_IsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	facts := []models.PeriodFact{fact("设备", "上海", "income", "120.5"), fact("工程", "一包", "income", "3")}
	mustSave(t, l.Ledger, "acme_income", "2024-02", facts...)
	first, err := l.Cumulative(ctx, "acme_income", p("2024-02"))
	if err != nil {
		t.Fatalf("Cumulative: %v", err)
	}

	mustSave(t, l.Ledger, "acme_income", "2024-02", facts...)
	second, err := l.Cumulative(ctx, "acme_income", p("2024-02"))
	if err != nil {
		t.Fatalf("Cumulative: %v", err)
	}
	rows, _ := l.store.ListPeriod(ctx, models.Scope{Table: "income_facts", Entity: "acme"}, p("2024-02"))
	if len(rows) != 2 {
		t.Fatalf("expected 2 stored rows, got %d", len(rows))
	}
	for i := range first.Lines {
		if !first.Lines[i].Cumulative.Equal(second.Lines[i].Cumulative) {
			t.Fatalf("line %d changed on resubmission: %s -> %s", i, first.Lines[i].Cumulative, second.Lines[i].Cumulative)
		}
	}

	subs, _ := l.submissions.ListForPeriod(ctx, p("2024-02"))
	if len(subs) != 1 || subs[0].SubmissionCount != 2 {
		t.Fatalf("expected one submission counted twice, got %+v", subs)
	}
}

func TestSavePeriod_RejectsUnknownLine(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	err := l.SavePeriod(ctx, "acme_income", p("2024-02"), []models.PeriodFact{
		fact("设备", "上海", "income", "1"),
		fact("设备", "北京", "income", "2"),
	})
	var ve *utils.ValidationError
	if !errors.As(err, &ve) || ve.Field != "data[1]" {
		t.Fatalf("expected ValidationError on data[1], got %v", err)
	}
	if _, err := l.Facts(ctx, "acme_income", p("2024-02")); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected nothing stored, got %v", err)
	}
	if err := l.SavePeriod(ctx, "no_such_family", p("2024-02"), nil); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected unknown family to be not found, got %v", err)
	}
}

func TestCache_MidYearCorrectionInvalidatesLaterMonths(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustSave(t, l.Ledger, "acme_income", "2024-01", fact("设备", "上海", "income", "100"))
	mustSave(t, l.Ledger, "acme_income", "2024-02", fact("设备", "上海", "income", "200"))
	mustSave(t, l.Ledger, "acme_income", "2024-03", fact("设备", "上海", "income", "300"))

	for _, period := range []string{"2024-01", "2024-03"} {
		if _, err := l.CumulativeSum(ctx, "acme_income", shanghai, p(period)); err != nil {
			t.Fatalf("CumulativeSum: %v", err)
		}
	}
	if v, ok, _ := l.cache.Get(ctx, "acme_income", shanghai, p("2024-03"), models.AggregateModeYearToDate); !ok || !v.Equal(dec("600")) {
		t.Fatalf("expected March memoized at 600, got %s %v", v, ok)
	}

	mustSave(t, l.Ledger, "acme_income", "2024-02", fact("设备", "上海", "income", "250"))

	if _, ok, _ := l.cache.Get(ctx, "acme_income", shanghai, p("2024-03"), models.AggregateModeYearToDate); ok {
		t.Fatalf("expected March dropped from the cache")
	}
	if v, ok, _ := l.cache.Get(ctx, "acme_income", shanghai, p("2024-01"), models.AggregateModeYearToDate); !ok || !v.Equal(dec("100")) {
		t.Fatalf("expected January kept at 100, got %s %v", v, ok)
	}
	got, err := l.CumulativeSum(ctx, "acme_income", shanghai, p("2024-03"))
	if err != nil || !got.Equal(dec("650")) {
		t.Fatalf("expected 650 after correction, got %s %v", got, err)
	}
}

func TestCache_DeleteInvalidates(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustSave(t, l.Ledger, "acme_income", "2024-01", fact("设备", "上海", "income", "100"))
	mustSave(t, l.Ledger, "acme_income", "2024-02", fact("设备", "上海", "income", "5"))
	if _, err := l.Cumulative(ctx, "acme_income", p("2024-02")); err != nil {
		t.Fatalf("Cumulative: %v", err)
	}

	n, err := l.DeletePeriod(ctx, "acme_income", p("2024-01"))
	if err != nil || n != 1 {
		t.Fatalf("DeletePeriod: %d %v", n, err)
	}
	got, err := l.CumulativeSum(ctx, "acme_income", shanghai, p("2024-02"))
	if err != nil || !got.Equal(dec("5")) {
		t.Fatalf("expected 5 after deleting January, got %s %v", got, err)
	}
	if _, err := l.DeletePeriod(ctx, "acme_income", p("2024-01")); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected second delete to be not found, got %v", err)
	}
}

// hookStore runs after once, after the first ListPeriod of period returns.
type hookStore struct {
	*models.MemoryLedgerStore
	period models.Period
	once   sync.Once
	after  func()
}

func (s *hookStore) ListPeriod(ctx context.Context, scope models.Scope, period models.Period) ([]*models.PeriodFact, error) {
	rows, err := s.MemoryLedgerStore.ListPeriod(ctx, scope, period)
	if period == s.period {
		s.once.Do(s.after)
	}
	return rows, err
}

func TestCache_WriteDuringComputeIsNotMemoized(t *testing.T) {
	ctx := context.Background()
	store := &hookStore{MemoryLedgerStore: models.NewMemoryLedgerStore(), period: p("2024-02")}
	cache := NewMemoryAggregateCache()
	l := NewLedger(store, cache, nil, testRegistry(t))

	mustSave(t, l, "acme_income", "2024-01", fact("设备", "上海", "income", "100"))
	mustSave(t, l, "acme_income", "2024-02", fact("设备", "上海", "income", "200"))
	store.after = func() {
		if err := l.SavePeriod(ctx, "acme_income", p("2024-02"), []models.PeriodFact{fact("设备", "上海", "income", "999")}); err != nil {
			t.Errorf("SavePeriod during compute: %v", err)
		}
	}

	if _, err := l.Cumulative(ctx, "acme_income", p("2024-02")); err != nil {
		t.Fatalf("Cumulative: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "acme_income", shanghai, p("2024-02"), models.AggregateModeYearToDate); ok {
		t.Fatalf("a sum computed across a write was memoized")
	}
	got, err := l.CumulativeSum(ctx, "acme_income", shanghai, p("2024-02"))
	if err != nil || !got.Equal(dec("1099")) {
		t.Fatalf("expected 1099, got %s %v", got, err)
	}
}

// hookCache runs before once, just ahead of the first Set.
type hookCache struct {
	*MemoryAggregateCache
	once   sync.Once
	before func()
}

func (c *hookCache) Set(ctx context.Context, family string, key models.DimensionKey, period models.Period, mode models.AggregateMode, value decimal.Decimal) error {
	c.once.Do(c.before)
	return c.MemoryAggregateCache.Set(ctx, family, key, period, mode, value)
}

func TestCache_WriteWhileStoringIsDropped(t *testing.T) {
	cases := map[string]func(l *Ledger) error{
		"single key": func(l *Ledger) error {
			_, err := l.CumulativeSum(context.Background(), "acme_income", shanghai, p("2024-02"))
			return err
		},
		"whole family": func(l *Ledger) error {
			_, err := l.Cumulative(context.Background(), "acme_income", p("2024-02"))
			return err
		},
	}
	for name, compute := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cache := &hookCache{MemoryAggregateCache: NewMemoryAggregateCache()}
			l := NewLedger(models.NewMemoryLedgerStore(), cache, nil, testRegistry(t))
			mustSave(t, l, "acme_income", "2024-01", fact("设备", "上海", "income", "100"))
			cache.before = func() {
				if err := l.SavePeriod(ctx, "acme_income", p("2024-01"), []models.PeriodFact{fact("设备", "上海", "income", "999")}); err != nil {
					t.Errorf("SavePeriod while storing: %v", err)
				}
			}

			if err := compute(l); err != nil {
				t.Fatalf("first compute: %v", err)
			}
			if _, ok, _ := cache.Get(ctx, "acme_income", shanghai, p("2024-02"), models.AggregateModeYearToDate); ok {
				t.Fatalf("a sum stored across a write was kept")
			}
			got, err := l.CumulativeSum(ctx, "acme_income", shanghai, p("2024-02"))
			if err != nil || !got.Equal(dec("999")) {
				t.Fatalf("expected 999 after the correction, got %s %v", got, err)
			}
		})
	}
}

// failingCache refuses every Set.
type failingCache struct {
	*MemoryAggregateCache
}

func (failingCache) Set(context.Context, string, models.DimensionKey, models.Period, models.AggregateMode, decimal.Decimal) error {
	return errors.New("READONLY You can't write against a read only replica")
}

func TestCumulativeSum_CacheWriteFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := config.GetLogger()
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stdout)

	l := NewLedger(models.NewMemoryLedgerStore(), failingCache{NewMemoryAggregateCache()}, nil, testRegistry(t))
	mustSave(t, l, "acme_income", "2024-01", fact("设备", "上海", "income", "100"))
	got, err := l.CumulativeSum(context.Background(), "acme_income", shanghai, p("2024-01"))
	if err != nil || !got.Equal(dec("100")) {
		t.Fatalf("expected 100 despite the cache failure, got %s %v", got, err)
	}
	if !strings.Contains(buf.String(), "set aggregate cache") || !strings.Contains(buf.String(), "READONLY") {
		t.Fatalf("expected the cache failure to be logged, got %q", buf.String())
	}
}

// slowStore blocks lookups of one month until the caller gives up.
type slowStore struct {
	*models.MemoryLedgerStore
	slow models.Period
	err  error
}

func (s *slowStore) Get(ctx context.Context, scope models.Scope, key models.DimensionKey, period models.Period) (*models.PeriodFact, error) {
	if period == s.slow {
		if s.err != nil {
			return nil, s.err
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.MemoryLedgerStore.Get(ctx, scope, key, period)
}

func (s *slowStore) ListPeriod(ctx context.Context, scope models.Scope, period models.Period) ([]*models.PeriodFact, error) {
	if period == s.slow {
		if s.err != nil {
			return nil, s.err
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.MemoryLedgerStore.ListPeriod(ctx, scope, period)
}

func TestCumulativeSum_TimeoutIsAmbiguous(t *testing.T) {
	ctx := context.Background()
	store := &slowStore{MemoryLedgerStore: models.NewMemoryLedgerStore(), slow: p("2024-02")}
	cache := NewMemoryAggregateCache()
	l := NewLedger(store, cache, nil, testRegistry(t)).WithAggregationTimeout(50 * time.Millisecond)
	mustSave(t, l, "acme_income", "2024-01", fact("设备", "上海", "income", "100"))

	_, err := l.CumulativeSum(ctx, "acme_income", shanghai, p("2024-03"))
	var ae *utils.AmbiguousAggregationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AmbiguousAggregationError, got %v", err)
	}
	if ae.Period != "2024-02" || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected February deadline, got %v", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("a failed sum was memoized")
	}

	if _, err := l.Cumulative(ctx, "acme_income", p("2024-03")); !errors.As(err, &ae) {
		t.Fatalf("expected Cumulative to be ambiguous too, got %v", err)
	}
}

func TestCumulativeSum_UnavailableStoreIs500(t *testing.T) {
	ctx := context.Background()
	store := &slowStore{
		MemoryLedgerStore: models.NewMemoryLedgerStore(),
		slow:              p("2024-02"),
		err:               fmt.Errorf("%w: connection reset", utils.ErrStoreUnavailable),
	}
	l := NewLedger(store, nil, nil, testRegistry(t))

	_, err := l.CumulativeSum(ctx, "acme_income", shanghai, p("2024-02"))
	if !errors.As(err, new(*utils.AmbiguousAggregationError)) {
		t.Fatalf("expected AmbiguousAggregationError, got %v", err)
	}
	if !errors.Is(err, utils.ErrStoreUnavailable) {
		t.Fatalf("expected the unavailable store to stay visible, got %v", err)
	}
	if got := utils.HTTPStatus(err); got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestRunningBalance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustSave(t, l.Ledger, "acme_bad_debt", "2024-01",
		fact("工程", "域内", "new_addition", "10"),
		fact("工程", "域内", "collection", "2"),
	)
	mustSave(t, l.Ledger, "acme_bad_debt", "2024-03", fact("工程", "域内", "new_addition", "5"))

	line := models.DimensionKey{Segment: "工程", Customer: "域内"}
	got, err := l.CumulativeSum(ctx, "acme_bad_debt", line, p("2024-03"))
	if err != nil || !got.Equal(dec("20.48")) {
		t.Fatalf("expected 7.48 + 15 - 2 = 20.48, got %s %v", got, err)
	}
	if v, ok, _ := l.cache.Get(ctx, "acme_bad_debt", line, p("2024-03"), models.AggregateModeRunningBalance); !ok || !v.Equal(got) {
		t.Fatalf("expected running balance memoized under the line key")
	}

	report, err := l.Cumulative(ctx, "acme_bad_debt", p("2024-03"))
	if err != nil {
		t.Fatalf("Cumulative: %v", err)
	}
	if len(report.RunningBalances) != 1 || !report.RunningBalances[0].Balance.Equal(dec("20.48")) {
		t.Fatalf("unexpected running balances: %+v", report.RunningBalances)
	}

	// a correction in January drops the memoized March balance
	mustSave(t, l.Ledger, "acme_bad_debt", "2024-01", fact("工程", "域内", "new_addition", "10"))
	got, err = l.CumulativeSum(ctx, "acme_bad_debt", line.WithField("collection"), p("2024-03"))
	if err != nil || !got.Equal(dec("22.48")) {
		t.Fatalf("expected 22.48 after dropping the collection, got %s %v", got, err)
	}
}

func TestPeriodView_Activity(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustSave(t, l.Ledger, "acme_income", "2024-01", fact("设备", "上海", "income", "60"))
	mustSave(t, l.Ledger, "acme_income", "2024-02", fact("设备", "上海", "income", "40"), fact("工程", "一包", "income", "7"))

	view, err := l.PeriodView(ctx, "acme_income", p("2024-02"))
	if err != nil {
		t.Fatalf("PeriodView: %v", err)
	}
	if len(view.Lines) != 2 || view.Lines[0].Customer != "上海" {
		t.Fatalf("expected lines in declaration order, got %+v", view.Lines)
	}
	sh := view.Lines[0]
	if !sh.Cumulative.Equal(dec("100")) || !sh.CompletionPercent.Equal(dec("10")) || !sh.Deviation.Equal(dec("-900")) {
		t.Fatalf("unexpected 上海 line: cum %s completion %s deviation %s", sh.Cumulative, sh.CompletionPercent, sh.Deviation)
	}
	if !view.Lines[1].CompletionPercent.Equal(dec("0")) {
		t.Fatalf("unplanned line should complete at 0, got %s", view.Lines[1].CompletionPercent)
	}
	total := view.Totals[0]
	if !total.CurrentAmount.Equal(dec("47")) || !total.Cumulative.Equal(dec("107")) || !total.Plan.Equal(dec("1000")) {
		t.Fatalf("unexpected totals: %+v", total)
	}

	if _, err := l.PeriodView(ctx, "acme_income", p("2024-05")); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected empty period to be not found, got %v", err)
	}
}

func TestPeriodView_RateFamily(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustSave(t, l.Ledger, "acme_rate", "2024-01", fact("设备", "A", "rate", "10"), fact("设备", "B", "rate", "20"))

	view, err := l.PeriodView(ctx, "acme_rate", p("2024-01"))
	if err != nil {
		t.Fatalf("PeriodView: %v", err)
	}
	if view.WeightedRate == nil || !view.WeightedRate.Equal(dec("11.67")) {
		t.Fatalf("expected weighted rate 11.67, got %v", view.WeightedRate)
	}
	if view.Lines[0].Cumulative != nil {
		t.Fatalf("rates carry no cumulative")
	}
	if _, err := l.Cumulative(ctx, "acme_rate", p("2024-01")); !errors.As(err, new(*utils.ValidationError)) {
		t.Fatalf("expected ValidationError for cumulative of rates, got %v", err)
	}
}

func TestYearSeries(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustSave(t, l.Ledger, "acme_income", "2024-01", fact("设备", "上海", "income", "100"))
	mustSave(t, l.Ledger, "acme_income", "2024-03", fact("设备", "上海", "income", "50"))

	series, err := l.YearSeries(ctx, "acme_income", 2024)
	if err != nil {
		t.Fatalf("YearSeries: %v", err)
	}
	if len(series.Points) != 12 {
		t.Fatalf("expected 12 points, got %d", len(series.Points))
	}
	feb, mar, dec12 := series.Points[1], series.Points[2], series.Points[11]
	if feb.Stored || !feb.Fields[0].Cumulative.Equal(dec("100")) {
		t.Fatalf("unexpected February: %+v", feb)
	}
	if !mar.Stored || !mar.Fields[0].CurrentAmount.Equal(dec("50")) || !mar.Fields[0].Cumulative.Equal(dec("150")) {
		t.Fatalf("unexpected March: %+v", mar)
	}
	if !dec12.Fields[0].CompletionPercent.Equal(dec("15")) {
		t.Fatalf("expected December completion 15, got %s", dec12.Fields[0].CompletionPercent)
	}

	if _, err := l.YearSeries(ctx, "acme_income", 0); !errors.As(err, new(*utils.ValidationError)) {
		t.Fatalf("expected ValidationError for year 0, got %v", err)
	}
}

func TestYearSeries_RunningBalance(t *testing.T) {
	l := newTestLedger(t)
	mustSave(t, l.Ledger, "acme_bad_debt", "2024-02", fact("工程", "域内", "collection", "1.48"))

	series, err := l.YearSeries(context.Background(), "acme_bad_debt", 2024)
	if err != nil {
		t.Fatalf("YearSeries: %v", err)
	}
	if !series.Points[0].RunningBalance.Equal(dec("7.48")) || !series.Points[1].RunningBalance.Equal(dec("6")) {
		t.Fatalf("unexpected running balances: %s %s", series.Points[0].RunningBalance, series.Points[1].RunningBalance)
	}
}

func TestMargin(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustSave(t, l.Ledger, "acme_income", "2024-01", fact("设备", "上海", "income", "100"))
	mustSave(t, l.Ledger, "acme_cost", "2024-01", fact("设备", "上海", "cost", "40"), fact("工程", "一包", "cost", "10"))

	report, err := l.Margin(ctx, "acme_income", "acme_cost", p("2024-02"))
	if err != nil {
		t.Fatalf("Margin: %v", err)
	}
	if len(report.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %+v", report.Segments)
	}
	equipment, works := report.Segments[0], report.Segments[1]
	if equipment.Segment != "设备" || !equipment.MarginPercent.Equal(dec("60")) {
		t.Fatalf("unexpected 设备 margin: %+v", equipment)
	}
	if !works.MarginPercent.Equal(dec("0")) {
		t.Fatalf("segment without income should have 0 margin, got %s", works.MarginPercent)
	}
	// (60*1000 + 0*1) / 1001
	if !report.WeightedMargin.Equal(dec("59.94")) {
		t.Fatalf("expected weighted margin 59.94, got %s", report.WeightedMargin)
	}
	// (100 - 50) / 100
	if !report.OverallMargin.Equal(dec("50")) {
		t.Fatalf("expected overall margin 50, got %s", report.OverallMargin)
	}

	if _, err := l.Margin(ctx, "acme_rate", "acme_cost", p("2024-02")); !errors.As(err, new(*utils.ValidationError)) {
		t.Fatalf("expected ValidationError for a rate family, got %v", err)
	}
	if _, err := l.Margin(ctx, "", "acme_cost", p("2024-02")); !errors.As(err, new(*utils.ValidationError)) {
		t.Fatalf("expected ValidationError without an income family, got %v", err)
	}
}

func TestBackfillCumulative(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	mustSave(t, l.Ledger, "acme_income", "2024-01", fact("设备", "上海", "income", "100"), fact("工程", "一包", "income", "1"))
	mustSave(t, l.Ledger, "acme_income", "2024-03", fact("设备", "上海", "income", "50"))

	res, err := l.BackfillCumulative(ctx, "acme_income", 2024)
	if err != nil {
		t.Fatalf("BackfillCumulative: %v", err)
	}
	if res.Rows != 3 {
		t.Fatalf("expected 3 rows rewritten, got %d", res.Rows)
	}
	row, err := l.store.Get(ctx, models.Scope{Table: "income_facts", Entity: "acme"}, shanghai, p("2024-03"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.CumulativeAmount == nil || !row.CumulativeAmount.Equal(dec("150")) {
		t.Fatalf("expected stored cumulative 150, got %v", row.CumulativeAmount)
	}

	res, err = l.BackfillCumulative(ctx, "acme_rate", 2024)
	if err != nil || res.Rows != 0 {
		t.Fatalf("rates have nothing to backfill: %+v %v", res, err)
	}
}
