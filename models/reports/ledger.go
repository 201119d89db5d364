package reports

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/finreport_backend/config"
	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/mmdatafocus/finreport_backend/utils"
	"github.com/sirupsen/logrus"
)

const saveLockTTL = 30 * time.Second

// Ledger composes the fact store, the aggregate cache and the family table
// into the operations the HTTP layer and the maintenance commands call.
type Ledger struct {
	store       models.LedgerStore
	cache       AggregateCache
	submissions models.SubmissionTracker
	families    *models.StatementFamilies
	timeout     time.Duration

	// writes counts committed writes per family. A sum computed across a
	// write is not memoized.
	writes map[string]*atomic.Uint64
}

func NewLedger(store models.LedgerStore, cache AggregateCache, submissions models.SubmissionTracker, families *models.StatementFamilies) *Ledger {
	if cache == nil {
		cache = NoopAggregateCache{}
	}
	l := &Ledger{
		store:       store,
		cache:       cache,
		submissions: submissions,
		families:    families,
		timeout:     config.AggregationTimeout(),
		writes:      make(map[string]*atomic.Uint64, len(families.All())),
	}
	for _, f := range families.All() {
		l.writes[f.Key] = new(atomic.Uint64)
	}
	return l
}

// WithAggregationTimeout overrides the month fan-out deadline.
func (l *Ledger) WithAggregationTimeout(d time.Duration) *Ledger {
	l.timeout = d
	return l
}

func (l *Ledger) Families() *models.StatementFamilies {
	return l.families
}

func (l *Ledger) Family(key string) (*models.StatementFamily, error) {
	return l.families.Lookup(key)
}

func (l *Ledger) ListPeriods(ctx context.Context, familyKey string) ([]models.PeriodSummary, error) {
	f, err := l.families.Lookup(familyKey)
	if err != nil {
		return nil, err
	}
	return l.store.ListPeriods(ctx, f.Scope())
}

// Facts returns the stored rows of one period, NotFound when there are none.
func (l *Ledger) Facts(ctx context.Context, familyKey string, period models.Period) ([]*models.PeriodFact, error) {
	f, err := l.families.Lookup(familyKey)
	if err != nil {
		return nil, err
	}
	facts, err := l.store.ListPeriod(ctx, f.Scope(), period)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, &utils.NotFoundError{Resource: f.Key, Period: period.String()}
	}
	return facts, nil
}

// SavePeriod replaces every fact of the family for period.
// Resubmitting identical facts leaves stored rows and every aggregate unchanged.
func (l *Ledger) SavePeriod(ctx context.Context, familyKey string, period models.Period, facts []models.PeriodFact) error {
	f, err := l.families.Lookup(familyKey)
	if err != nil {
		return err
	}
	if err := f.ValidateFacts(facts); err != nil {
		return err
	}

	lock := l.obtainLock(ctx, f.Key, period)
	defer l.releaseLock(ctx, lock, f.Key, period)

	if err := l.store.UpsertAll(ctx, f.Scope(), period, facts); err != nil {
		return err
	}
	l.afterWrite(ctx, f, period)

	if l.submissions != nil {
		if err := l.submissions.Record(ctx, f.Key, period); err != nil {
			// the facts are committed; a missing status row is repaired by the next save
			config.LogError(config.GetLogger(), "ledger.go", "SavePeriod", "record submission", f.Key+" "+period.String(), err)
		}
	}
	return nil
}

// DeletePeriod removes every fact of the family for period.
func (l *Ledger) DeletePeriod(ctx context.Context, familyKey string, period models.Period) (int64, error) {
	f, err := l.families.Lookup(familyKey)
	if err != nil {
		return 0, err
	}
	lock := l.obtainLock(ctx, f.Key, period)
	defer l.releaseLock(ctx, lock, f.Key, period)

	n, err := l.store.Delete(ctx, f.Scope(), models.DimensionKey{}, period)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, &utils.NotFoundError{Resource: f.Key, Period: period.String()}
	}
	l.afterWrite(ctx, f, period)
	if l.submissions != nil {
		if err := l.submissions.Clear(ctx, f.Key, period); err != nil {
			config.LogError(config.GetLogger(), "ledger.go", "DeletePeriod", "clear submission", f.Key+" "+period.String(), err)
		}
	}
	return n, nil
}

// afterWrite drops every memoized sum at or after period. The key set of a
// family is fixed, so this covers the old and the new facts alike.
func (l *Ledger) afterWrite(ctx context.Context, f *models.StatementFamily, period models.Period) {
	l.writes[f.Key].Add(1)
	if err := l.cache.InvalidateFrom(ctx, f.Key, cacheKeys(f), period); err != nil {
		config.LogError(config.GetLogger(), "ledger.go", "afterWrite", "invalidate aggregate cache", f.Key+" "+period.String(), err)
	}
}

// cacheKeys lists the full keys plus the line keys running balances are
// memoized under.
func cacheKeys(f *models.StatementFamily) []models.DimensionKey {
	keys := f.Keys()
	for _, d := range f.Dimensions {
		keys = append(keys, d.Line())
	}
	return keys
}

func (l *Ledger) writeGeneration(familyKey string) uint64 {
	return l.writes[familyKey].Load()
}

func (l *Ledger) obtainLock(ctx context.Context, familyKey string, period models.Period) *redislock.Lock {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("lock:ledger:%s:%s", familyKey, period), saveLockTTL, nil)
	if err != nil {
		msg := "error obtaining redis lock; proceeding without redis lock: " + err.Error()
		if errors.Is(err, redislock.ErrNotObtained) {
			msg = "could not obtain redis lock; proceeding without redis lock"
		}
		config.GetLogger().WithFields(logrus.Fields{
			"field":  "SavePeriod",
			"family": familyKey,
			"period": period.String(),
		}).Warn(msg)
		return nil
	}
	return lock
}

func (l *Ledger) releaseLock(ctx context.Context, lock *redislock.Lock, familyKey string, period models.Period) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"field":  "SavePeriod",
			"family": familyKey,
			"period": period.String(),
		}).Warn("failed to release redis lock: " + err.Error())
	}
}
