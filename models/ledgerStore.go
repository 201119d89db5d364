package models

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/finreport_backend/config"
	"github.com/mmdatafocus/finreport_backend/utils"
	"gorm.io/gorm"
)

const upsertBatchSize = 100

// GormLedgerStore keeps each statement family in its own MySQL table,
// unique on (entity, period, segment, customer, field).
type GormLedgerStore struct {
	db *gorm.DB
}

// NewGormLedgerStore binds to db, or to config.GetDB() at call time when db is nil
// (the server connects after it starts listening).
func NewGormLedgerStore(db *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{db: db}
}

func (s *GormLedgerStore) conn(ctx context.Context, scope Scope) (*gorm.DB, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	db := s.db
	if db == nil {
		db = config.GetDB()
	}
	if db == nil {
		return nil, utils.ErrStoreUnavailable
	}
	ctx = utils.SetEntityInContext(ctx, scope.Entity)
	return db.WithContext(ctx), nil
}

func whereKey(tx *gorm.DB, scope Scope, prefix DimensionKey) *gorm.DB {
	tx = tx.Where("entity = ?", scope.Entity)
	if prefix.Segment != "" {
		tx = tx.Where("segment = ?", prefix.Segment)
	}
	if prefix.Customer != "" {
		tx = tx.Where("customer = ?", prefix.Customer)
	}
	if prefix.Field != "" {
		tx = tx.Where("field = ?", prefix.Field)
	}
	return tx
}

func (s *GormLedgerStore) Get(ctx context.Context, scope Scope, key DimensionKey, period Period) (*PeriodFact, error) {
	if err := key.ValidateComplete(); err != nil {
		return nil, err
	}
	db, err := s.conn(ctx, scope)
	if err != nil {
		return nil, err
	}
	var fact PeriodFact
	err = whereKey(db.Table(scope.Table), scope, key).Where("period = ?", period).Take(&fact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &utils.NotFoundError{Resource: key.String(), Period: period.String()}
	}
	if err != nil {
		return nil, storeReadError(err)
	}
	return &fact, nil
}

func (s *GormLedgerStore) GetRange(ctx context.Context, scope Scope, prefix DimensionKey, from Period, to Period) ([]*PeriodFact, error) {
	if err := prefix.ValidatePrefix(); err != nil {
		return nil, err
	}
	db, err := s.conn(ctx, scope)
	if err != nil {
		return nil, err
	}
	var facts []*PeriodFact
	err = whereKey(db.Table(scope.Table), scope, prefix).
		Where("period BETWEEN ? AND ?", from, to).
		Order("period, segment, customer, field").
		Find(&facts).Error
	if err != nil {
		return nil, storeReadError(err)
	}
	return facts, nil
}

func (s *GormLedgerStore) ListPeriod(ctx context.Context, scope Scope, period Period) ([]*PeriodFact, error) {
	db, err := s.conn(ctx, scope)
	if err != nil {
		return nil, err
	}
	var facts []*PeriodFact
	err = db.Table(scope.Table).
		Where("entity = ? AND period = ?", scope.Entity, period).
		Order("id").
		Find(&facts).Error
	if err != nil {
		return nil, storeReadError(err)
	}
	return facts, nil
}

func (s *GormLedgerStore) ListPeriods(ctx context.Context, scope Scope) ([]PeriodSummary, error) {
	db, err := s.conn(ctx, scope)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Period    Period
		RowCount  int64
		UpdatedAt mysql.NullTime
	}
	err = db.Table(scope.Table).
		Select("period, COUNT(*) AS row_count, MAX(updated_at) AS updated_at").
		Where("entity = ?", scope.Entity).
		Group("period").
		Order("period DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, storeReadError(err)
	}
	out := make([]PeriodSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, PeriodSummary{Period: r.Period, Rows: r.RowCount, UpdatedAt: r.UpdatedAt.Time})
	}
	return out, nil
}

// UpsertAll deletes the period's rows and inserts facts in one transaction.
func (s *GormLedgerStore) UpsertAll(ctx context.Context, scope Scope, period Period, facts []PeriodFact) error {
	db, err := s.conn(ctx, scope)
	if err != nil {
		return err
	}
	rows := make([]PeriodFact, len(facts))
	for i, f := range facts {
		f.ID = 0
		f.Entity = scope.Entity
		f.Period = period
		rows[i] = f
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(scope.Table).
			Where("entity = ? AND period = ?", scope.Entity, period).
			Delete(&PeriodFact{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Table(scope.Table).CreateInBatches(&rows, upsertBatchSize).Error
	})
	if err != nil {
		return &utils.StoreTransactionError{
			Op:        fmt.Sprintf("upsert %s %s", scope, period),
			Retryable: isRetryableStoreError(err),
			Err:       err,
		}
	}
	return nil
}

func (s *GormLedgerStore) Delete(ctx context.Context, scope Scope, prefix DimensionKey, period Period) (int64, error) {
	if err := prefix.ValidatePrefix(); err != nil {
		return 0, err
	}
	db, err := s.conn(ctx, scope)
	if err != nil {
		return 0, err
	}
	res := whereKey(db.Table(scope.Table), scope, prefix).
		Where("period = ?", period).
		Delete(&PeriodFact{})
	if res.Error != nil {
		return 0, &utils.StoreTransactionError{
			Op:        fmt.Sprintf("delete %s %s", scope, period),
			Retryable: isRetryableStoreError(res.Error),
			Err:       res.Error,
		}
	}
	return res.RowsAffected, nil
}

// RewriteCumulative stores recomputed year-to-date values in the cumulative
// cache column, all or nothing.
func (s *GormLedgerStore) RewriteCumulative(ctx context.Context, scope Scope, facts []PeriodFact) error {
	db, err := s.conn(ctx, scope)
	if err != nil {
		return err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		for _, f := range facts {
			res := whereKey(tx.Table(scope.Table), scope, f.Key()).
				Where("period = ?", f.Period).
				Update("cumulative_amount", f.CumulativeAmount)
			if res.Error != nil {
				return res.Error
			}
		}
		return nil
	})
	if err != nil {
		return &utils.StoreTransactionError{Op: "rewrite cumulative " + scope.String(), Retryable: isRetryableStoreError(err), Err: err}
	}
	return nil
}

// storeReadError marks lost connections as unavailability; anything else is
// returned as is so the aggregator can tell it apart from a clean not-found.
func storeReadError(err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %v", utils.ErrStoreUnavailable, err)
	}
	return err
}

func isRetryableStoreError(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return true
		}
		return false
	}
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn)
}
