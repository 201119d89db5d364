package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/finreport_backend/config"
	"github.com/mmdatafocus/finreport_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FormSubmission records that a family's form was submitted for a period.
type FormSubmission struct {
	ID              int       `gorm:"primary_key" json:"-"`
	Family          string    `gorm:"size:64;not null;uniqueIndex:idx_submission_key,priority:1" json:"family"`
	Period          Period    `gorm:"type:char(7);not null;uniqueIndex:idx_submission_key,priority:2" json:"period"`
	SubmissionCount int       `gorm:"not null;default:1" json:"submission_count"`
	LastSubmittedBy string    `gorm:"size:100" json:"last_submitted_by"`
	SubmittedAt     time.Time `gorm:"not null" json:"submitted_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type FamilySubmissionStatus struct {
	Family     string           `json:"family"`
	Name       string           `json:"name"`
	Entity     string           `json:"entity"`
	Status     SubmissionStatus `json:"status"`
	Submission *FormSubmission  `json:"submission,omitempty"`
}

// SubmissionTracker keeps the per-period submission log.
type SubmissionTracker interface {
	Record(ctx context.Context, family string, period Period) error
	Clear(ctx context.Context, family string, period Period) error
	ListForPeriod(ctx context.Context, period Period) ([]FormSubmission, error)
}

type GormSubmissionTracker struct {
	db *gorm.DB
}

func NewGormSubmissionTracker(db *gorm.DB) *GormSubmissionTracker {
	return &GormSubmissionTracker{db: db}
}

func (t *GormSubmissionTracker) conn(ctx context.Context) (*gorm.DB, error) {
	db := t.db
	if db == nil {
		db = config.GetDB()
	}
	if db == nil {
		return nil, utils.ErrStoreUnavailable
	}
	return db.WithContext(ctx), nil
}

func (t *GormSubmissionTracker) Record(ctx context.Context, family string, period Period) error {
	db, err := t.conn(ctx)
	if err != nil {
		return err
	}
	user, _ := utils.GetUserNameFromContext(ctx)
	row := FormSubmission{
		Family:          family,
		Period:          period,
		SubmissionCount: 1,
		LastSubmittedBy: user,
		SubmittedAt:     time.Now(),
	}
	return db.Clauses(clause.OnConflict{
		DoUpdates: clause.Assignments(map[string]interface{}{
			"submission_count":  gorm.Expr("submission_count + 1"),
			"last_submitted_by": user,
			"updated_at":        time.Now(),
		}),
	}).Create(&row).Error
}

func (t *GormSubmissionTracker) Clear(ctx context.Context, family string, period Period) error {
	db, err := t.conn(ctx)
	if err != nil {
		return err
	}
	return db.Where("family = ? AND period = ?", family, period).Delete(&FormSubmission{}).Error
}

func (t *GormSubmissionTracker) ListForPeriod(ctx context.Context, period Period) ([]FormSubmission, error) {
	db, err := t.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rows []FormSubmission
	if err := db.Where("period = ?", period).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MemorySubmissionTracker pairs with MemoryLedgerStore.
type MemorySubmissionTracker struct {
	mu   sync.Mutex
	rows map[string]FormSubmission
}

func NewMemorySubmissionTracker() *MemorySubmissionTracker {
	return &MemorySubmissionTracker{rows: map[string]FormSubmission{}}
}

func (t *MemorySubmissionTracker) Record(ctx context.Context, family string, period Period) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	user, _ := utils.GetUserNameFromContext(ctx)
	key := family + "|" + period.String()
	now := time.Now()
	row, ok := t.rows[key]
	if !ok {
		row = FormSubmission{Family: family, Period: period, SubmittedAt: now}
	}
	row.SubmissionCount++
	row.LastSubmittedBy = user
	row.UpdatedAt = now
	t.rows[key] = row
	return nil
}

func (t *MemorySubmissionTracker) Clear(ctx context.Context, family string, period Period) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, family+"|"+period.String())
	return nil
}

func (t *MemorySubmissionTracker) ListForPeriod(ctx context.Context, period Period) ([]FormSubmission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []FormSubmission
	for _, row := range t.rows {
		if row.Period == period {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Family < out[j].Family })
	return out, nil
}

// SubmissionStatuses merges the log with the configured families.
func SubmissionStatuses(families *StatementFamilies, period Period, rows []FormSubmission) []FamilySubmissionStatus {
	byFamily := make(map[string]FormSubmission, len(rows))
	for _, r := range rows {
		byFamily[r.Family] = r
	}
	out := make([]FamilySubmissionStatus, 0, len(families.All()))
	for _, f := range families.All() {
		st := FamilySubmissionStatus{Family: f.Key, Name: f.Name, Entity: f.Entity, Status: SubmissionStatusPending}
		if r, ok := byFamily[f.Key]; ok {
			st.Status = SubmissionStatusSubmitted
			st.Submission = &r
		}
		out = append(out, st)
	}
	return out
}
