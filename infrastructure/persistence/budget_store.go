package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BudgetStore persists per-period spend snapshots so a restart resumes
// the current period's running total. Implements the ledger's SpendStore.
type BudgetStore struct {
	db *gorm.DB
}

func NewBudgetStore(db *gorm.DB) *BudgetStore {
	return &BudgetStore{db: db}
}

// LoadPeriod returns the committed spend recorded for the period, zero
// when the period has no snapshot yet.
func (s *BudgetStore) LoadPeriod(ctx context.Context, periodStart time.Time) (float64, error) {
	var record BudgetPeriodRecord
	err := s.db.WithContext(ctx).First(&record, "period_start = ?", periodStart).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load budget period: %w", err)
	}
	return record.Spend, nil
}

// SavePeriod upserts the period's spend snapshot.
func (s *BudgetStore) SavePeriod(ctx context.Context, periodStart time.Time, spend float64) error {
	record := BudgetPeriodRecord{PeriodStart: periodStart, Spend: spend}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "period_start"}},
		DoUpdates: clause.AssignmentColumns([]string{"spend", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to save budget period: %w", err)
	}
	return nil
}
