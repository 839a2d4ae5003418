package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// ChunkRecord is the durable form of a processed content chunk. Records
// are immutable: reprocessing a source deletes its records and inserts
// new ones.
type ChunkRecord struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	SourceID      string          `gorm:"type:varchar(255);not null;index" json:"source_id"`
	OwnerID       string          `gorm:"type:varchar(255);not null;index" json:"owner_id"`
	CourseID      string          `gorm:"type:varchar(255);index" json:"course_id,omitempty"`
	Ordinal       int             `gorm:"not null" json:"ordinal"`
	Text          string          `gorm:"type:text;not null" json:"text"`
	TokenEstimate int             `gorm:"default:0" json:"token_estimate"`
	ContentHash   string          `gorm:"type:varchar(64);not null;index" json:"content_hash"`
	Embedding     pgvector.Vector `gorm:"not null" json:"embedding"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// BudgetPeriodRecord snapshots committed spend for one routing period.
type BudgetPeriodRecord struct {
	PeriodStart time.Time `gorm:"primaryKey" json:"period_start"`
	Spend       float64   `gorm:"type:decimal(12,6);not null;default:0" json:"spend"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate hook for ChunkRecord
func (c *ChunkRecord) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// TableName returns the table name for ChunkRecord
func (ChunkRecord) TableName() string {
	return "study_chunks"
}

// TableName returns the table name for BudgetPeriodRecord
func (BudgetPeriodRecord) TableName() string {
	return "budget_periods"
}
