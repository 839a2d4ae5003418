package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseManager owns the Postgres connection shared by the vector
// store and the budget snapshot repository.
type DatabaseManager struct {
	db         *gorm.DB
	dimensions int
}

// NewDatabaseManager creates a manager for embeddings of the given
// dimensionality. The dimensionality is fixed at migration time.
func NewDatabaseManager(dimensions int) *DatabaseManager {
	return &DatabaseManager{dimensions: dimensions}
}

// Connect establishes the database connection
func (dm *DatabaseManager) Connect(ctx context.Context, dsn string) error {
	logrus.Info("Connecting to PostgreSQL database...")

	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	dm.db = db

	logrus.Info("Successfully connected to PostgreSQL database")
	return nil
}

// Close closes the database connection
func (dm *DatabaseManager) Close() error {
	if dm.db == nil {
		return nil
	}

	sqlDB, err := dm.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB for close: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	logrus.Info("Database connection closed successfully")
	return nil
}

// Migrate creates the schema. Tables are created manually so the pgvector
// column carries the configured dimensionality.
func (dm *DatabaseManager) Migrate() error {
	if dm.db == nil {
		return fmt.Errorf("database connection not established")
	}

	logrus.Info("Running database migrations...")

	if err := dm.db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to create pgvector extension: %w", err)
	}

	if err := dm.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS study_chunks (
			id UUID PRIMARY KEY,
			source_id VARCHAR(255) NOT NULL,
			owner_id VARCHAR(255) NOT NULL,
			course_id VARCHAR(255),
			ordinal INTEGER NOT NULL,
			text TEXT NOT NULL,
			token_estimate INTEGER DEFAULT 0,
			content_hash VARCHAR(64) NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)
	`, dm.dimensions)).Error; err != nil {
		return fmt.Errorf("failed to create study_chunks table: %w", err)
	}

	if err := dm.db.Exec(`
		CREATE TABLE IF NOT EXISTS budget_periods (
			period_start TIMESTAMP WITH TIME ZONE PRIMARY KEY,
			spend DECIMAL(12,6) NOT NULL DEFAULT 0,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create budget_periods table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_study_chunks_source ON study_chunks (source_id)",
		"CREATE INDEX IF NOT EXISTS idx_study_chunks_owner_course ON study_chunks (owner_id, course_id)",
		"CREATE INDEX IF NOT EXISTS idx_study_chunks_hash ON study_chunks (source_id, content_hash)",
		// HNSW index for cosine nearest-neighbor retrieval
		"CREATE INDEX IF NOT EXISTS idx_study_chunks_embedding_cosine ON study_chunks USING hnsw (embedding vector_cosine_ops)",
	}

	for _, index := range indexes {
		if err := dm.db.Exec(index).Error; err != nil {
			logrus.WithError(err).Warnf("Failed to create index: %s", index)
			// Continue with other indexes even if one fails
		}
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}

// Health checks database connectivity
func (dm *DatabaseManager) Health(ctx context.Context) error {
	if dm.db == nil {
		return fmt.Errorf("database connection not established")
	}

	sqlDB, err := dm.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying GORM database instance
func (dm *DatabaseManager) GetDB() *gorm.DB {
	return dm.db
}

// Dimensions returns the configured embedding dimensionality.
func (dm *DatabaseManager) Dimensions() int {
	return dm.dimensions
}
