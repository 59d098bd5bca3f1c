package database

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/counters"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillInteractionCounters = "2026-10-01_backfill_interaction_counters"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, sweepBatchSize int, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillInteractionCounters, apply: func(db *gorm.DB) error {
			return backfillInteractionCounters(db, sweepBatchSize, logger)
		}},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillInteractionCounters rewrites every stored counter from the
// relationship and comment tables.
func backfillInteractionCounters(db *gorm.DB, sweepBatchSize int, logger *zap.Logger) error {
	reconciler, err := counters.NewReconciler(counters.ReconcilerConfig{Database: db, BatchSize: sweepBatchSize, Logger: logger})
	if err != nil {
		return err
	}
	_, err = reconciler.ReconcileAll(context.Background())
	return err
}
