package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/relationships"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/targets"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestApplyMigrationsBackfillsCounters(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(Models()...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	item := content.Item{
		ID:         "item-1",
		Kind:       targets.TypePost,
		OwnerID:    "owner",
		Status:     content.StatusPublished,
		LikesCount: 41,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := database.Create(&item).Error; err != nil {
		testContext.Fatalf("failed to insert item: %v", err)
	}
	edge := relationships.Relationship{
		ID:         "rel-1",
		Kind:       relationships.KindLike,
		ActorID:    "fan",
		TargetID:   item.ID,
		TargetType: targets.TypePost,
		CreatedAt:  now,
	}
	if err := database.Create(&edge).Error; err != nil {
		testContext.Fatalf("failed to insert relationship: %v", err)
	}
	comment := comments.Comment{
		ID:            "comment-1",
		ContentItemID: item.ID,
		ActorID:       "fan",
		Content:       "hi",
		State:         comments.StateActive,
		LikesCount:    9,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := database.Create(&comment).Error; err != nil {
		testContext.Fatalf("failed to insert comment: %v", err)
	}

	if err := applyMigrations(database, 1, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored content.Item
	if err := database.Where("id = ?", item.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload item: %v", err)
	}
	if stored.LikesCount != 1 || stored.CommentsCount != 1 {
		testContext.Fatalf("expected counters to be backfilled, got likes=%d comments=%d", stored.LikesCount, stored.CommentsCount)
	}
	var storedComment comments.Comment
	if err := database.Where("id = ?", comment.ID).Take(&storedComment).Error; err != nil {
		testContext.Fatalf("failed to reload comment: %v", err)
	}
	if storedComment.LikesCount != 0 {
		testContext.Fatalf("expected comment likes to be reset, got %d", storedComment.LikesCount)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillInteractionCounters).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := database.Model(&content.Item{}).Where("id = ?", item.ID).Update("likes_count", 7).Error; err != nil {
		testContext.Fatalf("failed to skew counter: %v", err)
	}
	if err := applyMigrations(database, 1, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to reapply migrations: %v", err)
	}
	if err := database.Where("id = ?", item.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload item: %v", err)
	}
	if stored.LikesCount != 7 {
		testContext.Fatalf("expected applied migration to be skipped, got likes=%d", stored.LikesCount)
	}
}

func TestOpenSQLiteMigratesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "agora.db")

	database, err := Open(Config{Driver: DriverSQLite, DSN: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, model := range Models() {
		if !database.Migrator().HasTable(model) {
			testContext.Fatalf("expected table for %T", model)
		}
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Config{Driver: "mysql", DSN: "x"}, nil); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(Config{Driver: DriverSQLite}, nil); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}
