package votes

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:votes_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Vote{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("vote-%d", p.next), nil
}

type stubPollLookup struct {
	items map[string]content.Item
}

func (s stubPollLookup) GetVisible(_ context.Context, itemID string) (content.Item, error) {
	item, ok := s.items[itemID]
	if !ok {
		return content.Item{}, apperr.NotFound("stub.poll", "missing", nil)
	}
	return item, nil
}

func pollItem(id string, allowMultiple bool, deadline *time.Time) content.Item {
	return content.Item{
		ID:      id,
		OwnerID: "poll-owner",
		Status:  content.StatusPublished,
		Poll: content.Poll{
			HasVoting:          true,
			VoteOptions:        []string{"A", "B", "C"},
			VoteDeadline:       deadline,
			AllowMultipleVotes: allowMultiple,
		},
	}
}

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)
	db := openTestDatabase(t)
	store, err := NewStore(StoreConfig{
		Database:   db,
		Clock:      func() time.Time { return testNow },
		IDProvider: &sequenceIDProvider{},
		Polls: stubPollLookup{items: map[string]content.Item{
			"single": pollItem("single", false, &future),
			"multi":  pollItem("multi", true, nil),
			"closed": pollItem("closed", false, &past),
			"plain":  {ID: "plain", OwnerID: "owner", Status: content.StatusPublished},
		}},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db
}

func countVotes(t *testing.T, db *gorm.DB, pollID, actorID string) []Vote {
	t.Helper()
	var rows []Vote
	if err := db.Where("poll_id = ? AND actor_id = ?", pollID, actorID).Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load votes: %v", err)
	}
	return rows
}
