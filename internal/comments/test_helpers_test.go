package comments

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

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:comments_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	if err := db.AutoMigrate(&Comment{}); err != nil {
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
	return fmt.Sprintf("comment-%03d", p.next), nil
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type stubContentLookup struct {
	items map[string]content.Item
}

func (s stubContentLookup) GetVisible(_ context.Context, itemID string) (content.Item, error) {
	item, ok := s.items[itemID]
	if !ok || !item.Visible() {
		return content.Item{}, apperr.NotFound("stub.content", "missing", nil)
	}
	return item, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	clock := &steppingClock{current: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store, err := NewStore(StoreConfig{
		Database:   openTestDatabase(t),
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{},
		Content: stubContentLookup{items: map[string]content.Item{
			"item-1": {ID: "item-1", OwnerID: "owner", Status: content.StatusPublished},
			"item-2": {ID: "item-2", OwnerID: "owner", Status: content.StatusPublished},
			"draft":  {ID: "draft", OwnerID: "owner", Status: content.StatusDraft},
		}},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func stringPtr(value string) *string {
	return &value
}
