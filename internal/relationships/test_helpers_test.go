package relationships

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/targets"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:relationships_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	if err := db.AutoMigrate(&Relationship{}); err != nil {
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
	return fmt.Sprintf("rel-%d", p.next), nil
}

type stubResolver struct {
	owners map[targets.Ref]string
}

func (r stubResolver) ResolveTarget(_ context.Context, target targets.Ref) (string, error) {
	owner, ok := r.owners[target]
	if !ok {
		return "", apperr.NotFound("stub.resolve", "missing", nil)
	}
	return owner, nil
}

func newTestStore(t *testing.T, owners map[targets.Ref]string) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Database:   openTestDatabase(t),
		IDProvider: &sequenceIDProvider{},
		Resolver:   stubResolver{owners: owners},
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}
