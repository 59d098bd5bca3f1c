package interactions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/counters"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/relationships"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/targets"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/votes"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%04d", p.next), nil
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

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notifications.Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice notifications.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) all() []notifications.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Notice(nil), n.notices...)
}

type recordingMetrics struct {
	mu                sync.Mutex
	outcomes          map[string]int
	reconcileFailures map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: map[string]int{}, reconcileFailures: map[string]int{}}
}

func (m *recordingMetrics) ObserveInteraction(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[operation+":"+outcome]++
}

func (m *recordingMetrics) ReconcileFailed(counter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileFailures[counter]++
}

type harness struct {
	db            *gorm.DB
	content       *content.Service
	users         *users.Service
	relationships *relationships.Store
	comments      *comments.Store
	votes         *votes.Store
	counters      *counters.Reconciler
	notifier      *recordingNotifier
	metrics       *recordingMetrics
	clock         *steppingClock
	service       *Service
}

type harnessOptions struct {
	notifier Notifier
	counters CounterReconciler
	logger   *zap.Logger
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:interactions_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	if err := db.AutoMigrate(
		&content.Item{},
		&relationships.Relationship{},
		&comments.Comment{},
		&votes.Vote{},
		&notifications.Notification{},
		&users.Identity{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	h := &harness{
		db:       db,
		notifier: &recordingNotifier{},
		metrics:  newRecordingMetrics(),
		clock:    &steppingClock{current: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)},
	}
	idProvider := &sequenceIDProvider{}

	if h.content, err = content.NewService(content.ServiceConfig{Database: db, Clock: h.clock.Now, IDProvider: idProvider}); err != nil {
		t.Fatalf("content service: %v", err)
	}
	if h.users, err = users.NewService(users.ServiceConfig{Database: db, Clock: h.clock.Now}); err != nil {
		t.Fatalf("users service: %v", err)
	}
	if h.comments, err = comments.NewStore(comments.StoreConfig{Database: db, Clock: h.clock.Now, IDProvider: idProvider, Content: h.content}); err != nil {
		t.Fatalf("comment store: %v", err)
	}
	resolver, err := NewTargetResolver(h.content, h.comments, h.users)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	if h.relationships, err = relationships.NewStore(relationships.StoreConfig{Database: db, Clock: h.clock.Now, IDProvider: idProvider, Resolver: resolver}); err != nil {
		t.Fatalf("relationship store: %v", err)
	}
	if h.votes, err = votes.NewStore(votes.StoreConfig{Database: db, Clock: h.clock.Now, IDProvider: idProvider, Polls: h.content}); err != nil {
		t.Fatalf("vote store: %v", err)
	}
	if h.counters, err = counters.NewReconciler(counters.ReconcilerConfig{Database: db}); err != nil {
		t.Fatalf("reconciler: %v", err)
	}

	var notifier Notifier = h.notifier
	if opts.notifier != nil {
		notifier = opts.notifier
	}
	var reconciler CounterReconciler = h.counters
	if opts.counters != nil {
		reconciler = opts.counters
	}
	if h.service, err = NewService(Config{
		Content:       h.content,
		Relationships: h.relationships,
		Comments:      h.comments,
		Votes:         h.votes,
		Counters:      reconciler,
		Notifier:      notifier,
		Metrics:       h.metrics,
		Logger:        opts.logger,
	}); err != nil {
		t.Fatalf("gateway: %v", err)
	}
	return h
}

func (h *harness) user(t *testing.T, userID string) auth.Actor {
	t.Helper()
	actor, err := h.users.ResolveActor(context.Background(), auth.SessionClaims{UserID: userID})
	if err != nil {
		t.Fatalf("resolve actor %s: %v", userID, err)
	}
	return actor
}

func (h *harness) post(t *testing.T, ownerID string) content.Item {
	t.Helper()
	item, err := h.content.Create(context.Background(), content.NewItem{Kind: targets.TypePost, OwnerID: ownerID, Title: "post"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return item
}

func (h *harness) poll(t *testing.T, ownerID string, allowMultiple bool, deadline *time.Time) content.Item {
	t.Helper()
	item, err := h.content.Create(context.Background(), content.NewItem{
		Kind:    targets.TypeActivity,
		OwnerID: ownerID,
		Title:   "poll",
		Poll: content.Poll{
			HasVoting:          true,
			VoteOptions:        []string{"A", "B", "C"},
			VoteDeadline:       deadline,
			AllowMultipleVotes: allowMultiple,
		},
	})
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	return item
}

func (h *harness) storedItem(t *testing.T, itemID string) content.Item {
	t.Helper()
	item, err := h.content.Get(context.Background(), itemID)
	if err != nil {
		t.Fatalf("reload item: %v", err)
	}
	return item
}

func ref(item content.Item) targets.Ref {
	return targets.Ref{ID: item.ID, Type: item.Kind}
}

func countValue(t *testing.T, count *int64) int64 {
	t.Helper()
	if count == nil {
		t.Fatalf("expected a reconciled count")
	}
	return *count
}
