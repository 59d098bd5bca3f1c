package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/counters"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/interactions"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/relationships"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/votes"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	testSigningSecret = "server-test-secret"
	testIssuer        = "agora-auth"
	testCookieName    = "agora_session"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("srv-%04d", p.next), nil
}

type stackOptions struct {
	rateLimitRPS   float64
	rateLimitBurst int
	heartbeat      time.Duration
	logger         *zap.Logger
}

type testStack struct {
	db         *gorm.DB
	content    *content.Service
	inbox      *notifications.Service
	dispatcher *notifications.Dispatcher
	metrics    *metrics.Recorder
	handler    http.Handler
}

func newTestStack(t *testing.T, opts stackOptions) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

	logger := opts.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idProvider := &sequenceIDProvider{}
	stack := &testStack{
		db:         db,
		dispatcher: notifications.NewDispatcher(0),
		metrics:    metrics.NewRecorder(),
	}

	if stack.content, err = content.NewService(content.ServiceConfig{Database: db, IDProvider: idProvider}); err != nil {
		t.Fatalf("content service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("users service: %v", err)
	}
	commentStore, err := comments.NewStore(comments.StoreConfig{Database: db, IDProvider: idProvider, Content: stack.content})
	if err != nil {
		t.Fatalf("comment store: %v", err)
	}
	resolver, err := interactions.NewTargetResolver(stack.content, commentStore, userService)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	relationshipStore, err := relationships.NewStore(relationships.StoreConfig{Database: db, IDProvider: idProvider, Resolver: resolver})
	if err != nil {
		t.Fatalf("relationship store: %v", err)
	}
	voteStore, err := votes.NewStore(votes.StoreConfig{Database: db, IDProvider: idProvider, Polls: stack.content})
	if err != nil {
		t.Fatalf("vote store: %v", err)
	}
	reconciler, err := counters.NewReconciler(counters.ReconcilerConfig{Database: db})
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	if stack.inbox, err = notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Publisher:  stack.dispatcher,
		Failures:   stack.metrics,
	}); err != nil {
		t.Fatalf("notification service: %v", err)
	}
	gateway, err := interactions.NewService(interactions.Config{
		Content:       stack.content,
		Relationships: relationshipStore,
		Comments:      commentStore,
		Votes:         voteStore,
		Counters:      reconciler,
		Notifier:      stack.inbox,
		Metrics:       stack.metrics,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("session validator: %v", err)
	}
	stack.handler, err = NewHTTPHandler(Dependencies{
		Sessions:          validator,
		Actors:            userService,
		Interactions:      gateway,
		Inbox:             stack.inbox,
		Realtime:          stack.dispatcher,
		Metrics:           stack.metrics,
		RateLimitRPS:      opts.rateLimitRPS,
		RateLimitBurst:    opts.rateLimitBurst,
		HeartbeatInterval: opts.heartbeat,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("http handler: %v", err)
	}
	return stack
}

func (s *testStack) post(t *testing.T, ownerID string) content.Item {
	t.Helper()
	item, err := s.content.Create(t.Context(), content.NewItem{Kind: "post", OwnerID: ownerID, Title: "hello"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return item
}

func (s *testStack) poll(t *testing.T, ownerID string, deadline time.Time) content.Item {
	t.Helper()
	item, err := s.content.Create(t.Context(), content.NewItem{
		Kind:    "activity",
		OwnerID: ownerID,
		Title:   "poll",
		Poll: content.Poll{
			HasVoting:    true,
			VoteOptions:  []string{"A", "B"},
			VoteDeadline: &deadline,
		},
	})
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	return item
}

// do performs a request against the handler; token may be empty.
func (s *testStack) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func signSessionToken(t *testing.T, userID string, expiresAt time.Time) string {
	t.Helper()
	claims := auth.SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func sessionToken(t *testing.T, userID string) string {
	return signSessionToken(t, userID, time.Now().Add(time.Hour))
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}
