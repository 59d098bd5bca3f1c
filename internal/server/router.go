package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/interactions"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notifications"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const actorContextKey = "agora_actor"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingActorResolver    = errors.New("actor resolver dependency required")
	errMissingInteractions     = errors.New("interactions service dependency required")
	errMissingInbox            = errors.New("notification inbox dependency required")
)

type SessionValidator interface {
	ValidateToken(raw string) (auth.SessionClaims, error)
	CookieName() string
}

type ActorResolver interface {
	ResolveActor(ctx context.Context, claims auth.SessionClaims) (auth.Actor, error)
}

type NotificationInbox interface {
	List(ctx context.Context, recipientID string, limit int, unreadOnly bool) ([]notifications.Notification, error)
	MarkRead(ctx context.Context, recipientID string, notificationIDs []string) (int64, error)
}

type RealtimeSubscriber interface {
	Subscribe(ctx context.Context, recipientID string) (<-chan notifications.Notification, func())
}

type Dependencies struct {
	Sessions          SessionValidator
	Actors            ActorResolver
	Interactions      *interactions.Service
	Inbox             NotificationInbox
	Realtime          RealtimeSubscriber
	Metrics           *metrics.Recorder
	HealthCheck       func(ctx context.Context) error
	AllowedOrigins    []string
	RateLimitRPS      float64
	RateLimitBurst    int
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Actors == nil {
		return nil, errMissingActorResolver
	}
	if deps.Interactions == nil {
		return nil, errMissingInteractions
	}
	if deps.Inbox == nil {
		return nil, errMissingInbox
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	handler := &httpHandler{
		sessions:     deps.Sessions,
		actors:       deps.Actors,
		interactions: deps.Interactions,
		inbox:        deps.Inbox,
		realtime:     deps.Realtime,
		metrics:      deps.Metrics,
		healthCheck:  deps.HealthCheck,
		limiter:      newActorLimiter(deps.RateLimitRPS, deps.RateLimitBurst),
		heartbeat:    heartbeat,
		logger:       logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(handler.observeRequest)

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	public := router.Group("/")
	public.Use(handler.authenticate)
	public.GET("/content/:id/comments", handler.handleListComments)
	public.GET("/content/:id/state", handler.handleContentState)
	public.POST("/content/:id/views", handler.rateLimit, handler.handleRecordView)
	public.GET("/polls/:id/votes", handler.handleTally)

	protected := router.Group("/")
	protected.Use(handler.authenticate, handler.requireActor, handler.rateLimit)
	protected.POST("/interactions/like", handler.handleToggleLike)
	protected.POST("/interactions/bookmark", handler.handleToggleBookmark)
	protected.POST("/interactions/follow", handler.handleToggleFollow)
	protected.POST("/comments", handler.handlePostComment)
	protected.PUT("/comments/:id", handler.handleEditComment)
	protected.DELETE("/comments/:id", handler.handleDeleteComment)
	protected.POST("/polls/:id/votes", handler.handleCastVote)
	protected.GET("/me/bookmarks", handler.handleListBookmarks)
	protected.GET("/me/following", handler.handleListFollowing)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications/read", handler.handleMarkRead)

	stream := router.Group("/")
	stream.Use(handler.authenticate, handler.requireActor)
	stream.GET("/notifications/stream", handler.handleNotificationStream)

	return router, nil
}

type httpHandler struct {
	sessions     SessionValidator
	actors       ActorResolver
	interactions *interactions.Service
	inbox        NotificationInbox
	realtime     RealtimeSubscriber
	metrics      *metrics.Recorder
	healthCheck  func(ctx context.Context) error
	limiter      *actorLimiter
	heartbeat    time.Duration
	logger       *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.healthCheck != nil {
		if err := h.healthCheck(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) observeRequest(c *gin.Context) {
	started := time.Now()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	h.metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(started))
}
