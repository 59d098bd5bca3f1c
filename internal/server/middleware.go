package server

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultRateLimitRPS   = 10
	defaultRateLimitBurst = 20
	limiterIdleTTL        = 10 * time.Minute
)

// authenticate attaches the session actor when credentials are present.
// Requests without credentials continue anonymously; bad credentials are rejected.
func (h *httpHandler) authenticate(c *gin.Context) {
	claims, err := h.sessionClaims(c)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		c.Next()
		return
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	actor, err := h.actors.ResolveActor(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("actor resolution failed", zap.Error(err))
		respondError(c, err)
		c.Abort()
		return
	}
	c.Set(actorContextKey, actor)
	c.Next()
}

func (h *httpHandler) sessionClaims(c *gin.Context) (auth.SessionClaims, error) {
	token, err := requestSessionToken(c, h.sessions.CookieName())
	if err != nil {
		return auth.SessionClaims{}, err
	}
	return h.sessions.ValidateToken(token)
}

// requestSessionToken reads a bearer token from the Authorization header, falling
// back to the session cookie. A header with another scheme is rejected
// rather than ignored.
func requestSessionToken(c *gin.Context, cookieName string) (string, error) {
	if header := strings.TrimSpace(c.GetHeader("Authorization")); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return "", auth.ErrInvalidSessionToken
		}
		return token, nil
	}
	token, err := c.Cookie(cookieName)
	if err != nil || strings.TrimSpace(token) == "" {
		return "", auth.ErrMissingSessionToken
	}
	return token, nil
}

func (h *httpHandler) requireActor(c *gin.Context) {
	if !actorFromContext(c).Authenticated() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.Next()
}

func (h *httpHandler) rateLimit(c *gin.Context) {
	key := actorFromContext(c).UserID
	if key == "" {
		key = "ip:" + c.ClientIP()
	}
	if !h.limiter.allow(key) {
		h.logger.Info("request rate limited", zap.String("key", key), zap.String("route", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}
	c.Next()
}

func actorFromContext(c *gin.Context) auth.Actor {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return auth.Actor{}
	}
	actor, _ := value.(auth.Actor)
	return actor
}

// actorLimiter keeps one token bucket per actor (or client address).
// Buckets idle for longer than idleTTL are dropped on the next sweep.
type actorLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rps       rate.Limit
	burst     int
	idleTTL   time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newActorLimiter(rps float64, burst int) *actorLimiter {
	if rps <= 0 {
		rps = defaultRateLimitRPS
	}
	if burst <= 0 {
		burst = defaultRateLimitBurst
	}
	return &actorLimiter{
		limiters:  make(map[string]*limiterEntry),
		rps:       rate.Limit(rps),
		burst:     burst,
		idleTTL:   limiterIdleTTL,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

func (l *actorLimiter) allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}
	entry, exists := l.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// sweep must be called with mu held.
func (l *actorLimiter) sweep(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.idleTTL {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}
