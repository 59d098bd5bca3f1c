package users

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

var errMissingDatabase = errors.New("users: database connection required")

const (
	opServiceNew   = "users.service.new"
	opResolveActor = "users.resolve_actor"
	opLookup       = "users.lookup"
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages canonical user identifiers and answers whether a user exists.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolveActor maps session claims onto an Actor with a canonical user id.
// The first sighting of a provider+subject pair records a new identity.
func (s *Service) ResolveActor(ctx context.Context, claims auth.SessionClaims) (auth.Actor, error) {
	userID, err := s.resolveCanonicalUserID(ctx, claims)
	if err != nil {
		return auth.Actor{}, err
	}
	roles := make([]string, 0, len(claims.UserRoles))
	for _, role := range claims.UserRoles {
		if trimmed := normalize(role); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	return auth.Actor{UserID: userID, Roles: roles}, nil
}

func (s *Service) resolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", apperr.Unauthenticated(opResolveActor, "invalid_identity", ErrInvalidIdentity)
	}

	cacheKey := provider + ":" + subject
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		if canonicalIdentifier, ok := cachedIdentifier.(string); ok {
			return canonicalIdentifier, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where("provider = ? AND subject = ?", provider, subject).Take(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			AvatarURL:   normalize(claims.UserAvatarURL),
			LastSeenAt:  s.now().UTC(),
		}
		if err := db.Create(&identity).Error; err != nil {
			if !apperr.IsUniqueViolation(err) {
				s.logger.Error("identity insert failed", zap.String("operation", opResolveActor), zap.Error(err))
				return "", apperr.Internal(opResolveActor, "insert_failed", err)
			}
			if err := db.Where("provider = ? AND subject = ?", provider, subject).Take(&identity).Error; err != nil {
				return "", apperr.Internal(opResolveActor, "reload_failed", err)
			}
		}
	case err != nil:
		s.logger.Error("identity lookup failed", zap.String("operation", opResolveActor), zap.Error(err))
		return "", apperr.Internal(opResolveActor, "query_failed", err)
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		if avatar := normalize(claims.UserAvatarURL); avatar != "" && avatar != identity.AvatarURL {
			updates["user_avatar_url"] = avatar
		}
		if err := db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("operation", opResolveActor), zap.Error(err))
		}
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

// Lookup returns the most recently seen identity of a canonical user id.
func (s *Service) Lookup(ctx context.Context, userID string) (Identity, error) {
	if normalize(userID) == "" {
		return Identity{}, apperr.NotFound(opLookup, "user_missing", nil)
	}
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", normalize(userID)).
		Order("last_seen_at DESC").
		Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, apperr.NotFound(opLookup, "user_missing", err)
	}
	if err != nil {
		s.logger.Error("identity lookup failed", zap.String("operation", opLookup), zap.Error(err))
		return Identity{}, apperr.Internal(opLookup, "query_failed", err)
	}
	return identity, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
