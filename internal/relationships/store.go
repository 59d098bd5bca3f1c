package relationships

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/targets"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingResolver   = errors.New("target resolver is required")
	errMissingActor      = errors.New("actor id is required")
	errMissingTarget     = errors.New("target id is required")
	errUnknownKind       = errors.New("unknown relationship kind")
	errTargetNotAllowed  = errors.New("relationship kind does not accept this target type")
	errSelfFollow        = errors.New("users cannot follow themselves")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew   = "relationships.store.new"
	opToggle     = "relationships.toggle"
	opInsertEdge = "relationships.insert_edge"
	opExists     = "relationships.exists"
	opCount      = "relationships.count"
	opList       = "relationships.list_by_actor"
)

// TargetResolver confirms a target exists and reports who owns it.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, target targets.Ref) (ownerID string, err error)
}

type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Resolver   TargetResolver
	Logger     *zap.Logger
}

// Store persists like, bookmark and follow edges.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	resolver   TargetResolver
	logger     *zap.Logger
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Internal(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Resolver == nil {
		return nil, apperr.Internal(opStoreNew, "missing_resolver", errMissingResolver)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		resolver:   cfg.Resolver,
		logger:     logger,
	}, nil
}

// ToggleResult reports the edge state after a toggle. OwnerID is set only
// when the edge was created.
type ToggleResult struct {
	Active  bool
	OwnerID string
}

// Toggle flips the edge between actor and target: an existing edge is
// removed, a missing edge is created. Only creation consults the resolver,
// so edges to soft deleted or hidden targets can still be removed. A
// concurrent insert of the same edge surfaces as a conflict error.
func (s *Store) Toggle(ctx context.Context, kind Kind, actorID string, target targets.Ref) (ToggleResult, error) {
	if err := validateEdge(opToggle, kind, actorID, target); err != nil {
		return ToggleResult{}, err
	}

	removed := s.db.WithContext(ctx).
		Where("kind = ? AND actor_id = ? AND target_id = ? AND target_type = ?", kind, actorID, target.ID, target.Type).
		Delete(&Relationship{})
	if removed.Error != nil {
		s.logError(opToggle, "delete_failed", removed.Error, edgeFields(kind, actorID, target)...)
		return ToggleResult{}, apperr.Internal(opToggle, "delete_failed", removed.Error)
	}
	if removed.RowsAffected > 0 {
		return ToggleResult{Active: false}, nil
	}

	ownerID, err := s.resolver.ResolveTarget(ctx, target)
	if err != nil {
		return ToggleResult{}, err
	}
	if err := s.insertEdge(ctx, kind, actorID, target); err != nil {
		return ToggleResult{}, err
	}
	return ToggleResult{Active: true, OwnerID: ownerID}, nil
}

func (s *Store) insertEdge(ctx context.Context, kind Kind, actorID string, target targets.Ref) error {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opInsertEdge, "id_generation_failed", err, edgeFields(kind, actorID, target)...)
		return apperr.Internal(opInsertEdge, "id_generation_failed", err)
	}
	edge := Relationship{
		ID:         id,
		Kind:       kind,
		ActorID:    actorID,
		TargetID:   target.ID,
		TargetType: target.Type,
		CreatedAt:  s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&edge).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			return apperr.Conflict(opInsertEdge, "edge_exists", err)
		}
		s.logError(opInsertEdge, "insert_failed", err, edgeFields(kind, actorID, target)...)
		return apperr.Internal(opInsertEdge, "insert_failed", err)
	}
	return nil
}

// Exists reports whether actor currently holds the edge to target.
func (s *Store) Exists(ctx context.Context, kind Kind, actorID string, target targets.Ref) (bool, error) {
	if strings.TrimSpace(actorID) == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Relationship{}).
		Where("kind = ? AND actor_id = ? AND target_id = ? AND target_type = ?", kind, actorID, target.ID, target.Type).
		Count(&count).Error
	if err != nil {
		s.logError(opExists, "query_failed", err, edgeFields(kind, actorID, target)...)
		return false, apperr.Internal(opExists, "query_failed", err)
	}
	return count > 0, nil
}

// CountForTarget counts edges of kind pointing at target.
func (s *Store) CountForTarget(ctx context.Context, kind Kind, target targets.Ref) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Relationship{}).
		Where("kind = ? AND target_id = ? AND target_type = ?", kind, target.ID, target.Type).
		Count(&count).Error
	if err != nil {
		s.logError(opCount, "query_failed", err, zap.String("kind", string(kind)), zap.String("target", target.String()))
		return 0, apperr.Internal(opCount, "query_failed", err)
	}
	return count, nil
}

// ListByActor returns the actor's edges of kind, newest first.
func (s *Store) ListByActor(ctx context.Context, kind Kind, actorID string, limit int) ([]Relationship, error) {
	if !kind.valid() {
		return nil, apperr.Validation(opList, "unknown_kind", errUnknownKind)
	}
	if strings.TrimSpace(actorID) == "" {
		return nil, apperr.Validation(opList, "missing_actor", errMissingActor)
	}
	query := s.db.WithContext(ctx).
		Where("kind = ? AND actor_id = ?", kind, actorID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var edges []Relationship
	if err := query.Find(&edges).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("actor_id", actorID))
		return nil, apperr.Internal(opList, "query_failed", err)
	}
	return edges, nil
}

func validateEdge(operation string, kind Kind, actorID string, target targets.Ref) error {
	if !kind.valid() {
		return apperr.Validation(operation, "unknown_kind", errUnknownKind)
	}
	if strings.TrimSpace(actorID) == "" {
		return apperr.Validation(operation, "missing_actor", errMissingActor)
	}
	if strings.TrimSpace(target.ID) == "" {
		return apperr.Validation(operation, "missing_target", errMissingTarget)
	}
	if !kind.Allows(target.Type) {
		return apperr.Validation(operation, "target_type_not_allowed", errTargetNotAllowed)
	}
	if kind == KindFollow && target.ID == actorID {
		return apperr.Validation(operation, "self_follow", errSelfFollow)
	}
	return nil
}

func edgeFields(kind Kind, actorID string, target targets.Ref) []zap.Field {
	return []zap.Field{
		zap.String("kind", string(kind)),
		zap.String("actor_id", actorID),
		zap.String("target", target.String()),
	}
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("relationship store error", attrs...)
}
