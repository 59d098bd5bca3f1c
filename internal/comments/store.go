package comments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/ids"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingContent    = errors.New("content lookup is required")
	errMissingActor      = errors.New("actor identity is required")
	errNotAuthor         = errors.New("only the author or a moderator may change this comment")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew   = "comments.store.new"
	opPost       = "comments.post"
	opEdit       = "comments.edit"
	opSoftDelete = "comments.soft_delete"
	opListTree   = "comments.list_tree"
	opGet        = "comments.get"

	textRules = "notblank,max=1000"
)

// ContentLookup resolves visible content items.
type ContentLookup interface {
	GetVisible(ctx context.Context, itemID string) (content.Item, error)
}

type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Content    ContentLookup
	Logger     *zap.Logger
}

// Store persists comment trees.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	content    ContentLookup
	validate   *validator.Validate
	logger     *zap.Logger
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Internal(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Content == nil {
		return nil, apperr.Internal(opStoreNew, "missing_content_lookup", errMissingContent)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return nil, apperr.Internal(opStoreNew, "validator_setup_failed", err)
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		content:    cfg.Content,
		validate:   validate,
		logger:     logger,
	}, nil
}

// Posted describes a stored comment together with the users it concerns.
type Posted struct {
	Comment        Comment
	ContentOwnerID string
	ParentAuthorID string
}

// Post stores a top-level comment, or a reply when parentID names a live
// top-level comment on the same item.
func (s *Store) Post(ctx context.Context, actor auth.Actor, itemID, text string, parentID *string) (Posted, error) {
	if !actor.Authenticated() {
		return Posted{}, apperr.Unauthenticated(opPost, "missing_actor", errMissingActor)
	}
	if err := s.validateText(opPost, text); err != nil {
		return Posted{}, err
	}
	item, err := s.content.GetVisible(ctx, itemID)
	if err != nil {
		return Posted{}, err
	}

	posted := Posted{ContentOwnerID: item.OwnerID}
	var parentRef *string
	if parentID != nil && strings.TrimSpace(*parentID) != "" {
		parent, err := s.loadParent(ctx, item.ID, strings.TrimSpace(*parentID))
		if err != nil {
			return Posted{}, err
		}
		parentRef = &parent.ID
		posted.ParentAuthorID = parent.ActorID
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opPost, "id_generation_failed", err, zap.String("content_item_id", item.ID))
		return Posted{}, apperr.Internal(opPost, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	comment := Comment{
		ID:            id,
		ContentItemID: item.ID,
		ActorID:       actor.UserID,
		ParentID:      parentRef,
		Content:       text,
		State:         StateActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opPost, "insert_failed", err, zap.String("content_item_id", item.ID))
		return Posted{}, apperr.Internal(opPost, "insert_failed", err)
	}
	posted.Comment = comment
	return posted, nil
}

func (s *Store) loadParent(ctx context.Context, itemID, parentID string) (Comment, error) {
	var parent Comment
	err := s.db.WithContext(ctx).Where("id = ?", parentID).Take(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Comment{}, apperr.NotFound(opPost, "parent_missing", err)
	}
	if err != nil {
		s.logError(opPost, "parent_query_failed", err, zap.String("parent_id", parentID))
		return Comment{}, apperr.Internal(opPost, "parent_query_failed", err)
	}
	if parent.ContentItemID != itemID || !parent.IsTopLevel() || parent.IsDeleted() {
		return Comment{}, apperr.NotFound(opPost, "parent_missing", nil)
	}
	return parent, nil
}

// Edit replaces the text of a live comment.
func (s *Store) Edit(ctx context.Context, actor auth.Actor, commentID, text string) (Comment, error) {
	if !actor.Authenticated() {
		return Comment{}, apperr.Unauthenticated(opEdit, "missing_actor", errMissingActor)
	}
	if err := s.validateText(opEdit, text); err != nil {
		return Comment{}, err
	}
	comment, err := s.load(ctx, opEdit, commentID)
	if err != nil {
		return Comment{}, err
	}
	if comment.IsDeleted() {
		return Comment{}, apperr.NotFound(opEdit, "comment_deleted", nil)
	}
	if !mayModify(actor, comment) {
		return Comment{}, apperr.Permission(opEdit, "not_author", errNotAuthor)
	}

	now := s.clock().UTC()
	result := s.db.WithContext(ctx).
		Model(&Comment{}).
		Where("id = ? AND state = ?", comment.ID, StateActive).
		Updates(map[string]interface{}{"content": text, "updated_at": now})
	if result.Error != nil {
		s.logError(opEdit, "update_failed", result.Error, zap.String("comment_id", comment.ID))
		return Comment{}, apperr.Internal(opEdit, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Comment{}, apperr.NotFound(opEdit, "comment_deleted", nil)
	}
	comment.Content = text
	comment.UpdatedAt = now
	return comment, nil
}

// SoftDelete replaces the comment text with DeletedPlaceholder and marks it
// deleted. Replies are left untouched. Deleting twice is a no-op.
func (s *Store) SoftDelete(ctx context.Context, actor auth.Actor, commentID string) (Comment, error) {
	if !actor.Authenticated() {
		return Comment{}, apperr.Unauthenticated(opSoftDelete, "missing_actor", errMissingActor)
	}
	comment, err := s.load(ctx, opSoftDelete, commentID)
	if err != nil {
		return Comment{}, err
	}
	if !mayModify(actor, comment) {
		return Comment{}, apperr.Permission(opSoftDelete, "not_author", errNotAuthor)
	}
	if comment.IsDeleted() {
		return comment, nil
	}

	now := s.clock().UTC()
	if err := s.db.WithContext(ctx).
		Model(&Comment{}).
		Where("id = ?", comment.ID).
		Updates(map[string]interface{}{
			"state":      StateDeleted,
			"content":    DeletedPlaceholder,
			"updated_at": now,
		}).Error; err != nil {
		s.logError(opSoftDelete, "update_failed", err, zap.String("comment_id", comment.ID))
		return Comment{}, apperr.Internal(opSoftDelete, "update_failed", err)
	}
	comment.State = StateDeleted
	comment.Content = DeletedPlaceholder
	comment.UpdatedAt = now
	return comment, nil
}

// ListTree returns the threads of an item ordered by creation time at both
// levels, soft deleted comments included.
func (s *Store) ListTree(ctx context.Context, itemID string) ([]Thread, error) {
	var rows []Comment
	if err := s.db.WithContext(ctx).
		Where("content_item_id = ?", itemID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		s.logError(opListTree, "query_failed", err, zap.String("content_item_id", itemID))
		return nil, apperr.Internal(opListTree, "query_failed", err)
	}

	threads := make([]Thread, 0, len(rows))
	positions := make(map[string]int, len(rows))
	for _, row := range rows {
		if row.IsTopLevel() {
			positions[row.ID] = len(threads)
			threads = append(threads, Thread{Comment: row, Replies: []Comment{}})
		}
	}
	for _, row := range rows {
		if row.IsTopLevel() {
			continue
		}
		position, ok := positions[*row.ParentID]
		if !ok {
			continue
		}
		threads[position].Replies = append(threads[position].Replies, row)
	}
	return threads, nil
}

// Get loads a single comment.
func (s *Store) Get(ctx context.Context, commentID string) (Comment, error) {
	return s.load(ctx, opGet, commentID)
}

func (s *Store) load(ctx context.Context, operation, commentID string) (Comment, error) {
	var comment Comment
	err := s.db.WithContext(ctx).Where("id = ?", commentID).Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Comment{}, apperr.NotFound(operation, "comment_missing", err)
	}
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("comment_id", commentID))
		return Comment{}, apperr.Internal(operation, "query_failed", err)
	}
	return comment, nil
}

func (s *Store) validateText(operation, text string) error {
	err := s.validate.Var(text, textRules)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		switch validationErrs[0].Tag() {
		case "max":
			return apperr.Validation(operation, "text_too_long", err)
		default:
			return apperr.Validation(operation, "text_blank", err)
		}
	}
	return apperr.Validation(operation, "text_invalid", err)
}

func mayModify(actor auth.Actor, comment Comment) bool {
	return actor.UserID == comment.ActorID || actor.IsModerator()
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
	s.logger.Error("comment store error", attrs...)
}
