package content

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
	errInvalidKind       = errors.New("content kind must be post, activity, project or resource")
	errMissingOwner      = errors.New("owner id is required")
	errInvalidStatus     = errors.New("unknown content status")
	errInvalidPoll       = errors.New("poll requires distinct non-empty options")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew  = "content.service.new"
	opCreate      = "content.create"
	opGet         = "content.get"
	opSetStatus   = "content.set_status"
	opRecordView  = "content.record_view"
	maxTitleRunes = 512
)

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service owns content items as interaction targets.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Internal(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// NewItem describes an item to create.
type NewItem struct {
	Kind    targets.Type
	OwnerID string
	Title   string
	Status  Status
	Poll    Poll
}

// Create persists a new item with zeroed counters.
func (s *Service) Create(ctx context.Context, input NewItem) (Item, error) {
	if !input.Kind.IsContent() {
		return Item{}, apperr.Validation(opCreate, "invalid_kind", errInvalidKind)
	}
	ownerID := strings.TrimSpace(input.OwnerID)
	if ownerID == "" {
		return Item{}, apperr.Validation(opCreate, "missing_owner", errMissingOwner)
	}
	status := input.Status
	if status == "" {
		status = StatusPublished
	}
	if !validStatus(status) {
		return Item{}, apperr.Validation(opCreate, "invalid_status", errInvalidStatus)
	}
	title := strings.TrimSpace(input.Title)
	if len([]rune(title)) > maxTitleRunes {
		return Item{}, apperr.Validation(opCreate, "title_too_long", nil)
	}
	poll := input.Poll
	if poll.HasVoting {
		if err := validatePollOptions(poll.VoteOptions); err != nil {
			return Item{}, apperr.Validation(opCreate, "invalid_poll", err)
		}
		if poll.VoteDeadline != nil {
			deadline := poll.VoteDeadline.UTC()
			poll.VoteDeadline = &deadline
		}
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Item{}, apperr.Internal(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	item := Item{
		ID:        id,
		Kind:      input.Kind,
		OwnerID:   ownerID,
		Title:     title,
		Status:    status,
		Poll:      poll,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("owner_id", ownerID))
		return Item{}, apperr.Internal(opCreate, "insert_failed", err)
	}
	return item, nil
}

// Get loads an item regardless of status.
func (s *Service) Get(ctx context.Context, itemID string) (Item, error) {
	var item Item
	err := s.db.WithContext(ctx).Where("id = ?", itemID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Item{}, apperr.NotFound(opGet, "item_missing", err)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("content_item_id", itemID))
		return Item{}, apperr.Internal(opGet, "query_failed", err)
	}
	return item, nil
}

// GetVisible loads a published item; drafts and deleted items are NotFound.
func (s *Service) GetVisible(ctx context.Context, itemID string) (Item, error) {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	if !item.Visible() {
		return Item{}, apperr.NotFound(opGet, "item_not_visible", nil)
	}
	return item, nil
}

// SetStatus moves an item through its lifecycle.
func (s *Service) SetStatus(ctx context.Context, itemID string, status Status) error {
	if !validStatus(status) {
		return apperr.Validation(opSetStatus, "invalid_status", errInvalidStatus)
	}
	result := s.db.WithContext(ctx).
		Model(&Item{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{"status": status, "updated_at": s.clock().UTC()})
	if result.Error != nil {
		s.logError(opSetStatus, "update_failed", result.Error, zap.String("content_item_id", itemID))
		return apperr.Internal(opSetStatus, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound(opSetStatus, "item_missing", nil)
	}
	return nil
}

// RecordView atomically increments the view counter of a visible item and
// returns the stored value.
func (s *Service) RecordView(ctx context.Context, itemID string) (int64, error) {
	var views int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Item{}).
			Where("id = ? AND status = ?", itemID, StatusPublished).
			UpdateColumn("views", gorm.Expr("views + ?", 1))
		if result.Error != nil {
			s.logError(opRecordView, "update_failed", result.Error, zap.String("content_item_id", itemID))
			return apperr.Internal(opRecordView, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperr.NotFound(opRecordView, "item_missing", nil)
		}
		if err := tx.Model(&Item{}).Select("views").Where("id = ?", itemID).Row().Scan(&views); err != nil {
			s.logError(opRecordView, "reload_failed", err, zap.String("content_item_id", itemID))
			return apperr.Internal(opRecordView, "reload_failed", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return views, nil
}

func validStatus(status Status) bool {
	switch status {
	case StatusDraft, StatusPublished, StatusDeleted:
		return true
	default:
		return false
	}
}

func validatePollOptions(options []string) error {
	if len(options) == 0 {
		return errInvalidPoll
	}
	seen := make(map[string]struct{}, len(options))
	for _, option := range options {
		if strings.TrimSpace(option) == "" {
			return errInvalidPoll
		}
		if _, ok := seen[option]; ok {
			return errInvalidPoll
		}
		seen[option] = struct{}{}
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("content service error", attrs...)
}
