package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingRecipient  = errors.New("recipient id is required")
	errUnknownType       = errors.New("unknown notification type")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "notifications.service.new"
	opNotify     = "notifications.notify"
	opList       = "notifications.list"
	opMarkRead   = "notifications.mark_read"

	defaultTimeout   = 5 * time.Second
	defaultListLimit = 50
	maxListLimit     = 200

	StageValidate = "validate"
	StagePersist  = "persist"
	StagePublish  = "publish"
)

// Publisher forwards stored notifications to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, notification Notification) error
}

// FailureRecorder counts dropped notifications by stage.
type FailureRecorder interface {
	NotificationFailed(stage string)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Publisher  Publisher
	Failures   FailureRecorder
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Service stores notifications and hands them to a Publisher.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	publisher  Publisher
	failures   FailureRecorder
	timeout    time.Duration
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
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		publisher:  cfg.Publisher,
		failures:   cfg.Failures,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Notify stores and publishes a notification. It never fails the caller:
// problems are logged and counted. Self-notifications and notices without a
// recipient are skipped. The caller's cancellation does not abort delivery.
func (s *Service) Notify(ctx context.Context, notice Notice) {
	recipientID := strings.TrimSpace(notice.RecipientID)
	if recipientID == "" || recipientID == notice.ActorID {
		return
	}
	if !notice.Type.valid() {
		s.dropped(StageValidate, errUnknownType, notice)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	id, err := s.idProvider.NewID()
	if err != nil {
		s.dropped(StagePersist, err, notice)
		return
	}
	notification := Notification{
		ID:          id,
		RecipientID: recipientID,
		ActorID:     notice.ActorID,
		Type:        notice.Type,
		Title:       notice.Title,
		Message:     notice.Message,
		Payload:     notice.Payload,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		s.dropped(StagePersist, err, notice)
		return
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, notification); err != nil {
		s.dropped(StagePublish, err, notice)
	}
}

// List returns the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, recipientID string, limit int, unreadOnly bool) ([]Notification, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, apperr.Validation(opList, "missing_recipient", errMissingRecipient)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	query := s.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	var notifications []Notification
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&notifications).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("recipient_id", recipientID))
		return nil, apperr.Internal(opList, "query_failed", err)
	}
	return notifications, nil
}

// MarkRead flags the given notifications as read, or all of the recipient's
// notifications when notificationIDs is empty. It returns the rows changed.
func (s *Service) MarkRead(ctx context.Context, recipientID string, notificationIDs []string) (int64, error) {
	if strings.TrimSpace(recipientID) == "" {
		return 0, apperr.Validation(opMarkRead, "missing_recipient", errMissingRecipient)
	}
	query := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false)
	if len(notificationIDs) > 0 {
		query = query.Where("id IN ?", notificationIDs)
	}
	result := query.Update("is_read", true)
	if result.Error != nil {
		s.logError(opMarkRead, "update_failed", result.Error, zap.String("recipient_id", recipientID))
		return 0, apperr.Internal(opMarkRead, "update_failed", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) dropped(stage string, err error, notice Notice) {
	s.logger.Warn("notification dropped",
		zap.String("operation", opNotify),
		zap.String("reason", stage+"_failed"),
		zap.Error(err),
		zap.String("recipient_id", notice.RecipientID),
		zap.String("actor_id", notice.ActorID),
		zap.String("type", string(notice.Type)))
	if s.failures != nil {
		s.failures.NotificationFailed(stage)
	}
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
	s.logger.Error("notification service error", attrs...)
}
