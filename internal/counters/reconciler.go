package counters

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/relationships"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/targets"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Counter names a denormalized counter on a content item.
type Counter string

const (
	CounterLikes     Counter = "likes"
	CounterBookmarks Counter = "bookmarks"
	CounterComments  Counter = "comments"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errUnknownCounter  = errors.New("unknown counter")
	noOpLogger         = zap.NewNop()
)

const (
	opReconcilerNew         = "counters.reconciler.new"
	opReconcile             = "counters.reconcile"
	opReconcileCommentLikes = "counters.reconcile_comment_likes"
	opReconcileAll          = "counters.reconcile_all"
	defaultSweepBatchSize   = 200
)

type ReconcilerConfig struct {
	Database  *gorm.DB
	BatchSize int
	Logger    *zap.Logger
}

// Reconciler rewrites counters from the authoritative relationship and
// comment tables. It never increments or decrements.
type Reconciler struct {
	db        *gorm.DB
	batchSize int
	logger    *zap.Logger
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opReconcilerNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &Reconciler{db: cfg.Database, batchSize: batchSize, logger: logger}, nil
}

// ItemCounts holds the reconciled counters of one item.
type ItemCounts struct {
	Likes     int64
	Bookmarks int64
	Comments  int64
}

// SweepSummary reports how many rows a full sweep touched.
type SweepSummary struct {
	Items    int
	Comments int
}

// Reconcile recomputes one counter of an item and returns the stored value.
func (r *Reconciler) Reconcile(ctx context.Context, itemID string, counter Counter) (int64, error) {
	column, source, err := r.itemCounterSource(ctx, itemID, counter)
	if err != nil {
		return 0, err
	}
	return r.writeBack(ctx, opReconcile, &content.Item{}, itemID, column, source)
}

// ReconcileCommentLikes recomputes the like counter of a comment.
func (r *Reconciler) ReconcileCommentLikes(ctx context.Context, commentID string) (int64, error) {
	source := r.db.WithContext(ctx).
		Model(&relationships.Relationship{}).
		Select("COUNT(*)").
		Where("kind = ? AND target_id = ? AND target_type = ?", relationships.KindLike, commentID, targets.TypeComment)
	return r.writeBack(ctx, opReconcileCommentLikes, &comments.Comment{}, commentID, "likes_count", source)
}

// ReconcileItem recomputes every counter of an item.
func (r *Reconciler) ReconcileItem(ctx context.Context, itemID string) (ItemCounts, error) {
	var counts ItemCounts
	for _, entry := range []struct {
		counter Counter
		target  *int64
	}{
		{CounterLikes, &counts.Likes},
		{CounterBookmarks, &counts.Bookmarks},
		{CounterComments, &counts.Comments},
	} {
		value, err := r.Reconcile(ctx, itemID, entry.counter)
		if err != nil {
			return ItemCounts{}, err
		}
		*entry.target = value
	}
	return counts, nil
}

// ReconcileAll sweeps every item and comment.
func (r *Reconciler) ReconcileAll(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary

	var itemIDs []string
	if err := r.db.WithContext(ctx).Model(&content.Item{}).Order("id ASC").Pluck("id", &itemIDs).Error; err != nil {
		r.logError(opReconcileAll, "item_scan_failed", err)
		return summary, apperr.Internal(opReconcileAll, "item_scan_failed", err)
	}
	for _, itemID := range itemIDs {
		if err := ctx.Err(); err != nil {
			return summary, apperr.Internal(opReconcileAll, "cancelled", err)
		}
		if _, err := r.ReconcileItem(ctx, itemID); err != nil {
			return summary, err
		}
		summary.Items++
	}

	var commentIDs []string
	if err := r.db.WithContext(ctx).Model(&comments.Comment{}).Order("id ASC").Pluck("id", &commentIDs).Error; err != nil {
		r.logError(opReconcileAll, "comment_scan_failed", err)
		return summary, apperr.Internal(opReconcileAll, "comment_scan_failed", err)
	}
	for start := 0; start < len(commentIDs); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return summary, apperr.Internal(opReconcileAll, "cancelled", err)
		}
		end := min(start+r.batchSize, len(commentIDs))
		for _, commentID := range commentIDs[start:end] {
			if _, err := r.ReconcileCommentLikes(ctx, commentID); err != nil {
				return summary, err
			}
			summary.Comments++
		}
	}

	r.logger.Info("counter sweep completed",
		zap.Int("items", summary.Items),
		zap.Int("comments", summary.Comments))
	return summary, nil
}

func (r *Reconciler) itemCounterSource(ctx context.Context, itemID string, counter Counter) (string, *gorm.DB, error) {
	db := r.db.WithContext(ctx)
	switch counter {
	case CounterLikes, CounterBookmarks:
		kind := relationships.KindLike
		if counter == CounterBookmarks {
			kind = relationships.KindBookmark
		}
		source := db.Model(&relationships.Relationship{}).
			Select("COUNT(*)").
			Where("kind = ? AND target_id = ? AND target_type IN ?", kind, itemID, targets.ContentTypeStrings())
		return fmt.Sprintf("%s_count", counter), source, nil
	case CounterComments:
		source := db.Model(&comments.Comment{}).
			Select("COUNT(*)").
			Where("content_item_id = ?", itemID)
		return "comments_count", source, nil
	default:
		return "", nil, apperr.Validation(opReconcile, "unknown_counter", errUnknownCounter)
	}
}

func (r *Reconciler) writeBack(ctx context.Context, operation string, model interface{}, id, column string, source *gorm.DB) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		UpdateColumn(column, source)
	if result.Error != nil {
		r.logError(operation, "update_failed", result.Error, zap.String("id", id), zap.String("column", column))
		return 0, apperr.Internal(operation, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, apperr.NotFound(operation, "row_missing", nil)
	}

	var value int64
	if err := r.db.WithContext(ctx).Model(model).Select(column).Where("id = ?", id).Row().Scan(&value); err != nil {
		r.logError(operation, "reload_failed", err, zap.String("id", id), zap.String("column", column))
		return 0, apperr.Internal(operation, "reload_failed", err)
	}
	return value, nil
}

func (r *Reconciler) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("counter reconciler error", attrs...)
}
