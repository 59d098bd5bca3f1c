package interactions

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/counters"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/relationships"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/targets"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/votes"
	"go.uber.org/zap"
)

const (
	opServiceNew    = "interactions.service.new"
	opToggleLike    = "interactions.toggle_like"
	opToggleBook    = "interactions.toggle_bookmark"
	opToggleFollow  = "interactions.toggle_follow"
	opPostComment   = "interactions.post_comment"
	opEditComment   = "interactions.edit_comment"
	opDeleteComment = "interactions.delete_comment"
	opListComments  = "interactions.list_comments"
	opCastVote      = "interactions.cast_vote"
	opTallyVotes    = "interactions.tally_votes"
	opContentState  = "interactions.content_state"
	opRecordView    = "interactions.record_view"
	opListBookmarks = "interactions.list_bookmarks"
	opListFollowing = "interactions.list_following"

	defaultListLimit = 50
	maxListLimit     = 200

	outcomeOK = "ok"
)

var (
	errMissingContent       = errors.New("content store is required")
	errMissingRelationships = errors.New("relationship store is required")
	errMissingComments      = errors.New("comment store is required")
	errMissingVotes         = errors.New("vote store is required")
	errMissingCounters      = errors.New("counter reconciler is required")
	errMissingNotifier      = errors.New("notifier is required")
	errMissingActor         = errors.New("actor identity is required")
)

type ContentStore interface {
	GetVisible(ctx context.Context, itemID string) (content.Item, error)
	RecordView(ctx context.Context, itemID string) (int64, error)
}

type RelationshipStore interface {
	Toggle(ctx context.Context, kind relationships.Kind, actorID string, target targets.Ref) (relationships.ToggleResult, error)
	Exists(ctx context.Context, kind relationships.Kind, actorID string, target targets.Ref) (bool, error)
	CountForTarget(ctx context.Context, kind relationships.Kind, target targets.Ref) (int64, error)
	ListByActor(ctx context.Context, kind relationships.Kind, actorID string, limit int) ([]relationships.Relationship, error)
}

type CommentStore interface {
	Post(ctx context.Context, actor auth.Actor, itemID, text string, parentID *string) (comments.Posted, error)
	Edit(ctx context.Context, actor auth.Actor, commentID, text string) (comments.Comment, error)
	SoftDelete(ctx context.Context, actor auth.Actor, commentID string) (comments.Comment, error)
	ListTree(ctx context.Context, itemID string) ([]comments.Thread, error)
}

type VoteStore interface {
	Cast(ctx context.Context, actorID, pollID, option string) (votes.CastResult, error)
	Tally(ctx context.Context, pollID, viewerID string) (votes.Tally, error)
}

type CounterReconciler interface {
	Reconcile(ctx context.Context, itemID string, counter counters.Counter) (int64, error)
	ReconcileCommentLikes(ctx context.Context, commentID string) (int64, error)
}

type Notifier interface {
	Notify(ctx context.Context, notice notifications.Notice)
}

// Metrics receives per-operation outcomes and reconcile failures.
type Metrics interface {
	ObserveInteraction(operation, outcome string)
	ReconcileFailed(counter string)
}

type Config struct {
	Content       ContentStore
	Relationships RelationshipStore
	Comments      CommentStore
	Votes         VoteStore
	Counters      CounterReconciler
	Notifier      Notifier
	Metrics       Metrics
	Logger        *zap.Logger
}

// Service is the interaction gateway. Every mutating operation runs in a
// fixed order: authenticate, validate, mutate, reconcile, notify, respond.
// Reconcile and notify failures never undo the mutation.
type Service struct {
	content       ContentStore
	relationships RelationshipStore
	comments      CommentStore
	votes         VoteStore
	counters      CounterReconciler
	notifier      Notifier
	metrics       Metrics
	logger        *zap.Logger
}

func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Content == nil:
		return nil, apperr.Internal(opServiceNew, "missing_content", errMissingContent)
	case cfg.Relationships == nil:
		return nil, apperr.Internal(opServiceNew, "missing_relationships", errMissingRelationships)
	case cfg.Comments == nil:
		return nil, apperr.Internal(opServiceNew, "missing_comments", errMissingComments)
	case cfg.Votes == nil:
		return nil, apperr.Internal(opServiceNew, "missing_votes", errMissingVotes)
	case cfg.Counters == nil:
		return nil, apperr.Internal(opServiceNew, "missing_counters", errMissingCounters)
	case cfg.Notifier == nil:
		return nil, apperr.Internal(opServiceNew, "missing_notifier", errMissingNotifier)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		content:       cfg.Content,
		relationships: cfg.Relationships,
		comments:      cfg.Comments,
		votes:         cfg.Votes,
		counters:      cfg.Counters,
		notifier:      cfg.Notifier,
		metrics:       cfg.Metrics,
		logger:        logger,
	}, nil
}

// ToggleOutcome is the state after a toggle. Count is nil when the counter
// could not be reconciled.
type ToggleOutcome struct {
	Active bool
	Count  *int64
}

// CommentOutcome is a stored comment and the item's comment count.
type CommentOutcome struct {
	Comment       comments.Comment
	CommentsCount *int64
}

// ContentState is the public counters of an item plus the viewer's flags.
type ContentState struct {
	ItemID         string
	Kind           targets.Type
	LikesCount     int64
	CommentsCount  int64
	BookmarksCount int64
	Views          int64
	HasVoting      bool
	Liked          bool
	Bookmarked     bool
}

// ToggleLike likes or unlikes a content item or a comment.
func (s *Service) ToggleLike(ctx context.Context, actor auth.Actor, target targets.Ref) (ToggleOutcome, error) {
	result, active, err := s.toggle(ctx, opToggleLike, relationships.KindLike, actor, target)
	if err != nil {
		return ToggleOutcome{}, err
	}
	outcome := ToggleOutcome{Active: active}
	if target.Type == targets.TypeComment {
		outcome.Count = s.reconcileCommentLikes(ctx, target.ID)
	} else {
		outcome.Count = s.reconcile(ctx, target.ID, counters.CounterLikes)
	}
	if result.Active {
		s.notifier.Notify(ctx, notifications.Notice{
			RecipientID: result.OwnerID,
			ActorID:     actor.UserID,
			Type:        notifications.TypeLike,
			Title:       "New like",
			Message:     "Someone liked your " + string(target.Type),
			Payload:     targetPayload(target),
		})
	}
	s.observe(opToggleLike, nil)
	return outcome, nil
}

// ToggleBookmark bookmarks or unbookmarks a content item. Bookmarks do not notify.
func (s *Service) ToggleBookmark(ctx context.Context, actor auth.Actor, target targets.Ref) (ToggleOutcome, error) {
	_, active, err := s.toggle(ctx, opToggleBook, relationships.KindBookmark, actor, target)
	if err != nil {
		return ToggleOutcome{}, err
	}
	outcome := ToggleOutcome{
		Active: active,
		Count:  s.reconcile(ctx, target.ID, counters.CounterBookmarks),
	}
	s.observe(opToggleBook, nil)
	return outcome, nil
}

// ToggleFollow follows or unfollows a user. Count is the followed user's
// follower count.
func (s *Service) ToggleFollow(ctx context.Context, actor auth.Actor, userID string) (ToggleOutcome, error) {
	target := targets.Ref{ID: userID, Type: targets.TypeUser}
	result, active, err := s.toggle(ctx, opToggleFollow, relationships.KindFollow, actor, target)
	if err != nil {
		return ToggleOutcome{}, err
	}
	outcome := ToggleOutcome{Active: active}
	if followers, err := s.relationships.CountForTarget(ctx, relationships.KindFollow, target); err != nil {
		s.logger.Warn("follower count failed",
			zap.String("operation", opToggleFollow),
			zap.String("user_id", userID),
			zap.Error(err))
	} else {
		outcome.Count = &followers
	}
	if result.Active {
		s.notifier.Notify(ctx, notifications.Notice{
			RecipientID: result.OwnerID,
			ActorID:     actor.UserID,
			Type:        notifications.TypeFollow,
			Title:       "New follower",
			Message:     "Someone started following you",
			Payload:     map[string]string{"follower_id": actor.UserID},
		})
	}
	s.observe(opToggleFollow, nil)
	return outcome, nil
}

// toggle runs steps one to three. A conflict from a concurrent identical
// insert is reported as active without a mutation of our own.
func (s *Service) toggle(ctx context.Context, operation string, kind relationships.Kind, actor auth.Actor, target targets.Ref) (relationships.ToggleResult, bool, error) {
	if !actor.Authenticated() {
		err := apperr.Unauthenticated(operation, "missing_actor", errMissingActor)
		s.observe(operation, err)
		return relationships.ToggleResult{}, false, err
	}
	result, err := s.relationships.Toggle(ctx, kind, actor.UserID, target)
	if errors.Is(err, apperr.ErrConflict) {
		s.logger.Info("toggle raced with identical insert",
			zap.String("operation", operation),
			zap.String("actor_id", actor.UserID),
			zap.String("target", target.String()))
		return relationships.ToggleResult{}, true, nil
	}
	if err != nil {
		s.observe(operation, err)
		return relationships.ToggleResult{}, false, err
	}
	return result, result.Active, nil
}

// PostComment stores a comment or reply, reconciles the item's comment
// count and notifies the content owner and, for replies, the parent author.
func (s *Service) PostComment(ctx context.Context, actor auth.Actor, itemID, text string, parentID *string) (CommentOutcome, error) {
	if !actor.Authenticated() {
		err := apperr.Unauthenticated(opPostComment, "missing_actor", errMissingActor)
		s.observe(opPostComment, err)
		return CommentOutcome{}, err
	}
	posted, err := s.comments.Post(ctx, actor, itemID, text, parentID)
	if err != nil {
		s.observe(opPostComment, err)
		return CommentOutcome{}, err
	}
	outcome := CommentOutcome{
		Comment:       posted.Comment,
		CommentsCount: s.reconcile(ctx, posted.Comment.ContentItemID, counters.CounterComments),
	}

	payload := map[string]string{
		"content_item_id": posted.Comment.ContentItemID,
		"comment_id":      posted.Comment.ID,
	}
	if posted.ParentAuthorID != "" {
		s.notifier.Notify(ctx, notifications.Notice{
			RecipientID: posted.ParentAuthorID,
			ActorID:     actor.UserID,
			Type:        notifications.TypeReply,
			Title:       "New reply",
			Message:     "Someone replied to your comment",
			Payload:     payload,
		})
	}
	if posted.ContentOwnerID != posted.ParentAuthorID {
		s.notifier.Notify(ctx, notifications.Notice{
			RecipientID: posted.ContentOwnerID,
			ActorID:     actor.UserID,
			Type:        notifications.TypeComment,
			Title:       "New comment",
			Message:     "Someone commented on your content",
			Payload:     payload,
		})
	}
	s.observe(opPostComment, nil)
	return outcome, nil
}

func (s *Service) EditComment(ctx context.Context, actor auth.Actor, commentID, text string) (comments.Comment, error) {
	if !actor.Authenticated() {
		err := apperr.Unauthenticated(opEditComment, "missing_actor", errMissingActor)
		s.observe(opEditComment, err)
		return comments.Comment{}, err
	}
	comment, err := s.comments.Edit(ctx, actor, commentID, text)
	s.observe(opEditComment, err)
	return comment, err
}

// DeleteComment soft deletes a comment. The item's comment count is
// unchanged because deleted comments keep their place in the tree.
func (s *Service) DeleteComment(ctx context.Context, actor auth.Actor, commentID string) (comments.Comment, error) {
	if !actor.Authenticated() {
		err := apperr.Unauthenticated(opDeleteComment, "missing_actor", errMissingActor)
		s.observe(opDeleteComment, err)
		return comments.Comment{}, err
	}
	comment, err := s.comments.SoftDelete(ctx, actor, commentID)
	s.observe(opDeleteComment, err)
	return comment, err
}

// ListComments returns the comment tree of a visible item.
func (s *Service) ListComments(ctx context.Context, itemID string) ([]comments.Thread, error) {
	if _, err := s.content.GetVisible(ctx, itemID); err != nil {
		s.observe(opListComments, err)
		return nil, err
	}
	threads, err := s.comments.ListTree(ctx, itemID)
	s.observe(opListComments, err)
	return threads, err
}

// CastVote records a vote and notifies the poll owner.
func (s *Service) CastVote(ctx context.Context, actor auth.Actor, pollID, option string) (votes.CastResult, error) {
	if !actor.Authenticated() {
		err := apperr.Unauthenticated(opCastVote, "missing_actor", errMissingActor)
		s.observe(opCastVote, err)
		return votes.CastResult{}, err
	}
	result, err := s.votes.Cast(ctx, actor.UserID, pollID, option)
	if err != nil {
		s.observe(opCastVote, err)
		return votes.CastResult{}, err
	}
	s.notifier.Notify(ctx, notifications.Notice{
		RecipientID: result.OwnerID,
		ActorID:     actor.UserID,
		Type:        notifications.TypeVote,
		Title:       "New vote",
		Message:     "Someone voted on your poll",
		Payload:     map[string]string{"poll_id": pollID, "option": result.Option},
	})
	s.observe(opCastVote, nil)
	return result, nil
}

// TallyVotes aggregates a poll; viewer may be anonymous.
func (s *Service) TallyVotes(ctx context.Context, viewer auth.Actor, pollID string) (votes.Tally, error) {
	tally, err := s.votes.Tally(ctx, pollID, viewer.UserID)
	s.observe(opTallyVotes, err)
	return tally, err
}

// ContentState reports an item's counters and, for an authenticated viewer,
// whether they like or bookmark it.
func (s *Service) ContentState(ctx context.Context, viewer auth.Actor, itemID string) (ContentState, error) {
	item, err := s.content.GetVisible(ctx, itemID)
	if err != nil {
		s.observe(opContentState, err)
		return ContentState{}, err
	}
	state := ContentState{
		ItemID:         item.ID,
		Kind:           item.Kind,
		LikesCount:     item.LikesCount,
		CommentsCount:  item.CommentsCount,
		BookmarksCount: item.BookmarksCount,
		Views:          item.Views,
		HasVoting:      item.Poll.HasVoting,
	}
	if viewer.Authenticated() {
		target := targets.Ref{ID: item.ID, Type: item.Kind}
		if state.Liked, err = s.relationships.Exists(ctx, relationships.KindLike, viewer.UserID, target); err != nil {
			s.observe(opContentState, err)
			return ContentState{}, err
		}
		if state.Bookmarked, err = s.relationships.Exists(ctx, relationships.KindBookmark, viewer.UserID, target); err != nil {
			s.observe(opContentState, err)
			return ContentState{}, err
		}
	}
	s.observe(opContentState, nil)
	return state, nil
}

// RecordView increments the view counter of a visible item.
func (s *Service) RecordView(ctx context.Context, itemID string) (int64, error) {
	views, err := s.content.RecordView(ctx, itemID)
	s.observe(opRecordView, err)
	return views, err
}

// ListBookmarks returns the actor's bookmarked items, newest first.
func (s *Service) ListBookmarks(ctx context.Context, actor auth.Actor, limit int) ([]relationships.Relationship, error) {
	return s.listByActor(ctx, opListBookmarks, relationships.KindBookmark, actor, limit)
}

// ListFollowing returns the users the actor follows, newest first.
func (s *Service) ListFollowing(ctx context.Context, actor auth.Actor, limit int) ([]relationships.Relationship, error) {
	return s.listByActor(ctx, opListFollowing, relationships.KindFollow, actor, limit)
}

func (s *Service) listByActor(ctx context.Context, operation string, kind relationships.Kind, actor auth.Actor, limit int) ([]relationships.Relationship, error) {
	if !actor.Authenticated() {
		err := apperr.Unauthenticated(operation, "missing_actor", errMissingActor)
		s.observe(operation, err)
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	edges, err := s.relationships.ListByActor(ctx, kind, actor.UserID, min(limit, maxListLimit))
	s.observe(operation, err)
	return edges, err
}

func (s *Service) reconcile(ctx context.Context, itemID string, counter counters.Counter) *int64 {
	value, err := s.counters.Reconcile(ctx, itemID, counter)
	if err != nil {
		s.reconcileFailed(string(counter), itemID, err)
		return nil
	}
	return &value
}

func (s *Service) reconcileCommentLikes(ctx context.Context, commentID string) *int64 {
	value, err := s.counters.ReconcileCommentLikes(ctx, commentID)
	if err != nil {
		s.reconcileFailed("comment_likes", commentID, err)
		return nil
	}
	return &value
}

func (s *Service) reconcileFailed(counter, id string, err error) {
	s.logger.Error("counter reconcile failed",
		zap.String("operation", "interactions.reconcile"),
		zap.String("reason", counter),
		zap.String("id", id),
		zap.Error(err))
	if s.metrics != nil {
		s.metrics.ReconcileFailed(counter)
	}
}

func (s *Service) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	s.metrics.ObserveInteraction(operation, outcome)
}

func targetPayload(target targets.Ref) map[string]string {
	return map[string]string{
		"target_id":   target.ID,
		"target_type": string(target.Type),
	}
}
