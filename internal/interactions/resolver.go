package interactions

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/content"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/targets"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
)

const opResolveTarget = "interactions.resolve_target"

var (
	errMissingResolverContent  = errors.New("content lookup is required")
	errMissingResolverComments = errors.New("comment lookup is required")
	errMissingResolverUsers    = errors.New("user directory is required")
)

// ContentLookup resolves visible content items.
type ContentLookup interface {
	GetVisible(ctx context.Context, itemID string) (content.Item, error)
}

// CommentLookup resolves single comments.
type CommentLookup interface {
	Get(ctx context.Context, commentID string) (comments.Comment, error)
}

// UserDirectory resolves canonical user ids.
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (users.Identity, error)
}

// TargetResolver checks that a relationship target exists and is visible,
// and reports its owner.
type TargetResolver struct {
	content  ContentLookup
	comments CommentLookup
	users    UserDirectory
}

func NewTargetResolver(contentLookup ContentLookup, commentLookup CommentLookup, directory UserDirectory) (*TargetResolver, error) {
	if contentLookup == nil {
		return nil, apperr.Internal(opResolveTarget, "missing_content", errMissingResolverContent)
	}
	if commentLookup == nil {
		return nil, apperr.Internal(opResolveTarget, "missing_comments", errMissingResolverComments)
	}
	if directory == nil {
		return nil, apperr.Internal(opResolveTarget, "missing_users", errMissingResolverUsers)
	}
	return &TargetResolver{content: contentLookup, comments: commentLookup, users: directory}, nil
}

func (r *TargetResolver) ResolveTarget(ctx context.Context, target targets.Ref) (string, error) {
	switch {
	case target.Type.IsContent():
		item, err := r.content.GetVisible(ctx, target.ID)
		if err != nil {
			return "", err
		}
		if item.Kind != target.Type {
			return "", apperr.NotFound(opResolveTarget, "kind_mismatch", nil)
		}
		return item.OwnerID, nil
	case target.Type == targets.TypeComment:
		comment, err := r.comments.Get(ctx, target.ID)
		if err != nil {
			return "", err
		}
		if comment.IsDeleted() {
			return "", apperr.NotFound(opResolveTarget, "comment_deleted", nil)
		}
		if _, err := r.content.GetVisible(ctx, comment.ContentItemID); err != nil {
			return "", err
		}
		return comment.ActorID, nil
	case target.Type == targets.TypeUser:
		identity, err := r.users.Lookup(ctx, target.ID)
		if err != nil {
			return "", err
		}
		return identity.UserID, nil
	default:
		return "", apperr.Validation(opResolveTarget, "unknown_target_type", targets.ErrUnknownType)
	}
}
