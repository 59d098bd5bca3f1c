package relationships

import (
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/targets"
)

// Kind enumerates the boolean relationships an actor can hold with a target.
type Kind string

const (
	KindLike     Kind = "like"
	KindBookmark Kind = "bookmark"
	KindFollow   Kind = "follow"
)

// Relationship is a single actor-to-target edge. Row existence is the state.
type Relationship struct {
	ID         string       `gorm:"column:id;primaryKey;size:64;not null"`
	Kind       Kind         `gorm:"column:kind;size:16;not null;uniqueIndex:idx_relationships_edge,priority:1;index:idx_relationships_target,priority:3"`
	ActorID    string       `gorm:"column:actor_id;size:190;not null;uniqueIndex:idx_relationships_edge,priority:2"`
	TargetID   string       `gorm:"column:target_id;size:190;not null;uniqueIndex:idx_relationships_edge,priority:3;index:idx_relationships_target,priority:1"`
	TargetType targets.Type `gorm:"column:target_type;size:32;not null;uniqueIndex:idx_relationships_edge,priority:4;index:idx_relationships_target,priority:2"`
	CreatedAt  time.Time    `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Relationship) TableName() string {
	return "relationships"
}

// Target returns the reference the edge points at.
func (r Relationship) Target() targets.Ref {
	return targets.Ref{ID: r.TargetID, Type: r.TargetType}
}

// Allows reports whether kind may point at targets of type targetType.
func (k Kind) Allows(targetType targets.Type) bool {
	switch k {
	case KindLike:
		return targetType.IsContent() || targetType == targets.TypeComment
	case KindBookmark:
		return targetType.IsContent()
	case KindFollow:
		return targetType == targets.TypeUser
	default:
		return false
	}
}

func (k Kind) valid() bool {
	switch k {
	case KindLike, KindBookmark, KindFollow:
		return true
	default:
		return false
	}
}
