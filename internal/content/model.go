package content

import (
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/targets"
)

// Status describes the publication lifecycle of an item.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusDeleted   Status = "deleted"
)

// Poll holds the optional voting configuration of an item.
type Poll struct {
	HasVoting          bool       `gorm:"column:has_voting;not null;default:false"`
	VoteOptions        []string   `gorm:"column:vote_options;type:text;serializer:json"`
	VoteDeadline       *time.Time `gorm:"column:vote_deadline"`
	AllowMultipleVotes bool       `gorm:"column:allow_multiple_votes;not null;default:false"`
}

// Closed reports whether the poll deadline has passed at the supplied instant.
func (p Poll) Closed(now time.Time) bool {
	if p.VoteDeadline == nil {
		return false
	}
	return !now.Before(*p.VoteDeadline)
}

// HasOption reports whether option is one of the configured vote options.
func (p Poll) HasOption(option string) bool {
	for _, candidate := range p.VoteOptions {
		if candidate == option {
			return true
		}
	}
	return false
}

// Item is a user-authored content item. Counter columns are derived values
// maintained by the counters package.
type Item struct {
	ID             string       `gorm:"column:id;primaryKey;size:64;not null"`
	Kind           targets.Type `gorm:"column:kind;size:32;not null;index"`
	OwnerID        string       `gorm:"column:owner_id;size:190;not null;index"`
	Title          string       `gorm:"column:title;size:512;not null;default:''"`
	Status         Status       `gorm:"column:status;size:16;not null;index"`
	LikesCount     int64        `gorm:"column:likes_count;not null;default:0"`
	CommentsCount  int64        `gorm:"column:comments_count;not null;default:0"`
	BookmarksCount int64        `gorm:"column:bookmarks_count;not null;default:0"`
	Views          int64        `gorm:"column:views;not null;default:0"`
	Poll           Poll         `gorm:"embedded;embeddedPrefix:poll_"`
	CreatedAt      time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time    `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Item) TableName() string {
	return "content_items"
}

// Visible reports whether the item can be targeted by interactions.
func (i Item) Visible() bool {
	return i.Status == StatusPublished
}
