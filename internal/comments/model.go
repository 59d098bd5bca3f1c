package comments

import "time"

// State marks whether a comment is live or soft deleted.
type State string

const (
	StateActive  State = "active"
	StateDeleted State = "deleted"
)

// DeletedPlaceholder replaces the text of soft deleted comments.
const DeletedPlaceholder = "[comment deleted]"

// MaxTextRunes bounds the length of comment text in characters.
const MaxTextRunes = 1000

// Comment is a node in a two-level comment tree. Top-level comments have a
// nil ParentID; replies point at a top-level comment.
type Comment struct {
	ID            string    `gorm:"column:id;primaryKey;size:64;not null"`
	ContentItemID string    `gorm:"column:content_item_id;size:64;not null;index:idx_comments_item_created,priority:1"`
	ActorID       string    `gorm:"column:actor_id;size:190;not null;index"`
	ParentID      *string   `gorm:"column:parent_id;size:64;index"`
	Content       string    `gorm:"column:content;type:text;not null"`
	State         State     `gorm:"column:state;size:16;not null;default:'active'"`
	LikesCount    int64     `gorm:"column:likes_count;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;index:idx_comments_item_created,priority:2"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// IsDeleted reports whether the comment has been soft deleted.
func (c Comment) IsDeleted() bool {
	return c.State == StateDeleted
}

// IsTopLevel reports whether the comment starts a thread.
func (c Comment) IsTopLevel() bool {
	return c.ParentID == nil
}

// Thread is a top-level comment with its replies in creation order.
type Thread struct {
	Comment Comment
	Replies []Comment
}
