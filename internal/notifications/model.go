package notifications

import "time"

// Type classifies why a notification was sent.
type Type string

const (
	TypeLike        Type = "like"
	TypeComment     Type = "comment"
	TypeReply       Type = "reply"
	TypeVote        Type = "vote"
	TypeFollow      Type = "follow"
	TypeApplication Type = "application"
)

func (t Type) valid() bool {
	switch t {
	case TypeLike, TypeComment, TypeReply, TypeVote, TypeFollow, TypeApplication:
		return true
	default:
		return false
	}
}

// Notification is a persisted message for one recipient.
type Notification struct {
	ID          string            `gorm:"column:id;primaryKey;size:64;not null"`
	RecipientID string            `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient,priority:1"`
	ActorID     string            `gorm:"column:actor_id;size:190;not null"`
	Type        Type              `gorm:"column:type;size:32;not null"`
	Title       string            `gorm:"column:title;size:255;not null;default:''"`
	Message     string            `gorm:"column:message;type:text;not null;default:''"`
	Payload     map[string]string `gorm:"column:payload;type:text;serializer:json"`
	IsRead      bool              `gorm:"column:is_read;not null;default:false;index:idx_notifications_recipient,priority:2"`
	CreatedAt   time.Time         `gorm:"column:created_at;not null;index:idx_notifications_recipient,priority:3"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// Notice is a request to notify RecipientID about something ActorID did.
type Notice struct {
	RecipientID string
	ActorID     string
	Type        Type
	Title       string
	Message     string
	Payload     map[string]string
}
