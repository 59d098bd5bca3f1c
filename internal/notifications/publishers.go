package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "notifications:"

var errMissingRedisClient = errors.New("notifications: redis client required")

// MultiPublisher publishes to every member and joins their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, notification Notification) error {
	var errs []error
	for _, publisher := range m {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RedisPublisher publishes notifications as JSON on a per-recipient channel.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) (*RedisPublisher, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	return &RedisPublisher{client: client}, nil
}

// RedisChannel returns the pub/sub channel carrying recipientID's notifications.
func RedisChannel(recipientID string) string {
	return redisChannelPrefix + recipientID
}

// WireNotification is the JSON shape of a notification on external channels.
type WireNotification struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	ActorID     string            `json:"actor_id"`
	Type        Type              `json:"type"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Payload     map[string]string `json:"payload,omitempty"`
	IsRead      bool              `json:"is_read"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ToWire converts a stored notification to its JSON shape.
func ToWire(notification Notification) WireNotification {
	return WireNotification{
		ID:          notification.ID,
		RecipientID: notification.RecipientID,
		ActorID:     notification.ActorID,
		Type:        notification.Type,
		Title:       notification.Title,
		Message:     notification.Message,
		Payload:     notification.Payload,
		IsRead:      notification.IsRead,
		CreatedAt:   notification.CreatedAt,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(ToWire(notification))
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, RedisChannel(notification.RecipientID), payload).Err()
}
