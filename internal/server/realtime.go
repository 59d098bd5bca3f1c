package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/notifications"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	RealtimeEventNotification = "notification"
	realtimeEventHeartbeat    = "heartbeat"
	realtimeSourceBackend     = "agora-backend"

	defaultHeartbeatInterval = 25 * time.Second
)

type heartbeatPayload struct {
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	unreadOnly := strings.EqualFold(strings.TrimSpace(c.Query("unread")), "true")
	listed, err := h.inbox.List(c.Request.Context(), actorFromContext(c).UserID, limit, unreadOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	response := make([]notifications.WireNotification, 0, len(listed))
	for _, notification := range listed {
		response = append(response, notifications.ToWire(notification))
	}
	c.JSON(http.StatusOK, gin.H{"notifications": response})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	var request markReadPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			respondInvalidRequest(c, "invalid_payload")
			return
		}
	}
	updated, err := h.inbox.MarkRead(c.Request.Context(), actorFromContext(c).UserID, request.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// handleNotificationStream relays the actor's notifications as server-sent
// events until the client disconnects.
func (h *httpHandler) handleNotificationStream(c *gin.Context) {
	if h.realtime == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime_unavailable"})
		return
	}
	actor := actorFromContext(c)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, actor.UserID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("realtime stream opened", zap.String("user_id", actor.UserID))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case notification, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(RealtimeEventNotification, notifications.ToWire(notification))
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{Source: realtimeSourceBackend, Timestamp: tick.Unix()})
			return true
		}
	})
	h.logger.Debug("realtime stream closed", zap.String("user_id", actor.UserID))
}
