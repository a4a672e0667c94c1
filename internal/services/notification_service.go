package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/notifications"
	apperrors "github.com/charlesng35/convene/pkg/errors"
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID        string                  `json:"id"`
	UserID    string                  `json:"user_id"`
	EventID   *string                 `json:"event_id,omitempty"`
	Type      models.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	Metadata  map[string]any          `json:"metadata,omitempty"`
	IsRead    bool                    `json:"is_read"`
	CreatedAt time.Time               `json:"created_at"`
	ReadAt    *time.Time              `json:"read_at,omitempty"`
}

// ListNotificationsInput defines filters for querying user notifications.
type ListNotificationsInput struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationService persists in-app notifications and pushes them to connected clients.
type NotificationService struct {
	db  *gorm.DB
	hub *notifications.Hub
	now func() time.Time
}

// NewNotificationService constructs a NotificationService. hub may be nil.
func NewNotificationService(db *gorm.DB, hub *notifications.Hub) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db, hub: hub, now: time.Now}, nil
}

// Record stores one recipient's notification. It reports false, without error, when a
// notification with the same dedupe key already exists.
func (s *NotificationService) Record(ctx context.Context, record notifications.Record) (bool, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(record.UserID)
	if userID == "" {
		return false, errors.New("notification service: user id is required")
	}
	if record.DedupeKey == "" {
		return false, errors.New("notification service: dedupe key is required")
	}

	notification := models.Notification{
		UserID:    userID,
		Type:      record.Type,
		Title:     strings.TrimSpace(record.Title),
		Message:   strings.TrimSpace(record.Message),
		DedupeKey: record.DedupeKey,
	}
	if id := strings.TrimSpace(record.EventID); id != "" {
		notification.EventID = &id
	}
	if len(record.Metadata) > 0 {
		data, err := encodeJSON(record.Metadata)
		if err != nil {
			return false, fmt.Errorf("notification service: marshal metadata: %w", err)
		}
		notification.Metadata = data
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(&notification)
	if result.Error != nil {
		return false, fmt.Errorf("notification service: record notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	dto := mapNotification(notification)
	s.broadcast(userID, notifications.PushNotificationCreated, &dto, "")
	return true, nil
}

// ListForUser returns notifications for the supplied user ordered by recency, with the
// user's unread count.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, int64, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, 0, apperrors.NewBadRequest("user id is required")
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if input.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(max(0, input.Offset)).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("notification service: list notifications: %w", err)
	}

	var unread int64
	if err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&unread).Error; err != nil {
		return nil, 0, fmt.Errorf("notification service: count unread: %w", err)
	}

	return mapNotificationRows(rows), unread, nil
}

// MarkRead sets the notification read flag for a user.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	now := s.now().UTC()
	return s.setRead(ctx, userID, notificationID, map[string]any{"is_read": true, "read_at": now}, func(n *models.Notification) {
		n.IsRead = true
		n.ReadAt = &now
	})
}

// MarkUnread unsets the notification read flag.
func (s *NotificationService) MarkUnread(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	return s.setRead(ctx, userID, notificationID, map[string]any{"is_read": false, "read_at": nil}, func(n *models.Notification) {
		n.IsRead = false
		n.ReadAt = nil
	})
}

// MarkAllRead marks all notifications for the user as read and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": s.now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}

	s.broadcast(userID, notifications.PushNotificationsRead, nil, "")
	return result.RowsAffected, nil
}

func (s *NotificationService) setRead(ctx context.Context, userID, notificationID string, updates map[string]any, apply func(*models.Notification)) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error; err != nil {
		return nil, notFoundOr(err, func(err error) error {
			return fmt.Errorf("notification service: load notification: %w", err)
		})
	}

	if err := s.db.WithContext(ctx).Model(&notification).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("notification service: update read flag: %w", err)
	}
	apply(&notification)

	dto := mapNotification(notification)
	s.broadcast(userID, notifications.PushNotificationRead, &dto, notification.ID)
	return &dto, nil
}

func (s *NotificationService) broadcast(userID, event string, dto *NotificationDTO, notificationID string) {
	if s.hub == nil {
		return
	}
	push := notifications.Push{Event: event, NotificationID: notificationID}
	if dto != nil {
		push.Notification = dto
	}
	s.hub.Broadcast(userID, push)
}

func mapNotificationRows(rows []models.Notification) []NotificationDTO {
	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        row.ID,
		UserID:    row.UserID,
		EventID:   row.EventID,
		Type:      row.Type,
		Title:     row.Title,
		Message:   row.Message,
		Metadata:  decodeJSON(row.Metadata),
		IsRead:    row.IsRead,
		CreatedAt: row.CreatedAt,
		ReadAt:    row.ReadAt,
	}
}
