package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/prodflow/backend/internal/models"
)

// NotificationRepository provides persistence access for Notification entities.
type NotificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository using the provided gorm DB.
func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateBatch persists the notifications in one statement per batch.
func (r *NotificationRepository) CreateBatch(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	for i := range notifications {
		if notifications[i].CreatedAt.IsZero() {
			notifications[i].CreatedAt = now()
		}
	}
	return storeError(r.db.WithContext(ctx).CreateInBatches(notifications, 100).Error, "create notifications")
}

// ListForUser returns the newest notifications of a user.
func (r *NotificationRepository) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	var out []models.Notification
	err := q.Order("created_at desc").Limit(limit).Find(&out).Error
	return out, storeError(err, "list notifications of %s", userID)
}

// ListByActivity returns every notification about an activity.
func (r *NotificationRepository) ListByActivity(ctx context.Context, activityID uuid.UUID) ([]models.Notification, error) {
	var out []models.Notification
	err := r.db.WithContext(ctx).Where("activity_id = ?", activityID).Order("created_at asc").Find(&out).Error
	return out, storeError(err, "list notifications of activity %s", activityID)
}

// CountUnread returns the number of unread notifications of a user.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ? AND read = ?", userID, false).Count(&n).Error
	return n, storeError(err, "count unread of %s", userID)
}

// MarkRead flips one notification of the user to read.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ? AND user_id = ?", id, userID).Update("read", true)
	if res.Error != nil {
		return storeError(res.Error, "mark notification %s read", id)
	}
	if res.RowsAffected == 0 {
		return storeError(gorm.ErrRecordNotFound, "notification %s", id)
	}
	return nil
}

// MarkAllRead flips every unread notification of the user and returns how many changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ? AND read = ?", userID, false).Update("read", true)
	return res.RowsAffected, storeError(res.Error, "mark notifications of %s read", userID)
}
