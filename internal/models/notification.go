package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationType classifies why a notification was sent.
type NotificationType string

const (
	NotificationNewActivity      NotificationType = "new_activity"
	NotificationActivityArrived  NotificationType = "activity_arrived"
	NotificationActivityReturned NotificationType = "activity_returned"
	NotificationActivityLeft     NotificationType = "activity_left"
	NotificationActivityDone     NotificationType = "activity_completed"
	NotificationReprintRequest   NotificationType = "reprint_request"
	NotificationReprintUpdate    NotificationType = "reprint_update"
)

// Notification is addressed to a single user and carries its own read state.
type Notification struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID         `gorm:"type:uuid;not null;index" json:"userId"`
	ActivityID *uuid.UUID        `gorm:"type:uuid;index" json:"activityId,omitempty"`
	Department *Department       `json:"department,omitempty"`
	Type       *NotificationType `json:"type,omitempty"`
	Message    string            `gorm:"not null" json:"message"`
	Read       bool              `gorm:"not null;default:false" json:"read"`
	CreatedAt  time.Time         `gorm:"index" json:"createdAt"`
}

// BeforeCreate is a GORM hook that populates the primary key.
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
