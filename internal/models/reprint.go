package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReprintStatus describes the life-cycle state of a reprint request.
type ReprintStatus string

const (
	ReprintStatusPending    ReprintStatus = "pending"
	ReprintStatusInProgress ReprintStatus = "in_progress"
	ReprintStatusCompleted  ReprintStatus = "completed"
	ReprintStatusRejected   ReprintStatus = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s ReprintStatus) Terminal() bool {
	return s == ReprintStatusCompleted || s == ReprintStatusRejected
}

// Valid reports whether s is a known status.
func (s ReprintStatus) Valid() bool {
	switch s {
	case ReprintStatusPending, ReprintStatusInProgress, ReprintStatusCompleted, ReprintStatusRejected:
		return true
	}
	return false
}

// Default parties of the reprint exchange.
const (
	DefaultReprintFrom = DepartmentBatida
	DefaultReprintTo   = DepartmentImpressao
)

// ReprintRequest is a two-party rework request outside the main pipeline.
type ReprintRequest struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	ActivityID     uuid.UUID     `gorm:"type:uuid;not null;index" json:"activityId"`
	ActivityTitle  string        `json:"activityTitle"`
	ActivityImage  string        `json:"activityImage"`
	RequestedBy    string        `gorm:"not null" json:"requestedBy"`
	Reason         string        `gorm:"not null" json:"reason"`
	Details        *string       `json:"details,omitempty"`
	Quantity       int           `gorm:"not null;default:1" json:"quantity"`
	Priority       Priority      `gorm:"not null;default:normal" json:"priority"`
	Status         ReprintStatus `gorm:"not null;index" json:"status"`
	RequestedAt    time.Time     `gorm:"index" json:"requestedAt"`
	FromDepartment Department    `gorm:"not null;index" json:"fromDepartment"`
	ToDepartment   Department    `gorm:"not null;index" json:"toDepartment"`
	ProcessedBy    *string       `json:"processedBy,omitempty"`
	ProcessedAt    *time.Time    `json:"processedAt,omitempty"`
}

// BeforeCreate is a GORM hook that populates the primary key and status.
func (r *ReprintRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = ReprintStatusPending
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	return nil
}
