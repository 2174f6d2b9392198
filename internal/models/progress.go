package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProgressStatus is the state of an activity at one department.
type ProgressStatus string

const (
	ProgressStatusPending   ProgressStatus = "pending"
	ProgressStatusCompleted ProgressStatus = "completed"
)

// CloseReason records how a completed progress row was closed.
type CloseReason string

const (
	CloseReasonCompleted CloseReason = "completed"
	CloseReasonReturned  CloseReason = "returned"
)

// ActivityProgress is the current state of one activity at one department.
// There is at most one row per (activity, department).
type ActivityProgress struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ActivityID  uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_progress_activity_department" json:"activityId"`
	Department  Department     `gorm:"not null;uniqueIndex:idx_progress_activity_department;index:idx_progress_department_status" json:"department"`
	Status      ProgressStatus `gorm:"not null;index:idx_progress_department_status" json:"status"`
	CompletedBy *string        `json:"completedBy,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	CloseReason *CloseReason   `json:"closeReason,omitempty"`
	Notes       *string        `json:"notes,omitempty"`
	ReturnedBy  *string        `json:"returnedBy,omitempty"`
	ReturnedAt  *time.Time     `json:"returnedAt,omitempty"`
}

// TableName specifies the table name for ActivityProgress.
func (ActivityProgress) TableName() string {
	return "activity_progress"
}

// BeforeCreate is a GORM hook that populates the primary key.
func (p *ActivityProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = ProgressStatusPending
	}
	return nil
}

// IsPending reports whether the activity is awaiting action at this department.
func (p *ActivityProgress) IsPending() bool { return p.Status == ProgressStatusPending }

// ProgressAction is the kind of change recorded in the progress history.
type ProgressAction string

const (
	ProgressActionCreated   ProgressAction = "created"
	ProgressActionCompleted ProgressAction = "completed"
	ProgressActionReturned  ProgressAction = "returned"
	ProgressActionReopened  ProgressAction = "reopened"
)

// ProgressEvent is an append-only record of a transition at one department.
type ProgressEvent struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ActivityID uuid.UUID      `gorm:"type:uuid;not null;index" json:"activityId"`
	Department Department     `gorm:"not null" json:"department"`
	Action     ProgressAction `gorm:"not null" json:"action"`
	Actor      string         `json:"actor"`
	Notes      *string        `json:"notes,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"createdAt"`
}

// TableName specifies the table name for ProgressEvent.
func (ProgressEvent) TableName() string {
	return "activity_progress_events"
}

// BeforeCreate is a GORM hook that populates the primary key.
func (e *ProgressEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// DepartmentStats aggregates progress rows for one department.
type DepartmentStats struct {
	Department     Department `json:"department"`
	PendingCount   int64      `json:"pendingCount"`
	CompletedCount int64      `json:"completedCount"`
}
