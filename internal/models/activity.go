package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActivityStatus is the overall state of an order.
type ActivityStatus string

const (
	ActivityStatusInProgress ActivityStatus = "in_progress"
	ActivityStatusCompleted  ActivityStatus = "completed"
)

// Priority is the optional urgency of an order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Activity is one production order tracked through the departments.
type Activity struct {
	ID               uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Title            string                      `gorm:"not null" json:"title"`
	Description      string                      `json:"description"`
	Image            string                      `json:"image"`
	AdditionalImages datatypes.JSONSlice[string] `json:"additionalImages"`
	Quantity         int                         `gorm:"not null;default:1" json:"quantity"`
	ClientName       *string                     `json:"clientName,omitempty"`
	Priority         *Priority                   `json:"priority,omitempty"`
	Deadline         *time.Time                  `gorm:"index" json:"deadline,omitempty"`
	Notes            *string                     `json:"notes,omitempty"`
	CreatedBy        uuid.UUID                   `gorm:"type:uuid" json:"createdBy"`
	CreatedAt        time.Time                   `gorm:"index" json:"createdAt"`
	Status           ActivityStatus              `gorm:"not null;index" json:"status"`

	Progress []ActivityProgress `gorm:"foreignKey:ActivityID" json:"progress,omitempty"`
}

// BeforeCreate is a GORM hook that populates the primary key and status.
func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = ActivityStatusInProgress
	}
	return nil
}

// PendingOrder is an activity awaiting action in a department, together with
// the notes left by the department before it.
type PendingOrder struct {
	Activity           Activity         `json:"activity"`
	Progress           ActivityProgress `json:"progress"`
	PreviousDepartment *Department      `json:"previousDepartment,omitempty"`
	PreviousNotes      *string          `json:"previousNotes,omitempty"`
}

// SortPending orders a department queue for display: deadline ascending with
// missing deadlines last, then creation time, then id.
func SortPending(orders []PendingOrder) {
	slices.SortStableFunc(orders, func(a, b PendingOrder) int {
		return compareForDisplay(&a.Activity, &b.Activity)
	})
}

func compareForDisplay(a, b *Activity) int {
	switch {
	case a.Deadline == nil && b.Deadline != nil:
		return 1
	case a.Deadline != nil && b.Deadline == nil:
		return -1
	case a.Deadline != nil && b.Deadline != nil && !a.Deadline.Equal(*b.Deadline):
		return a.Deadline.Compare(*b.Deadline)
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return slices.Compare(a.ID[:], b.ID[:])
}
