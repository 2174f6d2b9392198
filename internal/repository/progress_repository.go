package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/prodflow/backend/internal/apperr"
	"github.com/example/prodflow/backend/internal/models"
)

// ProgressRepository provides persistence access for per-department progress rows.
type ProgressRepository struct {
	db *gorm.DB
}

// NewProgressRepository constructs a repository using the provided gorm DB.
func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Create persists a progress row.
func (r *ProgressRepository) Create(ctx context.Context, p *models.ActivityProgress) error {
	return storeError(r.db.WithContext(ctx).Create(p).Error, "create progress")
}

// Find returns the row for (activityID, dept), or nil when none exists.
func (r *ProgressRepository) Find(ctx context.Context, activityID uuid.UUID, dept models.Department) (*models.ActivityProgress, error) {
	var rows []models.ActivityProgress
	err := r.db.WithContext(ctx).
		Where("activity_id = ? AND department = ?", activityID, dept).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, storeError(err, "find progress %s/%s", activityID, dept)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListByActivity returns every progress row of an activity in department order.
func (r *ProgressRepository) ListByActivity(ctx context.Context, activityID uuid.UUID) ([]models.ActivityProgress, error) {
	var rows []models.ActivityProgress
	if err := r.db.WithContext(ctx).Where("activity_id = ?", activityID).Find(&rows).Error; err != nil {
		return nil, storeError(err, "list progress of %s", activityID)
	}
	slices.SortFunc(rows, func(a, b models.ActivityProgress) int {
		return a.Department.Index() - b.Department.Index()
	})
	return rows, nil
}

// Complete marks the pending row for (activityID, dept) as completed. The update
// only matches a row still pending, so of two concurrent calls exactly one wins.
func (r *ProgressRepository) Complete(ctx context.Context, activityID uuid.UUID, dept models.Department, completedBy string, notes *string) (*models.ActivityProgress, error) {
	return r.close(ctx, activityID, dept, completedBy, notes, models.CloseReasonCompleted)
}

func (r *ProgressRepository) close(ctx context.Context, activityID uuid.UUID, dept models.Department, by string, notes *string, reason models.CloseReason) (*models.ActivityProgress, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ActivityProgress{}).
		Where("activity_id = ? AND department = ? AND status = ?", activityID, dept, models.ProgressStatusPending).
		Updates(map[string]any{
			"status":       models.ProgressStatusCompleted,
			"completed_by": by,
			"completed_at": now(),
			"close_reason": reason,
			"notes":        notes,
		})
	if res.Error != nil {
		return nil, storeError(res.Error, "complete progress %s/%s", activityID, dept)
	}

	row, err := r.Find(ctx, activityID, dept)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		if row == nil {
			return nil, apperr.NotFound("no progress for activity %s at %s", activityID, dept)
		}
		return nil, apperr.InvalidTransition(apperr.CodeNotPending, "activity %s is not pending at %s (status %s)", activityID, dept, row.Status)
	}
	return row, nil
}

// Open resets the row for (activityID, dept) to a fresh pending state, clearing
// any leftovers from an earlier cycle, or creates it.
func (r *ProgressRepository) Open(ctx context.Context, activityID uuid.UUID, dept models.Department) (*models.ActivityProgress, error) {
	return r.upsertPending(ctx, activityID, dept, map[string]any{
		"returned_by": nil,
		"returned_at": nil,
		"notes":       nil,
	})
}

// Reopen sets the row for (activityID, dept) back to pending with the return
// marker, or creates it that way.
func (r *ProgressRepository) Reopen(ctx context.Context, activityID uuid.UUID, dept models.Department, returnedBy string, notes *string) (*models.ActivityProgress, error) {
	return r.upsertPending(ctx, activityID, dept, map[string]any{
		"returned_by": returnedBy,
		"returned_at": now(),
		"notes":       notes,
	})
}

func (r *ProgressRepository) upsertPending(ctx context.Context, activityID uuid.UUID, dept models.Department, fields map[string]any) (*models.ActivityProgress, error) {
	fields["status"] = models.ProgressStatusPending
	fields["completed_by"] = nil
	fields["completed_at"] = nil
	fields["close_reason"] = nil

	res := r.db.WithContext(ctx).
		Model(&models.ActivityProgress{}).
		Where("activity_id = ? AND department = ?", activityID, dept).
		Updates(fields)
	if res.Error != nil {
		return nil, storeError(res.Error, "reset progress %s/%s", activityID, dept)
	}
	if res.RowsAffected == 0 {
		row := &models.ActivityProgress{
			ActivityID: activityID,
			Department: dept,
			Status:     models.ProgressStatusPending,
		}
		if v, ok := fields["returned_by"].(string); ok {
			at := now()
			row.ReturnedBy, row.ReturnedAt = &v, &at
		}
		if v, ok := fields["notes"].(*string); ok {
			row.Notes = v
		}
		if err := r.Create(ctx, row); err != nil {
			return nil, err
		}
		return row, nil
	}
	return r.Find(ctx, activityID, dept)
}

// Stats counts pending and completed rows per department. Every department of
// the sequence is present in the result.
func (r *ProgressRepository) Stats(ctx context.Context) ([]models.DepartmentStats, error) {
	var rows []struct {
		Department models.Department
		Status     models.ProgressStatus
		Total      int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.ActivityProgress{}).
		Select("department, status, COUNT(*) AS total").
		Group("department, status").
		Scan(&rows).Error
	if err != nil {
		return nil, storeError(err, "count progress")
	}

	stats := make([]models.DepartmentStats, 0, len(models.Departments()))
	for _, dept := range models.Departments() {
		s := models.DepartmentStats{Department: dept}
		for _, row := range rows {
			if row.Department != dept {
				continue
			}
			switch row.Status {
			case models.ProgressStatusPending:
				s.PendingCount = row.Total
			case models.ProgressStatusCompleted:
				s.CompletedCount = row.Total
			}
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// eventClock hands out strictly increasing timestamps so history rows written
// in the same transaction keep their order.
var eventClock struct {
	sync.Mutex
	last time.Time
}

func nextEventTime() time.Time {
	eventClock.Lock()
	defer eventClock.Unlock()
	t := now()
	if !t.After(eventClock.last) {
		t = eventClock.last.Add(time.Microsecond)
	}
	eventClock.last = t
	return t
}

// AppendEvent records a transition in the history log.
func (r *ProgressRepository) AppendEvent(ctx context.Context, evt *models.ProgressEvent) error {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = nextEventTime()
	}
	return storeError(r.db.WithContext(ctx).Create(evt).Error, "append progress event")
}

// History returns the transition log of an activity, oldest first.
func (r *ProgressRepository) History(ctx context.Context, activityID uuid.UUID) ([]models.ProgressEvent, error) {
	var events []models.ProgressEvent
	err := r.db.WithContext(ctx).
		Where("activity_id = ?", activityID).
		Order("created_at asc").
		Find(&events).Error
	return events, storeError(err, "history of %s", activityID)
}
