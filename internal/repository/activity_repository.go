package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/prodflow/backend/internal/apperr"
	"github.com/example/prodflow/backend/internal/models"
)

// ActivityRepository provides persistence access for Activity entities.
type ActivityRepository struct {
	db *gorm.DB
}

// NewActivityRepository constructs a repository using the provided gorm DB.
func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create persists the activity. Its first progress row is the caller's concern.
func (r *ActivityRepository) Create(ctx context.Context, activity *models.Activity) error {
	activity.Status = models.ActivityStatusInProgress
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = now()
	}
	return storeError(r.db.WithContext(ctx).Create(activity).Error, "create activity")
}

// editableColumns are the activity columns an admin edit may change. Status
// belongs to the progress transitions.
var editableColumns = []string{"title", "description", "image", "additional_images", "quantity", "client_name", "priority", "deadline", "notes"}

// Update persists the editable attributes of the activity.
func (r *ActivityRepository) Update(ctx context.Context, activity *models.Activity) error {
	res := r.db.WithContext(ctx).
		Model(activity).
		Select(editableColumns).
		Updates(activity)
	if res.Error != nil {
		return storeError(res.Error, "update activity %s", activity.ID)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("activity %s not found", activity.ID)
	}
	return nil
}

// FindByID returns the activity by id.
func (r *ActivityRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Activity, error) {
	var activity models.Activity
	if err := r.db.WithContext(ctx).First(&activity, "id = ?", id).Error; err != nil {
		return nil, storeError(err, "activity %s", id)
	}
	return &activity, nil
}

// MarkCompleted sets the overall status of the activity to completed.
func (r *ActivityRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&models.Activity{}).
		Where("id = ?", id).
		Update("status", models.ActivityStatusCompleted).Error
	return storeError(err, "complete activity %s", id)
}

// displayOrder sorts by deadline with missing deadlines last, then creation time.
const displayOrder = "CASE WHEN activities.deadline IS NULL THEN 1 ELSE 0 END, activities.deadline ASC, activities.created_at ASC, activities.id ASC"

// ListPendingByDepartment returns the activities with a pending progress row at
// dept, each with the notes left by the preceding department. A positive limit
// caps the result.
func (r *ActivityRepository) ListPendingByDepartment(ctx context.Context, dept models.Department, limit int) ([]models.PendingOrder, error) {
	db := r.db.WithContext(ctx)

	var rows []models.ActivityProgress
	q := db.Model(&models.ActivityProgress{}).
		Select("activity_progress.*").
		Joins("JOIN activities ON activities.id = activity_progress.activity_id").
		Where("activity_progress.department = ? AND activity_progress.status = ?", dept, models.ProgressStatusPending).
		Order(displayOrder)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, storeError(err, "list pending at %s", dept)
	}
	if len(rows) == 0 {
		return []models.PendingOrder{}, nil
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ActivityID)
	}
	var activities []models.Activity
	if err := db.Where("id IN ?", ids).Find(&activities).Error; err != nil {
		return nil, storeError(err, "load pending activities at %s", dept)
	}
	byID := make(map[uuid.UUID]models.Activity, len(activities))
	for _, a := range activities {
		byID[a.ID] = a
	}

	prevNotes := map[uuid.UUID]*string{}
	prev, hasPrev := dept.Previous()
	if hasPrev {
		var prevRows []models.ActivityProgress
		if err := db.Where("activity_id IN ? AND department = ?", ids, prev).Find(&prevRows).Error; err != nil {
			return nil, storeError(err, "load notes from %s", prev)
		}
		for _, p := range prevRows {
			if p.Notes != nil && strings.TrimSpace(*p.Notes) != "" {
				prevNotes[p.ActivityID] = p.Notes
			}
		}
	}

	orders := make([]models.PendingOrder, 0, len(rows))
	for _, row := range rows {
		activity, ok := byID[row.ActivityID]
		if !ok {
			continue
		}
		order := models.PendingOrder{Activity: activity, Progress: row}
		if notes, ok := prevNotes[row.ActivityID]; ok {
			p := prev
			order.PreviousDepartment = &p
			order.PreviousNotes = notes
		}
		orders = append(orders, order)
	}
	models.SortPending(orders)
	return orders, nil
}

// ListFilter narrows the admin listing of activities.
type ListFilter struct {
	Status     models.ActivityStatus
	Department models.Department
	Search     string
	Page       int
	PageSize   int
}

// List returns one page of activities, newest first, and the total match count.
func (r *ActivityRepository) List(ctx context.Context, f ListFilter) ([]models.Activity, int64, error) {
	if f.PageSize <= 0 || f.PageSize > 200 {
		f.PageSize = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}

	q := r.db.WithContext(ctx).Model(&models.Activity{})
	if f.Status != "" {
		q = q.Where("activities.status = ?", f.Status)
	}
	if f.Department != "" {
		q = q.Where("EXISTS (SELECT 1 FROM activity_progress p WHERE p.activity_id = activities.id AND p.department = ? AND p.status = ?)",
			f.Department, models.ProgressStatusPending)
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		like := "%" + term + "%"
		q = q.Where("(LOWER(activities.title) LIKE ? OR LOWER(activities.description) LIKE ? OR LOWER(COALESCE(activities.client_name, '')) LIKE ?)", like, like, like)
	}

	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storeError(err, "count activities")
	}

	var activities []models.Activity
	err := q.Order("activities.created_at desc").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&activities).Error
	if err != nil {
		return nil, 0, storeError(err, "list activities")
	}
	return activities, total, nil
}
