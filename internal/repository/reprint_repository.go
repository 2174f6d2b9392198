package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/prodflow/backend/internal/apperr"
	"github.com/example/prodflow/backend/internal/models"
)

// ReprintRepository provides persistence access for ReprintRequest entities.
type ReprintRepository struct {
	db *gorm.DB
}

// NewReprintRepository constructs a repository using the provided gorm DB.
func NewReprintRepository(db *gorm.DB) *ReprintRepository {
	return &ReprintRepository{db: db}
}

// Create persists the request.
func (r *ReprintRepository) Create(ctx context.Context, req *models.ReprintRequest) error {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = now()
	}
	return storeError(r.db.WithContext(ctx).Create(req).Error, "create reprint request")
}

// FindByID returns the request by id.
func (r *ReprintRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.ReprintRequest, error) {
	var req models.ReprintRequest
	if err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, storeError(err, "reprint request %s", id)
	}
	return &req, nil
}

// ReprintFilter narrows reprint listings. Zero values match everything.
type ReprintFilter struct {
	From   models.Department
	To     models.Department
	Status models.ReprintStatus
}

// List returns matching requests, newest first.
func (r *ReprintRepository) List(ctx context.Context, f ReprintFilter) ([]models.ReprintRequest, error) {
	q := r.db.WithContext(ctx).Model(&models.ReprintRequest{})
	if f.From != "" {
		q = q.Where("from_department = ?", f.From)
	}
	if f.To != "" {
		q = q.Where("to_department = ?", f.To)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []models.ReprintRequest
	err := q.Order("requested_at desc").Find(&out).Error
	return out, storeError(err, "list reprint requests")
}

// UpdateStatus moves a request to status. The update only matches a request in
// one of the allowed source states, so terminal requests never change.
func (r *ReprintRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ReprintStatus, processedBy string) (*models.ReprintRequest, error) {
	from := []models.ReprintStatus{models.ReprintStatusPending}
	if status.Terminal() {
		from = append(from, models.ReprintStatusInProgress)
	}
	res := r.db.WithContext(ctx).
		Model(&models.ReprintRequest{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":       status,
			"processed_by": processedBy,
			"processed_at": now(),
		})
	if res.Error != nil {
		return nil, storeError(res.Error, "update reprint request %s", id)
	}
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, apperr.InvalidTransition(apperr.CodeTerminalStatus, "reprint request %s cannot move from %s to %s", id, current.Status, status)
	}
	return current, nil
}
