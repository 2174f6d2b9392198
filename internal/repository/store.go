package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/prodflow/backend/internal/apperr"
	"github.com/example/prodflow/backend/internal/models"
)

// Store groups the repositories over one connection or transaction.
type Store struct {
	db            *gorm.DB
	Users         *UserRepository
	Activities    *ActivityRepository
	Progress      *ProgressRepository
	Notifications *NotificationRepository
	Reprints      *ReprintRepository
	inTx          bool
}

// NewStore constructs repositories sharing the provided gorm DB.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Users:         NewUserRepository(db),
		Activities:    NewActivityRepository(db),
		Progress:      NewProgressRepository(db),
		Notifications: NewNotificationRepository(db),
		Reprints:      NewReprintRepository(db),
	}
}

// Transaction runs fn against a Store bound to a single database transaction.
// Any error returned by fn rolls every write back. A Store already bound to a
// transaction runs fn inside it.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bound := NewStore(tx)
		bound.inTx = true
		return fn(bound)
	})
	return storeError(err, "transaction")
}

// CreateActivity persists an activity and opens its first progress row.
func (s *Store) CreateActivity(ctx context.Context, activity *models.Activity, actor string) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.Activities.Create(ctx, activity); err != nil {
			return err
		}
		first := models.FirstDepartment()
		progress := &models.ActivityProgress{
			ActivityID: activity.ID,
			Department: first,
			Status:     models.ProgressStatusPending,
		}
		if err := tx.Progress.Create(ctx, progress); err != nil {
			return err
		}
		activity.Progress = []models.ActivityProgress{*progress}
		return tx.Progress.AppendEvent(ctx, &models.ProgressEvent{
			ActivityID: activity.ID,
			Department: first,
			Action:     models.ProgressActionCreated,
			Actor:      actor,
		})
	})
}

// Advance is the result of completing a department. Next is nil when the
// completed department was the last one.
type Advance struct {
	Completed *models.ActivityProgress `json:"completed"`
	Next      *models.ActivityProgress `json:"next"`
	Activity  *models.Activity         `json:"activity"`
}

// CompleteAndAdvance completes the pending row for (activityID, dept) and opens
// the next department, or completes the activity when dept is the last one.
// Both writes happen in one transaction.
func (s *Store) CompleteAndAdvance(ctx context.Context, activityID uuid.UUID, dept models.Department, completedBy string, notes *string) (*Advance, error) {
	var out Advance
	err := s.Transaction(ctx, func(tx *Store) error {
		completed, err := tx.Progress.Complete(ctx, activityID, dept, completedBy, notes)
		if err != nil {
			return err
		}
		out.Completed = completed
		if err := tx.Progress.AppendEvent(ctx, &models.ProgressEvent{
			ActivityID: activityID,
			Department: dept,
			Action:     models.ProgressActionCompleted,
			Actor:      completedBy,
			Notes:      notes,
		}); err != nil {
			return err
		}

		if next, ok := dept.Next(); ok {
			opened, err := tx.Progress.Open(ctx, activityID, next)
			if err != nil {
				return err
			}
			out.Next = opened
		} else if err := tx.Activities.MarkCompleted(ctx, activityID); err != nil {
			return err
		}

		activity, err := tx.Activities.FindByID(ctx, activityID)
		if err != nil {
			return err
		}
		out.Activity = activity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Return is the result of sending an activity back one department.
type Return struct {
	Previous *models.ActivityProgress `json:"previous"`
	Current  *models.ActivityProgress `json:"current"`
	Activity *models.Activity         `json:"activity"`
}

// ReturnToPreviousDepartment closes the pending row at current, recording the
// returner as its completer, and reopens the previous department's row tagged
// with the return marker. Both rows change in one transaction.
func (s *Store) ReturnToPreviousDepartment(ctx context.Context, activityID uuid.UUID, current models.Department, returnedBy string, notes *string) (*Return, error) {
	previous, ok := current.Previous()
	if !ok {
		return nil, apperr.InvalidTransition(apperr.CodeNoPreviousDepartment, "%s has no previous department", current)
	}

	var out Return
	err := s.Transaction(ctx, func(tx *Store) error {
		cur, err := tx.Progress.close(ctx, activityID, current, returnedBy, notes, models.CloseReasonReturned)
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.InvalidTransition(apperr.CodeNoProgress, "activity %s has no progress at %s", activityID, current)
		}
		if err != nil {
			return err
		}
		prev, err := tx.Progress.Reopen(ctx, activityID, previous, returnedBy, notes)
		if err != nil {
			return err
		}
		out.Current, out.Previous = cur, prev

		events := []models.ProgressEvent{
			{ActivityID: activityID, Department: current, Action: models.ProgressActionReturned, Actor: returnedBy, Notes: notes},
			{ActivityID: activityID, Department: previous, Action: models.ProgressActionReopened, Actor: returnedBy, Notes: notes},
		}
		for i := range events {
			if err := tx.Progress.AppendEvent(ctx, &events[i]); err != nil {
				return err
			}
		}

		activity, err := tx.Activities.FindByID(ctx, activityID)
		if err != nil {
			return err
		}
		out.Activity = activity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteActivity removes an activity with its progress rows, history,
// notifications and reprint requests.
func (s *Store) DeleteActivity(ctx context.Context, id uuid.UUID) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.Activities.FindByID(ctx, id); err != nil {
			return err
		}
		db := tx.db.WithContext(ctx)
		for _, model := range []any{&models.ActivityProgress{}, &models.ProgressEvent{}, &models.Notification{}, &models.ReprintRequest{}} {
			if err := db.Where("activity_id = ?", id).Delete(model).Error; err != nil {
				return storeError(err, "delete dependents of activity %s", id)
			}
		}
		return storeError(db.Delete(&models.Activity{}, "id = ?", id).Error, "delete activity %s", id)
	})
}

func now() time.Time { return time.Now().UTC() }
