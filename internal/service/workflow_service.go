// Package service holds the business rules of the department pipeline and
// the reprint exchange.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/prodflow/backend/internal/apperr"
	"github.com/example/prodflow/backend/internal/auth"
	"github.com/example/prodflow/backend/internal/cache"
	"github.com/example/prodflow/backend/internal/events"
	"github.com/example/prodflow/backend/internal/logging"
	"github.com/example/prodflow/backend/internal/models"
	"github.com/example/prodflow/backend/internal/notify"
	"github.com/example/prodflow/backend/internal/repository"
)

// Recorder writes the durable notifications of an event through repositories
// bound to the transaction that produced it.
type Recorder interface {
	Record(ctx context.Context, users notify.UserLister, writer notify.Writer, evt events.Event) error
}

// record runs the recorder inside tx. A nil recorder records nothing.
func record(ctx context.Context, r Recorder, tx *repository.Store, evt events.Event) error {
	if r == nil {
		return nil
	}
	return r.Record(ctx, tx.Users, tx.Notifications, evt)
}

// WorkflowService moves activities through the department sequence.
type WorkflowService struct {
	store        *repository.Store
	cache        *cache.ProgressCache
	bus          *events.Bus
	recorder     Recorder
	writeTimeout time.Duration
	log          *zap.Logger
}

// NewWorkflowService builds a service with dependencies.
func NewWorkflowService(store *repository.Store, progress *cache.ProgressCache, bus *events.Bus, recorder Recorder, writeTimeout time.Duration, log *zap.Logger) *WorkflowService {
	return &WorkflowService{
		store:        store,
		cache:        progress,
		bus:          bus,
		recorder:     recorder,
		writeTimeout: writeTimeout,
		log:          logging.OrNop(log).Named("workflow"),
	}
}

// writeContext bounds a write. A write that runs out of time is reported as
// transient and never retried here.
func writeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// OrderInput carries the editable attributes of an activity.
type OrderInput struct {
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Image            string           `json:"image"`
	AdditionalImages []string         `json:"additionalImages"`
	Quantity         int              `json:"quantity"`
	ClientName       *string          `json:"clientName"`
	Priority         *models.Priority `json:"priority"`
	Deadline         *time.Time       `json:"deadline"`
	Notes            *string          `json:"notes"`
}

func (in *OrderInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return apperr.Validation("title is required")
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 0 {
		return apperr.Validation("quantity must be positive")
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return apperr.Validation("unknown priority %q", *in.Priority)
	}
	return nil
}

func (in OrderInput) apply(a *models.Activity) {
	a.Title = in.Title
	a.Description = in.Description
	a.Image = in.Image
	a.AdditionalImages = in.AdditionalImages
	a.Quantity = in.Quantity
	a.ClientName = in.ClientName
	a.Priority = in.Priority
	a.Deadline = in.Deadline
	a.Notes = in.Notes
}

// CreateOrder creates an activity waiting in the first department.
func (s *WorkflowService) CreateOrder(ctx context.Context, p auth.Principal, in OrderInput) (*models.Activity, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	activity := &models.Activity{CreatedBy: p.UserID}
	in.apply(activity)

	ctx, cancel := writeContext(ctx, s.writeTimeout)
	defer cancel()
	first := models.FirstDepartment()
	var evt events.Event
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.CreateActivity(ctx, activity, p.Name); err != nil {
			return err
		}
		evt = events.Event{
			Type:          events.ActivityCreated,
			ActivityID:    activity.ID,
			ActivityTitle: activity.Title,
			Target:        first,
			Actor:         p.Name,
		}
		return record(ctx, s.recorder, tx, evt)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(first)
	logging.FromContext(ctx, s.log).Info("activity created", zap.String("activity_id", activity.ID.String()), zap.String("title", activity.Title))
	s.bus.Publish(context.WithoutCancel(ctx), evt)
	return activity, nil
}

func parseDepartment(raw models.Department) (models.Department, error) {
	dept, err := models.ParseDepartment(string(raw))
	if err != nil {
		return "", apperr.Validation("unknown department %q", raw)
	}
	return dept, nil
}

func cleanNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*notes)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// Complete closes the pending row of dept and hands the activity to the next
// department, or completes the activity after the last one. Completing a row
// that is no longer pending fails without side effects.
func (s *WorkflowService) Complete(ctx context.Context, p auth.Principal, activityID uuid.UUID, dept models.Department, completedBy string, notes *string) (*repository.Advance, error) {
	dept, err := parseDepartment(dept)
	if err != nil {
		return nil, err
	}
	completedBy = strings.TrimSpace(completedBy)
	if completedBy == "" {
		return nil, apperr.Validation("completedBy is required")
	}
	if err := p.CanActOn(dept); err != nil {
		return nil, err
	}
	notes = cleanNotes(notes)

	wctx, cancel := writeContext(ctx, s.writeTimeout)
	defer cancel()
	var (
		adv *repository.Advance
		evt events.Event
	)
	err = s.store.Transaction(wctx, func(tx *repository.Store) error {
		var err error
		if adv, err = tx.CompleteAndAdvance(wctx, activityID, dept, completedBy, notes); err != nil {
			return err
		}
		evt = events.Event{
			Type:          events.ActivityCompleted,
			ActivityID:    activityID,
			ActivityTitle: adv.Activity.Title,
			Department:    dept,
			Actor:         completedBy,
			Notes:         notes,
		}
		if adv.Next != nil {
			evt.Type = events.ActivityAdvanced
			evt.Target = adv.Next.Department
		}
		return record(wctx, s.recorder, tx, evt)
	})
	if err != nil {
		return nil, err
	}

	if adv.Next != nil {
		s.cache.Invalidate(dept, adv.Next.Department)
	} else {
		s.cache.Invalidate(dept)
	}
	logging.FromContext(ctx, s.log).Info("department completed",
		zap.String("activity_id", activityID.String()),
		zap.String("department", string(dept)),
		zap.String("completed_by", completedBy),
		zap.String("event", string(evt.Type)))
	s.bus.Publish(context.WithoutCancel(ctx), evt)
	return adv, nil
}

// ReturnToPrevious sends the activity back from current to the department
// before it. Both affected rows change together or not at all.
func (s *WorkflowService) ReturnToPrevious(ctx context.Context, p auth.Principal, activityID uuid.UUID, current models.Department, returnedBy string, notes *string) (*repository.Return, error) {
	current, err := parseDepartment(current)
	if err != nil {
		return nil, err
	}
	returnedBy = strings.TrimSpace(returnedBy)
	if returnedBy == "" {
		return nil, apperr.Validation("returnedBy is required")
	}
	if err := p.CanActOn(current); err != nil {
		return nil, err
	}
	notes = cleanNotes(notes)

	wctx, cancel := writeContext(ctx, s.writeTimeout)
	defer cancel()
	var (
		ret *repository.Return
		evt events.Event
	)
	err = s.store.Transaction(wctx, func(tx *repository.Store) error {
		var err error
		if ret, err = tx.ReturnToPreviousDepartment(wctx, activityID, current, returnedBy, notes); err != nil {
			return err
		}
		evt = events.Event{
			Type:          events.ActivityReturned,
			ActivityID:    activityID,
			ActivityTitle: ret.Activity.Title,
			Department:    current,
			Target:        ret.Previous.Department,
			Actor:         returnedBy,
			Notes:         notes,
		}
		return record(wctx, s.recorder, tx, evt)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(current, ret.Previous.Department)
	logging.FromContext(ctx, s.log).Info("activity returned",
		zap.String("activity_id", activityID.String()),
		zap.String("from", string(current)),
		zap.String("to", string(ret.Previous.Department)),
		zap.String("returned_by", returnedBy))
	s.bus.Publish(context.WithoutCancel(ctx), evt)
	return ret, nil
}

// ListPending returns the queue of dept through the progress cache. It never
// fails on store errors; the snapshot flags degraded data instead.
func (s *WorkflowService) ListPending(ctx context.Context, p auth.Principal, dept models.Department) (cache.Snapshot, error) {
	dept, err := parseDepartment(dept)
	if err != nil {
		return cache.Snapshot{}, err
	}
	if err := p.CanActOn(dept); err != nil {
		return cache.Snapshot{}, err
	}
	return s.cache.Get(ctx, dept), nil
}

// GetOrder returns an activity with its progress rows.
func (s *WorkflowService) GetOrder(ctx context.Context, id uuid.UUID) (*models.Activity, error) {
	activity, err := s.store.Activities.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	progress, err := s.store.Progress.ListByActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	activity.Progress = progress
	return activity, nil
}

// History returns the transition log of an activity, oldest first.
func (s *WorkflowService) History(ctx context.Context, id uuid.UUID) ([]models.ProgressEvent, error) {
	if _, err := s.store.Activities.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Progress.History(ctx, id)
}

// Stats returns the pending and completed counts of every department.
func (s *WorkflowService) Stats(ctx context.Context) ([]models.DepartmentStats, error) {
	return s.store.Progress.Stats(ctx)
}

// DepartmentStats returns the counts of one department.
func (s *WorkflowService) DepartmentStats(ctx context.Context, dept models.Department) (models.DepartmentStats, error) {
	dept, err := parseDepartment(dept)
	if err != nil {
		return models.DepartmentStats{}, err
	}
	all, err := s.Stats(ctx)
	if err != nil {
		return models.DepartmentStats{}, err
	}
	for _, st := range all {
		if st.Department == dept {
			return st, nil
		}
	}
	return models.DepartmentStats{Department: dept}, nil
}

// UpdateOrder replaces the editable attributes of an activity. Status and
// progress are untouched.
func (s *WorkflowService) UpdateOrder(ctx context.Context, p auth.Principal, id uuid.UUID, in OrderInput) (*models.Activity, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	ctx, cancel := writeContext(ctx, s.writeTimeout)
	defer cancel()

	activity, err := s.store.Activities.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(activity)
	if err := s.store.Activities.Update(ctx, activity); err != nil {
		return nil, err
	}
	s.cache.Invalidate(models.Departments()...)
	return s.store.Activities.FindByID(ctx, id)
}

// DeleteOrder removes an activity and everything that refers to it.
func (s *WorkflowService) DeleteOrder(ctx context.Context, p auth.Principal, id uuid.UUID) error {
	if err := p.RequireAdmin(); err != nil {
		return err
	}
	ctx, cancel := writeContext(ctx, s.writeTimeout)
	defer cancel()
	if err := s.store.DeleteActivity(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(models.Departments()...)
	logging.FromContext(ctx, s.log).Info("activity deleted", zap.String("activity_id", id.String()), zap.String("by", p.Name))
	return nil
}

// OrderPage is one page of the admin listing.
type OrderPage struct {
	Items    []models.Activity `json:"items"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}

// ListOrders pages through every activity for the admin console.
func (s *WorkflowService) ListOrders(ctx context.Context, p auth.Principal, f repository.ListFilter) (*OrderPage, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	if f.Status != "" && f.Status != models.ActivityStatusInProgress && f.Status != models.ActivityStatusCompleted {
		return nil, apperr.Validation("unknown status %q", f.Status)
	}
	if f.Department != "" {
		dept, err := parseDepartment(f.Department)
		if err != nil {
			return nil, err
		}
		f.Department = dept
	}
	items, total, err := s.store.Activities.List(ctx, f)
	if err != nil {
		return nil, err
	}
	page, size := f.Page, f.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	return &OrderPage{Items: items, Total: total, Page: page, PageSize: size}, nil
}
