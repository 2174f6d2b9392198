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
	"github.com/example/prodflow/backend/internal/repository"
)

// ReprintService runs the two-party reprint exchange.
type ReprintService struct {
	store        *repository.Store
	cache        *cache.ProgressCache
	bus          *events.Bus
	recorder     Recorder
	writeTimeout time.Duration
	log          *zap.Logger
}

// NewReprintService builds a service with dependencies.
func NewReprintService(store *repository.Store, progress *cache.ProgressCache, bus *events.Bus, recorder Recorder, writeTimeout time.Duration, log *zap.Logger) *ReprintService {
	return &ReprintService{
		store:        store,
		cache:        progress,
		bus:          bus,
		recorder:     recorder,
		writeTimeout: writeTimeout,
		log:          logging.OrNop(log).Named("reprint"),
	}
}

// ReprintInput is a new reprint request. Empty departments default to the
// batida to impressao exchange.
type ReprintInput struct {
	ActivityID     uuid.UUID         `json:"activityId"`
	RequestedBy    string            `json:"requestedBy"`
	Reason         string            `json:"reason"`
	Details        *string           `json:"details"`
	Quantity       int               `json:"quantity"`
	Priority       models.Priority   `json:"priority"`
	FromDepartment models.Department `json:"fromDepartment"`
	ToDepartment   models.Department `json:"toDepartment"`
}

func (in *ReprintInput) validate() error {
	if in.FromDepartment == "" {
		in.FromDepartment = models.DefaultReprintFrom
	}
	if in.ToDepartment == "" {
		in.ToDepartment = models.DefaultReprintTo
	}
	from, err := parseDepartment(in.FromDepartment)
	if err != nil {
		return err
	}
	to, err := parseDepartment(in.ToDepartment)
	if err != nil {
		return err
	}
	if from == to {
		return apperr.Validation("reprint must go to another department")
	}
	in.FromDepartment, in.ToDepartment = from, to

	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return apperr.Validation("reason is required")
	}
	in.RequestedBy = strings.TrimSpace(in.RequestedBy)
	if in.RequestedBy == "" {
		return apperr.Validation("requestedBy is required")
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 0 {
		return apperr.Validation("quantity must be positive")
	}
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	if !in.Priority.Valid() {
		return apperr.Validation("unknown priority %q", in.Priority)
	}
	if in.ActivityID == uuid.Nil {
		return apperr.Validation("activityId is required")
	}
	return nil
}

// Create files a request from the requester department. Only the requester
// department (or an admin) may file it.
func (s *ReprintService) Create(ctx context.Context, p auth.Principal, in ReprintInput) (*models.ReprintRequest, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := p.CanActOn(in.FromDepartment); err != nil {
		return nil, err
	}

	wctx, cancel := writeContext(ctx, s.writeTimeout)
	defer cancel()
	activity, err := s.store.Activities.FindByID(wctx, in.ActivityID)
	if err != nil {
		return nil, err
	}
	req := &models.ReprintRequest{
		ActivityID:     activity.ID,
		ActivityTitle:  activity.Title,
		ActivityImage:  activity.Image,
		RequestedBy:    in.RequestedBy,
		Reason:         in.Reason,
		Details:        cleanNotes(in.Details),
		Quantity:       in.Quantity,
		Priority:       in.Priority,
		FromDepartment: in.FromDepartment,
		ToDepartment:   in.ToDepartment,
	}
	var evt events.Event
	err = s.store.Transaction(wctx, func(tx *repository.Store) error {
		if err := tx.Reprints.Create(wctx, req); err != nil {
			return err
		}
		evt = events.Event{
			Type:          events.ReprintCreated,
			ActivityID:    req.ActivityID,
			ActivityTitle: req.ActivityTitle,
			Department:    req.FromDepartment,
			Target:        req.ToDepartment,
			Actor:         req.RequestedBy,
			ReprintID:     &req.ID,
			ReprintStatus: req.Status,
		}
		return record(wctx, s.recorder, tx, evt)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx, s.log).Info("reprint requested",
		zap.String("reprint_id", req.ID.String()),
		zap.String("from", string(req.FromDepartment)),
		zap.String("to", string(req.ToDepartment)))
	s.bus.Publish(context.WithoutCancel(ctx), evt)
	return req, nil
}

func parseStatusTab(raw models.ReprintStatus) (models.ReprintStatus, error) {
	if raw == "" {
		return "", nil
	}
	if !raw.Valid() {
		return "", apperr.Validation("unknown status %q", raw)
	}
	return raw, nil
}

// ListIncoming returns the requests addressed to dept, optionally by status.
func (s *ReprintService) ListIncoming(ctx context.Context, p auth.Principal, dept models.Department, status models.ReprintStatus) ([]models.ReprintRequest, error) {
	return s.list(ctx, p, dept, status, true)
}

// ListOutgoing returns the requests filed by dept, optionally by status.
func (s *ReprintService) ListOutgoing(ctx context.Context, p auth.Principal, dept models.Department, status models.ReprintStatus) ([]models.ReprintRequest, error) {
	return s.list(ctx, p, dept, status, false)
}

func (s *ReprintService) list(ctx context.Context, p auth.Principal, dept models.Department, status models.ReprintStatus, incoming bool) ([]models.ReprintRequest, error) {
	dept, err := parseDepartment(dept)
	if err != nil {
		return nil, err
	}
	if err := p.CanActOn(dept); err != nil {
		return nil, err
	}
	status, err = parseStatusTab(status)
	if err != nil {
		return nil, err
	}
	f := repository.ReprintFilter{Status: status}
	if incoming {
		f.To = dept
	} else {
		f.From = dept
	}
	return s.store.Reprints.List(ctx, f)
}

// UpdateStatus records the fulfiller's answer. Terminal requests never change.
func (s *ReprintService) UpdateStatus(ctx context.Context, p auth.Principal, id uuid.UUID, status models.ReprintStatus, processedBy string) (*models.ReprintRequest, error) {
	if !status.Valid() || status == models.ReprintStatusPending {
		return nil, apperr.Validation("status must be in_progress, completed or rejected")
	}
	processedBy = strings.TrimSpace(processedBy)
	if processedBy == "" {
		processedBy = p.Name
	}
	if processedBy == "" {
		return nil, apperr.Validation("processedBy is required")
	}

	wctx, cancel := writeContext(ctx, s.writeTimeout)
	defer cancel()
	current, err := s.store.Reprints.FindByID(wctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.CanActOn(current.ToDepartment); err != nil {
		return nil, err
	}
	var (
		updated *models.ReprintRequest
		evt     events.Event
	)
	err = s.store.Transaction(wctx, func(tx *repository.Store) error {
		var err error
		if updated, err = tx.Reprints.UpdateStatus(wctx, id, status, processedBy); err != nil {
			return err
		}
		evt = events.Event{
			Type:          events.ReprintUpdated,
			ActivityID:    updated.ActivityID,
			ActivityTitle: updated.ActivityTitle,
			Department:    updated.ToDepartment,
			Target:        updated.FromDepartment,
			Actor:         processedBy,
			ReprintID:     &updated.ID,
			ReprintStatus: updated.Status,
		}
		return record(wctx, s.recorder, tx, evt)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(updated.FromDepartment, updated.ToDepartment)
	logging.FromContext(ctx, s.log).Info("reprint updated",
		zap.String("reprint_id", id.String()),
		zap.String("status", string(updated.Status)),
		zap.String("processed_by", processedBy))
	s.bus.Publish(context.WithoutCancel(ctx), evt)
	return updated, nil
}
