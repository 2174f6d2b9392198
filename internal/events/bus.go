// Package events carries workflow domain events from the engine to the
// components that react to them.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/prodflow/backend/internal/logging"
	"github.com/example/prodflow/backend/internal/models"
)

// Type names a workflow event. It doubles as the broker routing key.
type Type string

const (
	ActivityCreated   Type = "activity.created"
	ActivityAdvanced  Type = "activity.advanced"
	ActivityCompleted Type = "activity.completed"
	ActivityReturned  Type = "activity.returned"
	ReprintCreated    Type = "reprint.created"
	ReprintUpdated    Type = "reprint.updated"
)

// Event describes a committed state change. Department is where the change
// happened; Target is the department that received the activity or request.
type Event struct {
	Type          Type                 `json:"event"`
	ActivityID    uuid.UUID            `json:"activityId"`
	ActivityTitle string               `json:"activityTitle,omitempty"`
	Department    models.Department    `json:"department,omitempty"`
	Target        models.Department    `json:"target,omitempty"`
	Actor         string               `json:"actor,omitempty"`
	Notes         *string              `json:"notes,omitempty"`
	ReprintID     *uuid.UUID           `json:"reprintId,omitempty"`
	ReprintStatus models.ReprintStatus `json:"reprintStatus,omitempty"`
	OccurredAt    time.Time            `json:"occurredAt"`
}

// Handler reacts to an event. Returned errors are logged, never propagated.
type Handler func(ctx context.Context, evt Event) error

type subscription struct {
	name    string
	handler Handler
}

// Bus dispatches events synchronously to subscribers in subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	log  *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(log *zap.Logger) *Bus {
	return &Bus{log: logging.OrNop(log).Named("events")}
}

// Subscribe registers handler under name.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: handler})
}

// Publish delivers evt to every subscriber. A failing or panicking subscriber
// does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if b == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.dispatch(ctx, sub, evt); err != nil {
			b.log.Error("event handler failed",
				zap.String("handler", sub.name),
				zap.String("event", string(evt.Type)),
				zap.String("activity_id", evt.ActivityID.String()),
				zap.Error(err))
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, sub subscription, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sub.handler(ctx, evt)
}
