// Package notify turns workflow events into per-user notification rows and
// live pushes to the dashboards of the affected departments.
package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/example/prodflow/backend/internal/events"
	"github.com/example/prodflow/backend/internal/logging"
	"github.com/example/prodflow/backend/internal/models"
)

// Pusher delivers a payload to the live listeners of a channel.
type Pusher interface {
	Broadcast(channel string, payload any) int
}

// UserLister resolves recipients by role.
type UserLister interface {
	ListByRoles(ctx context.Context, roles ...models.Role) ([]models.User, error)
}

// Writer persists notification rows.
type Writer interface {
	CreateBatch(ctx context.Context, notifications []models.Notification) error
}

// Push is the payload sent to live listeners.
type Push struct {
	Kind       string                  `json:"kind"`
	Type       models.NotificationType `json:"type"`
	ActivityID uuid.UUID               `json:"activityId"`
	Department models.Department       `json:"department,omitempty"`
	Message    string                  `json:"message"`
}

// Notifier fans notifications out to users.
type Notifier struct {
	writer Writer
	pusher Pusher
	log    *zap.Logger
}

// New creates a Notifier. pusher may be nil when no live transport runs.
func New(writer Writer, pusher Pusher, log *zap.Logger) *Notifier {
	return &Notifier{writer: writer, pusher: pusher, log: logging.OrNop(log).Named("notify")}
}

func buildRows(users []models.User, activityID uuid.UUID, dept models.Department, typ models.NotificationType, message string) []models.Notification {
	rows := make([]models.Notification, 0, len(users))
	for _, u := range users {
		row := models.Notification{UserID: u.ID, ActivityID: &activityID, Message: message}
		if dept != "" {
			d := dept
			row.Department = &d
		}
		if typ != "" {
			t := typ
			row.Type = &t
		}
		rows = append(rows, row)
	}
	return rows
}

// Notify writes one notification per user, then pushes once to every distinct
// role channel among the recipients. Push is skipped when the write fails.
func (n *Notifier) Notify(ctx context.Context, users []models.User, activityID uuid.UUID, dept models.Department, typ models.NotificationType, message string) error {
	if len(users) == 0 {
		return nil
	}
	if err := n.writer.CreateBatch(ctx, buildRows(users, activityID, dept, typ, message)); err != nil {
		return errors.Wrapf(err, "write %s notifications", typ)
	}

	payload := Push{Kind: "notification", Type: typ, ActivityID: activityID, Department: dept, Message: message}
	seen := make(map[models.Role]struct{})
	for _, u := range users {
		if _, ok := seen[u.Role]; ok {
			continue
		}
		seen[u.Role] = struct{}{}
		n.push(u.Role, payload)
	}
	return nil
}

func (n *Notifier) push(role models.Role, payload Push) {
	if n.pusher == nil {
		return
	}
	delivered := n.pusher.Broadcast(string(role), payload)
	n.log.Debug("pushed notification",
		zap.String("channel", string(role)),
		zap.String("type", string(payload.Type)),
		zap.Int("delivered", delivered))
}

// delivery is one message addressed to every holder of a role.
type delivery struct {
	role models.Role
	dept models.Department
	typ  models.NotificationType
	msg  string
}

func deliveries(evt events.Event) []delivery {
	title := evt.ActivityTitle
	switch evt.Type {
	case events.ActivityCreated:
		return []delivery{{models.RoleFor(evt.Target), evt.Target,
			models.NotificationNewActivity, fmt.Sprintf("New activity %q is waiting in %s", title, evt.Target)}}

	case events.ActivityAdvanced:
		return []delivery{{models.RoleFor(evt.Target), evt.Target,
			models.NotificationActivityArrived, fmt.Sprintf("Activity %q arrived from %s", title, evt.Department)}}

	case events.ActivityCompleted:
		return []delivery{{models.RoleAdmin, evt.Department,
			models.NotificationActivityDone, fmt.Sprintf("Activity %q finished %s and is complete", title, evt.Department)}}

	case events.ActivityReturned:
		msg := fmt.Sprintf("Activity %q was returned from %s by %s", title, evt.Department, evt.Actor)
		if evt.Notes != nil && *evt.Notes != "" {
			msg += ": " + *evt.Notes
		}
		return []delivery{
			{models.RoleFor(evt.Target), evt.Target, models.NotificationActivityReturned, msg},
			{models.RoleFor(evt.Department), evt.Department, models.NotificationActivityLeft, fmt.Sprintf("Activity %q went back to %s", title, evt.Target)},
			{models.RoleAdmin, evt.Department, models.NotificationActivityReturned, fmt.Sprintf("Activity %q returned from %s to %s", title, evt.Department, evt.Target)},
		}

	case events.ReprintCreated:
		return []delivery{{models.RoleFor(evt.Target), evt.Target,
			models.NotificationReprintRequest, fmt.Sprintf("Reprint requested by %s for %q", evt.Department, title)}}

	case events.ReprintUpdated:
		return []delivery{{models.RoleFor(evt.Target), evt.Target,
			models.NotificationReprintUpdate, fmt.Sprintf("Reprint for %q is now %s", title, evt.ReprintStatus)}}
	}
	return nil
}

// Record writes the notification rows of evt through users and writer, which
// are expected to be bound to the transaction that produced evt. Nothing is
// pushed.
func (n *Notifier) Record(ctx context.Context, users UserLister, writer Writer, evt events.Event) error {
	var rows []models.Notification
	for _, d := range deliveries(evt) {
		recipients, err := users.ListByRoles(ctx, d.role)
		if err != nil {
			return errors.Wrapf(err, "resolve %s recipients", d.role)
		}
		rows = append(rows, buildRows(recipients, evt.ActivityID, d.dept, d.typ, d.msg)...)
	}
	if len(rows) == 0 {
		return nil
	}
	return errors.Wrapf(writer.CreateBatch(ctx, rows), "write %s notifications", evt.Type)
}

// Handle pushes the live notifications of a committed event to the role
// channels. It is meant to be subscribed to the event bus.
func (n *Notifier) Handle(ctx context.Context, evt events.Event) error {
	for _, d := range deliveries(evt) {
		n.push(d.role, Push{Kind: "notification", Type: d.typ, ActivityID: evt.ActivityID, Department: d.dept, Message: d.msg})
	}
	return nil
}
