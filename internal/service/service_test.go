package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/prodflow/backend/internal/apperr"
	"github.com/example/prodflow/backend/internal/auth"
	"github.com/example/prodflow/backend/internal/cache"
	"github.com/example/prodflow/backend/internal/events"
	"github.com/example/prodflow/backend/internal/models"
	"github.com/example/prodflow/backend/internal/notify"
	"github.com/example/prodflow/backend/internal/repository"
	"github.com/example/prodflow/backend/internal/service"
	"github.com/example/prodflow/backend/internal/testsupport"
)

type env struct {
	store    *repository.Store
	workflow *service.WorkflowService
	reprints *service.ReprintService
	users    *service.UserService
	inbox    *service.NotificationService
	admin    auth.Principal
	members  map[models.Department]auth.Principal
	recorded []events.Event
	writes   *flakyRecorder
}

// flakyRecorder fails the next failures notification writes.
type flakyRecorder struct {
	inner    service.Recorder
	failures int
}

func (r *flakyRecorder) Record(ctx context.Context, users notify.UserLister, writer notify.Writer, evt events.Event) error {
	return r.inner.Record(ctx, users, flakyWriter{writer, r}, evt)
}

type flakyWriter struct {
	notify.Writer
	r *flakyRecorder
}

func (w flakyWriter) CreateBatch(ctx context.Context, rows []models.Notification) error {
	if w.r.failures > 0 {
		w.r.failures--
		return errors.New("notifications table locked")
	}
	return w.Writer.CreateBatch(ctx, rows)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := repository.NewStore(testsupport.OpenDB(t))
	progress := cache.New(store.Activities.ListPendingByDepartment, cache.Options{TTL: time.Hour})
	bus := events.NewBus(nil)
	notifier := notify.New(store.Notifications, nil, nil)
	writes := &flakyRecorder{inner: notifier}
	e := &env{
		store:    store,
		workflow: service.NewWorkflowService(store, progress, bus, writes, 5*time.Second, nil),
		reprints: service.NewReprintService(store, progress, bus, writes, 5*time.Second, nil),
		users:    service.NewUserService(store.Users, "secret", time.Hour, nil),
		inbox:    service.NewNotificationService(store.Notifications),
		members:  make(map[models.Department]auth.Principal),
		writes:   writes,
	}
	bus.Subscribe("notify", notifier.Handle)
	bus.Subscribe("record", func(_ context.Context, evt events.Event) error {
		e.recorded = append(e.recorded, evt)
		return nil
	})

	ctx := context.Background()
	admin, err := e.users.CreateUser(ctx, service.UserInput{Username: "admin", Password: "pw", Name: "Admin", Role: "admin"})
	require.NoError(t, err)
	e.admin = auth.Principal{UserID: admin.ID, Name: admin.Name, Role: admin.Role}
	for _, dept := range models.Departments() {
		u, err := e.users.CreateUser(ctx, service.UserInput{Username: string(dept), Password: "pw", Role: string(dept)})
		require.NoError(t, err)
		e.members[dept] = auth.Principal{UserID: u.ID, Name: u.Name, Role: u.Role}
	}
	return e
}

func (e *env) createOrder(t *testing.T, title string) *models.Activity {
	t.Helper()
	activity, err := e.workflow.CreateOrder(context.Background(), e.admin, service.OrderInput{Title: title})
	require.NoError(t, err)
	return activity
}

func (e *env) pendingIDs(t *testing.T, dept models.Department) []uuid.UUID {
	t.Helper()
	snap, err := e.workflow.ListPending(context.Background(), e.admin, dept)
	require.NoError(t, err)
	assert.False(t, snap.Stale)
	assert.False(t, snap.Partial)
	ids := make([]uuid.UUID, 0, len(snap.Orders))
	for _, o := range snap.Orders {
		ids = append(ids, o.Activity.ID)
	}
	return ids
}

func (e *env) unread(t *testing.T, p auth.Principal) []models.Notification {
	t.Helper()
	box, err := e.inbox.List(context.Background(), p, true, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(box.Items)), box.Unread)
	return box.Items
}

func TestCreateOrderRequiresAdminAndNotifiesFirstDepartment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.workflow.CreateOrder(ctx, e.members[models.DepartmentGabarito], service.OrderInput{Title: "x"})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))
	_, err = e.workflow.CreateOrder(ctx, e.admin, service.OrderInput{Title: "  "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	activity := e.createOrder(t, "Banner")
	assert.Equal(t, 1, activity.Quantity)
	assert.Equal(t, []uuid.UUID{activity.ID}, e.pendingIDs(t, models.DepartmentGabarito))
	assert.Empty(t, e.pendingIDs(t, models.DepartmentImpressao))

	rows := e.unread(t, e.members[models.DepartmentGabarito])
	require.Len(t, rows, 1)
	assert.Equal(t, models.NotificationNewActivity, *rows[0].Type)
}

func TestCompleteValidatesBeforeTouchingState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	activity := e.createOrder(t, "Banner")

	_, err := e.workflow.Complete(ctx, e.admin, activity.ID, models.DepartmentGabarito, " ", nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = e.workflow.Complete(ctx, e.admin, activity.ID, "pintura", "Ana", nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = e.workflow.Complete(ctx, e.members[models.DepartmentImpressao], activity.ID, models.DepartmentGabarito, "Ana", nil)
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	assert.Equal(t, []uuid.UUID{activity.ID}, e.pendingIDs(t, models.DepartmentGabarito))
}

func TestCompleteInvalidatesCacheImmediately(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	activity := e.createOrder(t, "Banner")

	// Warm both entries; the TTL is an hour so only invalidation can change them.
	require.Len(t, e.pendingIDs(t, models.DepartmentGabarito), 1)
	require.Empty(t, e.pendingIDs(t, models.DepartmentImpressao))

	adv, err := e.workflow.Complete(ctx, e.members[models.DepartmentGabarito], activity.ID, models.DepartmentGabarito, "Ana", nil)
	require.NoError(t, err)
	require.NotNil(t, adv.Next)
	assert.Equal(t, models.DepartmentImpressao, adv.Next.Department)

	assert.Empty(t, e.pendingIDs(t, models.DepartmentGabarito))
	assert.Equal(t, []uuid.UUID{activity.ID}, e.pendingIDs(t, models.DepartmentImpressao))
}

func TestSecondCompleteFailsWithoutDuplicateNotifications(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	activity := e.createOrder(t, "Banner")
	gab := e.members[models.DepartmentGabarito]

	_, err := e.workflow.Complete(ctx, gab, activity.ID, models.DepartmentGabarito, "Ana", nil)
	require.NoError(t, err)
	_, err = e.workflow.Complete(ctx, gab, activity.ID, models.DepartmentGabarito, "Ana", nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	assert.Equal(t, apperr.CodeNotPending, apperr.CodeOf(err))

	assert.Len(t, e.unread(t, e.members[models.DepartmentImpressao]), 1)
	rows, err := e.store.Progress.ListByActivity(ctx, activity.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestNotificationWriteFailureRollsBackCompletion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	activity := e.createOrder(t, "Banner")
	gab := e.members[models.DepartmentGabarito]
	imp := e.members[models.DepartmentImpressao]
	published := len(e.recorded)

	e.writes.failures = 1
	_, err := e.workflow.Complete(ctx, gab, activity.ID, models.DepartmentGabarito, "Ana", nil)
	require.Error(t, err)
	assert.Equal(t, []uuid.UUID{activity.ID}, e.pendingIDs(t, models.DepartmentGabarito))
	assert.Empty(t, e.pendingIDs(t, models.DepartmentImpressao))
	assert.Empty(t, e.unread(t, imp))
	assert.Len(t, e.recorded, published)

	_, err = e.workflow.Complete(ctx, gab, activity.ID, models.DepartmentGabarito, "Ana", nil)
	require.NoError(t, err)
	rows := e.unread(t, imp)
	require.Len(t, rows, 1)
	assert.Equal(t, models.NotificationActivityArrived, *rows[0].Type)
	assert.Equal(t, []uuid.UUID{activity.ID}, e.pendingIDs(t, models.DepartmentImpressao))
}

func TestNotificationWriteFailureRollsBackReprint(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	activity := e.createOrder(t, "Banner")
	bat := e.members[models.DepartmentBatida]

	e.writes.failures = 1
	_, err := e.reprints.Create(ctx, bat, service.ReprintInput{ActivityID: activity.ID, RequestedBy: "Caio", Reason: "torn"})
	require.Error(t, err)
	outgoing, err := e.reprints.ListOutgoing(ctx, bat, models.DepartmentBatida, "")
	require.NoError(t, err)
	assert.Empty(t, outgoing)
	assert.Empty(t, e.unread(t, e.members[models.DepartmentImpressao]))
}

func TestUpdateOrderKeepsCompletedStatus(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	activity := e.createOrder(t, "Banner")
	for _, dept := range models.Departments() {
		_, err := e.workflow.Complete(ctx, e.members[dept], activity.ID, dept, "op", nil)
		require.NoError(t, err, dept)
	}

	updated, err := e.workflow.UpdateOrder(ctx, e.admin, activity.ID, service.OrderInput{Title: "Banner v2", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, "Banner v2", updated.Title)
	assert.Equal(t, 3, updated.Quantity)
	assert.Equal(t, models.ActivityStatusCompleted, updated.Status)
	for _, dept := range models.Departments() {
		assert.Empty(t, e.pendingIDs(t, dept))
	}
}

func TestReturnNotifiesAndRequeuesPreviousDepartment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	activity := e.createOrder(t, "Banner")
	_, err := e.workflow.Complete(ctx, e.admin, activity.ID, models.DepartmentGabarito, "Ana", nil)
	require.NoError(t, err)
	require.Len(t, e.pendingIDs(t, models.DepartmentGabarito), 0)

	_, err = e.workflow.ReturnToPrevious(ctx, e.members[models.DepartmentGabarito], activity.ID, models.DepartmentGabarito, "Bob", nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	assert.Equal(t, apperr.CodeNoPreviousDepartment, apperr.CodeOf(err))

	notes := "defect"
	ret, err := e.workflow.ReturnToPrevious(ctx, e.members[models.DepartmentImpressao], activity.ID, models.DepartmentImpressao, "Bob", &notes)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressStatusPending, ret.Previous.Status)
	require.NotNil(t, ret.Previous.ReturnedBy)
	assert.Equal(t, "Bob", *ret.Previous.ReturnedBy)
	assert.Equal(t, models.CloseReasonReturned, *ret.Current.CloseReason)

	assert.Equal(t, []uuid.UUID{activity.ID}, e.pendingIDs(t, models.DepartmentGabarito))
	assert.Empty(t, e.pendingIDs(t, models.DepartmentImpressao))

	gab := e.unread(t, e.members[models.DepartmentGabarito])
	require.NotEmpty(t, gab)
	assert.Equal(t, models.NotificationActivityReturned, *gab[0].Type)
	assert.Contains(t, gab[0].Message, "defect")

	last := e.recorded[len(e.recorded)-1]
	assert.Equal(t, events.ActivityReturned, last.Type)
	assert.Equal(t, models.DepartmentGabarito, last.Target)
}

func TestFullPipelineCompletesActivity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	activity := e.createOrder(t, "Banner")

	for _, dept := range models.Departments() {
		_, err := e.workflow.Complete(ctx, e.members[dept], activity.ID, dept, "op-"+string(dept), nil)
		require.NoError(t, err, dept)
	}

	got, err := e.workflow.GetOrder(ctx, activity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActivityStatusCompleted, got.Status)
	assert.Len(t, got.Progress, len(models.Departments()))
	for _, dept := range models.Departments() {
		assert.Empty(t, e.pendingIDs(t, dept))
	}

	adminRows := e.unread(t, e.admin)
	require.Len(t, adminRows, 1)
	assert.Equal(t, models.NotificationActivityDone, *adminRows[0].Type)

	history, err := e.workflow.History(ctx, activity.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1+len(models.Departments()))

	stats, err := e.workflow.DepartmentStats(ctx, models.DepartmentCostura)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingCount)
	assert.Equal(t, int64(1), stats.CompletedCount)
}

func TestDeleteOrderClearsQueues(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	activity := e.createOrder(t, "Banner")
	require.Len(t, e.pendingIDs(t, models.DepartmentGabarito), 1)

	assert.True(t, apperr.Is(e.workflow.DeleteOrder(ctx, e.members[models.DepartmentGabarito], activity.ID), apperr.KindAuthorization))
	require.NoError(t, e.workflow.DeleteOrder(ctx, e.admin, activity.ID))
	assert.Empty(t, e.pendingIDs(t, models.DepartmentGabarito))

	_, err := e.workflow.GetOrder(ctx, activity.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListOrdersFilters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.createOrder(t, "Banner")
	second := e.createOrder(t, "Flag")
	_, err := e.workflow.Complete(ctx, e.admin, second.ID, models.DepartmentGabarito, "Ana", nil)
	require.NoError(t, err)

	page, err := e.workflow.ListOrders(ctx, e.admin, repository.ListFilter{Department: models.DepartmentImpressao})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, second.ID, page.Items[0].ID)
	assert.Equal(t, 1, page.Page)

	_, err = e.workflow.ListOrders(ctx, e.admin, repository.ListFilter{Status: "archived"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestReprintExchange(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	activity := e.createOrder(t, "Banner")
	batida := e.members[models.DepartmentBatida]
	impressao := e.members[models.DepartmentImpressao]

	_, err := e.reprints.Create(ctx, batida, service.ReprintInput{ActivityID: activity.ID, RequestedBy: "Caio"})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "reason required")

	_, err = e.reprints.Create(ctx, batida, service.ReprintInput{
		ActivityID: activity.ID, RequestedBy: "Caio", Reason: "smudge",
		FromDepartment: models.DepartmentBatida, ToDepartment: models.DepartmentBatida,
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "same department")

	_, err = e.reprints.Create(ctx, impressao, service.ReprintInput{ActivityID: activity.ID, RequestedBy: "Caio", Reason: "smudge"})
	assert.True(t, apperr.Is(err, apperr.KindAuthorization), "requester only")

	req, err := e.reprints.Create(ctx, batida, service.ReprintInput{ActivityID: activity.ID, RequestedBy: "Caio", Reason: "smudge"})
	require.NoError(t, err)
	assert.Equal(t, models.ReprintStatusPending, req.Status)
	assert.Equal(t, models.DepartmentImpressao, req.ToDepartment)
	assert.Equal(t, "Banner", req.ActivityTitle)
	require.Len(t, e.unread(t, impressao), 1)

	incoming, err := e.reprints.ListIncoming(ctx, impressao, models.DepartmentImpressao, models.ReprintStatusPending)
	require.NoError(t, err)
	assert.Len(t, incoming, 1)
	_, err = e.reprints.ListIncoming(ctx, batida, models.DepartmentImpressao, "")
	assert.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = e.reprints.UpdateStatus(ctx, batida, req.ID, models.ReprintStatusCompleted, "")
	assert.True(t, apperr.Is(err, apperr.KindAuthorization), "fulfiller only")
	_, err = e.reprints.UpdateStatus(ctx, impressao, req.ID, models.ReprintStatusPending, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	done, err := e.reprints.UpdateStatus(ctx, impressao, req.ID, models.ReprintStatusRejected, "Dora")
	require.NoError(t, err)
	assert.Equal(t, models.ReprintStatusRejected, done.Status)
	require.NotNil(t, done.ProcessedBy)
	assert.Equal(t, "Dora", *done.ProcessedBy)

	_, err = e.reprints.UpdateStatus(ctx, impressao, req.ID, models.ReprintStatusCompleted, "Dora")
	assert.True(t, apperr.Is(err, apperr.KindInvalidTransition))
	assert.Equal(t, apperr.CodeTerminalStatus, apperr.CodeOf(err))

	outgoing, err := e.reprints.ListOutgoing(ctx, batida, models.DepartmentBatida, models.ReprintStatusRejected)
	require.NoError(t, err)
	assert.Len(t, outgoing, 1)
	updates := e.unread(t, batida)
	require.Len(t, updates, 1)
	assert.Equal(t, models.NotificationReprintUpdate, *updates[0].Type)
}

func TestUsersAndLogin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.users.CreateUser(ctx, service.UserInput{Username: "admin", Password: "pw", Role: "admin"})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "duplicate username")
	_, err = e.users.CreateUser(ctx, service.UserInput{Username: "x", Password: "pw", Role: "pintura"})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "unknown role")

	session, err := e.users.Login(ctx, "costura", "pw")
	require.NoError(t, err)
	p, err := auth.ParseToken(session.Token, "secret")
	require.NoError(t, err)
	assert.Equal(t, models.RoleFor(models.DepartmentCostura), p.Role)

	_, err = e.users.Login(ctx, "costura", "nope")
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
	_, err = e.users.Login(ctx, "ghost", "pw")
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))

	updated, err := e.users.UpdateUser(ctx, session.User.ID, service.UserInput{Password: "new", Name: "Costureira"})
	require.NoError(t, err)
	assert.Equal(t, "Costureira", updated.Name)
	_, err = e.users.Login(ctx, "costura", "new")
	require.NoError(t, err)

	assert.True(t, apperr.Is(e.users.DeleteUser(ctx, e.admin, e.admin.UserID), apperr.KindValidation))
	require.NoError(t, e.users.DeleteUser(ctx, e.admin, session.User.ID))
	_, err = e.users.Login(ctx, "costura", "new")
	assert.True(t, apperr.Is(err, apperr.KindAuthentication))
}

func TestNotificationInbox(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.createOrder(t, "Banner")
	e.createOrder(t, "Flag")
	gab := e.members[models.DepartmentGabarito]

	rows := e.unread(t, gab)
	require.Len(t, rows, 2)
	require.NoError(t, e.inbox.MarkRead(ctx, gab, rows[0].ID))
	assert.Len(t, e.unread(t, gab), 1)

	err := e.inbox.MarkRead(ctx, e.members[models.DepartmentCostura], rows[1].ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "other users cannot flip it")

	n, err := e.inbox.MarkAllRead(ctx, gab)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, e.unread(t, gab))
}
