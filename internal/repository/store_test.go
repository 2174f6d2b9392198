package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/prodflow/backend/internal/apperr"
	"github.com/example/prodflow/backend/internal/models"
	"github.com/example/prodflow/backend/internal/repository"
	"github.com/example/prodflow/backend/internal/testsupport"
)

func newStore(t *testing.T) *repository.Store {
	t.Helper()
	return repository.NewStore(testsupport.OpenDB(t))
}

func createActivity(t *testing.T, store *repository.Store, title string) *models.Activity {
	t.Helper()
	activity := &models.Activity{Title: title, Quantity: 1}
	require.NoError(t, store.CreateActivity(context.Background(), activity, "admin"))
	return activity
}

func pendingDepartments(t *testing.T, store *repository.Store, id uuid.UUID) []models.Department {
	t.Helper()
	rows, err := store.Progress.ListByActivity(context.Background(), id)
	require.NoError(t, err)
	var out []models.Department
	for _, row := range rows {
		if row.IsPending() {
			out = append(out, row.Department)
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func TestCreateActivityOpensFirstDepartment(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	activity := createActivity(t, store, "Banner")

	assert.Equal(t, models.ActivityStatusInProgress, activity.Status)
	row, err := store.Progress.Find(ctx, activity.ID, models.DepartmentGabarito)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, models.ProgressStatusPending, row.Status)

	orders, err := store.Activities.ListPendingByDepartment(ctx, models.DepartmentImpressao, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)

	orders, err = store.Activities.ListPendingByDepartment(ctx, models.DepartmentGabarito, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, activity.ID, orders[0].Activity.ID)
}

func TestCompleteAndAdvanceOpensNextDepartment(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	activity := createActivity(t, store, "Banner")

	adv, err := store.CompleteAndAdvance(ctx, activity.ID, models.DepartmentGabarito, "Ana", ptr("cut ok"))
	require.NoError(t, err)
	assert.Equal(t, models.ProgressStatusCompleted, adv.Completed.Status)
	assert.Equal(t, "Ana", *adv.Completed.CompletedBy)
	assert.NotNil(t, adv.Completed.CompletedAt)
	assert.Equal(t, models.CloseReasonCompleted, *adv.Completed.CloseReason)
	require.NotNil(t, adv.Next)
	assert.Equal(t, models.DepartmentImpressao, adv.Next.Department)
	assert.Equal(t, models.ProgressStatusPending, adv.Next.Status)

	orders, err := store.Activities.ListPendingByDepartment(ctx, models.DepartmentImpressao, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.NotNil(t, orders[0].PreviousNotes)
	assert.Equal(t, "cut ok", *orders[0].PreviousNotes)
	assert.Equal(t, models.DepartmentGabarito, *orders[0].PreviousDepartment)
}

func TestCompleteTwiceIsRejected(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	activity := createActivity(t, store, "Banner")

	_, err := store.CompleteAndAdvance(ctx, activity.ID, models.DepartmentGabarito, "Ana", nil)
	require.NoError(t, err)
	_, err = store.CompleteAndAdvance(ctx, activity.ID, models.DepartmentGabarito, "Ana", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	assert.Equal(t, apperr.CodeNotPending, apperr.CodeOf(err))

	rows, err := store.Progress.ListByActivity(ctx, activity.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, []models.Department{models.DepartmentImpressao}, pendingDepartments(t, store, activity.ID))
}

func TestCompleteUnknownRowIsNotFound(t *testing.T) {
	store := newStore(t)
	activity := createActivity(t, store, "Banner")

	_, err := store.CompleteAndAdvance(context.Background(), activity.ID, models.DepartmentCostura, "Ana", nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestConcurrentCompleteHasOneWinner(t *testing.T) {
	store := newStore(t)
	activity := createActivity(t, store, "Banner")

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.CompleteAndAdvance(context.Background(), activity.ID, models.DepartmentGabarito, "Ana", nil)
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.KindInvalidTransition):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, rejected)

	history, err := store.Progress.History(context.Background(), activity.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestReturnToPreviousDepartment(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	activity := createActivity(t, store, "Banner")
	_, err := store.CompleteAndAdvance(ctx, activity.ID, models.DepartmentGabarito, "Ana", nil)
	require.NoError(t, err)

	ret, err := store.ReturnToPreviousDepartment(ctx, activity.ID, models.DepartmentImpressao, "Bob", ptr("defect"))
	require.NoError(t, err)

	assert.Equal(t, models.ProgressStatusCompleted, ret.Current.Status)
	assert.Equal(t, "Bob", *ret.Current.CompletedBy)
	assert.Equal(t, models.CloseReasonReturned, *ret.Current.CloseReason)

	assert.Equal(t, models.ProgressStatusPending, ret.Previous.Status)
	assert.Nil(t, ret.Previous.CompletedBy)
	assert.Nil(t, ret.Previous.CompletedAt)
	assert.Equal(t, "Bob", *ret.Previous.ReturnedBy)
	assert.NotNil(t, ret.Previous.ReturnedAt)
	assert.Equal(t, "defect", *ret.Previous.Notes)

	orders, err := store.Activities.ListPendingByDepartment(ctx, models.DepartmentGabarito, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, []models.Department{models.DepartmentGabarito}, pendingDepartments(t, store, activity.ID))
}

func TestReturnFromFirstDepartmentChangesNothing(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	activity := createActivity(t, store, "Banner")

	_, err := store.ReturnToPreviousDepartment(ctx, activity.ID, models.DepartmentGabarito, "Bob", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNoPreviousDepartment, apperr.CodeOf(err))

	row, err := store.Progress.Find(ctx, activity.ID, models.DepartmentGabarito)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressStatusPending, row.Status)
	assert.Nil(t, row.ReturnedBy)
}

func TestReturnWithoutProgressIsInvalid(t *testing.T) {
	store := newStore(t)
	activity := createActivity(t, store, "Banner")

	_, err := store.ReturnToPreviousDepartment(context.Background(), activity.ID, models.DepartmentBatida, "Bob", nil)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	assert.Equal(t, apperr.CodeNoProgress, apperr.CodeOf(err))
	assert.Equal(t, []models.Department{models.DepartmentGabarito}, pendingDepartments(t, store, activity.ID))
}

func TestCompletingLastDepartmentCompletesActivity(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	activity := createActivity(t, store, "Banner")

	for _, dept := range models.Departments() {
		_, err := store.CompleteAndAdvance(ctx, activity.ID, dept, "op-"+string(dept), nil)
		require.NoError(t, err, dept)
	}

	got, err := store.Activities.FindByID(ctx, activity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActivityStatusCompleted, got.Status)

	rows, err := store.Progress.ListByActivity(ctx, activity.ID)
	require.NoError(t, err)
	assert.Len(t, rows, len(models.Departments()))
	assert.Empty(t, pendingDepartments(t, store, activity.ID))
}

func TestUpdateKeepsStatusCompletedConcurrently(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	activity := createActivity(t, store, "Banner")

	last := models.LastDepartment()
	for _, dept := range models.Departments() {
		if dept == last {
			break
		}
		_, err := store.CompleteAndAdvance(ctx, activity.ID, dept, "op", nil)
		require.NoError(t, err, dept)
	}

	stale, err := store.Activities.FindByID(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, models.ActivityStatusInProgress, stale.Status)

	_, err = store.CompleteAndAdvance(ctx, activity.ID, last, "op", nil)
	require.NoError(t, err)

	stale.Title = "Banner v2"
	stale.Notes = ptr("matte finish")
	require.NoError(t, store.Activities.Update(ctx, stale))

	got, err := store.Activities.FindByID(ctx, activity.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActivityStatusCompleted, got.Status)
	assert.Equal(t, "Banner v2", got.Title)
	assert.Equal(t, "matte finish", *got.Notes)
	assert.Empty(t, pendingDepartments(t, store, activity.ID))
}

func TestUpdateUnknownActivityIsNotFound(t *testing.T) {
	store := newStore(t)
	err := store.Activities.Update(context.Background(), &models.Activity{ID: uuid.New(), Title: "ghost"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTransactionJoinsOuterTransaction(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	activity := createActivity(t, store, "Banner")

	err := store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.CompleteAndAdvance(ctx, activity.ID, models.DepartmentGabarito, "op", nil); err != nil {
			return err
		}
		return apperr.Validation("abort")
	})
	require.Error(t, err)
	assert.Equal(t, []models.Department{models.DepartmentGabarito}, pendingDepartments(t, store, activity.ID))
}

func TestReturnThenReadvanceLeavesNoGhostRows(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	activity := createActivity(t, store, "Banner")

	seq := models.Departments()
	for _, dept := range seq[:3] {
		_, err := store.CompleteAndAdvance(ctx, activity.ID, dept, "op", nil)
		require.NoError(t, err)
	}
	// now pending at costura
	_, err := store.ReturnToPreviousDepartment(ctx, activity.ID, models.DepartmentCostura, "Bob", ptr("loose seam"))
	require.NoError(t, err)
	assert.Equal(t, []models.Department{models.DepartmentBatida}, pendingDepartments(t, store, activity.ID))

	adv, err := store.CompleteAndAdvance(ctx, activity.ID, models.DepartmentBatida, "Carla", nil)
	require.NoError(t, err)
	assert.Equal(t, models.DepartmentCostura, adv.Next.Department)
	assert.Nil(t, adv.Next.ReturnedBy)
	assert.Nil(t, adv.Next.CompletedBy)
	assert.Nil(t, adv.Next.Notes)
	assert.Equal(t, []models.Department{models.DepartmentCostura}, pendingDepartments(t, store, activity.ID))

	history, err := store.Progress.History(ctx, activity.ID)
	require.NoError(t, err)
	actions := make([]models.ProgressAction, 0, len(history))
	for _, evt := range history {
		actions = append(actions, evt.Action)
	}
	assert.Equal(t, []models.ProgressAction{
		models.ProgressActionCreated,
		models.ProgressActionCompleted,
		models.ProgressActionCompleted,
		models.ProgressActionCompleted,
		models.ProgressActionReturned,
		models.ProgressActionReopened,
		models.ProgressActionCompleted,
	}, actions)
}

func TestPendingDisplayOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mk := func(title string, deadline *time.Time, created time.Time) uuid.UUID {
		a := &models.Activity{Title: title, Quantity: 1, Deadline: deadline, CreatedAt: created}
		require.NoError(t, store.CreateActivity(ctx, a, "admin"))
		return a.ID
	}
	noDeadlineOld := mk("no deadline old", nil, base)
	late := mk("late", ptr(base.Add(72*time.Hour)), base.Add(time.Minute))
	noDeadlineNew := mk("no deadline new", nil, base.Add(2*time.Minute))
	soonNew := mk("soon new", ptr(base.Add(24*time.Hour)), base.Add(4*time.Minute))
	soonOld := mk("soon old", ptr(base.Add(24*time.Hour)), base.Add(3*time.Minute))

	want := []uuid.UUID{soonOld, soonNew, late, noDeadlineOld, noDeadlineNew}
	for i := 0; i < 3; i++ {
		orders, err := store.Activities.ListPendingByDepartment(ctx, models.DepartmentGabarito, 0)
		require.NoError(t, err)
		got := make([]uuid.UUID, 0, len(orders))
		for _, o := range orders {
			got = append(got, o.Activity.ID)
		}
		assert.Equal(t, want, got)
	}

	limited, err := store.Activities.ListPendingByDepartment(ctx, models.DepartmentGabarito, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, soonOld, limited[0].Activity.ID)
}

func TestStatsMatchProgressRows(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	a := createActivity(t, store, "A")
	createActivity(t, store, "B")
	_, err := store.CompleteAndAdvance(ctx, a.ID, models.DepartmentGabarito, "Ana", nil)
	require.NoError(t, err)

	stats, err := store.Progress.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, len(models.Departments()))
	byDept := map[models.Department]models.DepartmentStats{}
	for _, s := range stats {
		byDept[s.Department] = s
	}
	assert.Equal(t, int64(1), byDept[models.DepartmentGabarito].PendingCount)
	assert.Equal(t, int64(1), byDept[models.DepartmentGabarito].CompletedCount)
	assert.Equal(t, int64(1), byDept[models.DepartmentImpressao].PendingCount)
	assert.Equal(t, int64(0), byDept[models.DepartmentEmbalagem].PendingCount)
}

func TestDeleteActivityCascades(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	activity := createActivity(t, store, "Banner")
	user := &models.User{Username: "ana", Name: "Ana", Role: models.RoleFor(models.DepartmentGabarito), PasswordHash: "x"}
	require.NoError(t, store.Users.Create(ctx, user))
	require.NoError(t, store.Notifications.CreateBatch(ctx, []models.Notification{{UserID: user.ID, ActivityID: &activity.ID, Message: "hi"}}))
	require.NoError(t, store.Reprints.Create(ctx, &models.ReprintRequest{
		ActivityID: activity.ID, RequestedBy: "Bob", Reason: "smudge", Quantity: 1,
		FromDepartment: models.DepartmentBatida, ToDepartment: models.DepartmentImpressao,
	}))

	require.NoError(t, store.DeleteActivity(ctx, activity.ID))

	_, err := store.Activities.FindByID(ctx, activity.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	rows, err := store.Progress.ListByActivity(ctx, activity.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	notes, err := store.Notifications.ListByActivity(ctx, activity.ID)
	require.NoError(t, err)
	assert.Empty(t, notes)
	reprints, err := store.Reprints.List(ctx, repository.ReprintFilter{})
	require.NoError(t, err)
	assert.Empty(t, reprints)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(store.DeleteActivity(ctx, activity.ID)))
}

func TestListActivitiesFilters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	a := createActivity(t, store, "Blue banner")
	b := createActivity(t, store, "Red flag")
	b.ClientName = ptr("Acme Banners")
	require.NoError(t, store.Activities.Update(ctx, b))
	createActivity(t, store, "Green cap")
	_, err := store.CompleteAndAdvance(ctx, a.ID, models.DepartmentGabarito, "Ana", nil)
	require.NoError(t, err)

	got, total, err := store.Activities.List(ctx, repository.ListFilter{Search: "BANNER"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, got, 2)

	got, total, err = store.Activities.List(ctx, repository.ListFilter{Department: models.DepartmentImpressao})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, a.ID, got[0].ID)

	got, total, err = store.Activities.List(ctx, repository.ListFilter{PageSize: 1, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, got, 1)
}

func TestReprintStatusGuard(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	activity := createActivity(t, store, "Banner")
	req := &models.ReprintRequest{
		ActivityID: activity.ID, RequestedBy: "Bob", Reason: "smudge", Quantity: 2,
		FromDepartment: models.DepartmentBatida, ToDepartment: models.DepartmentImpressao,
	}
	require.NoError(t, store.Reprints.Create(ctx, req))
	assert.Equal(t, models.ReprintStatusPending, req.Status)

	updated, err := store.Reprints.UpdateStatus(ctx, req.ID, models.ReprintStatusInProgress, "Ivo")
	require.NoError(t, err)
	assert.Equal(t, models.ReprintStatusInProgress, updated.Status)

	_, err = store.Reprints.UpdateStatus(ctx, req.ID, models.ReprintStatusInProgress, "Ivo")
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))

	updated, err = store.Reprints.UpdateStatus(ctx, req.ID, models.ReprintStatusCompleted, "Ivo")
	require.NoError(t, err)
	assert.Equal(t, "Ivo", *updated.ProcessedBy)

	_, err = store.Reprints.UpdateStatus(ctx, req.ID, models.ReprintStatusRejected, "Ivo")
	assert.Equal(t, apperr.CodeTerminalStatus, apperr.CodeOf(err))

	_, err = store.Reprints.UpdateStatus(ctx, uuid.New(), models.ReprintStatusRejected, "Ivo")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
