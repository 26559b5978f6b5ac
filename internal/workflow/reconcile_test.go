package workflow_test

import (
	"testing"
	"time"

	"rfitracker/internal/workflow"
	"rfitracker/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func TestReconcileNoChangeIsPure(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(day(2026, 3, 15))
	before := f.item(item.ID)
	in := workflow.IncomingFields{
		DueDate:  day(2026, 3, 15),
		Title:    strPtr("Beam Clarification"),
		Priority: priority(models.PriorityMedium),
	}

	for i := 0; i < 2; i++ {
		kind, err := f.engine.Reconcile(f.ctx, workflow.SystemActor, item.ID, in)
		require.NoError(t, err)
		assert.Equal(t, models.UpdateNone, kind)
	}
	assert.Equal(t, before, f.item(item.ID))
}

func TestReconcileClassifiesChange(t *testing.T) {
	tests := []struct {
		name string
		in   workflow.IncomingFields
		want models.UpdateKind
	}{
		{
			name: "due date only",
			in:   workflow.IncomingFields{DueDate: day(2026, 3, 20)},
			want: models.UpdateDueDateOnly,
		},
		{
			name: "title wins over due date",
			in:   workflow.IncomingFields{DueDate: day(2026, 3, 20), Title: strPtr("Beam and Column Clarification")},
			want: models.UpdateContentChange,
		},
		{
			name: "priority",
			in:   workflow.IncomingFields{Priority: priority(models.PriorityHigh)},
			want: models.UpdateContentChange,
		},
		{
			name: "absent fields are ignored",
			in:   workflow.IncomingFields{Title: strPtr("  ")},
			want: models.UpdateNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			item := f.createItem(day(2026, 3, 15))

			kind, err := f.engine.Reconcile(f.ctx, workflow.SystemActor, item.ID, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)

			got := f.item(item.ID)
			assert.Equal(t, tt.want != models.UpdateNone, got.HasPendingUpdate)
			assert.Equal(t, tt.want, got.UpdateType)
			f.requireInvariants(item.ID)
		})
	}
}

func TestReconcileClosedItemStaysClosed(t *testing.T) {
	f := newFixture(t)
	item := f.closedItem(day(2026, 3, 15), "rev1@leb.test")
	closedAt := *item.ClosedAt

	kind, err := f.engine.Reconcile(f.ctx, workflow.SystemActor, item.ID, workflow.IncomingFields{DueDate: day(2026, 3, 25)})
	require.NoError(t, err)
	assert.Equal(t, models.UpdateDueDateOnly, kind)

	got := f.item(item.ID)
	assert.Equal(t, models.StageClosed, got.Stage)
	require.NotNil(t, got.ClosedAt)
	assert.Equal(t, closedAt, *got.ClosedAt)
	assert.True(t, got.HasPendingUpdate)
	assert.Equal(t, models.UpdateDueDateOnly, got.UpdateType)
	assert.True(t, got.ReopenedFromClosed)
	assert.Equal(t, models.StageClosed, got.StatusBeforeUpdate)
	assert.Equal(t, *day(2026, 3, 15), *got.PreviousDueDate)
	assert.Equal(t, *day(2026, 3, 25), *got.DueDate)
	assert.NotNil(t, got.UpdateDetectedAt)
	f.requireInvariants(item.ID)

	notes, err := f.engine.ListNotifications(f.ctx, f.admin, true)
	require.NoError(t, err)
	var warnings int
	for _, n := range notes {
		if n.Type == models.NotificationWarning {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)

	// обычный пользователь видит позицию в прежнем виде
	visible, err := f.engine.GetItem(f.ctx, f.user, item.ID)
	require.NoError(t, err)
	assert.False(t, visible.HasPendingUpdate)
	assert.Equal(t, *day(2026, 3, 15), *visible.DueDate)
	assert.Equal(t, models.StageClosed, visible.Stage)

	adminView, err := f.engine.GetItem(f.ctx, f.admin, item.ID)
	require.NoError(t, err)
	assert.True(t, adminView.HasPendingUpdate)

	_, err = f.engine.ListPendingUpdates(f.ctx, f.user)
	require.ErrorIs(t, err, workflow.ErrForbidden)
	pending, err := f.engine.ListPendingUpdates(f.ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, item.ID, pending[0].ID)
}

func TestResolveRestartWorkflow(t *testing.T) {
	f := newFixture(t)
	item := f.closedItem(day(2026, 3, 15), "rev1@leb.test", "rev2@leb.test")
	_, err := f.engine.Reconcile(f.ctx, workflow.SystemActor, item.ID, workflow.IncomingFields{DueDate: day(2026, 3, 25)})
	require.NoError(t, err)

	_, err = f.engine.ResolveUpdate(f.ctx, f.user, item.ID, workflow.ResolveRestartWorkflow, "")
	require.ErrorIs(t, err, workflow.ErrForbidden)

	res, err := f.engine.ResolveUpdate(f.ctx, f.admin, item.ID, workflow.ResolveRestartWorkflow, "new scope")
	require.NoError(t, err)

	got := f.item(item.ID)
	assert.Equal(t, models.StageReviewerAssigned, got.Stage)
	assert.Nil(t, got.ClosedAt)
	assert.False(t, got.HasPendingUpdate)
	assert.Equal(t, models.UpdateNone, got.UpdateType)
	assert.Nil(t, got.PreviousDueDate)
	assert.False(t, got.ReopenedFromClosed)
	assert.Equal(t, *day(2026, 3, 25), *got.DueDate)
	assert.Equal(t, *day(2026, 3, 20), *got.InitialReviewerDueDate)
	assert.Empty(t, got.FinalResponseCategory)
	assert.Equal(t, models.QcrActionNone, got.QcrAction)

	assignments := f.assignments(item.ID)
	require.Len(t, assignments, 2)
	for _, a := range assignments {
		assert.Equal(t, models.AssignmentPending, a.Status)
		assert.Nil(t, a.ResponseAt)
	}
	assert.Equal(t, "qcr@leb.test", got.QcrEmail)
	f.requireInvariants(item.ID)

	require.Len(t, res.Queued, 2)
	for _, m := range res.Queued {
		assert.Equal(t, workflow.TemplateReviewerAssignment, m.Template)
	}
	results := f.engine.Deliver(f.ctx, res.Queued)
	require.Len(t, results, 2)
	assert.Equal(t, models.StageReviewerEmailSent, f.item(item.ID).Stage)

	_, err = f.engine.ResolveUpdate(f.ctx, f.admin, item.ID, workflow.ResolveRestartWorkflow, "")
	require.ErrorIs(t, err, workflow.ErrNoPendingUpdate)
}

func TestResolveAcceptDueDate(t *testing.T) {
	f := newFixture(t)
	item, _ := f.sentItem(day(2026, 3, 15), "rev1@leb.test")
	kind, err := f.engine.Reconcile(f.ctx, workflow.SystemActor, item.ID, workflow.IncomingFields{
		DueDate: day(2026, 3, 22),
		Title:   strPtr("Revised Beam Clarification"),
	})
	require.NoError(t, err)
	require.Equal(t, models.UpdateContentChange, kind)

	res, err := f.engine.ResolveUpdate(f.ctx, f.admin, item.ID, workflow.ResolveAcceptDueDate, "")
	require.NoError(t, err)
	assert.Equal(t, models.StageReviewerEmailSent, res.Item.Stage, "workflow is not restarted")
	assert.Equal(t, *day(2026, 3, 22), *res.Item.DueDate)
	assert.Equal(t, *day(2026, 3, 17), *res.Item.InitialReviewerDueDate)
	assert.Equal(t, "Beam Clarification", res.Item.Title)
	assert.False(t, res.Item.HasPendingUpdate)

	require.Len(t, res.Queued, 1)
	assert.Equal(t, workflow.TemplateDueDateChanged, res.Queued[0].Template)
	assert.Equal(t, "rev1@leb.test", res.Queued[0].To.Email)
	f.engine.Deliver(f.ctx, res.Queued)
	assert.Len(t, f.sender.messages(workflow.TemplateDueDateChanged), 1)
}

func TestResolveDismissReverts(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(day(2026, 3, 15))
	_, err := f.engine.Reconcile(f.ctx, workflow.SystemActor, item.ID, workflow.IncomingFields{
		DueDate:  day(2026, 3, 1),
		Priority: priority(models.PriorityHigh),
	})
	require.NoError(t, err)

	res, err := f.engine.ResolveUpdate(f.ctx, f.admin, item.ID, workflow.ResolveDismiss, "contractor typo")
	require.NoError(t, err)
	assert.Equal(t, *day(2026, 3, 15), *res.Item.DueDate)
	assert.Equal(t, models.PriorityMedium, *res.Item.Priority)
	assert.False(t, res.Item.HasPendingUpdate)
	assert.Empty(t, res.Queued)

	history, err := f.engine.History(f.ctx, item.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, "update_resolved", last.Kind)
	assert.Equal(t, "dismiss contractor typo", last.Note)
}

func TestRepeatedUpdateKeepsFirstSnapshot(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(day(2026, 3, 15))

	kind, err := f.engine.Reconcile(f.ctx, workflow.SystemActor, item.ID, workflow.IncomingFields{DueDate: day(2026, 3, 18)})
	require.NoError(t, err)
	require.Equal(t, models.UpdateDueDateOnly, kind)

	kind, err = f.engine.Reconcile(f.ctx, workflow.SystemActor, item.ID, workflow.IncomingFields{Priority: priority(models.PriorityLow)})
	require.NoError(t, err)
	assert.Equal(t, models.UpdateContentChange, kind)

	got := f.item(item.ID)
	assert.Equal(t, *day(2026, 3, 15), *got.PreviousDueDate)
	assert.Equal(t, models.PriorityMedium, *got.PreviousPriority)
	assert.Equal(t, models.UpdateContentChange, got.UpdateType)

	// возврат к исходным значениям снимает флаг
	kind, err = f.engine.Reconcile(f.ctx, workflow.SystemActor, item.ID, workflow.IncomingFields{
		DueDate:  day(2026, 3, 15),
		Priority: priority(models.PriorityMedium),
	})
	require.NoError(t, err)
	assert.Equal(t, models.UpdateNone, kind)
	got = f.item(item.ID)
	assert.False(t, got.HasPendingUpdate)
	assert.Nil(t, got.PreviousDueDate)
}

func TestResolveUpdateRejectsUnknownAction(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(day(2026, 3, 15))

	_, err := f.engine.ResolveUpdate(f.ctx, f.admin, item.ID, "archive", "")
	require.ErrorIs(t, err, workflow.ErrInvalidInput)
}

func TestPendingUpdateHiddenFromReviewerPaths(t *testing.T) {
	f := newFixture(t)
	item, assignments := f.sentItem(day(2026, 3, 15), "rev1@leb.test")
	_, err := f.engine.Reconcile(f.ctx, workflow.SystemActor, item.ID, workflow.IncomingFields{DueDate: day(2026, 3, 25)})
	require.NoError(t, err)
	require.True(t, f.item(item.ID).HasPendingUpdate)

	_, formItem, err := f.engine.AssignmentByToken(f.ctx, assignments[0].ResponseToken)
	require.NoError(t, err)
	assert.False(t, formItem.HasPendingUpdate)
	assert.Nil(t, formItem.PreviousDueDate)
	assert.Equal(t, *day(2026, 3, 15), *formItem.DueDate)

	// срок рецензента по принятой дате 15.03 уже прошёл, по новой 25.03 ещё нет
	f.now = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	set, err := f.engine.PendingReminders(f.ctx, f.now, 0)
	require.NoError(t, err)
	require.Len(t, set.Overdue, 1)
	assert.False(t, set.Overdue[0].Item.HasPendingUpdate)
	assert.Equal(t, *day(2026, 3, 15), *set.Overdue[0].Item.DueDate)

	out, err := f.engine.RecordReviewerResponse(f.ctx, f.user, assignments[0].ID, workflow.Response{Category: "Approved"})
	require.NoError(t, err)
	assert.False(t, out.Item.HasPendingUpdate)
	assert.Equal(t, *day(2026, 3, 15), *out.Item.DueDate)
	require.Len(t, out.Queued, 1)
	assert.False(t, out.Queued[0].Item.HasPendingUpdate)
	assert.Equal(t, *day(2026, 3, 15), *out.Queued[0].Item.QcrDueDate)

	adminView, err := f.engine.GetItem(f.ctx, f.admin, item.ID)
	require.NoError(t, err)
	assert.True(t, adminView.HasPendingUpdate)
	assert.Equal(t, *day(2026, 3, 25), *adminView.DueDate)
}

func TestEditDuringPendingUpdateKeepsUserView(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(day(2026, 3, 15))
	_, err := f.engine.Reconcile(f.ctx, workflow.SystemActor, item.ID, workflow.IncomingFields{Title: strPtr("Beam and Column Clarification")})
	require.NoError(t, err)

	edited, err := f.engine.UpdateItem(f.ctx, f.user, item.ID, workflow.ItemPatch{
		Title:   strPtr("Beam Clarification (Level 2)"),
		DueDate: day(2026, 3, 18),
	})
	require.NoError(t, err)
	assert.Equal(t, "Beam Clarification (Level 2)", edited.Title)
	assert.Equal(t, *day(2026, 3, 18), *edited.DueDate)
	assert.False(t, edited.HasPendingUpdate)

	seen, err := f.engine.GetItem(f.ctx, f.user, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Beam Clarification (Level 2)", seen.Title)

	raw := f.item(item.ID)
	assert.Equal(t, "Beam and Column Clarification", raw.Title, "contractor value waits for the admin")
	assert.True(t, raw.HasPendingUpdate)

	_, err = f.engine.ResolveUpdate(f.ctx, f.admin, item.ID, workflow.ResolveDismiss, "")
	require.NoError(t, err)
	got := f.item(item.ID)
	assert.False(t, got.HasPendingUpdate)
	assert.Equal(t, "Beam Clarification (Level 2)", got.Title)
	assert.Equal(t, *day(2026, 3, 18), *got.DueDate)
	f.requireInvariants(item.ID)
}
