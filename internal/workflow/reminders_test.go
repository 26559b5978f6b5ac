package workflow_test

import (
	"testing"

	"rfitracker/internal/workflow"
	"rfitracker/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingReminders(t *testing.T) {
	f := newFixture(t)
	// срок рецензента = срок позиции - 5 дней; сегодня 2026-03-01
	dueToday, _ := f.sentItem(day(2026, 3, 6), "rev1@leb.test")
	overdue, _ := f.sentItem(day(2026, 3, 4), "rev2@leb.test", "rev3@leb.test")
	later, _ := f.sentItem(day(2026, 3, 30), "rev4@leb.test")
	qcrOverdue := f.qcrItem(day(2026, 2, 27), "rev5@leb.test")
	closed := f.closedItem(day(2026, 2, 20), "rev6@leb.test")
	unsent, _ := f.assignedItem(day(2026, 2, 20), "rev7@leb.test")

	set, err := f.engine.PendingReminders(f.ctx, testNow, 0)
	require.NoError(t, err)

	ids := func(entries []workflow.ReminderEntry) []int64 {
		var out []int64
		for _, en := range entries {
			out = append(out, en.Item.ID)
		}
		return out
	}
	assert.ElementsMatch(t, []int64{dueToday.ID}, ids(set.DueToday))
	assert.ElementsMatch(t, []int64{overdue.ID, qcrOverdue.ID}, ids(set.Overdue))
	for _, id := range append(ids(set.DueToday), ids(set.Overdue)...) {
		assert.NotContains(t, []int64{later.ID, closed.ID, unsent.ID}, id)
	}

	multi := set.Filter(models.RoleReviewer, workflow.ReminderMulti)
	require.Len(t, multi.Overdue, 1)
	assert.Len(t, multi.Overdue[0].Targets, 2)

	qcr := set.Filter(models.RoleQcr, "")
	require.Len(t, qcr.Overdue, 1)
	assert.Equal(t, "qcr@leb.test", qcr.Overdue[0].Targets[0].Email)
	assert.Contains(t, qcr.Overdue[0].Targets[0].Link, "/respond/qcr/")
	assert.Equal(t, models.ReminderOverdue, qcr.Overdue[0].Stage)

	wider, err := f.engine.PendingReminders(f.ctx, testNow, 30)
	require.NoError(t, err)
	assert.Len(t, wider.DueToday, 2)
}

func TestPendingRemindersSkipsResponded(t *testing.T) {
	f := newFixture(t)
	item, assignments := f.sentItem(day(2026, 3, 4), "rev1@leb.test", "rev2@leb.test")
	_, err := f.engine.RecordReviewerResponse(f.ctx, f.user, assignments[0].ID, workflow.Response{Category: "Approved"})
	require.NoError(t, err)

	set, err := f.engine.PendingReminders(f.ctx, testNow, 0)
	require.NoError(t, err)
	require.Len(t, set.Overdue, 1)
	assert.Equal(t, item.ID, set.Overdue[0].Item.ID)
	require.Len(t, set.Overdue[0].Targets, 1)
	assert.Equal(t, "rev2@leb.test", set.Overdue[0].Targets[0].Email)
}

func TestSendRemindersOncePerDay(t *testing.T) {
	f := newFixture(t)
	item, _ := f.sentItem(day(2026, 3, 4), "rev1@leb.test", "rev2@leb.test")
	f.sender.failFor("rev2@leb.test")

	report, err := f.engine.SendReminders(f.ctx, testNow, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)

	records, err := f.store.ListReminders(f.ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rev1@leb.test", records[0].RecipientEmail)
	assert.Equal(t, models.ReminderOverdue, records[0].ReminderStage)

	f.sender.recover("rev2@leb.test")
	report, err = f.engine.SendReminders(f.ctx, testNow, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Skipped)

	// на следующий день напоминания уходят снова
	f.now = testNow.AddDate(0, 0, 1)
	report, err = f.engine.SendReminders(f.ctx, f.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)

	reminders := f.sender.messages(workflow.TemplateReminder)
	assert.Len(t, reminders, 4)
	for _, m := range reminders {
		assert.Equal(t, models.ReminderOverdue, m.ReminderStage)
	}
}

func TestSendManualReminder(t *testing.T) {
	f := newFixture(t)
	item := f.qcrItem(day(2026, 4, 30), "rev1@leb.test")

	results, err := f.engine.SendManualReminder(f.ctx, f.admin, item.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "qcr@leb.test", results[0].Recipient.Email)

	records, err := f.store.ListReminders(f.ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.ReminderManual, records[0].ReminderStage)
	assert.Equal(t, models.RoleQcr, records[0].RecipientRole)

	unsent, _ := f.assignedItem(day(2026, 4, 30), "rev2@leb.test")
	_, err = f.engine.SendManualReminder(f.ctx, f.admin, unsent.ID)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestRecordSentValidation(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(day(2026, 3, 15))

	err := f.engine.RecordSent(f.ctx, item.ID, "contractor", "x@leb.test", models.ReminderManual)
	require.ErrorIs(t, err, workflow.ErrInvalidInput)

	err = f.engine.RecordSent(f.ctx, 777, models.RoleQcr, "x@leb.test", models.ReminderManual)
	require.ErrorIs(t, err, workflow.ErrNotFound)
}
