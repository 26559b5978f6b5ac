package workflow_test

import (
	"sync"
	"testing"

	"rfitracker/internal/workflow"
	"rfitracker/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateItemComputesDueDates(t *testing.T) {
	f := newFixture(t)

	item := f.createItem(day(2026, 3, 15))

	assert.Equal(t, models.StageUnassigned, item.Stage)
	assert.Equal(t, *day(2026, 3, 10), *item.InitialReviewerDueDate)
	assert.Equal(t, *day(2026, 3, 15), *item.QcrDueDate)
	assert.Equal(t, *day(2026, 3, 1), *item.DateReceived)

	history, err := f.engine.History(f.ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "item_created", history[0].Kind)
}

func TestCreateItemValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateItem(f.ctx, f.admin, workflow.NewItem{Type: "Memo", Identifier: "1"})
	require.ErrorIs(t, err, workflow.ErrInvalidInput)

	_, err = f.engine.CreateItem(f.ctx, f.admin, workflow.NewItem{Type: models.ItemTypeRFI, Identifier: "  "})
	require.ErrorIs(t, err, workflow.ErrInvalidInput)
}

func TestAssignmentAdvancesToReviewerAssigned(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(day(2026, 3, 15))

	_, err := f.engine.AddReviewer(f.ctx, f.admin, item.ID, workflow.Person{Name: "Rita", Email: "Rita@LEB.test"})
	require.NoError(t, err)
	assert.Equal(t, models.StageUnassigned, f.item(item.ID).Stage, "qcr is still missing")

	_, err = f.engine.AssignQcr(f.ctx, f.admin, item.ID, workflow.Person{Name: "Quinn", Email: "qcr@leb.test"})
	require.NoError(t, err)
	assert.Equal(t, models.StageReviewerAssigned, f.item(item.ID).Stage)

	assignments := f.assignments(item.ID)
	require.Len(t, assignments, 1)
	assert.Equal(t, "rita@leb.test", assignments[0].ReviewerEmail)
	assert.Equal(t, models.AssignmentPending, assignments[0].Status)
	f.requireInvariants(item.ID)
}

func TestAddReviewerGuards(t *testing.T) {
	f := newFixture(t)
	item, _ := f.assignedItem(day(2026, 3, 15), "rev1@leb.test")

	_, err := f.engine.AddReviewer(f.ctx, f.admin, item.ID, workflow.Person{Email: "REV1@leb.test"})
	require.ErrorIs(t, err, workflow.ErrDuplicateReviewer)

	_, err = f.engine.AddReviewer(f.ctx, f.admin, item.ID, workflow.Person{Email: "Qcr@leb.test"})
	require.ErrorIs(t, err, workflow.ErrConflictsWithQcr)

	_, err = f.engine.AssignQcr(f.ctx, f.admin, item.ID, workflow.Person{Email: "rev1@leb.test"})
	require.ErrorIs(t, err, workflow.ErrConflictsWithQcr)

	_, err = f.engine.AddReviewer(f.ctx, f.admin, item.ID, workflow.Person{Email: "not-an-email"})
	require.ErrorIs(t, err, workflow.ErrInvalidInput)

	_, err = f.engine.AddReviewer(f.ctx, f.admin, 9999, workflow.Person{Email: "x@leb.test"})
	require.ErrorIs(t, err, workflow.ErrNotFound)

	assert.Len(t, f.assignments(item.ID), 1)
	assert.Equal(t, "qcr@leb.test", f.item(item.ID).QcrEmail)
}

func TestAddReviewerUserResolvesDirectory(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(day(2026, 3, 15))
	u := &models.User{DisplayName: "Rita Reviewer", Email: "rita@leb.test", Role: models.UserRoleUser}
	require.NoError(t, f.store.CreateUser(f.ctx, u))

	a, err := f.engine.AddReviewerUser(f.ctx, f.admin, item.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rita Reviewer", a.ReviewerName)
	require.NotNil(t, a.UserID)
	assert.Equal(t, u.ID, *a.UserID)
	assert.Equal(t, u.ID, *f.item(item.ID).InitialReviewerID)

	_, err = f.engine.AssignQcrUser(f.ctx, f.admin, item.ID, 4242)
	require.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestRemoveReviewer(t *testing.T) {
	f := newFixture(t)
	item, assignments := f.assignedItem(day(2026, 3, 15), "rev1@leb.test")

	require.NoError(t, f.engine.RemoveReviewer(f.ctx, f.admin, assignments[0].ID))
	assert.Empty(t, f.assignments(item.ID))
	assert.Equal(t, models.StageUnassigned, f.item(item.ID).Stage)

	err := f.engine.RemoveReviewer(f.ctx, f.admin, assignments[0].ID)
	require.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestRemoveReviewerAfterSendIsBlocked(t *testing.T) {
	f := newFixture(t)
	item, assignments := f.sentItem(day(2026, 3, 15), "rev1@leb.test")

	err := f.engine.RemoveReviewer(f.ctx, f.admin, assignments[0].ID)
	require.ErrorIs(t, err, workflow.ErrAlreadySent)
	assert.Len(t, f.assignments(item.ID), 1)
}

func TestSendReviewerEmails(t *testing.T) {
	f := newFixture(t)
	item, _ := f.assignedItem(day(2026, 3, 15), "rev1@leb.test", "rev2@leb.test")

	results, err := f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success)
	}

	assert.Equal(t, models.StageReviewerEmailSent, f.item(item.ID).Stage)
	for _, a := range f.assignments(item.ID) {
		assert.Equal(t, models.AssignmentSent, a.Status)
		assert.NotNil(t, a.EmailSentAt)
		assert.NotEmpty(t, a.ResponseToken)
	}

	sent := f.sender.messages(workflow.TemplateReviewerAssignment)
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0].Link, "http://tracker.test/respond/reviewer/")

	_, err = f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.ErrorIs(t, err, workflow.ErrAlreadySent)
}

func TestSendReviewerEmailsPartialFailure(t *testing.T) {
	f := newFixture(t)
	item, _ := f.assignedItem(day(2026, 3, 15), "rev1@leb.test", "rev2@leb.test")
	f.sender.failFor("rev2@leb.test")

	results, err := f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	byEmail := map[string]workflow.SendResult{}
	for _, r := range results {
		byEmail[r.Recipient.Email] = r
	}
	assert.True(t, byEmail["rev1@leb.test"].Success)
	assert.False(t, byEmail["rev2@leb.test"].Success)
	assert.NotEmpty(t, byEmail["rev2@leb.test"].Error)

	assert.Equal(t, models.StageReviewerEmailSent, f.item(item.ID).Stage)
	for _, a := range f.assignments(item.ID) {
		require.NotNil(t, a.SendAttemptedAt, "attempt marker is kept for %s", a.ReviewerEmail)
		if a.ReviewerEmail == "rev2@leb.test" {
			assert.Equal(t, models.AssignmentPending, a.Status)
			assert.Nil(t, a.EmailSentAt)
			assert.NotNil(t, a.SendFailedAt)
		}
	}

	// повторная отправка уходит только тому, кто не получил письмо
	f.sender.recover("rev2@leb.test")
	results, err = f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "rev2@leb.test", results[0].Recipient.Email)
	assert.Len(t, f.sender.messages(workflow.TemplateReviewerAssignment), 2)
}

func TestSendReviewerEmailsAllFail(t *testing.T) {
	f := newFixture(t)
	item, _ := f.assignedItem(day(2026, 3, 15), "rev1@leb.test")
	f.sender.failFor("rev1@leb.test")

	results, err := f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.ErrorIs(t, err, workflow.ErrSendFailed)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)

	assert.Equal(t, models.StageReviewerAssigned, f.item(item.ID).Stage)
	a := f.assignments(item.ID)[0]
	assert.NotNil(t, a.SendAttemptedAt)
	assert.Equal(t, models.AssignmentPending, a.Status)
}

func TestSendReviewerEmailsRequiresAssignment(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(day(2026, 3, 15))

	_, err := f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestRecordReviewerResponseBeforeSend(t *testing.T) {
	f := newFixture(t)
	item, assignments := f.assignedItem(day(2026, 3, 15), "rev1@leb.test")
	before := f.item(item.ID)
	beforeAssignments := f.assignments(item.ID)

	_, err := f.engine.RecordReviewerResponse(f.ctx, f.user, assignments[0].ID, workflow.Response{Category: "Approved"})
	require.ErrorIs(t, err, workflow.ErrNotYetSent)

	assert.Equal(t, before, f.item(item.ID))
	assert.Equal(t, beforeAssignments, f.assignments(item.ID))
}

func TestSingleReviewerResponse(t *testing.T) {
	f := newFixture(t)
	item, assignments := f.sentItem(day(2026, 3, 15), "rev1@leb.test")

	out, err := f.engine.RecordReviewerResponse(f.ctx, f.user, assignments[0].ID, workflow.Response{
		Category: "Revise and Resubmit",
		Notes:    "Provide connection details.",
		Files:    []string{"S-101.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StageReviewerResponded, out.Item.Stage)
	assert.Equal(t, "Revise and Resubmit", out.Item.ResponseCategory)
	assert.Equal(t, "Provide connection details.", out.Item.ResponseText)
	assert.Equal(t, []string{"S-101.pdf"}, []string(out.Item.ResponseFiles))
	require.Len(t, out.Queued, 1)
	assert.Equal(t, workflow.TemplateQcrAssignment, out.Queued[0].Template)
	assert.Equal(t, "qcr@leb.test", out.Queued[0].To.Email)

	_, err = f.engine.RecordReviewerResponse(f.ctx, f.user, assignments[0].ID, workflow.Response{Category: "Approved"})
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Equal(t, models.StageReviewerResponded, f.item(item.ID).Stage)
}

func TestMultiReviewerConsolidation(t *testing.T) {
	f := newFixture(t)
	item, assignments := f.sentItem(day(2026, 3, 15), "rev1@leb.test", "rev2@leb.test")

	out, err := f.engine.RecordReviewerResponse(f.ctx, f.user, assignments[0].ID, workflow.Response{
		Category: "Approved", Notes: "Structural OK", Files: []string{"a.pdf", "shared.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StageReviewerEmailSent, out.Item.Stage)
	assert.Empty(t, out.Queued)

	out, err = f.engine.RecordReviewerResponse(f.ctx, f.user, assignments[1].ID, workflow.Response{
		Category: "Approved as Noted", Notes: "MEP comments attached", Files: []string{"shared.pdf", "b.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StageReviewerResponded, out.Item.Stage)
	assert.Empty(t, out.Item.ResponseCategory, "categories disagree")
	assert.Contains(t, out.Item.ResponseText, "rev1@leb.test: Structural OK")
	assert.Contains(t, out.Item.ResponseText, "rev2@leb.test: MEP comments attached")
	assert.Equal(t, []string{"a.pdf", "shared.pdf", "b.pdf"}, []string(out.Item.ResponseFiles))

	results := f.engine.Deliver(f.ctx, out.Queued)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	got := f.item(item.ID)
	assert.Equal(t, models.StageQcrEmailSent, got.Stage)
	assert.NotNil(t, got.QcrEmailSentAt)
	assert.NotEmpty(t, got.QcrToken)
	require.Len(t, f.sender.messages(workflow.TemplateQcrAssignment), 1)
}

func TestConcurrentReviewerResponses(t *testing.T) {
	f := newFixture(t)
	reviewers := []string{"r1@leb.test", "r2@leb.test", "r3@leb.test", "r4@leb.test"}
	item, assignments := f.sentItem(day(2026, 3, 15), reviewers...)

	var wg sync.WaitGroup
	errs := make(chan error, len(assignments))
	for _, a := range assignments {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.engine.RecordReviewerResponse(f.ctx, f.user, id, workflow.Response{Category: "Approved"})
			errs <- err
		}(a.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got := f.item(item.ID)
	assert.Equal(t, models.StageReviewerResponded, got.Stage)
	assert.Equal(t, "Approved", got.ResponseCategory)

	history, err := f.engine.History(f.ctx, item.ID)
	require.NoError(t, err)
	transitions := 0
	for _, h := range history {
		if h.Kind == "stage" && h.ToStage == models.StageReviewerResponded {
			transitions++
		}
	}
	assert.Equal(t, 1, transitions)
}

func TestSendQcrEmailGuards(t *testing.T) {
	f := newFixture(t)
	item, _ := f.sentItem(day(2026, 3, 15), "rev1@leb.test")

	_, err := f.engine.SendQcrEmail(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)

	qcr := f.qcrItem(day(2026, 3, 20), "rev9@leb.test")
	_, err = f.engine.SendQcrEmail(f.ctx, f.admin, qcr.ID, workflow.SendOptions{})
	require.ErrorIs(t, err, workflow.ErrAlreadySent)

	res, err := f.engine.SendQcrEmail(f.ctx, f.admin, qcr.ID, workflow.SendOptions{Resend: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.StageQcrEmailSent, f.item(qcr.ID).Stage)
}

func TestSendQcrEmailFailureKeepsStage(t *testing.T) {
	f := newFixture(t)
	item, assignments := f.sentItem(day(2026, 3, 15), "rev1@leb.test")
	_, err := f.engine.RecordReviewerResponse(f.ctx, f.user, assignments[0].ID, workflow.Response{Category: "Approved"})
	require.NoError(t, err)
	f.sender.failFor("qcr@leb.test")

	res, err := f.engine.SendQcrEmail(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.ErrorIs(t, err, workflow.ErrSendFailed)
	assert.False(t, res.Success)

	got := f.item(item.ID)
	assert.Equal(t, models.StageReviewerResponded, got.Stage)
	assert.NotNil(t, got.QcrSendAttemptedAt)
	assert.Nil(t, got.QcrEmailSentAt)

	f.sender.recover("qcr@leb.test")
	_, err = f.engine.SendQcrEmail(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StageQcrEmailSent, f.item(item.ID).Stage)
}

func TestRecordQcrResponseBeforeQcrEmail(t *testing.T) {
	f := newFixture(t)
	item, _ := f.sentItem(day(2026, 3, 15), "rev1@leb.test")
	before := f.item(item.ID)

	_, err := f.engine.RecordQcrResponse(f.ctx, f.user, item.ID, workflow.QcrDecision{Action: models.QcrActionApprove})
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Equal(t, before, f.item(item.ID))
}

func TestQcrApproveAndClose(t *testing.T) {
	f := newFixture(t)
	item := f.qcrItem(day(2026, 3, 15), "rev1@leb.test")

	out, err := f.engine.RecordQcrResponse(f.ctx, f.user, item.ID, workflow.QcrDecision{
		Action: models.QcrActionApprove,
		Mode:   models.ResponseModeKeep,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StageQcrResponded, out.Item.Stage)
	assert.Equal(t, "No Exceptions Taken", out.Item.FinalResponseCategory)
	assert.Equal(t, "Looks fine from rev1@leb.test", out.Item.FinalResponseText)
	assert.Equal(t, []string{"markup-rev1@leb.test.pdf"}, []string(out.Item.FinalResponseFiles))
	require.Len(t, out.Queued, 1)
	assert.Equal(t, workflow.TemplateResponseReady, out.Queued[0].Template)

	notes, err := f.engine.ListNotifications(f.ctx, f.admin, true)
	require.NoError(t, err)
	require.NotEmpty(t, notes)
	assert.Equal(t, models.NotificationResponseReady, notes[0].Type)
	assert.Equal(t, "Mark Complete", notes[0].ActionLabel)

	results := f.engine.Deliver(f.ctx, out.Queued)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	closed, err := f.engine.Close(f.ctx, f.admin, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageClosed, closed.Stage)
	require.NotNil(t, closed.ClosedAt)
	f.requireInvariants(item.ID)

	_, err = f.engine.Close(f.ctx, f.admin, item.ID)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestQcrModifyWithTweak(t *testing.T) {
	f := newFixture(t)
	item := f.qcrItem(day(2026, 3, 15), "rev1@leb.test")

	out, err := f.engine.RecordQcrResponse(f.ctx, f.user, item.ID, workflow.QcrDecision{
		Action:   models.QcrActionModify,
		Mode:     models.ResponseModeTweak,
		Category: "Approved as Noted",
		Text:     "Approved with field verification.",
		Files:    []string{"final.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ResponseModeTweak, out.Item.QcrResponseMode)
	assert.Equal(t, "Approved as Noted", out.Item.FinalResponseCategory)
	assert.Equal(t, "Approved with field verification.", out.Item.FinalResponseText)
	assert.Equal(t, []string{"final.pdf"}, []string(out.Item.FinalResponseFiles))
}

func TestCloseRequiresFinalResponse(t *testing.T) {
	f := newFixture(t)
	item := f.qcrItem(day(2026, 3, 15), "rev1@leb.test")

	_, err := f.engine.Close(f.ctx, f.admin, item.ID)
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Nil(t, f.item(item.ID).ClosedAt)
}

func TestSendBackRoundTrip(t *testing.T) {
	f := newFixture(t)
	reviewer := &models.User{DisplayName: "Rita", Email: "rita@leb.test", Role: models.UserRoleUser}
	require.NoError(t, f.store.CreateUser(f.ctx, reviewer))
	item := f.createItem(day(2026, 3, 15))
	_, err := f.engine.AddReviewerUser(f.ctx, f.admin, item.ID, reviewer.ID)
	require.NoError(t, err)
	_, err = f.engine.AssignQcr(f.ctx, f.admin, item.ID, workflow.Person{Name: "Quinn", Email: "qcr@leb.test"})
	require.NoError(t, err)
	_, err = f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.NoError(t, err)
	require.NoError(t, f.engine.RecordSent(f.ctx, item.ID, models.RoleReviewer, "rita@leb.test", models.ReminderManual))
	out, err := f.engine.RecordReviewerResponse(f.ctx, f.user, f.assignments(item.ID)[0].ID, workflow.Response{Category: "Approved", Notes: "ok"})
	require.NoError(t, err)
	f.engine.Deliver(f.ctx, out.Queued)
	require.Equal(t, models.StageQcrEmailSent, f.item(item.ID).Stage)

	_, err = f.engine.RecordQcrResponse(f.ctx, f.user, item.ID, workflow.QcrDecision{Action: models.QcrActionSendBack})
	require.ErrorIs(t, err, workflow.ErrInvalidInput, "notes are required to send back")

	out, err = f.engine.RecordQcrResponse(f.ctx, f.user, item.ID, workflow.QcrDecision{
		Action: models.QcrActionSendBack,
		Notes:  "Address the anchor bolt spacing.",
	})
	require.NoError(t, err)

	got := f.item(item.ID)
	assert.Equal(t, models.StageReviewerAssigned, got.Stage)
	assert.Equal(t, models.QcrActionSendBack, got.QcrAction)
	assert.Empty(t, got.ResponseCategory)
	assert.Empty(t, got.FinalResponseCategory)
	assert.Nil(t, got.QcrEmailSentAt)
	for _, a := range f.assignments(item.ID) {
		assert.Equal(t, models.AssignmentPending, a.Status)
		assert.Nil(t, a.ResponseAt)
		assert.Empty(t, a.ResponseCategory)
	}
	reminders, err := f.store.ListReminders(f.ctx, item.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, reminders)

	reviewerActor := workflow.Actor{UserID: reviewer.ID, Role: models.UserRoleUser}
	notes, err := f.engine.ListNotifications(f.ctx, reviewerActor, true)
	require.NoError(t, err)
	var sentBack int
	for _, n := range notes {
		if n.Type == models.NotificationSentBack {
			sentBack++
		}
	}
	assert.Equal(t, 1, sentBack)

	require.Len(t, out.Queued, 1)
	assert.Equal(t, workflow.TemplateSentBack, out.Queued[0].Template)
	results := f.engine.Deliver(f.ctx, out.Queued)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, models.StageReviewerEmailSent, f.item(item.ID).Stage)
	require.Len(t, f.sender.messages(workflow.TemplateSentBack), 1)
	f.requireInvariants(item.ID)
}

func TestReopen(t *testing.T) {
	f := newFixture(t)
	item := f.closedItem(day(2026, 3, 15), "rev1@leb.test")

	_, err := f.engine.Reopen(f.ctx, f.user, item.ID, "")
	require.ErrorIs(t, err, workflow.ErrForbidden)

	reopened, err := f.engine.Reopen(f.ctx, f.admin, item.ID, "contractor asked again")
	require.NoError(t, err)
	assert.Equal(t, models.StageQcrResponded, reopened.Stage)
	assert.Nil(t, reopened.ClosedAt)
	f.requireInvariants(item.ID)
}

func TestResponseByToken(t *testing.T) {
	f := newFixture(t)
	item, assignments := f.sentItem(day(2026, 3, 15), "rev1@leb.test")

	a, gotItem, err := f.engine.AssignmentByToken(f.ctx, assignments[0].ResponseToken)
	require.NoError(t, err)
	assert.Equal(t, assignments[0].ID, a.ID)
	assert.Equal(t, item.ID, gotItem.ID)

	out, err := f.engine.RecordReviewerResponseByToken(f.ctx, assignments[0].ResponseToken, workflow.Response{Category: "Approved"})
	require.NoError(t, err)
	f.engine.Deliver(f.ctx, out.Queued)

	qcr := f.item(item.ID)
	out, err = f.engine.RecordQcrResponseByToken(f.ctx, qcr.QcrToken, workflow.QcrDecision{Action: models.QcrActionApprove})
	require.NoError(t, err)
	assert.Equal(t, models.StageQcrResponded, out.Item.Stage)

	_, _, err = f.engine.AssignmentByToken(f.ctx, "missing")
	require.ErrorIs(t, err, workflow.ErrNotFound)
	_, err = f.engine.ItemByQcrToken(f.ctx, "")
	require.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestUpdateItemRecomputesDueDates(t *testing.T) {
	f := newFixture(t)
	item := f.createItem(day(2026, 3, 15))

	got, err := f.engine.UpdateItem(f.ctx, f.user, item.ID, workflow.ItemPatch{DueDate: day(2026, 4, 10)})
	require.NoError(t, err)
	assert.Equal(t, *day(2026, 4, 5), *got.InitialReviewerDueDate)
	assert.Equal(t, *day(2026, 4, 10), *got.QcrDueDate)

	got, err = f.engine.UpdateItem(f.ctx, f.user, item.ID, workflow.ItemPatch{ClearDueDate: true})
	require.NoError(t, err)
	assert.Nil(t, got.InitialReviewerDueDate)
	assert.Nil(t, got.QcrDueDate)

	bad := models.Priority("Extreme")
	_, err = f.engine.UpdateItem(f.ctx, f.user, item.ID, workflow.ItemPatch{Priority: &bad})
	require.ErrorIs(t, err, workflow.ErrInvalidInput)
}

func TestViewUrgency(t *testing.T) {
	f := newFixture(t)

	item, _ := f.sentItem(day(2026, 3, 6), "rev1@leb.test")
	v := f.engine.View(item)
	assert.Equal(t, "In Review", v.Status)
	assert.Equal(t, "Turner", v.BucketLabel)
	assert.Equal(t, "yellow", string(v.Urgency), "reviewer due today")
	assert.True(t, v.InsufficientWindow)

	far := f.createItem(day(2026, 4, 30))
	v = f.engine.View(far)
	assert.Equal(t, "green", string(v.Urgency))
	assert.False(t, v.InsufficientWindow)
}

func TestNotificationsLifecycle(t *testing.T) {
	f := newFixture(t)
	item := f.qcrItem(day(2026, 3, 15), "rev1@leb.test")
	_, err := f.engine.RecordQcrResponse(f.ctx, f.user, item.ID, workflow.QcrDecision{Action: models.QcrActionApprove})
	require.NoError(t, err)

	notes, err := f.engine.ListNotifications(f.ctx, f.user, true)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	require.NoError(t, f.engine.MarkNotificationRead(f.ctx, f.user, notes[0].ID))
	unread, err := f.engine.ListNotifications(f.ctx, f.user, true)
	require.NoError(t, err)
	assert.Empty(t, unread)

	require.NoError(t, f.engine.MarkAllNotificationsRead(f.ctx, f.admin))
	require.NoError(t, f.engine.DeleteNotification(f.ctx, f.admin, notes[0].ID))
	err = f.engine.DeleteNotification(f.ctx, f.admin, notes[0].ID)
	require.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestRecordReviewerResponseAfterSendBackNeedsNewEmail(t *testing.T) {
	f := newFixture(t)
	item := f.qcrItem(day(2026, 3, 15), "rev1@leb.test")

	out, err := f.engine.RecordQcrResponse(f.ctx, f.user, item.ID, workflow.QcrDecision{
		Action: models.QcrActionSendBack,
		Notes:  "Reference the structural sheets",
	})
	require.NoError(t, err)
	require.Equal(t, models.StageReviewerAssigned, f.item(item.ID).Stage)

	a := f.assignments(item.ID)[0]
	require.NotNil(t, a.EmailSentAt, "previous round stays in the record")
	before := f.item(item.ID)

	_, err = f.engine.RecordReviewerResponse(f.ctx, f.user, a.ID, workflow.Response{Category: "Approved"})
	require.ErrorIs(t, err, workflow.ErrNotYetSent)
	assert.Equal(t, before, f.item(item.ID))

	results := f.engine.Deliver(f.ctx, out.Queued)
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Equal(t, models.StageReviewerEmailSent, f.item(item.ID).Stage)

	_, err = f.engine.RecordReviewerResponse(f.ctx, f.user, a.ID, workflow.Response{Category: "Approved"})
	require.NoError(t, err)
	assert.Equal(t, models.StageReviewerResponded, f.item(item.ID).Stage)
}

func TestSendReviewerEmailsConcurrentCallSendsOnce(t *testing.T) {
	f := newFixture(t)
	item, _ := f.assignedItem(day(2026, 3, 15), "rev1@leb.test")
	entered, release := f.sender.holdFirst()

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{})
		done <- err
	}()
	<-entered

	_, err := f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.ErrorIs(t, err, workflow.ErrAlreadySent)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, f.sender.messages(workflow.TemplateReviewerAssignment), 1)
	assert.Equal(t, models.StageReviewerEmailSent, f.item(item.ID).Stage)
}

func TestSendQcrEmailConcurrentCallSendsOnce(t *testing.T) {
	f := newFixture(t)
	item, assignments := f.sentItem(day(2026, 3, 15), "rev1@leb.test")
	_, err := f.engine.RecordReviewerResponse(f.ctx, f.user, assignments[0].ID, workflow.Response{Category: "Approved"})
	require.NoError(t, err)
	entered, release := f.sender.holdFirst()

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.SendQcrEmail(f.ctx, f.admin, item.ID, workflow.SendOptions{})
		done <- err
	}()
	<-entered

	_, err = f.engine.SendQcrEmail(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.ErrorIs(t, err, workflow.ErrAlreadySent)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, f.sender.messages(workflow.TemplateQcrAssignment), 1)
	assert.Equal(t, models.StageQcrEmailSent, f.item(item.ID).Stage)
}

func TestUnconfirmedReviewerSendNeedsResend(t *testing.T) {
	f := newFixture(t)
	item, _ := f.assignedItem(day(2026, 3, 15), "rev1@leb.test")

	// попытка отмечена, но процесс упал до подтверждения
	err := f.store.InItemTx(f.ctx, item.ID, func(tx workflow.Tx) error {
		assignments, err := tx.Assignments(f.ctx)
		if err != nil {
			return err
		}
		attempted := f.now
		assignments[0].SendAttemptedAt = &attempted
		return tx.SaveAssignment(f.ctx, &assignments[0])
	})
	require.NoError(t, err)

	_, err = f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.ErrorIs(t, err, workflow.ErrAlreadySent)
	assert.Empty(t, f.sender.messages(workflow.TemplateReviewerAssignment))

	results, err := f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{Resend: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, models.StageReviewerEmailSent, f.item(item.ID).Stage)
	assert.Nil(t, f.assignments(item.ID)[0].SendFailedAt)
}
