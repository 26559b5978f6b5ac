package workflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rfitracker/db"
	"rfitracker/internal/duedate"
	"rfitracker/internal/workflow"
	"rfitracker/models"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	sent []workflow.Message
	fail map[string]error
	// hold вызывается до отправки без блокировки, чтобы тест мог придержать письмо
	hold func(workflow.Message)
}

func (f *fakeSender) Send(ctx context.Context, msg workflow.Message) error {
	f.mu.Lock()
	hold := f.hold
	f.mu.Unlock()
	if hold != nil {
		hold(msg)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[msg.To.Email]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) failFor(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[string]error{}
	}
	f.fail[email] = errors.New("smtp: mailbox unavailable")
}

func (f *fakeSender) recover(email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fail, email)
}

// holdFirst придерживает первое письмо, пока не закрыт release. entered закрывается, когда оно ушло в отправку.
func (f *fakeSender) holdFirst() (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var calls atomic.Int32
	f.mu.Lock()
	f.hold = func(workflow.Message) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	}
	f.mu.Unlock()
	return entered, release
}

func (f *fakeSender) messages(kind workflow.TemplateKind) []workflow.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []workflow.Message
	for _, m := range f.sent {
		if m.Template == kind {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *db.MemoryStorage
	sender *fakeSender
	engine *workflow.Engine
	admin  workflow.Actor
	user   workflow.Actor
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  db.NewMemoryStorage(),
		sender: &fakeSender{},
		now:    testNow,
	}
	e, err := workflow.New(f.store, f.sender,
		workflow.WithClock(func() time.Time { return f.now }),
		workflow.WithOffsets(duedate.Offsets{ReviewerDays: 3, QcrDays: 5}),
		workflow.WithBaseURL("http://tracker.test"),
	)
	require.NoError(t, err)
	f.engine = e

	admin := &models.User{DisplayName: "Project Admin", Email: "admin@leb.test", Role: models.UserRoleAdmin}
	require.NoError(t, f.store.CreateUser(f.ctx, admin))
	user := &models.User{DisplayName: "Viewer", Email: "viewer@leb.test", Role: models.UserRoleUser}
	require.NoError(t, f.store.CreateUser(f.ctx, user))
	f.admin = workflow.Actor{UserID: admin.ID, Email: admin.Email, Role: admin.Role}
	f.user = workflow.Actor{UserID: user.ID, Email: user.Email, Role: user.Role}
	return f
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func priority(p models.Priority) *models.Priority {
	return &p
}

func (f *fixture) createItem(due *time.Time) *models.Item {
	f.t.Helper()
	item, err := f.engine.CreateItem(f.ctx, f.admin, workflow.NewItem{
		Type:       models.ItemTypeRFI,
		Bucket:     models.BucketTurner,
		Identifier: "101",
		Title:      "Beam Clarification",
		DueDate:    due,
		Priority:   priority(models.PriorityMedium),
	})
	require.NoError(f.t, err)
	return item
}

// assignedItem создаёт позицию с рецензентами и QCR на этапе ReviewerAssigned
func (f *fixture) assignedItem(due *time.Time, reviewers ...string) (*models.Item, []models.ReviewerAssignment) {
	f.t.Helper()
	item := f.createItem(due)
	for _, email := range reviewers {
		_, err := f.engine.AddReviewer(f.ctx, f.admin, item.ID, workflow.Person{Name: email, Email: email})
		require.NoError(f.t, err)
	}
	_, err := f.engine.AssignQcr(f.ctx, f.admin, item.ID, workflow.Person{Name: "Quinn QC", Email: "qcr@leb.test"})
	require.NoError(f.t, err)
	got := f.item(item.ID)
	require.Equal(f.t, models.StageReviewerAssigned, got.Stage)
	return got, f.assignments(item.ID)
}

// sentItem доводит позицию до ReviewerEmailSent
func (f *fixture) sentItem(due *time.Time, reviewers ...string) (*models.Item, []models.ReviewerAssignment) {
	f.t.Helper()
	item, _ := f.assignedItem(due, reviewers...)
	_, err := f.engine.SendReviewerEmails(f.ctx, f.admin, item.ID, workflow.SendOptions{})
	require.NoError(f.t, err)
	got := f.item(item.ID)
	require.Equal(f.t, models.StageReviewerEmailSent, got.Stage)
	return got, f.assignments(item.ID)
}

// qcrItem доводит позицию до QcrEmailSent
func (f *fixture) qcrItem(due *time.Time, reviewers ...string) *models.Item {
	f.t.Helper()
	item, assignments := f.sentItem(due, reviewers...)
	var queued []workflow.Message
	for _, a := range assignments {
		out, err := f.engine.RecordReviewerResponse(f.ctx, f.user, a.ID, workflow.Response{
			Category: "No Exceptions Taken",
			Notes:    "Looks fine from " + a.ReviewerEmail,
			Files:    []string{"markup-" + a.ReviewerEmail + ".pdf"},
		})
		require.NoError(f.t, err)
		queued = append(queued, out.Queued...)
	}
	results := f.engine.Deliver(f.ctx, queued)
	require.Len(f.t, results, 1)
	require.True(f.t, results[0].Success)
	got := f.item(item.ID)
	require.Equal(f.t, models.StageQcrEmailSent, got.Stage)
	return got
}

// closedItem доводит позицию до Closed
func (f *fixture) closedItem(due *time.Time, reviewers ...string) *models.Item {
	f.t.Helper()
	item := f.qcrItem(due, reviewers...)
	_, err := f.engine.RecordQcrResponse(f.ctx, f.user, item.ID, workflow.QcrDecision{Action: models.QcrActionApprove})
	require.NoError(f.t, err)
	closed, err := f.engine.Close(f.ctx, f.admin, item.ID)
	require.NoError(f.t, err)
	return closed
}

func (f *fixture) item(id int64) *models.Item {
	f.t.Helper()
	item, err := f.store.GetItem(f.ctx, id)
	require.NoError(f.t, err)
	return item
}

func (f *fixture) assignments(itemID int64) []models.ReviewerAssignment {
	f.t.Helper()
	out, err := f.store.ListAssignments(f.ctx, itemID)
	require.NoError(f.t, err)
	return out
}

func (f *fixture) requireInvariants(itemID int64) {
	f.t.Helper()
	require.NoError(f.t, f.item(itemID).CheckInvariants(f.assignments(itemID)))
}
