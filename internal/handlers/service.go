package handlers

import (
	"context"
	"time"

	"rfitracker/internal/workflow"
	"rfitracker/models"
)

// Service: операции движка, доступные через HTTP. Реализация: *workflow.Engine.
type Service interface {
	CreateItem(ctx context.Context, actor workflow.Actor, in workflow.NewItem) (*models.Item, error)
	GetItem(ctx context.Context, actor workflow.Actor, id int64) (*models.Item, error)
	ListItems(ctx context.Context, actor workflow.Actor, f workflow.ItemFilter) ([]models.Item, error)
	ListPendingUpdates(ctx context.Context, actor workflow.Actor) ([]models.Item, error)
	UpdateItem(ctx context.Context, actor workflow.Actor, id int64, p workflow.ItemPatch) (*models.Item, error)
	History(ctx context.Context, id int64) ([]models.HistoryEntry, error)
	View(item *models.Item) workflow.ItemView

	AddReviewer(ctx context.Context, actor workflow.Actor, itemID int64, p workflow.Person) (*models.ReviewerAssignment, error)
	AddReviewerUser(ctx context.Context, actor workflow.Actor, itemID, userID int64) (*models.ReviewerAssignment, error)
	RemoveReviewer(ctx context.Context, actor workflow.Actor, assignmentID int64) error
	AssignQcr(ctx context.Context, actor workflow.Actor, itemID int64, p workflow.Person) (*models.Item, error)
	AssignQcrUser(ctx context.Context, actor workflow.Actor, itemID, userID int64) (*models.Item, error)
	ListAssignments(ctx context.Context, itemID int64) ([]models.ReviewerAssignment, error)
	AssignmentByToken(ctx context.Context, token string) (*models.ReviewerAssignment, *models.Item, error)
	ItemByQcrToken(ctx context.Context, token string) (*models.Item, error)

	SendReviewerEmails(ctx context.Context, actor workflow.Actor, itemID int64, opts workflow.SendOptions) ([]workflow.SendResult, error)
	SendQcrEmail(ctx context.Context, actor workflow.Actor, itemID int64, opts workflow.SendOptions) (workflow.SendResult, error)
	RecordReviewerResponse(ctx context.Context, actor workflow.Actor, assignmentID int64, r workflow.Response) (*workflow.Outcome, error)
	RecordReviewerResponseByToken(ctx context.Context, token string, r workflow.Response) (*workflow.Outcome, error)
	RecordQcrResponse(ctx context.Context, actor workflow.Actor, itemID int64, d workflow.QcrDecision) (*workflow.Outcome, error)
	RecordQcrResponseByToken(ctx context.Context, token string, d workflow.QcrDecision) (*workflow.Outcome, error)
	Close(ctx context.Context, actor workflow.Actor, itemID int64) (*models.Item, error)
	Reopen(ctx context.Context, actor workflow.Actor, itemID int64, note string) (*models.Item, error)
	Deliver(ctx context.Context, queued []workflow.Message) []workflow.SendResult

	ResolveUpdate(ctx context.Context, actor workflow.Actor, itemID int64, action workflow.ResolveAction, note string) (*workflow.ResolutionResult, error)
	Ingest(ctx context.Context, msg workflow.IncomingEmail) (*workflow.IngestResult, error)

	PendingReminders(ctx context.Context, now time.Time, window int) (*workflow.ReminderSet, error)
	SendReminders(ctx context.Context, now time.Time, window int) (*workflow.ReminderReport, error)
	SendManualReminder(ctx context.Context, actor workflow.Actor, itemID int64) ([]workflow.SendResult, error)

	ListNotifications(ctx context.Context, actor workflow.Actor, unreadOnly bool) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, actor workflow.Actor, id int64) error
	MarkAllNotificationsRead(ctx context.Context, actor workflow.Actor) error
	DeleteNotification(ctx context.Context, actor workflow.Actor, id int64) error
}

var _ Service = (*workflow.Engine)(nil)
