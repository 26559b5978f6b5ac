package workflow

import (
	"context"
	"time"

	"rfitracker/models"
)

// ItemFilter: фильтр списка позиций. Пустые поля не ограничивают выборку.
type ItemFilter struct {
	Stages        []models.Stage
	Type          models.ItemType
	Bucket        models.Bucket
	PendingUpdate *bool
	Limit         int
	Offset        int
}

// Tx: транзакция, удерживающая эксклюзивную блокировку одной позиции.
// Ошибка из функции транзакции откатывает все изменения.
type Tx interface {
	Item(ctx context.Context) (*models.Item, error)
	SaveItem(ctx context.Context, item *models.Item) error

	Assignments(ctx context.Context) ([]models.ReviewerAssignment, error)
	CreateAssignment(ctx context.Context, a *models.ReviewerAssignment) error
	SaveAssignment(ctx context.Context, a *models.ReviewerAssignment) error
	DeleteAssignment(ctx context.Context, id int64) error

	AppendHistory(ctx context.Context, h *models.HistoryEntry) error
	CreateNotification(ctx context.Context, n *models.Notification) error
	CreateReminder(ctx context.Context, r *models.ReminderRecord) error
}

// UserDirectory разрешает пользователей по id
type UserDirectory interface {
	LookupUser(ctx context.Context, id int64) (*models.User, error)
	ListUsersByRole(ctx context.Context, role models.UserRole) ([]models.User, error)
}

// Store: хранилище, которым пользуется движок. Реализации: db.Storage и db.MemoryStorage.
type Store interface {
	UserDirectory

	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	FindItem(ctx context.Context, t models.ItemType, b models.Bucket, identifier string) (*models.Item, error)
	ListItems(ctx context.Context, f ItemFilter) ([]models.Item, error)
	GetItemByQcrToken(ctx context.Context, token string) (*models.Item, error)

	ListAssignments(ctx context.Context, itemID int64) ([]models.ReviewerAssignment, error)
	GetAssignment(ctx context.Context, id int64) (*models.ReviewerAssignment, error)
	GetAssignmentByToken(ctx context.Context, token string) (*models.ReviewerAssignment, error)

	ListReminders(ctx context.Context, itemID int64) ([]models.ReminderRecord, error)
	ListHistory(ctx context.Context, itemID int64) ([]models.HistoryEntry, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID *int64, unreadOnly bool) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64, userID *int64, at time.Time) error
	MarkAllNotificationsRead(ctx context.Context, userID *int64, at time.Time) error
	DeleteNotification(ctx context.Context, id int64, userID *int64) error

	EmailProcessed(ctx context.Context, messageID string) (bool, error)
	MarkEmailProcessed(ctx context.Context, messageID string, itemID *int64, at time.Time) error

	// InItemTx блокирует строку позиции на время fn. Для неизвестного id возвращает ErrNotFound.
	InItemTx(ctx context.Context, itemID int64, fn func(tx Tx) error) error
}
