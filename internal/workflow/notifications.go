package workflow

import (
	"context"

	"rfitracker/models"
)

// Уведомления пользователя вместе с общими (user_id IS NULL)
func (e *Engine) ListNotifications(ctx context.Context, actor Actor, unreadOnly bool) ([]models.Notification, error) {
	return e.store.ListNotifications(ctx, actor.ref(), unreadOnly)
}

func (e *Engine) MarkNotificationRead(ctx context.Context, actor Actor, id int64) error {
	return e.store.MarkNotificationRead(ctx, id, actor.ref(), e.now())
}

func (e *Engine) MarkAllNotificationsRead(ctx context.Context, actor Actor) error {
	return e.store.MarkAllNotificationsRead(ctx, actor.ref(), e.now())
}

func (e *Engine) DeleteNotification(ctx context.Context, actor Actor, id int64) error {
	return e.store.DeleteNotification(ctx, id, actor.ref())
}
