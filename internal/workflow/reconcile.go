package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rfitracker/internal/duedate"
	"rfitracker/models"

	"go.uber.org/zap"
)

// IncomingFields: поля из нового письма подрядчика. nil означает, что поле в письме не найдено.
type IncomingFields struct {
	DueDate  *time.Time       `json:"dueDate"`
	Title    *string          `json:"title"`
	Priority *models.Priority `json:"priority"`
}

type ResolveAction string

const (
	ResolveAcceptDueDate   ResolveAction = "accept_due_date"
	ResolveRestartWorkflow ResolveAction = "restart_workflow"
	ResolveDismiss         ResolveAction = "dismiss"
)

func (a ResolveAction) Valid() bool {
	switch a {
	case ResolveAcceptDueDate, ResolveRestartWorkflow, ResolveDismiss:
		return true
	}
	return false
}

type ResolutionResult struct {
	Action ResolveAction `json:"action"`
	Item   *models.Item  `json:"item"`
	Queued []Message     `json:"queued,omitempty"`
}

type fieldDiff struct {
	dueDate  bool
	title    bool
	priority bool
}

func (d fieldDiff) kind() models.UpdateKind {
	switch {
	case d.title || d.priority:
		return models.UpdateContentChange
	case d.dueDate:
		return models.UpdateDueDateOnly
	}
	return models.UpdateNone
}

// diffFields сравнивает только поля, присутствующие в письме
func diffFields(dueDate *time.Time, title string, priority *models.Priority, in IncomingFields) fieldDiff {
	var d fieldDiff
	if in.DueDate != nil {
		d.dueDate = !sameDay(dueDate, in.DueDate)
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) != "" {
		d.title = strings.TrimSpace(*in.Title) != strings.TrimSpace(title)
	}
	if in.Priority != nil {
		d.priority = priority == nil || *priority != *in.Priority
	}
	return d
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return duedate.Day(*a).Equal(duedate.Day(*b))
}

func samePriority(a, b *models.Priority) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Reconcile сверяет известную позицию с новым письмом подрядчика. Закрытая позиция
// остаётся закрытой до решения администратора.
func (e *Engine) Reconcile(ctx context.Context, actor Actor, itemID int64, in IncomingFields) (models.UpdateKind, error) {
	if in.Priority != nil && !in.Priority.Valid() {
		return models.UpdateNone, fmt.Errorf("%w: invalid priority", ErrInvalidInput)
	}
	admins, err := e.store.ListUsersByRole(ctx, models.UserRoleAdmin)
	if err != nil {
		return models.UpdateNone, fmt.Errorf("list admins: %w", err)
	}

	kind := models.UpdateNone
	err = e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
		diff := diffFields(item.DueDate, item.Title, item.Priority, in)
		if diff.kind() == models.UpdateNone {
			return nil
		}

		if !item.HasPendingUpdate {
			item.PreviousDueDate = cloneTime(item.DueDate)
			item.PreviousTitle = item.Title
			item.PreviousPriority = clonePriority(item.Priority)
			if item.Stage == models.StageClosed {
				item.ReopenedFromClosed = true
				item.StatusBeforeUpdate = item.Stage
			}
		}
		applyIncoming(item, in)

		// повторное обновление сравнивается со снимком, а не с промежуточными значениями
		kind = diffFields(item.PreviousDueDate, item.PreviousTitle, item.PreviousPriority, IncomingFields{
			DueDate:  item.DueDate,
			Title:    &item.Title,
			Priority: item.Priority,
		}).kind()
		if item.DueDate == nil && item.PreviousDueDate != nil {
			kind = maxKind(kind, models.UpdateDueDateOnly)
		}
		if item.Priority == nil && item.PreviousPriority != nil {
			kind = models.UpdateContentChange
		}

		if kind == models.UpdateNone {
			clearPending(item)
			if err := e.record(ctx, s, item, "update_reverted", ""); err != nil {
				return err
			}
			return e.save(ctx, s, item)
		}

		item.HasPendingUpdate = true
		item.UpdateType = kind
		item.UpdateDetectedAt = timePtr(e.now())
		if err := e.record(ctx, s, item, "update_detected", string(kind)); err != nil {
			return err
		}
		for _, admin := range admins {
			if err := e.notify(ctx, s, models.Notification{
				UserID:      int64Ptr(admin.ID),
				Type:        models.NotificationWarning,
				Title:       fmt.Sprintf("Contractor update: %s %s", item.Type, item.Identifier),
				Message:     updateMessage(item, kind),
				ItemID:      int64Ptr(item.ID),
				ActionURL:   fmt.Sprintf("/api/items/%d/resolve", item.ID),
				ActionLabel: "Review Update",
			}); err != nil {
				return err
			}
		}
		s.reconciled = append(s.reconciled, kind)
		return e.save(ctx, s, item)
	})
	if err != nil {
		return models.UpdateNone, err
	}
	if kind != models.UpdateNone {
		e.logger.Info("contractor update detected", zap.Int64("item_id", itemID), zap.String("kind", string(kind)))
	}
	return kind, nil
}

func applyIncoming(item *models.Item, in IncomingFields) {
	if in.DueDate != nil {
		item.DueDate = dayPtr(in.DueDate)
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) != "" {
		item.Title = strings.TrimSpace(*in.Title)
	}
	if in.Priority != nil {
		item.Priority = clonePriority(in.Priority)
	}
}

func maxKind(a, b models.UpdateKind) models.UpdateKind {
	if a == models.UpdateContentChange || b == models.UpdateContentChange {
		return models.UpdateContentChange
	}
	if a == models.UpdateDueDateOnly || b == models.UpdateDueDateOnly {
		return models.UpdateDueDateOnly
	}
	return models.UpdateNone
}

func updateMessage(item *models.Item, kind models.UpdateKind) string {
	if kind == models.UpdateDueDateOnly {
		return fmt.Sprintf("Due date changed from %s to %s.", formatDay(item.PreviousDueDate), formatDay(item.DueDate))
	}
	msg := fmt.Sprintf("Content of %q changed.", displayTitle(item))
	if item.ReopenedFromClosed {
		msg += " The item was closed."
	}
	return msg
}

func formatDay(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format("2006-01-02")
}

// clearPending снимает флаг обновления и стирает снимок
func clearPending(item *models.Item) {
	item.HasPendingUpdate = false
	item.UpdateType = models.UpdateNone
	item.PreviousDueDate = nil
	item.PreviousTitle = ""
	item.PreviousPriority = nil
	item.UpdateDetectedAt = nil
	item.StatusBeforeUpdate = ""
	item.ReopenedFromClosed = false
}

// ResolveUpdate применяет решение администратора. Всё или ничего.
func (e *Engine) ResolveUpdate(ctx context.Context, actor Actor, itemID int64, action ResolveAction, note string) (*ResolutionResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !action.Valid() {
		return nil, fmt.Errorf("%w: unknown resolution %q", ErrInvalidInput, action)
	}
	res := &ResolutionResult{Action: action}
	err := e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
		if !item.HasPendingUpdate {
			return ErrNoPendingUpdate
		}
		assignments, err := s.tx.Assignments(ctx)
		if err != nil {
			return err
		}
		switch action {
		case ResolveAcceptDueDate:
			item.Title = item.PreviousTitle
			item.Priority = clonePriority(item.PreviousPriority)
			clearPending(item)
			res.Queued = e.dueDateNotices(item, assignments)
		case ResolveRestartWorkflow:
			clearPending(item)
			if err := resetAssignments(ctx, s.tx, assignments); err != nil {
				return err
			}
			clearReviewOutcome(item)
			item.QcrAction = models.QcrActionNone
			item.QcrResponseMode = ""
			item.QcrNotes = ""
			item.QcrToken = ""
			item.ClosedAt = nil
			target := models.StageUnassigned
			if assignmentReady(item, assignments) {
				target = models.StageReviewerAssigned
			}
			if err := e.transition(ctx, s, item, target, "workflow restarted"); err != nil {
				return err
			}
			if target == models.StageReviewerAssigned {
				for _, a := range assignments {
					res.Queued = append(res.Queued, Message{
						Template: TemplateReviewerAssignment,
						To:       Recipient{Name: a.ReviewerName, Email: a.ReviewerEmail, Role: models.RoleReviewer},
						Item:     *item.Clone(),
						Note:     note,
					})
				}
			}
		case ResolveDismiss:
			item.DueDate = cloneTime(item.PreviousDueDate)
			item.Title = item.PreviousTitle
			item.Priority = clonePriority(item.PreviousPriority)
			clearPending(item)
		}
		if err := e.record(ctx, s, item, "update_resolved", strings.TrimSpace(string(action)+" "+note)); err != nil {
			return err
		}
		if err := e.save(ctx, s, item); err != nil {
			return err
		}
		res.Item = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("contractor update resolved", zap.Int64("item_id", itemID), zap.String("action", string(action)))
	return res, nil
}

// dueDateNotices адресует уведомление о новом сроке активной стороне процесса
func (e *Engine) dueDateNotices(item *models.Item, assignments []models.ReviewerAssignment) []Message {
	var out []Message
	switch item.Stage {
	case models.StageReviewerEmailSent:
		for _, a := range assignments {
			if a.Status != models.AssignmentSent {
				continue
			}
			out = append(out, Message{
				Template: TemplateDueDateChanged,
				To:       Recipient{Name: a.ReviewerName, Email: a.ReviewerEmail, Role: models.RoleReviewer},
				Item:     *item.Clone(),
				Link:     e.link("reviewer", a.ResponseToken),
			})
		}
	case models.StageQcrEmailSent:
		out = append(out, Message{
			Template: TemplateDueDateChanged,
			To:       Recipient{Name: item.QcrName, Email: item.QcrEmail, Role: models.RoleQcr},
			Item:     *item.Clone(),
			Link:     e.link("qcr", item.QcrToken),
		})
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func clonePriority(p *models.Priority) *models.Priority {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
