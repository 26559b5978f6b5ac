package workflow

import (
	"context"
	"fmt"
	"time"

	"rfitracker/internal/duedate"
	"rfitracker/models"

	"go.uber.org/zap"
)

// ReminderMode различает позиции с одним и несколькими рецензентами
type ReminderMode string

const (
	ReminderSingle ReminderMode = "single"
	ReminderMulti  ReminderMode = "multi"
)

// ReminderTarget: адресат напоминания со ссылкой на форму ответа
type ReminderTarget struct {
	Recipient
	AssignmentID int64  `json:"assignmentId,omitempty"`
	Link         string `json:"link,omitempty"`
}

type ReminderEntry struct {
	Item    models.Item          `json:"item"`
	Role    models.RecipientRole `json:"role"`
	Mode    ReminderMode         `json:"mode"`
	Stage   models.ReminderStage `json:"stage"`
	DueDate time.Time            `json:"dueDate"`
	Targets []ReminderTarget     `json:"targets"`
}

type ReminderSet struct {
	DueToday []ReminderEntry `json:"dueToday"`
	Overdue  []ReminderEntry `json:"overdue"`
}

// Filter оставляет записи с заданной ролью и режимом. Пустое значение не фильтрует.
func (s ReminderSet) Filter(role models.RecipientRole, mode ReminderMode) ReminderSet {
	keep := func(entries []ReminderEntry) []ReminderEntry {
		var out []ReminderEntry
		for _, en := range entries {
			if (role == "" || en.Role == role) && (mode == "" || en.Mode == mode) {
				out = append(out, en)
			}
		}
		return out
	}
	return ReminderSet{DueToday: keep(s.DueToday), Overdue: keep(s.Overdue)}
}

func (s ReminderSet) Len() int {
	return len(s.DueToday) + len(s.Overdue)
}

// PendingReminders строит набор напоминаний из текущего состояния. Ничего не меняет.
// Рецензенты попадают в набор только на этапе ReviewerEmailSent, QCR только на QcrEmailSent.
func (e *Engine) PendingReminders(ctx context.Context, now time.Time, window int) (*ReminderSet, error) {
	items, err := e.store.ListItems(ctx, ItemFilter{
		Stages: []models.Stage{models.StageReviewerEmailSent, models.StageQcrEmailSent},
	})
	if err != nil {
		return nil, fmt.Errorf("list items for reminders: %w", err)
	}
	today := duedate.Day(now)
	set := &ReminderSet{}
	for i := range items {
		// срок из необработанного обновления не действует, пока его не примет админ
		item := e.visible(Actor{}, &items[i])
		assignments, err := e.store.ListAssignments(ctx, item.ID)
		if err != nil {
			return nil, fmt.Errorf("list assignments for item %d: %w", item.ID, err)
		}
		entry, ok := e.reminderEntry(item, assignments)
		if !ok {
			continue
		}
		due := duedate.Day(entry.DueDate)
		switch {
		case due.Before(today):
			entry.Stage = models.ReminderOverdue
			set.Overdue = append(set.Overdue, entry)
		case !due.After(today.AddDate(0, 0, window)):
			entry.Stage = models.ReminderDueToday
			set.DueToday = append(set.DueToday, entry)
		}
	}
	e.observer.RemindersPending(models.ReminderDueToday, len(set.DueToday))
	e.observer.RemindersPending(models.ReminderOverdue, len(set.Overdue))
	return set, nil
}

// reminderEntry определяет активную сторону и её срок
func (e *Engine) reminderEntry(item *models.Item, assignments []models.ReviewerAssignment) (ReminderEntry, bool) {
	mode := ReminderSingle
	if len(assignments) > 1 {
		mode = ReminderMulti
	}
	entry := ReminderEntry{Item: *item, Mode: mode}
	switch item.Stage {
	case models.StageReviewerEmailSent:
		if item.InitialReviewerDueDate == nil {
			return entry, false
		}
		entry.Role = models.RoleReviewer
		entry.DueDate = *item.InitialReviewerDueDate
		for _, a := range assignments {
			if a.Status != models.AssignmentSent {
				continue
			}
			entry.Targets = append(entry.Targets, ReminderTarget{
				Recipient:    Recipient{Name: a.ReviewerName, Email: a.ReviewerEmail, Role: models.RoleReviewer},
				AssignmentID: a.ID,
				Link:         e.link("reviewer", a.ResponseToken),
			})
		}
	case models.StageQcrEmailSent:
		if item.QcrDueDate == nil || item.QcrEmail == "" {
			return entry, false
		}
		entry.Role = models.RoleQcr
		entry.DueDate = *item.QcrDueDate
		entry.Targets = []ReminderTarget{{
			Recipient: Recipient{Name: item.QcrName, Email: item.QcrEmail, Role: models.RoleQcr},
			Link:      e.link("qcr", item.QcrToken),
		}}
	default:
		return entry, false
	}
	return entry, len(entry.Targets) > 0
}

// RecordSent добавляет запись об отправленном напоминании
func (e *Engine) RecordSent(ctx context.Context, itemID int64, role models.RecipientRole, email string, stage models.ReminderStage) error {
	switch role {
	case models.RoleReviewer, models.RoleQcr:
	default:
		return fmt.Errorf("%w: unknown recipient role %q", ErrInvalidInput, role)
	}
	switch stage {
	case models.ReminderDueToday, models.ReminderOverdue, models.ReminderManual:
	default:
		return fmt.Errorf("%w: unknown reminder stage %q", ErrInvalidInput, stage)
	}
	return e.withItem(ctx, SystemActor, itemID, func(s *txScope, item *models.Item) error {
		return s.tx.CreateReminder(ctx, &models.ReminderRecord{
			ItemID:         item.ID,
			RecipientRole:  role,
			RecipientEmail: normalizeEmail(email),
			ReminderStage:  stage,
			SentAt:         e.now(),
		})
	})
}

// ReminderReport: итог рассылки напоминаний
type ReminderReport struct {
	Sent    int          `json:"sent"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Results []SendResult `json:"results"`
}

// SendReminders рассылает напоминания. Адресат, которому сегодня уже писали на этой стадии,
// пропускается. Неудачные отправки не повторяются.
func (e *Engine) SendReminders(ctx context.Context, now time.Time, window int) (*ReminderReport, error) {
	set, err := e.PendingReminders(ctx, now, window)
	if err != nil {
		return nil, err
	}
	report := &ReminderReport{}
	today := duedate.Day(now)
	for _, entries := range [][]ReminderEntry{set.Overdue, set.DueToday} {
		for _, entry := range entries {
			records, err := e.store.ListReminders(ctx, entry.Item.ID)
			if err != nil {
				return report, fmt.Errorf("list reminders for item %d: %w", entry.Item.ID, err)
			}
			for _, t := range entry.Targets {
				if sentOn(records, entry.Role, t.Email, entry.Stage, today) {
					report.Skipped++
					continue
				}
				res := e.sendReminder(ctx, entry, t, entry.Stage)
				report.Results = append(report.Results, res)
				if res.Success {
					report.Sent++
				} else {
					report.Failed++
				}
			}
		}
	}
	e.logger.Info("reminders processed",
		zap.Int("sent", report.Sent),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// SendManualReminder: напоминание по запросу пользователя, без проверки повторов
func (e *Engine) SendManualReminder(ctx context.Context, actor Actor, itemID int64) ([]SendResult, error) {
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	item = e.visible(Actor{}, item)
	assignments, err := e.store.ListAssignments(ctx, itemID)
	if err != nil {
		return nil, err
	}
	entry, ok := e.reminderEntry(item, assignments)
	if !ok {
		return nil, fmt.Errorf("%w: nobody is waiting to respond at stage %s", ErrInvalidTransition, item.Stage)
	}
	results := make([]SendResult, 0, len(entry.Targets))
	for _, t := range entry.Targets {
		results = append(results, e.sendReminder(ctx, entry, t, models.ReminderManual))
	}
	e.logger.Info("manual reminder", zap.Int64("item_id", itemID), zap.Int64("actor", actor.UserID))
	return results, nil
}

func (e *Engine) sendReminder(ctx context.Context, entry ReminderEntry, t ReminderTarget, stage models.ReminderStage) SendResult {
	res := SendResult{AssignmentID: t.AssignmentID, Recipient: t.Recipient, Success: true}
	err := e.sender.Send(ctx, Message{
		Template:      TemplateReminder,
		To:            t.Recipient,
		Item:          entry.Item,
		ReminderStage: stage,
		Link:          t.Link,
	})
	e.observer.EmailSent(TemplateReminder, err == nil)
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		e.logger.Warn("reminder failed", zap.Int64("item_id", entry.Item.ID), zap.String("to", t.Email), zap.Error(err))
		return res
	}
	if err := e.RecordSent(ctx, entry.Item.ID, t.Role, t.Email, stage); err != nil {
		e.logger.Error("failed to record reminder", zap.Int64("item_id", entry.Item.ID), zap.Error(err))
	}
	return res
}

func sentOn(records []models.ReminderRecord, role models.RecipientRole, email string, stage models.ReminderStage, day time.Time) bool {
	for _, r := range records {
		if r.RecipientRole == role && r.ReminderStage == stage && sameEmail(r.RecipientEmail, email) &&
			duedate.Day(r.SentAt).Equal(day) {
			return true
		}
	}
	return false
}
