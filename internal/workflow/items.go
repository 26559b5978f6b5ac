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

// NewItem: данные для ручного создания позиции
type NewItem struct {
	Type          models.ItemType  `json:"type"`
	Bucket        models.Bucket    `json:"bucket"`
	Identifier    string           `json:"identifier"`
	Title         string           `json:"title"`
	DueDate       *time.Time       `json:"dueDate"`
	DateReceived  *time.Time       `json:"dateReceived"`
	Priority      *models.Priority `json:"priority"`
	SourceSubject string           `json:"-"`
	SourceEmailID string           `json:"-"`
}

// ItemPatch: прямое редактирование пользователем
type ItemPatch struct {
	Title        *string          `json:"title"`
	DueDate      *time.Time       `json:"dueDate"`
	ClearDueDate bool             `json:"clearDueDate"`
	DateReceived *time.Time       `json:"dateReceived"`
	Priority     *models.Priority `json:"priority"`
}

// ItemView: позиция с производными признаками для отображения
type ItemView struct {
	models.Item
	Status             string          `json:"status"`
	BucketLabel        string          `json:"bucketLabel"`
	ReviewerUrgency    duedate.Urgency `json:"reviewerUrgency"`
	QcrUrgency         duedate.Urgency `json:"qcrUrgency"`
	Urgency            duedate.Urgency `json:"urgency"`
	InsufficientWindow bool            `json:"insufficientWindow"`
}

func validateNewItem(in NewItem) error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: type must be RFI or Submittal", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Identifier) == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority", ErrInvalidInput)
	}
	return nil
}

func (e *Engine) CreateItem(ctx context.Context, actor Actor, in NewItem) (*models.Item, error) {
	if err := validateNewItem(in); err != nil {
		return nil, err
	}
	if in.Bucket == "" {
		in.Bucket = models.BucketGeneral
	}
	now := e.now()
	item := &models.Item{
		Type:          in.Type,
		Bucket:        in.Bucket,
		Identifier:    strings.TrimSpace(in.Identifier),
		Title:         strings.TrimSpace(in.Title),
		Stage:         models.StageUnassigned,
		DueDate:       dayPtr(in.DueDate),
		DateReceived:  dayPtr(in.DateReceived),
		Priority:      in.Priority,
		SourceSubject: in.SourceSubject,
		SourceEmailID: in.SourceEmailID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if item.DateReceived == nil {
		item.DateReceived = timePtr(duedate.Day(now))
	}
	dates := duedate.Compute(item.DueDate, e.offsets.ReviewerDays, e.offsets.QcrDays)
	item.InitialReviewerDueDate = dates.InitialReviewer
	item.QcrDueDate = dates.Qcr

	if err := e.store.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	err := e.withItem(ctx, actor, item.ID, func(s *txScope, locked *models.Item) error {
		return e.record(ctx, s, locked, "item_created", item.SourceSubject)
	})
	if err != nil {
		e.logger.Warn("failed to record item creation", zap.Int64("item_id", item.ID), zap.Error(err))
	}
	e.logger.Info("item created",
		zap.Int64("item_id", item.ID),
		zap.String("type", string(item.Type)),
		zap.String("bucket", string(item.Bucket)),
		zap.String("identifier", item.Identifier),
	)
	return item, nil
}

// GetItem возвращает позицию. Не-админ видит её в состоянии до необработанного обновления.
func (e *Engine) GetItem(ctx context.Context, actor Actor, id int64) (*models.Item, error) {
	item, err := e.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.visible(actor, item), nil
}

func (e *Engine) ListItems(ctx context.Context, actor Actor, f ItemFilter) ([]models.Item, error) {
	if f.PendingUpdate != nil && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: pending updates are visible to admins only", ErrForbidden)
	}
	items, err := e.store.ListItems(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = *e.visible(actor, &items[i])
	}
	return items, nil
}

// ListPendingUpdates: очередь обновлений подрядчика для администратора
func (e *Engine) ListPendingUpdates(ctx context.Context, actor Actor) ([]models.Item, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	pending := true
	return e.store.ListItems(ctx, ItemFilter{PendingUpdate: &pending})
}

// visible накладывает снимок previous_* для не-админов
func (e *Engine) visible(actor Actor, item *models.Item) *models.Item {
	if actor.IsAdmin() || !item.HasPendingUpdate {
		return item
	}
	v := item.Clone()
	v.DueDate = v.PreviousDueDate
	v.Title = v.PreviousTitle
	v.Priority = v.PreviousPriority
	dates := duedate.Compute(v.DueDate, e.offsets.ReviewerDays, e.offsets.QcrDays)
	v.InitialReviewerDueDate = dates.InitialReviewer
	v.QcrDueDate = dates.Qcr
	clearPending(v)
	return v
}

// publicItem: копия позиции для писем рецензентам и QCR
func (e *Engine) publicItem(item *models.Item) models.Item {
	return *e.visible(Actor{}, item.Clone())
}

func (e *Engine) UpdateItem(ctx context.Context, actor Actor, id int64, p ItemPatch) (*models.Item, error) {
	if p.Priority != nil && !p.Priority.Valid() {
		return nil, fmt.Errorf("%w: invalid priority", ErrInvalidInput)
	}
	var out *models.Item
	err := e.withItem(ctx, actor, id, func(s *txScope, item *models.Item) error {
		// пока обновление подрядчика не разобрано, не-админ правит видимый ему снимок
		title, due, prio := &item.Title, &item.DueDate, &item.Priority
		if item.HasPendingUpdate && !actor.IsAdmin() {
			title, due, prio = &item.PreviousTitle, &item.PreviousDueDate, &item.PreviousPriority
		}
		var changed []string
		if p.Title != nil {
			*title = strings.TrimSpace(*p.Title)
			changed = append(changed, "title")
		}
		if p.ClearDueDate {
			*due = nil
			changed = append(changed, "due_date")
		} else if p.DueDate != nil {
			*due = dayPtr(p.DueDate)
			changed = append(changed, "due_date")
		}
		if p.DateReceived != nil {
			item.DateReceived = dayPtr(p.DateReceived)
			changed = append(changed, "date_received")
		}
		if p.Priority != nil {
			*prio = p.Priority
			changed = append(changed, "priority")
		}
		if len(changed) == 0 {
			out = item
			return nil
		}
		if err := e.record(ctx, s, item, "item_edited", strings.Join(changed, ",")); err != nil {
			return err
		}
		if err := e.save(ctx, s, item); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.visible(actor, out), nil
}

func (e *Engine) History(ctx context.Context, id int64) ([]models.HistoryEntry, error) {
	if _, err := e.store.GetItem(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListHistory(ctx, id)
}

// View дополняет позицию цветом срочности и признаком недостаточного окна подрядчика
func (e *Engine) View(item *models.Item) ItemView {
	today := e.now()
	v := ItemView{
		Item:               *item,
		Status:             item.Stage.Label(),
		BucketLabel:        item.Bucket.Label(),
		ReviewerUrgency:    duedate.Classify(item.InitialReviewerDueDate, today, e.nearTermDays),
		QcrUrgency:         duedate.Classify(item.QcrDueDate, today, e.nearTermDays),
		InsufficientWindow: duedate.InsufficientWindow(item.DateReceived, item.DueDate, e.offsets),
	}
	switch item.Stage {
	case models.StageReviewerAssigned, models.StageReviewerEmailSent:
		v.Urgency = v.ReviewerUrgency
	case models.StageReviewerResponded, models.StageQcrEmailSent:
		v.Urgency = v.QcrUrgency
	case models.StageClosed:
		v.Urgency = duedate.UrgencyNone
	default:
		v.Urgency = duedate.Classify(item.DueDate, today, e.nearTermDays)
	}
	return v
}

func dayPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := duedate.Day(*t)
	return &d
}
