// Package workflow ведёт RFI и Submittal через двухступенчатое рецензирование
// (рецензент, затем QCR), сверяет обновления подрядчика и формирует напоминания.
package workflow

import (
	"context"
	"fmt"
	"time"

	"rfitracker/internal/classifier"
	"rfitracker/internal/duedate"
	"rfitracker/models"

	"go.uber.org/zap"
)

// Actor: явный контекст пользователя для операций, зависящих от роли
type Actor struct {
	UserID int64
	Email  string
	Role   models.UserRole
}

// SystemActor используется опросом почты и планировщиком напоминаний
var SystemActor = Actor{Role: models.UserRoleAdmin, Email: "system"}

func (a Actor) IsAdmin() bool {
	return a.Role == models.UserRoleAdmin
}

func (a Actor) ref() *int64 {
	if a.UserID == 0 {
		return nil
	}
	id := a.UserID
	return &id
}

type TemplateKind string

const (
	TemplateReviewerAssignment TemplateKind = "reviewer_assignment"
	TemplateQcrAssignment      TemplateKind = "qcr_assignment"
	TemplateReminder           TemplateKind = "reminder"
	TemplateSentBack           TemplateKind = "sent_back"
	TemplateResponseReady      TemplateKind = "response_ready"
	TemplateDueDateChanged     TemplateKind = "due_date_changed"
)

type Recipient struct {
	Name  string               `json:"name"`
	Email string               `json:"email"`
	Role  models.RecipientRole `json:"role"`
}

// Message: письмо для внешнего отправителя; также используется как элемент очереди
type Message struct {
	Template      TemplateKind         `json:"template"`
	To            Recipient            `json:"to"`
	Item          models.Item          `json:"item"`
	ReminderStage models.ReminderStage `json:"reminderStage,omitempty"`
	Link          string               `json:"link,omitempty"`
	Note          string               `json:"note,omitempty"`
}

// Sender: внешний отправитель почты. Повторы и таймауты на его стороне.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendResult: результат по одному получателю
type SendResult struct {
	AssignmentID int64     `json:"assignmentId,omitempty"`
	Recipient    Recipient `json:"recipient"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

// Observer получает события после фиксации транзакции
type Observer interface {
	TransitionRecorded(from, to models.Stage)
	EmailSent(kind TemplateKind, ok bool)
	UpdateReconciled(kind models.UpdateKind)
	RemindersPending(stage models.ReminderStage, count int)
}

type nopObserver struct{}

func (nopObserver) TransitionRecorded(models.Stage, models.Stage) {}
func (nopObserver) EmailSent(TemplateKind, bool)                 {}
func (nopObserver) UpdateReconciled(models.UpdateKind)           {}
func (nopObserver) RemindersPending(models.ReminderStage, int)   {}

// Engine: конечный автомат рецензирования поверх Store
type Engine struct {
	store        Store
	sender       Sender
	classifier   *classifier.Classifier
	offsets      duedate.Offsets
	nearTermDays int
	baseURL      string
	logger       *zap.Logger
	observer     Observer
	clock        func() time.Time
}

type Option func(*Engine)

// WithClock подменяет часы (для тестов)
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

func WithOffsets(o duedate.Offsets) Option {
	return func(e *Engine) { e.offsets = o }
}

func WithNearTermDays(days int) Option {
	return func(e *Engine) {
		if days >= 0 {
			e.nearTermDays = days
		}
	}
}

func WithClassifier(c *classifier.Classifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithBaseURL задаёт адрес приложения для ссылок на форму ответа
func WithBaseURL(url string) Option {
	return func(e *Engine) { e.baseURL = url }
}

var DefaultOffsets = duedate.Offsets{ReviewerDays: 5, QcrDays: 3}

func New(store Store, sender Sender, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("workflow: store is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("workflow: sender is required")
	}
	e := &Engine{
		store:      store,
		sender:     sender,
		classifier: classifier.Default(),
		offsets:    DefaultOffsets,
		logger:     zap.NewNop(),
		observer:   nopObserver{},
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// Offsets возвращает действующие смещения сроков
func (e *Engine) Offsets() duedate.Offsets {
	return e.offsets
}

// txScope накапливает переходы, о которых наблюдатель узнаёт только после commit
type txScope struct {
	tx          Tx
	actor       Actor
	transitions [][2]models.Stage
	reconciled  []models.UpdateKind
}

// withItem выполняет fn под блокировкой позиции
func (e *Engine) withItem(ctx context.Context, actor Actor, itemID int64, fn func(s *txScope, item *models.Item) error) error {
	var scope *txScope
	err := e.store.InItemTx(ctx, itemID, func(tx Tx) error {
		scope = &txScope{tx: tx, actor: actor}
		item, err := tx.Item(ctx)
		if err != nil {
			return err
		}
		return fn(scope, item)
	})
	if err != nil {
		return err
	}
	for _, t := range scope.transitions {
		e.observer.TransitionRecorded(t[0], t[1])
	}
	for _, k := range scope.reconciled {
		e.observer.UpdateReconciled(k)
	}
	return nil
}

// save пересчитывает производные сроки и записывает позицию
func (e *Engine) save(ctx context.Context, s *txScope, item *models.Item) error {
	dates := duedate.Compute(item.DueDate, e.offsets.ReviewerDays, e.offsets.QcrDays)
	item.InitialReviewerDueDate = dates.InitialReviewer
	item.QcrDueDate = dates.Qcr
	item.UpdatedAt = e.now()
	return s.tx.SaveItem(ctx, item)
}

// record пишет событие в журнал
func (e *Engine) record(ctx context.Context, s *txScope, item *models.Item, kind, note string) error {
	return s.tx.AppendHistory(ctx, &models.HistoryEntry{
		ItemID:    item.ID,
		Kind:      kind,
		FromStage: item.Stage,
		ToStage:   item.Stage,
		ActorID:   s.actor.ref(),
		Note:      note,
		CreatedAt: e.now(),
	})
}

// transition проверяет допустимость перехода, меняет этап и пишет событие
func (e *Engine) transition(ctx context.Context, s *txScope, item *models.Item, to models.Stage, note string) error {
	from := item.Stage
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	item.Stage = to
	if err := s.tx.AppendHistory(ctx, &models.HistoryEntry{
		ItemID:    item.ID,
		Kind:      "stage",
		FromStage: from,
		ToStage:   to,
		ActorID:   s.actor.ref(),
		Note:      note,
		CreatedAt: e.now(),
	}); err != nil {
		return err
	}
	s.transitions = append(s.transitions, [2]models.Stage{from, to})
	e.logger.Debug("stage transition",
		zap.Int64("item_id", item.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

func (e *Engine) notify(ctx context.Context, s *txScope, n models.Notification) error {
	n.CreatedAt = e.now()
	return s.tx.CreateNotification(ctx, &n)
}

func (e *Engine) link(kind, token string) string {
	if token == "" {
		return ""
	}
	return fmt.Sprintf("%s/respond/%s/%s", e.baseURL, kind, token)
}

func requireAdmin(actor Actor) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

func int64Ptr(v int64) *int64 {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
