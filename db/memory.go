package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rfitracker/internal/workflow"
	"rfitracker/models"
)

type emailLogEntry struct {
	itemID      *int64
	processedAt time.Time
}

// MemoryStorage: хранилище в памяти для тестов и локального запуска.
// Транзакция позиции работает с копиями и применяет изменения только при успехе.
type MemoryStorage struct {
	mu            sync.RWMutex
	seq           atomic.Int64
	users         map[int64]models.User
	items         map[int64]*models.Item
	assignments   map[int64]*models.ReviewerAssignment
	reminders     []models.ReminderRecord
	notifications map[int64]*models.Notification
	history       []models.HistoryEntry
	emails        map[string]emailLogEntry

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

var _ workflow.Store = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:         map[int64]models.User{},
		items:         map[int64]*models.Item{},
		assignments:   map[int64]*models.ReviewerAssignment{},
		notifications: map[int64]*models.Notification{},
		emails:        map[string]emailLogEntry{},
		locks:         map[int64]*sync.Mutex{},
	}
}

func (s *MemoryStorage) nextID() int64 {
	return s.seq.Add(1)
}

func (s *MemoryStorage) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("user %s already exists", u.Email)
		}
	}
	u.ID = s.nextID()
	u.Email = strings.ToLower(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStorage) LookupUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, workflow.ErrNotFound)
	}
	return &u, nil
}

func (s *MemoryStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.filterUsers(func(models.User) bool { return true }), nil
}

func (s *MemoryStorage) ListUsersByRole(ctx context.Context, role models.UserRole) ([]models.User, error) {
	return s.filterUsers(func(u models.User) bool { return u.Role == role }), nil
}

func (s *MemoryStorage) filterUsers(keep func(models.User) bool) []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.User{}
	for _, u := range s.users {
		if keep(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStorage) CreateItem(ctx context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = s.nextID()
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *MemoryStorage) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, workflow.ErrNotFound)
	}
	return item.Clone(), nil
}

func (s *MemoryStorage) FindItem(ctx context.Context, t models.ItemType, b models.Bucket, identifier string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Item
	for _, item := range s.items {
		if item.Type == t && item.Bucket == b && item.Identifier == identifier {
			if found == nil || item.ID < found.ID {
				found = item
			}
		}
	}
	if found == nil {
		return nil, fmt.Errorf("item %s: %w", identifier, workflow.ErrNotFound)
	}
	return found.Clone(), nil
}

func (s *MemoryStorage) ListItems(ctx context.Context, f workflow.ItemFilter) ([]models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Item{}
	for _, item := range s.items {
		if !matchItem(item, f) {
			continue
		}
		out = append(out, *item.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DueDate, out[j].DueDate
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.Item{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchItem(item *models.Item, f workflow.ItemFilter) bool {
	if len(f.Stages) > 0 {
		ok := false
		for _, st := range f.Stages {
			if item.Stage == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Type != "" && item.Type != f.Type {
		return false
	}
	if f.Bucket != "" && item.Bucket != f.Bucket {
		return false
	}
	if f.PendingUpdate != nil && item.HasPendingUpdate != *f.PendingUpdate {
		return false
	}
	return true
}

func (s *MemoryStorage) GetItemByQcrToken(ctx context.Context, token string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if token != "" && item.QcrToken == token {
			return item.Clone(), nil
		}
	}
	return nil, fmt.Errorf("qcr token: %w", workflow.ErrNotFound)
}

func (s *MemoryStorage) ListAssignments(ctx context.Context, itemID int64) ([]models.ReviewerAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemAssignments(itemID), nil
}

// itemAssignments вызывается под s.mu
func (s *MemoryStorage) itemAssignments(itemID int64) []models.ReviewerAssignment {
	out := []models.ReviewerAssignment{}
	for _, a := range s.assignments {
		if a.ItemID == itemID {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStorage) GetAssignment(ctx context.Context, id int64) (*models.ReviewerAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, fmt.Errorf("assignment %d: %w", id, workflow.ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *MemoryStorage) GetAssignmentByToken(ctx context.Context, token string) (*models.ReviewerAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assignments {
		if token != "" && a.ResponseToken == token {
			return a.Clone(), nil
		}
	}
	return nil, fmt.Errorf("response token: %w", workflow.ErrNotFound)
}

func (s *MemoryStorage) ListReminders(ctx context.Context, itemID int64) ([]models.ReminderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.ReminderRecord{}
	for _, r := range s.reminders {
		if r.ItemID == itemID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStorage) ListHistory(ctx context.Context, itemID int64) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.HistoryEntry{}
	for _, h := range s.history {
		if h.ItemID == itemID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *MemoryStorage) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.nextID()
	c := *n
	s.notifications[n.ID] = &c
	return nil
}

func visibleTo(n *models.Notification, userID *int64) bool {
	if n.UserID == nil {
		return true
	}
	return userID != nil && *n.UserID == *userID
}

func (s *MemoryStorage) ListNotifications(ctx context.Context, userID *int64, unreadOnly bool) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Notification{}
	for _, n := range s.notifications {
		if !visibleTo(n, userID) || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStorage) MarkNotificationRead(ctx context.Context, id int64, userID *int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || !visibleTo(n, userID) {
		return fmt.Errorf("notification %d: %w", id, workflow.ErrNotFound)
	}
	n.ReadAt = &at
	return nil
}

func (s *MemoryStorage) MarkAllNotificationsRead(ctx context.Context, userID *int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if visibleTo(n, userID) && n.ReadAt == nil {
			t := at
			n.ReadAt = &t
		}
	}
	return nil
}

func (s *MemoryStorage) DeleteNotification(ctx context.Context, id int64, userID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || !visibleTo(n, userID) {
		return fmt.Errorf("notification %d: %w", id, workflow.ErrNotFound)
	}
	delete(s.notifications, id)
	return nil
}

func (s *MemoryStorage) EmailProcessed(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.emails[messageID]
	return ok, nil
}

func (s *MemoryStorage) MarkEmailProcessed(ctx context.Context, messageID string, itemID *int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[messageID]; !ok {
		s.emails[messageID] = emailLogEntry{itemID: itemID, processedAt: at}
	}
	return nil
}

func (s *MemoryStorage) itemLock(id int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *MemoryStorage) InItemTx(ctx context.Context, itemID int64, fn func(tx workflow.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	item, ok := s.items[itemID]
	var tx *memTx
	if ok {
		tx = &memTx{
			store:       s,
			item:        item.Clone(),
			assignments: s.itemAssignments(itemID),
		}
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("item %d: %w", itemID, workflow.ErrNotFound)
	}

	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStorage) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := tx.item.ID
	s.items[id] = tx.item
	for aid, a := range s.assignments {
		if a.ItemID == id {
			delete(s.assignments, aid)
		}
	}
	for i := range tx.assignments {
		a := tx.assignments[i]
		s.assignments[a.ID] = &a
	}
	s.history = append(s.history, tx.history...)
	s.reminders = append(s.reminders, tx.reminders...)
	for i := range tx.notifications {
		n := tx.notifications[i]
		s.notifications[n.ID] = &n
	}
}

// memTx копит изменения одной позиции до commit
type memTx struct {
	store         *MemoryStorage
	item          *models.Item
	assignments   []models.ReviewerAssignment
	history       []models.HistoryEntry
	notifications []models.Notification
	reminders     []models.ReminderRecord
}

func (t *memTx) Item(ctx context.Context) (*models.Item, error) {
	return t.item.Clone(), nil
}

func (t *memTx) SaveItem(ctx context.Context, item *models.Item) error {
	if item.ID != t.item.ID {
		return fmt.Errorf("item %d is not locked by this transaction", item.ID)
	}
	t.item = item.Clone()
	return nil
}

func (t *memTx) Assignments(ctx context.Context) ([]models.ReviewerAssignment, error) {
	out := make([]models.ReviewerAssignment, len(t.assignments))
	for i := range t.assignments {
		out[i] = *t.assignments[i].Clone()
	}
	return out, nil
}

func (t *memTx) CreateAssignment(ctx context.Context, a *models.ReviewerAssignment) error {
	for _, existing := range t.assignments {
		if strings.EqualFold(existing.ReviewerEmail, a.ReviewerEmail) {
			return workflow.ErrDuplicateReviewer
		}
	}
	a.ID = t.store.nextID()
	a.ItemID = t.item.ID
	t.assignments = append(t.assignments, *a.Clone())
	return nil
}

func (t *memTx) SaveAssignment(ctx context.Context, a *models.ReviewerAssignment) error {
	for i := range t.assignments {
		if t.assignments[i].ID == a.ID {
			t.assignments[i] = *a.Clone()
			return nil
		}
	}
	return fmt.Errorf("assignment %d: %w", a.ID, workflow.ErrNotFound)
}

func (t *memTx) DeleteAssignment(ctx context.Context, id int64) error {
	for i := range t.assignments {
		if t.assignments[i].ID == id {
			t.assignments = append(t.assignments[:i], t.assignments[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("assignment %d: %w", id, workflow.ErrNotFound)
}

func (t *memTx) AppendHistory(ctx context.Context, h *models.HistoryEntry) error {
	h.ID = t.store.nextID()
	t.history = append(t.history, *h)
	return nil
}

func (t *memTx) CreateNotification(ctx context.Context, n *models.Notification) error {
	n.ID = t.store.nextID()
	t.notifications = append(t.notifications, *n)
	return nil
}

func (t *memTx) CreateReminder(ctx context.Context, r *models.ReminderRecord) error {
	r.ID = t.store.nextID()
	t.reminders = append(t.reminders, *r)
	return nil
}
