package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rfitracker/internal/workflow"
	"rfitracker/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

var _ workflow.Store = (*Storage)(nil)

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, workflow.ErrNotFound)
	}
	return err
}

// insertID выполняет именованный INSERT ... RETURNING id
func insertID(ctx context.Context, q sqlx.ExtContext, query string, arg interface{}) (int64, error) {
	bound, args, err := sqlx.Named(query, arg)
	if err != nil {
		return 0, err
	}
	var id int64
	err = q.QueryRowxContext(ctx, q.Rebind(bound), args...).Scan(&id)
	return id, err
}

// Пользователи (справочник)

func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	query := `
        INSERT INTO app_user (display_name, email, role)
        VALUES ($1, $2, $3)
        RETURNING id, created_at`
	return s.db.QueryRowContext(ctx, query, u.DisplayName, strings.ToLower(u.Email), u.Role).
		Scan(&u.ID, &u.CreatedAt)
}

func (s *Storage) LookupUser(ctx context.Context, id int64) (*models.User, error) {
	u := &models.User{}
	err := s.db.GetContext(ctx, u, `SELECT * FROM app_user WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("user %d", id))
	}
	return u, nil
}

func (s *Storage) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := s.db.SelectContext(ctx, &users, `SELECT * FROM app_user ORDER BY display_name ASC`)
	return users, err
}

func (s *Storage) ListUsersByRole(ctx context.Context, role models.UserRole) ([]models.User, error) {
	users := []models.User{}
	err := s.db.SelectContext(ctx, &users, `SELECT * FROM app_user WHERE role = $1 ORDER BY id`, role)
	return users, err
}

// Позиции

const insertItem = `
    INSERT INTO item (
        type, bucket, identifier, title, stage, due_date, date_received, priority,
        initial_reviewer_id, qcr_id, qcr_name, qcr_email, initial_reviewer_due_date, qcr_due_date,
        closed_at, source_subject, source_email_id, created_at, updated_at)
    VALUES (
        :type, :bucket, :identifier, :title, :stage, :due_date, :date_received, :priority,
        :initial_reviewer_id, :qcr_id, :qcr_name, :qcr_email, :initial_reviewer_due_date, :qcr_due_date,
        :closed_at, :source_subject, :source_email_id, :created_at, :updated_at)
    RETURNING id`

const updateItem = `
    UPDATE item SET
        title = :title, stage = :stage, due_date = :due_date, date_received = :date_received,
        priority = :priority, initial_reviewer_id = :initial_reviewer_id, qcr_id = :qcr_id,
        qcr_name = :qcr_name, qcr_email = :qcr_email,
        initial_reviewer_due_date = :initial_reviewer_due_date, qcr_due_date = :qcr_due_date,
        closed_at = :closed_at,
        response_category = :response_category, response_text = :response_text,
        response_files = :response_files,
        qcr_token = :qcr_token, qcr_send_attempted_at = :qcr_send_attempted_at,
        qcr_send_failed_at = :qcr_send_failed_at,
        qcr_email_sent_at = :qcr_email_sent_at, qcr_action = :qcr_action,
        qcr_response_mode = :qcr_response_mode, qcr_notes = :qcr_notes, qcr_response_at = :qcr_response_at,
        final_response_category = :final_response_category, final_response_text = :final_response_text,
        final_response_files = :final_response_files,
        has_pending_update = :has_pending_update, update_type = :update_type,
        previous_due_date = :previous_due_date, previous_title = :previous_title,
        previous_priority = :previous_priority, update_detected_at = :update_detected_at,
        status_before_update = :status_before_update, reopened_from_closed = :reopened_from_closed,
        updated_at = :updated_at
    WHERE id = :id`

func (s *Storage) CreateItem(ctx context.Context, item *models.Item) error {
	id, err := insertID(ctx, s.db, insertItem, item)
	if err != nil {
		return err
	}
	item.ID = id
	return nil
}

func (s *Storage) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	item := &models.Item{}
	if err := s.db.GetContext(ctx, item, `SELECT * FROM item WHERE id = $1`, id); err != nil {
		return nil, notFound(err, fmt.Sprintf("item %d", id))
	}
	return item, nil
}

func (s *Storage) FindItem(ctx context.Context, t models.ItemType, b models.Bucket, identifier string) (*models.Item, error) {
	item := &models.Item{}
	query := `
        SELECT * FROM item
        WHERE type = $1 AND bucket = $2 AND identifier = $3
        ORDER BY id ASC
        LIMIT 1`
	if err := s.db.GetContext(ctx, item, query, t, b, identifier); err != nil {
		return nil, notFound(err, "item "+identifier)
	}
	return item, nil
}

func (s *Storage) ListItems(ctx context.Context, f workflow.ItemFilter) ([]models.Item, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Stages) > 0 {
		stages := make([]string, len(f.Stages))
		for i, st := range f.Stages {
			stages[i] = string(st)
		}
		conds = append(conds, "stage = ANY("+arg(pq.Array(stages))+")")
	}
	if f.Type != "" {
		conds = append(conds, "type = "+arg(f.Type))
	}
	if f.Bucket != "" {
		conds = append(conds, "bucket = "+arg(f.Bucket))
	}
	if f.PendingUpdate != nil {
		conds = append(conds, "has_pending_update = "+arg(*f.PendingUpdate))
	}

	query := "SELECT * FROM item"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY due_date ASC NULLS LAST, id ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}

	items := []models.Item{}
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Storage) GetItemByQcrToken(ctx context.Context, token string) (*models.Item, error) {
	item := &models.Item{}
	if err := s.db.GetContext(ctx, item, `SELECT * FROM item WHERE qcr_token = $1`, token); err != nil {
		return nil, notFound(err, "qcr token")
	}
	return item, nil
}

// Назначения рецензентов

func (s *Storage) ListAssignments(ctx context.Context, itemID int64) ([]models.ReviewerAssignment, error) {
	return listAssignments(ctx, s.db, itemID)
}

func listAssignments(ctx context.Context, q sqlx.QueryerContext, itemID int64) ([]models.ReviewerAssignment, error) {
	out := []models.ReviewerAssignment{}
	err := sqlx.SelectContext(ctx, q, &out, `SELECT * FROM reviewer_assignment WHERE item_id = $1 ORDER BY id`, itemID)
	return out, err
}

func (s *Storage) GetAssignment(ctx context.Context, id int64) (*models.ReviewerAssignment, error) {
	a := &models.ReviewerAssignment{}
	if err := s.db.GetContext(ctx, a, `SELECT * FROM reviewer_assignment WHERE id = $1`, id); err != nil {
		return nil, notFound(err, fmt.Sprintf("assignment %d", id))
	}
	return a, nil
}

func (s *Storage) GetAssignmentByToken(ctx context.Context, token string) (*models.ReviewerAssignment, error) {
	a := &models.ReviewerAssignment{}
	if err := s.db.GetContext(ctx, a, `SELECT * FROM reviewer_assignment WHERE response_token = $1`, token); err != nil {
		return nil, notFound(err, "response token")
	}
	return a, nil
}

// Журналы

func (s *Storage) ListReminders(ctx context.Context, itemID int64) ([]models.ReminderRecord, error) {
	out := []models.ReminderRecord{}
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM reminder_record WHERE item_id = $1 ORDER BY sent_at`, itemID)
	return out, err
}

func (s *Storage) ListHistory(ctx context.Context, itemID int64) ([]models.HistoryEntry, error) {
	out := []models.HistoryEntry{}
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM item_history WHERE item_id = $1 ORDER BY id`, itemID)
	return out, err
}

// Уведомления

const insertNotification = `
    INSERT INTO notification (user_id, type, title, message, item_id, action_url, action_label, created_at)
    VALUES (:user_id, :type, :title, :message, :item_id, :action_url, :action_label, :created_at)
    RETURNING id`

func (s *Storage) CreateNotification(ctx context.Context, n *models.Notification) error {
	id, err := insertID(ctx, s.db, insertNotification, n)
	if err != nil {
		return err
	}
	n.ID = id
	return nil
}

// userScope ограничивает выборку уведомлениями пользователя и общими
func userScope(userID *int64, next int) (string, []interface{}) {
	if userID == nil {
		return "user_id IS NULL", nil
	}
	return fmt.Sprintf("(user_id = $%d OR user_id IS NULL)", next), []interface{}{*userID}
}

func (s *Storage) ListNotifications(ctx context.Context, userID *int64, unreadOnly bool) ([]models.Notification, error) {
	scope, args := userScope(userID, 1)
	query := "SELECT * FROM notification WHERE " + scope
	if unreadOnly {
		query += " AND read_at IS NULL"
	}
	query += " ORDER BY created_at DESC, id DESC"
	out := []models.Notification{}
	err := s.db.SelectContext(ctx, &out, query, args...)
	return out, err
}

func (s *Storage) MarkNotificationRead(ctx context.Context, id int64, userID *int64, at time.Time) error {
	scope, args := userScope(userID, 3)
	res, err := s.db.ExecContext(ctx,
		"UPDATE notification SET read_at = $1 WHERE id = $2 AND "+scope,
		append([]interface{}{at, id}, args...)...)
	return affected(res, err, fmt.Sprintf("notification %d", id))
}

func (s *Storage) MarkAllNotificationsRead(ctx context.Context, userID *int64, at time.Time) error {
	scope, args := userScope(userID, 2)
	_, err := s.db.ExecContext(ctx,
		"UPDATE notification SET read_at = $1 WHERE read_at IS NULL AND "+scope,
		append([]interface{}{at}, args...)...)
	return err
}

func (s *Storage) DeleteNotification(ctx context.Context, id int64, userID *int64) error {
	scope, args := userScope(userID, 2)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM notification WHERE id = $1 AND "+scope,
		append([]interface{}{id}, args...)...)
	return affected(res, err, fmt.Sprintf("notification %d", id))
}

func affected(res sql.Result, err error, what string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, workflow.ErrNotFound)
	}
	return nil
}

// Журнал обработанных писем

func (s *Storage) EmailProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM email_log WHERE message_id = $1)`, messageID)
	return exists, err
}

func (s *Storage) MarkEmailProcessed(ctx context.Context, messageID string, itemID *int64, at time.Time) error {
	query := `
        INSERT INTO email_log (message_id, item_id, processed_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (message_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query, messageID, itemID, at)
	return err
}

// InItemTx держит строку позиции под SELECT ... FOR UPDATE до конца fn
func (s *Storage) InItemTx(ctx context.Context, itemID int64, fn func(tx workflow.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var locked int64
	if err := tx.GetContext(ctx, &locked, `SELECT id FROM item WHERE id = $1 FOR UPDATE`, itemID); err != nil {
		return notFound(err, fmt.Sprintf("item %d", itemID))
	}
	if err := fn(&pgTx{tx: tx, itemID: itemID}); err != nil {
		return err
	}
	return tx.Commit()
}

type pgTx struct {
	tx     *sqlx.Tx
	itemID int64
}

func (t *pgTx) Item(ctx context.Context) (*models.Item, error) {
	item := &models.Item{}
	if err := t.tx.GetContext(ctx, item, `SELECT * FROM item WHERE id = $1`, t.itemID); err != nil {
		return nil, notFound(err, fmt.Sprintf("item %d", t.itemID))
	}
	return item, nil
}

func (t *pgTx) SaveItem(ctx context.Context, item *models.Item) error {
	if item.ID != t.itemID {
		return fmt.Errorf("item %d is not locked by this transaction", item.ID)
	}
	_, err := t.tx.NamedExecContext(ctx, updateItem, item)
	return err
}

func (t *pgTx) Assignments(ctx context.Context) ([]models.ReviewerAssignment, error) {
	return listAssignments(ctx, t.tx, t.itemID)
}

func (t *pgTx) CreateAssignment(ctx context.Context, a *models.ReviewerAssignment) error {
	a.ItemID = t.itemID
	query := `
        INSERT INTO reviewer_assignment (item_id, user_id, reviewer_name, reviewer_email, status, created_at)
        VALUES (:item_id, :user_id, :reviewer_name, :reviewer_email, :status, :created_at)
        RETURNING id`
	id, err := insertID(ctx, t.tx, query, a)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return workflow.ErrDuplicateReviewer
		}
		return err
	}
	a.ID = id
	return nil
}

func (t *pgTx) SaveAssignment(ctx context.Context, a *models.ReviewerAssignment) error {
	query := `
        UPDATE reviewer_assignment SET
            status = :status, response_category = :response_category, response_notes = :response_notes,
            response_files = :response_files, response_token = :response_token,
            send_attempted_at = :send_attempted_at, send_failed_at = :send_failed_at, email_sent_at = :email_sent_at, response_at = :response_at
        WHERE id = :id AND item_id = :item_id`
	res, err := t.tx.NamedExecContext(ctx, query, a)
	return affected(res, err, fmt.Sprintf("assignment %d", a.ID))
}

func (t *pgTx) DeleteAssignment(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM reviewer_assignment WHERE id = $1 AND item_id = $2`, id, t.itemID)
	return affected(res, err, fmt.Sprintf("assignment %d", id))
}

func (t *pgTx) AppendHistory(ctx context.Context, h *models.HistoryEntry) error {
	query := `
        INSERT INTO item_history (item_id, kind, from_stage, to_stage, actor_id, note, created_at)
        VALUES (:item_id, :kind, :from_stage, :to_stage, :actor_id, :note, :created_at)
        RETURNING id`
	id, err := insertID(ctx, t.tx, query, h)
	if err != nil {
		return err
	}
	h.ID = id
	return nil
}

func (t *pgTx) CreateNotification(ctx context.Context, n *models.Notification) error {
	id, err := insertID(ctx, t.tx, insertNotification, n)
	if err != nil {
		return err
	}
	n.ID = id
	return nil
}

func (t *pgTx) CreateReminder(ctx context.Context, r *models.ReminderRecord) error {
	query := `
        INSERT INTO reminder_record (item_id, recipient_role, recipient_email, reminder_stage, sent_at)
        VALUES (:item_id, :recipient_role, :recipient_email, :reminder_stage, :sent_at)
        RETURNING id`
	id, err := insertID(ctx, t.tx, query, r)
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}
