package models

import (
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Тип позиции
type ItemType string

const (
	ItemTypeRFI       ItemType = "RFI"
	ItemTypeSubmittal ItemType = "Submittal"
)

func (t ItemType) Valid() bool {
	return t == ItemTypeRFI || t == ItemTypeSubmittal
}

// Bucket: каноничный тег группы (подрядчик). Для отображения используется Label.
type Bucket string

const (
	BucketGeneral   Bucket = "GENERAL"
	BucketTurner    Bucket = "TURNER"
	BucketMortenson Bucket = "MORTENSON"
	BucketFTI       Bucket = "FTI"
)

var bucketLabels = map[Bucket]string{
	BucketGeneral:   "General",
	BucketTurner:    "Turner",
	BucketMortenson: "Mortenson",
	BucketFTI:       "FTI",
}

func (b Bucket) Label() string {
	if l, ok := bucketLabels[b]; ok {
		return l
	}
	return string(b)
}

func (b Bucket) Valid() bool {
	_, ok := bucketLabels[b]
	return ok
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Stage: этап двухступенчатого рецензирования
type Stage string

const (
	StageUnassigned        Stage = "unassigned"
	StageReviewerAssigned  Stage = "reviewer_assigned"
	StageReviewerEmailSent Stage = "reviewer_email_sent"
	StageReviewerResponded Stage = "reviewer_responded"
	StageQcrEmailSent      Stage = "qcr_email_sent"
	StageQcrResponded      Stage = "qcr_responded"
	StageClosed            Stage = "closed"
)

var stageLabels = map[Stage]string{
	StageUnassigned:        "Unassigned",
	StageReviewerAssigned:  "Reviewer Assigned",
	StageReviewerEmailSent: "In Review",
	StageReviewerResponded: "Ready for QC",
	StageQcrEmailSent:      "In QC",
	StageQcrResponded:      "Ready for Response",
	StageClosed:            "Closed",
}

// Label возвращает отображаемый статус
func (s Stage) Label() string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s Stage) Valid() bool {
	_, ok := stageLabels[s]
	return ok
}

func (s Stage) Terminal() bool {
	return s == StageClosed
}

type QcrAction string

const (
	QcrActionNone     QcrAction = ""
	QcrActionApprove  QcrAction = "Approve"
	QcrActionModify   QcrAction = "Modify"
	QcrActionSendBack QcrAction = "Send Back"
)

// Finalizes сообщает, даёт ли решение QCR окончательный ответ
func (a QcrAction) Finalizes() bool {
	return a == QcrActionApprove || a == QcrActionModify
}

type ResponseMode string

const (
	ResponseModeKeep   ResponseMode = "Keep"
	ResponseModeTweak  ResponseMode = "Tweak"
	ResponseModeRevise ResponseMode = "Revise"
)

type UpdateKind string

const (
	UpdateNone          UpdateKind = ""
	UpdateDueDateOnly   UpdateKind = "due_date_only"
	UpdateContentChange UpdateKind = "content_change"
)

// Сущность RFI / Submittal
type Item struct {
	ID         int64    `db:"id" json:"id"`
	Type       ItemType `db:"type" json:"type"`
	Bucket     Bucket   `db:"bucket" json:"bucket"`
	Identifier string   `db:"identifier" json:"identifier"`
	Title      string   `db:"title" json:"title"`
	Stage      Stage    `db:"stage" json:"stage"`

	DueDate      *time.Time `db:"due_date" json:"dueDate"`
	DateReceived *time.Time `db:"date_received" json:"dateReceived"`
	Priority     *Priority  `db:"priority" json:"priority"`

	InitialReviewerID      *int64     `db:"initial_reviewer_id" json:"initialReviewerId"`
	QcrID                  *int64     `db:"qcr_id" json:"qcrId"`
	QcrName                string     `db:"qcr_name" json:"qcrName"`
	QcrEmail               string     `db:"qcr_email" json:"qcrEmail"`
	InitialReviewerDueDate *time.Time `db:"initial_reviewer_due_date" json:"initialReviewerDueDate"`
	QcrDueDate             *time.Time `db:"qcr_due_date" json:"qcrDueDate"`
	ClosedAt               *time.Time `db:"closed_at" json:"closedAt"`

	SourceSubject string `db:"source_subject" json:"sourceSubject"`
	SourceEmailID string `db:"source_email_id" json:"sourceEmailId"`

	ResponseCategory string         `db:"response_category" json:"responseCategory"`
	ResponseText     string         `db:"response_text" json:"responseText"`
	ResponseFiles    pq.StringArray `db:"response_files" json:"responseFiles"`

	QcrToken           string       `db:"qcr_token" json:"-"`
	QcrSendAttemptedAt *time.Time   `db:"qcr_send_attempted_at" json:"qcrSendAttemptedAt"`
	QcrSendFailedAt    *time.Time   `db:"qcr_send_failed_at" json:"qcrSendFailedAt"`
	QcrEmailSentAt     *time.Time   `db:"qcr_email_sent_at" json:"qcrEmailSentAt"`
	QcrAction          QcrAction    `db:"qcr_action" json:"qcrAction"`
	QcrResponseMode    ResponseMode `db:"qcr_response_mode" json:"qcrResponseMode"`
	QcrNotes           string       `db:"qcr_notes" json:"qcrNotes"`
	QcrResponseAt      *time.Time   `db:"qcr_response_at" json:"qcrResponseAt"`

	FinalResponseCategory string         `db:"final_response_category" json:"finalResponseCategory"`
	FinalResponseText     string         `db:"final_response_text" json:"finalResponseText"`
	FinalResponseFiles    pq.StringArray `db:"final_response_files" json:"finalResponseFiles"`

	HasPendingUpdate   bool       `db:"has_pending_update" json:"hasPendingUpdate"`
	UpdateType         UpdateKind `db:"update_type" json:"updateType"`
	PreviousDueDate    *time.Time `db:"previous_due_date" json:"previousDueDate"`
	PreviousTitle      string     `db:"previous_title" json:"previousTitle"`
	PreviousPriority   *Priority  `db:"previous_priority" json:"previousPriority"`
	UpdateDetectedAt   *time.Time `db:"update_detected_at" json:"updateDetectedAt"`
	StatusBeforeUpdate Stage      `db:"status_before_update" json:"statusBeforeUpdate"`
	ReopenedFromClosed bool       `db:"reopened_from_closed" json:"reopenedFromClosed"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Status: отображаемая метка этапа
func (i *Item) Status() string {
	return i.Stage.Label()
}

// Clone делает глубокую копию, чтобы снимки не делили указатели
func (i *Item) Clone() *Item {
	c := *i
	c.DueDate = cloneTime(i.DueDate)
	c.DateReceived = cloneTime(i.DateReceived)
	c.Priority = clonePriority(i.Priority)
	c.InitialReviewerID = cloneInt(i.InitialReviewerID)
	c.QcrID = cloneInt(i.QcrID)
	c.InitialReviewerDueDate = cloneTime(i.InitialReviewerDueDate)
	c.QcrDueDate = cloneTime(i.QcrDueDate)
	c.ClosedAt = cloneTime(i.ClosedAt)
	c.ResponseFiles = cloneStrings(i.ResponseFiles)
	c.QcrSendAttemptedAt = cloneTime(i.QcrSendAttemptedAt)
	c.QcrSendFailedAt = cloneTime(i.QcrSendFailedAt)
	c.QcrEmailSentAt = cloneTime(i.QcrEmailSentAt)
	c.QcrResponseAt = cloneTime(i.QcrResponseAt)
	c.FinalResponseFiles = cloneStrings(i.FinalResponseFiles)
	c.PreviousDueDate = cloneTime(i.PreviousDueDate)
	c.PreviousPriority = clonePriority(i.PreviousPriority)
	c.UpdateDetectedAt = cloneTime(i.UpdateDetectedAt)
	return &c
}

var (
	ErrClosedMismatch = errors.New("closed_at must be set if and only if the item is closed")
	ErrQcrIsReviewer  = errors.New("qcr email coincides with a reviewer email")
	ErrSnapshotLost   = errors.New("pending update without snapshot")
)

// CheckInvariants проверяет инварианты позиции вместе с назначениями
func (i *Item) CheckInvariants(assignments []ReviewerAssignment) error {
	if (i.ClosedAt != nil) != i.Stage.Terminal() {
		return ErrClosedMismatch
	}
	if i.QcrEmail != "" {
		for _, a := range assignments {
			if strings.EqualFold(a.ReviewerEmail, i.QcrEmail) {
				return ErrQcrIsReviewer
			}
		}
	}
	if i.HasPendingUpdate && (i.UpdateType == UpdateNone || i.UpdateDetectedAt == nil) {
		return ErrSnapshotLost
	}
	return nil
}

type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentSent      AssignmentStatus = "sent"
	AssignmentResponded AssignmentStatus = "responded"
)

// Назначение рецензента (одна строка на пару позиция/рецензент)
type ReviewerAssignment struct {
	ID               int64            `db:"id" json:"id"`
	ItemID           int64            `db:"item_id" json:"itemId"`
	UserID           *int64           `db:"user_id" json:"userId"`
	ReviewerName     string           `db:"reviewer_name" json:"reviewerName"`
	ReviewerEmail    string           `db:"reviewer_email" json:"reviewerEmail"`
	Status           AssignmentStatus `db:"status" json:"status"`
	ResponseCategory string           `db:"response_category" json:"responseCategory"`
	ResponseNotes    string           `db:"response_notes" json:"responseNotes"`
	ResponseFiles    pq.StringArray   `db:"response_files" json:"responseFiles"`
	ResponseToken    string           `db:"response_token" json:"-"`
	SendAttemptedAt  *time.Time       `db:"send_attempted_at" json:"sendAttemptedAt"`
	SendFailedAt     *time.Time       `db:"send_failed_at" json:"sendFailedAt"`
	EmailSentAt      *time.Time       `db:"email_sent_at" json:"emailSentAt"`
	ResponseAt       *time.Time       `db:"response_at" json:"responseAt"`
	CreatedAt        time.Time        `db:"created_at" json:"createdAt"`
}

func (a *ReviewerAssignment) Clone() *ReviewerAssignment {
	c := *a
	c.UserID = cloneInt(a.UserID)
	c.ResponseFiles = cloneStrings(a.ResponseFiles)
	c.SendAttemptedAt = cloneTime(a.SendAttemptedAt)
	c.SendFailedAt = cloneTime(a.SendFailedAt)
	c.EmailSentAt = cloneTime(a.EmailSentAt)
	c.ResponseAt = cloneTime(a.ResponseAt)
	return &c
}

type RecipientRole string

const (
	RoleReviewer RecipientRole = "reviewer"
	RoleQcr      RecipientRole = "qcr"
)

type ReminderStage string

const (
	ReminderDueToday ReminderStage = "due_today"
	ReminderOverdue  ReminderStage = "overdue"
	ReminderManual   ReminderStage = "manual"
)

// Запись об отправленном напоминании, только добавление
type ReminderRecord struct {
	ID             int64         `db:"id" json:"id"`
	ItemID         int64         `db:"item_id" json:"itemId"`
	RecipientRole  RecipientRole `db:"recipient_role" json:"recipientRole"`
	RecipientEmail string        `db:"recipient_email" json:"recipientEmail"`
	ReminderStage  ReminderStage `db:"reminder_stage" json:"reminderStage"`
	SentAt         time.Time     `db:"sent_at" json:"sentAt"`
}

type NotificationType string

const (
	NotificationResponseReady NotificationType = "response_ready"
	NotificationSentBack      NotificationType = "sent_back"
	NotificationInfo          NotificationType = "info"
	NotificationWarning       NotificationType = "warning"
	NotificationError         NotificationType = "error"
)

// Уведомление в приложении. UserID == nil означает всех.
type Notification struct {
	ID          int64            `db:"id" json:"id"`
	UserID      *int64           `db:"user_id" json:"userId"`
	Type        NotificationType `db:"type" json:"type"`
	Title       string           `db:"title" json:"title"`
	Message     string           `db:"message" json:"message"`
	ItemID      *int64           `db:"item_id" json:"itemId"`
	ActionURL   string           `db:"action_url" json:"actionUrl"`
	ActionLabel string           `db:"action_label" json:"actionLabel"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	ReadAt      *time.Time       `db:"read_at" json:"readAt"`
}

// Запись журнала переходов
type HistoryEntry struct {
	ID        int64     `db:"id" json:"id"`
	ItemID    int64     `db:"item_id" json:"itemId"`
	Kind      string    `db:"kind" json:"kind"`
	FromStage Stage     `db:"from_stage" json:"fromStage"`
	ToStage   Stage     `db:"to_stage" json:"toStage"`
	ActorID   *int64    `db:"actor_id" json:"actorId"`
	Note      string    `db:"note" json:"note"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// Пользователь справочника
type User struct {
	ID          int64     `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"displayName"`
	Email       string    `db:"email" json:"email"`
	Role        UserRole  `db:"role" json:"role"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func clonePriority(p *Priority) *Priority {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneStrings(values pq.StringArray) pq.StringArray {
	if values == nil {
		return nil
	}
	out := make(pq.StringArray, len(values))
	copy(out, values)
	return out
}
