package handlers

import (
	"net/http"
	"strconv"

	"rfitracker/internal/workflow"
	"rfitracker/models"

	"github.com/go-chi/chi/v5"
)

// transitionResponse: позиция после перехода и итог доставки писем из очереди
type transitionResponse struct {
	Item      workflow.ItemView     `json:"item"`
	Delivered []workflow.SendResult `json:"delivered,omitempty"`
}

// personRequest: либо userId из справочника, либо имя и email
type personRequest struct {
	UserID *int64 `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// deliverOutcome отправляет письма из очереди и отвечает состоянием позиции после доставки
func (h *Handler) deliverOutcome(w http.ResponseWriter, r *http.Request, out *workflow.Outcome) {
	resp := transitionResponse{Item: h.Svc.View(out.Item)}
	if len(out.Queued) > 0 {
		resp.Delivered = h.Svc.Deliver(r.Context(), out.Queued)
		if item, err := h.Svc.GetItem(r.Context(), actor(r), out.Item.ID); err == nil {
			resp.Item = h.Svc.View(item)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetAssignmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := h.Svc.GetItem(r.Context(), actor(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	assignments, err := h.Svc.ListAssignments(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

// AddReviewerHandler обрабатывает POST /api/items/{itemId}/reviewers
func (h *Handler) AddReviewerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req personRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var a *models.ReviewerAssignment
	if req.UserID != nil && req.Email == "" {
		a, err = h.Svc.AddReviewerUser(r.Context(), actor(r), id, *req.UserID)
	} else {
		a, err = h.Svc.AddReviewer(r.Context(), actor(r), id, workflow.Person(req))
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) RemoveReviewerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "assignmentId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Svc.RemoveReviewer(r.Context(), actor(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AssignQcrHandler обрабатывает PUT /api/items/{itemId}/qcr
func (h *Handler) AssignQcrHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req personRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var item *models.Item
	if req.UserID != nil && req.Email == "" {
		item, err = h.Svc.AssignQcrUser(r.Context(), actor(r), id, *req.UserID)
	} else {
		item, err = h.Svc.AssignQcr(r.Context(), actor(r), id, workflow.Person(req))
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Svc.View(item))
}

func (h *Handler) sendOptions(w http.ResponseWriter, r *http.Request) (workflow.SendOptions, bool) {
	var opts workflow.SendOptions
	if r.ContentLength == 0 {
		return opts, true
	}
	if err := decodeJSON(w, r, &opts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return opts, false
	}
	return opts, true
}

// SendReviewerEmailsHandler рассылает письма рецензентам. При частичном отказе 200 с результатами.
func (h *Handler) SendReviewerEmailsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts, ok := h.sendOptions(w, r)
	if !ok {
		return
	}
	results, err := h.Svc.SendReviewerEmails(r.Context(), actor(r), id, opts)
	if err != nil {
		if results != nil && statusFor(err) == http.StatusBadGateway {
			writeJSON(w, http.StatusBadGateway, results)
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) SendQcrEmailHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts, ok := h.sendOptions(w, r)
	if !ok {
		return
	}
	result, err := h.Svc.SendQcrEmail(r.Context(), actor(r), id, opts)
	if err != nil {
		if statusFor(err) == http.StatusBadGateway {
			writeJSON(w, http.StatusBadGateway, result)
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RecordReviewerResponseHandler: ответ рецензента, введённый в приложении
func (h *Handler) RecordReviewerResponseHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "assignmentId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var resp workflow.Response
	if err := decodeJSON(w, r, &resp); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := h.Svc.RecordReviewerResponse(r.Context(), actor(r), id, resp)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.deliverOutcome(w, r, out)
}

func (h *Handler) RecordQcrResponseHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var d workflow.QcrDecision
	if err := decodeJSON(w, r, &d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := h.Svc.RecordQcrResponse(r.Context(), actor(r), id, d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.deliverOutcome(w, r, out)
}

// reviewerForm: то, что видит рецензент по ссылке из письма
type reviewerForm struct {
	Assignment models.ReviewerAssignment `json:"assignment"`
	Item       workflow.ItemView         `json:"item"`
}

// GetReviewerFormHandler обрабатывает GET /respond/reviewer/{token}
func (h *Handler) GetReviewerFormHandler(w http.ResponseWriter, r *http.Request) {
	a, item, err := h.Svc.AssignmentByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewerForm{Assignment: *a, Item: h.Svc.View(item)})
}

func (h *Handler) SubmitReviewerFormHandler(w http.ResponseWriter, r *http.Request) {
	var resp workflow.Response
	if err := decodeJSON(w, r, &resp); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := h.Svc.RecordReviewerResponseByToken(r.Context(), chi.URLParam(r, "token"), resp)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.deliverOutcome(w, r, out)
}

// qcrForm: позиция и сведённый ответ рецензентов для QCR
type qcrForm struct {
	Item        workflow.ItemView           `json:"item"`
	Assignments []models.ReviewerAssignment `json:"assignments"`
}

// GetQcrFormHandler обрабатывает GET /respond/qcr/{token}
func (h *Handler) GetQcrFormHandler(w http.ResponseWriter, r *http.Request) {
	item, err := h.Svc.ItemByQcrToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	assignments, err := h.Svc.ListAssignments(r.Context(), item.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qcrForm{Item: h.Svc.View(item), Assignments: assignments})
}

func (h *Handler) SubmitQcrFormHandler(w http.ResponseWriter, r *http.Request) {
	var d workflow.QcrDecision
	if err := decodeJSON(w, r, &d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := h.Svc.RecordQcrResponseByToken(r.Context(), chi.URLParam(r, "token"), d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.deliverOutcome(w, r, out)
}

// GetRemindersHandler: текущий набор напоминаний, фильтры role, mode, window
func (h *Handler) GetRemindersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window := h.ReminderWindow
	if v := q.Get("window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid window", http.StatusBadRequest)
			return
		}
		window = n
	}
	role := models.RecipientRole(q.Get("role"))
	if role != "" && role != models.RoleReviewer && role != models.RoleQcr {
		http.Error(w, "Invalid role", http.StatusBadRequest)
		return
	}
	mode := workflow.ReminderMode(q.Get("mode"))
	if mode != "" && mode != workflow.ReminderSingle && mode != workflow.ReminderMulti {
		http.Error(w, "Invalid mode", http.StatusBadRequest)
		return
	}

	set, err := h.Svc.PendingReminders(r.Context(), h.Now(), window)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set.Filter(role, mode))
}

// RunRemindersHandler запускает рассылку вне расписания (только admin)
func (h *Handler) RunRemindersHandler(w http.ResponseWriter, r *http.Request) {
	if !actor(r).IsAdmin() {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	report, err := h.Svc.SendReminders(r.Context(), h.Now(), h.ReminderWindow)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) SendManualReminderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	results, err := h.Svc.SendManualReminder(r.Context(), actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) GetNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	notes, err := h.Svc.ListNotifications(r.Context(), actor(r), unread)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (h *Handler) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "notificationId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Svc.MarkNotificationRead(r.Context(), actor(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MarkAllNotificationsReadHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.MarkAllNotificationsRead(r.Context(), actor(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteNotificationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "notificationId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Svc.DeleteNotification(r.Context(), actor(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
