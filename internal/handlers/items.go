package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"rfitracker/internal/workflow"
	"rfitracker/models"
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// parsePaginationParams парсит limit и offset из query, с дефолтами и ограничениями
func parsePaginationParams(r *http.Request) PaginationParams {
	params := PaginationParams{Limit: 50}

	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 500 {
		params.Limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		params.Offset = o
	}
	return params
}

type createItemRequest struct {
	Type         models.ItemType  `json:"type"`
	Bucket       models.Bucket    `json:"bucket"`
	Identifier   string           `json:"identifier"`
	Title        string           `json:"title"`
	DueDate      *Date            `json:"dueDate"`
	DateReceived *Date            `json:"dateReceived"`
	Priority     *models.Priority `json:"priority"`
}

type patchItemRequest struct {
	Title        *string          `json:"title"`
	DueDate      *Date            `json:"dueDate"`
	ClearDueDate bool             `json:"clearDueDate"`
	DateReceived *Date            `json:"dateReceived"`
	Priority     *models.Priority `json:"priority"`
}

func (h *Handler) views(items []models.Item) []workflow.ItemView {
	out := make([]workflow.ItemView, 0, len(items))
	for i := range items {
		out = append(out, h.Svc.View(&items[i]))
	}
	return out
}

// CreateItemHandler обрабатывает POST /api/items
func (h *Handler) CreateItemHandler(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bucket := req.Bucket
	if bucket == "" {
		bucket = models.BucketGeneral
	}

	item, err := h.Svc.CreateItem(r.Context(), actor(r), workflow.NewItem{
		Type:         req.Type,
		Bucket:       bucket,
		Identifier:   strings.TrimSpace(req.Identifier),
		Title:        strings.TrimSpace(req.Title),
		DueDate:      req.DueDate.ptr(),
		DateReceived: req.DateReceived.ptr(),
		Priority:     req.Priority,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Svc.View(item))
}

// GetItemsHandler возвращает список позиций с фильтрами stage, type, bucket, pending
func (h *Handler) GetItemsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	q := r.URL.Query()

	f := workflow.ItemFilter{
		Type:   models.ItemType(q.Get("type")),
		Bucket: models.Bucket(strings.ToUpper(q.Get("bucket"))),
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	for _, s := range q["stage"] {
		st := models.Stage(s)
		if !st.Valid() {
			http.Error(w, "Invalid stage "+s, http.StatusBadRequest)
			return
		}
		f.Stages = append(f.Stages, st)
	}
	if f.Type != "" && !f.Type.Valid() {
		http.Error(w, "Invalid type", http.StatusBadRequest)
		return
	}
	if v := q.Get("pending"); v != "" {
		pending, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "Invalid pending flag", http.StatusBadRequest)
			return
		}
		f.PendingUpdate = &pending
	}

	items, err := h.Svc.ListItems(r.Context(), actor(r), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views(items))
}

// GetPendingUpdatesHandler: позиции с неразобранными обновлениями подрядчика (только admin)
func (h *Handler) GetPendingUpdatesHandler(w http.ResponseWriter, r *http.Request) {
	items, err := h.Svc.ListPendingUpdates(r.Context(), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.views(items))
}

func (h *Handler) GetItemHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	item, err := h.Svc.GetItem(r.Context(), actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Svc.View(item))
}

// EditItemHandler обрабатывает PATCH /api/items/{itemId}
func (h *Handler) EditItemHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req patchItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	item, err := h.Svc.UpdateItem(r.Context(), actor(r), id, workflow.ItemPatch{
		Title:        req.Title,
		DueDate:      req.DueDate.ptr(),
		ClearDueDate: req.ClearDueDate,
		DateReceived: req.DateReceived.ptr(),
		Priority:     req.Priority,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Svc.View(item))
}

func (h *Handler) GetItemHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	history, err := h.Svc.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type resolveRequest struct {
	Action workflow.ResolveAction `json:"action"`
	Note   string                 `json:"note"`
}

// ResolveUpdateHandler: решение администратора по обновлению подрядчика
func (h *Handler) ResolveUpdateHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.Svc.ResolveUpdate(r.Context(), actor(r), id, req.Action, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.deliverOutcome(w, r, &workflow.Outcome{Item: res.Item, Queued: res.Queued})
}

// CompleteItemHandler закрывает позицию после решения QCR
func (h *Handler) CompleteItemHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	item, err := h.Svc.Close(r.Context(), actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Svc.View(item))
}

type reopenRequest struct {
	Note string `json:"note"`
}

func (h *Handler) ReopenItemHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req reopenRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	item, err := h.Svc.Reopen(r.Context(), actor(r), id, req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Svc.View(item))
}

// IngestHandler принимает нормализованное письмо от опроса почты (только admin)
func (h *Handler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if !actor(r).IsAdmin() {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	var msg workflow.IncomingEmail
	if err := decodeJSON(w, r, &msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(msg.Subject) == "" && strings.TrimSpace(msg.Body) == "" {
		http.Error(w, "subject or body is required", http.StatusBadRequest)
		return
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = h.Now()
	}

	res, err := h.Svc.Ingest(r.Context(), msg)
	if err != nil {
		if res != nil && res.Outcome == workflow.IngestUnrecognized {
			writeJSON(w, http.StatusUnprocessableEntity, res)
			return
		}
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == workflow.IngestCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}
