package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rfitracker/internal/workflow"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Ограничение размера тела, чтобы избежать DoS
const maxBodyBytes = 1 << 20

// Handler оборачивает движок рецензирования для HTTP
type Handler struct {
	Svc    Service
	Logger *zap.Logger
	// Now используется для расчёта напоминаний; в тестах подменяется
	Now func() time.Time
	// ReminderWindow: сколько дней вперёд считать «сроком сегодня»
	ReminderWindow int
}

// NewHandler создает новый Handler
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Svc: svc, Logger: logger, Now: time.Now}
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON format: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor переводит ошибку движка в код ответа
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrClassificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrSendFailed):
		return http.StatusBadGateway
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrDuplicateReviewer),
		errors.Is(err, workflow.ErrConflictsWithQcr),
		errors.Is(err, workflow.ErrAlreadySent),
		errors.Is(err, workflow.ErrNotYetSent),
		errors.Is(err, workflow.ErrNoPendingUpdate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

// pathID читает положительный числовой параметр пути
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

// Date принимает "2006-01-02" либо RFC 3339
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q", s)
	}
	d.Time = t
	return nil
}

func (d *Date) ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}
