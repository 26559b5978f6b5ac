package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig: параметры сборки маршрутов
type RouterConfig struct {
	JWTSecret string
	Issuer    string
	// Metrics, если задан, замеряет запросы и публикует /metrics
	Metrics interface {
		Middleware(http.Handler) http.Handler
		Handler() http.Handler
	}
}

// NewRouter собирает маршруты API и публичные формы ответа по ссылке из письма
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	// формы по токену, без авторизации
	r.Route("/respond", func(r chi.Router) {
		r.Get("/reviewer/{token}", h.GetReviewerFormHandler)
		r.Post("/reviewer/{token}", h.SubmitReviewerFormHandler)
		r.Get("/qcr/{token}", h.GetQcrFormHandler)
		r.Post("/qcr/{token}", h.SubmitQcrFormHandler)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.PingHandler)

		r.Group(func(r chi.Router) {
			r.Use(Authenticator(cfg.JWTSecret, cfg.Issuer))

			// позиции
			r.Post("/items", h.CreateItemHandler)
			r.Get("/items", h.GetItemsHandler)
			r.Get("/items/pending-updates", h.GetPendingUpdatesHandler)
			r.Get("/items/{itemId}", h.GetItemHandler)
			r.Patch("/items/{itemId}", h.EditItemHandler)
			r.Get("/items/{itemId}/history", h.GetItemHistoryHandler)
			r.Post("/items/{itemId}/resolve", h.ResolveUpdateHandler)
			r.Post("/items/{itemId}/complete", h.CompleteItemHandler)
			r.Post("/items/{itemId}/reopen", h.ReopenItemHandler)

			// рецензенты и QCR
			r.Get("/items/{itemId}/assignments", h.GetAssignmentsHandler)
			r.Post("/items/{itemId}/reviewers", h.AddReviewerHandler)
			r.Delete("/assignments/{assignmentId}", h.RemoveReviewerHandler)
			r.Put("/items/{itemId}/qcr", h.AssignQcrHandler)
			r.Post("/items/{itemId}/send-reviewers", h.SendReviewerEmailsHandler)
			r.Post("/items/{itemId}/send-qcr", h.SendQcrEmailHandler)
			r.Post("/assignments/{assignmentId}/response", h.RecordReviewerResponseHandler)
			r.Post("/items/{itemId}/qcr-response", h.RecordQcrResponseHandler)

			// напоминания
			r.Get("/reminders", h.GetRemindersHandler)
			r.Post("/reminders/run", h.RunRemindersHandler)
			r.Post("/items/{itemId}/remind", h.SendManualReminderHandler)

			// входящая почта
			r.Post("/ingest", h.IngestHandler)

			// уведомления
			r.Get("/notifications", h.GetNotificationsHandler)
			r.Post("/notifications/read-all", h.MarkAllNotificationsReadHandler)
			r.Post("/notifications/{notificationId}/read", h.MarkNotificationReadHandler)
			r.Delete("/notifications/{notificationId}", h.DeleteNotificationHandler)
		})
	})

	return r
}
