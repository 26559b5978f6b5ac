package workflow

import (
	"strings"
	"time"

	"rfitracker/models"
)

// Прямые переходы. Send Back и перезапуск возвращают позицию к назначению рецензентов,
// повторное открытие ведёт из Closed назад.
var transitions = map[models.Stage][]models.Stage{
	models.StageUnassigned:        {models.StageReviewerAssigned},
	models.StageReviewerAssigned:  {models.StageReviewerEmailSent, models.StageUnassigned},
	models.StageReviewerEmailSent: {models.StageReviewerResponded, models.StageReviewerAssigned, models.StageUnassigned},
	models.StageReviewerResponded: {models.StageQcrEmailSent, models.StageReviewerAssigned, models.StageUnassigned},
	models.StageQcrEmailSent:      {models.StageQcrResponded, models.StageReviewerAssigned, models.StageUnassigned},
	models.StageQcrResponded:      {models.StageClosed, models.StageReviewerAssigned, models.StageUnassigned},
	models.StageClosed:            {models.StageQcrResponded, models.StageReviewerAssigned, models.StageUnassigned},
}

// CanTransition сообщает, разрешён ли переход from -> to
func CanTransition(from, to models.Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Этапы, на которых ещё можно менять состав рецензентов
func reviewersEditable(s models.Stage) bool {
	switch s {
	case models.StageUnassigned, models.StageReviewerAssigned, models.StageReviewerEmailSent:
		return true
	}
	return false
}

// QCR можно менять до отправки ему письма
func qcrEditable(s models.Stage) bool {
	return reviewersEditable(s) || s == models.StageReviewerResponded
}

// assignmentReady: условие Unassigned -> ReviewerAssigned
func assignmentReady(item *models.Item, assignments []models.ReviewerAssignment) bool {
	if len(assignments) == 0 || item.QcrEmail == "" {
		return false
	}
	for _, a := range assignments {
		if sameEmail(a.ReviewerEmail, item.QcrEmail) {
			return false
		}
	}
	return true
}

func allResponded(assignments []models.ReviewerAssignment) bool {
	if len(assignments) == 0 {
		return false
	}
	for _, a := range assignments {
		if a.Status != models.AssignmentResponded {
			return false
		}
	}
	return true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sameEmail(a, b string) bool {
	return normalizeEmail(a) == normalizeEmail(b)
}

// sendInFlight: попытка отправки отмечена, но ни подтверждения, ни отказа ещё нет.
// Так выглядит и отправка, прерванная сбоем процесса.
func sendInFlight(attempted, failed *time.Time, confirmed bool) bool {
	return attempted != nil && failed == nil && !confirmed
}

func beforeReviewerSend(s models.Stage) bool {
	return s == models.StageUnassigned || s == models.StageReviewerAssigned
}
