package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rfitracker/models"

	"go.uber.org/zap"
)

// Person: рецензент или QCR, заданный вручную либо через справочник
type Person struct {
	UserID *int64 `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

func (p Person) validate() error {
	if strings.TrimSpace(p.Email) == "" || !strings.Contains(p.Email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return nil
}

func (e *Engine) personFromUser(ctx context.Context, userID int64) (Person, error) {
	u, err := e.store.LookupUser(ctx, userID)
	if err != nil {
		return Person{}, fmt.Errorf("lookup user %d: %w", userID, err)
	}
	return Person{UserID: int64Ptr(u.ID), Name: u.DisplayName, Email: u.Email}, nil
}

// AddReviewer добавляет рецензента к позиции
func (e *Engine) AddReviewer(ctx context.Context, actor Actor, itemID int64, p Person) (*models.ReviewerAssignment, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	var created *models.ReviewerAssignment
	err := e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
		if !reviewersEditable(item.Stage) {
			return fmt.Errorf("%w: reviewers cannot be changed at stage %s", ErrInvalidTransition, item.Stage)
		}
		if sameEmail(p.Email, item.QcrEmail) {
			return ErrConflictsWithQcr
		}
		assignments, err := s.tx.Assignments(ctx)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			if sameEmail(a.ReviewerEmail, p.Email) {
				return ErrDuplicateReviewer
			}
		}

		a := &models.ReviewerAssignment{
			ItemID:        item.ID,
			UserID:        p.UserID,
			ReviewerName:  strings.TrimSpace(p.Name),
			ReviewerEmail: normalizeEmail(p.Email),
			Status:        models.AssignmentPending,
			CreatedAt:     e.now(),
		}
		if err := s.tx.CreateAssignment(ctx, a); err != nil {
			return err
		}
		assignments = append(assignments, *a)
		if item.InitialReviewerID == nil && p.UserID != nil {
			item.InitialReviewerID = p.UserID
		}
		if err := e.record(ctx, s, item, "reviewer_added", a.ReviewerEmail); err != nil {
			return err
		}
		if item.Stage == models.StageUnassigned && assignmentReady(item, assignments) {
			if err := e.transition(ctx, s, item, models.StageReviewerAssigned, ""); err != nil {
				return err
			}
		}
		if err := e.save(ctx, s, item); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("reviewer added", zap.Int64("item_id", itemID), zap.String("email", created.ReviewerEmail))
	return created, nil
}

func (e *Engine) AddReviewerUser(ctx context.Context, actor Actor, itemID, userID int64) (*models.ReviewerAssignment, error) {
	p, err := e.personFromUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.AddReviewer(ctx, actor, itemID, p)
}

// RemoveReviewer удаляет назначение, пока рецензенту ничего не отправлено
func (e *Engine) RemoveReviewer(ctx context.Context, actor Actor, assignmentID int64) error {
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	return e.withItem(ctx, actor, a.ItemID, func(s *txScope, item *models.Item) error {
		assignments, err := s.tx.Assignments(ctx)
		if err != nil {
			return err
		}
		var target *models.ReviewerAssignment
		rest := make([]models.ReviewerAssignment, 0, len(assignments))
		for i := range assignments {
			if assignments[i].ID == assignmentID {
				target = &assignments[i]
				continue
			}
			rest = append(rest, assignments[i])
		}
		if target == nil {
			return fmt.Errorf("assignment %d: %w", assignmentID, ErrNotFound)
		}
		if target.EmailSentAt != nil {
			return fmt.Errorf("%w: reviewer %s was already notified", ErrAlreadySent, target.ReviewerEmail)
		}
		if !reviewersEditable(item.Stage) {
			return fmt.Errorf("%w: reviewers cannot be changed at stage %s", ErrInvalidTransition, item.Stage)
		}
		if err := s.tx.DeleteAssignment(ctx, assignmentID); err != nil {
			return err
		}
		if item.InitialReviewerID != nil && target.UserID != nil && *item.InitialReviewerID == *target.UserID {
			item.InitialReviewerID = nil
			for _, r := range rest {
				if r.UserID != nil {
					item.InitialReviewerID = int64Ptr(*r.UserID)
					break
				}
			}
		}
		if err := e.record(ctx, s, item, "reviewer_removed", target.ReviewerEmail); err != nil {
			return err
		}
		switch {
		case len(rest) == 0 && item.Stage == models.StageReviewerAssigned:
			if err := e.transition(ctx, s, item, models.StageUnassigned, "no reviewers left"); err != nil {
				return err
			}
		case item.Stage == models.StageReviewerEmailSent && allResponded(rest):
			// оставшиеся уже ответили, позиция готова для QCR
			if err := e.consolidate(ctx, s, item, rest); err != nil {
				return err
			}
		}
		return e.save(ctx, s, item)
	})
}

// AssignQcr назначает QCR. QCR не может совпадать ни с одним рецензентом.
func (e *Engine) AssignQcr(ctx context.Context, actor Actor, itemID int64, p Person) (*models.Item, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	var out *models.Item
	err := e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
		if !qcrEditable(item.Stage) {
			return fmt.Errorf("%w: qcr cannot be changed at stage %s", ErrInvalidTransition, item.Stage)
		}
		assignments, err := s.tx.Assignments(ctx)
		if err != nil {
			return err
		}
		for _, a := range assignments {
			if sameEmail(a.ReviewerEmail, p.Email) {
				return ErrConflictsWithQcr
			}
		}
		item.QcrID = p.UserID
		item.QcrName = strings.TrimSpace(p.Name)
		item.QcrEmail = normalizeEmail(p.Email)
		item.QcrToken = ""
		item.QcrSendAttemptedAt = nil
		item.QcrSendFailedAt = nil
		if err := e.record(ctx, s, item, "qcr_assigned", item.QcrEmail); err != nil {
			return err
		}
		if item.Stage == models.StageUnassigned && assignmentReady(item, assignments) {
			if err := e.transition(ctx, s, item, models.StageReviewerAssigned, ""); err != nil {
				return err
			}
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

func (e *Engine) AssignQcrUser(ctx context.Context, actor Actor, itemID, userID int64) (*models.Item, error) {
	p, err := e.personFromUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.AssignQcr(ctx, actor, itemID, p)
}

func (e *Engine) ListAssignments(ctx context.Context, itemID int64) ([]models.ReviewerAssignment, error) {
	if _, err := e.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return e.store.ListAssignments(ctx, itemID)
}

// AssignmentByToken разрешает ссылку из письма рецензенту. Владелец ссылки не админ.
func (e *Engine) AssignmentByToken(ctx context.Context, token string) (*models.ReviewerAssignment, *models.Item, error) {
	if token == "" {
		return nil, nil, ErrNotFound
	}
	a, err := e.store.GetAssignmentByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	item, err := e.store.GetItem(ctx, a.ItemID)
	if err != nil {
		return nil, nil, err
	}
	return a, e.visible(Actor{}, item), nil
}

// ItemByQcrToken разрешает ссылку из письма QCR
func (e *Engine) ItemByQcrToken(ctx context.Context, token string) (*models.Item, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	item, err := e.store.GetItemByQcrToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("qcr token: %w", err)
	}
	if err != nil {
		return nil, err
	}
	return e.visible(Actor{}, item), nil
}
