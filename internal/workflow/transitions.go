package workflow

import (
	"context"
	"fmt"
	"strings"

	"rfitracker/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SendOptions управляет повторной отправкой и шаблоном письма
type SendOptions struct {
	Resend   bool         `json:"resend"`
	Template TemplateKind `json:"template,omitempty"`
	Note     string       `json:"note,omitempty"`
}

// Response: ответ рецензента
type Response struct {
	Category string   `json:"category"`
	Notes    string   `json:"notes"`
	Files    []string `json:"files"`
}

// QcrDecision: решение QCR
type QcrDecision struct {
	Action   models.QcrAction    `json:"action"`
	Mode     models.ResponseMode `json:"mode"`
	Category string              `json:"category"`
	Text     string              `json:"text"`
	Files    []string            `json:"files"`
	Notes    string              `json:"notes"`
}

// Outcome: результат перехода вместе с письмами, которые нужно передать в Deliver
type Outcome struct {
	Item   *models.Item `json:"item"`
	Queued []Message    `json:"queued,omitempty"`
}

type pendingSend struct {
	assignmentID int64
	msg          Message
}

// SendReviewerEmails рассылает письма рецензентам. Порядок: отметка попытки под блокировкой,
// отправка без блокировки, подтверждение под блокировкой. Ответившим повторно не пишем.
// Неподтверждённую попытку без отказа повторяет только Resend.
func (e *Engine) SendReviewerEmails(ctx context.Context, actor Actor, itemID int64, opts SendOptions) ([]SendResult, error) {
	template := opts.Template
	if template == "" {
		template = TemplateReviewerAssignment
	}

	var sends []pendingSend
	err := e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
		switch item.Stage {
		case models.StageReviewerAssigned, models.StageReviewerEmailSent:
		default:
			return fmt.Errorf("%w: cannot send reviewer emails at stage %s", ErrInvalidTransition, item.Stage)
		}
		assignments, err := s.tx.Assignments(ctx)
		if err != nil {
			return err
		}
		now := e.now()
		inFlight := 0
		for i := range assignments {
			a := &assignments[i]
			if a.Status == models.AssignmentResponded {
				continue
			}
			if a.Status == models.AssignmentSent && !opts.Resend {
				continue
			}
			if sendInFlight(a.SendAttemptedAt, a.SendFailedAt, a.Status == models.AssignmentSent) && !opts.Resend {
				inFlight++
				continue
			}
			a.SendAttemptedAt = timePtr(now)
			a.SendFailedAt = nil
			if a.ResponseToken == "" {
				a.ResponseToken = uuid.NewString()
			}
			if err := s.tx.SaveAssignment(ctx, a); err != nil {
				return err
			}
			sends = append(sends, pendingSend{
				assignmentID: a.ID,
				msg: Message{
					Template: template,
					To:       Recipient{Name: a.ReviewerName, Email: a.ReviewerEmail, Role: models.RoleReviewer},
					Item:     e.publicItem(item),
					Link:     e.link("reviewer", a.ResponseToken),
					Note:     opts.Note,
				},
			})
		}
		if len(sends) == 0 {
			if inFlight > 0 {
				return fmt.Errorf("%w: %d reviewer email(s) awaiting confirmation, resend to retry", ErrAlreadySent, inFlight)
			}
			return fmt.Errorf("%w: every reviewer has already been notified or responded", ErrAlreadySent)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]SendResult, 0, len(sends))
	var delivered, failed []int64
	for _, ps := range sends {
		res := SendResult{AssignmentID: ps.assignmentID, Recipient: ps.msg.To, Success: true}
		if err := e.sender.Send(ctx, ps.msg); err != nil {
			failed = append(failed, ps.assignmentID)
			res.Success = false
			res.Error = err.Error()
			e.logger.Warn("reviewer email failed",
				zap.Int64("item_id", itemID),
				zap.String("to", ps.msg.To.Email),
				zap.Error(err),
			)
		} else {
			delivered = append(delivered, ps.assignmentID)
		}
		e.observer.EmailSent(template, res.Success)
		results = append(results, res)
	}

	err = e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
		return e.confirmReviewerSends(ctx, s, item, delivered, failed, template)
	})
	if err != nil {
		return results, fmt.Errorf("confirm reviewer emails: %w", err)
	}
	if len(delivered) == 0 {
		return results, fmt.Errorf("%w: no reviewer email was delivered", ErrSendFailed)
	}
	return results, nil
}

func (e *Engine) confirmReviewerSends(ctx context.Context, s *txScope, item *models.Item, delivered, failed []int64, template TemplateKind) error {
	assignments, err := s.tx.Assignments(ctx)
	if err != nil {
		return err
	}
	outcome := make(map[int64]bool, len(delivered)+len(failed))
	for _, id := range delivered {
		outcome[id] = true
	}
	for _, id := range failed {
		outcome[id] = false
	}
	now := e.now()
	confirmed := 0
	for i := range assignments {
		a := &assignments[i]
		ok, sent := outcome[a.ID]
		// назначение могли удалить или ответ мог прийти между фазами
		if !sent || a.Status == models.AssignmentResponded {
			continue
		}
		if !ok {
			if a.Status == models.AssignmentPending {
				a.SendFailedAt = timePtr(now)
				if err := s.tx.SaveAssignment(ctx, a); err != nil {
					return err
				}
			}
			continue
		}
		a.EmailSentAt = timePtr(now)
		a.SendFailedAt = nil
		a.Status = models.AssignmentSent
		if err := s.tx.SaveAssignment(ctx, a); err != nil {
			return err
		}
		confirmed++
	}
	if confirmed == 0 {
		return nil
	}
	if err := e.record(ctx, s, item, "reviewer_email_sent", fmt.Sprintf("%s to %d reviewer(s)", template, confirmed)); err != nil {
		return err
	}
	if item.Stage == models.StageReviewerAssigned {
		if err := e.transition(ctx, s, item, models.StageReviewerEmailSent, ""); err != nil {
			return err
		}
	}
	return e.save(ctx, s, item)
}

// RecordReviewerResponse фиксирует ответ рецензента. Когда ответили все, позиция готова для QCR.
func (e *Engine) RecordReviewerResponse(ctx context.Context, actor Actor, assignmentID int64, r Response) (*Outcome, error) {
	if strings.TrimSpace(r.Category) == "" {
		return nil, fmt.Errorf("%w: response category is required", ErrInvalidInput)
	}
	a, err := e.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{}
	err = e.withItem(ctx, actor, a.ItemID, func(s *txScope, item *models.Item) error {
		assignments, err := s.tx.Assignments(ctx)
		if err != nil {
			return err
		}
		var target *models.ReviewerAssignment
		for i := range assignments {
			if assignments[i].ID == assignmentID {
				target = &assignments[i]
			}
		}
		if target == nil {
			return fmt.Errorf("assignment %d: %w", assignmentID, ErrNotFound)
		}
		// email_sent_at прошлого круга остаётся после Send Back, поэтому смотрим на статус
		if target.EmailSentAt == nil || target.Status == models.AssignmentPending || beforeReviewerSend(item.Stage) {
			return fmt.Errorf("%w: reviewer %s has not been notified", ErrNotYetSent, target.ReviewerEmail)
		}
		if item.Stage != models.StageReviewerEmailSent {
			return fmt.Errorf("%w: reviewer response at stage %s", ErrInvalidTransition, item.Stage)
		}
		if target.Status == models.AssignmentResponded {
			return fmt.Errorf("%w: reviewer %s already responded", ErrInvalidTransition, target.ReviewerEmail)
		}

		target.Status = models.AssignmentResponded
		target.ResponseCategory = strings.TrimSpace(r.Category)
		target.ResponseNotes = r.Notes
		target.ResponseFiles = pq.StringArray(r.Files)
		target.ResponseAt = timePtr(e.now())
		if err := s.tx.SaveAssignment(ctx, target); err != nil {
			return err
		}
		if err := e.record(ctx, s, item, "reviewer_responded", target.ReviewerEmail); err != nil {
			return err
		}
		if allResponded(assignments) {
			if err := e.consolidate(ctx, s, item, assignments); err != nil {
				return err
			}
			if item.QcrEmail != "" {
				out.Queued = append(out.Queued, Message{
					Template: TemplateQcrAssignment,
					To:       Recipient{Name: item.QcrName, Email: item.QcrEmail, Role: models.RoleQcr},
					Item:     e.publicItem(item),
				})
			}
		}
		if err := e.save(ctx, s, item); err != nil {
			return err
		}
		out.Item = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Item = e.visible(actor, out.Item)
	return out, nil
}

// RecordReviewerResponseByToken: ответ по ссылке из письма
func (e *Engine) RecordReviewerResponseByToken(ctx context.Context, token string, r Response) (*Outcome, error) {
	a, _, err := e.AssignmentByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return e.RecordReviewerResponse(ctx, Actor{UserID: derefID(a.UserID), Email: a.ReviewerEmail, Role: models.UserRoleUser}, a.ID, r)
}

// consolidate сводит ответы рецензентов в позицию и переводит её в ReviewerResponded.
// Категория сохраняется только при единогласии, иначе решает QCR.
func (e *Engine) consolidate(ctx context.Context, s *txScope, item *models.Item, assignments []models.ReviewerAssignment) error {
	category := ""
	var notes []string
	var files pq.StringArray
	seen := map[string]bool{}
	for i, a := range assignments {
		if i == 0 {
			category = a.ResponseCategory
		} else if !strings.EqualFold(category, a.ResponseCategory) {
			category = ""
		}
		if strings.TrimSpace(a.ResponseNotes) != "" {
			if len(assignments) == 1 {
				notes = append(notes, a.ResponseNotes)
			} else {
				name := a.ReviewerName
				if name == "" {
					name = a.ReviewerEmail
				}
				notes = append(notes, fmt.Sprintf("%s: %s", name, a.ResponseNotes))
			}
		}
		for _, f := range a.ResponseFiles {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	if len(assignments) == 1 {
		category = assignments[0].ResponseCategory
	}
	item.ResponseCategory = category
	item.ResponseText = strings.Join(notes, "\n\n")
	item.ResponseFiles = files
	if err := e.transition(ctx, s, item, models.StageReviewerResponded, "all reviewers responded"); err != nil {
		return err
	}
	if item.QcrID != nil {
		if err := e.notify(ctx, s, models.Notification{
			UserID:      int64Ptr(*item.QcrID),
			Type:        models.NotificationInfo,
			Title:       fmt.Sprintf("Ready for QC: %s %s", item.Type, item.Identifier),
			Message:     fmt.Sprintf("All reviewers responded to %q.", displayTitle(item)),
			ItemID:      int64Ptr(item.ID),
			ActionURL:   fmt.Sprintf("/api/items/%d", item.ID),
			ActionLabel: "Review",
		}); err != nil {
			return err
		}
	}
	return nil
}

// SendQcrEmail отправляет письмо QCR по той же трёхфазной схеме
func (e *Engine) SendQcrEmail(ctx context.Context, actor Actor, itemID int64, opts SendOptions) (SendResult, error) {
	template := opts.Template
	if template == "" {
		template = TemplateQcrAssignment
	}
	var msg Message
	err := e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
		switch item.Stage {
		case models.StageReviewerResponded:
		case models.StageQcrEmailSent:
			if !opts.Resend {
				return fmt.Errorf("%w: qcr already notified", ErrAlreadySent)
			}
		default:
			return fmt.Errorf("%w: cannot send qcr email at stage %s", ErrInvalidTransition, item.Stage)
		}
		if item.QcrEmail == "" {
			return fmt.Errorf("%w: no qcr assigned", ErrInvalidInput)
		}
		if item.QcrEmailSentAt != nil && !opts.Resend {
			return fmt.Errorf("%w: qcr already notified", ErrAlreadySent)
		}
		if sendInFlight(item.QcrSendAttemptedAt, item.QcrSendFailedAt, item.QcrEmailSentAt != nil) && !opts.Resend {
			return fmt.Errorf("%w: qcr email awaiting confirmation, resend to retry", ErrAlreadySent)
		}
		item.QcrSendAttemptedAt = timePtr(e.now())
		item.QcrSendFailedAt = nil
		if item.QcrToken == "" {
			item.QcrToken = uuid.NewString()
		}
		if err := e.save(ctx, s, item); err != nil {
			return err
		}
		msg = Message{
			Template: template,
			To:       Recipient{Name: item.QcrName, Email: item.QcrEmail, Role: models.RoleQcr},
			Item:     e.publicItem(item),
			Link:     e.link("qcr", item.QcrToken),
			Note:     opts.Note,
		}
		return nil
	})
	if err != nil {
		return SendResult{}, err
	}

	res := SendResult{Recipient: msg.To, Success: true}
	sendErr := e.sender.Send(ctx, msg)
	e.observer.EmailSent(template, sendErr == nil)
	if sendErr != nil {
		res.Success = false
		res.Error = sendErr.Error()
		e.logger.Warn("qcr email failed", zap.Int64("item_id", itemID), zap.String("to", msg.To.Email), zap.Error(sendErr))
		err = e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
			if item.QcrEmailSentAt != nil {
				return nil
			}
			item.QcrSendFailedAt = timePtr(e.now())
			return e.save(ctx, s, item)
		})
		if err != nil {
			e.logger.Error("mark qcr send failure", zap.Int64("item_id", itemID), zap.Error(err))
		}
		return res, fmt.Errorf("%w: %v", ErrSendFailed, sendErr)
	}

	err = e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
		if item.Stage != models.StageReviewerResponded && item.Stage != models.StageQcrEmailSent {
			return nil
		}
		item.QcrEmailSentAt = timePtr(e.now())
		item.QcrSendFailedAt = nil
		if err := e.record(ctx, s, item, "qcr_email_sent", string(template)); err != nil {
			return err
		}
		if item.Stage == models.StageReviewerResponded {
			if err := e.transition(ctx, s, item, models.StageQcrEmailSent, ""); err != nil {
				return err
			}
		}
		return e.save(ctx, s, item)
	})
	if err != nil {
		return res, fmt.Errorf("confirm qcr email: %w", err)
	}
	return res, nil
}

// RecordQcrResponse фиксирует решение QCR. Send Back возвращает позицию рецензентам.
func (e *Engine) RecordQcrResponse(ctx context.Context, actor Actor, itemID int64, d QcrDecision) (*Outcome, error) {
	switch d.Action {
	case models.QcrActionApprove, models.QcrActionModify:
		if d.Mode == "" {
			d.Mode = models.ResponseModeKeep
		}
	case models.QcrActionSendBack:
		if strings.TrimSpace(d.Notes) == "" {
			return nil, fmt.Errorf("%w: notes are required to send back", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: unknown qcr action %q", ErrInvalidInput, d.Action)
	}

	out := &Outcome{}
	err := e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
		if item.Stage != models.StageQcrEmailSent {
			return fmt.Errorf("%w: qcr response at stage %s", ErrInvalidTransition, item.Stage)
		}
		assignments, err := s.tx.Assignments(ctx)
		if err != nil {
			return err
		}
		now := e.now()
		item.QcrAction = d.Action
		item.QcrNotes = d.Notes
		item.QcrResponseAt = timePtr(now)

		if d.Action.Finalizes() {
			if err := applyFinalResponse(item, d); err != nil {
				return err
			}
			if err := e.transition(ctx, s, item, models.StageQcrResponded, string(d.Action)); err != nil {
				return err
			}
			if err := e.notify(ctx, s, models.Notification{
				Type:        models.NotificationResponseReady,
				Title:       fmt.Sprintf("Response Ready: %s %s", item.Type, item.Identifier),
				Message:     fmt.Sprintf("QC review complete. The response for %q is ready to be sent to the contractor. Final category: %s", displayTitle(item), item.FinalResponseCategory),
				ItemID:      int64Ptr(item.ID),
				ActionURL:   fmt.Sprintf("/api/items/%d/complete", item.ID),
				ActionLabel: "Mark Complete",
			}); err != nil {
				return err
			}
			for _, a := range assignments {
				out.Queued = append(out.Queued, Message{
					Template: TemplateResponseReady,
					To:       Recipient{Name: a.ReviewerName, Email: a.ReviewerEmail, Role: models.RoleReviewer},
					Item:     e.publicItem(item),
					Note:     d.Notes,
				})
			}
		} else {
			item.QcrResponseMode = ""
			if err := e.transition(ctx, s, item, models.StageQcrResponded, string(d.Action)); err != nil {
				return err
			}
			if err := e.sendBack(ctx, s, item, assignments); err != nil {
				return err
			}
			for _, a := range assignments {
				out.Queued = append(out.Queued, Message{
					Template: TemplateSentBack,
					To:       Recipient{Name: a.ReviewerName, Email: a.ReviewerEmail, Role: models.RoleReviewer},
					Item:     e.publicItem(item),
					Note:     d.Notes,
				})
			}
		}
		if err := e.save(ctx, s, item); err != nil {
			return err
		}
		out.Item = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("qcr responded", zap.Int64("item_id", itemID), zap.String("action", string(d.Action)))
	out.Item = e.visible(actor, out.Item)
	return out, nil
}

// RecordQcrResponseByToken: решение QCR по ссылке из письма
func (e *Engine) RecordQcrResponseByToken(ctx context.Context, token string, d QcrDecision) (*Outcome, error) {
	item, err := e.ItemByQcrToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return e.RecordQcrResponse(ctx, Actor{UserID: derefID(item.QcrID), Email: item.QcrEmail, Role: models.UserRoleUser}, item.ID, d)
}

func applyFinalResponse(item *models.Item, d QcrDecision) error {
	category := strings.TrimSpace(d.Category)
	if category == "" {
		category = item.ResponseCategory
	}
	if category == "" {
		return fmt.Errorf("%w: final response category is required", ErrInvalidInput)
	}
	item.QcrResponseMode = d.Mode
	item.FinalResponseCategory = category
	switch d.Mode {
	case models.ResponseModeTweak, models.ResponseModeRevise:
		item.FinalResponseText = d.Text
	default:
		item.FinalResponseText = item.ResponseText
	}
	if len(d.Files) > 0 {
		item.FinalResponseFiles = pq.StringArray(d.Files)
	} else {
		item.FinalResponseFiles = append(pq.StringArray(nil), item.ResponseFiles...)
	}
	return nil
}

// sendBack сбрасывает ответы рецензентов и возвращает позицию в ReviewerAssigned
func (e *Engine) sendBack(ctx context.Context, s *txScope, item *models.Item, assignments []models.ReviewerAssignment) error {
	if err := resetAssignments(ctx, s.tx, assignments); err != nil {
		return err
	}
	clearReviewOutcome(item)
	if err := e.transition(ctx, s, item, models.StageReviewerAssigned, "sent back"); err != nil {
		return err
	}
	for _, a := range assignments {
		if a.UserID == nil {
			continue
		}
		if err := e.notify(ctx, s, models.Notification{
			UserID:  int64Ptr(*a.UserID),
			Type:    models.NotificationSentBack,
			Title:   fmt.Sprintf("Sent Back: %s %s", item.Type, item.Identifier),
			Message: fmt.Sprintf("The item %q has been sent back to the reviewer for revisions.", displayTitle(item)),
			ItemID:  int64Ptr(item.ID),
		}); err != nil {
			return err
		}
	}
	return nil
}

// resetAssignments возвращает назначения в pending. email_sent_at остаётся для истории.
func resetAssignments(ctx context.Context, tx Tx, assignments []models.ReviewerAssignment) error {
	for i := range assignments {
		a := &assignments[i]
		a.Status = models.AssignmentPending
		a.ResponseCategory = ""
		a.ResponseNotes = ""
		a.ResponseFiles = nil
		a.ResponseAt = nil
		a.SendAttemptedAt = nil
		a.SendFailedAt = nil
		if err := tx.SaveAssignment(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// clearReviewOutcome стирает ответ рецензентов и итог QCR текущего круга
func clearReviewOutcome(item *models.Item) {
	item.ResponseCategory = ""
	item.ResponseText = ""
	item.ResponseFiles = nil
	item.QcrEmailSentAt = nil
	item.QcrSendAttemptedAt = nil
	item.QcrSendFailedAt = nil
	item.QcrResponseAt = nil
	item.FinalResponseCategory = ""
	item.FinalResponseText = ""
	item.FinalResponseFiles = nil
}

// Close закрывает позицию с окончательным ответом
func (e *Engine) Close(ctx context.Context, actor Actor, itemID int64) (*models.Item, error) {
	var out *models.Item
	err := e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
		if item.Stage != models.StageQcrResponded || !item.QcrAction.Finalizes() || item.FinalResponseCategory == "" {
			return fmt.Errorf("%w: item has no final response", ErrInvalidTransition)
		}
		if err := e.transition(ctx, s, item, models.StageClosed, ""); err != nil {
			return err
		}
		item.ClosedAt = timePtr(e.now())
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

// Reopen: ручное повторное открытие администратором
func (e *Engine) Reopen(ctx context.Context, actor Actor, itemID int64, note string) (*models.Item, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var out *models.Item
	err := e.withItem(ctx, actor, itemID, func(s *txScope, item *models.Item) error {
		if item.Stage != models.StageClosed {
			return fmt.Errorf("%w: item is not closed", ErrInvalidTransition)
		}
		if err := e.transition(ctx, s, item, models.StageQcrResponded, note); err != nil {
			return err
		}
		item.ClosedAt = nil
		if err := e.save(ctx, s, item); err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Deliver отправляет отложенные письма. Письма рецензентам и QCR проходят через
// SendReviewerEmails и SendQcrEmail, чтобы отметки отправки оставались согласованными.
func (e *Engine) Deliver(ctx context.Context, queued []Message) []SendResult {
	var results []SendResult
	reviewerDone := map[int64]bool{}
	qcrDone := map[int64]bool{}
	for _, msg := range queued {
		switch msg.Template {
		case TemplateReviewerAssignment, TemplateSentBack:
			if reviewerDone[msg.Item.ID] {
				continue
			}
			reviewerDone[msg.Item.ID] = true
			res, err := e.SendReviewerEmails(ctx, SystemActor, msg.Item.ID, SendOptions{
				Template: msg.Template,
				Note:     msg.Note,
			})
			results = append(results, res...)
			if err != nil && len(res) == 0 {
				results = append(results, SendResult{Recipient: msg.To, Error: err.Error()})
			}
		case TemplateQcrAssignment:
			if qcrDone[msg.Item.ID] {
				continue
			}
			qcrDone[msg.Item.ID] = true
			res, err := e.SendQcrEmail(ctx, SystemActor, msg.Item.ID, SendOptions{Note: msg.Note})
			if err != nil && res.Recipient.Email == "" {
				res = SendResult{Recipient: msg.To, Error: err.Error()}
			}
			results = append(results, res)
		default:
			res := SendResult{Recipient: msg.To, Success: true}
			if err := e.sender.Send(ctx, msg); err != nil {
				res.Success = false
				res.Error = err.Error()
				e.logger.Warn("queued email failed",
					zap.String("template", string(msg.Template)),
					zap.String("to", msg.To.Email),
					zap.Error(err),
				)
			}
			e.observer.EmailSent(msg.Template, res.Success)
			results = append(results, res)
		}
	}
	return results
}

func displayTitle(item *models.Item) string {
	if item.Title != "" {
		return item.Title
	}
	return item.Identifier
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

