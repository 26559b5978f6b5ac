package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rfitracker/internal/classifier"
	"rfitracker/models"

	"go.uber.org/zap"
)

// IncomingEmail: нормализованное письмо от опроса почты
type IncomingEmail struct {
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
	MessageID  string    `json:"messageId"`
}

type IngestOutcome string

const (
	IngestCreated      IngestOutcome = "created"
	IngestReconciled   IngestOutcome = "reconciled"
	IngestUnrecognized IngestOutcome = "unrecognized"
	IngestDuplicate    IngestOutcome = "duplicate"
)

type IngestResult struct {
	Outcome    IngestOutcome     `json:"outcome"`
	ItemID     int64             `json:"itemId,omitempty"`
	UpdateKind models.UpdateKind `json:"updateKind,omitempty"`
	Identity   classifier.Result `json:"identity"`
}

// Ingest классифицирует письмо и создаёт позицию либо сверяет существующую.
// Нераспознанное письмо возвращает ErrClassificationFailed вместе с результатом.
func (e *Engine) Ingest(ctx context.Context, msg IncomingEmail) (*IngestResult, error) {
	if msg.MessageID != "" {
		seen, err := e.store.EmailProcessed(ctx, msg.MessageID)
		if err != nil {
			return nil, fmt.Errorf("check email log: %w", err)
		}
		if seen {
			return &IngestResult{Outcome: IngestDuplicate}, nil
		}
	}

	// распознаём только по теме; тело пересланного письма не источник идентичности
	id, err := e.classifier.Classify(msg.Subject)
	if err != nil {
		e.logger.Info("unrecognized email", zap.String("subject", msg.Subject), zap.String("message_id", msg.MessageID))
		if markErr := e.markProcessed(ctx, msg, nil); markErr != nil {
			return nil, markErr
		}
		return &IngestResult{Outcome: IngestUnrecognized}, fmt.Errorf("%w: %v", ErrClassificationFailed, err)
	}

	details := classifier.ParseDetails(msg.Subject, msg.Body)
	res := &IngestResult{Identity: id}

	existing, err := e.store.FindItem(ctx, id.Type, id.Bucket, id.Identifier)
	switch {
	case errors.Is(err, ErrNotFound):
		received := msg.ReceivedAt
		if received.IsZero() {
			received = e.now()
		}
		item, err := e.CreateItem(ctx, SystemActor, NewItem{
			Type:          id.Type,
			Bucket:        id.Bucket,
			Identifier:    id.Identifier,
			Title:         details.Title,
			DueDate:       details.DueDate,
			DateReceived:  &received,
			Priority:      details.Priority,
			SourceSubject: msg.Subject,
			SourceEmailID: msg.MessageID,
		})
		if err != nil {
			return nil, err
		}
		res.Outcome = IngestCreated
		res.ItemID = item.ID
	case err != nil:
		return nil, fmt.Errorf("find item %s: %w", id, err)
	default:
		in := IncomingFields{DueDate: details.DueDate, Priority: details.Priority}
		if details.Title != "" {
			title := details.Title
			in.Title = &title
		}
		kind, err := e.Reconcile(ctx, SystemActor, existing.ID, in)
		if err != nil {
			return nil, err
		}
		res.Outcome = IngestReconciled
		res.ItemID = existing.ID
		res.UpdateKind = kind
	}

	if err := e.markProcessed(ctx, msg, &res.ItemID); err != nil {
		return nil, err
	}
	e.logger.Info("email ingested",
		zap.String("outcome", string(res.Outcome)),
		zap.Int64("item_id", res.ItemID),
		zap.String("identity", id.String()),
	)
	return res, nil
}

func (e *Engine) markProcessed(ctx context.Context, msg IncomingEmail, itemID *int64) error {
	if msg.MessageID == "" {
		return nil
	}
	if err := e.store.MarkEmailProcessed(ctx, msg.MessageID, itemID, e.now()); err != nil {
		return fmt.Errorf("mark email processed: %w", err)
	}
	return nil
}
