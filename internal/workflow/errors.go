package workflow

import "errors"

// Все ошибки восстановимы на границе вызова; HTTP-слой переводит их в коды ответа.
var (
	ErrClassificationFailed = errors.New("classification failed")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrDuplicateReviewer    = errors.New("reviewer already assigned")
	ErrConflictsWithQcr     = errors.New("reviewer conflicts with qcr")
	ErrAlreadySent          = errors.New("email already sent")
	ErrNotYetSent           = errors.New("email not yet sent")
	ErrSendFailed           = errors.New("send failed")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrNoPendingUpdate      = errors.New("no pending update")
	ErrInvalidInput         = errors.New("invalid input")
)
