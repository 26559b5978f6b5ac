// Package duedate вычисляет сроки рецензентов и цветовую срочность.
// Используются календарные дни, без учёта выходных.
package duedate

import "time"

type Urgency string

const (
	UrgencyNone   Urgency = "none"
	UrgencyGreen  Urgency = "green"
	UrgencyYellow Urgency = "yellow"
	UrgencyRed    Urgency = "red"
)

// Offsets: смещения в днях для двух ступеней
type Offsets struct {
	ReviewerDays int `koanf:"reviewer_offset_days" json:"reviewerOffsetDays"`
	QcrDays      int `koanf:"qcr_offset_days" json:"qcrOffsetDays"`
}

// Dates: производные сроки позиции
type Dates struct {
	InitialReviewer *time.Time
	Qcr             *time.Time
}

// Day обрезает время до полуночи UTC той же календарной даты
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Compute: рецензент получает base - qcrDays, QCR получает base.
// reviewerDays на сроки не влияет, он участвует только в InsufficientWindow.
func Compute(base *time.Time, reviewerDays, qcrDays int) Dates {
	if base == nil {
		return Dates{}
	}
	qcr := Day(*base)
	ir := qcr.AddDate(0, 0, -qcrDays)
	return Dates{InitialReviewer: &ir, Qcr: &qcr}
}

// Classify определяет срочность. nearTermDays задаёт окно "жёлтого" после сегодняшнего дня (0 = только сегодня).
func Classify(due *time.Time, today time.Time, nearTermDays int) Urgency {
	if due == nil {
		return UrgencyNone
	}
	d := Day(*due)
	t := Day(today)
	switch {
	case d.Before(t):
		return UrgencyRed
	case !d.After(t.AddDate(0, 0, nearTermDays)):
		return UrgencyYellow
	default:
		return UrgencyGreen
	}
}

// InsufficientWindow: между получением и сроком меньше дней, чем нужно на обе ступени
func InsufficientWindow(received, due *time.Time, o Offsets) bool {
	if received == nil || due == nil {
		return false
	}
	return DaysBetween(*received, *due) < o.ReviewerDays+o.QcrDays
}

// DaysBetween: число календарных дней от a до b (отрицательное, если b раньше)
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
