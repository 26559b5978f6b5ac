package classifier

import (
	"regexp"
	"strings"
	"time"

	"rfitracker/models"
)

// Details: поля из тела письма, по которым сверяются обновления подрядчика
type Details struct {
	Title    string
	DueDate  *time.Time
	Priority *models.Priority
}

var (
	specSection = regexp.MustCompile(`(?i)Spec\s*Section[:\s\t]+([^\n\r]+)`)

	duePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Due\s*Date[:\s\t]+([A-Za-z]{3,9}\s+\d{1,2},?\s+\d{4})`),
		regexp.MustCompile(`(?i)Due\s*Date[:\s\t]+(\d{1,2}/\d{1,2}/\d{4})`),
		regexp.MustCompile(`(?i)Due\s*Date[:\s\t]+(\d{4}-\d{2}-\d{2})`),
		regexp.MustCompile(`(?i)Due[:\s\t]+([A-Za-z]{3,9}\s+\d{1,2},?\s+\d{4})`),
		regexp.MustCompile(`(?i)Due[:\s\t]+(\d{1,2}/\d{1,2}/\d{4})`),
		regexp.MustCompile(`(?i)Response\s*Due[:\s\t]+([^\n\r]+)`),
		regexp.MustCompile(`(?i)Required\s*By[:\s\t]+([^\n\r]+)`),
	}
	dateLayouts = []string{"January 2, 2006", "Jan 2, 2006", "January 2 2006", "Jan 2 2006", "1/2/2006", "2006-01-02"}

	priorityPattern = regexp.MustCompile(`(?i)Priority[:\s\t]+(High|Medium|Normal|Low|Urgent|Critical)`)
	priorityAliases = map[string]models.Priority{
		"high":     models.PriorityHigh,
		"medium":   models.PriorityMedium,
		"normal":   models.PriorityMedium,
		"low":      models.PriorityLow,
		"urgent":   models.PriorityHigh,
		"critical": models.PriorityHigh,
	}

	titlePrefix   = regexp.MustCompile(`(?i)^(re:\s*)?(fwd?:\s*)?(action required:\s*)?`)
	projectPrefix = regexp.MustCompile(`[A-Z]{2,}\s*-?\s*[\w\s]*\([^)]+\)\s*-?\s*`)
	typeAndID     = regexp.MustCompile(`(?i)(submittal|rfi)\s*#?[\d\s\-.]+`)
	actionSuffix  = regexp.MustCompile(`(?i)\s*(was assigned to you|was assigned to your role|needs your review|requires action).*$`)
)

// ParseDetails извлекает срок, приоритет и заголовок. Отсутствующие поля остаются пустыми.
func ParseDetails(subject, body string) Details {
	var d Details
	d.DueDate = parseDueDate(body)
	d.Priority = parsePriority(body)
	d.Title = parseTitle(subject, body)
	return d
}

// ParseDate разбирает дату в одном из форматов писем
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), "."))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDueDate(body string) *time.Time {
	if body == "" {
		return nil
	}
	for _, re := range duePatterns {
		m := re.FindStringSubmatch(body)
		if len(m) < 2 {
			continue
		}
		if t, ok := ParseDate(m[1]); ok {
			return &t
		}
	}
	return nil
}

func parsePriority(body string) *models.Priority {
	m := priorityPattern.FindStringSubmatch(body)
	if len(m) < 2 {
		return nil
	}
	p, ok := priorityAliases[strings.ToLower(m[1])]
	if !ok {
		return nil
	}
	return &p
}

func parseTitle(subject, body string) string {
	if m := specSection.FindStringSubmatch(body); len(m) > 1 {
		if t := strings.TrimSpace(m[1]); t != "" {
			return t
		}
	}
	title := titlePrefix.ReplaceAllString(subject, "")
	title = projectPrefix.ReplaceAllString(title, "")
	title = typeAndID.ReplaceAllString(title, "")
	title = actionSuffix.ReplaceAllString(title, "")
	return strings.Trim(title, " -–—:,")
}
