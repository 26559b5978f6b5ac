// Package classifier распознаёт RFI и Submittal по теме письма.
package classifier

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"rfitracker/models"
)

var ErrNotRecognized = errors.New("source text not recognized")

// Contractor связывает токен подрядчика с группой
type Contractor struct {
	Token  string        `koanf:"token"`
	Bucket models.Bucket `koanf:"bucket"`
}

// Result: тройка (тип, группа, идентификатор)
type Result struct {
	Type       models.ItemType
	Bucket     models.Bucket
	Identifier string
}

func (r Result) String() string {
	return fmt.Sprintf("%s %s #%s", r.Bucket.Label(), r.Type, r.Identifier)
}

var DefaultContractors = []Contractor{
	{Token: "Turner", Bucket: models.BucketTurner},
	{Token: "Mortenson", Bucket: models.BucketMortenson},
	{Token: "Faith", Bucket: models.BucketFTI},
	{Token: "FTI", Bucket: models.BucketFTI},
}

const DefaultProjectMarker = "LEB"

var (
	submittalWord = regexp.MustCompile(`(?i)\bsubmittal\b`)
	rfiWord       = regexp.MustCompile(`(?i)\brfi\b`)
)

// Идентификатор после '#' заканчивается на глаголе уведомления или переводе строки
var identifierEnd = regexp.MustCompile(`(?i)\s(?:was|needs|requires)\b|[\r\n]`)

type Classifier struct {
	marker      *regexp.Regexp
	contractors []contractorPattern
}

type contractorPattern struct {
	re     *regexp.Regexp
	bucket models.Bucket
}

// New собирает классификатор. Пустой marker заменяется на DefaultProjectMarker.
func New(marker string, contractors []Contractor) (*Classifier, error) {
	if strings.TrimSpace(marker) == "" {
		marker = DefaultProjectMarker
	}
	if contractors == nil {
		contractors = DefaultContractors
	}
	c := &Classifier{
		marker: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(marker)) + `\b`),
	}
	for _, ct := range contractors {
		token := strings.TrimSpace(ct.Token)
		if token == "" || ct.Bucket == "" {
			return nil, fmt.Errorf("classifier: contractor token and bucket are required")
		}
		c.contractors = append(c.contractors, contractorPattern{
			re:     regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(token) + `\b`),
			bucket: ct.Bucket,
		})
	}
	return c, nil
}

// Default: классификатор с маркером LEB и известными подрядчиками
func Default() *Classifier {
	c, _ := New(DefaultProjectMarker, DefaultContractors)
	return c
}

// Classify: чистая функция, без побочных эффектов
func (c *Classifier) Classify(source string) (Result, error) {
	if !c.marker.MatchString(source) {
		return Result{}, fmt.Errorf("%w: no project marker", ErrNotRecognized)
	}

	var res Result
	switch {
	case submittalWord.MatchString(source):
		res.Type = models.ItemTypeSubmittal
	case rfiWord.MatchString(source):
		res.Type = models.ItemTypeRFI
	default:
		return Result{}, fmt.Errorf("%w: no item type", ErrNotRecognized)
	}

	res.Bucket = models.BucketGeneral
	for _, p := range c.contractors {
		if p.re.MatchString(source) {
			res.Bucket = p.bucket
			break
		}
	}

	id, ok := extractIdentifier(source)
	if !ok {
		return Result{}, fmt.Errorf("%w: no identifier", ErrNotRecognized)
	}
	res.Identifier = id
	return res, nil
}

func extractIdentifier(source string) (string, bool) {
	idx := strings.Index(source, "#")
	if idx < 0 {
		return "", false
	}
	rest := source[idx+1:]
	if loc := identifierEnd.FindStringIndex(rest); loc != nil {
		rest = rest[:loc[0]]
	}
	id := strings.TrimSpace(rest)
	if id == "" {
		return "", false
	}
	return id, true
}
