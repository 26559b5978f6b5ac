// Package mailer реализует отправку писем движка: по SMTP или в журнал.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strings"
	"time"

	"rfitracker/internal/workflow"
	"rfitracker/models"

	"go.uber.org/zap"
)

type Config struct {
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

func (c Config) Enabled() bool {
	return c.Host != "" && c.From != ""
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender отправляет HTML-письма через SMTP-сервер
type SMTPSender struct {
	cfg      Config
	logger   *zap.Logger
	sendMail sendMailFunc
}

func NewSMTPSender(cfg Config, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	return &SMTPSender{cfg: cfg, logger: logger, sendMail: smtp.SendMail}
}

func (s *SMTPSender) Send(ctx context.Context, msg workflow.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To.Email == "" {
		return fmt.Errorf("mailer: empty recipient for %s", msg.Template)
	}
	subject, body, err := Render(msg)
	if err != nil {
		return err
	}
	raw := []byte("Subject: " + subject + "\r\n" +
		"From: " + s.cfg.From + "\r\n" +
		"To: " + msg.To.Email + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
		body)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	if err := s.sendMail(addr, auth, s.cfg.From, []string{msg.To.Email}, raw); err != nil {
		return fmt.Errorf("mailer: send %s to %s: %w", msg.Template, msg.To.Email, err)
	}
	s.logger.Info("email sent",
		zap.String("template", string(msg.Template)),
		zap.String("to", msg.To.Email),
		zap.Int64("item_id", msg.Item.ID),
	)
	return nil
}

// LogSender только пишет письмо в журнал. Используется, когда SMTP не настроен.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg workflow.Message) error {
	subject, _, err := Render(msg)
	if err != nil {
		return err
	}
	s.logger.Info("email (not sent, smtp disabled)",
		zap.String("template", string(msg.Template)),
		zap.String("to", msg.To.Email),
		zap.String("subject", subject),
		zap.String("link", msg.Link),
	)
	return nil
}

var bodies = map[workflow.TemplateKind]*template.Template{
	workflow.TemplateReviewerAssignment: mustBody(`<p>Hello {{.Name}},</p>
<p>You have been assigned to review <strong>{{.Item.Type}} {{.Item.Identifier}}</strong>{{with .Item.Title}}: {{.}}{{end}}.</p>
<p>Your response is due <strong>{{.ReviewerDue}}</strong>.</p>
{{with .Note}}<p>{{.}}</p>{{end}}
{{with .Link}}<p><a href="{{.}}">Submit your response</a></p>{{end}}`),
	workflow.TemplateQcrAssignment: mustBody(`<p>Hello {{.Name}},</p>
<p>The reviewer response for <strong>{{.Item.Type}} {{.Item.Identifier}}</strong> is ready for quality control.</p>
<p>Suggested category: {{if .Item.ResponseCategory}}{{.Item.ResponseCategory}}{{else}}not unanimous{{end}}</p>
<p>Your decision is due <strong>{{.QcrDue}}</strong>. Choose Approve, Modify or Send Back.</p>
{{with .Link}}<p><a href="{{.}}">Open QC form</a></p>{{end}}`),
	workflow.TemplateReminder: mustBody(`<p>Hello {{.Name}},</p>
<p>{{if eq .Stage "overdue"}}Your response is <strong>overdue</strong>{{else if eq .Stage "due_today"}}Your response is due <strong>today</strong>{{else}}This is a reminder{{end}}
for <strong>{{.Item.Type}} {{.Item.Identifier}}</strong>{{with .Item.Title}}: {{.}}{{end}}.</p>
{{with .Link}}<p><a href="{{.}}">Respond now</a></p>{{end}}`),
	workflow.TemplateSentBack: mustBody(`<p>Hello {{.Name}},</p>
<p>Your response for <strong>{{.Item.Type}} {{.Item.Identifier}}</strong> has been returned for revision by QC.</p>
<p>QC notes: {{.Note}}</p>
{{with .Link}}<p><a href="{{.}}">Revise your response</a></p>{{end}}`),
	workflow.TemplateResponseReady: mustBody(`<p>Hello {{.Name}},</p>
<p>Your response for <strong>{{.Item.Type}} {{.Item.Identifier}}</strong> was {{if eq .Item.QcrAction "Modify"}}modified{{else}}approved{{end}} by QC.</p>
<p>Final category: {{.Item.FinalResponseCategory}}</p>
{{with .Note}}<p>QC notes: {{.}}</p>{{end}}`),
	workflow.TemplateDueDateChanged: mustBody(`<p>Hello {{.Name}},</p>
<p>The contractor changed the due date of <strong>{{.Item.Type}} {{.Item.Identifier}}</strong>.</p>
<p>Your new due date is <strong>{{if eq .Role "qcr"}}{{.QcrDue}}{{else}}{{.ReviewerDue}}{{end}}</strong>.</p>
{{with .Link}}<p><a href="{{.}}">Open response form</a></p>{{end}}`),
}

func mustBody(text string) *template.Template {
	return template.Must(template.New("body").Parse(`<html><body style="font-family: Arial, sans-serif; font-size: 14px;">` + text + `</body></html>`))
}

type view struct {
	Name        string
	Role        models.RecipientRole
	Item        models.Item
	Stage       models.ReminderStage
	Link        string
	Note        string
	ReviewerDue string
	QcrDue      string
}

// Render возвращает тему и HTML-тело письма
func Render(msg workflow.Message) (string, string, error) {
	tmpl, ok := bodies[msg.Template]
	if !ok {
		return "", "", fmt.Errorf("mailer: unknown template %q", msg.Template)
	}
	name := msg.To.Name
	if name == "" {
		name = "Reviewer"
	}
	v := view{
		Name:        name,
		Role:        msg.To.Role,
		Item:        msg.Item,
		Stage:       msg.ReminderStage,
		Link:        msg.Link,
		Note:        msg.Note,
		ReviewerDue: formatDate(msg.Item.InitialReviewerDueDate),
		QcrDue:      formatDate(msg.Item.QcrDueDate),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return "", "", fmt.Errorf("mailer: render %s: %w", msg.Template, err)
	}
	return Subject(msg), buf.String(), nil
}

// Subject строит тему в формате "[LEB] RFI 101 – ..."
func Subject(msg workflow.Message) string {
	ref := strings.TrimSpace(fmt.Sprintf("%s %s", msg.Item.Type, msg.Item.Identifier))
	switch msg.Template {
	case workflow.TemplateReviewerAssignment:
		return fmt.Sprintf("[LEB] %s – Review assigned", ref)
	case workflow.TemplateQcrAssignment:
		return fmt.Sprintf("[LEB] %s – Ready for QC", ref)
	case workflow.TemplateReminder:
		switch msg.ReminderStage {
		case models.ReminderOverdue:
			return fmt.Sprintf("[LEB] OVERDUE: %s", ref)
		case models.ReminderDueToday:
			return fmt.Sprintf("[LEB] Due today: %s", ref)
		}
		return fmt.Sprintf("[LEB] Reminder: %s", ref)
	case workflow.TemplateSentBack:
		return fmt.Sprintf("[LEB] %s – Revisions requested", ref)
	case workflow.TemplateResponseReady:
		return fmt.Sprintf("[LEB] %s – Your response was %s", ref, strings.ToLower(actionWord(msg.Item.QcrAction)))
	case workflow.TemplateDueDateChanged:
		return fmt.Sprintf("[LEB] %s – Due date changed", ref)
	}
	return "[LEB] " + ref
}

func actionWord(a models.QcrAction) string {
	if a == models.QcrActionModify {
		return "Modified"
	}
	return "Approved"
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "not set"
	}
	return t.Format("January 2, 2006")
}
