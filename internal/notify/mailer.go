// Package notify sends e-mail notifications about finished course jobs
package notify

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/mail.v2"
)

// Sender is the interface that wraps message delivery
type Sender interface {
	// Method DialAndSend opens a connection to the SMTP server and sends the messages.
	//
	// If delivery fails, the error will be returned.
	DialAndSend(m ...*mail.Message) error
}

// PublishNotice describes a finished publish job
type PublishNotice struct {
	CourseID    string
	CourseTitle string
	Mode        string
	// DownloadURL is set when the job produced a downloadable archive
	DownloadURL string
	// Warning is set when a forced rebuild failed but the job still completed
	Warning string
	// Failure is set when the job failed
	Failure string
}

var publishBody = template.Must(template.New("publish").Parse(`<p>Your {{.Mode}} of <strong>{{.Title}}</strong> {{if .Failure}}failed.{{else}}is ready.{{end}}</p>
{{- if .Failure}}
<p>{{.Failure}}</p>
{{- end}}
{{- if .Warning}}
<p>The build reported a problem: {{.Warning}}</p>
{{- end}}
{{- if .DownloadURL}}
<p><a href="{{.DownloadURL}}">Download</a></p>
{{- end}}
`))

// Mailer sends notification e-mails through SMTP
type Mailer struct {
	from   string
	sender Sender
	logger *zap.Logger
}

// NewMailer creates a mailer delivering through the given SMTP server
func NewMailer(host string, port int, username, password, from string, logger *zap.Logger) *Mailer {
	return NewMailerWithSender(mail.NewDialer(host, port, username, password), from, logger)
}

// NewMailerWithSender creates a mailer delivering through sender
func NewMailerWithSender(sender Sender, from string, logger *zap.Logger) *Mailer {
	return &Mailer{
		from:   from,
		sender: sender,
		logger: logger,
	}
}

// PublishFinished tells the user who started a publish how it ended
func (m *Mailer) PublishFinished(ctx context.Context, to string, notice PublishNotice) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, body, err := renderPublish(notice)
	if err != nil {
		return err
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.sender.DialAndSend(msg); err != nil {
		m.logger.Error("failed to send publish notification", zap.Error(err), zap.String("course_id", notice.CourseID))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("publish notification sent", zap.String("course_id", notice.CourseID), zap.String("mode", notice.Mode))
	return nil
}

func renderPublish(notice PublishNotice) (string, string, error) {
	title := notice.CourseTitle
	if title == "" {
		title = notice.CourseID
	}

	var body strings.Builder
	err := publishBody.Execute(&body, struct {
		PublishNotice
		Title string
	}{notice, title})
	if err != nil {
		return "", "", fmt.Errorf("failed to render notification: %w", err)
	}

	subject := fmt.Sprintf("Course %s ready: %s", notice.Mode, title)
	if notice.Failure != "" {
		subject = fmt.Sprintf("Course %s failed: %s", notice.Mode, title)
	}
	return subject, body.String(), nil
}
