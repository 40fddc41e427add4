// Package email sends approval notices to new members via SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"

	"ecoroster/console/internal/auth"
	"ecoroster/console/internal/roster"
)

var (
	ErrNotConfigured = errors.New("email not configured")
	ErrNoRecipient   = errors.New("member has no valid email address")
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
	logger *slog.Logger
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var a smtp.Auth
	if config.Username != "" {
		a = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   a,
		send:   smtp.SendMail,
		logger: slog.Default().With("component", "email"),
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text alternative.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	return s.send(s.server, s.auth, s.config.From, to, s.buildMessage(to, subject, textBody, htmlBody))
}

const boundary = "boundary-roster"

func (s *Service) buildMessage(to []string, subject, textBody, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var msg bytes.Buffer
	for _, h := range [][2]string{
		{"To", strings.Join(to, ", ")},
		{"From", from},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", `multipart/alternative; boundary="` + boundary + `"`},
	} {
		fmt.Fprintf(&msg, "%s: %s\r\n", h[0], h[1])
	}
	msg.WriteString("\r\n")

	writePart(&msg, "text/plain", textBody)
	writePart(&msg, "text/html", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

func writePart(msg *bytes.Buffer, contentType, body string) {
	fmt.Fprintf(msg, "--%s\r\nContent-Type: %s; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, contentType, body)
}

// ApprovalData holds data for the approval notice template.
type ApprovalData struct {
	AppName  string
	Name     string
	Barangay string
}

// AnnounceApproval tells a newly approved member that they can start earning points.
func (s *Service) AnnounceApproval(_ context.Context, m roster.Member) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if !auth.ValidEmail(m.Email) {
		return fmt.Errorf("%w: %s", ErrNoRecipient, m.SubjectID)
	}

	data := ApprovalData{
		AppName:  s.appName(),
		Name:     m.Name,
		Barangay: m.Barangay,
	}
	html, err := renderTemplate(approvalTmpl, data)
	if err != nil {
		return fmt.Errorf("render approval template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\r\n\r\nYour registration for %s has been approved. You can now log in and start earning points.", firstNonEmpty(m.Name, "there"), data.AppName)

	subject := fmt.Sprintf("Your %s registration was approved", data.AppName)
	if err := s.SendHTMLEmail([]string{m.Email}, subject, text, html); err != nil {
		return fmt.Errorf("send approval notice: %w", err)
	}
	s.logger.Info("approval notice sent", "subject_id", m.SubjectID)
	return nil
}

func (s *Service) appName() string {
	return firstNonEmpty(s.config.FromName, "EcoTask Rewards")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var approvalTmpl = template.Must(template.New("approval").Parse(approvalEmailTemplate))

func renderTemplate(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const approvalEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Welcome to {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2e7d32; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Welcome{{if .Name}}, {{.Name}}{{end}}!</h2>

    <p>Your registration has been approved{{if .Barangay}} for Barangay {{.Barangay}}{{end}}. You can now log in and start earning points.</p>

    <div class="footer">
        <p>You are receiving this because you registered with {{.AppName}}.</p>
    </div>
</body>
</html>`
