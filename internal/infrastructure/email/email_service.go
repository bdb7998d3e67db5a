package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/marketplace-core/internal/core/ports"
)

//go:embed templates/*.html
var templateFS embed.FS

// EmailConfig holds email service configuration
type EmailConfig struct {
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	CompanyName    string
	// SecurityTeam, when set, receives a copy of every alert.
	SecurityTeam string
}

// Sender is the part of the SendGrid client the notifier uses.
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SecurityNotifier mails security events to the affected user.
type SecurityNotifier struct {
	config   *EmailConfig
	logger   *logrus.Logger
	client   Sender
	template *template.Template
}

// NewSecurityNotifier returns a SendGrid backed notifier, or a no-op one when no API
// key is configured.
func NewSecurityNotifier(config *EmailConfig, logger *logrus.Logger) (ports.SecurityNotifier, error) {
	if config == nil || config.SendGridAPIKey == "" {
		if logger != nil {
			logger.Info("SendGrid not configured; security alerts are logged only")
		}
		return NoopNotifier{logger: logger}, nil
	}
	return NewSecurityNotifierWithSender(config, sendgrid.NewSendClient(config.SendGridAPIKey), logger)
}

func NewSecurityNotifierWithSender(config *EmailConfig, client Sender, logger *logrus.Logger) (*SecurityNotifier, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/security_alert.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email template: %w", err)
	}
	return &SecurityNotifier{config: config, logger: logger, client: client, template: tmpl}, nil
}

// SecurityAlertData holds data for the security alert template
type SecurityAlertData struct {
	CompanyName string
	Headline    string
	SessionID   string
	IP          string
	Reason      string
	Count       int
	OccurredAt  string
}

func headline(kind ports.SecurityEventKind) (subject, text string) {
	switch kind {
	case ports.EventFingerprintMismatch:
		return "Sign-in blocked from an unrecognised device", "Your session was used from a device or network that does not match the one you signed in with. The request was blocked."
	case ports.EventIPChanged:
		return "Sign-in blocked from a new address", "Your IP-restricted session was used from a different address. The request was blocked."
	case ports.EventForcedLogout:
		return "You have been signed out", "All of your active sessions were ended."
	default:
		return "Security notice", "A security event was recorded on your account."
	}
}

// NotifySecurityEvent sends the alert to the user and the security team.
func (e *SecurityNotifier) NotifySecurityEvent(ctx context.Context, ev ports.SecurityEvent) error {
	subject, text := headline(ev.Kind)
	data := SecurityAlertData{
		CompanyName: e.config.CompanyName,
		Headline:    text,
		SessionID:   ev.SessionID,
		IP:          ev.IP,
		Reason:      ev.Reason,
		Count:       ev.Count,
		OccurredAt:  ev.OccurredAt.UTC().Format(time.RFC1123),
	}
	var buf bytes.Buffer
	if err := e.template.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render security alert: %w", err)
	}
	subject = fmt.Sprintf("%s - %s", subject, e.config.CompanyName)

	var recipients []string
	if ev.Email != "" {
		recipients = append(recipients, ev.Email)
	}
	if e.config.SecurityTeam != "" {
		recipients = append(recipients, e.config.SecurityTeam)
	}
	for _, to := range recipients {
		if err := e.sendEmail(ctx, to, subject, buf.String()); err != nil {
			return err
		}
	}
	return nil
}

// sendEmail sends an email using SendGrid
func (e *SecurityNotifier) sendEmail(ctx context.Context, to, subject, htmlContent string) error {
	from := mail.NewEmail(e.config.FromName, e.config.FromEmail)
	recipient := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, recipient, "", htmlContent)

	response, err := e.client.SendWithContext(ctx, message)
	status := 0
	if response != nil {
		status = response.StatusCode
	}
	if err == nil && status >= http.StatusBadRequest {
		err = fmt.Errorf("sendgrid returned status %d", status)
	}
	if err != nil {
		if e.logger != nil {
			e.logger.WithFields(logrus.Fields{"to": to, "subject": subject}).WithError(err).Error("Failed to send email")
		}
		return fmt.Errorf("failed to send email: %w", err)
	}

	if e.logger != nil {
		e.logger.WithFields(logrus.Fields{"to": to, "subject": subject, "status_code": status}).Info("Email sent successfully")
	}
	return nil
}

// NoopNotifier logs events instead of sending them.
type NoopNotifier struct {
	logger *logrus.Logger
}

func (n NoopNotifier) NotifySecurityEvent(ctx context.Context, ev ports.SecurityEvent) error {
	if n.logger != nil {
		n.logger.WithFields(logrus.Fields{"user_id": ev.UserID, "session_id": ev.SessionID, "event": ev.Kind}).Warn("security event")
	}
	return nil
}
