// internal/notification/email.go

package notifications

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// EmailNotification is a single outbound email.
type EmailNotification struct {
	To      string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

// EmailService sends transactional email.
type EmailService interface {
	SendEmail(ctx context.Context, notification *EmailNotification) error
}

// SMTPEmailService implements email delivery over SMTP
type SMTPEmailService struct {
	from     string
	fromName string
	dialer   *gomail.Dialer
}

// NewSMTPEmailService creates a new SMTP email service
func NewSMTPEmailService(host string, port int, username, password, from, fromName string) (EmailService, error) {
	if host == "" || username == "" || password == "" || from == "" {
		return nil, fmt.Errorf("incomplete SMTP configuration")
	}

	dialer := gomail.NewDialer(host, port, username, password)
	dialer.TLSConfig = &tls.Config{InsecureSkipVerify: false}

	return &SMTPEmailService{
		from:     from,
		fromName: fromName,
		dialer:   dialer,
	}, nil
}

// SendEmail sends a single email
func (s *SMTPEmailService) SendEmail(ctx context.Context, notification *EmailNotification) error {
	m := gomail.NewMessage()

	m.SetHeader("From", m.FormatAddress(s.from, s.fromName))
	m.SetHeader("To", m.FormatAddress(notification.To, notification.ToName))
	m.SetHeader("Subject", notification.Subject)

	if notification.HTML != "" {
		m.SetBody("text/html", notification.HTML)
		if notification.Body != "" {
			m.AddAlternative("text/plain", notification.Body)
		}
	} else {
		m.SetBody("text/plain", notification.Body)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", notification.To, err)
	}
	return nil
}

// SendGridEmailService implements email delivery using SendGrid
type SendGridEmailService struct {
	apiKey   string
	from     string
	fromName string
}

// NewSendGridEmailService creates a new SendGrid email service
func NewSendGridEmailService(apiKey, from, fromName string) (EmailService, error) {
	if apiKey == "" || from == "" {
		return nil, fmt.Errorf("incomplete SendGrid configuration")
	}

	return &SendGridEmailService{
		apiKey:   apiKey,
		from:     from,
		fromName: fromName,
	}, nil
}

// SendEmail sends a single email via SendGrid
func (s *SendGridEmailService) SendEmail(ctx context.Context, notification *EmailNotification) error {
	from := mail.NewEmail(s.fromName, s.from)
	to := mail.NewEmail(notification.ToName, notification.To)
	message := mail.NewSingleEmail(from, notification.Subject, to, notification.Body, notification.HTML)

	client := sendgrid.NewSendClient(s.apiKey)
	response, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("sendgrid send to %s: %w", notification.To, err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned error status %d", response.StatusCode)
	}
	return nil
}

// MockEmailService records emails instead of sending them
type MockEmailService struct {
	SentEmails []*EmailNotification
	logger     *zap.Logger
}

func NewMockEmailService(logger *zap.Logger) *MockEmailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockEmailService{logger: logger}
}

func (m *MockEmailService) SendEmail(ctx context.Context, notification *EmailNotification) error {
	m.SentEmails = append(m.SentEmails, notification)
	m.logger.Info("mock email",
		zap.String("to", notification.To),
		zap.String("subject", notification.Subject))
	return nil
}
