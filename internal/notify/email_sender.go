package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	gomail "gopkg.in/mail.v2"
)

const defaultDialTimeout = 10 * time.Second

// EmailConfig holds SMTP configuration for sending emails.
type EmailConfig struct {
	SMTPServer string `yaml:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port"`
	SMTPUser   string `yaml:"smtp_user"`
	SMTPPass   string `yaml:"smtp_pass"`
	FromEmail  string `yaml:"from_email"`
}

// EmailSender delivers messages via SMTP, one recipient per message.
type EmailSender struct {
	cfg    EmailConfig
	logger *zap.Logger
}

func NewEmailSender(cfg EmailConfig, logger *zap.Logger) *EmailSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailSender{cfg: cfg, logger: logger}
}

// Send delivers an email with HTML body and plain text fallback. The dial
// timeout follows the context deadline when one is set.
func (s *EmailSender) Send(ctx context.Context, msg *RenderedMessage, recipient string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dialer := gomail.NewDialer(s.cfg.SMTPServer, s.cfg.SMTPPort, s.cfg.SMTPUser, s.cfg.SMTPPass)
	dialer.Timeout = defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Timeout = time.Until(deadline)
	}

	if err := dialer.DialAndSend(s.buildMessage(msg, recipient)); err != nil {
		return fmt.Errorf("failed to send to %s via %s:%d: %w", recipient, s.cfg.SMTPServer, s.cfg.SMTPPort, err)
	}

	s.logger.Debug("Email sent", zap.String("to", recipient), zap.String("subject", msg.Subject))
	return nil
}

func (s *EmailSender) buildMessage(msg *RenderedMessage, recipient string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.FromEmail)
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", msg.Subject)

	if msg.HTML != "" && msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else if msg.HTML != "" {
		m.SetBody("text/html", msg.HTML)
	} else {
		m.SetBody("text/plain", msg.Text)
	}
	return m
}

// LogTransport logs instead of sending. Used for dry runs.
type LogTransport struct {
	logger *zap.Logger
}

func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(_ context.Context, msg *RenderedMessage, recipient string) error {
	t.logger.Info("Dry run: notification not sent",
		zap.String("to", recipient),
		zap.String("subject", msg.Subject),
		zap.Int("text_bytes", len(msg.Text)))
	return nil
}
