package mailer

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Logger   *zap.Logger
}

// SMTPMailer delivers plain text email
type SMTPMailer struct {
	from   string
	send   func(msg ...*gomail.Message) error
	logger *zap.Logger
}

// NewSMTPMailer dials the SMTP server for every message
func NewSMTPMailer(option Options) (*SMTPMailer, error) {
	if len(option.Host) == 0 {
		return nil, fmt.Errorf("empty Host is invalid")
	}
	dialer := gomail.NewDialer(option.Host, option.Port, option.Username, option.Password)
	return newMailer(option.From, dialer.DialAndSend, option.Logger)
}

// NewMailer sends through an existing gomail.Sender
func NewMailer(from string, sender gomail.Sender, logger *zap.Logger) (*SMTPMailer, error) {
	if sender == nil {
		return nil, fmt.Errorf("nil Sender is invalid")
	}
	return newMailer(from, func(msg ...*gomail.Message) error {
		return gomail.Send(sender, msg...)
	}, logger)
}

func newMailer(from string, send func(msg ...*gomail.Message) error, logger *zap.Logger) (*SMTPMailer, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("empty From is invalid")
	}
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &SMTPMailer{
		from:   from,
		send:   send,
		logger: logger,
	}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.send(m); err != nil {
		s.logger.Error("SMTP returned error",
			zap.String("To", to),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot send email")
	}
	return nil
}

// LogMailer writes messages to the log instead of delivering them
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) (*LogMailer, error) {
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &LogMailer{
		logger: logger,
	}, nil
}

func (l *LogMailer) Send(ctx context.Context, to, subject, body string) error {
	l.logger.Info("Email not delivered, SMTP is not configured",
		zap.String("To", to),
		zap.String("Subject", subject),
		zap.String("Body", body),
	)
	return nil
}
