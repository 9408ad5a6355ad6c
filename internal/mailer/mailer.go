// Package mailer is the outbound-email boundary. The token lifecycle core
// hands it a password-reset link exactly once; delivery mechanics live here.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/dpetukhov/tokengate/internal/logging"
)

// Sender delivers password-reset mail. Implementations must never log or
// persist the reset link, which embeds the one-time secret.
type Sender interface {
	SendPasswordReset(ctx context.Context, recipient string, resetLink string) error
}

// sendMail is a seam for testing smtp.SendMail.
var sendMail = smtp.SendMail

// SMTPSender delivers mail through a plain SMTP relay.
type SMTPSender struct {
	addr   string
	from   string
	logger logging.Logger
}

// NewSMTPSender constructs an SMTPSender for the given relay address and
// From header.
func NewSMTPSender(addr, from string, logger logging.Logger) *SMTPSender {
	return &SMTPSender{addr: addr, from: from, logger: logger}
}

func (s *SMTPSender) SendPasswordReset(ctx context.Context, recipient string, resetLink string) error {
	body := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: Password Reset Request\r\n\r\n"+
			"You have requested to reset your password.\r\n\r\n"+
			"Please follow the link below to reset your password:\r\n%s\r\n\r\n"+
			"This link will expire in 1 hour.\r\n\r\n"+
			"If you did not request this, please ignore this email.\r\n",
		s.from, recipient, resetLink)

	if err := sendMail(s.addr, nil, s.from, []string{recipient}, []byte(body)); err != nil {
		s.logger.Error(ctx, "password reset mail delivery failed", "recipient", recipient, "error", err)
		return fmt.Errorf("smtp send error: %w", err)
	}

	s.logger.Info(ctx, "password reset mail sent", "recipient", recipient)
	return nil
}

// LogSender is a development stand-in that records only that a reset mail
// would have been sent. The link itself is withheld from the log output.
type LogSender struct {
	logger logging.Logger
}

func NewLogSender(logger logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendPasswordReset(ctx context.Context, recipient string, _ string) error {
	s.logger.Info(ctx, "password reset mail suppressed (log sender)", "recipient", recipient)
	return nil
}
