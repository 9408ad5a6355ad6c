package mailer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"

	"github.com/dpetukhov/tokengate/internal/logging"
	"github.com/stretchr/testify/require"
)

func newLogger(buf *bytes.Buffer) logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(buf, nil)))
}

func TestSMTPSender_SendPasswordReset(t *testing.T) {
	orig := sendMail
	t.Cleanup(func() { sendMail = orig })

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	var buf bytes.Buffer
	s := NewSMTPSender("mail:25", "noreply@example.com", newLogger(&buf))

	err := s.SendPasswordReset(context.Background(), "alice@example.com", "https://front/reset?token=raw123")
	require.NoError(t, err)

	require.Equal(t, "mail:25", gotAddr)
	require.Equal(t, "noreply@example.com", gotFrom)
	require.Equal(t, []string{"alice@example.com"}, gotTo)
	require.Contains(t, string(gotMsg), "https://front/reset?token=raw123")
	require.Contains(t, string(gotMsg), "Subject: Password Reset Request")

	require.NotContains(t, buf.String(), "raw123", "reset secret must never be logged")
}

func TestSMTPSender_DeliveryError(t *testing.T) {
	orig := sendMail
	t.Cleanup(func() { sendMail = orig })

	sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return errors.New("relay down")
	}

	var buf bytes.Buffer
	s := NewSMTPSender("mail:25", "noreply@example.com", newLogger(&buf))

	err := s.SendPasswordReset(context.Background(), "alice@example.com", "https://front/reset?token=raw123")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "smtp send error"))
}

func TestLogSender_WithholdsLink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(newLogger(&buf))

	require.NoError(t, s.SendPasswordReset(context.Background(), "bob@example.com", "https://front/reset?token=raw456"))
	require.Contains(t, buf.String(), "bob@example.com")
	require.NotContains(t, buf.String(), "raw456")
}
