package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dpetukhov/tokengate/internal/common"
	"github.com/dpetukhov/tokengate/internal/cryptox"
	"github.com/dpetukhov/tokengate/internal/dbx"
	"github.com/dpetukhov/tokengate/internal/logging"
	"github.com/dpetukhov/tokengate/internal/mailer"
	"github.com/dpetukhov/tokengate/internal/server/config"
	"github.com/dpetukhov/tokengate/internal/server/repositories/repomanager"
)

// TaskKindResetEmail is the background task kind for reset mail delivery.
const TaskKindResetEmail = "password_reset_email"

// ResetEmailPayload is the task payload for TaskKindResetEmail.
type ResetEmailPayload struct {
	Recipient string `json:"recipient"`
	ResetLink string `json:"reset_link"`
}

// TaskEnqueuer places background tasks on the queue.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) error
}

// PasswordResetService implements the password-reset token lifecycle. The
// raw reset secret exists only in flight: storage holds its SHA-256 hash,
// mail delivery carries the secret, and logs never see it.
type PasswordResetService struct {
	db                         *sql.DB
	repomanager                repomanager.RepositoryManager
	sender                     mailer.Sender
	queue                      TaskEnqueuer
	logger                     logging.Logger
	resetTokenValidityDuration time.Duration
	resetURL                   string
}

// NewPasswordResetService constructs a PasswordResetService. With a non-nil
// queue, reset mail is delivered by a background worker; a nil queue sends on
// the request path.
func NewPasswordResetService(db *sql.DB, m repomanager.RepositoryManager, sender mailer.Sender, queue TaskEnqueuer, logger logging.Logger, cfg *config.Config) *PasswordResetService {
	return &PasswordResetService{
		db:                         db,
		repomanager:                m,
		sender:                     sender,
		queue:                      queue,
		logger:                     logger,
		resetTokenValidityDuration: cfg.ResetTokenValidityDuration,
		resetURL:                   cfg.PasswordResetURL,
	}
}

// Request starts a password reset for the account behind email. When the
// email is unknown it returns nil all the same, so responses never reveal
// whether an account exists.
func (s *PasswordResetService) Request(ctx context.Context, email string) error {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Debug(ctx, "password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("error looking up user: %w", err)
	}

	raw, err := common.NewSecretToken(32)
	if err != nil {
		return common.ErrorInternal
	}

	expiresAt := time.Now().UTC().Add(s.resetTokenValidityDuration)
	record, err := s.repomanager.ResetTokens(s.db).Create(ctx, user.ID, common.HashSecretToken(raw), expiresAt)
	if err != nil {
		return fmt.Errorf("error storing reset token: %w", err)
	}

	link := s.resetURL + "?token=" + raw
	if err := s.deliver(ctx, user.Email, link); err != nil {
		return fmt.Errorf("error sending reset mail: %w", err)
	}

	s.logger.Info(ctx, "password reset token issued", "user_id", user.ID, "token_id", record.ID)
	return nil
}

// deliver hands the reset link to the task queue when one is configured and
// falls back to sending on the request path when enqueueing fails.
func (s *PasswordResetService) deliver(ctx context.Context, recipient, link string) error {
	if s.queue != nil {
		err := s.queue.Enqueue(ctx, TaskKindResetEmail, &ResetEmailPayload{Recipient: recipient, ResetLink: link})
		if err == nil {
			return nil
		}
		s.logger.Warn(ctx, "error enqueueing reset mail, sending directly", "error", err)
	}
	return s.sender.SendPasswordReset(ctx, recipient, link)
}

// Confirm redeems a reset token and installs the new credential. The token
// is single-use: the conditional use-marking runs in the same transaction as
// the password update, so a replayed confirmation fails with
// common.ErrTokenAlreadyUsed.
func (s *PasswordResetService) Confirm(ctx context.Context, rawToken, newPassword string) error {
	record, err := s.repomanager.ResetTokens(s.db).FindByHash(ctx, common.HashSecretToken(rawToken))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidToken
		}
		return fmt.Errorf("error searching reset token: %w", err)
	}
	if record.Used {
		return common.ErrTokenAlreadyUsed
	}
	if record.ExpiresAt.UTC().Before(time.Now().UTC()) {
		return common.ErrTokenExpired
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return common.ErrorInternal
	}

	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		flipped, err := s.repomanager.ResetTokens(tx).MarkUsed(ctx, record.ID)
		if err != nil {
			return fmt.Errorf("error marking reset token used: %w", err)
		}
		if !flipped {
			return common.ErrTokenAlreadyUsed
		}
		if err := s.repomanager.Users(tx).UpdatePasswordHash(ctx, record.UserID, hash); err != nil {
			return fmt.Errorf("error updating password: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	s.logger.Info(ctx, "password reset confirmed", "user_id", record.UserID)
	return nil
}
