// Package server wires the application together: database, migrations,
// Redis, token and auth services, the rate limiter, the notification
// listener, and the background task worker, plus graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/dpetukhov/tokengate/internal/logging"
	"github.com/dpetukhov/tokengate/internal/mailer"
	"github.com/dpetukhov/tokengate/internal/pubsub"
	"github.com/dpetukhov/tokengate/internal/ratelimit"
	"github.com/dpetukhov/tokengate/internal/redisx"
	"github.com/dpetukhov/tokengate/internal/server/config"
	"github.com/dpetukhov/tokengate/internal/server/repositories/repomanager"
	"github.com/dpetukhov/tokengate/internal/server/services"
	"github.com/dpetukhov/tokengate/internal/tasks"
)

type App struct {
	config *config.Config
	logger logging.Logger

	db    *sql.DB
	redis *redis.Client

	tokenService *services.TokenService
	authService  *services.AuthService
	resetService *services.PasswordResetService
	limiter      *ratelimit.Limiter
	notifier     *pubsub.Notifier
	queue        *tasks.Queue
	worker       *tasks.Worker
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	rdb, err := redisx.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}

	sender := mailer.NewSMTPSender(cfg.SMTPAddr, cfg.EmailFrom, logger)

	queue := tasks.NewQueue(rdb, logger)
	worker := tasks.NewWorker(queue, logger)
	worker.RegisterHandler(services.TaskKindResetEmail, func(ctx context.Context, payload json.RawMessage) error {
		var p services.ResetEmailPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("error decoding reset email payload: %w", err)
		}
		return sender.SendPasswordReset(ctx, p.Recipient, p.ResetLink)
	})

	tokenService := services.NewTokenService(db, m, logger, cfg)
	authService := services.NewAuthService(db, m, tokenService, logger)
	resetService := services.NewPasswordResetService(db, m, sender, queue, logger, cfg)

	limiter := ratelimit.NewLimiter(rdb, ratelimit.Config{
		Limit:      cfg.RateLimitRequests,
		Window:     cfg.RateLimitWindow,
		FailClosed: cfg.RateLimitFailClosed,
	}, logger)

	notifier := pubsub.NewNotifier(rdb, logger)

	return &App{
		config:       cfg,
		logger:       logger,
		db:           db,
		redis:        rdb,
		tokenService: tokenService,
		authService:  authService,
		resetService: resetService,
		limiter:      limiter,
		notifier:     notifier,
		queue:        queue,
		worker:       worker,
	}, nil
}

// Tokens exposes the token lifecycle service.
func (app *App) Tokens() *services.TokenService { return app.tokenService }

// Auth exposes the authentication service.
func (app *App) Auth() *services.AuthService { return app.authService }

// PasswordReset exposes the password-reset service.
func (app *App) PasswordReset() *services.PasswordResetService { return app.resetService }

// Limiter exposes the rate limiter.
func (app *App) Limiter() *ratelimit.Limiter { return app.limiter }

// Notifier exposes the pub/sub notifier.
func (app *App) Notifier() *pubsub.Notifier { return app.notifier }

// Queue exposes the background task queue.
func (app *App) Queue() *tasks.Queue { return app.queue }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the notification listener and the background worker, then
// blocks until a shutdown signal or a fatal component error cancels the
// context.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.notifier.Listen(ctx); err != nil && ctx.Err() == nil {
			app.logger.Error(ctx, "notification listener stopped", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.worker.Run(ctx); err != nil && ctx.Err() == nil {
			app.logger.Error(ctx, "task worker stopped", "error", err)
			cancelFunc()
		}
	}()

	wg.Wait()
	app.close(ctx)
}

func (app *App) close(ctx context.Context) {
	if err := app.redis.Close(); err != nil {
		app.logger.Error(ctx, "error closing redis", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "error closing db", "error", err)
	}
	app.logger.Info(ctx, "app stopped")
}
