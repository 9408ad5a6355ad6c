package services

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dpetukhov/tokengate/internal/common"
	"github.com/dpetukhov/tokengate/internal/dbx"
	"github.com/dpetukhov/tokengate/internal/logging"
	"github.com/dpetukhov/tokengate/internal/server/config"
	"github.com/dpetukhov/tokengate/internal/server/models"
	refreshtokensrepo "github.com/dpetukhov/tokengate/internal/server/repositories/refreshtokens"
	resettokensrepo "github.com/dpetukhov/tokengate/internal/server/repositories/resettokens"
	usersrepo "github.com/dpetukhov/tokengate/internal/server/repositories/users"
)

// --- helpers ---

// openTestDB returns an in-memory database so WithTx runs real
// begin/commit/rollback plumbing while repositories stay in memory.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	cfg.AccessTokenValidityDuration = time.Hour
	cfg.RefreshTokenValidityDuration = 2 * time.Hour
	cfg.ResetTokenValidityDuration = time.Hour
	return cfg
}

// --- in-memory repositories ---

type memUsersRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUsersRepo() *memUsersRepo {
	return &memUsersRepo{users: make(map[string]*models.User)}
}

func (f *memUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	f.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *memUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *u
	return &out, nil
}

func (f *memUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *memUsersRepo) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == login || u.UserName == login {
			out := *u
			return &out, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *memUsersRepo) UpdatePasswordHash(ctx context.Context, userID string, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

type memRefreshRepo struct {
	mu      sync.Mutex
	records map[string]*models.RefreshToken // keyed by jti

	createErr error
}

func newMemRefreshRepo() *memRefreshRepo {
	return &memRefreshRepo{records: make(map[string]*models.RefreshToken)}
}

func (f *memRefreshRepo) Create(ctx context.Context, userID string, jti string, expiresAt time.Time) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[jti] = &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}
	return nil
}

func (f *memRefreshRepo) FindByJTI(ctx context.Context, jti string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[jti]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *r
	return &out, nil
}

func (f *memRefreshRepo) Revoke(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[jti]
	if !ok || r.Revoked {
		return false, nil
	}
	r.Revoked = true
	return true, nil
}

func (f *memRefreshRepo) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.records {
		if r.UserID == userID && !r.Revoked {
			r.Revoked = true
			n++
		}
	}
	return n, nil
}

func (f *memRefreshRepo) liveCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.UserID == userID && !r.Revoked {
			n++
		}
	}
	return n
}

type memResetRepo struct {
	mu      sync.Mutex
	records map[string]*models.PasswordResetToken // keyed by token hash
}

func newMemResetRepo() *memResetRepo {
	return &memResetRepo{records: make(map[string]*models.PasswordResetToken)}
}

func (f *memResetRepo) Create(ctx context.Context, userID string, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &models.PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	f.records[tokenHash] = r
	out := *r
	return &out, nil
}

func (f *memResetRepo) FindByHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[tokenHash]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *r
	return &out, nil
}

func (f *memResetRepo) MarkUsed(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			if r.Used {
				return false, nil
			}
			r.Used = true
			return true, nil
		}
	}
	return false, nil
}

type fakeRepoManager struct {
	u *memUsersRepo
	r *memRefreshRepo
	p *memResetRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{u: newMemUsersRepo(), r: newMemRefreshRepo(), p: newMemResetRepo()}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository { return m.u }

func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return m.r }

func (m *fakeRepoManager) ResetTokens(db dbx.DBTX) resettokensrepo.Repository { return m.p }
