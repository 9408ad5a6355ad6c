package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpetukhov/tokengate/internal/common"
	"github.com/dpetukhov/tokengate/internal/cryptox"
	"github.com/dpetukhov/tokengate/internal/server/auth"
)

func newAuthService(t *testing.T) (*AuthService, *fakeRepoManager) {
	t.Helper()
	m := newFakeRepoManager()
	db := openTestDB(t)
	cfg := testConfig()
	logger := testLogger()
	tokens := NewTokenService(db, m, logger, cfg)
	return NewAuthService(db, m, tokens, logger), m
}

func TestRegister_StoresHashedCredential(t *testing.T) {
	s, m := newAuthService(t)

	user, pair, err := s.Register(context.Background(), "alice@example.com", "alice", "s3cret", "user")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	stored, err := m.u.GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.NotEqual(t, "s3cret", stored.PasswordHash)
	assert.True(t, cryptox.VerifyPassword("s3cret", stored.PasswordHash))
}

func TestLogin_ByEmailAndUsername(t *testing.T) {
	s, _ := newAuthService(t)
	_, _, err := s.Register(context.Background(), "alice@example.com", "alice", "s3cret", "user")
	require.NoError(t, err)

	for _, login := range []string{"alice@example.com", "alice"} {
		user, pair, err := s.Login(context.Background(), login, "s3cret")
		require.NoError(t, err, login)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.NotEmpty(t, pair.RefreshToken)
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	s, m := newAuthService(t)
	inactive, _, err := s.Register(context.Background(), "carol@example.com", "carol", "pw", "user")
	require.NoError(t, err)
	m.u.mu.Lock()
	m.u.users[inactive.ID].IsActive = false
	m.u.mu.Unlock()

	tests := []struct {
		name     string
		login    string
		password string
	}{
		{"unknown user", "nobody@example.com", "pw"},
		{"wrong password", "carol@example.com", "wrong"},
		{"inactive account", "carol@example.com", "pw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Login(context.Background(), tt.login, tt.password)
			assert.ErrorIs(t, err, common.ErrorUnauthorized)
		})
	}
}

func TestLogout_RevokesPresentedToken(t *testing.T) {
	s, m := newAuthService(t)
	_, pair, err := s.Register(context.Background(), "alice@example.com", "alice", "pw", "user")
	require.NoError(t, err)

	require.NoError(t, s.Logout(context.Background(), pair.RefreshToken))

	claims, err := auth.ParseToken(pair.RefreshToken, s.tokens.jwtSecret)
	require.NoError(t, err)
	record, err := m.r.FindByJTI(context.Background(), claims.ID)
	require.NoError(t, err)
	assert.True(t, record.Revoked)

	// Logging out again is a no-op.
	require.NoError(t, s.Logout(context.Background(), pair.RefreshToken))
}

func TestLogout_RejectsMalformedToken(t *testing.T) {
	s, _ := newAuthService(t)

	err := s.Logout(context.Background(), "garbage")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestLogoutAll_ClearsEverySession(t *testing.T) {
	s, m := newAuthService(t)
	user, _, err := s.Register(context.Background(), "alice@example.com", "alice", "pw", "user")
	require.NoError(t, err)
	_, _, err = s.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	require.Equal(t, 2, m.r.liveCount(user.ID))

	require.NoError(t, s.LogoutAll(context.Background(), user.ID))
	assert.Equal(t, 0, m.r.liveCount(user.ID))
}
