package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/dayfeel/auth/internal/models"
	"github.com/dayfeel/auth/internal/repo"
	"github.com/dayfeel/auth/internal/tokens"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.AuthSession{}))

	return &AuthService{
		Repo: &repo.GormRepo{DB: db},
		Codec: &tokens.Codec{
			Secret:     []byte("test-secret"),
			Issuer:     "dayfeel-auth",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
	}
}

func mustRegister(t *testing.T, svc *AuthService, email string) *models.User {
	t.Helper()

	user, err := svc.Register(context.Background(), email, "Abcde1!", "A")
	require.NoError(t, err)
	return user
}

func TestAuthService_Register_Defaults(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)
	user := mustRegister(t, svc, "a@x.com")

	assert.NotZero(t, user.ID)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.NotEqual(t, "Abcde1!", user.PasswordHash)
	assert.Nil(t, user.LastLogin)
}

func TestAuthService_Register_DuplicateEmail(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)
	mustRegister(t, svc, "a@x.com")

	_, err := svc.Register(context.Background(), "a@x.com", "Abcde1!", "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.ErrAlreadyExists)
}

func TestAuthService_Login_Success(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)
	ctx := context.Background()
	user := mustRegister(t, svc, "a@x.com")

	pair, err := svc.Login(ctx, "a@x.com", "Abcde1!")
	require.NoError(t, err)
	require.NotNil(t, pair)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, user.ID, pair.User.ID)

	// The session row anchors the refresh token's jti and expiry.
	claims, err := svc.Codec.DecodeRefresh(pair.RefreshToken)
	require.NoError(t, err)
	session, err := svc.Repo.FindSessionByJTI(ctx, claims.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.UserID)
	assert.False(t, session.Revoked)
	assert.WithinDuration(t, claims.ExpiresAt.Time, session.ExpiresAt, time.Second)

	stored, err := svc.Repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLogin)
}

func TestAuthService_Login_DistinctJTIPerCall(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com")

	first, err := svc.Login(ctx, "a@x.com", "Abcde1!")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "a@x.com", "Abcde1!")
	require.NoError(t, err)

	firstClaims, err := svc.Codec.DecodeRefresh(first.RefreshToken)
	require.NoError(t, err)
	secondClaims, err := svc.Codec.DecodeRefresh(second.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, firstClaims.ID, secondClaims.ID)

	firstAccess, err := svc.Codec.DecodeAccess(first.AccessToken)
	require.NoError(t, err)
	secondAccess, err := svc.Codec.DecodeAccess(second.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, firstAccess.ID, secondAccess.ID)
}

func TestAuthService_Login_InvalidCredentials(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com")

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{name: "wrong password", email: "a@x.com", password: "Wrong1!"},
		{name: "unknown email", email: "b@x.com", password: "Abcde1!"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			pair, err := svc.Login(ctx, tt.email, tt.password)
			require.Error(t, err)
			assert.Nil(t, pair)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestAuthService_Refresh_RotatesToken(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com")

	loginPair, err := svc.Login(ctx, "a@x.com", "Abcde1!")
	require.NoError(t, err)
	oldClaims, err := svc.Codec.DecodeRefresh(loginPair.RefreshToken)
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, loginPair.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	assert.NotEqual(t, loginPair.RefreshToken, refreshed.RefreshToken)
	assert.NotEqual(t, loginPair.AccessToken, refreshed.AccessToken)

	oldSession, err := svc.Repo.FindSessionByJTI(ctx, oldClaims.ID)
	require.NoError(t, err)
	assert.True(t, oldSession.Revoked)

	newClaims, err := svc.Codec.DecodeRefresh(refreshed.RefreshToken)
	require.NoError(t, err)
	newSession, err := svc.Repo.FindSessionByJTI(ctx, newClaims.ID)
	require.NoError(t, err)
	assert.False(t, newSession.Revoked)
}

func TestAuthService_Refresh_ReplayFails(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com")

	loginPair, err := svc.Login(ctx, "a@x.com", "Abcde1!")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, loginPair.RefreshToken)
	require.NoError(t, err)

	// The consumed token is permanently unusable even though its own
	// exp claim has not elapsed.
	pair, err := svc.Refresh(ctx, loginPair.RefreshToken)
	require.Error(t, err)
	assert.Nil(t, pair)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualError(t, err, "refresh token revoked")
}

func TestAuthService_Refresh_ExpiredSession(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com")

	loginPair, err := svc.Login(ctx, "a@x.com", "Abcde1!")
	require.NoError(t, err)
	claims, err := svc.Codec.DecodeRefresh(loginPair.RefreshToken)
	require.NoError(t, err)

	// Age the session row without touching the token itself.
	err = svc.Repo.DB.Model(&models.AuthSession{}).
		Where("jti = ?", claims.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error
	require.NoError(t, err)

	pair, err := svc.Refresh(ctx, loginPair.RefreshToken)
	require.Error(t, err)
	assert.Nil(t, pair)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualError(t, err, "refresh token expired")
}

func TestAuthService_Refresh_UnrecognizedSession(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)
	ctx := context.Background()
	mustRegister(t, svc, "a@x.com")

	loginPair, err := svc.Login(ctx, "a@x.com", "Abcde1!")
	require.NoError(t, err)
	claims, err := svc.Codec.DecodeRefresh(loginPair.RefreshToken)
	require.NoError(t, err)

	err = svc.Repo.DB.Where("jti = ?", claims.ID).Delete(&models.AuthSession{}).Error
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, loginPair.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualError(t, err, "refresh token not recognized")
}

func TestAuthService_Refresh_UserDeleted(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)
	ctx := context.Background()
	user := mustRegister(t, svc, "a@x.com")

	loginPair, err := svc.Login(ctx, "a@x.com", "Abcde1!")
	require.NoError(t, err)

	err = svc.Repo.DB.Where("id = ?", user.ID).Delete(&models.User{}).Error
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, loginPair.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualError(t, err, "user not found")
}

func TestAuthService_Refresh_GarbageToken(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)

	pair, err := svc.Refresh(context.Background(), "not-a-valid-jwt")
	require.Error(t, err)
	assert.Nil(t, pair)
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestAuthService_PurgeExpiredSessions(t *testing.T) {
	t.Parallel()

	svc := newTestAuthService(t)
	ctx := context.Background()
	user := mustRegister(t, svc, "a@x.com")

	expired := &models.AuthSession{
		UserID:    user.ID,
		JTI:       tokens.NewJTI(),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, svc.Repo.InsertSession(ctx, expired))

	live := &models.AuthSession{
		UserID:    user.ID,
		JTI:       tokens.NewJTI(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, svc.Repo.InsertSession(ctx, live))

	deleted, err := svc.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = svc.Repo.FindSessionByJTI(ctx, expired.JTI)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	kept, err := svc.Repo.FindSessionByJTI(ctx, live.JTI)
	require.NoError(t, err)
	assert.False(t, kept.Revoked)
}
