package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/safar/go-marketplace/internal/config"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
)

type memoryProfiles struct {
	byID    map[int64]*models.Profile
	byEmail map[string]*models.Profile
	nextID  int64
}

func newMemoryProfiles() *memoryProfiles {
	return &memoryProfiles{byID: map[int64]*models.Profile{}, byEmail: map[string]*models.Profile{}}
}

func (m *memoryProfiles) CreateProfile(_ context.Context, email, fullName string, role models.Role, hash string) (*models.Profile, error) {
	if _, ok := m.byEmail[email]; ok {
		return nil, database.ErrEmailTaken
	}
	m.nextID++
	p := &models.Profile{ID: m.nextID, Email: email, FullName: fullName, Role: role, PasswordHash: hash}
	m.byID[p.ID] = p
	m.byEmail[email] = p
	return p, nil
}

func (m *memoryProfiles) GetProfile(_ context.Context, id int64) (*models.Profile, error) {
	if p, ok := m.byID[id]; ok {
		return p, nil
	}
	return nil, database.ErrUserNotFound
}

func (m *memoryProfiles) delete(id int64) {
	if p, ok := m.byID[id]; ok {
		delete(m.byEmail, p.Email)
		delete(m.byID, id)
	}
}

func (m *memoryProfiles) GetProfileByEmail(_ context.Context, email string) (*models.Profile, error) {
	if p, ok := m.byEmail[email]; ok {
		return p, nil
	}
	return nil, database.ErrUserNotFound
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		Secret:          "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "marketplace-test",
	}
}

func newTestService(t *testing.T) *Service {
	return NewService(newMemoryProfiles(), NewJWTService(testAuthConfig()), NewMemoryBlacklist(), zaptest.NewLogger(t))
}

func TestSignUpThenAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	profile, pair, err := svc.SignUp(ctx, SignUpInput{
		Email:    " Seller@Example.com ",
		Password: "correct horse",
		FullName: "Ama Seller",
		Role:     models.RoleSeller,
	})
	require.NoError(t, err)
	assert.Equal(t, "seller@example.com", profile.Email)
	assert.NotEqual(t, "correct horse", profile.PasswordHash)

	session, err := svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, session.UserID)
	assert.Equal(t, models.RoleSeller, session.Role)
	assert.True(t, session.HasRole(models.RoleSeller, models.RoleAdmin))
	assert.False(t, session.HasRole(models.RoleBuyer))
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.SignUp(ctx, SignUpInput{Email: "b@example.com", Password: "pw-123456", Role: models.RoleBuyer})
	require.NoError(t, err)

	_, _, err = svc.SignIn(ctx, "b@example.com", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.SignIn(ctx, "missing@example.com", "pw-123456")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, pair, err := svc.SignIn(ctx, "b@example.com", "pw-123456")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
}

func TestSignOutRevokesAccessToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, pair, err := svc.SignUp(ctx, SignUpInput{Email: "c@example.com", Password: "pw-123456", Role: models.RoleBuyer})
	require.NoError(t, err)

	session, err := svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.NoError(t, svc.SignOut(ctx, session))

	_, err = svc.Authenticate(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestAuthenticateRejectsDeletedAccount(t *testing.T) {
	profiles := newMemoryProfiles()
	svc := NewService(profiles, NewJWTService(testAuthConfig()), NewMemoryBlacklist(), zaptest.NewLogger(t))
	ctx := context.Background()

	profile, pair, err := svc.SignUp(ctx, SignUpInput{Email: "gone@example.com", Password: "pw-123456", Role: models.RoleSeller})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)

	profiles.delete(profile.ID)

	_, err = svc.Authenticate(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateUsesCurrentRole(t *testing.T) {
	profiles := newMemoryProfiles()
	svc := NewService(profiles, NewJWTService(testAuthConfig()), NewMemoryBlacklist(), zaptest.NewLogger(t))
	ctx := context.Background()

	profile, pair, err := svc.SignUp(ctx, SignUpInput{Email: "promoted@example.com", Password: "pw-123456", Role: models.RoleBuyer})
	require.NoError(t, err)
	profiles.byID[profile.ID].Role = models.RoleAdmin

	session, err := svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, session.Role)
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, pair, err := svc.SignUp(ctx, SignUpInput{Email: "d@example.com", Password: "pw-123456", Role: models.RoleBuyer})
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, next.AccessToken)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	jwtSvc := NewJWTService(testAuthConfig())
	pair, err := jwtSvc.GenerateTokenPair(&models.Profile{ID: 1, Role: models.RoleBuyer})
	require.NoError(t, err)

	_, err = jwtSvc.ValidateAccessToken(pair.RefreshToken)
	assert.Error(t, err)

	_, err = jwtSvc.ValidateRefreshToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestExpiredAccessToken(t *testing.T) {
	jwtSvc := NewJWTService(testAuthConfig())
	issued := time.Now().Add(-2 * time.Hour)
	jwtSvc.now = func() time.Time { return issued }

	pair, err := jwtSvc.GenerateTokenPair(&models.Profile{ID: 1, Role: models.RoleBuyer})
	require.NoError(t, err)

	jwtSvc.now = time.Now
	_, err = jwtSvc.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestMemoryBlacklistExpires(t *testing.T) {
	b := NewMemoryBlacklist()
	now := time.Now()
	b.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, b.Revoke(ctx, "jti-1", time.Minute))
	revoked, err := b.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	now = now.Add(2 * time.Minute)
	revoked, err = b.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestSessionContext(t *testing.T) {
	assert.Nil(t, SessionFrom(context.Background()))

	s := &Session{UserID: 9}
	assert.Same(t, s, SessionFrom(WithSession(context.Background(), s)))
}
