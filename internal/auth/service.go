package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
)

type ProfileStore interface {
	CreateProfile(ctx context.Context, email, fullName string, role models.Role, passwordHash string) (*models.Profile, error)
	GetProfile(ctx context.Context, id int64) (*models.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error)
}

type SignUpInput struct {
	Email    string
	Password string
	FullName string
	Role     models.Role
}

type Service struct {
	profiles  ProfileStore
	tokens    *JWTService
	blacklist Blacklist
	log       *zap.Logger
}

func NewService(profiles ProfileStore, tokens *JWTService, blacklist Blacklist, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if blacklist == nil {
		blacklist = NewMemoryBlacklist()
	}
	return &Service{profiles: profiles, tokens: tokens, blacklist: blacklist, log: log}
}

func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*models.Profile, *TokenPair, error) {
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	profile, err := s.profiles.CreateProfile(ctx, normalizeEmail(in.Email), in.FullName, in.Role, hash)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.tokens.GenerateTokenPair(profile)
	if err != nil {
		return nil, nil, fmt.Errorf("issue tokens: %w", err)
	}

	s.log.Info("account created", zap.Int64("user_id", profile.ID), zap.String("role", string(profile.Role)))
	return profile, pair, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*models.Profile, *TokenPair, error) {
	profile, err := s.profiles.GetProfileByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	if err := CheckPassword(profile.PasswordHash, password); err != nil {
		return nil, nil, err
	}

	pair, err := s.tokens.GenerateTokenPair(profile)
	if err != nil {
		return nil, nil, fmt.Errorf("issue tokens: %w", err)
	}
	return profile, pair, nil
}

// Refresh swaps a refresh token for a new pair. The old refresh token is
// revoked so it cannot be replayed.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidToken
	}

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if err := s.blacklist.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
		return nil, err
	}
	return s.tokens.GenerateTokenPair(profile)
}

// SignOut revokes the access token of session until it expires.
func (s *Service) SignOut(ctx context.Context, session *Session) error {
	if session == nil {
		return ErrInvalidToken
	}
	return s.blacklist.Revoke(ctx, session.TokenID, time.Until(session.ExpiresAt))
}

func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Session, error) {
	claims, err := s.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	if err := s.checkRevoked(ctx, claims.ID); err != nil {
		return nil, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidToken
	}

	// the account may have been deleted or its role changed since issue
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	return &Session{
		UserID:    profile.ID,
		Email:     profile.Email,
		Role:      profile.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) checkRevoked(ctx context.Context, jti string) error {
	revoked, err := s.blacklist.IsRevoked(ctx, jti)
	if err != nil {
		s.log.Error("blacklist lookup failed", zap.Error(err))
		return err
	}
	if revoked {
		return ErrTokenRevoked
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
