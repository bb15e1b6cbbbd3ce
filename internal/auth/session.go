package auth

import (
	"context"
	"time"

	"github.com/safar/go-marketplace/internal/models"
)

// Session is the signed-in identity of one request. It lives in the request
// context and ends when its access token expires or is revoked.
type Session struct {
	UserID    int64       `json:"user_id"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	TokenID   string      `json:"-"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (s *Session) HasRole(roles ...models.Role) bool {
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}

type sessionKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored by WithSession, or nil.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
