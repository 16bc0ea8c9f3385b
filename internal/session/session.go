// Package session holds the signed-in user's access token.
//
// The token is issued and verified by the hosted auth service. This
// package only reads the subject and expiry to answer "is someone signed
// in, and who". It also supplies the bearer token for backend requests,
// falling back to the project's public API key when nobody is signed in.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenInvalid is returned when an access token cannot be parsed or has
// no subject.
var ErrTokenInvalid = errors.New("session: invalid access token")

// Claims are the access token fields this client reads.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Session is the current authentication state.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Session struct {
	apiKey string
	now    func() time.Time

	mu     sync.RWMutex
	token  string
	claims *Claims
}

// New creates an unauthenticated session. apiKey is the bearer fallback.
func New(apiKey string) *Session {
	return &Session{apiKey: apiKey, now: time.Now}
}

// SetAccessToken installs a token handed over by the auth flow. An empty
// token signs the user out.
func (s *Session) SetAccessToken(token string) error {
	if token == "" {
		s.Clear()
		return nil
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if claims.Subject == "" {
		return fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.claims = claims
	return nil
}

// Clear signs the user out.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.claims = nil
}

// IsAuthenticated reports whether an unexpired user token is installed.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validLocked()
}

func (s *Session) validLocked() bool {
	if s.claims == nil {
		return false
	}
	if exp := s.claims.ExpiresAt; exp != nil && !s.now().Before(exp.Time) {
		return false
	}
	return true
}

// UserID returns the signed-in user's id (the token subject).
func (s *Session) UserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.validLocked() {
		return "", false
	}
	return s.claims.Subject, true
}

// Token returns the bearer token for backend requests: the user's access
// token while it is valid, otherwise the public API key.
func (s *Session) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.validLocked() {
		return s.token, nil
	}
	return s.apiKey, nil
}
