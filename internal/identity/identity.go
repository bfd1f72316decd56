package identity

import (
	"context"
	"errors"
	"strings"
)

// Profile is the identity provider's view of the signed-in user.
type Profile struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// Event announces an auth-state transition. A nil Profile means signed out.
type Event struct {
	Profile *Profile
}

// Provider abstracts the external identity service. It is the single
// authoritative trigger for session transitions: consumers subscribe once
// via Events and react to what it reports.
type Provider interface {
	// Events emits the current auth state immediately on subscription and
	// every transition afterwards. The channel closes when ctx ends.
	Events(ctx context.Context) <-chan Event
	// IDToken returns a bearer ID token for the current user. When force is
	// set a cached token is never reused.
	IDToken(ctx context.Context, force bool) (string, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Profile, error)
	SignInWithGoogle(ctx context.Context) (*Profile, error)
	SignOut(ctx context.Context) error
}

var (
	// ErrNoCurrentUser indicates a token was requested with nobody signed in.
	ErrNoCurrentUser = errors.New("identity: no current user")
	// ErrQuotaExceeded is the provider's rate-limit condition. It is
	// distinguished from ordinary auth failures because it changes user
	// messaging and must stay sticky in the session.
	ErrQuotaExceeded = errors.New("identity: quota exceeded")
	// ErrGoogleNotConfigured indicates no OAuth credential source was supplied.
	ErrGoogleNotConfigured = errors.New("identity: google sign-in not configured")
)

// IsQuotaExceeded reports whether err is the provider rate-limit condition,
// either via the sentinel or the provider's wire error codes.
func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "QUOTA_EXCEEDED") ||
		strings.Contains(msg, "TOO_MANY_ATTEMPTS")
}
