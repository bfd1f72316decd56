package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type providerFixture struct {
	srv *httptest.Server

	refreshCalls atomic.Int64

	passwordStatus int
	passwordBody   string
	idpStatus      int
	idpBody        string
}

func newProviderFixture(t *testing.T) *providerFixture {
	t.Helper()
	f := &providerFixture{
		passwordStatus: http.StatusOK,
		passwordBody: `{"localId":"u1","email":"u1@example.com","displayName":"User One",
			"photoUrl":"https://img.example.com/u1.png","idToken":"token-1",
			"refreshToken":"refresh-1","expiresIn":"3600"}`,
		idpStatus: http.StatusOK,
		idpBody: `{"localId":"g1","email":"g1@example.com","displayName":"Google One",
			"idToken":"token-g1","refreshToken":"refresh-g1","expiresIn":"3600"}`,
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "accounts:signInWithPassword"):
			w.WriteHeader(f.passwordStatus)
			w.Write([]byte(f.passwordBody))
		case strings.Contains(r.URL.Path, "accounts:signInWithIdp"):
			w.WriteHeader(f.idpStatus)
			w.Write([]byte(f.idpBody))
		case strings.Contains(r.URL.Path, "/token"):
			f.refreshCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]string{
				"id_token":      "token-2",
				"refresh_token": "refresh-2",
				"expires_in":    "3600",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *providerFixture) client(opts ...ClientOption) *Client {
	base := []ClientOption{WithEndpoints(f.srv.URL, f.srv.URL+"/token")}
	return NewClient("test-key", append(base, opts...)...)
}

func TestSignInWithPassword(t *testing.T) {
	f := newProviderFixture(t)
	c := f.client()

	p, err := c.SignInWithPassword(context.Background(), "u1@example.com", "secret")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if p.UID != "u1" || p.Email != "u1@example.com" || p.DisplayName != "User One" {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if cur := c.CurrentProfile(); cur == nil || cur.UID != "u1" {
		t.Fatalf("current profile not adopted: %+v", cur)
	}
}

func TestSignInWithPasswordInvalidCredentials(t *testing.T) {
	f := newProviderFixture(t)
	f.passwordStatus = http.StatusBadRequest
	f.passwordBody = `{"error":{"code":400,"message":"INVALID_PASSWORD"}}`
	c := f.client()

	_, err := c.SignInWithPassword(context.Background(), "u1@example.com", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "INVALID_PASSWORD") {
		t.Fatalf("provider message lost: %v", err)
	}
	if IsQuotaExceeded(err) {
		t.Fatal("credential failure must not classify as quota")
	}
	if c.CurrentProfile() != nil {
		t.Fatal("failed sign-in must not adopt a profile")
	}
}

func TestSignInWithPasswordQuotaExceeded(t *testing.T) {
	f := newProviderFixture(t)
	f.passwordStatus = http.StatusBadRequest
	f.passwordBody = `{"error":{"code":400,"message":"QUOTA_EXCEEDED : too many requests"}}`
	c := f.client()

	_, err := c.SignInWithPassword(context.Background(), "u1@example.com", "secret")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if !IsQuotaExceeded(err) {
		t.Fatalf("IsQuotaExceeded must classify %v", err)
	}
}

func TestIsQuotaExceededBySubstring(t *testing.T) {
	cases := map[error]bool{
		errors.New("identity: QUOTA_EXCEEDED : limit reached"): true,
		errors.New("identity: TOO_MANY_ATTEMPTS_TRY_LATER"):    true,
		errors.New("identity: INVALID_PASSWORD"):               false,
		nil:                                                    false,
	}
	for err, want := range cases {
		if got := IsQuotaExceeded(err); got != want {
			t.Fatalf("IsQuotaExceeded(%v)=%v, want %v", err, got, want)
		}
	}
}

func TestIDTokenCachesUntilForced(t *testing.T) {
	f := newProviderFixture(t)
	c := f.client()

	if _, err := c.SignInWithPassword(context.Background(), "u1@example.com", "secret"); err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}

	token, err := c.IDToken(context.Background(), false)
	if err != nil {
		t.Fatalf("IDToken: %v", err)
	}
	if token != "token-1" {
		t.Fatalf("expected cached token, got %q", token)
	}
	if n := f.refreshCalls.Load(); n != 0 {
		t.Fatalf("cached path must not refresh, calls=%d", n)
	}

	token, err = c.IDToken(context.Background(), true)
	if err != nil {
		t.Fatalf("IDToken(force): %v", err)
	}
	if token != "token-2" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
	if n := f.refreshCalls.Load(); n != 1 {
		t.Fatalf("forced path must refresh exactly once, calls=%d", n)
	}
}

func TestIDTokenRefreshesNearExpiry(t *testing.T) {
	f := newProviderFixture(t)
	now := time.Now()
	c := f.client(WithClock(func() time.Time { return now }))

	if _, err := c.SignInWithPassword(context.Background(), "u1@example.com", "secret"); err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}

	now = now.Add(time.Hour) // past the 3600s expiry
	token, err := c.IDToken(context.Background(), false)
	if err != nil {
		t.Fatalf("IDToken: %v", err)
	}
	if token != "token-2" {
		t.Fatalf("expired token must be refreshed, got %q", token)
	}
}

func TestIDTokenWithoutUser(t *testing.T) {
	f := newProviderFixture(t)
	c := f.client()

	if _, err := c.IDToken(context.Background(), false); !errors.Is(err, ErrNoCurrentUser) {
		t.Fatalf("expected ErrNoCurrentUser, got %v", err)
	}
}

func TestEventsEmitInitialAndTransitions(t *testing.T) {
	f := newProviderFixture(t)
	c := f.client()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := c.Events(ctx)

	initial := <-ch
	if initial.Profile != nil {
		t.Fatalf("expected signed-out initial state, got %+v", initial.Profile)
	}

	if _, err := c.SignInWithPassword(context.Background(), "u1@example.com", "secret"); err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	ev := <-ch
	if ev.Profile == nil || ev.Profile.UID != "u1" {
		t.Fatalf("expected sign-in event, got %+v", ev.Profile)
	}

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	ev = <-ch
	if ev.Profile != nil {
		t.Fatalf("expected sign-out event, got %+v", ev.Profile)
	}
	if c.CurrentProfile() != nil {
		t.Fatal("sign-out must clear the current profile")
	}
}

func TestSignInWithGoogle(t *testing.T) {
	f := newProviderFixture(t)

	unconfigured := f.client()
	if _, err := unconfigured.SignInWithGoogle(context.Background()); !errors.Is(err, ErrGoogleNotConfigured) {
		t.Fatalf("expected ErrGoogleNotConfigured, got %v", err)
	}

	c := f.client(WithGoogleTokenSource(func(ctx context.Context) (string, error) {
		return "oauth-access-token", nil
	}))
	p, err := c.SignInWithGoogle(context.Background())
	if err != nil {
		t.Fatalf("SignInWithGoogle: %v", err)
	}
	if p.UID != "g1" || p.DisplayName != "Google One" {
		t.Fatalf("unexpected profile: %+v", p)
	}
}
