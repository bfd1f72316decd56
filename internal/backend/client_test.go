package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEstablishSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/session" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		http.SetCookie(w, &http.Cookie{Name: "monetra_session", Value: "s1", Path: "/"})
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user":{"uid":"u1","email":"u1@example.com","name":"User One",
			"subscription":{"id":"sub-1","plan":"premium","status":"active"}}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	payload, err := c.EstablishSession(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("EstablishSession: %v", err)
	}
	if payload.User == nil || payload.User.UID != "u1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.User.Subscription == nil || payload.User.Subscription.Plan != "premium" {
		t.Fatalf("subscription not decoded: %+v", payload.User.Subscription)
	}
}

func TestEstablishSessionWithoutRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	payload, err := c.EstablishSession(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("EstablishSession: %v", err)
	}
	if payload.User != nil {
		t.Fatalf("expected nil user, got %+v", payload.User)
	}
}

func TestEstablishSessionUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	_, err := c.EstablishSession(context.Background(), "stale-token")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestEstablishSessionTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, _ := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := c.EstablishSession(context.Background(), "token-1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not applied, took %v", elapsed)
	}
}

func TestFetchProfile(t *testing.T) {
	expires := time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/user/profile" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"subscription":{"id":"sub-1","plan":"enterprise","status":"active",
			"expiresAt":"2027-01-15T00:00:00Z"}}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	payload, err := c.FetchProfile(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("FetchProfile: %v", err)
	}
	if payload.Subscription == nil || payload.Subscription.Plan != "enterprise" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Subscription.ExpiresAt == nil || !payload.Subscription.ExpiresAt.Equal(expires) {
		t.Fatalf("expiry not decoded: %v", payload.Subscription.ExpiresAt)
	}
}

func TestLogoutSendsSessionCookie(t *testing.T) {
	var sawCookie bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/session":
			http.SetCookie(w, &http.Cookie{Name: "monetra_session", Value: "s1", Path: "/"})
			w.Write([]byte(`{}`))
		case "/api/auth/logout":
			if _, err := r.Cookie("monetra_session"); err == nil {
				sawCookie = true
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	if _, err := c.EstablishSession(context.Background(), "token-1"); err != nil {
		t.Fatalf("EstablishSession: %v", err)
	}
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !sawCookie {
		t.Fatal("logout request must carry the session cookie")
	}
}

func TestServerErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	_, err := c.FetchProfile(context.Background(), "token-1")
	if err == nil || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected generic server error, got %v", err)
	}
}
