package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// Default bound for a session establishment round-trip. Expiry is treated as
// an ordinary failure by callers (degrade-to-local-session).
const defaultTimeout = 10 * time.Second

var (
	ErrUnauthorized = errors.New("backend: unauthorized")
)

// SubscriptionPayload is the backend's wire shape for a billing entitlement.
type SubscriptionPayload struct {
	ID                   string     `json:"id"`
	Plan                 string     `json:"plan"`
	Status               string     `json:"status"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
	TrialEndsAt          *time.Time `json:"trialEndsAt,omitempty"`
	StripeCustomerID     string     `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string     `json:"stripeSubscriptionId,omitempty"`
}

// UserPayload is the backend's wire shape for a user profile.
type UserPayload struct {
	UID          string               `json:"uid"`
	Email        string               `json:"email"`
	Name         string               `json:"name"`
	PhotoURL     string               `json:"photoUrl"`
	Subscription *SubscriptionPayload `json:"subscription,omitempty"`
}

// SessionPayload is the response of POST /api/auth/session. A nil User means
// the backend has no record for this identity yet.
type SessionPayload struct {
	User *UserPayload `json:"user"`
}

// ProfilePayload is the response of GET /api/user/profile.
type ProfilePayload struct {
	Subscription *SubscriptionPayload `json:"subscription,omitempty"`
}

// Client is the HTTP client for the session/profile service. It carries a
// cookie jar so the cookie-based logout endpoint sees the session cookie set
// during establishment.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	timeout    time.Duration
}

// ClientOption configures Client behavior.
type ClientOption func(*Client)

// WithTimeout overrides the per-call timeout bound.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient overrides the HTTP client. The caller is responsible for
// attaching a cookie jar if logout bookkeeping is needed.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient constructs a Client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:       base,
		httpClient: &http.Client{Jar: jar},
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EstablishSession exchanges an ID token for the application session
// snapshot via POST /api/auth/session.
func (c *Client) EstablishSession(ctx context.Context, idToken string) (*SessionPayload, error) {
	var out SessionPayload
	if err := c.do(ctx, http.MethodPost, "/api/auth/session", idToken, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchProfile refreshes the subscription snapshot via GET /api/user/profile.
func (c *Client) FetchProfile(ctx context.Context, idToken string) (*ProfilePayload, error) {
	var out ProfilePayload
	if err := c.do(ctx, http.MethodGet, "/api/user/profile", idToken, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout notifies the backend of sign-out. The call is cookie-based and
// best-effort: callers log failures but never block teardown on them.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", "", nil)
}

func (c *Client) do(ctx context.Context, method, path, idToken string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if idToken != "" {
		req.Header.Set("Authorization", "Bearer "+idToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("backend: %s %s returned status %d", method, path, resp.StatusCode)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("backend: decode %s response: %w", path, err)
	}
	return nil
}
