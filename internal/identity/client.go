package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAuthEndpoint  = "https://identitytoolkit.googleapis.com/v1"
	defaultTokenEndpoint = "https://securetoken.googleapis.com/v1/token"

	// Refresh slightly ahead of expiry so a cached token handed to the
	// backend is never already expired in flight.
	tokenExpirySkew = 30 * time.Second
)

// Client talks to the Identity Toolkit / Secure Token REST endpoints and
// implements Provider. It keeps the current signed-in user in memory and
// fans auth-state transitions out to subscribers.
type Client struct {
	apiKey        string
	authEndpoint  string
	tokenEndpoint string
	httpClient    *http.Client
	googleToken   func(ctx context.Context) (string, error)
	now           func() time.Time

	mu    sync.Mutex
	state *authState

	subMu sync.RWMutex
	subs  map[int]chan Event
	next  int
}

var _ Provider = (*Client)(nil)

type authState struct {
	profile      Profile
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

// ClientOption configures Client behavior.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithEndpoints overrides the provider endpoints (useful for tests).
func WithEndpoints(authEndpoint, tokenEndpoint string) ClientOption {
	return func(c *Client) {
		if authEndpoint != "" {
			c.authEndpoint = authEndpoint
		}
		if tokenEndpoint != "" {
			c.tokenEndpoint = tokenEndpoint
		}
	}
}

// WithGoogleTokenSource supplies the OAuth credential used for Google
// sign-in. The application's own OAuth flow produces the access token;
// the client only exchanges it for a provider session.
func WithGoogleTokenSource(fn func(ctx context.Context) (string, error)) ClientOption {
	return func(c *Client) { c.googleToken = fn }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewClient constructs a Client for the given public API key.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:        apiKey,
		authEndpoint:  defaultAuthEndpoint,
		tokenEndpoint: defaultTokenEndpoint,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		now:           time.Now,
		subs:          make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events registers a subscriber. The current auth state is emitted
// immediately, mirroring the provider's auth-state-changed semantics, so a
// fresh subscriber always completes one identity resolution pass.
func (c *Client) Events(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	c.mu.Lock()
	ch <- Event{Profile: c.currentProfileLocked()}
	c.mu.Unlock()

	c.subMu.Lock()
	id := c.next
	c.next++
	c.subs[id] = ch
	c.subMu.Unlock()

	go func() {
		<-ctx.Done()
		c.subMu.Lock()
		delete(c.subs, id)
		close(ch)
		c.subMu.Unlock()
	}()

	return ch
}

func (c *Client) publish(p *Profile) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- Event{Profile: p}:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

func (c *Client) currentProfileLocked() *Profile {
	if c.state == nil {
		return nil
	}
	p := c.state.profile
	return &p
}

// CurrentProfile returns the signed-in profile, or nil when signed out.
func (c *Client) CurrentProfile() *Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentProfileLocked()
}

type signInResponse struct {
	LocalID        string `json:"localId"`
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	ProfilePicture string `json:"profilePicture"`
	PhotoURL       string `json:"photoUrl"`
	IDToken        string `json:"idToken"`
	RefreshToken   string `json:"refreshToken"`
	ExpiresIn      string `json:"expiresIn"`
}

type providerError struct {
	Err struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignInWithPassword performs email/password sign-in and publishes the new
// auth state on success.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Profile, error) {
	payload := map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}
	var resp signInResponse
	if err := c.post(ctx, c.authEndpoint+"/accounts:signInWithPassword", payload, &resp); err != nil {
		return nil, err
	}
	return c.adoptSignIn(resp), nil
}

// SignInWithGoogle exchanges an OAuth credential from the configured token
// source for a provider session.
func (c *Client) SignInWithGoogle(ctx context.Context) (*Profile, error) {
	if c.googleToken == nil {
		return nil, ErrGoogleNotConfigured
	}
	accessToken, err := c.googleToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: obtain google credential: %w", err)
	}
	payload := map[string]any{
		"postBody":            "access_token=" + accessToken + "&providerId=google.com",
		"requestUri":          "http://localhost",
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}
	var resp signInResponse
	if err := c.post(ctx, c.authEndpoint+"/accounts:signInWithIdp", payload, &resp); err != nil {
		return nil, err
	}
	return c.adoptSignIn(resp), nil
}

func (c *Client) adoptSignIn(resp signInResponse) *Profile {
	photo := resp.PhotoURL
	if photo == "" {
		photo = resp.ProfilePicture
	}
	profile := Profile{
		UID:         resp.LocalID,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		PhotoURL:    photo,
	}

	c.mu.Lock()
	c.state = &authState{
		profile:      profile,
		idToken:      resp.IDToken,
		refreshToken: resp.RefreshToken,
		expiresAt:    c.tokenExpiry(resp.IDToken, resp.ExpiresIn),
	}
	c.mu.Unlock()

	c.publish(&profile)
	out := profile
	return &out
}

// SignOut clears the local auth state and notifies subscribers.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.state = nil
	c.mu.Unlock()
	c.publish(nil)
	return nil
}

// IDToken returns a bearer ID token for the current user. A cached token is
// reused until close to expiry unless force is set, in which case the
// refresh endpoint is always consulted.
func (c *Client) IDToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	st := c.state
	if st == nil {
		c.mu.Unlock()
		return "", ErrNoCurrentUser
	}
	if !force && st.idToken != "" && c.now().Add(tokenExpirySkew).Before(st.expiresAt) {
		token := st.idToken
		c.mu.Unlock()
		return token, nil
	}
	refreshToken := st.refreshToken
	c.mu.Unlock()

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.tokenEndpoint+"?key="+url.QueryEscape(c.apiKey),
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity: refresh token: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", decodeProviderError(body, httpResp.StatusCode)
	}

	var resp struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("identity: decode refresh response: %w", err)
	}

	c.mu.Lock()
	if c.state != nil {
		c.state.idToken = resp.IDToken
		if resp.RefreshToken != "" {
			c.state.refreshToken = resp.RefreshToken
		}
		c.state.expiresAt = c.tokenExpiry(resp.IDToken, resp.ExpiresIn)
	}
	c.mu.Unlock()

	return resp.IDToken, nil
}

// tokenExpiry prefers the exp claim of the token itself and falls back to
// the expires_in hint from the provider.
func (c *Client) tokenExpiry(idToken, expiresIn string) time.Time {
	if idToken != "" {
		parser := jwt.NewParser()
		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(idToken, claims); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				return exp.Time
			}
		}
	}
	if secs, err := strconv.Atoi(expiresIn); err == nil && secs > 0 {
		return c.now().Add(time.Duration(secs) * time.Second)
	}
	return c.now().Add(time.Hour)
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint+"?key="+url.QueryEscape(c.apiKey), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return decodeProviderError(body, resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

func decodeProviderError(body []byte, status int) error {
	var perr providerError
	if err := json.Unmarshal(body, &perr); err == nil && perr.Err.Message != "" {
		base := fmt.Errorf("identity: %s", perr.Err.Message)
		if IsQuotaExceeded(base) {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, perr.Err.Message)
		}
		return base
	}
	return fmt.Errorf("identity: provider returned status %d", status)
}
