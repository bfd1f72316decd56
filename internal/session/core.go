package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"monetra.app/internal/audit"
	"monetra.app/internal/backend"
	"monetra.app/internal/identity"
	"monetra.app/internal/obs"
)

// Fixed user-facing messages. The quota message is deliberately distinct
// from credential or network failures.
const (
	quotaExceededMessage = "Authentication service is temporarily unavailable. Please try again later."
	googleSignInMessage  = "Could not sign in with Google. Please try again."
)

const defaultSyncTimeout = 10 * time.Second

// Backend is the subset of the session/profile service the core consumes.
type Backend interface {
	EstablishSession(ctx context.Context, idToken string) (*backend.SessionPayload, error)
	FetchProfile(ctx context.Context, idToken string) (*backend.ProfilePayload, error)
	Logout(ctx context.Context) error
}

// RegistrationChecker reports whether an identity has completed the
// application's registration flow. Google sign-ins route to registration
// until it has.
type RegistrationChecker interface {
	HasCompleteProfile(ctx context.Context, uid string) (bool, error)
}

// Navigator abstracts client-side navigation so the core can route after
// login and logout without owning any view concerns.
type Navigator interface {
	Navigate(path string)
	CurrentPath() string
}

// Routes names the navigation targets the core drives.
type Routes struct {
	Login    string
	Landing  string
	Register string
	Entry    string
}

// DefaultRoutes returns the conventional route set.
func DefaultRoutes() Routes {
	return Routes{
		Login:    "/login",
		Landing:  "/dashboard",
		Register: "/complete-registration",
		Entry:    "/",
	}
}

// Core owns the canonical session state and keeps it consistent with the
// identity provider and the backend. All state transitions publish a fully
// computed next state through the store.
type Core struct {
	store    *Store
	provider identity.Provider
	backend  Backend
	reg      RegistrationChecker
	nav      Navigator
	routes   Routes

	syncTimeout    time.Duration
	deferEntrySync bool
	clearArtifacts func()
	now            func() time.Time

	// Identity-class operations (event handling, login, logout) are
	// serialized; a second refresh while one is in flight is dropped.
	opMu       sync.Mutex
	refreshing atomic.Bool
}

// Option configures Core behavior.
type Option func(*Core) error

// WithRegistrationChecker wires the registration-completeness collaborator.
func WithRegistrationChecker(rc RegistrationChecker) Option {
	return func(c *Core) error {
		c.reg = rc
		return nil
	}
}

// WithNavigator wires client-side navigation.
func WithNavigator(nav Navigator) Option {
	return func(c *Core) error {
		c.nav = nav
		return nil
	}
}

// WithRoutes overrides the navigation targets.
func WithRoutes(r Routes) Option {
	return func(c *Core) error {
		if r.Login != "" {
			c.routes.Login = r.Login
		}
		if r.Landing != "" {
			c.routes.Landing = r.Landing
		}
		if r.Register != "" {
			c.routes.Register = r.Register
		}
		if r.Entry != "" {
			c.routes.Entry = r.Entry
		}
		return nil
	}
}

// WithSyncTimeout bounds the backend session call.
func WithSyncTimeout(d time.Duration) Option {
	return func(c *Core) error {
		if d <= 0 {
			return errors.New("session: sync timeout must be positive")
		}
		c.syncTimeout = d
		return nil
	}
}

// WithDeferredEntrySync skips the backend sync when the identity event
// arrives on the entry route, constructing a minimal local user instead.
// This trades one render cycle of missing entitlement for lower entry
// latency; it is off unless requested.
func WithDeferredEntrySync() Option {
	return func(c *Core) error {
		c.deferEntrySync = true
		return nil
	}
}

// WithArtifactCleaner registers a hook clearing stored session artifacts
// (cookies, local markers) on sign-out.
func WithArtifactCleaner(fn func()) Option {
	return func(c *Core) error {
		c.clearArtifacts = fn
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Core) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewCore constructs a Core with optional configuration.
func NewCore(provider identity.Provider, be Backend, opts ...Option) (*Core, error) {
	if provider == nil {
		return nil, errors.New("session: identity provider is required")
	}
	if be == nil {
		return nil, errors.New("session: backend client is required")
	}
	c := &Core{
		store:       NewStore(),
		provider:    provider,
		backend:     be,
		routes:      DefaultRoutes(),
		syncTimeout: defaultSyncTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Store exposes the reactive snapshot surface to consumers.
func (c *Core) Store() *Store { return c.store }

// Snapshot returns the current reconciled session.
func (c *Core) Snapshot() Session { return c.store.Snapshot() }

// Run subscribes to identity auth-state notifications and applies them until
// ctx ends. It is the only entry point that ever latches AuthChecked from
// false to true.
func (c *Core) Run(ctx context.Context) error {
	events := c.provider.Events(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handleAuthEvent(ctx, ev.Profile)
		}
	}
}

func (c *Core) handleAuthEvent(ctx context.Context, p *identity.Profile) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if p == nil {
		c.publishSignedOut("")
		obs.ObserveSessionSync("signed_out", 0)
		return
	}

	cur := c.store.Snapshot()
	if cur.User != nil && cur.User.UID == p.UID {
		// Event replay for an already-reconciled identity: no network call.
		next := cur
		next.AuthChecked = true
		next.AuthReady = true
		next.Loading = false
		c.store.publish(next)
		obs.ObserveSessionSync("cached", 0)
		return
	}

	if c.deferEntrySync && c.nav != nil && c.nav.CurrentPath() == c.routes.Entry {
		// Deferred entry sync: the entry route shows a logged-in but
		// unentitled user until the next navigation triggers a real sync.
		next := Session{
			User:        localUser(p),
			AuthChecked: true,
			AuthReady:   true,
		}
		c.store.publish(next)
		obs.ObserveSessionSync("local_only", 0)
		return
	}

	c.syncWithBackend(ctx, p)
}

// syncWithBackend reconciles the session against the backend for the given
// identity. It never returns an error to its callers: implicit operations
// only update the shared state. The returned user is nil when no valid
// session resulted (signed out or quota-blocked).
func (c *Core) syncWithBackend(ctx context.Context, p *identity.Profile) *AuthUser {
	if p == nil {
		c.publishSignedOut("")
		obs.ObserveSessionSync("signed_out", 0)
		return nil
	}

	cur := c.store.Snapshot()
	if cur.User != nil && cur.User.UID == p.UID {
		return cur.User
	}

	start := c.now()

	// The backend must see a token that has not silently expired, so the
	// cached token is never reused for session establishment.
	token, err := c.provider.IDToken(ctx, true)
	if err != nil {
		if identity.IsQuotaExceeded(err) {
			next := Session{
				AuthChecked:   true,
				AuthReady:     true,
				Err:           quotaExceededMessage,
				QuotaExceeded: true,
			}
			c.store.publish(next)
			obs.ObserveSessionSync("quota_exceeded", c.now().Sub(start))
			_ = audit.LogEvent(audit.WithUser(ctx, p.UID), "session.sync", map[string]any{"outcome": "quota_exceeded"})
			return nil
		}
		return c.publishDegraded(ctx, p, start, fmt.Errorf("refresh id token: %w", err))
	}

	syncCtx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	payload, err := c.backend.EstablishSession(syncCtx, token)
	cancel()
	if err != nil {
		return c.publishDegraded(ctx, p, start, err)
	}

	var user *AuthUser
	outcome := "local_only"
	if payload != nil && payload.User != nil {
		user = mergeUser(p, payload.User)
		outcome = "reconciled"
	} else {
		// Backend has no record yet: a provider-only session with no
		// entitlement is still a valid login.
		user = localUser(p)
	}

	next := Session{
		User:         user,
		Subscription: user.Subscription.clone(),
		AuthChecked:  true,
		AuthReady:    true,
	}
	c.store.publish(next)
	obs.ObserveSessionSync(outcome, c.now().Sub(start))
	_ = audit.LogEvent(audit.WithUser(ctx, user.UID), "session.sync", map[string]any{"outcome": outcome})
	return c.store.Snapshot().User
}

// publishDegraded keeps a locally-valid identity when the backend is
// unreachable: transient backend issues must not evict the session.
func (c *Core) publishDegraded(ctx context.Context, p *identity.Profile, start time.Time, cause error) *AuthUser {
	obs.LogRequest(map[string]any{"level": "warn", "msg": "session sync degraded", "error": cause.Error()})
	user := localUser(p)
	next := Session{
		User:        user,
		AuthChecked: true,
		AuthReady:   true,
	}
	c.store.publish(next)
	obs.ObserveSessionSync("degraded", c.now().Sub(start))
	_ = audit.LogEvent(audit.WithUser(ctx, p.UID), "session.sync", map[string]any{"outcome": "degraded"})
	return c.store.Snapshot().User
}

func (c *Core) publishSignedOut(errMsg string) {
	next := Session{
		AuthChecked: true,
		AuthReady:   true,
		Err:         errMsg,
	}
	c.store.publish(next)
	if c.clearArtifacts != nil {
		c.clearArtifacts()
	}
}

// RefreshSubscription re-reads the subscription from the backend and stores
// it in both the user and the denormalized session field. Calling it without
// a signed-in user is a caller bug, handled defensively. An overlapping call
// while one is in flight is dropped.
func (c *Core) RefreshSubscription(ctx context.Context) {
	cur := c.store.Snapshot()
	if cur.User == nil {
		obs.LogRequest(map[string]any{"level": "warn", "msg": "subscription refresh without signed-in user"})
		cur.Subscription = nil
		cur.LoadingSubscription = false
		c.store.publish(cur)
		obs.ObserveSubscriptionRefresh("no_user")
		return
	}
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	defer c.refreshing.Store(false)

	busy := c.store.Snapshot()
	busy.LoadingSubscription = true
	busy.SubscriptionErr = ""
	c.store.publish(busy)

	token, err := c.provider.IDToken(ctx, false)
	if err != nil {
		c.finishRefresh(nil, "subscription refresh failed: "+err.Error(), "error")
		return
	}

	refreshCtx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	payload, err := c.backend.FetchProfile(refreshCtx, token)
	cancel()
	if err != nil {
		c.finishRefresh(nil, "subscription refresh failed: "+err.Error(), "error")
		return
	}

	var sub *Subscription
	outcome := "empty"
	if payload != nil && payload.Subscription != nil {
		sub = NormalizeSubscription(payload.Subscription)
		outcome = "refreshed"
	}
	c.finishRefresh(sub, "", outcome)
	_ = audit.LogEvent(audit.WithUser(ctx, cur.User.UID), "session.refresh", map[string]any{"outcome": outcome})
}

// finishRefresh publishes the refresh result, resetting the busy flag on
// every exit path. The subscription is written to both the user and the
// denormalized session field so the two can never drift.
func (c *Core) finishRefresh(sub *Subscription, errMsg, outcome string) {
	next := c.store.Snapshot()
	next.LoadingSubscription = false
	next.SubscriptionErr = errMsg
	next.Subscription = sub.clone()
	if next.User != nil {
		next.User.Subscription = sub.clone()
	}
	c.store.publish(next)
	obs.ObserveSubscriptionRefresh(outcome)
}

// Login performs email/password sign-in followed by a backend sync. The
// provider's error is both recorded in the session and returned, so a login
// form can render it inline.
func (c *Core) Login(ctx context.Context, email, password string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	busy := c.store.Snapshot()
	busy.Loading = true
	busy.Err = ""
	c.store.publish(busy)

	p, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		next := c.store.Snapshot()
		next.Loading = false
		if identity.IsQuotaExceeded(err) {
			next.Err = quotaExceededMessage
			next.QuotaExceeded = true
		} else {
			next.Err = err.Error()
		}
		c.store.publish(next)
		return err
	}

	user := c.syncWithBackend(ctx, p)
	c.clearLoading()
	if user != nil && c.nav != nil {
		c.nav.Navigate(c.routes.Landing)
	}
	_ = audit.LogEvent(audit.WithUser(ctx, p.UID), "session.login", map[string]any{"method": "password"})
	return nil
}

// LoginWithGoogle performs the OAuth sign-in flow. Identities without a
// complete application profile are routed to registration before any session
// is established.
func (c *Core) LoginWithGoogle(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	busy := c.store.Snapshot()
	busy.Loading = true
	busy.Err = ""
	c.store.publish(busy)

	p, err := c.provider.SignInWithGoogle(ctx)
	if err != nil {
		next := c.store.Snapshot()
		next.Loading = false
		if identity.IsQuotaExceeded(err) {
			next.Err = quotaExceededMessage
			next.QuotaExceeded = true
		} else {
			next.Err = googleSignInMessage
		}
		c.store.publish(next)
		return err
	}

	if c.reg != nil {
		complete, err := c.reg.HasCompleteProfile(ctx, p.UID)
		if err != nil {
			// Checker trouble is not a login failure; proceed to sync.
			obs.LogRequest(map[string]any{"level": "warn", "msg": "registration check failed", "error": err.Error()})
		} else if !complete {
			c.clearLoading()
			if c.nav != nil {
				c.nav.Navigate(c.routes.Register)
			}
			return nil
		}
	}

	user := c.syncWithBackend(ctx, p)
	c.clearLoading()
	if user != nil && c.nav != nil {
		c.nav.Navigate(c.routes.Landing)
	}
	_ = audit.LogEvent(audit.WithUser(ctx, p.UID), "session.login", map[string]any{"method": "google"})
	return nil
}

// Logout signs out of the identity provider, best-effort notifies the
// backend, and unconditionally tears the session down to the logged-out
// defaults. The user's intent to log out always wins over provider or
// backend trouble.
func (c *Core) Logout(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	busy := c.store.Snapshot()
	busy.Loading = true
	c.store.publish(busy)

	signOutErr := c.provider.SignOut(ctx)

	logoutCtx, cancel := context.WithTimeout(ctx, c.syncTimeout)
	if err := c.backend.Logout(logoutCtx); err != nil {
		obs.LogRequest(map[string]any{"level": "warn", "msg": "backend logout failed", "error": err.Error()})
	}
	cancel()

	errMsg := ""
	if signOutErr != nil {
		errMsg = signOutErr.Error()
	}
	c.publishSignedOut(errMsg)
	if c.nav != nil {
		c.nav.Navigate(c.routes.Login)
	}
	_ = audit.LogEvent(ctx, "session.logout", nil)
	return signOutErr
}

// ProfileUpdate carries partial profile fields merged locally after a
// profile-edit flow completed elsewhere. Nil fields are left untouched.
type ProfileUpdate struct {
	Email        *string
	DisplayName  *string
	PhotoURL     *string
	Subscription *backend.SubscriptionPayload
}

// UpdateProfile merges partial profile fields into the current user. It is
// local-only; the caller is responsible for having persisted the change. An
// embedded subscription payload is normalized and replaced wholesale.
func (c *Core) UpdateProfile(update ProfileUpdate) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	next := c.store.Snapshot()
	if next.User == nil {
		obs.LogRequest(map[string]any{"level": "warn", "msg": "profile update without signed-in user"})
		return
	}
	if update.Email != nil {
		next.User.Email = strings.TrimSpace(*update.Email)
	}
	if update.DisplayName != nil {
		next.User.DisplayName = strings.TrimSpace(*update.DisplayName)
	}
	if update.PhotoURL != nil {
		next.User.PhotoURL = strings.TrimSpace(*update.PhotoURL)
	}
	if update.Subscription != nil {
		sub := NormalizeSubscription(update.Subscription)
		next.User.Subscription = sub
		next.Subscription = sub.clone()
	}
	c.store.publish(next)
}

// ClearErrors resets both error fields. QuotaExceeded is deliberately left
// alone; only a successful identity operation clears it.
func (c *Core) ClearErrors() {
	next := c.store.Snapshot()
	next.Err = ""
	next.SubscriptionErr = ""
	c.store.publish(next)
}

func (c *Core) clearLoading() {
	next := c.store.Snapshot()
	next.Loading = false
	c.store.publish(next)
}
