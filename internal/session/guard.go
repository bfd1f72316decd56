package session

import (
	"net/url"
	"time"
)

// GuardDecision is the outcome of evaluating a route or feature rule
// against a session snapshot.
type GuardDecision int

const (
	// GuardLoading: identity resolution has not completed; render a loading
	// state and take no redirect action.
	GuardLoading GuardDecision = iota
	// GuardAllow: render the guarded content.
	GuardAllow
	// GuardRedirect: send the visitor to the redirect target.
	GuardRedirect
	// GuardUpsell: the user is signed in but under-entitled; render the
	// upsell fallback in place.
	GuardUpsell
)

func (d GuardDecision) String() string {
	switch d {
	case GuardLoading:
		return "loading"
	case GuardAllow:
		return "allow"
	case GuardRedirect:
		return "redirect"
	case GuardUpsell:
		return "upsell"
	default:
		return "unknown"
	}
}

// GuardRule describes what a route or feature requires.
type GuardRule struct {
	RequireUser bool
	// RequiredPlan gates entitlement; empty means no plan requirement.
	RequiredPlan Plan
	// RedirectOnDenied sends under-entitled users to the login path instead
	// of rendering the upsell fallback.
	RedirectOnDenied bool
	// LoginPath overrides the default login route.
	LoginPath string
}

// GuardResult pairs the decision with its redirect target when applicable.
type GuardResult struct {
	Decision GuardDecision
	Redirect string
}

// HasActiveSubscription reports whether the subscription currently grants
// access: active or trialing, and not past its expiry.
func HasActiveSubscription(sub *Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	if sub.Status != StatusActive && sub.Status != StatusTrialing {
		return false
	}
	if !sub.ExpiresAt.IsZero() && !sub.ExpiresAt.After(now) {
		return false
	}
	return true
}

// EvaluateGuard applies the pure guard decision rules to a session snapshot.
// currentPath is preserved as the return target on login redirects. The
// correctness of these rules depends entirely on the invariants the core
// guarantees, so they live beside it.
func EvaluateGuard(s Session, rule GuardRule, currentPath string, now time.Time) GuardResult {
	if !s.AuthChecked {
		return GuardResult{Decision: GuardLoading}
	}

	needsUser := rule.RequireUser || rule.RequiredPlan != ""
	if needsUser && s.User == nil {
		return GuardResult{Decision: GuardRedirect, Redirect: loginRedirect(rule, currentPath)}
	}

	if rule.RequiredPlan != "" {
		if !HasActiveSubscription(s.Subscription, now) || s.Subscription.Plan.Rank() < rule.RequiredPlan.Rank() {
			if rule.RedirectOnDenied {
				return GuardResult{Decision: GuardRedirect, Redirect: loginRedirect(rule, currentPath)}
			}
			return GuardResult{Decision: GuardUpsell}
		}
	}

	return GuardResult{Decision: GuardAllow}
}

func loginRedirect(rule GuardRule, currentPath string) string {
	login := rule.LoginPath
	if login == "" {
		login = DefaultRoutes().Login
	}
	if currentPath == "" || currentPath == login {
		return login
	}
	return login + "?next=" + url.QueryEscape(currentPath)
}
