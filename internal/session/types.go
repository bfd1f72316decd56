package session

import (
	"strings"
	"time"

	"monetra.app/internal/backend"
	"monetra.app/internal/identity"
)

// Plan is a billing tier.
type Plan string

// Status is a subscription lifecycle state.
type Status string

const (
	PlanFree       Plan = "free"
	PlanPremium    Plan = "premium"
	PlanEnterprise Plan = "enterprise"
	PlanTrial      Plan = "trial"
)

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
	StatusPending  Status = "pending"
	StatusTrialing Status = "trialing"
)

// Rank orders plans for entitlement checks. A trial grants premium access
// while it lasts.
func (p Plan) Rank() int {
	switch p {
	case PlanPremium, PlanTrial:
		return 1
	case PlanEnterprise:
		return 2
	default:
		return 0
	}
}

// Subscription is the reconciled billing entitlement. Zero time values mean
// the corresponding bound is absent.
type Subscription struct {
	ID                   string
	Plan                 Plan
	Status               Status
	ExpiresAt            time.Time
	TrialEndsAt          time.Time
	StripeCustomerID     string
	StripeSubscriptionID string
}

func (s *Subscription) clone() *Subscription {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// AuthUser is the identity-provider profile merged with backend profile data.
type AuthUser struct {
	UID          string
	Email        string
	DisplayName  string
	PhotoURL     string
	Subscription *Subscription
}

func (u *AuthUser) clone() *AuthUser {
	if u == nil {
		return nil
	}
	out := *u
	out.Subscription = u.Subscription.clone()
	return &out
}

// Session is the application's reconciled view of the current user and
// entitlement. Snapshots handed to consumers are deep copies; the only
// mutation surface is the Core's operation set.
type Session struct {
	User *AuthUser
	// Subscription mirrors User.Subscription for convenient access. The two
	// must always be equal by value.
	Subscription *Subscription
	// AuthChecked latches to true after the first identity resolution pass
	// and only reverts on full logout-then-reinit.
	AuthChecked bool
	// AuthReady moves in lockstep with AuthChecked; kept as a distinct field
	// for interface stability.
	AuthReady           bool
	Loading             bool
	LoadingSubscription bool
	Err                 string
	SubscriptionErr     string
	// QuotaExceeded marks the provider's rate-limit condition. It stays set
	// until an operation of the identity class succeeds; ClearErrors never
	// touches it.
	QuotaExceeded bool
}

func (s Session) clone() Session {
	out := s
	out.User = s.User.clone()
	out.Subscription = s.Subscription.clone()
	return out
}

// NormalizePlan maps a wire plan value onto the known tiers, defaulting
// unrecognized values to free.
func NormalizePlan(raw string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(raw))) {
	case PlanPremium:
		return PlanPremium
	case PlanEnterprise:
		return PlanEnterprise
	case PlanTrial:
		return PlanTrial
	default:
		return PlanFree
	}
}

// NormalizeStatus maps a wire status value onto the known lifecycle states,
// defaulting unrecognized values to inactive.
func NormalizeStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusActive:
		return StatusActive
	case StatusCanceled:
		return StatusCanceled
	case StatusExpired:
		return StatusExpired
	case StatusPending:
		return StatusPending
	case StatusTrialing:
		return StatusTrialing
	default:
		return StatusInactive
	}
}

// NormalizeSubscription is the single entry point turning a backend payload
// into the reconciled Subscription record. Subscription payloads are always
// replaced wholesale, never patched field by field.
func NormalizeSubscription(p *backend.SubscriptionPayload) *Subscription {
	if p == nil {
		return nil
	}
	sub := &Subscription{
		ID:                   strings.TrimSpace(p.ID),
		Plan:                 NormalizePlan(p.Plan),
		Status:               NormalizeStatus(p.Status),
		StripeCustomerID:     strings.TrimSpace(p.StripeCustomerID),
		StripeSubscriptionID: strings.TrimSpace(p.StripeSubscriptionID),
	}
	if p.ExpiresAt != nil {
		sub.ExpiresAt = p.ExpiresAt.UTC()
	}
	if p.TrialEndsAt != nil {
		sub.TrialEndsAt = p.TrialEndsAt.UTC()
	}
	return sub
}

// localUser derives a minimal AuthUser from the identity provider alone,
// with no entitlement. Used when the backend has no record yet and when a
// backend failure must not evict an otherwise-valid local session.
func localUser(p *identity.Profile) *AuthUser {
	if p == nil {
		return nil
	}
	return &AuthUser{
		UID:         p.UID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		PhotoURL:    p.PhotoURL,
	}
}

// mergeUser combines the backend profile with the identity-provider profile.
// Provider fields win only where the backend returned nothing, so display
// name and photo survive a sparse backend record.
func mergeUser(p *identity.Profile, u *backend.UserPayload) *AuthUser {
	merged := &AuthUser{
		UID:         strings.TrimSpace(u.UID),
		Email:       strings.TrimSpace(u.Email),
		DisplayName: strings.TrimSpace(u.Name),
		PhotoURL:    strings.TrimSpace(u.PhotoURL),
	}
	if p != nil {
		if merged.UID == "" {
			merged.UID = p.UID
		}
		if merged.Email == "" {
			merged.Email = p.Email
		}
		if merged.DisplayName == "" {
			merged.DisplayName = p.DisplayName
		}
		if merged.PhotoURL == "" {
			merged.PhotoURL = p.PhotoURL
		}
	}
	merged.Subscription = NormalizeSubscription(u.Subscription)
	return merged
}
