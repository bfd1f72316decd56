package profile

import (
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("profile: not found")
	ErrInvalidUser = errors.New("profile: invalid user")
)

// User is the backend-side account record keyed by the identity provider UID.
type User struct {
	UID       string
	Email     string
	Name      string
	PhotoURL  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscription is the backend-side billing entitlement for a user. Zero time
// values mean the corresponding bound is absent.
type Subscription struct {
	ID                   string
	Plan                 string
	Status               string
	ExpiresAt            time.Time
	TrialEndsAt          time.Time
	StripeCustomerID     string
	StripeSubscriptionID string
}
