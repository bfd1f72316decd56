package profile

import "context"

// Store defines profile and subscription persistence.
type Store interface {
	FindUser(ctx context.Context, uid string) (User, error)
	UpsertUser(ctx context.Context, u User) (User, error)
	SubscriptionFor(ctx context.Context, uid string) (Subscription, error)
	SetSubscription(ctx context.Context, uid string, sub Subscription) error
}
