package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"monetra.app/internal/profile"
)

// Store is the Postgres-backed profile store.
type Store struct {
	db *sql.DB
}

var _ profile.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool (used by tests).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) FindUser(ctx context.Context, uid string) (profile.User, error) {
	var u profile.User
	err := s.db.QueryRowContext(ctx, `
		select uid, email, name, photo_url, created_at, updated_at
		from users where uid=$1
	`, uid).Scan(&u.UID, &u.Email, &u.Name, &u.PhotoURL, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.User{}, profile.ErrNotFound
	}
	if err != nil {
		return profile.User{}, err
	}
	return u, nil
}

func (s *Store) UpsertUser(ctx context.Context, u profile.User) (profile.User, error) {
	if u.UID == "" {
		return profile.User{}, profile.ErrInvalidUser
	}
	err := s.db.QueryRowContext(ctx, `
		insert into users(uid, email, name, photo_url)
		values ($1,$2,$3,$4)
		on conflict (uid) do update set
			email     = coalesce(nullif(excluded.email,''), users.email),
			name      = coalesce(nullif(excluded.name,''), users.name),
			photo_url = coalesce(nullif(excluded.photo_url,''), users.photo_url),
			updated_at = now()
		returning uid, email, name, photo_url, created_at, updated_at
	`, u.UID, u.Email, u.Name, u.PhotoURL).
		Scan(&u.UID, &u.Email, &u.Name, &u.PhotoURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return profile.User{}, err
	}
	return u, nil
}

func (s *Store) SubscriptionFor(ctx context.Context, uid string) (profile.Subscription, error) {
	var (
		sub       profile.Subscription
		expires   sql.NullTime
		trialEnds sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, plan, status, expires_at, trial_ends_at,
		       coalesce(stripe_customer_id,''), coalesce(stripe_subscription_id,'')
		from subscriptions where uid=$1
	`, uid).Scan(&sub.ID, &sub.Plan, &sub.Status, &expires, &trialEnds,
		&sub.StripeCustomerID, &sub.StripeSubscriptionID)
	if errors.Is(err, sql.ErrNoRows) {
		return profile.Subscription{}, profile.ErrNotFound
	}
	if err != nil {
		return profile.Subscription{}, err
	}
	if expires.Valid {
		sub.ExpiresAt = expires.Time.UTC()
	}
	if trialEnds.Valid {
		sub.TrialEndsAt = trialEnds.Time.UTC()
	}
	return sub, nil
}

func (s *Store) SetSubscription(ctx context.Context, uid string, sub profile.Subscription) error {
	if uid == "" {
		return profile.ErrInvalidUser
	}
	_, err := s.db.ExecContext(ctx, `
		insert into subscriptions(uid, id, plan, status, expires_at, trial_ends_at,
		                          stripe_customer_id, stripe_subscription_id)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),nullif($8,''))
		on conflict (uid) do update set
			id = excluded.id,
			plan = excluded.plan,
			status = excluded.status,
			expires_at = excluded.expires_at,
			trial_ends_at = excluded.trial_ends_at,
			stripe_customer_id = excluded.stripe_customer_id,
			stripe_subscription_id = excluded.stripe_subscription_id,
			updated_at = now()
	`, uid, sub.ID, sub.Plan, sub.Status,
		nullTime(sub.ExpiresAt), nullTime(sub.TrialEndsAt),
		sub.StripeCustomerID, sub.StripeSubscriptionID)
	return err
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
