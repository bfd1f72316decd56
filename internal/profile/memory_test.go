package profile

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUpsertUserCreatesAndUpdates(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	s := NewInMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	created, err := s.UpsertUser(ctx, User{UID: "u1", Email: "u1@example.com", Name: "User One"})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if !created.CreatedAt.Equal(now) || !created.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps not set: %+v", created)
	}

	now = now.Add(time.Hour)
	updated, err := s.UpsertUser(ctx, User{UID: "u1", PhotoURL: "https://img.example.com/u1.png"})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if updated.Email != "u1@example.com" || updated.Name != "User One" {
		t.Fatalf("blank fields must keep stored values: %+v", updated)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatal("creation time must be immutable")
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("update time not advanced: %+v", updated)
	}
}

func TestUpsertUserRejectsEmptyUID(t *testing.T) {
	s := NewInMemory()
	if _, err := s.UpsertUser(context.Background(), User{}); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func TestFindUserNotFound(t *testing.T) {
	s := NewInMemory()
	if _, err := s.FindUser(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	if _, err := s.SubscriptionFor(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before set, got %v", err)
	}

	sub := Subscription{
		ID:               "sub-1",
		Plan:             "premium",
		Status:           "active",
		ExpiresAt:        time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		StripeCustomerID: "cus_123",
	}
	if err := s.SetSubscription(ctx, "u1", sub); err != nil {
		t.Fatalf("SetSubscription: %v", err)
	}

	got, err := s.SubscriptionFor(ctx, "u1")
	if err != nil {
		t.Fatalf("SubscriptionFor: %v", err)
	}
	if got != sub {
		t.Fatalf("round-trip mismatch: %+v vs %+v", got, sub)
	}

	if err := s.SetSubscription(ctx, "", sub); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}
