package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"monetra.app/internal/backend"
	"monetra.app/internal/identity"
	"monetra.app/internal/session"
)

func main() {
	apiKey := os.Getenv("MONETRA_API_KEY")
	if apiKey == "" {
		log.Fatal("set MONETRA_API_KEY")
	}
	baseURL := os.Getenv("MONETRA_BACKEND_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	email := os.Getenv("MONETRA_SMOKE_EMAIL")
	password := os.Getenv("MONETRA_SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("set MONETRA_SMOKE_EMAIL and MONETRA_SMOKE_PASSWORD")
	}

	provider := identity.NewClient(apiKey)
	be, err := backend.NewClient(baseURL)
	if err != nil {
		log.Fatalf("backend client: %v", err)
	}

	core, err := session.NewCore(provider, be)
	if err != nil {
		log.Fatalf("session core: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := core.Login(ctx, email, password); err != nil {
		log.Fatalf("login: %v", err)
	}

	snap := core.Snapshot()
	if snap.User == nil {
		log.Fatalf("no user after login: err=%q", snap.Err)
	}
	if !snap.AuthChecked || !snap.AuthReady {
		log.Fatalf("session not ready: %+v", snap)
	}

	core.RefreshSubscription(ctx)
	snap = core.Snapshot()

	plan := session.PlanFree
	if snap.Subscription != nil {
		plan = snap.Subscription.Plan
	}
	guard := session.EvaluateGuard(snap, session.GuardRule{RequiredPlan: session.PlanPremium}, "/investments", time.Now())

	if err := core.Logout(ctx); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if core.Snapshot().User != nil {
		log.Fatal("user still present after logout")
	}

	fmt.Printf("✅ session smoke test passed: uid=%s plan=%s premium_gate=%s\n",
		snap.User.UID, plan, guard.Decision)
}
