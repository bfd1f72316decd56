package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"monetra.app/internal/httpapi"
	"monetra.app/internal/idtoken"
	"monetra.app/internal/obs"
	"monetra.app/internal/profile"
	"monetra.app/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := os.Getenv("MONETRA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Profile storage: Postgres when a DSN is configured, in-memory otherwise.
	var (
		store   profile.Store
		pgStore *pg.Store
	)
	if dsn := os.Getenv("MONETRA_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
	} else {
		store = profile.NewInMemory()
	}

	// ID token verification: Firebase Admin in production, shared-secret
	// HS256 for dev deployments.
	var verifier idtoken.Verifier
	if creds := os.Getenv("MONETRA_FIREBASE_CREDENTIALS"); creds != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		v, err := idtoken.NewFirebaseVerifier(ctx, creds)
		cancel()
		if err != nil {
			log.Fatalf("init firebase verifier: %v", err)
		}
		verifier = v
	} else if secret := os.Getenv("MONETRA_AUTH_SECRET"); secret != "" {
		v, err := idtoken.NewStaticVerifier(secret)
		if err != nil {
			log.Fatalf("init static verifier: %v", err)
		}
		verifier = v
	} else {
		log.Fatal("set MONETRA_FIREBASE_CREDENTIALS or MONETRA_AUTH_SECRET")
	}

	rp := httpapi.ReadyProbe{}
	if pgStore != nil {
		rp.DB = pgStore.DB()
	}
	api := httpapi.New(rp, version, store, verifier)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting monetra-sessiond %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
