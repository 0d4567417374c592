package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jacob-Jan/proof-of-heart/config"
	"github.com/Jacob-Jan/proof-of-heart/internal/api/handler"
	"github.com/Jacob-Jan/proof-of-heart/internal/cache"
	"github.com/Jacob-Jan/proof-of-heart/internal/directory"
	"github.com/Jacob-Jan/proof-of-heart/internal/relays"
	"github.com/Jacob-Jan/proof-of-heart/internal/session"
	"github.com/Jacob-Jan/proof-of-heart/internal/signer"
	"github.com/Jacob-Jan/proof-of-heart/internal/source"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[API] Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, err := session.Open(cfg.SessionDB)
	if err != nil {
		log.Fatalf("[API] Failed to open session store: %v", err)
	}
	defer sessions.Close()

	localDev := relays.IsLocalHost(cfg.PublicHost)
	policy := relays.NewPolicy(cfg.ProdRelays, cfg.TestRelays, localDev, sessions)
	log.Printf("[API] Relay mode: %s (local dev: %t)", policy.Mode(), localDev)

	adapter := source.NewAdapter(ctx)

	var sgn signer.Signer
	if cfg.SignerSecret != "" {
		local, err := signer.FromSecret(cfg.SignerSecret)
		if err != nil {
			log.Fatalf("[API] Invalid signer secret: %v", err)
		}
		sgn = local
	} else {
		log.Printf("[API] No signer configured; publish endpoints disabled")
	}

	svc := directory.New(adapter, sgn, cfg.ExtensionDTag)
	directoryCache := cache.New(cfg.GetCacheTTL())

	mux := http.NewServeMux()
	h := handler.New(svc, policy, directoryCache, sessions, cfg.QueryLimit)
	h.Register(mux)

	server := &http.Server{
		Addr:         cfg.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("[API] Server starting on %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[API] Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[API] Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] Shutdown error: %v", err)
	}
}
