package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/argus-watch/argus/internal/config"
	"github.com/argus-watch/argus/internal/publish"
	"github.com/argus-watch/argus/internal/reconcile"
	"github.com/argus-watch/argus/internal/scan"
	"github.com/argus-watch/argus/internal/server"
	"github.com/argus-watch/argus/internal/state"
)

func main() {
	configPath := flag.String("config", "argus.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	noProcessHints := flag.Bool("no-process-hints", false, "Disable CPU sampling of agent processes")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	store := state.NewStore(state.Options{
		IdleTimeout:       cfg.State.IdleTimeout,
		StaleProjectTTL:   cfg.State.StaleProjectTTL,
		StaleBlockedTTL:   cfg.State.StaleBlockedTTL,
		CompletedCapacity: cfg.State.CompletedCapacity,
		CompletedTTL:      cfg.State.CompletedTTL,
	})
	pub := publish.New()
	scanner := scan.New(
		cfg.Discovery.ClaudeRoot,
		cfg.Discovery.OpenClawRoot,
		cfg.Discovery.ClaudeWindow,
		cfg.Discovery.OpenClawWindow,
	)

	var sampler reconcile.BusySampler
	if !*noProcessHints {
		sampler = reconcile.NewProcessSampler()
	}
	rec := reconcile.New(cfg.Reconcile, scanner, store, pub, sampler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recDone := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(recDone)
	}()

	if watcher, err := reconcile.NewWatcher(scanner.Roots(), rec.Nudge); err != nil {
		log.Printf("Transcript watch unavailable, polling only: %v", err)
	} else {
		go watcher.Run(ctx)
	}

	mux := http.NewServeMux()
	server.New(store, pub, rec, cfg.Actions.Opener).SetupRoutes(mux)
	srv := &http.Server{Addr: cfg.Addr(), Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		shutdownCtx, release := context.WithTimeout(context.Background(), 5*time.Second)
		defer release()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	log.Printf("Listening on %s", cfg.Addr())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	// Let the reconciler finish its current pass before dropping the
	// publisher's subscribers.
	<-recDone
	pub.Close()
}
