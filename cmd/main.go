package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voicebridge-ai/voicebridge/pkg/server"
	"github.com/voicebridge-ai/voicebridge/pkg/store"
	"github.com/voicebridge-ai/voicebridge/pkg/trace"
)

func main() {
	godotenv.Load()

	if err := trace.Initialize(context.Background(), trace.DefaultConfig()); err != nil {
		log.Printf("[Main] Tracing disabled: %v", err)
	}

	cfg, err := server.Load()
	if err != nil {
		log.Fatalf("[Main] Config: %v", err)
	}

	var st store.Store
	if cfg.DatabasePath != "" {
		st, err = store.OpenSQLite(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("[Main] Store: %v", err)
		}
	} else {
		log.Printf("[Main] DATABASE_PATH not set, using in-memory store")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	srv, err := server.New(cfg, st)
	if err != nil {
		log.Fatalf("[Main] Server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("[Main] Received %s, shutting down", sig)
	case err := <-errCh:
		log.Printf("[Main] Server stopped: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[Main] Shutdown: %v", err)
	}
	if err := trace.Shutdown(ctx); err != nil {
		log.Printf("[Main] Trace shutdown: %v", err)
	}
}
