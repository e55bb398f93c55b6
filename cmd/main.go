// lmdesk backend
//
// This service is the local backend behind the lmdesk desktop shell. It
// stores per-provider API credentials and chat transcripts in an
// embedded document store and proxies chat-completion requests to the
// configured LLM providers, normalizing their responses into one
// server-sent-event stream.
//
// CLI Usage:
//
//	-addr string
//	  Address to listen on (default "127.0.0.1:8000", env LMDESK_ADDR).
//	-data-dir string
//	  Directory for the database file (default: the platform's per-user
//	  application data directory, env LMDESK_DATA_DIR).
//
// The interface is meant for the desktop shell's embedded web UI over
// localhost and carries no authentication of its own.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"lmdesk/internal/app"
	"lmdesk/internal/store"
)

func main() {
	// A missing .env file is fine; existing environment wins either way.
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log := zerolog.New(output).With().Timestamp().Logger()

	addr := flag.String("addr", envOr("LMDESK_ADDR", "127.0.0.1:8000"), "address to listen on")
	dataDir := flag.String("data-dir", os.Getenv("LMDESK_DATA_DIR"), "directory for the database file")
	flag.Parse()

	dir := *dataDir
	if dir == "" {
		var err error
		dir, err = store.DefaultDataDir()
		if err != nil {
			log.Fatal().Err(err).Msg("could not resolve data directory")
		}
	}

	st, err := store.Open(dir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", dir).Msg("could not open document store")
	}
	defer st.Close()
	log.Info().Str("path", st.Path()).Msg("document store ready")

	a := app.NewApp(st, log)

	// Expose stored credentials once before serving; every completion
	// request refreshes again.
	if _, err := a.Vault.Refresh(); err != nil {
		log.Warn().Err(err).Msg("initial credential refresh failed")
	}

	server := &http.Server{
		Addr:    *addr,
		Handler: a.Router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutting down...")
		cancel()
	}()

	go func() {
		log.Info().Str("addr", *addr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("could not start server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	} else {
		log.Info().Msg("server gracefully stopped")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
