package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/paircall/paircall/internal/adapters/http"
	signalws "github.com/paircall/paircall/internal/adapters/signal"
	"github.com/paircall/paircall/internal/app"
	"github.com/paircall/paircall/internal/config"
	"github.com/paircall/paircall/internal/directory"
	"github.com/paircall/paircall/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	presence := app.NewPresenceRegistry()
	calls := app.NewCallTable()
	relay := app.NewRelay(presence, calls, cfg.RingTimeout)
	ctl := signalws.NewController(cfg, relay)

	dir := directory.NewMemory(seedUsers()...)

	r := router.SetupRouter(ctx, cfg, ctl, dir)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("paircall relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// seedUsers fills the in-memory directory stand-in. The real deployment
// points the client at an external user service instead.
func seedUsers() []domain.User {
	names := []struct{ name, email string }{
		{"alice", "alice@example.com"},
		{"bob", "bob@example.com"},
		{"carol", "carol@example.com"},
	}
	out := make([]domain.User, 0, len(names))
	for _, n := range names {
		u, err := domain.NewUser(n.name, n.email, "/static/avatars/"+n.name+".png")
		if err != nil {
			continue
		}
		out = append(out, *u)
	}
	return out
}
