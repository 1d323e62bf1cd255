package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mtogo/foodorders/internal/config"
	"github.com/mtogo/foodorders/internal/legacymenu"
	"github.com/mtogo/foodorders/internal/logging"
)

const shutdownGrace = 10 * time.Second

func main() {
	must(config.LoadDotEnv())
	cfg, err := legacymenu.LoadConfig()
	logger := logging.Setup("legacy-menu", cfg.LogLevel, cfg.LogFormat)
	must(err)

	log.Info().Str("addr", cfg.HTTPAddr).Str("db", cfg.DBPath).Msg("starting legacy menu")

	must(os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755))
	repo, err := legacymenu.NewRepository(cfg.DBPath)
	must(err)
	defer repo.Close()

	if cfg.SeedOnStart {
		must(repo.Seed(context.Background()))
		log.Info().Msg("seeded legacy menu")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           legacymenu.NewServer(repo, logger).Routes(cfg.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Señales para apagado limpio
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		log.Warn().Msg("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info().Msg("http listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("serve")
	}
	<-drained
}

func must(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
