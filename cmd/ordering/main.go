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
	"golang.org/x/sync/errgroup"

	"github.com/mtogo/foodorders/internal/broker"
	"github.com/mtogo/foodorders/internal/config"
	"github.com/mtogo/foodorders/internal/grpchealth"
	"github.com/mtogo/foodorders/internal/logging"
	"github.com/mtogo/foodorders/internal/ordering"
)

const shutdownGrace = 10 * time.Second

func main() {
	must(config.LoadDotEnv())
	cfg, err := ordering.LoadConfig()
	logger := logging.Setup("ordering", cfg.LogLevel, cfg.LogFormat)
	must(err)

	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Str("db", cfg.DBPath).
		Str("menu", cfg.MenuURL).
		Str("exchange", cfg.RabbitExchange).
		Msg("starting ordering service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repo
	must(os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755))
	store, err := ordering.NewSQLiteStore(cfg.DBPath)
	must(err)
	defer store.Close()

	prices, err := ordering.LoadPriceBook(cfg.PriceBookPath)
	must(err)
	log.Info().Int("items", prices.Len()).Msg("price book loaded")

	// Rabbit
	rabbit, err := broker.NewRabbit(cfg.RabbitURL, cfg.RabbitExchange, logger)
	must(err)
	defer rabbit.Close()

	menu := ordering.NewMenuClient(cfg.MenuURL, cfg.MenuTimeout)
	svc := ordering.NewService(store, menu, prices, rabbit, cfg.PublishTimeout, logger)
	relay := ordering.NewOutboxRelay(store, rabbit, cfg.OutboxInterval, cfg.OutboxBatch, cfg.PublishTimeout, logger)
	saga := ordering.NewSagaHandler(store, logger)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           ordering.NewRouter(ordering.NewHandler(svc, store, logger), cfg.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	health := grpchealth.New("ordering")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rabbit.Consume(gctx, saga.Subscription(cfg.OutcomeQueue, cfg.MaxDeliveries, cfg.Prefetch), saga.Handle)
	})
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return health.Serve(gctx, cfg.GRPCAddr) })
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Warn().Msg("shutting down...")
		health.SetServing(false)
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("ordering service stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("bye")
}

func must(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
