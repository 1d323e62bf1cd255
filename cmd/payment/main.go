package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mtogo/foodorders/internal/broker"
	"github.com/mtogo/foodorders/internal/config"
	"github.com/mtogo/foodorders/internal/grpchealth"
	"github.com/mtogo/foodorders/internal/logging"
	"github.com/mtogo/foodorders/internal/payment"
)

func main() {
	must(config.LoadDotEnv())
	cfg, err := payment.LoadConfig()
	logger := logging.Setup("payment", cfg.LogLevel, cfg.LogFormat)
	must(err)

	log.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("db", cfg.DBPath).
		Str("queue", cfg.Queue).
		Str("credit_limit", cfg.CreditLimit.StringFixed(2)).
		Msg("starting payment service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	must(os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755))
	repo, err := payment.NewSQLiteRepo(cfg.DBPath)
	must(err)
	defer repo.Close()
	must(repo.Init(ctx))

	rabbit, err := broker.NewRabbit(cfg.RabbitURL, cfg.RabbitExchange, logger)
	must(err)
	defer rabbit.Close()

	svc, err := payment.NewService(repo, rabbit, cfg.CreditLimit, cfg.DedupeCache, logger)
	must(err)
	health := grpchealth.New("payment")

	// Worker de pagos (consume order.placed)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rabbit.Consume(gctx, svc.Subscription(cfg.Queue, cfg.MaxDeliveries, cfg.Prefetch), svc.Handle)
	})
	g.Go(func() error { return health.Serve(gctx, cfg.GRPCAddr) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("payment service stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("bye")
}

func must(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}
