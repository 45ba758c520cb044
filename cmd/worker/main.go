package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/storefront-orders/internal/app"
	"github.com/ariefcatur/storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/listener"
	"github.com/ariefcatur/storefront-orders/internal/logging"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/ariefcatur/storefront-orders/internal/tracing"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if cfg.ServiceName == "order-api" {
		cfg.ServiceName = "order-worker"
	}

	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Store != app.StorePostgres {
		logger.Fatal("worker needs shared state", zap.String("store", cfg.Store))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Fatal("tracing setup", zap.Error(err))
	}

	a, err := app.Build(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("build", zap.Error(err))
	}

	handlers := listener.New(logger, a.Coordinator, redisx.NewDedup(a.Redis, cfg.ServiceName))
	consumers := []struct {
		topic  string
		handle kafkax.Handler
	}{
		{orders.TopicReturnReceived, handlers.ReturnReceived},
		{orders.TopicRefundResult, handlers.RefundResult},
	}

	g, gctx := errgroup.WithContext(ctx)
	sweeper := a.Sweeper()
	g.Go(func() error { return sweeper.Run(gctx) })
	for _, c := range consumers {
		cons := kafkax.NewConsumer(logger, cfg.KafkaBrokers, cfg.WorkerGroup, c.topic, cfg.WorkerConcurrency)
		handle := c.handle
		topic := c.topic
		g.Go(func() error {
			logger.Info("consumer started",
				zap.String("group", cfg.WorkerGroup), zap.String("topic", topic), zap.Int("workers", cfg.WorkerConcurrency))
			return cons.Start(gctx, handle)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker exited", zap.Error(err))
	}
	logger.Info("shutting down worker")

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(cctx); err != nil {
		logger.Warn("close", zap.Error(err))
	}
	if err := shutdownTracing(cctx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
