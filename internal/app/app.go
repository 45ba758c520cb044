// Package app assembles the service from configuration. Both binaries build
// the same graph and differ only in what they run.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/gateway"
	"github.com/ariefcatur/storefront-orders/internal/httpx"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/memstore"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
	"github.com/ariefcatur/storefront-orders/internal/notify"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Catalog is both sides of the product price list.
type Catalog interface {
	orders.Catalog
	httpx.Products
}

type App struct {
	Cfg     config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics

	Ledger      *inventory.Ledger
	Manager     *inventory.Manager
	Coordinator *orders.Coordinator
	Catalog     Catalog
	Lock        inventory.LeaderLock

	DB          *pgxpool.Pool
	Redis       *redis.Client
	Publisher   *notify.Publisher
	StatusCache *redisx.StatusCache

	producers []*kafkax.Producer
}

// Build wires stores and collaborators. STORE=memory keeps the whole graph in
// process: no Postgres, Redis or Kafka.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Cfg: cfg, Log: log}
	if reg != nil {
		a.Metrics = metrics.New(reg)
	}

	var (
		stockStore inventory.StockStore
		resStore   inventory.ReservationStore
		orderStore orders.OrderStore
		payStore   orders.PaymentStore
		retStore   orders.ReturnStore
	)
	switch cfg.Store {
	case StoreMemory:
		stockStore = memstore.NewStockStore()
		resStore = memstore.NewReservationStore()
		orderStore = memstore.NewOrderStore()
		payStore = memstore.NewPaymentStore()
		retStore = memstore.NewReturnStore()
		a.Catalog = memstore.NewCatalog()
		a.Lock = &memstore.LocalLock{}
	case StorePostgres:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.DB = db
		if err := postgres.Migrate(ctx, db); err != nil {
			a.Close(ctx)
			return nil, err
		}
		stockStore = &postgres.StockStore{DB: db}
		resStore = &postgres.ReservationStore{DB: db}
		orderStore = &postgres.OrderStore{DB: db}
		payStore = &postgres.PaymentStore{DB: db}
		retStore = &postgres.ReturnStore{DB: db}
		a.Catalog = &postgres.Catalog{DB: db}

		a.Redis = redisx.New(cfg.RedisAddr)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Lock = redisx.NewLock(a.Redis, redisx.KeySweepLock, cfg.SweepLockTTL)
		a.StatusCache = redisx.NewStatusCache(a.Redis)
		a.Publisher = a.kafkaPublisher(cfg)
		a.Publisher.OnStatusChanged(a.StatusCache.Invalidate)
	default:
		return nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}

	var stockEvents inventory.StockEvents
	if a.Publisher != nil {
		stockEvents = a.Publisher
	}
	a.Ledger = inventory.NewLedger(log, stockStore, stockEvents, a.Metrics)
	a.Manager = inventory.NewManager(log, a.Ledger, resStore, a.Metrics)

	deps := orders.Deps{
		Log:            log,
		Orders:         orderStore,
		Payments:       payStore,
		Returns:        retStore,
		Reservations:   a.Manager,
		Catalog:        a.Catalog,
		Gateway:        paymentGateway(cfg),
		Metrics:        a.Metrics,
		ReservationTTL: cfg.ReservationTTL,
	}
	if a.Publisher != nil {
		deps.Events = a.Publisher
	}
	if a.Redis != nil {
		deps.Cache = redisx.NewCallbackCache(a.Redis, cfg.CallbackCacheTTL, log)
	}
	a.Coordinator = orders.NewCoordinator(deps)
	return a, nil
}

func (a *App) kafkaPublisher(cfg config.Config) *notify.Publisher {
	sinks := map[string]notify.Sink{}
	for _, topic := range []string{
		orders.TopicStatusChanged,
		orders.TopicRefundRequested,
		orders.TopicReviewRequired,
		orders.TopicStockLow,
		orders.TopicStockAvailable,
	} {
		p := kafkax.NewProducer(a.Log, cfg.KafkaBrokers, topic, 1024)
		p.Start()
		a.producers = append(a.producers, p)
		sinks[topic] = p
	}
	return notify.New(a.Log, cfg.ServiceName, sinks)
}

func paymentGateway(cfg config.Config) orders.Gateway {
	if cfg.PaymentGatewayURL == "" {
		return gateway.Sandbox{}
	}
	return gateway.NewHTTP(cfg.PaymentGatewayURL, 0)
}

// Sweeper builds the expiry sweeper with unpaid-order timeouts attached.
func (a *App) Sweeper() *inventory.Sweeper {
	s := inventory.NewSweeper(a.Log, a.Manager, a.Lock, a.Metrics, a.Cfg.SweepInterval, a.Cfg.SweepBatch)
	s.AfterSweep(func(ctx context.Context) error {
		_, err := a.Coordinator.CancelExpiredOrders(ctx, a.Cfg.SweepBatch)
		return err
	})
	return s
}

// Close flushes producers and releases connections.
func (a *App) Close(ctx context.Context) error {
	for _, p := range a.producers {
		p.Close()
	}
	for _, p := range a.producers {
		p.WaitClosed()
	}
	var err error
	if a.Redis != nil {
		err = errors.Join(err, a.Redis.Close())
	}
	if a.DB != nil {
		a.DB.Close()
	}
	return err
}
