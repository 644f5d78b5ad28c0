package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"tradepost/cmd/server/config"
	"tradepost/internal/bus"
	tradingdb "tradepost/internal/db/trading"
	"tradepost/internal/gateway"
	"tradepost/internal/observability"
	"tradepost/internal/outbox"
	"tradepost/internal/readmodel"
	"tradepost/internal/realtime"
	"tradepost/internal/trading"
	"tradepost/internal/trading/saga"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	logf := log.Printf
	metrics := observability.NewMetrics()

	busCfg, err := config.LoadBus()
	if err != nil {
		return err
	}
	storeCfg, err := config.LoadStore()
	if err != nil {
		return err
	}
	gatewayCfg, err := config.LoadGateway()
	if err != nil {
		return err
	}
	syncCfg, err := config.LoadSync()
	if err != nil {
		return err
	}
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}
	reliabilityCfg, err := trading.LoadReliabilityConfig()
	if err != nil {
		return err
	}

	var journal bus.Journal
	if busCfg.JournalPath != "" {
		fileJournal, err := bus.NewFileJournal(busCfg.JournalPath)
		if err != nil {
			return err
		}
		defer fileJournal.Close()
		journal = fileJournal
	}

	messageBus, redisClient, cleanupBus, err := buildBus(ctx, busCfg, journal, logf)
	if err != nil {
		return err
	}
	defer cleanupBus()
	instrumented := instrumentedBus{Bus: messageBus, metrics: metrics}

	sagaStore, outboxStore, cleanupStore, err := buildSagaStore(ctx, storeCfg, logf)
	if err != nil {
		return err
	}
	defer cleanupStore()

	catalogStore, pricer := buildCatalog(redisClient)
	inventoryStore := readmodel.NewMemoryStore[readmodel.InventoryItemSnapshot]()
	balanceStore := readmodel.NewMemoryStore[readmodel.UserBalanceSnapshot]()

	machine := trading.NewMachine(pricer, time.Now)
	orchestrator := trading.NewOrchestrator(machine, sagaStore, logf)
	orchestrator.OnTransition(func(state saga.State) {
		metrics.AddTransition(string(state))
	})
	trading.Register(instrumented, orchestrator)

	hub := realtime.NewHub()
	go hub.Run()
	realtime.NewStatusForwarder(hub, logf).Register(instrumented)

	dispatcher := outbox.NewDispatcher(outboxStore, busPublisher{bus: messageBus}, storeCfg.OutboxInterval, storeCfg.OutboxBatch, logf)
	go dispatcher.Run(ctx)

	if redisBus, ok := messageBus.(*bus.RedisBus); ok {
		go func() {
			if err := redisBus.Run(ctx); err != nil && ctx.Err() == nil {
				logf("redis bus stopped: %v", err)
			}
		}()
	} else if localBus, ok := messageBus.(*bus.LocalBus); ok {
		localBus.Start(ctx)
	}

	if err := startSync(ctx, syncCfg, gatewayCfg, reliabilityCfg, catalogStore, inventoryStore, balanceStore, logf); err != nil {
		return err
	}

	api := newPurchaseAPI(instrumented, hub, metrics, logf)
	server := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: api.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logf("listening on %s", httpCfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		metrics.MarkShutdown(metrics.Snapshot().InFlight)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildBus(ctx context.Context, cfg config.BusConfig, journal bus.Journal, logf func(format string, args ...any)) (bus.Bus, *redis.Client, func(), error) {
	cleanup := func() {}

	if cfg.RedisURL == "" {
		logf("in-process bus enabled")
		return bus.NewLocalBus(cfg.LocalShards, journal, logf), nil, cleanup, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, cleanup, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, cleanup, err
	}

	busCfg := bus.RedisBusConfig{
		Prefix:         cfg.StreamPrefix,
		Group:          cfg.Group,
		Consumer:       cfg.Consumer,
		RequestTimeout: cfg.RequestTimeout,
	}
	if cfg.Block != nil {
		busCfg.Block = *cfg.Block
	}
	cleanup = func() {
		if err := client.Close(); err != nil {
			logf("close redis: %v", err)
		}
	}
	logf("redis bus enabled")
	return bus.NewRedisBus(client, busCfg, journal, logf), client, cleanup, nil
}

func buildSagaStore(ctx context.Context, cfg config.StoreConfig, logf func(format string, args ...any)) (saga.Store, outbox.Store, func(), error) {
	cleanup := func() {}

	if cfg.DatabaseURL == "" {
		if cfg.WALPath != "" {
			store, err := saga.NewMemoryStoreWithRecovery(cfg.WALPath)
			if err != nil {
				return nil, nil, cleanup, err
			}
			logf("in-memory saga store with WAL at %s", cfg.WALPath)
			return store, store, cleanup, nil
		}
		logf("in-memory saga store enabled (no durability)")
		store := saga.NewMemoryStore(nil)
		return store, store, cleanup, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, cleanup, err
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	store, err := tradingdb.NewSagaStoreWithSchema(setupCtx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, cleanup, err
	}

	cleanup = func() {
		if err := db.Close(); err != nil {
			logf("close postgres: %v", err)
		}
	}
	logf("postgres saga store enabled")
	return store, store, cleanup, nil
}

func buildCatalog(redisClient *redis.Client) (readmodel.Store[readmodel.CatalogItemSnapshot], trading.Pricer) {
	if redisClient != nil {
		store := readmodel.NewRedisCatalogStore(redisClient, "")
		return store, trading.NewSnapshotPricer(store)
	}
	store := readmodel.NewMemoryStore[readmodel.CatalogItemSnapshot]()
	return store, trading.NewSnapshotPricer(store)
}

func startSync(
	ctx context.Context,
	syncCfg config.SyncConfig,
	gatewayCfg config.GatewayConfig,
	reliabilityCfg trading.ReliabilityConfig,
	catalogStore readmodel.Store[readmodel.CatalogItemSnapshot],
	inventoryStore readmodel.Store[readmodel.InventoryItemSnapshot],
	balanceStore readmodel.Store[readmodel.UserBalanceSnapshot],
	logf func(format string, args ...any),
) error {
	retry := reliabilityCfg.RetryPolicy()

	var catalogClient trading.CatalogClient = trading.NewInMemoryCatalogClient()
	if gatewayCfg.CatalogURL != "" {
		catalogClient = gateway.NewCatalogClient(gatewayCfg.CatalogURL, reliabilityCfg.CallTimeout)
	}
	var inventoryClient trading.InventoryClient = trading.NewInMemoryInventoryClient()
	if gatewayCfg.InventoryURL != "" {
		inventoryClient = gateway.NewInventoryClient(gatewayCfg.InventoryURL, reliabilityCfg.CallTimeout)
	}
	var identityClient trading.IdentityClient = trading.NewInMemoryIdentityClient()
	if gatewayCfg.IdentityURL != "" {
		identityClient = gateway.NewIdentityClient(gatewayCfg.IdentityURL, reliabilityCfg.CallTimeout)
	}

	catalog := trading.NewReliableCatalogClient(catalogClient, reliabilityCfg.Breaker(), retry)
	inventory := trading.NewReliableInventoryClient(inventoryClient, reliabilityCfg.Breaker(), retry)
	identity := trading.NewReliableIdentityClient(identityClient, reliabilityCfg.Breaker(), retry)

	syncer := readmodel.NewSyncer(logf)
	syncer.Add(readmodel.Job{
		Name:     "catalog",
		Schedule: syncCfg.Schedule,
		Run: func(ctx context.Context) error {
			return readmodel.Reconcile(ctx, "catalog", catalog.ListItems, catalogStore,
				func(a, b readmodel.CatalogItemSnapshot) bool { return a == b }, logf)
		},
	})
	syncer.Add(readmodel.Job{
		Name:     "inventory",
		Schedule: syncCfg.Schedule,
		Run: func(ctx context.Context) error {
			return readmodel.Reconcile(ctx, "inventory", inventory.ListItems, inventoryStore,
				func(a, b readmodel.InventoryItemSnapshot) bool { return a == b }, logf)
		},
	})
	syncer.Add(readmodel.Job{
		Name:     "balances",
		Schedule: syncCfg.Schedule,
		Run: func(ctx context.Context) error {
			return readmodel.Reconcile(ctx, "balances", identity.ListUsers, balanceStore,
				func(a, b readmodel.UserBalanceSnapshot) bool { return a == b }, logf)
		},
	})
	return syncer.Start(ctx)
}

// busPublisher adapts the bus to the outbox dispatcher's publisher.
type busPublisher struct {
	bus bus.Publisher
}

func (p busPublisher) Publish(ctx context.Context, kind string, correlationID uuid.UUID, payload []byte) error {
	return p.bus.Publish(ctx, bus.NewEnvelope(kind, correlationID, payload))
}

// instrumentedBus wraps handler subscriptions with metrics spans.
type instrumentedBus struct {
	bus.Bus
	metrics *observability.Metrics
}

func (b instrumentedBus) Subscribe(kind string, h bus.Handler) {
	b.Bus.Subscribe(kind, func(ctx context.Context, env bus.Envelope) error {
		span := b.metrics.Start(kind)
		err := h(ctx, env)
		span.End(err)
		return err
	})
}
