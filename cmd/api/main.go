package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/finanza-bank/ledger-core/internal/api"
	"github.com/finanza-bank/ledger-core/internal/config"
	"github.com/finanza-bank/ledger-core/internal/db"
	"github.com/finanza-bank/ledger-core/internal/events"
	"github.com/finanza-bank/ledger-core/internal/lock"
	"github.com/finanza-bank/ledger-core/internal/logger"
	"github.com/finanza-bank/ledger-core/internal/metrics"
	"github.com/finanza-bank/ledger-core/internal/repository/postgres"
	"github.com/finanza-bank/ledger-core/internal/services"
	"github.com/finanza-bank/ledger-core/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DB.URL, cfg.DB.MaxConns)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.DB.AutoMigrate {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	var locker lock.Locker = lock.Noop{}
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error("redis connect", "err", err)
			os.Exit(1)
		}
		locker = lock.NewRedis(rdb, cfg.Redis.LockTTL)
	} else {
		log.Warn("redis not configured; reserve serialization relies on row locks only")
	}

	var pub events.Publisher = events.LogPublisher{Log: log}
	if cfg.Kafka.Enabled() {
		producer, err := events.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Error("kafka connect", "err", err)
			os.Exit(1)
		}
		kp := events.NewKafkaPublisher(producer, cfg.Kafka.Topic)
		defer kp.Close()
		pub = kp
	}

	metrics.Init()
	store := postgres.NewStore(pool)
	wp := worker.NewPool(cfg.Workers.Count)
	defer wp.Stop()

	balances := services.NewBalanceEngine(store.Repos(), cfg.System)
	gate := services.NewTransactionGate(store.Repos(), balances)
	postings := services.NewLedgerPostingService(cfg.System, log)
	txns := services.NewTransactionService(store, gate, balances, postings, cfg.System, locker, wp, log)
	reconciler := services.NewReconciler(store, balances, postings, log)
	relay := events.NewRelay(store, pub, log, cfg.Outbox.BatchSize, cfg.Outbox.MaxRetries)

	if _, err := services.NewBootstrapper(store, postings, cfg.System, log).EnsureReserve(ctx); err != nil {
		log.Error("reserve bootstrap", "err", err)
		os.Exit(1)
	}

	var jobs sync.WaitGroup
	jobs.Add(3)
	go func() { defer jobs.Done(); relay.Start(ctx, cfg.Outbox.Interval) }()
	go func() { defer jobs.Done(); reconciler.Start(ctx, cfg.Workers.ReconcileInterval) }()
	go func() {
		defer jobs.Done()
		txns.StartRelease(ctx, cfg.Workers.ReleaseInterval, cfg.Workers.ReleaseBatch)
	}()

	srv := &http.Server{
		Addr: ":" + cfg.App.HTTPPort,
		Handler: api.NewRouter(api.RouterDeps{
			Log:        log,
			Ready:      pool,
			Balances:   balances,
			Reconciler: reconciler,
			OpsRPS:     cfg.App.OpsRPS,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("server starting", "port", cfg.App.HTTPPort, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	jobs.Wait()
}
