package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/finanza-bank/ledger-core/internal/config"
	"github.com/finanza-bank/ledger-core/internal/db"
	"github.com/finanza-bank/ledger-core/internal/logger"
	"github.com/finanza-bank/ledger-core/internal/repository/postgres"
	"github.com/finanza-bank/ledger-core/internal/services"
)

// bootstrap provisions the system reserve (owner, treasury account and
// opening seed credit). Running it again changes nothing.
func main() {
	migrate := flag.Bool("migrate", true, "apply pending migrations first")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env, cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DB.URL, cfg.DB.MaxConns)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if *migrate {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	store := postgres.NewStore(pool)
	postings := services.NewLedgerPostingService(cfg.System, log)
	res, err := services.NewBootstrapper(store, postings, cfg.System, log).EnsureReserve(ctx)
	if err != nil {
		log.Error("reserve bootstrap", "err", err)
		os.Exit(1)
	}
	log.Info("bootstrap complete",
		"reserve_user", res.User.ID,
		"reserve_account", res.Account.AccountNumber,
		"created", res.Created,
		"seed_transaction", res.SeedTransactionID)
}
