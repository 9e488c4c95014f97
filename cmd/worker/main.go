// Package main runs the world tick worker: it connects to Postgres, applies
// migrations, and polls the tick orchestrator until shut down.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/limbopet/worldcore/internal/config"
	"github.com/limbopet/worldcore/internal/decay"
	"github.com/limbopet/worldcore/internal/economy"
	"github.com/limbopet/worldcore/internal/ledger"
	"github.com/limbopet/worldcore/internal/platform/migrations"
	"github.com/limbopet/worldcore/internal/platform/postgres"
	"github.com/limbopet/worldcore/internal/tick"
	"github.com/limbopet/worldcore/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		logger.NewDefault("worker").WithError(err).Fatal("configuration invalid")
	}

	log := logger.New(cfg.Logging).WithField("service", "worker")
	log.WithField("world", cfg.Worker.World).Info("starting world tick worker")

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if err := migrations.Apply(db.DB, log); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	ledgerOpts := []ledger.Option{}
	if cfg.Redis.Enabled {
		cache := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer cache.Close()
		ledgerOpts = append(ledgerOpts, ledger.WithBalanceCache(ledger.NewRedisCache(cache, 0)))
		log.WithField("addr", cfg.Redis.Addr).Info("balance mirror enabled")
	}
	ledgerSvc := ledger.New(db, log, ledgerOpts...)

	orchestratorOpts := []tick.OrchestratorOption{tick.WithMetrics(tick.NewMetrics())}
	if cfg.Worker.PinToSystemDay {
		orchestratorOpts = append(orchestratorOpts, tick.PinToSystemDay())
	}
	orchestrator := tick.NewOrchestrator(db, log, cfg.Worker.World, orchestratorOpts...)

	// Registration order is execution order: the economy establishes the
	// day's cycle before decay debits anyone against it.
	orchestrator.Register("economy", economy.New(ledgerSvc, log).SubTick)
	orchestrator.Register("decay", decay.New(ledgerSvc, log).SubTick)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Worker.Enabled {
		log.Warn("worker disabled by configuration, exiting")
		return
	}

	worker := tick.NewWorker(orchestrator, log, cfg.Worker.PollInterval.Std())
	if err := worker.Start(ctx); err != nil {
		log.WithError(err).Fatal("worker start failed")
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	worker.Stop()
	log.Info("worker stopped")
}
