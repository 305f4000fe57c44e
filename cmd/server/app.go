package main

import (
	"context"
	"fmt"
	"time"

	"github.com/blues/greensalary/internal/chain"
	"github.com/blues/greensalary/internal/config"
	"github.com/blues/greensalary/internal/database"
	"github.com/blues/greensalary/internal/lock"
	"github.com/blues/greensalary/internal/logger"
	"github.com/blues/greensalary/internal/metrics"
	"github.com/blues/greensalary/internal/model"
	"github.com/blues/greensalary/internal/monitor"
	"github.com/blues/greensalary/internal/scheduler"
	"github.com/blues/greensalary/internal/settlement"
	"github.com/blues/greensalary/internal/window"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

// chainGateway is what the settlement engine and the payment endpoints need
// from the chain; both *chain.Client and *chain.Offline provide it.
type chainGateway interface {
	settlement.Gateway
	monitor.EventSource
	GetStatus(ctx context.Context) *chain.Status
	GetContractBalance(ctx context.Context) (*chain.Balance, error)
	GetAdInfo(ctx context.Context, adId int64) (*chain.AdInfo, error)
	GetInfluencerInfo(ctx context.Context, adId int64, wallet string) (*chain.InfluencerInfo, error)
	Close() error
}

// app holds the components shared by the serve and settle commands.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	chain    chainGateway
	policy   window.Policy
	registry *prometheus.Registry
	metrics  *metrics.Collector
	engine   *settlement.Engine
	runs     *scheduler.Manager
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		policy: window.NewPolicy(cfg.Settlement.Location(),
			cfg.Settlement.ReviewGraceDays, cfg.Settlement.SettlementGrace),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	// database
	db, err := database.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	// chain client
	a.chain = dialChain(ctx, cfg)
	a.closers = append(a.closers, a.chain.Close)

	payable := make([]model.ReviewStatus, 0, len(cfg.Settlement.PayableStatuses))
	for _, s := range cfg.Settlement.PayableStatuses {
		payable = append(payable, model.ReviewStatus(s))
	}
	a.engine = settlement.NewEngine(db, a.chain, a.policy,
		settlement.WithMetrics(a.metrics),
		settlement.WithPayableStatuses(payable),
	)

	shared, closeLock, err := lock.New(ctx, cfg.Lock, db)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize run lock: %w", err)
	}
	a.closers = append(a.closers, closeLock)

	opts := []scheduler.Option{scheduler.WithMetrics(a.metrics)}
	if _, local := shared.(*lock.Local); !local {
		opts = append(opts, scheduler.WithSharedLock(shared))
	}
	a.runs, err = scheduler.NewManager(a.engine, cfg.Settlement, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// dialChain falls back to an offline gateway so the API stays up while the
// node is unreachable.
func dialChain(ctx context.Context, cfg *config.Config) chainGateway {
	env := cfg.Chain.Env
	profile, err := cfg.ActiveChain()
	if err != nil {
		logger.Error("Chain disabled: %v", err)
		return chain.NewOffline(env, profile, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	client, err := chain.Dial(dialCtx, env, profile)
	if err != nil {
		logger.Error("Failed to initialize chain client, payments will fail until restart: %v", err)
		return chain.NewOffline(env, profile, err)
	}
	return client
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	if a.runs != nil {
		a.runs.Shutdown()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Close failed: %v", err)
		}
	}
}
