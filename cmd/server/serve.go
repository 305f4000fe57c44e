package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blues/greensalary/internal/analysis"
	"github.com/blues/greensalary/internal/config"
	"github.com/blues/greensalary/internal/handler"
	"github.com/blues/greensalary/internal/logger"
	"github.com/blues/greensalary/internal/logic"
	"github.com/blues/greensalary/internal/monitor"
	"github.com/blues/greensalary/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the settlement scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context(), configFrom(cmd.Context()))
		},
	}
}

func serveRun(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	gateway, err := analysis.NewGateway(a.db,
		analysis.NewHTTPScorer(cfg.Analysis.Endpoint, cfg.Analysis.Timeout),
		analysis.NewHTTPChecker(cfg.Analysis.ProbeTimeout),
		a.policy,
		analysis.Options{
			Workers:      cfg.Analysis.Workers,
			PdfBaseUrl:   cfg.Analysis.PdfBaseUrl,
			SitePrefixes: cfg.Analysis.SiteUrlPrefixes,
			Metrics:      a.metrics,
		},
	)
	if err != nil {
		return err
	}
	defer gateway.Close(shutdownTimeout)

	if n, err := gateway.Recover(ctx); err != nil {
		logger.Error("Failed to recover analysis jobs: %v", err)
	} else if n > 0 {
		logger.Info("Re-queued %d interrupted analysis jobs", n)
	}

	// start scheduled jobs
	if err := a.runs.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	payments := handler.NewPaymentHandler(a.engine, a.runs, a.chain)
	if cfg.Monitor.Enabled {
		events := monitor.NewEventMonitor(a.db, a.chain, cfg.Monitor, a.metrics)
		events.Start(ctx)
		defer events.Stop()
		payments.WithEventMonitor(events)
	}

	// gin mode
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.Setup(router.Handlers{
		Payment:    payments,
		Influencer: handler.NewInfluencerHandler(logic.NewInfluencerLogic(a.db, a.policy), gateway),
		Advertiser: handler.NewAdvertiserHandler(logic.NewContractLogic(a.db, a.policy), logic.NewAdvertiserLogic(a.db, a.policy)),
		Admin:      handler.NewAdminHandler(logic.NewAskLogic(a.db, a.policy)),
		Gatherer:   a.registry,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed: %v", err)
	}
	return nil
}
