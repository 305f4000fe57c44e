package main

import (
	"context"
	"os"

	"github.com/blues/greensalary/internal/config"
	"github.com/blues/greensalary/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

const programName = "greensalary"

type configKey struct{}

var configFile string

func configFrom(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey{}).(*config.Config)
	return cfg
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Influencer campaign settlement service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// load config
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return err
			}
			if err := logger.Setup(cfg.Log); err != nil {
				return err
			}
			if _, err := maxprocs.Set(maxprocs.Logger(logger.Info)); err != nil {
				logger.Warn("Failed to set GOMAXPROCS: %v", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context(), configFrom(cmd.Context()))
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")

	rootCmd.AddCommand(
		serveCommand(),
		settleCommand(),
		chainStatusCommand(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("%v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
