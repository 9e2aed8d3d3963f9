package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stokasz/ChainMMO-Monad-sub000/internal/app"
	"github.com/stokasz/ChainMMO-Monad-sub000/internal/config"
	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

var (
	rootCmd = &cobra.Command{
		Use:           "chainmmo-mid",
		Short:         "ChainMMO chain indexer and action queue",
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return logger.Init(&logger.Config{
				Level:       cfg.Log.Level,
				Format:      cfg.Log.Format,
				ServiceName: cfg.Service.Name,
				Environment: cfg.Service.Env,
				File:        cfg.Log.File,
				MaxSizeMB:   cfg.Log.MaxSizeMB,
				MaxBackups:  cfg.Log.MaxBackups,
				MaxAgeDays:  cfg.Log.MaxAgeDays,
			})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run indexer, action worker and HTTP/gRPC endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting service",
				zap.String("service", cfg.Service.Name),
				zap.String("env", cfg.Service.Env),
				zap.String("mode", cfg.Service.Mode),
				zap.Int("http_port", cfg.Service.HTTPPort),
				zap.Int("grpc_port", cfg.Service.GRPCPort))

			application, err := app.NewApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create app: %w", err)
			}
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("app run error: %w", err)
			}

			logger.Info("service stopped")
			return nil
		},
	}

	cfg     *config.Config
	cfgFile string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/config.yaml", "config file path")
	rootCmd.AddCommand(serveCmd, migrateCmd, indexerCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
