package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"meridian/pkg/api"
	"meridian/pkg/config"
	"meridian/pkg/engine"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meridian",
		Short: "Multi-region content distribution engine",
		Long: `Meridian catalogs content, replicates it across delivery nodes by
placement score, and routes requests to the best replica.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		statusCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the distribution engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			var cfg *config.Config
			if configFile != "" {
				var err error
				cfg, err = config.Load(configFile)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				cfg = config.LoadFromEnv()
			}
			if address != "" {
				cfg.API.Address = address
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			eng, err := engine.New(*cfg, engine.Options{}, logger)
			if err != nil {
				return fmt.Errorf("failed to build engine: %w", err)
			}

			eng.Start()
			defer eng.Stop()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := api.NewServer(eng, cfg.API, nil, logger)

			logger.Info("Starting meridian",
				zap.String("address", cfg.API.Address),
				zap.Int("seed_nodes", len(cfg.Nodes)))

			return server.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "API listening address (overrides config)")

	return cmd
}

func statusCmd() *cobra.Command {
	var (
		address    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show engine status from a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := fetchStatus(address)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printStatusJSON(st)
			}
			renderStatus(st)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "http://localhost:8440", "base URL of the running instance")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output raw JSON")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Meridian Content Distribution Engine v0.1.0")
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
