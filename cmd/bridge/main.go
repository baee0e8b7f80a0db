package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-host-bridge/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configPath string
		logLevel   string
		duration   time.Duration
	)

	rootCmd := &cobra.Command{
		Use:           "bridge",
		Short:         "Host bridge for bindgen Wasm modules",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	runCmd := &cobra.Command{
		Use:   "run [bundle-dir | bundle-name | file.wasm | url]",
		Short: "Load a module into a headless window and drive its event loop",
		Long: `Load a module into a headless window and drive its event loop.

Without an argument the module co-located with the executable is loaded.
A directory is loaded as a bundle; a bare name is looked up in the configured
bundle paths.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath, logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			target := ""
			if len(args) == 1 {
				target = args[0]
			}

			ctx, cancel := signalContext(cmd.Context(), logger)
			defer cancel()
			if duration > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, duration)
				defer stop()
			}

			return run(ctx, cfg, logger, target)
		},
	}
	runCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the bundles found in the configured bundle paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath, logLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return list(cmd.OutOrStdout(), cfg, logger)
		},
	}

	rootCmd.AddCommand(runCmd, listCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger.
func setup(configPath, logLevel string) (*config.BridgeConfig, *zap.Logger, error) {
	cfg, err := config.LoadBridgeConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	zap.ReplaceGlobals(logger)

	logger.Info("Starting wasm-host-bridge",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
