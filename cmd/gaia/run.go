package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aeonia-ai/gaia-sub004/pkg/cli"
	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Gaia gateway",
	Long: `Start the gateway with the specified configuration.

The gateway forwards requests to the configured services, serves the
experience WebSocket and exposes /health and /metrics. SIGINT or SIGTERM
drains open WebSockets and shuts down gracefully; a second signal exits
immediately.

Examples:
  # Start with defaults and GAIA_* environment overrides
  gaia run

  # Start with a config file, reloading the log level when it changes
  gaia run --config /etc/gaia/config.yaml

  # Override listen address
  gaia run --listen 0.0.0.0:8080

  # Validate config without starting the gateway
  gaia run --dry-run`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload the config file when it changes")
}

func runGateway(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	switch {
	case runFlags.logLevel != "":
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	case verbose:
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, levelVar, err := logging.New(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx := cli.SetupSignalHandler(logger)

	logger.Info("starting gaia gateway",
		"version", Version,
		"config", cfgFile,
		"listen", cfg.Server.ListenAddress,
		"services", len(cfg.Services),
		"routes", len(cfg.Routes),
	)

	a, err := newApp(ctx, cfg, logger, levelVar)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	if runFlags.watch && cfgFile != "" {
		w, err := config.NewWatcher(cfgFile, 0, logger)
		if err != nil {
			logger.Warn("config watcher unavailable", "error", err)
		} else {
			go func() {
				if err := w.Watch(ctx, a.applyConfig); err != nil {
					logger.Error("config watcher stopped", "error", err)
				}
			}()
		}
	}

	if err := a.run(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	logger.Info("gaia gateway stopped")
	return nil
}
