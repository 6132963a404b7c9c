package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/metrics-sidecar/internal/application"
	"github.com/eugenenazirov/metrics-sidecar/internal/config"
	"github.com/eugenenazirov/metrics-sidecar/internal/logging"
)

var signalNotify = signal.Notify

// hostHooks is the part of the application driven by process signals.
type hostHooks interface {
	Stop(ctx context.Context) error
	TriggerReload() bool
}

func main() {
	kingpinApp := kingpin.New("metrics-sidecar", "Exports a metric registry to InfluxDB and hot-reloads its export settings")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	envFile := kingpinApp.Flag("env-file", "Path to a dotenv file with SIDECAR_* and export override variables").String()
	configDir := kingpinApp.Flag("config-dir", "Directory containing the export properties file").String()
	adminPort := kingpinApp.Flag("admin-port", "Port of the admin HTTP API").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	reloadPeriod := kingpinApp.Flag("reload-period", "Interval between configuration reloads").Default("0s").Duration()

	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
		EnvFile:    *envFile,
	}

	if *configDir != "" {
		overrides.ConfigDir = configDir
	}

	if *adminPort != "" {
		overrides.AdminPort = adminPort
	}

	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}

	if *reloadPeriod > 0 {
		overrides.ReloadPeriod = reloadPeriod
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start sidecar", zap.Error(err))
	}

	waitForSignals(app, cfg.ShutdownGracePeriod, logger)
}

// waitForSignals forces a reload on SIGHUP and stops the application on
// SIGINT or SIGTERM.
func waitForSignals(app hostHooks, timeout time.Duration, logger *zap.Logger) {
	sigs := make(chan os.Signal, 1)
	signalNotify(sigs, os.Interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigs {
		if sig == syscall.SIGHUP {
			if app.TriggerReload() {
				logger.Info("configuration reload requested")
			} else {
				logger.Info("configuration reload already pending")
			}
			continue
		}

		logger.Info("shutting down", zap.Stringer("signal", sig))
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := app.Stop(ctx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
		cancel()
		return
	}
}
