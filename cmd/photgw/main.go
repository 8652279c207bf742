// Package main is the photgw launcher. It loads the configuration, starts
// one pipeline per photometer, the publisher and the admin interface, and
// maps process signals onto shutdown, reload, pause and resume.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/c360/photgw/config"
	adminhttp "github.com/c360/photgw/gateway/http"
	"github.com/c360/photgw/logging"
	"github.com/c360/photgw/metric"
	"github.com/c360/photgw/service"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "photgw"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.LookupEnv, os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, lookup lookupFunc, out io.Writer) error {
	cli, err := parseFlags(args, lookup, out)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(out, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	levels, logger := setupLogging(cli.LogLevel, cli.LogFormat, out)
	slog.SetDefault(logger)

	loader := config.NewLoader()
	loader.AddEnvFile(cli.EnvFile)
	cfg, err := loader.LoadFile(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cli.Validate {
		logger.Info("Configuration is valid", "devices", len(cfg.Devices), "broker", cfg.Broker.String())
		return nil
	}

	logger.Info("Starting photometer gateway",
		"version", Version,
		"config_path", cli.ConfigPath,
		"devices", len(cfg.Devices))

	metrics := metric.NewMetricsRegistry()
	gw, err := service.NewGateway(cfg, service.Options{
		MetricsRegistry: metrics,
		Levels:          levels,
	})
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	app := &application{
		cli:     cli,
		loader:  loader,
		current: config.NewSafeConfig(cfg),
		gw:      gw,
		logger:  logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if cfg.Admin.Enabled {
		admin, err := adminhttp.New(cfg.Admin, adminhttp.Deps{
			Levels:  levels,
			Client:  gw.Publisher(),
			Reload:  app.reload,
			Monitor: gw.Monitor(),
			Metrics: metrics,
			Logger:  levels.Component(logging.Admin),
		})
		if err != nil {
			return fmt.Errorf("build admin interface: %w", err)
		}
		sup := service.NewSupervisor(service.SupervisorConfig{Backoff: cfg.Backoff}, gw.Monitor(), metrics,
			levels.Component(logging.Supervisor))
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Supervise(ctx, admin)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.handleSignals(ctx)
	}()

	err = app.runUntilStopped(ctx)
	stop()
	if !errors.Is(err, errShutdownTimeout) {
		wg.Wait()
	}
	return err
}

var errShutdownTimeout = errors.New("graceful shutdown timed out")

// application holds what signal handlers and the admin reload need.
type application struct {
	cli     *CLIConfig
	loader  *config.Loader
	current *config.SafeConfig
	gw      *service.Gateway
	logger  *slog.Logger

	reloadMu sync.Mutex
}

// runUntilStopped runs the gateway until ctx is cancelled and bounds the
// time the shutdown may take.
func (a *application) runUntilStopped(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- a.gw.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Received shutdown signal")
	select {
	case err := <-done:
		if err != nil {
			return err
		}
		a.logger.Info("Gateway shutdown complete")
		return nil
	case <-time.After(a.cli.ShutdownTimeout):
		return fmt.Errorf("%w after %v", errShutdownTimeout, a.cli.ShutdownTimeout)
	}
}

// reload re-reads the configuration file and applies its log levels. The
// rest of the file is validated but takes effect only on restart.
func (a *application) reload() error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	next, err := a.loader.LoadFile(a.cli.ConfigPath)
	if err != nil {
		a.logger.Error("Configuration reload failed, keeping current settings", "error", err)
		return err
	}
	unknown := a.gw.ApplyLogLevels(next)
	if err := a.current.Update(next); err != nil {
		return err
	}
	a.logger.Warn("Reloaded log levels from configuration", "path", a.cli.ConfigPath, "ignored_devices", unknown)
	return nil
}
