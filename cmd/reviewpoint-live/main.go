// Package main implements the reviewpoint-live probe binary. It connects to
// a ReViewPoint realtime endpoint, subscribes to server push events, logs
// them as they arrive, and serves Prometheus metrics — a composition root
// and smoke-test harness for the realtime client library.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/filip-herceg/ReViewPoint-sub010/bus"
	"github.com/filip-herceg/ReViewPoint-sub010/config"
	"github.com/filip-herceg/ReViewPoint-sub010/connection"
	"github.com/filip-herceg/ReViewPoint-sub010/errors"
	"github.com/filip-herceg/ReViewPoint-sub010/event"
	"github.com/filip-herceg/ReViewPoint-sub010/metric"
	"github.com/filip-herceg/ReViewPoint-sub010/projector"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "reviewpoint-live"
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

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	registry := metric.NewRegistry()
	metrics := registry.CoreMetrics()

	b := bus.New(bus.WithLogger(logger), bus.WithMetrics(metrics))

	store := projector.New(
		projector.WithLogger(logger),
		projector.WithMetrics(metrics))
	store.Attach(b)

	manager, err := connection.NewManager(cfg, b,
		connection.WithLogger(logger),
		connection.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("create connection manager: %w", err)
	}

	logEvents(b, store, logger)

	metricsSrv := startMetricsServer(cliCfg.MetricsAddr, registry, logger)

	return runWithSignalHandling(cliCfg, manager, metricsSrv)
}

// runWithSignalHandling connects, subscribes, and blocks until a shutdown
// signal arrives.
func runWithSignalHandling(
	cliCfg *CLIConfig,
	manager *connection.Manager,
	metricsSrv *http.Server,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.Connect(signalCtx); err != nil {
		// A rejected credential will never succeed; transient failures keep
		// retrying in the background.
		if errors.IsFatal(err) {
			return fmt.Errorf("connect: %w", err)
		}
		slog.Warn("Initial dial failed, retrying in background", "error", err)
	}

	if err := manager.Subscribe(
		event.TypeUploadProgress,
		event.TypeUploadCompleted,
		event.TypeUploadError,
		event.TypeSystemNotification,
		event.TypeReviewUpdated,
	); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	slog.Info("reviewpoint-live started", "metrics_addr", cliCfg.MetricsAddr)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	manager.Disconnect()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("stop metrics server: %w", err)
		}
	}

	slog.Info("reviewpoint-live shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting reviewpoint-live (realtime event probe)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// logEvents wires probe-level observers: every dispatched event is logged,
// and projected state changes surface as a summary line.
func logEvents(b *bus.Bus, store *projector.Store, logger *slog.Logger) {
	b.OnAll(func(e event.Event) {
		logger.Info("event received", "type", e.EventType().String())
	})

	store.Subscribe(func(s projector.State) {
		logger.Debug("projected state changed",
			"connected", s.Connection.Connected,
			"connection_id", s.Connection.ConnectionID,
			"notifications", len(s.Notifications),
			"active_uploads", len(s.ActiveUploads()))
	})
}

// startMetricsServer serves /metrics on the given address. An empty address
// disables the server.
func startMetricsServer(addr string, registry *metric.Registry, logger *slog.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		registry.PrometheusRegistry(),
		promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	return srv
}
