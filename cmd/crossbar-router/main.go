// Package main implements the entry point for the crossbar router worker.
// The worker hosts realms, roles, uplinks, components and transports on top
// of a NATS routing core and is driven over a management RPC surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Paranaix/crossbar/config"
	"github.com/Paranaix/crossbar/natsclient"
	"github.com/Paranaix/crossbar/worker"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "crossbar-router"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Router worker failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg)
	slog.SetDefault(logger)

	var bootCfg *bootConfig
	if cliCfg.ConfigPath != "" {
		var err error
		bootCfg, err = loadBootConfig(cliCfg.ConfigPath)
		if err != nil {
			return err
		}
	}
	if cliCfg.Validate {
		slog.Info("Boot configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("Starting router worker",
		"nats_url", cliCfg.NATSURL,
		"config_path", cliCfg.ConfigPath)

	nc, err := natsclient.Connect(cliCfg.NATSURL, natsclient.Options{
		Name:          fmt.Sprintf("%s.%s.%s", appName, cliCfg.NodeID, cliCfg.WorkerID),
		MaxReconnects: -1,
		TLSCert:       cliCfg.TLSCert,
		TLSKey:        cliCfg.TLSKey,
		TLSCA:         cliCfg.TLSCA,
	})
	if err != nil {
		return err
	}
	defer nc.Close()

	var registry *prometheus.Registry
	if cliCfg.MetricsPort > 0 {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	w := worker.NewRouterWorker(cliCfg.NodeID, cliCfg.WorkerID, nc, worker.Options{
		Logger:      logger,
		WorkDir:     cliCfg.WorkDir,
		Connections: map[string]*nats.Conn{"default": nc},
		Metrics:     registry,
	})

	ctx := context.Background()
	if bootCfg != nil {
		if err := applyBootConfig(ctx, w, bootCfg); err != nil {
			return err
		}
	}

	if err := w.RegisterProcedures(); err != nil {
		return err
	}

	metricsSrv := startMetricsServer(cliCfg.MetricsPort, registry)

	return waitForShutdown(ctx, w, metricsSrv, cliCfg.ShutdownTimeout)
}

// bootConfig declares entities started before the management surface comes
// up, so a worker can serve a static configuration without a controller.
type bootConfig struct {
	Realms []struct {
		ID          string                     `json:"id"`
		Config      *config.Realm              `json:"config"`
		Schemas     map[string]json.RawMessage `json:"schemas,omitempty"`
		EnableTrace bool                       `json:"enable_trace,omitempty"`
	} `json:"realms,omitempty"`
	Components []struct {
		ID     string            `json:"id"`
		Config *config.Component `json:"config"`
	} `json:"components,omitempty"`
	Transports []struct {
		ID     string            `json:"id"`
		Config *config.Transport `json:"config"`
	} `json:"transports,omitempty"`
}

func loadBootConfig(path string) (*bootConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	var cfg bootConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for _, realm := range cfg.Realms {
		if realm.ID == "" || realm.Config == nil {
			return nil, fmt.Errorf("invalid configuration: realm entries require an id and a config")
		}
		if err := realm.Config.Validate(); err != nil {
			return nil, err
		}
	}
	for _, component := range cfg.Components {
		if component.ID == "" || component.Config == nil {
			return nil, fmt.Errorf("invalid configuration: component entries require an id and a config")
		}
		if err := component.Config.Validate(); err != nil {
			return nil, err
		}
	}
	for _, transport := range cfg.Transports {
		if transport.ID == "" || transport.Config == nil {
			return nil, fmt.Errorf("invalid configuration: transport entries require an id and a config")
		}
		if err := transport.Config.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// applyBootConfig starts the boot entities in dependency order: realms
// first, then components and transports that attach sessions to them.
func applyBootConfig(ctx context.Context, w *worker.RouterWorker, cfg *bootConfig) error {
	for _, realm := range cfg.Realms {
		if _, err := w.StartRealm(ctx, realm.ID, realm.Config, realm.Schemas, realm.EnableTrace); err != nil {
			return fmt.Errorf("start realm %s: %w", realm.ID, err)
		}
	}
	for _, component := range cfg.Components {
		if _, err := w.StartComponent(ctx, component.ID, component.Config, ""); err != nil {
			return fmt.Errorf("start component %s: %w", component.ID, err)
		}
	}
	for _, transport := range cfg.Transports {
		if _, err := w.StartTransport(ctx, transport.ID, transport.Config); err != nil {
			return fmt.Errorf("start transport %s: %w", transport.ID, err)
		}
	}
	return nil
}

func startMetricsServer(port int, registry *prometheus.Registry) *http.Server {
	if port <= 0 || registry == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Metrics server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}

// waitForShutdown blocks until a termination signal arrives, then tears the
// worker down within the shutdown timeout.
func waitForShutdown(ctx context.Context, w *worker.RouterWorker, metricsSrv *http.Server, timeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("Router worker ready", "prefix", w.Prefix())
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	w.Close(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	slog.Info("Shutdown complete")
	return nil
}
