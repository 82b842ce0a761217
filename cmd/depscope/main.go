// Package main is the entry point for the depscope binary: an
// mTLS-terminating sidecar proxy that learns service dependency edges from
// the traffic it forwards.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	tlsid "github.com/meshwise/depscope/internal/tls"
	"github.com/meshwise/depscope/pkg/config"
	"github.com/meshwise/depscope/pkg/observer"
	"github.com/meshwise/depscope/pkg/policy"
	"github.com/meshwise/depscope/pkg/proxy"
	"github.com/meshwise/depscope/pkg/telemetry"
)

const (
	defaultConfigPath        = "depscope.yaml"
	serviceName              = "depscope"
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for depscope.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "depscope",
		Short: "Service dependency observer sidecar",
		Long: `A sidecar proxy that infers service-to-service dependency edges by
correlating each request's routing authority with the mTLS identity of the
calling peer and the resolved upstream cluster, publishing the edge as an
optional response header.`,
		RunE:          runSidecar,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().StringP("config", "c", defaultConfigPath, "Path to the configuration file (YAML)")
	rootCmd.Flags().String("admin-listen", "", "HTTP listen address for the admin endpoints")
	rootCmd.Flags().String("data-listen", "", "Listen address for the data plane proxy")
	rootCmd.Flags().String("otel-endpoint", "", "OTLP endpoint")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (trace, debug, info, warn, error)")

	return rootCmd
}

func runSidecar(cmd *cobra.Command, _ []string) error {
	// Load .env file if present
	_ = godotenv.Load()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// Apply flag overrides
	if v, _ := cmd.Flags().GetString("admin-listen"); v != "" {
		cfg.Server.AdminAddress = v
	}
	if v, _ := cmd.Flags().GetString("data-listen"); v != "" {
		cfg.Server.DataAddress = v
	}
	if v, _ := cmd.Flags().GetString("otel-endpoint"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger := newLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	return run(ctx, cfg, logger)
}

// run orchestrates the application lifecycle.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer shutdownTelemetry(telemetryShutdown, logger)

	metrics := proxy.NewMetrics()

	// Observer configuration is opaque to the host; a parse failure refuses
	// activation of the whole sidecar.
	holder := observer.NewHolder(observer.HolderConfig{
		Logger: logger,
		OnEdge: func(report observer.Report) {
			metrics.RecordEdge(report.Published)
			telemetry.RecordEdge(context.Background(), telemetry.EdgeMetrics{
				Edge:      report.Edge,
				Published: report.Published,
				Mutual:    report.Mutual,
			})
		},
	})
	if cfg.Observer.ConfigFile != "" {
		//nolint:gosec // Observer config path is controlled by admin/operator
		raw, err := os.ReadFile(cfg.Observer.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to read observer config %s: %w", cfg.Observer.ConfigFile, err)
		}
		if err := holder.Configure(raw); err != nil {
			return fmt.Errorf("observer configuration rejected: %w", err)
		}
	}
	logger.Info("observer configured", "response_header", holder.ResponseHeader())

	routes := proxy.NewRouteTable()
	if cfg.Routes.File != "" {
		if err := routes.LoadFile(cfg.Routes.File); err != nil {
			return fmt.Errorf("route table load failed: %w", err)
		}
		logger.Info("route table loaded", "routes", routes.Len(), "file", cfg.Routes.File)
	}

	if cfg.Routes.Watch {
		watcher, err := proxy.NewRouteWatcher(cfg.Routes.File, func(path string) error {
			if err := routes.LoadFile(path); err != nil {
				metrics.RecordRouteReload("failure")
				return err
			}
			metrics.RecordRouteReload("success")
			return nil
		}, logger)
		if err != nil {
			return fmt.Errorf("route watcher setup failed: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("route watcher start failed: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	var gate *policy.Gate
	if cfg.Policy.File != "" {
		//nolint:gosec // Policy path is controlled by admin/operator
		module, err := os.ReadFile(cfg.Policy.File)
		if err != nil {
			return fmt.Errorf("failed to read policy module %s: %w", cfg.Policy.File, err)
		}
		gate, err = policy.NewGate(ctx, policy.GateOptions{
			Module:     string(module),
			ModuleName: cfg.Policy.File,
		})
		if err != nil {
			return fmt.Errorf("publish gate setup failed: %w", err)
		}
		logger.Info("publish gate loaded", "file", cfg.Policy.File)
	}

	dataPlane := proxy.New(proxy.Config{
		Holder:  holder,
		Routes:  routes,
		Gate:    gate,
		Logger:  logger,
		Metrics: metrics,
	})

	tlsConfig, err := tlsid.ServerConfig(cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("TLS setup failed: %w", err)
	}

	dataServer := &http.Server{
		Addr:              cfg.Server.DataAddress,
		Handler:           otelhttp.NewHandler(dataPlane, "depscope.proxy"),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	adminServer := &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           newAdminMux(metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("admin listener starting", "addr", adminServer.Addr)
		errCh <- adminServer.ListenAndServe()
	}()
	go func() {
		logger.Info("data listener starting", "addr", dataServer.Addr, "tls", tlsConfig != nil)
		if tlsConfig != nil {
			// Certificates come from TLSConfig.
			errCh <- dataServer.ListenAndServeTLS("", "")
		} else {
			errCh <- dataServer.ListenAndServe()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listener failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := dataServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("data listener shutdown error", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin listener shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// shutdownTelemetry gracefully shuts down the telemetry provider.
func shutdownTelemetry(shutdown func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}
}

// newAdminMux serves health and metrics endpoints.
func newAdminMux(metrics *proxy.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// newLogger builds the process logger. The trace level enables the
// observer's per-edge emission lines.
func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "trace":
		slogLevel = observer.LevelTrace
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
