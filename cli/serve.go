package cli

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

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/petal-labs/vigil/bus"
	"github.com/petal-labs/vigil/checker"
	"github.com/petal-labs/vigil/core"
	"github.com/petal-labs/vigil/history"
	vigilotel "github.com/petal-labs/vigil/otel"
	"github.com/petal-labs/vigil/poller"
	"github.com/petal-labs/vigil/server"
	"github.com/petal-labs/vigil/status"
)

// Version is stamped by the binary's main package at startup.
var Version = "dev"

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the monitoring daemon and HTTP API",
		RunE:  runServe,
	}

	cmd.Flags().String("config", "", "Path to vigil.yaml (default: ./vigil.yaml, then ~/.vigil/config.yaml)")
	cmd.Flags().String("listen", "", "Listen address (overrides the config file)")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().String("otlp-endpoint", "", "OTLP HTTP collector endpoint for traces and metrics (empty disables export)")
	cmd.Flags().Bool("otlp-insecure", false, "Disable TLS toward the OTLP collector")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	explicitConfigPath, _ := cmd.Flags().GetString("config")
	listenFlag, _ := cmd.Flags().GetString("listen")
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	otlpInsecure, _ := cmd.Flags().GetBool("otlp-insecure")

	cfg, err := loadConfig(explicitConfigPath)
	if err != nil {
		return err
	}

	logger := slog.Default()

	// --- Telemetry ---
	exporterCfg := vigilotel.ExporterConfig{
		Endpoint:       otlpEndpoint,
		Insecure:       otlpInsecure,
		ServiceName:    "vigil",
		ServiceVersion: Version,
	}
	shutdownTracing, err := vigilotel.SetupTracing(cmd.Context(), exporterCfg)
	if err != nil {
		return exitError(exitRuntime, "initializing tracing: %v", err)
	}
	shutdownMetrics, err := vigilotel.SetupMetrics(cmd.Context(), exporterCfg)
	if err != nil {
		return exitError(exitRuntime, "initializing metrics export: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
		_ = shutdownTracing(shutdownCtx)
	}()

	// --- History store ---
	var store history.Store
	if cfg.History.Path != "" {
		sqliteStore, err := history.NewSQLiteStore(history.SQLiteStoreConfig{
			DSN:            cfg.History.Path,
			RetentionAge:   cfg.History.RetentionAge,
			RetentionCount: cfg.History.RetentionCount,
		})
		if err != nil {
			return exitError(exitRuntime, "opening history store: %v", err)
		}
		defer func() {
			_ = sqliteStore.Close()
		}()
		store = sqliteStore
	} else {
		store = history.NewMemStore()
	}

	// --- Event bus + telemetry observer ---
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer func() {
		_ = eb.Close()
	}()

	metricsHandler, err := vigilotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("vigil/checks"))
	if err != nil {
		return exitError(exitRuntime, "initializing metrics: %v", err)
	}
	tracingHandler := vigilotel.NewTracingHandler(otelapi.GetTracerProvider().Tracer("vigil/checks"))
	observer := vigilotel.NewObserver(eb, metricsHandler, tracingHandler)
	defer func() {
		_ = observer.Close()
	}()

	// --- Check engine ---
	chk, err := checker.New(checker.Config{
		Settings: func() core.Settings { return cfg.Settings },
		Logger:   logger,
	})
	if err != nil {
		return exitError(exitRuntime, "creating checker: %v", err)
	}

	pol, err := poller.New(poller.Config{
		Checker:   chk,
		Providers: func() []core.ProviderConfig { return cfg.Providers },
		Settings:  func() core.Settings { return cfg.Settings },
		History:   store,
		Bus:       eb,
		Cron:      cfg.Cron,
		Logger:    logger,
	})
	if err != nil {
		return exitError(exitRuntime, "creating poller: %v", err)
	}
	if err := pol.Start(cmd.Context()); err != nil {
		return exitError(exitRuntime, "starting poller: %v", err)
	}
	defer func() {
		_ = pol.Stop(context.Background())
	}()

	// --- Official vendor status ---
	statusMonitor, err := status.NewMonitor(status.MonitorConfig{
		Providers:       func() []core.ProviderConfig { return cfg.Providers },
		RefreshInterval: cfg.StatusRefresh,
		Logger:          logger,
	})
	if err != nil {
		return exitError(exitRuntime, "creating status monitor: %v", err)
	}
	if err := statusMonitor.Start(cmd.Context()); err != nil {
		return exitError(exitRuntime, "starting status monitor: %v", err)
	}
	defer func() {
		_ = statusMonitor.Stop(context.Background())
	}()

	// --- HTTP API ---
	apiServer := server.NewServer(server.ServerConfig{
		Providers:  func() []core.ProviderConfig { return cfg.Providers },
		History:    store,
		Bus:        eb,
		Status:     statusMonitor,
		CORSOrigin: corsOrigin,
		MaxBody:    maxBody,
		Version:    Version,
		Logger:     logger,
	})

	addr := cfg.Listen
	if listenFlag != "" {
		addr = listenFlag
	}
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     apiServer.Handler(),
		ReadTimeout: readTimeout,
		// No write timeout: /api/stream holds connections open.
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "vigil listening on %s\n", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}
