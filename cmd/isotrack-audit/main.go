package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/isotrack/pkg/audit"
	"github.com/platinummonkey/isotrack/pkg/config"
	"github.com/platinummonkey/isotrack/pkg/httputil"
	"github.com/platinummonkey/isotrack/pkg/identity"
	"github.com/platinummonkey/isotrack/pkg/kvstore"
	"github.com/platinummonkey/isotrack/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const maxRequestBytes = 1 << 20

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvConfigFile), "Path to a YAML configuration file")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "isotrack-audit: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLoggerWithFormat(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout).
		WithField("service", "isotrack-audit").
		WithField("version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("initializing OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
		metrics.BuildInfo.WithLabelValues(version, cfg.Storage.Type).Set(1)
	}

	store, err := kvstore.Open(ctx, cfg.Storage.ToKVStore())
	if err != nil {
		return fmt.Errorf("opening %s storage: %w", cfg.Storage.Type, err)
	}
	store = kvstore.Instrument(store, cfg.Storage.Type, metrics)
	logger.WithField("backend", cfg.Storage.Type).Info("storage opened")

	opts := append(cfg.Audit.Options(),
		audit.WithLogger(logger),
		audit.WithIdentity(identity.ContextProvider{}),
	)
	if metrics != nil {
		opts = append(opts, audit.WithMetrics(audit.NewMetrics(registry)))
	}
	if cfg.Journal.Enabled {
		journal, err := audit.NewJournalSink(cfg.Journal.ToSink())
		if err != nil {
			store.Close()
			return fmt.Errorf("opening audit journal: %w", err)
		}
		opts = append(opts, audit.WithSink(journal))
		logger.WithField("path", journal.Path()).Info("audit journal enabled")
	}

	trail, err := audit.Open(ctx, store, opts...)
	if err != nil {
		store.Close()
		return fmt.Errorf("opening audit trail: %w", err)
	}
	status := trail.Status()
	logger.WithFields(map[string]interface{}{
		"entries":     status.InMemory,
		"max_logs":    status.MaxLogs,
		"storage_key": status.StorageKey,
	}).Info("audit trail loaded")

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		identity.NewMiddleware().WithHeaders(cfg.Identity.UserHeader, cfg.Identity.RoleHeader).Handler,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		audit.NewMiddleware(trail).Handler,
		httputil.MaxBytesMiddleware(maxRequestBytes),
		httputil.ContentTypeMiddleware,
	)
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	audit.NewHandlers(trail).RegisterRoutes(router)

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(router, "isotrack-audit"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	checker := observability.NewHealthChecker(version)
	checker.AddCheck("storage", true, store.Ping)
	checker.AddStatus("audit_trail", false, func(context.Context) (string, string) {
		state := trail.State()
		if state.Degraded() {
			return observability.StatusDegraded, "persisting in " + state.String() + " mode"
		}
		return observability.StatusHealthy, ""
	})

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:        cfg.Server.HealthAddr(),
		Handler:     healthMux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health_server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("audit_trail", func(context.Context) error {
		if err := trail.Close(); err != nil {
			return err
		}
		return store.Close()
	})
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	if cfg.Retention.Enabled {
		scheduler, err := audit.NewRetentionScheduler(trail, cfg.Retention.Schedule, cfg.Retention.Policy(), logger)
		if err != nil {
			shutdown.Shutdown()
			return err
		}
		scheduler.Start()
		shutdown.RegisterShutdownFunc("retention_scheduler", scheduler.Stop)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("audit API listening")
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health and metrics listening")
		return serve(healthServer)
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("isotrack-audit stopped")
	return nil
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", server.Addr, err)
	}
	return nil
}
