// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing for the audit service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("storage_key", key).Warn("audit trail persistence degraded")
//
// FromContext annotates the request logger with the request ID and the
// acting user.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(serveMux, registry)
//
// HTTP metrics are labelled with the mux route template rather than the raw
// path. Storage metrics are fed by kvstore.Instrument.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("storage", true, store.Ping)
//	observability.RegisterHealthRoutes(serveMux, checker)
//
// A failing critical check makes /readyz return 503; optional checks and
// StatusFunc reporters can only degrade the service.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "isotrack-audit",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
