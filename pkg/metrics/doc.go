// Package metrics provides observability primitives for modcompat: a
// metrics collector, a Prometheus text exporter, a tracing interface with an
// optional OpenTelemetry adapter, and a structured logger.
//
// # Collection
//
//	collector := metrics.NewCollector(metrics.Labels{"instance": "eu-1"})
//
//	collector.HandshakeStarted()
//	collector.HandshakeRejected()
//	collector.RecordMissingModule()
//	collector.RecordPayloadDecoded(len(data), elapsed)
//
//	snap := collector.Snapshot()
//
// compat.DecodeVersionData records into a collector passed with
// compat.WithCollector; the handshake package records through a
// HandshakeObserver.
//
// # Export
//
//	srv := metrics.NewServer(metrics.ServerConfig{Collector: collector, Version: "1.0.0"})
//	go srv.ListenAndServe(ctx, ":9100")
//
// The server exposes /metrics, /health, /healthz and /readyz.
//
// # Tracing
//
//	metrics.SetTracer(metrics.NewOTelTracer("modcompat", version.String()))
//	ctx, end := metrics.StartSpan(ctx, metrics.SpanHandshakeServer)
//	defer end(err)
//
// Without -tags otel, NewOTelTracer returns a no-op tracer.
//
// # Logging
//
// Logger wraps logrus with the field style used across the module:
//
//	logger := metrics.NewLogger(
//		metrics.WithLevel(metrics.LevelInfo),
//		metrics.WithFormat(metrics.FormatJSON),
//	)
//	logger.Named("handshake").Warn("peer rejected", metrics.Fields{"issues": 2})
package metrics
