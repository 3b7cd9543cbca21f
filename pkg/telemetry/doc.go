// Package telemetry provides observability instrumentation for magebox.
//
// It integrates structured logging (zerolog), tracing (OpenTelemetry) and
// metrics (Prometheus) behind one Telemetry value built at startup.
//
// # Usage
//
// Initialize telemetry in main:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
// Components receive a zerolog.Logger and add their own component field:
//
//	logger := tel.Logger.Zerolog().With().Str("component", "filesync").Logger()
//
// # Tracing
//
// Each command run opens a run span, each supervised operation and sync step a
// child span:
//
//	ctx = telemetry.StartRun(ctx, runID, "install")
//	defer telemetry.EndRun(ctx, status, err)
//
//	ctx, span := tel.Tracer.StartOperationSpan(ctx, "build")
//	defer span.End()
//
// Supported exporters: otlp (grpc), stdout, none. A nil *Tracer hands out
// no-op spans.
//
// # Metrics
//
// magebox is a short-lived CLI, so metrics are not served over HTTP. When
// MetricsConfig.TextfilePath is set, Shutdown writes them in the
// node-exporter textfile format:
//
//	magebox_operations_total{operation,outcome}
//	magebox_operation_duration_seconds{operation}
//	magebox_progress_units_total{operation}
//	magebox_sync_polls_total{state}
//	magebox_runs_total{status}
//	magebox_errors_total{class}
//
// A nil *Metrics records nothing.
package telemetry
