// Package telemetry wires OpenTelemetry trace, metric and log export for
// knowledged.
//
// Packages create their tracers and meters from the otel globals
// (otel.Tracer, otel.Meter). New installs OTLP-backed providers as those
// globals when export is enabled, so instrumentation never has to know
// whether anything is listening. The log provider is not a global: pass
// LoggerProvider to logging.NewLogger.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  sample_rate: 1.0
//	  metrics: true
//	  logs: true              # bridge zap entries to the collector
//	  export_interval: 15s
//
// # Error Handling
//
// Exporter failures never stop the service. A provider that cannot be built
// is skipped and the instance reports itself degraded.
//
// # Testing
//
// NewTestTelemetry records spans in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	tt.Install()
//	// ... exercise code ...
//	tt.AssertSpanExists(t, "retrieval.Search")
package telemetry
