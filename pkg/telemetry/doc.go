// Package telemetry provides observability instrumentation for dxp runs.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified system
// for monitoring import and export runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with stdout or OTLP exporters
//  3. Metrics Collection - Prometheus metrics for runs, actions and rows
//  4. Event Publishing - Async event system for audit and notifications
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context before handing it to the engine:
//
//	ctx = tel.WithContext(ctx)
//	report, err := executor.Import(ctx, pkg)
//
// Every helper in this package is a no-op when the context carries no
// telemetry, so the engine can be used without it.
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("engine").WithRunID(runID)
//	zl := logger.WithAction("LoadSites").Zerolog()
//	zl.Info().Msg("action started")
//
// Logger.Sink adapts a logger to the log callback the engine and providers
// write progress and console output to.
//
// # Distributed Tracing
//
// Runs, actions and provider calls each get a span:
//
//	run.import
//	└── action.execute  (action.name=LoadSites)
//	    └── provider.import  (provider.name=locations)
//
// The action span carries the row counters as action.rows, action.records and
// action.failed_rows.
//
// # Metrics
//
// Metrics are exposed in Prometheus format on the configured address:
//
//   - dxp_runs_started_total{kind}
//   - dxp_runs_completed_total{status}
//   - dxp_run_duration_seconds{status}
//   - dxp_actions_executed_total{provider,status}
//   - dxp_action_duration_seconds{provider}
//   - dxp_rows_read_total{provider}
//   - dxp_records_written_total{provider}
//   - dxp_rows_failed_total{provider}
//   - dxp_compile_warnings_total{provider}
//   - dxp_provider_calls_total{provider,operation}
//   - dxp_errors_by_class_total{class}
//   - dxp_policy_violations_total{policy,severity}
//   - dxp_active_runs
//
// # Events
//
// The publisher emits run.started, run.completed, run.failed, action.started,
// action.completed, action.failed and policy.violation events to subscribers:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
