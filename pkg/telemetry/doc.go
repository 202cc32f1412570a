// Package telemetry provides the observability plumbing for the task list.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and in-process change events behind one Telemetry
// value that the composition root builds once and injects into the store
// and repository.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Every component also accepts a no-op variant (Nop, NopLogger, NopTracer,
// NopMetrics, NopEventPublisher), so library code never has to nil-check.
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("store")
//	logger.WithTaskID(42).Debug("staged update")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Tracing
//
//	op := tel.StartOperation(ctx, "tasks.create")
//	defer op.End("ok", nil)
//
// Exporters: "stdout" (pretty JSON on stderr), "otlp" (gRPC), "none".
//
// # Metrics
//
// Exposed on the watch command's /metrics endpoint when enabled:
//
//   - tasks_operations_total{operation,status}
//   - tasks_operation_duration_seconds{operation}
//   - tasks_flushes_total{result}
//   - tasks_flush_duration_seconds
//   - tasks_store_errors_total{kind}
//   - tasks_pending_changes
//   - tasks_tasks
//
// # Events
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.TaskID)
//	}, telemetry.FilterByType(telemetry.EventTypeTaskCreated))
//
// Filters: FilterByLevel, FilterByType, FilterByTaskID
package telemetry
