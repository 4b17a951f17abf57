// Package telemetry provides observability instrumentation for the
// visionflow engine: structured logging (zerolog), Prometheus metrics, and
// OpenTelemetry tracing.
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// The engine accepts the individual pillars (Logger, Metrics, Tracer) so
// that tests can pass only what they need.
//
// Key metrics exposed:
//
//   - visionflow_sessions_started_total
//   - visionflow_sessions_completed_total{outcome}
//   - visionflow_session_duration_seconds{outcome}
//   - visionflow_steps_executed_total{node,status}
//   - visionflow_step_duration_seconds{node}
//   - visionflow_retries_total{node}
//   - visionflow_checkpoint_write_duration_seconds{backend}
//   - visionflow_stream_events_dropped_total
//   - visionflow_active_sessions
package telemetry
