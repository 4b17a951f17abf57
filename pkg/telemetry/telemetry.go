package telemetry

import (
	"context"
	"fmt"
)

// Telemetry bundles the three observability pillars.
type Telemetry struct {
	Logger  *Logger
	Metrics *Metrics
	Tracer  *Tracer
}

// New initializes telemetry from configuration.
func New(cfg *Config) (*Telemetry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	return &Telemetry{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	}, nil
}

// Shutdown flushes and stops all telemetry subsystems.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var firstErr error
	if t.Tracer != nil {
		if err := t.Tracer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if t.Metrics != nil {
		if err := t.Metrics.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
