package telemetry_test

import (
	"context"
	"errors"
	"time"

	"github.com/visionflow/visionflow/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "visionflow"
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.New(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start the metrics endpoint (non-blocking; no-op when disabled)
	if err := tel.Metrics.StartServer(); err != nil {
		panic(err)
	}

	tel.Logger.Info("Engine starting")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates the engine's log field helpers.
func Example_structuredLogging() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("engine").
		WithSession("sess-123").
		WithNode("screen_capture").
		WithStep(4)

	logger.Info("Node succeeded")
	logger.WithError(errors.New("capture device busy")).Warn("Node failed; routing to recovery node")

	// Output can vary, so we don't specify output for this example
}

// Example_metrics demonstrates recording engine metrics.
func Example_metrics() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddress = ":0"

	tel, _ := telemetry.New(cfg)
	defer tel.Shutdown(context.Background())

	m := tel.Metrics
	m.RecordSessionStarted()
	m.RecordStep("screen_capture", "succeeded", 120*time.Millisecond)
	m.RecordRetry("screen_analyzer")
	m.RecordCheckpointWrite("sqlite", 3*time.Millisecond, nil)
	m.RecordSessionCompleted("success", 2*time.Second)

	// Output can vary, so we don't specify output for this example
}
