// Command orchestratord is the process entrypoint: it loads configuration
// from the environment, wires the full runtime graph through
// runtime.New, starts the scheduler, and waits for SIGINT/SIGTERM to begin
// a bounded graceful shutdown.
//
// Environment Variables:
//
//	DATABASE_URL                 - store connection string (required)
//	ENVIRONMENT                  - development | staging | production
//	ENABLE_RUNTIME_DDL           - "1" opts into DDL outside production/staging
//	OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY, GROQ_API_KEY - provider credentials
//	AWS_REGION                   - Bedrock region
//	ALERT_THRESHOLD_CPU, ALERT_THRESHOLD_MEMORY, ALERT_THRESHOLD_DB_MS, BREACH_WINDOW_SIZE
//	LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT
//	OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_SERVICE_NAME, TELEMETRY_ENABLED
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/itsneelabh/gomind/telemetry"
	"github.com/brainops/orchestrator/runtime"

	// Provider drivers register themselves via init(); importing for side
	// effect is how the gateway's registry learns about them.
	_ "github.com/brainops/orchestrator/gateway/providers/anthropic"
	_ "github.com/brainops/orchestrator/gateway/providers/bedrock"
	_ "github.com/brainops/orchestrator/gateway/providers/gemini"
	_ "github.com/brainops/orchestrator/gateway/providers/openai"
)

func main() {
	cfg := core.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("orchestratord: invalid configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("orchestratord: DATABASE_URL is required")
	}

	logger := core.NewProductionLogger(cfg.Logging, "orchestratord")

	var tel core.Telemetry = &core.NoOpTelemetry{}
	if cfg.Telemetry.Enabled {
		provider, err := telemetry.NewOTelProvider(cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
		if err != nil {
			logger.Warn("telemetry provider unavailable, continuing without export", map[string]interface{}{"error": err.Error()})
		} else {
			tel = provider
			telemetry.SetDefaultProvider(provider)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := provider.Shutdown(shutdownCtx); err != nil {
					logger.Warn("telemetry shutdown error", map[string]interface{}{"error": err.Error()})
				}
			}()
		}
	}

	ctx, cancelRuntime := context.WithCancel(context.Background())
	defer cancelRuntime()

	orch, err := runtime.New(ctx, cfg,
		runtime.WithLogger(logger),
		runtime.WithTelemetry(tel),
	)
	if err != nil {
		logger.Error("failed to build runtime", map[string]interface{}{"error": err.Error()})
		log.Fatalf("orchestratord: %v", err)
	}

	orch.Start(ctx)
	logger.Info("orchestratord started", map[string]interface{}{
		"environment": cfg.Environment,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, draining", nil)
	cancelRuntime()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownDeadline)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		orch.Shutdown(shutdownCtx)
		close(done)
	}()

	select {
	case <-done:
		logger.Info("orchestratord shut down cleanly", nil)
	case <-shutdownCtx.Done():
		logger.Error("shutdown deadline exceeded, forcing exit", nil)
		os.Exit(1)
	}
}
