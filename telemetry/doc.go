/*
Package telemetry wraps OpenTelemetry behind the same Counter/Histogram/
StartSpan surface the rest of the runtime expects from core.Telemetry.

Usage:

Construct and register a provider once in main:

	provider, err := telemetry.NewOTelProvider(cfg.ServiceName, cfg.Endpoint)
	telemetry.SetDefaultProvider(provider)
	defer provider.Shutdown(context.Background())

Then emit metrics from anywhere without checking whether telemetry is
configured; Counter/Histogram are silent no-ops until a provider is set:

	telemetry.Counter("gateway.cache", "result", "hit")
	telemetry.Histogram("gateway.provider.detection.duration_ms", 42.0, "status", "success")

Spans go through the core.Telemetry interface directly:

	ctx, span := provider.StartSpan(ctx, "gateway.generate")
	defer span.End()
*/
package telemetry
