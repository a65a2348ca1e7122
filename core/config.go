package core

import (
	"encoding/json"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the runtime's environment-driven configuration. It follows
// the same three-layer priority as the rest of the ambient stack:
//  1. Defaults (lowest priority)
//  2. Environment variables
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithLogLevel("debug"),
//	    WithSchedulerTick(50*time.Millisecond),
//	)
type Config struct {
	Environment string `json:"environment" env:"ENVIRONMENT" default:"development"`

	DatabaseURL      string `json:"database_url" env:"DATABASE_URL"`
	EnableRuntimeDDL bool   `json:"enable_runtime_ddl" env:"ENABLE_RUNTIME_DDL" default:"false"`

	Providers  ProvidersConfig  `json:"providers"`
	Alerts     AlertsConfig     `json:"alerts"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Gateway    GatewayConfig    `json:"gateway"`
	Memory     MemoryConfig     `json:"memory"`
	Store      StoreConfig      `json:"store"`
	Logging    LoggingConfig    `json:"logging"`
	Telemetry  TelemetryConfig  `json:"telemetry"`

	logger Logger `json:"-"`
}

// ProvidersConfig carries optional provider credentials. A provider is
// enabled iff its key is non-empty (spec.md §6).
type ProvidersConfig struct {
	OpenAIAPIKey    string `json:"-" env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `json:"-" env:"ANTHROPIC_API_KEY"`
	GoogleAPIKey    string `json:"-" env:"GOOGLE_API_KEY"`
	GroqAPIKey      string `json:"-" env:"GROQ_API_KEY"`
	AWSRegion       string `json:"aws_region" env:"AWS_REGION" default:"us-east-1"`
}

// AlertsConfig carries the breach-detection thresholds from spec.md §6.
type AlertsConfig struct {
	ThresholdCPU      float64 `json:"threshold_cpu" env:"ALERT_THRESHOLD_CPU" default:"90"`
	ThresholdMemory   float64 `json:"threshold_memory" env:"ALERT_THRESHOLD_MEMORY" default:"90"`
	ThresholdDBMillis float64 `json:"threshold_db_ms" env:"ALERT_THRESHOLD_DB_MS" default:"500"`
	BreachWindowSize  int     `json:"breach_window_size" env:"BREACH_WINDOW_SIZE" default:"3"`
}

// SchedulerConfig tunes the metacognitive scheduler's cadence.
type SchedulerConfig struct {
	TickInterval     time.Duration `json:"tick_interval_ms" env:"SCHEDULER_TICK_MS" default:"100ms"`
	BatchSize        int           `json:"batch_size" default:"10"`
	ThoughtRingSize  int           `json:"thought_ring_size" default:"10000"`
	ShutdownDeadline time.Duration `json:"shutdown_deadline" default:"10s"`
	ReflectMinRate   float64       `json:"reflect_min_success_rate" default:"0.7"`
}

// GatewayConfig tunes the provider fallback gateway.
type GatewayConfig struct {
	CacheSize              int `json:"cache_size" env:"GATEWAY_CACHE_SIZE" default:"1000"`
	FailureStreakThreshold int `json:"failure_streak_threshold" default:"3"`
	RecentErrorsLimit      int `json:"recent_errors_limit" default:"100"`
}

// MemoryConfig tunes the memory subsystem's working-memory bound.
type MemoryConfig struct {
	WorkingMemoryLimit int `json:"working_memory_limit" env:"WORKING_MEMORY_LIMIT" default:"100"`
	EmbeddingDimension  int `json:"embedding_dimension" default:"256"`
}

// StoreConfig tunes the resilient store facade's pool and retry policy.
type StoreConfig struct {
	MaxRetries        int           `json:"max_retries" env:"STORE_MAX_RETRIES" default:"2"`
	MaxConns          int32         `json:"max_conns" env:"STORE_MAX_CONNS" default:"50"`
	MinConns          int32         `json:"min_conns" env:"STORE_MIN_CONNS" default:"5"`
	MaxConnLifetime   time.Duration `json:"max_conn_lifetime" default:"1h"`
	HealthCheckPeriod time.Duration `json:"health_check_period" default:"30s"`
}

// LoggingConfig contains logging configuration. Supports structured (JSON)
// and human-readable (text) formats.
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`
	Output string `json:"output" env:"LOG_OUTPUT" default:"stdout"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	Enabled        bool    `json:"enabled" env:"TELEMETRY_ENABLED" default:"true"`
	Endpoint       string  `json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName    string  `json:"service_name" env:"OTEL_SERVICE_NAME" default:"orchestratord"`
	SamplingRate   float64 `json:"sampling_rate" default:"1.0"`
}

// Option is a functional option for configuring the runtime.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Providers: ProvidersConfig{
			AWSRegion: "us-east-1",
		},
		Alerts: AlertsConfig{
			ThresholdCPU:      90,
			ThresholdMemory:   90,
			ThresholdDBMillis: 500,
			BreachWindowSize:  3,
		},
		Scheduler: SchedulerConfig{
			TickInterval:     100 * time.Millisecond,
			BatchSize:        10,
			ThoughtRingSize:  10000,
			ShutdownDeadline: 10 * time.Second,
			ReflectMinRate:   0.7,
		},
		Gateway: GatewayConfig{
			CacheSize:              1000,
			FailureStreakThreshold: 3,
			RecentErrorsLimit:      100,
		},
		Memory: MemoryConfig{
			WorkingMemoryLimit: 100,
			EmbeddingDimension: 256,
		},
		Store: StoreConfig{
			MaxRetries:        2,
			MaxConns:          50,
			MinConns:          5,
			MaxConnLifetime:   time.Hour,
			HealthCheckPeriod: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Enabled:      true,
			ServiceName:  "orchestratord",
			SamplingRate: 1.0,
		},
	}
}

// LoadFromEnv overlays environment variables onto the current config.
// Environment variables take precedence over defaults but are themselves
// overridden by functional options applied after this call.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("ENABLE_RUNTIME_DDL"); v != "" {
		c.EnableRuntimeDDL = v == "1"
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAIAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.AnthropicAPIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Providers.GoogleAPIKey = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.Providers.GroqAPIKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Providers.AWSRegion = v
	}

	if v := os.Getenv("ALERT_THRESHOLD_CPU"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Alerts.ThresholdCPU = f
		}
	}
	if v := os.Getenv("ALERT_THRESHOLD_MEMORY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Alerts.ThresholdMemory = f
		}
	}
	if v := os.Getenv("ALERT_THRESHOLD_DB_MS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Alerts.ThresholdDBMillis = f
		}
	}
	if v := os.Getenv("BREACH_WINDOW_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Alerts.BreachWindowSize = n
		}
	}

	if v := os.Getenv("SCHEDULER_TICK_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.TickInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("GATEWAY_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Gateway.CacheSize = n
		}
	}
	if v := os.Getenv("WORKING_MEMORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Memory.WorkingMemoryLimit = n
		}
	}
	if v := os.Getenv("STORE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Store.MaxRetries = n
		}
	}
	if v := os.Getenv("STORE_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Store.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("STORE_MIN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Store.MinConns = int32(n)
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("TELEMETRY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Telemetry.Enabled = b
		}
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}

	return nil
}

// IsProductionLike reports whether the environment is one where the DDL
// kill-switch is unconditionally enforced (spec.md §4.5).
func (c *Config) IsProductionLike() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

// Validate checks the configuration for required/malformed values. A
// failure here is a fatal ConfigInvalid error (spec.md §7).
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return NewFrameworkError("config.Validate", KindConfigInvalid, fmt.Errorf("%w: DATABASE_URL", ErrMissingConfiguration))
	}
	if c.Providers.OpenAIAPIKey == "" && c.Providers.AnthropicAPIKey == "" &&
		c.Providers.GoogleAPIKey == "" && c.Providers.GroqAPIKey == "" {
		return NewFrameworkError("config.Validate", KindConfigInvalid, fmt.Errorf("%w: at least one provider credential", ErrMissingConfiguration))
	}
	if c.Scheduler.TickInterval <= 0 {
		return NewFrameworkError("config.Validate", KindConfigInvalid, fmt.Errorf("%w: scheduler tick interval must be positive", ErrInvalidConfiguration))
	}
	if c.Gateway.CacheSize <= 0 {
		return NewFrameworkError("config.Validate", KindConfigInvalid, fmt.Errorf("%w: gateway cache size must be positive", ErrInvalidConfiguration))
	}
	if c.Memory.WorkingMemoryLimit <= 0 {
		return NewFrameworkError("config.Validate", KindConfigInvalid, fmt.Errorf("%w: working memory limit must be positive", ErrInvalidConfiguration))
	}
	if c.Store.MaxRetries < 0 {
		return NewFrameworkError("config.Validate", KindConfigInvalid, fmt.Errorf("%w: store max retries must be >= 0", ErrInvalidConfiguration))
	}
	return nil
}

// NewConfig builds a Config by layering defaults, environment variables,
// and functional options (in that priority order), then validates it.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, NewFrameworkError("config.NewConfig", KindConfigInvalid, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WithLogger attaches a logger used for configuration-time diagnostics.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithDatabaseURL overrides the store connection string.
func WithDatabaseURL(url string) Option {
	return func(c *Config) error {
		c.DatabaseURL = url
		return nil
	}
}

// WithEnvironment overrides the deployment environment tag.
func WithEnvironment(env string) Option {
	return func(c *Config) error {
		c.Environment = env
		return nil
	}
}

// WithSchedulerTick overrides the main loop cadence.
func WithSchedulerTick(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("scheduler tick must be positive")
		}
		c.Scheduler.TickInterval = d
		return nil
	}
}

// WithGatewayCacheSize overrides the response cache bound.
func WithGatewayCacheSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("gateway cache size must be positive")
		}
		c.Gateway.CacheSize = n
		return nil
	}
}

// WithWorkingMemoryLimit overrides W, the working-memory bound.
func WithWorkingMemoryLimit(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("working memory limit must be positive")
		}
		c.Memory.WorkingMemoryLimit = n
		return nil
	}
}

// WithLogLevel overrides the log verbosity.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat overrides the log output format ("json" or "text").
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		if format != "json" && format != "text" {
			return fmt.Errorf("unsupported log format %q", format)
		}
		c.Logging.Format = format
		return nil
	}
}

// WithTelemetry enables/disables OTel export and sets the collector endpoint.
func WithTelemetry(enabled bool, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = enabled
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

// ============================================================================
// ProductionLogger — structured/human logger shared by every package.
// ============================================================================

// ProductionLogger is the default Logger/ComponentAwareLogger implementation.
// It supports JSON (production) and human-readable (development) output and
// participates in the core.MetricsRegistry weak-coupling pattern: once
// telemetry calls SetMetricsRegistry, every ProductionLogger starts emitting
// a derived operations counter alongside each log line.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer

	metricsEnabled bool
}

// NewProductionLogger creates a logger from LoggingConfig.
func NewProductionLogger(logging LoggingConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	logger := &ProductionLogger{
		level:       strings.ToLower(logging.Level),
		debug:       strings.ToLower(logging.Level) == "debug",
		serviceName: serviceName,
		component:   "core",
		format:      logging.Format,
		output:      output,
	}
	trackLogger(logger)
	return logger
}

// WithComponent returns a logger tagged with component, sharing this
// logger's configuration and metrics-enablement state.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

// EnableMetrics is called by the telemetry package to enable the metrics
// layer once it has registered a MetricsRegistry.
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, ctx)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, ctx)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": p.component,
			"message":   msg,
		}

		if ctx != nil && p.metricsEnabled {
			if baggage := getContextBaggage(ctx); len(baggage) > 0 {
				for k, v := range baggage {
					logEntry["trace."+k] = v
				}
			}
		}

		for k, v := range fields {
			logEntry[k] = v
		}

		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fieldStr.WriteString(fmt.Sprintf("%s=%v ", k, v))
			}
		}

		fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s\n",
			timestamp, level, p.serviceName, p.component, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitFrameworkMetric(level, fields, ctx)
	}
}

// emitFrameworkMetric emits a derived operations counter with a
// cardinality-aware label allowlist — only low-cardinality fields become
// metric labels, everything else stays in the log line only.
func (p *ProductionLogger) emitFrameworkMetric(level string, fields map[string]interface{}, ctx context.Context) {
	labels := []string{
		"level", level,
		"service", p.serviceName,
		"component", p.component,
	}

	for k, v := range fields {
		switch k {
		case "operation", "status", "error_type", "provider", "kind":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}

	if ctx != nil {
		emitMetricWithContext(ctx, "orchestratord.operations", 1.0, labels...)
	} else {
		emitMetric("orchestratord.operations", 1.0, labels...)
	}
}

// Weak-coupling helpers to the telemetry package via core.MetricsRegistry.
func emitMetric(name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter(name, labels...)
	}
}

func emitMetricWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.EmitWithContext(ctx, name, value, labels...)
	}
}

func getContextBaggage(ctx context.Context) map[string]string {
	if globalMetricsRegistry != nil {
		return globalMetricsRegistry.GetBaggage(ctx)
	}
	return make(map[string]string)
}
