package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/itsneelabh/gomind/resilience"
	"github.com/itsneelabh/gomind/telemetry"
)

// cacheCapacity is the maximum number of cached responses. When an insert
// takes the cache past this size, the oldest entries are evicted down to
// cacheEvictTo before cachePut returns.
const (
	cacheCapacity = 1000
	cacheEvictTo  = 500
)

// providerBreakerConfig builds a per-provider circuit breaker config. A
// QuotaExceeded error is classified as a failure like any other
// infrastructure error; distinguishing it happens at the gateway level via
// core.IsQuotaExceeded, not inside the breaker.
func providerBreakerConfig(name string, failureStreakThreshold int, logger core.Logger) *resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultConfig()
	cfg.Name = "gateway.provider." + name
	cfg.VolumeThreshold = failureStreakThreshold
	cfg.ErrorThreshold = 0.5
	cfg.SleepWindow = 30 * time.Second
	cfg.Logger = logger
	return cfg
}

// providerEntry tracks one provider's driver plus its circuit breaker.
type providerEntry struct {
	Name         string
	PriorityRank int
	Driver       Driver
	Breaker      *resilience.CircuitBreaker
}

// cacheEntry is a single cached generation result.
type cacheEntry struct {
	result    *Result
	createdAt time.Time
}

// Gateway dispatches generation requests across a priority-ordered list of
// provider drivers, falling back to the next provider on failure, caching
// responses by a deterministic fingerprint of the request, and tracking
// per-provider failure streaks so a provider that is clearly down stops
// being tried on every request.
type Gateway struct {
	mu        sync.Mutex
	providers []*providerEntry

	cache      map[string]*cacheEntry
	cacheOrder []string // insertion order, oldest first, for FIFO eviction

	cacheHits   int64
	cacheMisses int64

	totalRequests    int64
	perProviderUsage map[string]int64
	recentErrors     []string // ring buffer capped at maxRecentErrors, newest last

	logger    core.Logger
	telemetry core.Telemetry

	failureStreakThreshold int
}

// maxRecentErrors bounds Metrics().RecentErrors per spec edge policy: the
// gateway must never let an unbounded error log grow the metrics snapshot.
const maxRecentErrors = 100

// GatewayOption configures a Gateway at construction time.
type GatewayOption func(*Gateway)

// WithGatewayLogger sets the logger used for gateway operations.
func WithGatewayLogger(logger core.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger == nil {
			g.logger = &core.NoOpLogger{}
			return
		}
		if cal, ok := logger.(core.ComponentAwareLogger); ok {
			g.logger = cal.WithComponent("gateway")
			return
		}
		g.logger = logger
	}
}

// WithGatewayTelemetry sets the telemetry provider for distributed tracing.
func WithGatewayTelemetry(tel core.Telemetry) GatewayOption {
	return func(g *Gateway) {
		g.telemetry = tel
	}
}

// WithFailureStreakThreshold sets the number of failed attempts a
// provider's circuit breaker tolerates (within its sliding window) before
// it trips open, per core.GatewayConfig.FailureStreakThreshold.
func WithFailureStreakThreshold(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.failureStreakThreshold = n
		}
	}
}

// NewGateway builds a Gateway from an explicit, already priority-ordered
// list of (name, driver) pairs. Priority rank follows list order: index 0
// is tried first.
func NewGateway(providers []NamedDriver, opts ...GatewayOption) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("configuration error: at least one provider required")
	}

	g := &Gateway{
		cache:                  make(map[string]*cacheEntry),
		perProviderUsage:       make(map[string]int64),
		logger:                 &core.NoOpLogger{},
		telemetry:              &core.NoOpTelemetry{},
		failureStreakThreshold: 3,
	}
	for _, opt := range opts {
		opt(g)
	}

	for i, p := range providers {
		breaker, err := resilience.NewCircuitBreaker(providerBreakerConfig(p.Name, g.failureStreakThreshold, g.logger))
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		g.providers = append(g.providers, &providerEntry{
			Name:         p.Name,
			PriorityRank: i,
			Driver:       p.Driver,
			Breaker:      breaker,
		})
	}

	g.logger.Info("gateway initialized", map[string]interface{}{
		"operation":      "gateway_init",
		"provider_count": len(g.providers),
	})

	return g, nil
}

// NamedDriver pairs a provider name with its Driver implementation, used to
// construct a Gateway in explicit priority order.
type NamedDriver struct {
	Name   string
	Driver Driver
}

// NewGatewayFromRegistry builds a Gateway from registered provider
// factories, ordered by each factory's detected priority (highest first),
// skipping providers whose environment detection reports unavailable.
func NewGatewayFromRegistry(config *ProviderConfig, opts ...GatewayOption) (*Gateway, error) {
	info := GetProviderInfo()

	sort.SliceStable(info, func(i, j int) bool {
		return info[i].Priority > info[j].Priority
	})

	var named []NamedDriver
	for _, pi := range info {
		if !pi.Available {
			continue
		}
		factory, ok := GetProvider(pi.Name)
		if !ok {
			continue
		}
		cfg := *config
		cfg.Provider = pi.Name
		named = append(named, NamedDriver{Name: pi.Name, Driver: factory.Create(&cfg)})
	}

	if len(named) == 0 {
		return nil, fmt.Errorf("configuration error: no providers available (check API keys)")
	}

	return NewGateway(named, opts...)
}

// Generate tries each available provider in priority order until one
// succeeds, serving from cache when the request fingerprint has been seen
// before. It does not retry a failed provider within a single call; use
// GenerateWithRetry for that.
func (g *Gateway) Generate(ctx context.Context, prompt string, opts *Options) (*Result, error) {
	startTime := time.Now()
	atomic.AddInt64(&g.totalRequests, 1)

	var span core.Span = &core.NoOpSpan{}
	if g.telemetry != nil {
		ctx, span = g.telemetry.StartSpan(ctx, "gateway.generate")
	}
	defer span.End()

	fp := fingerprint(prompt, opts)
	span.SetAttribute("gateway.fingerprint", fp)

	if opts.useCache() {
		if cached, hit := g.cacheGet(fp); hit {
			span.SetAttribute("gateway.cache_hit", true)
			g.logger.DebugWithContext(ctx, "gateway cache hit", map[string]interface{}{
				"operation":   "gateway_generate",
				"fingerprint": fp,
			})
			telemetry.Counter(telemetry.MetricGatewayCache, "result", "hit")
			served := *cached
			served.FromCache = true
			served.ElapsedMs = time.Since(startTime).Milliseconds()
			return &served, nil
		}
		telemetry.Counter(telemetry.MetricGatewayCache, "result", "miss")
	}

	g.mu.Lock()
	ordered := make([]*providerEntry, len(g.providers))
	copy(ordered, g.providers)
	g.mu.Unlock()
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].PriorityRank < ordered[j].PriorityRank })

	var lastErr error
	var triedAny bool
	var failedProviders []string

	for _, entry := range ordered {
		attemptStart := time.Now()
		var result *Result
		err := entry.Breaker.Execute(ctx, func() error {
			var genErr error
			result, genErr = entry.Driver.Generate(ctx, prompt, cloneOptions(opts))
			return genErr
		})
		attemptDuration := time.Since(attemptStart)

		if errors.Is(err, core.ErrCircuitBreakerOpen) {
			// Provider's breaker is open; skip without counting it as a
			// fresh failure or a provider that was actually tried.
			continue
		}
		triedAny = true

		if err == nil {
			telemetry.Counter(telemetry.MetricGatewayChainAttempt, "provider", entry.Name, "status", "success")
			result.ProviderUsed = entry.Name
			result.FromCache = false
			result.ElapsedMs = time.Since(startTime).Milliseconds()
			g.recordProviderUsage(entry.Name)
			if opts.useCache() {
				g.cachePut(fp, result)
			}

			if len(failedProviders) > 0 {
				g.logger.InfoWithContext(ctx, "gateway fallback succeeded", map[string]interface{}{
					"operation":            "gateway_generate",
					"failed_providers":     failedProviders,
					"successful_provider":  entry.Name,
					"total_duration_ms":    time.Since(startTime).Milliseconds(),
					"attempt_duration_ms":  attemptDuration.Milliseconds(),
				})
			} else {
				g.logger.InfoWithContext(ctx, "gateway request succeeded", map[string]interface{}{
					"operation":   "gateway_generate",
					"provider":    entry.Name,
					"duration_ms": attemptDuration.Milliseconds(),
				})
			}
			span.SetAttribute("gateway.status", "success")
			span.SetAttribute("gateway.successful_provider", entry.Name)
			return result, nil
		}

		lastErr = err
		failedProviders = append(failedProviders, entry.Name)
		telemetry.Counter(telemetry.MetricGatewayChainAttempt, "provider", entry.Name, "status", "failed")
		g.recordError(fmt.Sprintf("provider=%s error=%s", entry.Name, err.Error()))

		quotaExceeded := core.IsQuotaExceeded(err)
		if quotaExceeded {
			// Quota errors mean the provider is out until its quota resets,
			// not merely flaky; force the breaker open rather than waiting
			// for the error-rate threshold to trip.
			entry.Breaker.ForceOpen()
		}

		g.logger.WarnWithContext(ctx, "provider failed, trying next", map[string]interface{}{
			"operation":      "gateway_generate",
			"provider":       entry.Name,
			"error":          err.Error(),
			"quota_exceeded": quotaExceeded,
			"duration_ms":    attemptDuration.Milliseconds(),
		})

		if !opts.allowFallback() {
			break
		}
	}

	span.SetAttribute("gateway.status", "exhausted")
	if lastErr != nil {
		span.RecordError(lastErr)
	}

	if !triedAny {
		g.logger.ErrorWithContext(ctx, "no providers available", map[string]interface{}{
			"operation": "gateway_generate",
		})
		return nil, core.NewFrameworkError("gateway.generate", core.KindAllProvidersExhausted, core.ErrAllProvidersExhausted)
	}

	telemetry.Counter(telemetry.MetricGatewayChainExhausted, "providers_tried", fmt.Sprintf("%d", len(failedProviders)))
	g.logger.ErrorWithContext(ctx, "all providers exhausted", map[string]interface{}{
		"operation":        "gateway_generate",
		"failed_providers": failedProviders,
		"last_error":       lastErr.Error(),
	})

	if core.IsQuotaExceeded(lastErr) {
		return nil, core.NewFrameworkError("gateway.generate", core.KindQuotaExceeded, core.ErrQuotaExceeded)
	}
	return nil, core.NewFrameworkError("gateway.generate", core.KindAllProvidersExhausted, fmt.Errorf("%w: %v", core.ErrAllProvidersExhausted, lastErr))
}

// GenerateWithRetry wraps Generate with bounded exponential backoff: on
// AllProvidersExhausted it resets providers whose circuit tripped on the
// ordinary error-rate threshold (transient blips, not a forced-open quota
// exhaustion) and retries after sleeping 2^attempt seconds, up to
// maxRetries attempts.
func (g *Gateway) GenerateWithRetry(ctx context.Context, prompt string, opts *Options, maxRetries int) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := g.Generate(ctx, prompt, opts)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if core.IsQuotaExceeded(err) {
			// Quota errors are not transient; retrying immediately won't help.
			return nil, err
		}

		g.resetTransientFailures()

		if attempt == maxRetries {
			break
		}

		delay := time.Duration(1<<uint(attempt)) * time.Second
		select {
		case <-ctx.Done():
			return nil, core.NewFrameworkError("gateway.generate_with_retry", core.KindCancelled, ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// resetTransientFailures resets every provider whose circuit is open so a
// retry pass can try it again. Reset does not clear a ForceOpen override, so
// a provider forced open for a hard reason (quota) keeps rejecting calls;
// only ResetAll clears that override.
func (g *Gateway) resetTransientFailures() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, entry := range g.providers {
		if entry.Breaker.GetState() == resilience.StateOpen.String() {
			entry.Breaker.Reset()
		}
	}
}

// ResetAll clears every provider's circuit breaker state, including forced
// opens, discarding any accumulated health history.
func (g *Gateway) ResetAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, entry := range g.providers {
		entry.Breaker.ClearForce()
		entry.Breaker.Reset()
	}
	g.logger.Info("gateway providers reset", map[string]interface{}{
		"operation": "gateway_reset_all",
	})
}

// recordProviderUsage increments the count of successful generations
// attributed to a provider, surfaced via Metrics().PerProviderUsage.
func (g *Gateway) recordProviderUsage(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.perProviderUsage[name]++
}

// recordError appends a formatted failure to the bounded recent-errors
// ring, dropping the oldest entry once maxRecentErrors is exceeded.
func (g *Gateway) recordError(msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recentErrors = append(g.recentErrors, msg)
	if len(g.recentErrors) > maxRecentErrors {
		g.recentErrors = g.recentErrors[len(g.recentErrors)-maxRecentErrors:]
	}
}

// Metrics reports current gateway health, request accounting, and cache
// statistics.
type Metrics struct {
	TotalRequests        int64
	CacheHits            int64
	PerProviderUsage     map[string]int64
	RecentErrors         []string
	AvailableProviders   []string
	UnavailableProviders []string
	CacheSize            int
	CacheHitRate         float64
}

// Metrics returns a snapshot of provider availability, request counts, and
// cache hit rate.
func (g *Gateway) Metrics() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()

	var available, unavailable []string
	for _, entry := range g.providers {
		if entry.Breaker.GetState() == resilience.StateOpen.String() {
			unavailable = append(unavailable, entry.Name)
		} else {
			available = append(available, entry.Name)
		}
	}

	total := g.cacheHits + g.cacheMisses
	var hitRate float64
	if total > 0 {
		hitRate = float64(g.cacheHits) / float64(total)
	}

	usage := make(map[string]int64, len(g.perProviderUsage))
	for k, v := range g.perProviderUsage {
		usage[k] = v
	}
	recentErrors := make([]string, len(g.recentErrors))
	copy(recentErrors, g.recentErrors)

	return Metrics{
		TotalRequests:        atomic.LoadInt64(&g.totalRequests),
		CacheHits:            g.cacheHits,
		PerProviderUsage:     usage,
		RecentErrors:         recentErrors,
		AvailableProviders:   available,
		UnavailableProviders: unavailable,
		CacheSize:            len(g.cache),
		CacheHitRate:         hitRate,
	}
}

func (g *Gateway) cacheGet(fp string) (*Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[fp]
	if !ok {
		g.cacheMisses++
		return nil, false
	}
	g.cacheHits++
	return entry.result, true
}

func (g *Gateway) cachePut(fp string, result *Result) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.cache[fp]; !exists {
		g.cacheOrder = append(g.cacheOrder, fp)
	}
	g.cache[fp] = &cacheEntry{result: result, createdAt: time.Now()}

	if len(g.cacheOrder) > cacheCapacity {
		evict := len(g.cacheOrder) - cacheEvictTo
		for _, key := range g.cacheOrder[:evict] {
			delete(g.cache, key)
		}
		g.cacheOrder = g.cacheOrder[evict:]
	}
}

// fingerprint computes a deterministic cache key for a (prompt, options)
// pair by hashing a key-sorted JSON encoding, so semantically identical
// requests always produce the same fingerprint regardless of field order.
func fingerprint(prompt string, opts *Options) string {
	payload := map[string]interface{}{
		"prompt": prompt,
	}
	if opts != nil {
		payload["model"] = opts.Model
		payload["temperature"] = opts.Temperature
		payload["max_tokens"] = opts.MaxTokens
		payload["system_prompt"] = opts.SystemPrompt
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, payload[k])
	}
	encoded, _ := json.Marshal(ordered)

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
