// Package selfoptimization implements the Self-Optimization subsystem: it
// monitors process memory usage, and when a check finds heap usage above
// the breach fraction drops non-essential caches and forces a garbage
// collection, recording a before/after/improvement report. Each check
// reads the heap once; there is no rolling window of samples.
package selfoptimization

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/scheduler"
	"github.com/brainops/orchestrator/store"
)

// defaultMemoryBreachFraction is the fraction of the configured memory
// limit (HeapAlloc / limit) above which a memory optimization pass runs.
const defaultMemoryBreachFraction = 0.85

// defaultMemoryLimitBytes is used when no explicit limit is configured; it
// approximates a typical container memory ceiling for a Go service.
const defaultMemoryLimitBytes = 512 * 1024 * 1024

// CacheDropper is a non-essential cache a component can ask this
// subsystem to clear under memory pressure. DropNonEssential should be
// cheap and safe to call repeatedly; it returns how many entries it
// dropped.
type CacheDropper interface {
	DropNonEssential(ctx context.Context) int
}

// Report records one optimization pass.
type Report struct {
	Timestamp     time.Time
	Before        float64
	After         float64
	Improvement   float64
	CachesDropped int
}

// Subsystem implements scheduler.Handler for scheduler.KindOptimizationRequest.
type Subsystem struct {
	logger core.Logger
	store  store.Facade

	breachFraction float64
	limitBytes     uint64
	caches         []CacheDropper

	mu      sync.Mutex
	reports []Report
}

type Option func(*Subsystem)

func WithLogger(logger core.Logger) Option { return func(s *Subsystem) { s.logger = logger } }

func WithMemoryBreachFraction(f float64) Option {
	return func(s *Subsystem) {
		if f > 0 && f <= 1 {
			s.breachFraction = f
		}
	}
}

func WithMemoryLimitBytes(n uint64) Option {
	return func(s *Subsystem) {
		if n > 0 {
			s.limitBytes = n
		}
	}
}

func WithCacheDropper(c CacheDropper) Option {
	return func(s *Subsystem) { s.caches = append(s.caches, c) }
}

func New(opts ...Option) *Subsystem {
	s := &Subsystem{
		logger:         &core.NoOpLogger{},
		breachFraction: defaultMemoryBreachFraction,
		limitBytes:     defaultMemoryLimitBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cal, ok := s.logger.(core.ComponentAwareLogger); ok {
		s.logger = cal.WithComponent("subsystem/self_optimization")
	}
	return s
}

func (s *Subsystem) Initialize(ctx context.Context, facade store.Facade) error {
	s.store = facade
	return nil
}

func (s *Subsystem) Health() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"status":  "healthy",
		"score":   1.0,
		"details": map[string]interface{}{"optimizations_run": len(s.reports)},
	}
}

func (s *Subsystem) Shutdown(ctx context.Context) error { return nil }

// Handle dispatches an optimization_request thought by its "op" payload
// field. An unrecognized or empty op falls back to a threshold check: it
// optimizes only if memory usage is currently breaching.
func (s *Subsystem) Handle(ctx context.Context, t *scheduler.Thought) (scheduler.Outcome, error) {
	op, _ := t.Payload["op"].(string)
	switch op {
	case "optimize_memory":
		report := s.optimizeMemory(ctx)
		return scheduler.Outcome{Status: "ok", Data: reportData(report)}, nil

	case "", "check":
		breaching, fraction := s.memoryBreaching()
		if !breaching {
			return scheduler.Outcome{Status: "ok", Data: map[string]interface{}{"optimized": false, "memory_fraction": fraction}}, nil
		}
		report := s.optimizeMemory(ctx)
		data := reportData(report)
		data["optimized"] = true
		return scheduler.Outcome{Status: "ok", Data: data}, nil

	default:
		return scheduler.Outcome{Status: "error", Error: fmt.Sprintf("unknown optimization op %q", op)}, nil
	}
}

// ActivateSelfHealing responds to an alert kind with the matching
// remediation; memory_exhaustion triggers an immediate memory optimization
// without checking current heap usage against the breach fraction.
func (s *Subsystem) ActivateSelfHealing(ctx context.Context, alertKind string) (*Report, error) {
	switch alertKind {
	case "memory_exhaustion":
		report := s.optimizeMemory(ctx)
		return &report, nil
	default:
		return nil, fmt.Errorf("no self-healing action registered for alert kind %q", alertKind)
	}
}

// memoryBreaching reports whether current heap usage exceeds
// breachFraction of the configured limit.
func (s *Subsystem) memoryBreaching() (bool, float64) {
	fraction := s.heapFraction()
	return fraction > s.breachFraction, fraction
}

func (s *Subsystem) heapFraction() float64 {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return float64(mem.HeapAlloc) / float64(s.limitBytes)
}

// optimizeMemory drops every registered non-essential cache, forces a
// garbage collection, and records the before/after improvement.
func (s *Subsystem) optimizeMemory(ctx context.Context) Report {
	before := s.heapFraction()

	dropped := 0
	for _, c := range s.caches {
		dropped += c.DropNonEssential(ctx)
	}
	runtime.GC()

	after := s.heapFraction()
	report := Report{
		Timestamp:     time.Now(),
		Before:        before,
		After:         after,
		Improvement:   before - after,
		CachesDropped: dropped,
	}

	s.mu.Lock()
	s.reports = append(s.reports, report)
	s.mu.Unlock()

	s.logger.Info("memory optimization pass complete", map[string]interface{}{
		"before":         report.Before,
		"after":          report.After,
		"improvement":    report.Improvement,
		"caches_dropped": report.CachesDropped,
	})

	if s.store != nil {
		if err := s.store.Execute(ctx,
			`INSERT INTO self_optimization_reports (before_value, after_value, improvement, caches_dropped, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
			report.Before, report.After, report.Improvement, report.CachesDropped, report.Timestamp,
		); err != nil {
			s.logger.Error("failed to persist optimization report", map[string]interface{}{"error": err.Error()})
		}
	}

	return report
}

func reportData(report Report) map[string]interface{} {
	return map[string]interface{}{
		"before":         report.Before,
		"after":          report.After,
		"improvement":    report.Improvement,
		"caches_dropped": report.CachesDropped,
	}
}
