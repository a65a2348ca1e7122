// Package runtime wires the Provider Fallback Gateway, the Resilient
// Store Facade, the Priority Attention Manager, and all seven subsystem
// handlers into the Metacognitive Scheduler, exposing the public API
// surface from spec.md §6 as a single Orchestrator.
package runtime

import (
	"context"
	"fmt"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/attention"
	"github.com/brainops/orchestrator/gateway"
	"github.com/brainops/orchestrator/scheduler"
	"github.com/brainops/orchestrator/store"
	"github.com/brainops/orchestrator/subsystems/awareness"
	"github.com/brainops/orchestrator/subsystems/goals"
	"github.com/brainops/orchestrator/subsystems/learning"
	"github.com/brainops/orchestrator/subsystems/memory"
	"github.com/brainops/orchestrator/subsystems/proactive"
	"github.com/brainops/orchestrator/subsystems/reasoning"
	"github.com/brainops/orchestrator/subsystems/selfoptimization"
)

// Subsystem is the common lifecycle every handler in Orchestrator.handlers
// implements, beyond scheduler.Handler itself.
type Subsystem interface {
	scheduler.Handler
	Initialize(ctx context.Context, facade store.Facade) error
	Health() map[string]interface{}
	Shutdown(ctx context.Context) error
}

// Orchestrator owns the full runtime graph: store, gateway, scheduler,
// attention manager, and the seven subsystems bound to the scheduler's
// thought kinds. It is the single object cmd/orchestratord constructs.
type Orchestrator struct {
	logger    core.Logger
	telemetry core.Telemetry

	store   *store.Store
	gateway *gateway.Gateway
	sched   *scheduler.Scheduler
	focus   *attention.Manager

	awareness        *awareness.Subsystem
	goals            *goals.Subsystem
	learning         *learning.Subsystem
	memory           *memory.Subsystem
	proactive        *proactive.Subsystem
	reasoning        *reasoning.Subsystem
	selfoptimization *selfoptimization.Subsystem

	subsystems []Subsystem
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

func WithLogger(logger core.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(o *Orchestrator) { o.telemetry = telemetry }
}

// New builds the complete dependency graph from cfg and a store connection
// string, registers every subsystem against its scheduler.Kind, and
// initializes each subsystem against the opened store. It does not start
// the scheduler's background loops; call Start for that.
func New(ctx context.Context, cfg *core.Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		logger:    &core.NoOpLogger{},
		telemetry: &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if cal, ok := o.logger.(core.ComponentAwareLogger); ok {
		o.logger = cal.WithComponent("runtime")
	}

	st, err := store.Open(ctx, cfg.DatabaseURL, cfg.Store,
		store.WithLogger(o.logger),
		store.WithTelemetry(o.telemetry),
		store.WithMaxRetries(cfg.Store.MaxRetries),
		store.WithEnvironment(cfg.Environment),
		store.WithRuntimeDDLAllowed(cfg.EnableRuntimeDDL),
	)
	if err != nil {
		return nil, fmt.Errorf("runtime: open store: %w", err)
	}
	o.store = st

	gw, err := gateway.NewGatewayFromRegistry(&gateway.ProviderConfig{
		APIKey: firstNonEmpty(
			cfg.Providers.OpenAIAPIKey,
			cfg.Providers.AnthropicAPIKey,
			cfg.Providers.GoogleAPIKey,
			cfg.Providers.GroqAPIKey,
		),
		Logger:    o.logger,
		Telemetry: o.telemetry,
	},
		gateway.WithGatewayLogger(o.logger),
		gateway.WithGatewayTelemetry(o.telemetry),
		gateway.WithFailureStreakThreshold(cfg.Gateway.FailureStreakThreshold),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("runtime: build gateway: %w", err)
	}
	o.gateway = gw

	o.sched = scheduler.New(cfg.Scheduler,
		scheduler.WithLogger(o.logger),
		scheduler.WithTelemetry(o.telemetry),
		scheduler.WithStore(o.store),
	)

	o.goals = goals.New(goals.WithLogger(o.logger))
	o.memory = memory.New(
		memory.WithLogger(o.logger),
		memory.WithWorkingMemoryLimit(cfg.Memory.WorkingMemoryLimit),
		memory.WithEmbeddingDimension(cfg.Memory.EmbeddingDimension),
	)
	o.selfoptimization = selfoptimization.New(selfoptimization.WithLogger(o.logger))
	o.proactive = proactive.New(o.sched, proactive.WithLogger(o.logger))
	o.learning = learning.New(o.sched, learning.WithLogger(o.logger))
	o.awareness = awareness.New(o.sched,
		awareness.WithLogger(o.logger),
		awareness.WithBreachWindow(cfg.Alerts.BreachWindowSize),
	)
	o.reasoning = reasoning.New(o.gateway, reasoning.WithLogger(o.logger))

	o.focus = attention.New(o.goals, o.proactive,
		attention.WithLogger(o.logger),
		attention.WithStore(o.store),
	)
	o.sched.SetAttentionManager(o.focus)

	o.subsystems = []Subsystem{
		o.awareness, o.goals, o.learning, o.memory,
		o.proactive, o.reasoning, o.selfoptimization,
	}
	for _, s := range o.subsystems {
		if err := s.Initialize(ctx, o.store); err != nil {
			st.Close()
			return nil, fmt.Errorf("runtime: initialize subsystem: %w", err)
		}
	}

	o.sched.RegisterHandler(scheduler.KindAlert, o.awareness)
	o.sched.RegisterHandler(scheduler.KindMemoryRequest, o.memory)
	o.sched.RegisterHandler(scheduler.KindGoalUpdate, o.goals)
	o.sched.RegisterHandler(scheduler.KindLearningEvent, o.learning)
	o.sched.RegisterHandler(scheduler.KindPrediction, o.proactive)
	o.sched.RegisterHandler(scheduler.KindReasoningRequest, o.reasoning)
	o.sched.RegisterHandler(scheduler.KindOptimizationRequest, o.selfoptimization)

	return o, nil
}

// firstNonEmpty returns the first non-empty string from the provided
// values, used to pick the gateway's sole ProviderConfig.APIKey seed; the
// registry's per-provider factories each read their own environment
// variable directly, so this only needs to be non-empty enough to satisfy
// providers that don't.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Start launches the scheduler's main loop and subordinate loops. It
// returns immediately; the loops run under the scheduler's internal
// supervisor until Shutdown is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.sched.Start(ctx)
}

// Shutdown stops every background loop, shuts down each subsystem, and
// closes the store connection pool. Safe to call once, after Start.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.sched.Shutdown()
	for _, s := range o.subsystems {
		if err := s.Shutdown(ctx); err != nil {
			o.logger.Warn("subsystem shutdown returned an error", map[string]interface{}{"error": err.Error()})
		}
	}
	o.store.Close()
}

// Think enqueues a new thought and returns its id without waiting for it
// to be processed (spec.md §6 think()).
func (o *Orchestrator) Think(ctx context.Context, kind scheduler.Kind, priority scheduler.Priority, source string, payload map[string]interface{}) (string, error) {
	return o.sched.Think(ctx, kind, priority, source, payload)
}

// Decide routes a decision request through the scheduler and waits for its
// outcome (spec.md §6 decide()).
func (o *Orchestrator) Decide(ctx context.Context, decisionContext string, options map[string]interface{}, urgency scheduler.Priority) (scheduler.Outcome, error) {
	return o.sched.Decide(ctx, decisionContext, options, urgency)
}

// Remember stores data into the memory subsystem through the scheduler
// (spec.md §6 remember()).
func (o *Orchestrator) Remember(ctx context.Context, data map[string]interface{}, importance float64) (string, error) {
	return o.sched.Remember(ctx, data, importance)
}

// Recall queries the memory subsystem through the scheduler (spec.md §6
// recall()).
func (o *Orchestrator) Recall(ctx context.Context, query string, limit int) ([]map[string]interface{}, error) {
	return o.sched.Recall(ctx, query, limit)
}

// SetGoal creates a goal through the scheduler (spec.md §6 set_goal()).
func (o *Orchestrator) SetGoal(ctx context.Context, goal map[string]interface{}) (string, error) {
	return o.sched.SetGoal(ctx, goal)
}

// Health reports the scheduler's aggregate health, which itself folds in
// attention focus and shift counts (spec.md §6 health()).
func (o *Orchestrator) Health() scheduler.Metrics {
	return o.sched.Health()
}

// Reflect runs a reflection pass over the requested topic (spec.md §6
// reflect()).
func (o *Orchestrator) Reflect(ctx context.Context, topic string) (scheduler.Metrics, error) {
	return o.sched.Reflect(ctx, topic)
}

// Gateway exposes the underlying provider gateway for callers that need
// direct generate() access outside the thought pipeline (e.g. the HTTP
// surface in cmd/orchestratord proxying a raw completion request).
func (o *Orchestrator) Gateway() *gateway.Gateway {
	return o.gateway
}
