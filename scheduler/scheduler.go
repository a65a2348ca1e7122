package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brainops/orchestrator/attention"
	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/store"
	"github.com/brainops/orchestrator/supervisor"
)

// RunState mirrors the scheduler's coarse-grained lifecycle state
// transitions (spec.md §4.2).
type RunState string

const (
	StateAwake      RunState = "awake"
	StateProcessing RunState = "processing"
	StateReflecting RunState = "reflecting"
	StateResting    RunState = "resting"
)

const (
	attentionLoopInterval    = time.Second
	reflectionLoopInterval   = 5 * time.Minute
	persistenceLoopInterval  = 60 * time.Second
	metricsLoopInterval      = 30 * time.Second
	handlerDeadline          = 5 * time.Second
	decisionDeadline         = 10 * time.Second
)

// Metrics is the snapshot returned by Health().
type Metrics struct {
	State            RunState
	Focus            string
	PendingCount     int
	UptimeSeconds    float64
	ThoughtsHandled  int64
	AttentionShifts  int64
	RecentSuccessRate float64
}

// Scheduler implements the Metacognitive Scheduler: it owns the thought
// stream, dispatches to bound handlers, and runs the main loop plus its
// subordinate loops.
type Scheduler struct {
	logger    core.Logger
	telemetry core.Telemetry
	store     store.Facade
	attention *attention.Manager
	sup       *supervisor.Supervisor

	tick           time.Duration
	batchSize      int
	reflectMinRate float64

	stream   *ThoughtStream
	handlers map[Kind]Handler

	mu      sync.Mutex
	history []*Thought // ring buffer of processed thoughts, most recent last
	ringCap int

	waitersMu sync.Mutex
	waiters   map[string]chan Outcome

	state     atomic.Value // RunState
	idSeq     atomic.Int64
	handled   atomic.Int64
	startedAt time.Time
	shutdown  atomic.Bool
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

func WithLogger(logger core.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(s *Scheduler) { s.telemetry = telemetry }
}

func WithStore(facade store.Facade) Option {
	return func(s *Scheduler) { s.store = facade }
}

func WithAttentionManager(mgr *attention.Manager) Option {
	return func(s *Scheduler) { s.attention = mgr }
}

// New creates a Scheduler from SchedulerConfig tunables.
func New(cfg core.SchedulerConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:         &core.NoOpLogger{},
		telemetry:      &core.NoOpTelemetry{},
		tick:           cfg.TickInterval,
		batchSize:      cfg.BatchSize,
		reflectMinRate: cfg.ReflectMinRate,
		stream:         NewThoughtStream(cfg.ThoughtRingSize),
		handlers:       make(map[Kind]Handler),
		ringCap:        cfg.ThoughtRingSize,
		waiters:        make(map[string]chan Outcome),
		startedAt:      time.Now(),
	}
	if s.tick <= 0 {
		s.tick = 100 * time.Millisecond
	}
	if s.batchSize <= 0 {
		s.batchSize = 10
	}
	if s.reflectMinRate <= 0 {
		s.reflectMinRate = 0.7
	}
	if s.ringCap <= 0 {
		s.ringCap = 10000
	}
	for _, opt := range opts {
		opt(s)
	}
	if cal, ok := s.logger.(core.ComponentAwareLogger); ok {
		s.logger = cal.WithComponent("scheduler")
	}
	s.sup = supervisor.New(context.Background(), s.logger)
	s.state.Store(StateAwake)
	return s
}

// RegisterHandler binds a Kind to a Handler. Must be called before Start.
func (s *Scheduler) RegisterHandler(kind Kind, h Handler) {
	s.handlers[kind] = h
}

// SetAttentionManager binds the attention manager after construction. The
// goal/opportunity subsystems the manager is built from typically need this
// Scheduler as their ControllerHandle, so the manager cannot exist yet when
// New is called; callers build the Scheduler first, then the subsystems and
// Manager, then wire it in with this method before calling Start.
func (s *Scheduler) SetAttentionManager(mgr *attention.Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attention = mgr
}

// Store returns the resilient store facade, satisfying ControllerHandle.
func (s *Scheduler) Store() store.Facade {
	return s.store
}

// PublishEvent emits a named event to telemetry and the log, satisfying
// ControllerHandle.
func (s *Scheduler) PublishEvent(ctx context.Context, name string, data map[string]interface{}) {
	if s.telemetry != nil {
		fields := map[string]string{}
		for k, v := range data {
			fields[k] = fmt.Sprintf("%v", v)
		}
		_, span := s.telemetry.StartSpan(ctx, "scheduler.event."+name)
		for k, v := range fields {
			span.SetAttribute(k, v)
		}
		span.End()
	}
	s.logger.Info(name, data)
}

// Start launches the main loop and subordinate loops under the
// supervisor. It returns immediately; loops run until Shutdown is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.sup.Spawn("scheduler.main_loop", s.mainLoop)
	s.sup.Spawn("scheduler.attention_loop", s.attentionLoop)
	s.sup.Spawn("scheduler.reflection_loop", s.reflectionLoop)
	s.sup.Spawn("scheduler.persistence_loop", s.persistenceLoop)
	s.sup.Spawn("scheduler.metrics_loop", s.metricsLoop)
}

// Shutdown initiates graceful termination: every loop's cancellation is
// observed at its next check, and Shutdown blocks until they all settle.
func (s *Scheduler) Shutdown() {
	s.shutdown.Store(true)
	s.sup.Shutdown()
}

// nextID generates an opaque, monotonically distinguishable thought id.
func (s *Scheduler) nextID() string {
	return fmt.Sprintf("th_%d_%d", time.Now().UnixNano(), s.idSeq.Add(1))
}

// Think enqueues a new thought and returns its id without waiting for it
// to be processed. Satisfies ControllerHandle.
func (s *Scheduler) Think(ctx context.Context, kind Kind, priority Priority, source string, payload map[string]interface{}) (string, error) {
	t := &Thought{
		ID:        s.nextID(),
		CreatedAt: time.Now(),
		Kind:      kind,
		Payload:   payload,
		Source:    source,
		Priority:  priority,
	}
	s.stream.Push(t)
	return t.ID, nil
}

// thinkAndWait enqueues a thought and blocks until it is processed or ctx
// is done, backing the synchronous Decide/Remember/Recall/SetGoal calls.
func (s *Scheduler) thinkAndWait(ctx context.Context, kind Kind, priority Priority, source string, payload map[string]interface{}) (Outcome, error) {
	t := &Thought{
		ID:        s.nextID(),
		CreatedAt: time.Now(),
		Kind:      kind,
		Payload:   payload,
		Source:    source,
		Priority:  priority,
	}

	ch := make(chan Outcome, 1)
	s.waitersMu.Lock()
	s.waiters[t.ID] = ch
	s.waitersMu.Unlock()
	defer func() {
		s.waitersMu.Lock()
		delete(s.waiters, t.ID)
		s.waitersMu.Unlock()
	}()

	s.stream.Push(t)

	select {
	case outcome := <-ch:
		return outcome, nil
	case <-ctx.Done():
		return Outcome{}, core.NewFrameworkError("scheduler.think_and_wait", core.KindCancelled, ctx.Err())
	}
}

// Decide creates a reasoning thought and awaits its outcome with a
// deadline.
func (s *Scheduler) Decide(ctx context.Context, decisionContext string, options map[string]interface{}, urgency Priority) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, decisionDeadline)
	defer cancel()
	payload := map[string]interface{}{"context": decisionContext, "options": options}
	return s.thinkAndWait(ctx, KindReasoningRequest, urgency, "decide", payload)
}

// Remember creates a memory_request thought and awaits its outcome,
// returning the new memory entry's id.
func (s *Scheduler) Remember(ctx context.Context, data map[string]interface{}, importance float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, decisionDeadline)
	defer cancel()
	payload := map[string]interface{}{"op": "remember", "data": data, "importance": importance}
	outcome, err := s.thinkAndWait(ctx, KindMemoryRequest, PriorityNormal, "remember", payload)
	if err != nil {
		return "", err
	}
	if outcome.Error != "" {
		return "", core.NewFrameworkError("scheduler.remember", core.KindHandlerError, fmt.Errorf("%s", outcome.Error))
	}
	id, _ := outcome.Data["memory_id"].(string)
	return id, nil
}

// Recall creates a memory_request thought for a recall query and awaits
// the matching entries.
func (s *Scheduler) Recall(ctx context.Context, query string, limit int) ([]map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, decisionDeadline)
	defer cancel()
	payload := map[string]interface{}{"op": "recall", "query": query, "limit": limit}
	outcome, err := s.thinkAndWait(ctx, KindMemoryRequest, PriorityNormal, "recall", payload)
	if err != nil {
		return nil, err
	}
	if outcome.Error != "" {
		return nil, core.NewFrameworkError("scheduler.recall", core.KindHandlerError, fmt.Errorf("%s", outcome.Error))
	}
	results, _ := outcome.Data["results"].([]map[string]interface{})
	return results, nil
}

// SetGoal creates a goal_update thought and awaits its outcome, returning
// the goal's id.
func (s *Scheduler) SetGoal(ctx context.Context, goal map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, decisionDeadline)
	defer cancel()
	payload := map[string]interface{}{"op": "set_goal", "goal": goal}
	outcome, err := s.thinkAndWait(ctx, KindGoalUpdate, PriorityHigh, "set_goal", payload)
	if err != nil {
		return "", err
	}
	if outcome.Error != "" {
		return "", core.NewFrameworkError("scheduler.set_goal", core.KindHandlerError, fmt.Errorf("%s", outcome.Error))
	}
	id, _ := outcome.Data["goal_id"].(string)
	return id, nil
}

// Health returns the current snapshot used by the runtime's health API.
func (s *Scheduler) Health() Metrics {
	focus := ""
	var shifts int64
	if s.attention != nil {
		focus = s.attention.Focus()
		shifts = s.attention.Shifts()
	}
	return Metrics{
		State:           s.state.Load().(RunState),
		Focus:           focus,
		PendingCount:    s.stream.Pending(),
		UptimeSeconds:   time.Since(s.startedAt).Seconds(),
		ThoughtsHandled: s.handled.Load(),
		AttentionShifts: shifts,
		RecentSuccessRate: s.recentSuccessRate(),
	}
}

// Reflect produces a summary thought for topic and returns the current
// aggregated metrics.
func (s *Scheduler) Reflect(ctx context.Context, topic string) (Metrics, error) {
	_, _ = s.Think(ctx, KindExternal, PriorityLow, "reflect", map[string]interface{}{"op": "reflect", "topic": topic})
	return s.Health(), nil
}

// mainLoop drains up to batchSize thoughts per tick in priority order and
// dispatches each to its bound handler.
func (s *Scheduler) mainLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		cycleStart := time.Now()
		s.state.Store(StateProcessing)

		batch := s.stream.PopBatch(s.batchSize)
		for _, t := range batch {
			s.dispatch(ctx, t)
		}

		s.state.Store(StateAwake)
		s.PublishEvent(ctx, "consciousness_tick", map[string]interface{}{
			"state":   string(s.state.Load().(RunState)),
			"focus":   s.focusOrEmpty(),
			"pending": s.stream.Pending(),
		})

		elapsed := time.Since(cycleStart)
		if elapsed < s.tick {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.tick - elapsed):
			}
		}
	}
}

func (s *Scheduler) focusOrEmpty() string {
	if s.attention == nil {
		return ""
	}
	return s.attention.Focus()
}

// dispatch routes a single thought to its handler, applying the
// feedback-loop guard for alert_raised, and records the outcome.
func (s *Scheduler) dispatch(ctx context.Context, t *Thought) {
	var outcome Outcome

	if t.Kind == KindAlertRaised {
		// Acknowledge without re-dispatching; re-routing this kind to the
		// alert handler would re-trigger the pathway that produced it.
		outcome = Outcome{Status: "acknowledged"}
	} else if h, ok := s.handlers[t.Kind]; ok {
		handlerCtx, cancel := context.WithTimeout(ctx, handlerDeadline)
		result, err := h.Handle(handlerCtx, t)
		cancel()
		if err != nil {
			s.logger.Error("handler failed", map[string]interface{}{
				"thought_id": t.ID,
				"kind":       string(t.Kind),
				"error":      err.Error(),
			})
			outcome = Outcome{Status: "error", Error: err.Error()}
		} else {
			outcome = result
		}
	} else {
		outcome = Outcome{Status: "error", Error: fmt.Sprintf("no handler registered for kind %q", t.Kind)}
	}

	t.Processed = true
	t.Outcome = &outcome
	s.handled.Add(1)

	s.appendHistory(t)
	s.persist(ctx, t)
	s.notifyWaiter(t.ID, outcome)
}

func (s *Scheduler) notifyWaiter(id string, outcome Outcome) {
	s.waitersMu.Lock()
	ch, ok := s.waiters[id]
	s.waitersMu.Unlock()
	if ok {
		select {
		case ch <- outcome:
		default:
		}
	}
}

func (s *Scheduler) appendHistory(t *Thought) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
	if len(s.history) > s.ringCap {
		s.history = s.history[len(s.history)-s.ringCap:]
	}
}

func (s *Scheduler) persist(ctx context.Context, t *Thought) {
	if s.store == nil {
		return
	}
	status := ""
	if t.Outcome != nil {
		status = t.Outcome.Status
	}
	if err := s.store.Execute(ctx,
		`INSERT INTO thoughts (id, created_at, kind, source, priority, processed, status) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.CreatedAt, string(t.Kind), t.Source, int(t.Priority), t.Processed, status,
	); err != nil {
		s.logger.Error("failed to persist thought", map[string]interface{}{
			"thought_id": t.ID,
			"error":      err.Error(),
		})
	}
}

// attentionLoop recomputes attention_focus roughly every second.
func (s *Scheduler) attentionLoop(ctx context.Context) error {
	if s.attention == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(attentionLoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.attention.Refresh(ctx); err != nil {
				s.logger.Warn("attention refresh failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// reflectionLoop summarizes recent outcomes every ~5 minutes and emits a
// learning thought if the recent success rate drops below the minimum.
func (s *Scheduler) reflectionLoop(ctx context.Context) error {
	ticker := time.NewTicker(reflectionLoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.state.Store(StateReflecting)
			rate := s.recentSuccessRate()
			if rate < s.reflectMinRate {
				_, _ = s.Think(ctx, KindLearningEvent, PriorityNormal, "reflection_loop", map[string]interface{}{
					"op":                "regression_check",
					"recent_success_rate": rate,
				})
			}
			s.state.Store(StateAwake)
		}
	}
}

// recentSuccessRate reports the fraction of processed thoughts in history
// whose outcome status was not "error".
func (s *Scheduler) recentSuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return 1.0
	}
	success := 0
	for _, t := range s.history {
		if t.Outcome != nil && t.Outcome.Status != "error" {
			success++
		}
	}
	return float64(success) / float64(len(s.history))
}

// persistenceLoop snapshots scheduler state and metrics every ~60s.
func (s *Scheduler) persistenceLoop(ctx context.Context) error {
	if s.store == nil {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(persistenceLoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m := s.Health()
			if err := s.store.Execute(ctx,
				`INSERT INTO scheduler_snapshots (state, focus, pending_count, uptime_seconds, thoughts_handled, attention_shifts, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
				string(m.State), m.Focus, m.PendingCount, m.UptimeSeconds, m.ThoughtsHandled, m.AttentionShifts,
			); err != nil {
				s.logger.Error("failed to persist scheduler snapshot", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// metricsLoop updates derived counters every ~30s (uptime is computed on
// demand in Health, so this loop emits it to telemetry for dashboards).
func (s *Scheduler) metricsLoop(ctx context.Context) error {
	ticker := time.NewTicker(metricsLoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.telemetry.RecordMetric("scheduler_uptime_seconds", time.Since(s.startedAt).Seconds(), nil)
			s.telemetry.RecordMetric("scheduler_pending_thoughts", float64(s.stream.Pending()), nil)
		}
	}
}
