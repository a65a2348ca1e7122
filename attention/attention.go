// Package attention implements the Priority Attention Manager: it merges
// the goals and proactive-opportunity priority streams into a single
// attention_focus string describing what the runtime is currently paying
// attention to, and lets a critical alert preempt that focus for the
// duration of its handling.
package attention

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/store"
)

const (
	historyCapacity = 1000
	topGoalsLimit   = 10

	// priorityCritical is the priority_rank value that makes an item
	// eligible to preempt the current focus.
	priorityCritical = 0

	// priorityHigh is the largest rank (inclusive) at which the invariant in
	// spec.md §4.3 requires attention_focus to stay set.
	priorityHigh = 2
)

// Item is a single candidate for attention: a goal or a proactive
// opportunity, normalized to the fields the ranking algorithm needs.
type Item struct {
	ID           string
	Description  string
	PriorityRank int // 0 = critical, ascending = lower priority
	Urgency      float64
	Deadline     *time.Time
}

// GoalSource supplies the top prioritized goals.
type GoalSource interface {
	TopGoals(ctx context.Context, limit int) ([]Item, error)
}

// OpportunitySource supplies all non-expired proactive opportunities.
type OpportunitySource interface {
	ActiveOpportunities(ctx context.Context) ([]Item, error)
}

// Event records a single focus shift for the in-memory history.
type Event struct {
	Timestamp time.Time
	Focus     string
	Reason    string
}

// State describes whether the manager is tracking normal priority items
// or preempted by a critical alert.
type State string

const (
	StateIdle    State = "idle"
	StateFocused State = "focused"
)

// Manager owns attention_focus and its shift history.
type Manager struct {
	logger core.Logger
	store  store.Facade

	goals       GoalSource
	opportunity OpportunitySource

	mu              sync.Mutex
	focus           string
	preAlertFocus   string
	state           State
	history         []Event
	shifts          int64
	activeAlertKind string
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger attaches a logger. Defaults to core.NoOpLogger.
func WithLogger(logger core.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithStore enables durable append of focus shifts to an attention log.
// Without it, shifts are tracked in memory only.
func WithStore(facade store.Facade) Option {
	return func(m *Manager) { m.store = facade }
}

// New creates a Manager pulling from goals and opportunity sources.
func New(goals GoalSource, opportunity OpportunitySource, opts ...Option) *Manager {
	m := &Manager{
		logger:      &core.NoOpLogger{},
		goals:       goals,
		opportunity: opportunity,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if cal, ok := m.logger.(core.ComponentAwareLogger); ok {
		m.logger = cal.WithComponent("attention")
	}
	return m
}

// Focus returns the current attention_focus string.
func (m *Manager) Focus() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focus
}

// State returns whether the manager is idle or preempted by a critical
// alert.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Shifts returns the number of focus shifts recorded so far.
func (m *Manager) Shifts() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shifts
}

// History returns a snapshot of recorded focus shifts, oldest first.
func (m *Manager) History() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.history))
	copy(out, m.history)
	return out
}

// Refresh pulls the latest prioritized items, ranks them, and applies the
// focus-shift rule. It is a no-op while a critical alert is being handled,
// since that preempts normal focus entirely.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateFocused {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	items, err := m.collect(ctx)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		m.mu.Lock()
		// The invariant only requires focus to stay set while a
		// priority <= high item remains open; with nothing left, it may
		// be cleared.
		m.focus = ""
		m.mu.Unlock()
		return nil
	}

	rank(items)
	top := items[0]

	m.mu.Lock()
	defer m.mu.Unlock()

	if top.PriorityRank <= priorityHigh {
		if top.PriorityRank == priorityCritical && top.Description != m.focus {
			m.setFocusLocked(ctx, top.Description, "priority_rank=critical")
		} else if m.focus == "" {
			m.setFocusLocked(ctx, top.Description, "top_priority_item")
		}
	}
	return nil
}

func (m *Manager) collect(ctx context.Context) ([]Item, error) {
	var items []Item

	if m.goals != nil {
		goals, err := m.goals.TopGoals(ctx, topGoalsLimit)
		if err != nil {
			return nil, core.NewFrameworkError("attention.collect_goals", core.KindHandlerError, err)
		}
		items = append(items, goals...)
	}

	if m.opportunity != nil {
		opps, err := m.opportunity.ActiveOpportunities(ctx)
		if err != nil {
			return nil, core.NewFrameworkError("attention.collect_opportunities", core.KindHandlerError, err)
		}
		items = append(items, opps...)
	}

	return items, nil
}

// rank sorts items by (priority_rank ascending, urgency descending,
// deadline ascending, nil deadlines last).
func rank(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.PriorityRank != b.PriorityRank {
			return a.PriorityRank < b.PriorityRank
		}
		if a.Urgency != b.Urgency {
			return a.Urgency > b.Urgency
		}
		switch {
		case a.Deadline == nil && b.Deadline == nil:
			return false
		case a.Deadline == nil:
			return false
		case b.Deadline == nil:
			return true
		default:
			return a.Deadline.Before(*b.Deadline)
		}
	})
}

// RaiseCriticalAlert preempts normal focus for the duration of handling a
// critical alert, per spec.md §4.3 rule 4.
func (m *Manager) RaiseCriticalAlert(ctx context.Context, alertKind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateFocused {
		// Already handling one; the newest critical alert wins.
		m.activeAlertKind = alertKind
		m.setFocusLocked(ctx, fmt.Sprintf("CRITICAL: %s", alertKind), "critical_alert")
		return
	}

	m.preAlertFocus = m.focus
	m.state = StateFocused
	m.activeAlertKind = alertKind
	m.setFocusLocked(ctx, fmt.Sprintf("CRITICAL: %s", alertKind), "critical_alert")
}

// ClearCriticalAlert ends critical-alert handling and returns to idle
// state; the next Refresh recomputes normal focus.
func (m *Manager) ClearCriticalAlert(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateFocused {
		return
	}
	m.state = StateIdle
	m.activeAlertKind = ""
	m.setFocusLocked(ctx, m.preAlertFocus, "critical_alert_cleared")
}

// setFocusLocked assumes m.mu is held. It records the shift in history,
// increments the shift counter, and durably appends to the attention log
// when a store facade is configured.
func (m *Manager) setFocusLocked(ctx context.Context, focus, reason string) {
	if focus == m.focus {
		return
	}
	m.focus = focus
	m.shifts++

	event := Event{Timestamp: time.Now(), Focus: focus, Reason: reason}
	m.history = append(m.history, event)
	if len(m.history) > historyCapacity {
		m.history = m.history[len(m.history)-historyCapacity:]
	}

	if m.store != nil {
		if err := m.store.Execute(ctx,
			`INSERT INTO attention_log (focus, reason, occurred_at) VALUES ($1, $2, $3)`,
			focus, reason, event.Timestamp,
		); err != nil {
			m.logger.Error("failed to append attention log entry", map[string]interface{}{
				"focus": focus,
				"error": err.Error(),
			})
		}
	}
}
