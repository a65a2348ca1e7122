// Package scheduler implements the Metacognitive Scheduler: the thought
// stream, its priority-ordered main event loop, and the subordinate loops
// (attention refresh, reflection, state persistence, metrics collection)
// that together drive the runtime. There is no separate decision queue:
// Decide enqueues a reasoning_request thought on the main stream and waits
// for its outcome.
package scheduler

import "time"

// Kind tags a Thought with the closed set of thought kinds the scheduler
// knows how to route.
type Kind string

const (
	KindAlert               Kind = "alert"
	KindMemoryRequest        Kind = "memory_request"
	KindGoalUpdate           Kind = "goal_update"
	KindLearningEvent        Kind = "learning_event"
	KindPrediction           Kind = "prediction"
	KindReasoningRequest     Kind = "reasoning_request"
	KindOptimizationRequest  Kind = "optimization_request"
	KindExternal             Kind = "external"

	// KindAlertRaised is terminal: it is acknowledged by the scheduler's
	// feedback-loop guard and never dispatched to a handler, which would
	// otherwise re-trigger the alert pathway that produced it.
	KindAlertRaised Kind = "alert_raised"
)

// Priority orders thoughts for dispatch; lower values are handled first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityUrgent
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityMaintenance

	numPriorities = int(PriorityMaintenance) + 1
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Outcome is the result a handler returns for a processed thought.
type Outcome struct {
	Status string                 `json:"status"`
	Data   map[string]interface{} `json:"data,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Thought is a single unit of work flowing through the scheduler.
type Thought struct {
	ID        string
	CreatedAt time.Time
	Kind      Kind
	Payload   map[string]interface{}
	Source    string
	Priority  Priority
	Processed bool
	Outcome   *Outcome
	Linked    []string
}
