package scheduler

import (
	"context"

	"github.com/brainops/orchestrator/store"
)

// Handler processes one thought and returns its outcome. A returned error
// is recorded as the outcome's error field; it never propagates to the
// scheduler loop (spec.md §4.2 failure semantics).
type Handler interface {
	Handle(ctx context.Context, t *Thought) (Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, t *Thought) (Outcome, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, t *Thought) (Outcome, error) {
	return f(ctx, t)
}

// ControllerHandle is the narrow surface subsystems are given instead of a
// direct reference to the Scheduler. This inverts the natural cyclic
// reference (scheduler dispatches to subsystems; subsystems spawn new
// thoughts back through the scheduler) into a one-way dependency:
// subsystems depend on ControllerHandle, the scheduler implements it, and
// nothing imports the other direction.
type ControllerHandle interface {
	// Think enqueues a new thought and returns its id without waiting for
	// it to be processed.
	Think(ctx context.Context, kind Kind, priority Priority, source string, payload map[string]interface{}) (string, error)

	// PublishEvent emits a named, structured event (e.g. consciousness_tick,
	// performance_regression) to telemetry/logging.
	PublishEvent(ctx context.Context, name string, data map[string]interface{})

	// Store returns the resilient store facade subsystems persist through.
	Store() store.Facade
}
