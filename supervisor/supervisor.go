// Package supervisor owns the lifetime of every long-running background
// loop in the runtime: the scheduler's subordinate loops, the attention
// manager's refresh loop, and any subsystem's periodic scan. It exists so
// a goroutine's unhandled error or panic is always logged, never silently
// dropped.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/itsneelabh/gomind/core"
)

// Func is a supervised background loop. It must return promptly once ctx
// is cancelled.
type Func func(ctx context.Context) error

// Supervisor spawns and tracks named background loops, guaranteeing each
// one's terminal error (if any) is logged and that shutdown waits for
// every task to settle.
type Supervisor struct {
	logger core.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	baseCtx     context.Context
	wg          sync.WaitGroup
	shuttingDown atomic.Bool
	tasks       map[string]*taskState
}

type taskState struct {
	name   string
	cancel context.CancelFunc
}

// New creates a Supervisor bound to parent. Cancelling parent is
// equivalent to calling Shutdown.
func New(parent context.Context, logger core.Logger) *Supervisor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("supervisor")
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		logger:  logger,
		cancel:  cancel,
		baseCtx: ctx,
		tasks:   make(map[string]*taskState),
	}
	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()
	return s
}

// Spawn starts fn as a named background loop. Its terminal state is
// inspected when it returns: a non-cancellation error is logged at error
// level; a clean return while the supervisor is not shutting down logs a
// warning, since long-running loops are not expected to exit on their own.
func (s *Supervisor) Spawn(name string, fn Func) {
	s.mu.Lock()
	if s.shuttingDown.Load() {
		s.mu.Unlock()
		s.logger.Warn("refusing to spawn task after shutdown started", map[string]interface{}{
			"task": name,
		})
		return
	}
	taskCtx, taskCancel := context.WithCancel(s.baseCtx)
	s.tasks[name] = &taskState{name: name, cancel: taskCancel}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runTask(taskCtx, name, fn)
}

func (s *Supervisor) runTask(ctx context.Context, name string, fn Func) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.tasks, name)
		s.mu.Unlock()
	}()

	err := s.runGuarded(ctx, fn)

	switch {
	case err == nil:
		if !s.shuttingDown.Load() {
			s.logger.Warn("supervised task exited cleanly without shutdown in progress", map[string]interface{}{
				"task": name,
			})
		}
	case core.IsCancelled(err) || ctx.Err() != nil:
		// Cancellation is the expected shutdown path; return silently.
	default:
		s.logger.Error("supervised task terminated with an error", map[string]interface{}{
			"task":  name,
			"error": err.Error(),
		})
	}
}

// runGuarded recovers a panic inside fn and turns it into an error so the
// caller's terminal-state inspection handles panics the same way as
// returned errors.
func (s *Supervisor) runGuarded(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("supervised task panicked", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
				"stack": stack,
			})
		}
	}()
	return fn(ctx)
}

// Shutdown cancels every running task and waits for all of them to
// settle. Safe to call multiple times; only the first call has effect.
func (s *Supervisor) Shutdown() {
	if s.shuttingDown.Swap(true) {
		s.wg.Wait()
		return
	}
	s.cancel()
	s.wg.Wait()
}

// Running reports the names of currently running supervised tasks.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}
