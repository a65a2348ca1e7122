// Package goals implements the Goals subsystem: create/decompose/
// update-status/update-progress over a goal hierarchy, with automatic
// parent-progress rollup and dependency-gated transitions to in_progress.
package goals

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"context"

	"github.com/brainops/orchestrator/attention"
	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/scheduler"
	"github.com/brainops/orchestrator/store"
)

type Level string

const (
	LevelStrategic  Level = "strategic"
	LevelTactical   Level = "tactical"
	LevelOperational Level = "operational"
)

type GoalPriority string

const (
	PriorityCritical GoalPriority = "critical"
	PriorityHigh     GoalPriority = "high"
	PriorityMedium   GoalPriority = "medium"
	PriorityLow      GoalPriority = "low"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// priorityRank maps GoalPriority to the integer rank attention.Item needs
// (lower is more urgent, matching the scheduler's Priority ordering).
var priorityRank = map[GoalPriority]int{
	PriorityCritical: 0,
	PriorityHigh:      1,
	PriorityMedium:    2,
	PriorityLow:       3,
}

// Goal is a node in the goal hierarchy.
type Goal struct {
	ID           string
	Title        string
	Description  string
	Level        Level
	Priority     GoalPriority
	Status       Status
	ParentID     string
	Children     []string
	Progress     float64
	Deadline     *time.Time
	Dependencies []string
}

// Subsystem implements scheduler.Handler for scheduler.KindGoalUpdate, and
// attention.GoalSource for the attention manager's focus computation.
type Subsystem struct {
	logger core.Logger
	store  store.Facade

	mu    sync.Mutex
	goals map[string]*Goal
	idSeq int
}

type Option func(*Subsystem)

func WithLogger(logger core.Logger) Option { return func(s *Subsystem) { s.logger = logger } }

func New(opts ...Option) *Subsystem {
	s := &Subsystem{
		logger: &core.NoOpLogger{},
		goals:  make(map[string]*Goal),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cal, ok := s.logger.(core.ComponentAwareLogger); ok {
		s.logger = cal.WithComponent("subsystem/goals")
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
		"details": map[string]interface{}{"goal_count": len(s.goals)},
	}
}

func (s *Subsystem) Shutdown(ctx context.Context) error { return nil }

// Handle dispatches a goal_update thought by its "op" payload field.
func (s *Subsystem) Handle(ctx context.Context, t *scheduler.Thought) (scheduler.Outcome, error) {
	op, _ := t.Payload["op"].(string)
	switch op {
	case "set_goal", "create":
		goalMap, _ := t.Payload["goal"].(map[string]interface{})
		goal := goalFromMap(goalMap)
		id, err := s.Create(ctx, goal)
		if err != nil {
			return scheduler.Outcome{Status: "error", Error: err.Error()}, nil
		}
		return scheduler.Outcome{Status: "ok", Data: map[string]interface{}{"goal_id": id}}, nil

	case "update_status":
		id, _ := t.Payload["id"].(string)
		status, _ := t.Payload["status"].(string)
		if err := s.UpdateStatus(id, Status(status)); err != nil {
			return scheduler.Outcome{Status: "error", Error: err.Error()}, nil
		}
		return scheduler.Outcome{Status: "ok"}, nil

	case "update_progress":
		id, _ := t.Payload["id"].(string)
		progress, _ := t.Payload["progress"].(float64)
		if err := s.UpdateProgress(id, progress); err != nil {
			return scheduler.Outcome{Status: "error", Error: err.Error()}, nil
		}
		return scheduler.Outcome{Status: "ok"}, nil

	default:
		return scheduler.Outcome{Status: "error", Error: fmt.Sprintf("unknown goal op %q", op)}, nil
	}
}

func goalFromMap(m map[string]interface{}) Goal {
	g := Goal{
		Title:       stringField(m, "title"),
		Description: stringField(m, "description"),
		Level:       Level(stringField(m, "level")),
		Priority:    GoalPriority(stringField(m, "priority")),
		ParentID:    stringField(m, "parent_id"),
	}
	if deps, ok := m["dependencies"].([]string); ok {
		g.Dependencies = deps
	}
	return g
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Create adds a new goal to the hierarchy, defaulting its status to
// pending.
func (s *Subsystem) Create(ctx context.Context, goal Goal) (string, error) {
	s.mu.Lock()
	s.idSeq++
	goal.ID = fmt.Sprintf("goal_%d", s.idSeq)
	if goal.Status == "" {
		goal.Status = StatusPending
	}
	s.goals[goal.ID] = &goal
	if goal.ParentID != "" {
		if parent, ok := s.goals[goal.ParentID]; ok {
			parent.Children = append(parent.Children, goal.ID)
		}
	}
	s.mu.Unlock()

	s.persist(ctx, &goal)
	return goal.ID, nil
}

// Decompose creates children under parentID in a single call.
func (s *Subsystem) Decompose(ctx context.Context, parentID string, children []Goal) ([]string, error) {
	ids := make([]string, 0, len(children))
	for _, c := range children {
		c.ParentID = parentID
		id, err := s.Create(ctx, c)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// UpdateStatus transitions goal id to status, enforcing that entering
// in_progress requires all dependencies to be completed, and that
// completed is terminal (clamping progress to 1.0).
func (s *Subsystem) UpdateStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	goal, ok := s.goals[id]
	if !ok {
		return fmt.Errorf("goal %q not found", id)
	}
	if goal.Status == StatusCompleted {
		return fmt.Errorf("goal %q is completed; status is terminal", id)
	}

	if status == StatusInProgress {
		for _, depID := range goal.Dependencies {
			dep, ok := s.goals[depID]
			if !ok || dep.Status != StatusCompleted {
				return fmt.Errorf("goal %q cannot enter in_progress: dependency %q is not completed", id, depID)
			}
		}
	}

	goal.Status = status
	if status == StatusCompleted {
		goal.Progress = 1.0
	}
	return nil
}

// UpdateProgress sets goal id's progress (clamped to [0,1]) and
// recomputes every ancestor's progress as the mean of its children.
func (s *Subsystem) UpdateProgress(id string, progress float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	goal, ok := s.goals[id]
	if !ok {
		return fmt.Errorf("goal %q not found", id)
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	goal.Progress = progress

	s.rollupLocked(goal.ParentID)
	return nil
}

// rollupLocked recomputes parentID's progress as the arithmetic mean of
// its children's progress, propagating up the chain. Assumes s.mu held.
func (s *Subsystem) rollupLocked(parentID string) {
	for parentID != "" {
		parent, ok := s.goals[parentID]
		if !ok || len(parent.Children) == 0 {
			return
		}
		var sum float64
		for _, childID := range parent.Children {
			if child, ok := s.goals[childID]; ok {
				sum += child.Progress
			}
		}
		parent.Progress = sum / float64(len(parent.Children))
		parentID = parent.ParentID
	}
}

func (s *Subsystem) persist(ctx context.Context, goal *Goal) {
	if s.store == nil {
		return
	}
	if err := s.store.Execute(ctx,
		`INSERT INTO goals (id, title, level, priority, status, parent_id, progress) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		goal.ID, goal.Title, string(goal.Level), string(goal.Priority), string(goal.Status), goal.ParentID, goal.Progress,
	); err != nil {
		s.logger.Error("failed to persist goal", map[string]interface{}{"id": goal.ID, "error": err.Error()})
	}
}

// TopGoals implements attention.GoalSource: it returns up to limit
// non-terminal goals as attention.Item values, ranked by priority rank
// ascending, then urgency descending, before the limit is applied.
func (s *Subsystem) TopGoals(ctx context.Context, limit int) ([]attention.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]attention.Item, 0, len(s.goals))
	for _, g := range s.goals {
		if g.Status == StatusCompleted || g.Status == StatusFailed || g.Status == StatusCancelled {
			continue
		}
		items = append(items, attention.Item{
			ID:           g.ID,
			Description:  g.Title,
			PriorityRank: priorityRank[g.Priority],
			Urgency:      1.0 - g.Progress,
			Deadline:     g.Deadline,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].PriorityRank != items[j].PriorityRank {
			return items[i].PriorityRank < items[j].PriorityRank
		}
		return items[i].Urgency > items[j].Urgency
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
