package goals

import (
	"context"
	"testing"

	"github.com/brainops/orchestrator/scheduler"
)

func TestCreate_DefaultsStatusToPending(t *testing.T) {
	s := New()
	id, err := s.Create(context.Background(), Goal{Title: "ship feature"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goals[id].Status != StatusPending {
		t.Errorf("expected new goal to default to pending, got %q", s.goals[id].Status)
	}
}

func TestUpdateStatus_InProgressRequiresDependenciesCompleted(t *testing.T) {
	s := New()
	ctx := context.Background()

	depID, _ := s.Create(ctx, Goal{Title: "dependency"})
	goalID, _ := s.Create(ctx, Goal{Title: "dependent", Dependencies: []string{depID}})

	if err := s.UpdateStatus(goalID, StatusInProgress); err == nil {
		t.Fatal("expected in_progress transition to fail while dependency is pending")
	}

	if err := s.UpdateStatus(depID, StatusCompleted); err != nil {
		t.Fatalf("unexpected error completing dependency: %v", err)
	}
	if err := s.UpdateStatus(goalID, StatusInProgress); err != nil {
		t.Fatalf("expected in_progress transition to succeed once dependency is completed: %v", err)
	}
}

func TestUpdateStatus_CompletedIsTerminal(t *testing.T) {
	s := New()
	id, _ := s.Create(context.Background(), Goal{Title: "done"})
	_ = s.UpdateStatus(id, StatusCompleted)

	if err := s.UpdateStatus(id, StatusActive); err == nil {
		t.Fatal("expected status change away from completed to fail")
	}
}

func TestUpdateProgress_RollsUpToParentAsMeanOfChildren(t *testing.T) {
	s := New()
	ctx := context.Background()

	parentID, _ := s.Create(ctx, Goal{Title: "parent"})
	childIDs, _ := s.Decompose(ctx, parentID, []Goal{
		{Title: "child A"},
		{Title: "child B"},
	})

	if err := s.UpdateProgress(childIDs[0], 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.UpdateProgress(childIDs[1], 0.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.mu.Lock()
	got := s.goals[parentID].Progress
	s.mu.Unlock()

	if got != 0.75 {
		t.Errorf("expected parent progress 0.75 (mean of 1.0 and 0.5), got %f", got)
	}
}

func TestUpdateProgress_ClampsToUnitInterval(t *testing.T) {
	s := New()
	id, _ := s.Create(context.Background(), Goal{Title: "g"})

	_ = s.UpdateProgress(id, 1.5)
	s.mu.Lock()
	got := s.goals[id].Progress
	s.mu.Unlock()
	if got != 1.0 {
		t.Errorf("expected progress clamped to 1.0, got %f", got)
	}

	_ = s.UpdateProgress(id, -0.5)
	s.mu.Lock()
	got = s.goals[id].Progress
	s.mu.Unlock()
	if got != 0.0 {
		t.Errorf("expected progress clamped to 0.0, got %f", got)
	}
}

func TestHandle_SetGoalThoughtCreatesGoal(t *testing.T) {
	s := New()
	outcome, err := s.Handle(context.Background(), &scheduler.Thought{Payload: map[string]interface{}{
		"op": "set_goal",
		"goal": map[string]interface{}{
			"title":    "new goal",
			"priority": "high",
		},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != "ok" {
		t.Fatalf("expected ok status, got %q", outcome.Status)
	}
	if _, ok := outcome.Data["goal_id"]; !ok {
		t.Error("expected outcome to carry a goal_id")
	}
}

func TestTopGoals_ExcludesTerminalStatusesAndRespectsLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	activeID, _ := s.Create(ctx, Goal{Title: "active", Priority: PriorityHigh})
	doneID, _ := s.Create(ctx, Goal{Title: "done", Priority: PriorityLow})
	_ = s.UpdateStatus(doneID, StatusCompleted)

	items, err := s.TopGoals(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, item := range items {
		if item.ID == doneID {
			t.Error("expected completed goals to be excluded from TopGoals")
		}
	}
	found := false
	for _, item := range items {
		if item.ID == activeID {
			found = true
		}
	}
	if !found {
		t.Error("expected the active goal to appear in TopGoals")
	}
}
