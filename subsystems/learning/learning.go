// Package learning implements the Learning subsystem: outcome tracking
// (success/feedback derivation from expected vs actual), periodic pattern
// extraction, and a success-rate regression detector.
package learning

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/scheduler"
	"github.com/brainops/orchestrator/store"
)

// regressionSampleFloor is the minimum number of recent-hour samples the
// regression detector requires before it trusts the comparison.
const regressionSampleFloor = 10

// regressionDropThreshold is the minimum percentage-point drop in success
// rate (recent hour vs prior 24h) that triggers a performance_regression
// learning_event.
const regressionDropThreshold = 0.10

// Outcome is a single tracked action result.
type Outcome struct {
	ID         string
	ActionType string
	Expected   map[string]interface{}
	Actual     map[string]interface{}
	Success    bool
	Feedback   float64
	RecordedAt time.Time
}

// Pattern is the result of clustering outcomes of one action type into
// successful and anomalous buckets.
type Pattern struct {
	ActionType string
	Successful []string
	Anomalous  []string
}

// Subsystem implements scheduler.Handler for scheduler.KindLearningEvent.
type Subsystem struct {
	logger core.Logger
	handle scheduler.ControllerHandle
	store  store.Facade

	mu       sync.Mutex
	outcomes []*Outcome
	idSeq    int
}

type Option func(*Subsystem)

func WithLogger(logger core.Logger) Option { return func(s *Subsystem) { s.logger = logger } }

func New(handle scheduler.ControllerHandle, opts ...Option) *Subsystem {
	s := &Subsystem{
		logger: &core.NoOpLogger{},
		handle: handle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cal, ok := s.logger.(core.ComponentAwareLogger); ok {
		s.logger = cal.WithComponent("subsystem/learning")
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
		"details": map[string]interface{}{"outcome_count": len(s.outcomes)},
	}
}

func (s *Subsystem) Shutdown(ctx context.Context) error { return nil }

// Handle dispatches a learning_event thought. track_outcome payloads carry
// action_type/expected/actual; payloads with no recognized op are treated
// as a regression-check trigger (the shape the scheduler's reflection loop
// emits).
func (s *Subsystem) Handle(ctx context.Context, t *scheduler.Thought) (scheduler.Outcome, error) {
	op, _ := t.Payload["op"].(string)
	switch op {
	case "track_outcome":
		actionType, _ := t.Payload["action_type"].(string)
		expected, _ := t.Payload["expected"].(map[string]interface{})
		actual, _ := t.Payload["actual"].(map[string]interface{})
		o := s.TrackOutcome(ctx, actionType, expected, actual)
		return scheduler.Outcome{Status: "ok", Data: map[string]interface{}{
			"outcome_id": o.ID,
			"success":    o.Success,
			"feedback":   o.Feedback,
		}}, nil

	case "regression_detected":
		// DetectRegression's own notification thought, fed back through
		// the scheduler so it's logged and persisted like any other
		// thought. Acknowledge without re-running the detector: routing it
		// back into the default case would re-detect the same regression
		// on every dispatch and never stop emitting.
		return scheduler.Outcome{Status: "acknowledged"}, nil

	default:
		regressed, rate, err := s.DetectRegression(ctx)
		if err != nil {
			return scheduler.Outcome{Status: "error", Error: err.Error()}, nil
		}
		return scheduler.Outcome{Status: "ok", Data: map[string]interface{}{
			"regression_detected": regressed,
			"recent_success_rate": rate,
		}}, nil
	}
}

// TrackOutcome records a new outcome, deriving Success and Feedback from
// expected vs actual per the rules in spec.md §4.6.
func (s *Subsystem) TrackOutcome(ctx context.Context, actionType string, expected, actual map[string]interface{}) *Outcome {
	success := deriveSuccess(expected, actual)
	feedback := deriveFeedback(expected, actual, success)

	s.mu.Lock()
	s.idSeq++
	o := &Outcome{
		ID:         fmt.Sprintf("outcome_%d", s.idSeq),
		ActionType: actionType,
		Expected:   expected,
		Actual:     actual,
		Success:    success,
		Feedback:   feedback,
		RecordedAt: time.Now(),
	}
	s.outcomes = append(s.outcomes, o)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Execute(ctx,
			`INSERT INTO learning_outcomes (id, action_type, success, feedback, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
			o.ID, o.ActionType, o.Success, o.Feedback, o.RecordedAt,
		); err != nil {
			s.logger.Error("failed to persist learning outcome", map[string]interface{}{"id": o.ID, "error": err.Error()})
		}
	}

	return o
}

// deriveSuccess implements: false if actual.error is present; else
// actual.success if present; else true when every common numeric field in
// {score, value, result} is within 20% of its expected value, and false
// when none of those fields is numeric in both maps.
func deriveSuccess(expected, actual map[string]interface{}) bool {
	if actual == nil {
		return false
	}
	if _, hasErr := actual["error"]; hasErr {
		return false
	}
	if v, ok := actual["success"].(bool); ok {
		return v
	}

	checked := false
	for _, key := range []string{"score", "value", "result"} {
		expVal, okE := numericField(expected, key)
		actVal, okA := numericField(actual, key)
		if !okE || !okA {
			continue
		}
		checked = true
		if expVal == 0 {
			if actVal != 0 {
				return false
			}
			continue
		}
		diffRatio := math.Abs(actVal-expVal) / math.Abs(expVal)
		if diffRatio > 0.20 {
			return false
		}
	}
	return checked
}

// deriveFeedback implements the feedback formula in spec.md §4.6.
func deriveFeedback(expected, actual map[string]interface{}, success bool) float64 {
	if actual == nil {
		return -1.0
	}
	if _, hasErr := actual["error"]; hasErr {
		return -1.0
	}

	var sum float64
	var count int
	for key, expVal := range expected {
		actVal, ok := actual[key]
		if !ok {
			continue
		}
		expNum, expIsNum := toFloat(expVal)
		actNum, actIsNum := toFloat(actVal)
		if expIsNum && actIsNum {
			count++
			if expNum == 0 {
				if actNum == 0 {
					sum += 1.0
				} else {
					sum += clamp(1-math.Abs(actNum-expNum), -1, 1)
				}
				continue
			}
			diffRatio := math.Abs(actNum-expNum) / math.Abs(expNum)
			sum += clamp(1-diffRatio, -1, 1)
			continue
		}
		count++
		if fmt.Sprintf("%v", expVal) == fmt.Sprintf("%v", actVal) {
			sum += 1.0
		} else {
			sum += 0.0
		}
	}

	if count == 0 {
		if success {
			return 0.5
		}
		return -0.5
	}
	return sum / float64(count)
}

func numericField(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ExtractPatterns clusters all tracked outcomes by action type into
// successful and anomalous buckets.
func (s *Subsystem) ExtractPatterns() []Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType := make(map[string]*Pattern)
	order := make([]string, 0)
	for _, o := range s.outcomes {
		p, ok := byType[o.ActionType]
		if !ok {
			p = &Pattern{ActionType: o.ActionType}
			byType[o.ActionType] = p
			order = append(order, o.ActionType)
		}
		if o.Success {
			p.Successful = append(p.Successful, o.ID)
		} else {
			p.Anomalous = append(p.Anomalous, o.ID)
		}
	}

	out := make([]Pattern, 0, len(order))
	for _, actionType := range order {
		out = append(out, *byType[actionType])
	}
	return out
}

// DetectRegression compares the recent-hour success rate against the
// prior-24h success rate. If the recent window has at least
// regressionSampleFloor samples and the rate has dropped by more than
// regressionDropThreshold, it emits a performance_regression learning_event
// thought and returns true.
func (s *Subsystem) DetectRegression(ctx context.Context) (bool, float64, error) {
	now := time.Now()
	recentCutoff := now.Add(-1 * time.Hour)
	priorCutoff := now.Add(-25 * time.Hour)

	s.mu.Lock()
	var recentTotal, recentSuccess, priorTotal, priorSuccess int
	for _, o := range s.outcomes {
		if o.RecordedAt.After(recentCutoff) {
			recentTotal++
			if o.Success {
				recentSuccess++
			}
		} else if o.RecordedAt.After(priorCutoff) {
			priorTotal++
			if o.Success {
				priorSuccess++
			}
		}
	}
	s.mu.Unlock()

	if recentTotal < regressionSampleFloor || priorTotal == 0 {
		rate := 0.0
		if recentTotal > 0 {
			rate = float64(recentSuccess) / float64(recentTotal)
		}
		return false, rate, nil
	}

	recentRate := float64(recentSuccess) / float64(recentTotal)
	priorRate := float64(priorSuccess) / float64(priorTotal)
	drop := priorRate - recentRate

	if drop <= regressionDropThreshold {
		return false, recentRate, nil
	}

	if s.handle != nil {
		_, err := s.handle.Think(ctx, scheduler.KindLearningEvent, scheduler.PriorityHigh, "learning", map[string]interface{}{
			"op":           "regression_detected",
			"event":        "performance_regression",
			"recent_rate":  recentRate,
			"prior_rate":   priorRate,
			"drop":         drop,
			"recent_count": recentTotal,
		})
		if err != nil {
			return true, recentRate, err
		}
	}
	return true, recentRate, nil
}
