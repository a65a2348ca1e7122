// Package proactive implements the Proactive Intelligence subsystem: it
// scans business tables on a configured interval for opportunities and
// predictions, and exposes the non-expired, not-yet-acted-upon ones to the
// attention manager. Dynamic query filters always append predicates,
// never the ($N IS NULL OR col = $N) anti-pattern that defeats indexes.
package proactive

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brainops/orchestrator/attention"
	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/scheduler"
	"github.com/brainops/orchestrator/store"
)

// defaultOpportunityTTL bounds how long an undetected-but-unacted
// opportunity remains active before it is dropped from consideration.
const defaultOpportunityTTL = 72 * time.Hour

// Opportunity is a detected business opportunity.
type Opportunity struct {
	ID                 string
	Type               string
	Title              string
	Description        string
	PotentialValue     float64
	Confidence         float64
	Urgency            float64
	RecommendedActions []map[string]interface{}
	Context            map[string]interface{}
	DetectedAt         time.Time
	ExpiresAt          *time.Time
	ActedUpon          bool
}

// Prediction is a forward-looking signal (e.g. churn risk) derived from
// business data.
type Prediction struct {
	ID                string
	Type              string
	Target            string
	Probability       float64
	Timeframe         string
	Impact            float64
	PreventiveActions []map[string]interface{}
	CreatedAt         time.Time
	Verified          *bool
}

// Subsystem implements scheduler.Handler for scheduler.KindPrediction and
// attention.OpportunitySource for the attention manager.
type Subsystem struct {
	logger core.Logger
	handle scheduler.ControllerHandle
	store  store.Facade

	opportunityTTL time.Duration

	mu            sync.Mutex
	opportunities map[string]*Opportunity
	predictions   map[string]*Prediction
	idSeq         int
}

type Option func(*Subsystem)

func WithLogger(logger core.Logger) Option { return func(s *Subsystem) { s.logger = logger } }

func WithOpportunityTTL(d time.Duration) Option {
	return func(s *Subsystem) {
		if d > 0 {
			s.opportunityTTL = d
		}
	}
}

func New(handle scheduler.ControllerHandle, opts ...Option) *Subsystem {
	s := &Subsystem{
		logger:         &core.NoOpLogger{},
		handle:         handle,
		opportunityTTL: defaultOpportunityTTL,
		opportunities:  make(map[string]*Opportunity),
		predictions:    make(map[string]*Prediction),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cal, ok := s.logger.(core.ComponentAwareLogger); ok {
		s.logger = cal.WithComponent("subsystem/proactive")
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
		"status": "healthy",
		"score":  1.0,
		"details": map[string]interface{}{
			"opportunities_active": len(s.opportunities),
			"predictions_active":   len(s.predictions),
		},
	}
}

func (s *Subsystem) Shutdown(ctx context.Context) error { return nil }

// Handle dispatches a prediction thought by its "op" payload field.
func (s *Subsystem) Handle(ctx context.Context, t *scheduler.Thought) (scheduler.Outcome, error) {
	op, _ := t.Payload["op"].(string)
	switch op {
	case "scan":
		opportunityType, _ := t.Payload["opportunity_type"].(string)
		minScore, _ := t.Payload["min_score"].(float64)
		n, err := s.ScanOpportunities(ctx, opportunityType, minScore, 50)
		if err != nil {
			return scheduler.Outcome{Status: "error", Error: err.Error()}, nil
		}
		return scheduler.Outcome{Status: "ok", Data: map[string]interface{}{"opportunities_found": n}}, nil

	case "record_prediction":
		predType, _ := t.Payload["prediction_type"].(string)
		target, _ := t.Payload["target"].(string)
		probability, _ := t.Payload["probability"].(float64)
		impact, _ := t.Payload["impact"].(float64)
		id := s.RecordPrediction(ctx, predType, target, probability, impact)
		return scheduler.Outcome{Status: "ok", Data: map[string]interface{}{"prediction_id": id}}, nil

	default:
		return scheduler.Outcome{Status: "error", Error: fmt.Sprintf("unknown proactive op %q", op)}, nil
	}
}

// buildOpportunityQuery constructs the dynamic opportunity scan query.
// Predicates are appended only when the corresponding filter is set; the
// base predicate and ordering never depend on a parameter being present,
// so no branch ever needs the ($N IS NULL OR col = $N) anti-pattern.
func buildOpportunityQuery(opportunityType string, minScore float64, limit int) (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, 0, 3)

	b.WriteString("SELECT opportunity_id, opportunity_type, title, description, potential_value, confidence, urgency, recommended_actions, context, created_at, expires_at, acted_upon ")
	b.WriteString("FROM brainops_opportunities WHERE acted_upon IS NOT TRUE")

	if opportunityType != "" {
		args = append(args, opportunityType)
		fmt.Fprintf(&b, " AND opportunity_type = $%d", len(args))
	}

	args = append(args, minScore)
	fmt.Fprintf(&b, " AND confidence >= $%d", len(args))

	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY expires_at NULLS LAST, urgency DESC LIMIT $%d", len(args))

	return b.String(), args
}

// ScanOpportunities runs the dynamic opportunity query against the
// configured store and ingests the results.
func (s *Subsystem) ScanOpportunities(ctx context.Context, opportunityType string, minScore float64, limit int) (int, error) {
	if s.store == nil {
		return 0, nil
	}

	sql, args := buildOpportunityQuery(opportunityType, minScore, limit)
	rows, err := s.store.FetchRows(ctx, sql, args...)
	if err != nil {
		return 0, core.NewFrameworkError("proactive.scan_opportunities", core.KindHandlerError, err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			id, oppType, title, description string
			potentialValue, confidence, urgency float64
			actedUpon                           bool
		)
		if err := rows.Scan(&id, &oppType, &title, &description, &potentialValue, &confidence, &urgency, new(interface{}), new(interface{}), new(interface{}), new(interface{}), &actedUpon); err != nil {
			continue
		}
		s.mu.Lock()
		s.opportunities[id] = &Opportunity{
			ID:             id,
			Type:           oppType,
			Title:          title,
			Description:    description,
			PotentialValue: potentialValue,
			Confidence:     confidence,
			Urgency:        urgency,
			DetectedAt:     time.Now(),
			ActedUpon:      actedUpon,
		}
		s.mu.Unlock()
		count++
	}
	return count, nil
}

// RecordPrediction stores a new prediction and notifies the scheduler.
func (s *Subsystem) RecordPrediction(ctx context.Context, predType, target string, probability, impact float64) string {
	s.mu.Lock()
	s.idSeq++
	id := fmt.Sprintf("pred_%d", s.idSeq)
	s.predictions[id] = &Prediction{
		ID:          id,
		Type:        predType,
		Target:      target,
		Probability: probability,
		Impact:      impact,
		CreatedAt:   time.Now(),
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Execute(ctx,
			`INSERT INTO brainops_predictions (prediction_id, prediction_type, target, probability, impact, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			id, predType, target, probability, impact, time.Now(),
		); err != nil {
			s.logger.Error("failed to persist prediction", map[string]interface{}{"id": id, "error": err.Error()})
		}
	}
	return id
}

// ActiveOpportunities implements attention.OpportunitySource: it returns
// every non-expired, not-yet-acted-upon opportunity as an attention.Item.
func (s *Subsystem) ActiveOpportunities(ctx context.Context) ([]attention.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	items := make([]attention.Item, 0, len(s.opportunities))
	for _, o := range s.opportunities {
		if o.ActedUpon {
			continue
		}
		if o.ExpiresAt != nil && o.ExpiresAt.Before(now) {
			continue
		}
		items = append(items, attention.Item{
			ID:           o.ID,
			Description:  o.Title,
			PriorityRank: urgencyToPriorityRank(o.Urgency),
			Urgency:      o.Urgency,
			Deadline:     o.ExpiresAt,
		})
	}
	return items, nil
}

// urgencyToPriorityRank buckets a [0,1] urgency score into the attention
// manager's priority-rank scale, matching the original engine's bucketing.
func urgencyToPriorityRank(urgency float64) int {
	switch {
	case urgency > 0.8:
		return 0
	case urgency > 0.5:
		return 1
	default:
		return 2
	}
}

// expireStale drops opportunities that have outlived opportunityTTL with
// no ExpiresAt of their own, keeping the active set bounded.
func (s *Subsystem) expireStale() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.opportunityTTL)
	for id, o := range s.opportunities {
		if o.ExpiresAt == nil && o.DetectedAt.Before(cutoff) {
			delete(s.opportunities, id)
		}
	}
}
