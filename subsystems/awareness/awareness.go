// Package awareness implements the Awareness subsystem: alert intake,
// dedup-by-(kind, severity), sustained-breach gating for metric-derived
// alerts, and the alert_raised feedback-loop notification.
package awareness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/scheduler"
	"github.com/brainops/orchestrator/store"
)

// Severity is the alert severity; only warning/critical generate
// notifying thoughts, info is recorded only.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// defaultBreachWindow is the number of consecutive breach samples a
// metric-derived alert requires before it is raised (spec.md §4.6, B=3).
const defaultBreachWindow = 3

// Alert is the persisted alert record, uniquely keyed by (Kind, Severity).
type Alert struct {
	ID              string
	Kind            string
	Severity        Severity
	Message         string
	Details         map[string]interface{}
	FirstSeenAt     time.Time
	LastSeenAt      time.Time
	OccurrenceCount int
}

// Subsystem implements scheduler.Handler for scheduler.KindAlert.
type Subsystem struct {
	logger core.Logger
	handle scheduler.ControllerHandle
	store  store.Facade

	breachWindow int

	mu      sync.Mutex
	alerts  map[string]*Alert  // key: kind|severity
	windows map[string][]bool  // key: metric kind, consecutive breach samples
}

// Option configures a Subsystem at construction time.
type Option func(*Subsystem)

func WithLogger(logger core.Logger) Option {
	return func(s *Subsystem) { s.logger = logger }
}

func WithBreachWindow(n int) Option {
	return func(s *Subsystem) {
		if n > 0 {
			s.breachWindow = n
		}
	}
}

// New creates an awareness Subsystem bound to handle for publishing
// alert_raised thoughts.
func New(handle scheduler.ControllerHandle, opts ...Option) *Subsystem {
	s := &Subsystem{
		logger:       &core.NoOpLogger{},
		handle:       handle,
		breachWindow: defaultBreachWindow,
		alerts:       make(map[string]*Alert),
		windows:      make(map[string][]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cal, ok := s.logger.(core.ComponentAwareLogger); ok {
		s.logger = cal.WithComponent("subsystem/awareness")
	}
	return s
}

// Initialize binds the store facade this subsystem persists through.
func (s *Subsystem) Initialize(ctx context.Context, facade store.Facade) error {
	s.store = facade
	return nil
}

// Health reports the subsystem's status and a handful of diagnostic
// details (open alert count).
func (s *Subsystem) Health() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"status": "healthy",
		"score":  1.0,
		"details": map[string]interface{}{
			"open_alerts": len(s.alerts),
		},
	}
}

// Shutdown is a no-op; the subsystem holds no background loops of its own.
func (s *Subsystem) Shutdown(ctx context.Context) error { return nil }

// Handle implements scheduler.Handler for scheduler.KindAlert thoughts.
func (s *Subsystem) Handle(ctx context.Context, t *scheduler.Thought) (scheduler.Outcome, error) {
	alert, breachSample := alertFromPayload(t.Payload)
	return s.HandleAlert(ctx, alert, breachSample)
}

// HandleAlert upserts alert keyed on (kind, severity). For metric-derived
// alerts, breachSample classifies this sample as breach/normal; the alert
// is only actually raised once a full window of consecutive breaches has
// accumulated. nil means the alert is not metric-derived and is always
// evaluated immediately (e.g. subsystem_unhealthy_<name>).
func (s *Subsystem) HandleAlert(ctx context.Context, alert Alert, breachSample *bool) (scheduler.Outcome, error) {
	if breachSample != nil {
		if !s.recordSample(alert.Kind, *breachSample) {
			return scheduler.Outcome{Status: "ok", Data: map[string]interface{}{"raised": false}}, nil
		}
	}

	key := alert.Kind + "|" + string(alert.Severity)
	now := time.Now()

	s.mu.Lock()
	existing, ok := s.alerts[key]
	if ok {
		existing.LastSeenAt = now
		existing.OccurrenceCount++
		alert = *existing
	} else {
		if alert.ID == "" {
			alert.ID = fmt.Sprintf("alert_%d", now.UnixNano())
		}
		alert.FirstSeenAt = now
		alert.LastSeenAt = now
		alert.OccurrenceCount = 1
		stored := alert
		s.alerts[key] = &stored
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Execute(ctx,
			`INSERT INTO alerts (id, kind, severity, message, first_seen_at, last_seen_at, occurrence_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (kind, severity) DO UPDATE SET
			   last_seen_at = EXCLUDED.last_seen_at,
			   occurrence_count = alerts.occurrence_count + 1`,
			alert.ID, alert.Kind, string(alert.Severity), alert.Message, alert.FirstSeenAt, alert.LastSeenAt, alert.OccurrenceCount,
		); err != nil {
			s.logger.Error("failed to persist alert", map[string]interface{}{"kind": alert.Kind, "error": err.Error()})
		}
	}

	if alert.Severity == SeverityWarning || alert.Severity == SeverityCritical {
		priority := scheduler.PriorityUrgent
		if alert.Severity == SeverityCritical {
			priority = scheduler.PriorityCritical
		}
		_, _ = s.handle.Think(ctx, scheduler.KindAlertRaised, priority, "awareness", map[string]interface{}{
			"kind":     alert.Kind,
			"severity": string(alert.Severity),
			"message":  alert.Message,
		})
	}

	return scheduler.Outcome{Status: "ok", Data: map[string]interface{}{"raised": true, "alert_id": alert.ID}}, nil
}

// recordSample tracks a metric-derived alert's rolling breach window. A
// normal sample clears the window; a breach sample extends it. Returns
// true once the window is full of consecutive breaches.
func (s *Subsystem) recordSample(metric string, breach bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !breach {
		delete(s.windows, metric)
		return false
	}

	w := append(s.windows[metric], true)
	if len(w) > s.breachWindow {
		w = w[len(w)-s.breachWindow:]
	}
	s.windows[metric] = w

	return len(w) >= s.breachWindow
}

func alertFromPayload(payload map[string]interface{}) (Alert, *bool) {
	a := Alert{
		Kind:     stringField(payload, "kind"),
		Severity: Severity(stringField(payload, "severity")),
		Message:  stringField(payload, "message"),
	}
	if details, ok := payload["details"].(map[string]interface{}); ok {
		a.Details = details
	}

	var breach *bool
	if v, ok := payload["breach"].(bool); ok {
		breach = &v
	}
	return a, breach
}

// category reads an alert's category from alert_type, falling back to
// type, defaulting to "external".
func category(payload map[string]interface{}) string {
	if v := stringField(payload, "alert_type"); v != "" {
		return v
	}
	if v := stringField(payload, "type"); v != "" {
		return v
	}
	return "external"
}

func stringField(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
