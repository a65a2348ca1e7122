// Package reasoning implements the Reasoning subsystem: chain-of-thought
// structured calls through the Provider Gateway, parsed into discrete
// reasoning steps with a step-index-weighted overall confidence.
package reasoning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/gateway"
	"github.com/brainops/orchestrator/scheduler"
	"github.com/brainops/orchestrator/store"
)

// defaultCacheTTL bounds how long an identical (query, type, context)
// reasoning request is served from cache instead of re-calling the
// provider gateway.
const defaultCacheTTL = 5 * time.Minute

// Type is the reasoning strategy requested of the provider.
type Type string

const (
	TypeDeductive  Type = "deductive"
	TypeInductive  Type = "inductive"
	TypeAbductive  Type = "abductive"
	TypeAnalogical Type = "analogical"
)

var strategyInstructions = map[Type]string{
	TypeDeductive:  "Use deductive reasoning: start from general principles and derive specific conclusions.",
	TypeInductive:  "Use inductive reasoning: identify patterns from specific observations to form general conclusions.",
	TypeAbductive:  "Use abductive reasoning: infer the most likely explanation for the observations.",
	TypeAnalogical: "Use analogical reasoning: draw conclusions by comparing similar situations.",
}

// Step is one parsed reasoning step.
type Step struct {
	StepNumber  int
	Description string
	Conclusion  string
	Confidence  float64
	Evidence    []string
}

// Result is the outcome of a single reason() call.
type Result struct {
	Query           string
	ReasoningType   Type
	Steps           []Step
	FinalConclusion string
	Confidence      float64
}

// Caller abstracts the provider gateway call the subsystem depends on, so
// tests don't need a real Gateway.
type Caller interface {
	Generate(ctx context.Context, prompt string, opts *gateway.Options) (*gateway.Result, error)
}

// Subsystem implements scheduler.Handler for scheduler.KindReasoningRequest.
type Subsystem struct {
	logger   core.Logger
	caller   Caller
	store    store.Facade
	cache    core.Memory
	cacheTTL time.Duration

	mu    sync.Mutex
	idSeq int
}

type Option func(*Subsystem)

func WithLogger(logger core.Logger) Option { return func(s *Subsystem) { s.logger = logger } }

// WithCache overrides the result cache. Defaults to a process-local
// core.NewMemoryStore(); pass a Redis-backed core.Memory to share the
// cache across instances.
func WithCache(m core.Memory) Option { return func(s *Subsystem) { s.cache = m } }

// WithCacheTTL overrides how long an identical reasoning request is served
// from cache before it is re-evaluated against the provider gateway.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Subsystem) {
		if d > 0 {
			s.cacheTTL = d
		}
	}
}

func New(caller Caller, opts ...Option) *Subsystem {
	s := &Subsystem{
		logger:   &core.NoOpLogger{},
		caller:   caller,
		cache:    core.NewMemoryStore(),
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cal, ok := s.logger.(core.ComponentAwareLogger); ok {
		s.logger = cal.WithComponent("subsystem/reasoning")
	}
	return s
}

func (s *Subsystem) Initialize(ctx context.Context, facade store.Facade) error {
	s.store = facade
	return nil
}

func (s *Subsystem) Health() map[string]interface{} {
	return map[string]interface{}{"status": "healthy", "score": 1.0}
}

func (s *Subsystem) Shutdown(ctx context.Context) error { return nil }

// Handle dispatches a reasoning_request thought by its "op" payload field.
func (s *Subsystem) Handle(ctx context.Context, t *scheduler.Thought) (scheduler.Outcome, error) {
	op, _ := t.Payload["op"].(string)
	if op != "reason" && op != "" {
		return scheduler.Outcome{Status: "error", Error: fmt.Sprintf("unknown reasoning op %q", op)}, nil
	}

	query, _ := t.Payload["query"].(string)
	reasoningType := Type(stringOr(t.Payload, "reasoning_type", string(TypeDeductive)))
	reasoningContext, _ := t.Payload["context"].(map[string]interface{})

	result, err := s.Reason(ctx, query, reasoningType, reasoningContext)
	if err != nil {
		return scheduler.Outcome{Status: "error", Error: err.Error()}, nil
	}

	steps := make([]map[string]interface{}, 0, len(result.Steps))
	for _, step := range result.Steps {
		steps = append(steps, map[string]interface{}{
			"step_number": step.StepNumber,
			"description": step.Description,
			"conclusion":  step.Conclusion,
			"confidence":  step.Confidence,
			"evidence":    step.Evidence,
		})
	}
	return scheduler.Outcome{Status: "ok", Data: map[string]interface{}{
		"steps":            steps,
		"final_conclusion": result.FinalConclusion,
		"confidence":       result.Confidence,
	}}, nil
}

func stringOr(m map[string]interface{}, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Reason issues a single structured chain-of-thought call and parses the
// declarative step format back into a Result.
func (s *Subsystem) Reason(ctx context.Context, query string, reasoningType Type, reasoningContext map[string]interface{}) (*Result, error) {
	fp := reasoningFingerprint(query, reasoningType, reasoningContext)
	if cached, ok := s.cacheGet(ctx, fp); ok {
		return cached, nil
	}

	prompt := buildReasoningPrompt(query, reasoningType, reasoningContext)

	response, err := s.caller.Generate(ctx, prompt, &gateway.Options{SystemPrompt: "You are a careful, structured reasoner."})
	if err != nil {
		return nil, core.NewFrameworkError("reasoning.reason", core.KindProviderFailure, err)
	}

	steps := parseReasoningSteps(response.Content)
	result := &Result{
		Query:         query,
		ReasoningType: reasoningType,
		Steps:         steps,
		Confidence:    weightedConfidence(steps),
	}
	if len(steps) > 0 {
		result.FinalConclusion = steps[len(steps)-1].Conclusion
	}

	s.persist(ctx, result)
	s.cacheSet(ctx, fp, result)
	return result, nil
}

// cacheGet returns a previously cached Result for fp, if present and
// still decodable. Cache errors and corrupt entries are treated as a
// miss; reasoning always has a correct fallback (calling the provider).
func (s *Subsystem) cacheGet(ctx context.Context, fp string) (*Result, bool) {
	raw, err := s.cache.Get(ctx, fp)
	if err != nil || raw == "" {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (s *Subsystem) cacheSet(ctx context.Context, fp string, result *Result) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, fp, string(encoded), s.cacheTTL); err != nil {
		s.logger.Warn("reasoning cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

// reasoningFingerprint hashes the request shape the same way the gateway
// fingerprints a generate() call, so identical reasoning requests share a
// cache entry regardless of map key ordering.
func reasoningFingerprint(query string, reasoningType Type, reasoningContext map[string]interface{}) string {
	payload := map[string]interface{}{
		"query":   query,
		"type":    string(reasoningType),
		"context": reasoningContext,
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, payload[k])
	}
	encoded, _ := json.Marshal(ordered)

	sum := sha256.Sum256(encoded)
	return "reasoning:" + hex.EncodeToString(sum[:])
}

func buildReasoningPrompt(query string, reasoningType Type, reasoningContext map[string]interface{}) string {
	instruction, ok := strategyInstructions[reasoningType]
	if !ok {
		instruction = strategyInstructions[TypeDeductive]
	}

	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\nQuery: ")
	b.WriteString(query)
	if len(reasoningContext) > 0 {
		fmt.Fprintf(&b, "\nContext: %v", reasoningContext)
	}
	b.WriteString(`

Think through this step-by-step:

1. First, identify the key elements of the problem
2. Then, apply logical reasoning to connect the elements
3. Consider potential alternatives or counterarguments
4. Finally, state your conclusion with confidence level

Format your response as:
STEP 1: [Description]
CONCLUSION: [What we can conclude]
CONFIDENCE: [0-1]
EVIDENCE: [Supporting evidence]

STEP 2: ...

FINAL CONCLUSION: [Your overall conclusion]
OVERALL CONFIDENCE: [0-1]
`)
	return b.String()
}

// parseReasoningSteps parses the declarative step format the prompt above
// requests. A response that doesn't match the format at all still yields
// one best-effort step rather than an empty result.
func parseReasoningSteps(response string) []Step {
	var steps []Step
	var current *Step
	stepNum := 0

	flush := func() {
		if current != nil {
			steps = append(steps, *current)
			current = nil
		}
	}

	for _, rawLine := range strings.Split(response, "\n") {
		line := strings.TrimSpace(rawLine)
		switch {
		case strings.HasPrefix(line, "STEP"):
			flush()
			stepNum++
			desc := ""
			if idx := strings.Index(line, ":"); idx >= 0 {
				desc = strings.TrimSpace(line[idx+1:])
			}
			current = &Step{StepNumber: stepNum, Description: desc, Confidence: 0.5}

		case strings.HasPrefix(line, "CONCLUSION:") && current != nil:
			current.Conclusion = strings.TrimSpace(strings.TrimPrefix(line, "CONCLUSION:"))

		case strings.HasPrefix(line, "CONFIDENCE:") && current != nil:
			if v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, "CONFIDENCE:")), 64); err == nil {
				current.Confidence = v
			}

		case strings.HasPrefix(line, "EVIDENCE:") && current != nil:
			current.Evidence = append(current.Evidence, strings.TrimSpace(strings.TrimPrefix(line, "EVIDENCE:")))

		case strings.HasPrefix(line, "FINAL CONCLUSION:"):
			flush()
			steps = append(steps, Step{
				StepNumber: stepNum + 1,
				Description: "Final synthesis",
				Conclusion:  strings.TrimSpace(strings.TrimPrefix(line, "FINAL CONCLUSION:")),
				Confidence:  0.8,
			})

		case current != nil && !strings.HasPrefix(line, "OVERALL"):
			if line != "" {
				if current.Description == "" {
					current.Description = line
				} else {
					current.Description += " " + line
				}
			}
		}
	}
	flush()

	if len(steps) == 0 {
		truncated := response
		if len(truncated) > 500 {
			truncated = truncated[:500]
		}
		steps = append(steps, Step{StepNumber: 1, Description: "Direct analysis", Conclusion: truncated, Confidence: 0.5})
	}
	return steps
}

// weightedConfidence averages step confidences weighted toward later
// steps: step i (1-indexed) carries weight i.
func weightedConfidence(steps []Step) float64 {
	if len(steps) == 0 {
		return 0.5
	}
	var weightedSum, totalWeight float64
	for i, step := range steps {
		weight := float64(i + 1)
		weightedSum += step.Confidence * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0.5
	}
	return weightedSum / totalWeight
}

func (s *Subsystem) persist(ctx context.Context, result *Result) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	s.idSeq++
	id := fmt.Sprintf("reasoning_%d", s.idSeq)
	s.mu.Unlock()

	if err := s.store.Execute(ctx,
		`INSERT INTO reasoning_results (id, query, reasoning_type, final_conclusion, confidence) VALUES ($1, $2, $3, $4, $5)`,
		id, result.Query, string(result.ReasoningType), result.FinalConclusion, result.Confidence,
	); err != nil {
		s.logger.Error("failed to persist reasoning result", map[string]interface{}{"id": id, "error": err.Error()})
	}
}
