// Package memory implements the Memory subsystem: store/recall/forget/
// reinforce over typed Memory Entries, vector-similarity recall, and a
// deterministic hash-based embedding fallback when no embedding driver is
// configured.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/itsneelabh/gomind/core"
	"github.com/brainops/orchestrator/scheduler"
	"github.com/brainops/orchestrator/store"
)

// EntryType is the closed set of memory entry kinds.
type EntryType string

const (
	TypeEpisodic   EntryType = "episodic"
	TypeSemantic   EntryType = "semantic"
	TypeProcedural EntryType = "procedural"
	TypeWorking    EntryType = "working"
	TypeLongTerm   EntryType = "long_term"
)

const defaultWorkingMemoryLimit = 100
const defaultEmbeddingDimension = 256

// Entry is a single memory entry.
type Entry struct {
	ID             string
	Type           EntryType
	Content        map[string]interface{}
	Embedding      []float64
	Importance     float64
	AccessCount    int
	LastAccessedAt time.Time
	Associations   []string
	Archived       bool
}

// EmbeddingDriver computes a semantic embedding for text. When nil or
// when it errors, the subsystem falls back to a deterministic hash-based
// vector of the configured dimension.
type EmbeddingDriver interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Subsystem implements scheduler.Handler for scheduler.KindMemoryRequest.
type Subsystem struct {
	logger   core.Logger
	store    store.Facade
	embedder EmbeddingDriver
	dimension int

	workingLimit int

	mu      sync.Mutex
	entries map[string]*Entry
	working []*Entry // subset of entries with Type == TypeWorking, bounded
	idSeq   int
}

// Option configures a Subsystem at construction time.
type Option func(*Subsystem)

func WithLogger(logger core.Logger) Option { return func(s *Subsystem) { s.logger = logger } }

func WithEmbeddingDriver(d EmbeddingDriver) Option {
	return func(s *Subsystem) { s.embedder = d }
}

func WithEmbeddingDimension(n int) Option {
	return func(s *Subsystem) {
		if n > 0 {
			s.dimension = n
		}
	}
}

func WithWorkingMemoryLimit(n int) Option {
	return func(s *Subsystem) {
		if n > 0 {
			s.workingLimit = n
		}
	}
}

// New creates a memory Subsystem.
func New(opts ...Option) *Subsystem {
	s := &Subsystem{
		logger:       &core.NoOpLogger{},
		dimension:    defaultEmbeddingDimension,
		workingLimit: defaultWorkingMemoryLimit,
		entries:      make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cal, ok := s.logger.(core.ComponentAwareLogger); ok {
		s.logger = cal.WithComponent("subsystem/memory")
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
			"entry_count":   len(s.entries),
			"working_count": len(s.working),
		},
	}
}

func (s *Subsystem) Shutdown(ctx context.Context) error { return nil }

// Handle dispatches a memory_request thought by its "op" payload field.
func (s *Subsystem) Handle(ctx context.Context, t *scheduler.Thought) (scheduler.Outcome, error) {
	op, _ := t.Payload["op"].(string)
	switch op {
	case "remember":
		content, _ := t.Payload["data"].(map[string]interface{})
		importance, _ := t.Payload["importance"].(float64)
		id, err := s.Store(ctx, content, importance, TypeWorking)
		if err != nil {
			return scheduler.Outcome{}, err
		}
		return scheduler.Outcome{Status: "ok", Data: map[string]interface{}{"memory_id": id}}, nil

	case "recall":
		query, _ := t.Payload["query"].(string)
		limit, _ := t.Payload["limit"].(int)
		if limit <= 0 {
			limit = 10
		}
		entries, err := s.Recall(ctx, query, limit)
		if err != nil {
			return scheduler.Outcome{}, err
		}
		results := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			results = append(results, map[string]interface{}{"id": e.ID, "content": e.Content, "importance": e.Importance})
		}
		return scheduler.Outcome{Status: "ok", Data: map[string]interface{}{"results": results}}, nil

	case "forget":
		id, _ := t.Payload["id"].(string)
		s.Forget(id)
		return scheduler.Outcome{Status: "ok"}, nil

	case "reinforce":
		id, _ := t.Payload["id"].(string)
		s.Reinforce(id)
		return scheduler.Outcome{Status: "ok"}, nil

	default:
		return scheduler.Outcome{Status: "error", Error: fmt.Sprintf("unknown memory op %q", op)}, nil
	}
}

// Store creates a new memory entry, computing its embedding via the
// configured driver (or the deterministic hash fallback), and evicting
// from working memory if the limit is exceeded.
func (s *Subsystem) Store(ctx context.Context, content map[string]interface{}, importance float64, entryType EntryType) (string, error) {
	text := fmt.Sprintf("%v", content)
	embedding := s.embed(ctx, text)

	s.mu.Lock()
	s.idSeq++
	id := fmt.Sprintf("mem_%d", s.idSeq)
	entry := &Entry{
		ID:             id,
		Type:           entryType,
		Content:        content,
		Embedding:      embedding,
		Importance:     importance,
		LastAccessedAt: time.Now(),
	}
	s.entries[id] = entry

	if entryType == TypeWorking {
		s.working = append(s.working, entry)
		s.evictWorkingIfNeededLocked()
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Execute(ctx,
			`INSERT INTO memory_entries (id, type, importance, created_at) VALUES ($1, $2, $3, $4)`,
			id, string(entryType), importance, entry.LastAccessedAt,
		); err != nil {
			s.logger.Error("failed to persist memory entry", map[string]interface{}{"id": id, "error": err.Error()})
		}
	}

	return id, nil
}

// evictWorkingIfNeededLocked assumes s.mu is held. It evicts by
// (importance asc, last_accessed asc) until the working set is within
// bounds.
func (s *Subsystem) evictWorkingIfNeededLocked() {
	for len(s.working) > s.workingLimit {
		worstIdx := 0
		for i := 1; i < len(s.working); i++ {
			a, b := s.working[i], s.working[worstIdx]
			if a.Importance < b.Importance || (a.Importance == b.Importance && a.LastAccessedAt.Before(b.LastAccessedAt)) {
				worstIdx = i
			}
		}
		evicted := s.working[worstIdx]
		s.working = append(s.working[:worstIdx], s.working[worstIdx+1:]...)
		delete(s.entries, evicted.ID)
	}
}

// Recall returns non-archived entries ranked by cosine similarity to
// query's embedding, descending.
func (s *Subsystem) Recall(ctx context.Context, query string, limit int) ([]*Entry, error) {
	queryEmbedding := s.embed(ctx, query)

	s.mu.Lock()
	candidates := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.Archived {
			candidates = append(candidates, e)
		}
	}
	s.mu.Unlock()

	type scored struct {
		entry *Entry
		score float64
	}
	scoredEntries := make([]scored, 0, len(candidates))
	for _, e := range candidates {
		scoredEntries = append(scoredEntries, scored{entry: e, score: cosineSimilarity(queryEmbedding, e.Embedding)})
	}
	sort.SliceStable(scoredEntries, func(i, j int) bool {
		return scoredEntries[i].score > scoredEntries[j].score
	})

	if limit > len(scoredEntries) {
		limit = len(scoredEntries)
	}
	out := make([]*Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = scoredEntries[i].entry
		s.mu.Lock()
		out[i].AccessCount++
		out[i].LastAccessedAt = time.Now()
		s.mu.Unlock()
	}
	return out, nil
}

// Forget archives an entry so it is no longer returned by Recall.
func (s *Subsystem) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.Archived = true
	}
}

// Reinforce bumps an entry's access count and recency, as if it had just
// been recalled.
func (s *Subsystem) Reinforce(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.AccessCount++
		e.LastAccessedAt = time.Now()
	}
}

func (s *Subsystem) embed(ctx context.Context, text string) []float64 {
	if s.embedder != nil {
		if v, err := s.embedder.Embed(ctx, text); err == nil {
			return v
		} else {
			s.logger.Warn("embedding driver unavailable, using hash fallback", map[string]interface{}{"error": err.Error()})
		}
	}
	return hashEmbedding(text, s.dimension)
}

// hashEmbedding deterministically derives a unit vector of dimension dim
// from text, for use when no embedding driver is configured.
func hashEmbedding(text string, dim int) []float64 {
	out := make([]float64, dim)
	for i := 0; i < dim; i++ {
		h := fnv.New64a()
		_, _ = h.Write([]byte(text))
		_, _ = h.Write([]byte(strconv.Itoa(i)))
		out[i] = float64(h.Sum64()%10000) / 10000.0
	}
	return normalize(out)
}

func normalize(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// cosineSimilarity computes 1 - cosine_distance, i.e. the cosine
// similarity between a and b. Mismatched or empty vectors score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
