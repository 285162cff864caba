// Package memorystore implements the layered agent memory named in spec
// §4.6: episodic/semantic/procedural/social records, scored by a weighted
// blend of content overlap, importance, recency, and access frequency, and
// persisted through the generic internal/kv.Store.
package memorystore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aethersystems/aether/internal/clock"
	"github.com/aethersystems/aether/internal/eventbus"
	"github.com/aethersystems/aether/internal/kv"
	"github.com/aethersystems/aether/internal/types"
)

const recordKeyPrefix = "memory:record:"
const agentIndex = "agent"
const tagIndex = "tag"

// halfLives sets the recency-decay half-life per layer: procedural
// knowledge outlives episodic chatter, per spec §4.6.
var halfLives = map[types.MemoryLayer]time.Duration{
	types.LayerProcedural: 30 * 24 * time.Hour,
	types.LayerSemantic:   14 * 24 * time.Hour,
	types.LayerEpisodic:   3 * 24 * time.Hour,
	types.LayerSocial:     7 * 24 * time.Hour,
}

// Weights parameterizes the recall scoring function.
type Weights struct {
	Overlap    float64
	Importance float64
	Recency    float64
	Access     float64
}

// DefaultWeights matches the blend described in spec §4.6.
func DefaultWeights() Weights {
	return Weights{Overlap: 0.4, Importance: 0.3, Recency: 0.2, Access: 0.1}
}

// Store is the agent-facing memory capability backing the remember/recall/
// forget/getMemoriesForContext/getProfile tool surface.
type Store struct {
	kv      kv.Store
	clock   clock.Clock
	bus     *eventbus.Bus
	weights Weights

	mu       sync.Mutex
	profiles map[string]*types.AgentProfile
}

// New returns a Store backed by store, using c for timestamps and publishing
// memory.stored/memory.forgotten onto bus (spec §4.6).
func New(store kv.Store, c clock.Clock, bus *eventbus.Bus) *Store {
	return &Store{
		kv:       store,
		clock:    c,
		bus:      bus,
		weights:  DefaultWeights(),
		profiles: make(map[string]*types.AgentProfile),
	}
}

// WithWeights overrides the scoring weights (used by tests).
func (s *Store) WithWeights(w Weights) *Store {
	s.weights = w
	return s
}

// Remember stores a new MemoryRecord and returns its generated ID.
func (s *Store) Remember(ctx context.Context, agentUID string, layer types.MemoryLayer, content string, tags []string, importance float64, expiresAt *time.Time, sourcePID *int64) (string, error) {
	now := s.clock.Now()
	record := &types.MemoryRecord{
		ID:           uuid.NewString(),
		AgentUID:     agentUID,
		Layer:        layer,
		Content:      content,
		Tags:         tags,
		Importance:   clampUnit(importance),
		AccessCount:  0,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    expiresAt,
		SourcePID:    sourcePID,
	}
	if err := s.put(ctx, record); err != nil {
		return "", err
	}
	if err := s.kv.IndexAdd(ctx, agentIndex, agentUID, record.ID); err != nil {
		return "", fmt.Errorf("memorystore: index agent: %w", err)
	}
	for _, tag := range tags {
		if err := s.kv.IndexAdd(ctx, tagIndex, tag, record.ID); err != nil {
			return "", fmt.Errorf("memorystore: index tag %q: %w", tag, err)
		}
	}
	if s.bus != nil {
		s.bus.Publish("memory.stored", map[string]any{"id": record.ID, "agentUid": agentUID, "layer": string(layer)})
	}
	return record.ID, nil
}

// Forget deletes a memory record by ID and prunes its agent/tag secondary
// index entries, which are keyed by the bare record ID rather than its
// storage key.
func (s *Store) Forget(ctx context.Context, id string) error {
	record, ok, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, recordKeyPrefix+id); err != nil {
		return err
	}
	if ok {
		if err := s.kv.IndexRemove(ctx, agentIndex, record.AgentUID, id); err != nil {
			return fmt.Errorf("memorystore: unindex agent: %w", err)
		}
		for _, tag := range record.Tags {
			if err := s.kv.IndexRemove(ctx, tagIndex, tag, id); err != nil {
				return fmt.Errorf("memorystore: unindex tag %q: %w", tag, err)
			}
		}
	}
	if s.bus != nil {
		s.bus.Publish("memory.forgotten", map[string]any{"id": id})
	}
	return nil
}

// Recall scores every non-expired record belonging to agentUID against
// query and returns the top limit matches, highest score first. Ties break
// by LastAccessed descending, then ID ascending, for determinism.
func (s *Store) Recall(ctx context.Context, agentUID string, query string, limit int) ([]types.MemoryRecord, error) {
	ids, err := s.kv.IndexLookup(ctx, agentIndex, agentUID)
	if err != nil {
		return nil, fmt.Errorf("memorystore: lookup agent index: %w", err)
	}
	now := s.clock.Now()
	terms := tokenize(query)

	type scored struct {
		record types.MemoryRecord
		score  float64
	}
	var candidates []scored
	for _, id := range ids {
		record, ok, err := s.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok || record.Expired(now) {
			continue
		}
		score := s.score(record, terms, now)
		candidates = append(candidates, scored{record: *record, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if !candidates[i].record.LastAccessed.Equal(candidates[j].record.LastAccessed) {
			return candidates[i].record.LastAccessed.After(candidates[j].record.LastAccessed)
		}
		return candidates[i].record.ID < candidates[j].record.ID
	})

	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]types.MemoryRecord, 0, limit)
	for i := 0; i < limit; i++ {
		rec := candidates[i].record
		rec.AccessCount++
		rec.LastAccessed = now
		if err := s.put(ctx, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetMemoriesForContext returns the top-K recalled memories for inclusion
// in the deterministic system prompt (spec §4.3.2).
func (s *Store) GetMemoriesForContext(ctx context.Context, agentUID string, topK int) ([]types.MemoryRecord, error) {
	return s.Recall(ctx, agentUID, "", topK)
}

// GetProfile returns the derived AgentProfile for agentUID, or nil if none
// has been recorded yet.
func (s *Store) GetProfile(agentUID string) *types.AgentProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[agentUID]
}

// RecordTaskOutcome updates the agent's derived profile after a completed
// or failed task, per spec §4.6's profile aggregation.
func (s *Store) RecordTaskOutcome(agentUID string, succeeded bool, steps int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	p, ok := s.profiles[agentUID]
	if !ok {
		p = &types.AgentProfile{AgentUID: agentUID, FirstSeen: now}
		s.profiles[agentUID] = p
	}
	p.TotalTasks++
	if succeeded {
		p.SuccessfulTasks++
	}
	p.TotalSteps += steps
	p.LastActive = now
}

func (s *Store) score(record *types.MemoryRecord, terms []string, now time.Time) float64 {
	overlap := overlapScore(terms, record.Content, record.Tags)
	halfLife := halfLives[record.Layer]
	if halfLife <= 0 {
		halfLife = 7 * 24 * time.Hour
	}
	age := now.Sub(record.CreatedAt)
	recency := math.Exp(-float64(age) / float64(halfLife))
	access := math.Log1p(float64(record.AccessCount))

	w := s.weights
	return w.Overlap*overlap + w.Importance*record.Importance + w.Recency*recency + w.Access*access
}

func overlapScore(terms []string, content string, tags []string) float64 {
	if len(terms) == 0 {
		return 0.5 // neutral score when no query is given (pure context recall)
	}
	haystack := strings.ToLower(content + " " + strings.Join(tags, " "))
	hits := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *Store) put(ctx context.Context, record *types.MemoryRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("memorystore: encode record: %w", err)
	}
	return s.kv.Put(ctx, recordKeyPrefix+record.ID, payload)
}

func (s *Store) get(ctx context.Context, id string) (*types.MemoryRecord, bool, error) {
	payload, err := s.kv.Get(ctx, recordKeyPrefix+id)
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("memorystore: get record: %w", err)
	}
	var record types.MemoryRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, false, fmt.Errorf("memorystore: decode record: %w", err)
	}
	return &record, true, nil
}
