package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/aethersystems/aether/internal/eventbus"
	"github.com/aethersystems/aether/internal/kv"
	"github.com/aethersystems/aether/internal/types"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func TestRememberAndRecallByOverlap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := New(kv.NewMemoryStore(), fixedClock{now}, nil)

	if _, err := store.Remember(ctx, "agent-1", types.LayerSemantic, "the deploy pipeline uses kubernetes", []string{"infra"}, 0.5, nil, nil); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if _, err := store.Remember(ctx, "agent-1", types.LayerSemantic, "the user prefers dark mode", []string{"preference"}, 0.5, nil, nil); err != nil {
		t.Fatalf("remember: %v", err)
	}

	results, err := store.Recall(ctx, "agent-1", "kubernetes deploy", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Content != "the deploy pipeline uses kubernetes" {
		t.Fatalf("expected kubernetes record ranked first, got %q", results[0].Content)
	}
}

func TestRecallExcludesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := New(kv.NewMemoryStore(), fixedClock{now}, nil)

	past := now.Add(-time.Hour)
	if _, err := store.Remember(ctx, "agent-1", types.LayerEpisodic, "stale fact", nil, 0.9, &past, nil); err != nil {
		t.Fatalf("remember: %v", err)
	}

	results, err := store.Recall(ctx, "agent-1", "", 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected expired record to be excluded, got %d results", len(results))
	}
}

func TestRecallIncrementsAccessCount(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := New(kv.NewMemoryStore(), fixedClock{now}, nil)

	id, err := store.Remember(ctx, "agent-1", types.LayerSemantic, "fact one", nil, 0.5, nil, nil)
	if err != nil {
		t.Fatalf("remember: %v", err)
	}

	if _, err := store.Recall(ctx, "agent-1", "", 10); err != nil {
		t.Fatalf("recall: %v", err)
	}
	results, err := store.Recall(ctx, "agent-1", "", 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if results[0].ID != id || results[0].AccessCount != 2 {
		t.Fatalf("expected access count 2 after two recalls, got %+v", results[0])
	}
}

func TestForgetRemovesRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := New(kv.NewMemoryStore(), fixedClock{now}, nil)

	id, err := store.Remember(ctx, "agent-1", types.LayerSemantic, "temp fact", nil, 0.5, nil, nil)
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := store.Forget(ctx, id); err != nil {
		t.Fatalf("forget: %v", err)
	}
	results, err := store.Recall(ctx, "agent-1", "", 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0 results after forget, got %d", len(results))
	}
}

func TestForgetPrunesSecondaryIndexes(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	kvStore := kv.NewMemoryStore()
	store := New(kvStore, fixedClock{now}, nil)

	id, err := store.Remember(ctx, "agent-1", types.LayerSemantic, "temp fact", []string{"scratch"}, 0.5, nil, nil)
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := store.Forget(ctx, id); err != nil {
		t.Fatalf("forget: %v", err)
	}

	agentIDs, err := kvStore.IndexLookup(ctx, agentIndex, "agent-1")
	if err != nil {
		t.Fatalf("lookup agent index: %v", err)
	}
	if len(agentIDs) != 0 {
		t.Fatalf("expected agent index entry pruned on forget, got %v", agentIDs)
	}
	tagIDs, err := kvStore.IndexLookup(ctx, tagIndex, "scratch")
	if err != nil {
		t.Fatalf("lookup tag index: %v", err)
	}
	if len(tagIDs) != 0 {
		t.Fatalf("expected tag index entry pruned on forget, got %v", tagIDs)
	}
}

func TestRememberAndForgetEmitEvents(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bus := eventbus.New()
	store := New(kv.NewMemoryStore(), fixedClock{now}, bus)

	storedSub := bus.Subscribe("memory.stored")
	defer bus.Unsubscribe(storedSub)
	forgottenSub := bus.Subscribe("memory.forgotten")
	defer bus.Unsubscribe(forgottenSub)

	id, err := store.Remember(ctx, "agent-1", types.LayerSemantic, "fact", nil, 0.5, nil, nil)
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	select {
	case evt := <-storedSub.Events():
		payload, ok := evt.Payload.(map[string]any)
		if !ok || payload["id"] != id {
			t.Fatalf("unexpected memory.stored payload: %+v", evt.Payload)
		}
	default:
		t.Fatalf("expected memory.stored to be published synchronously")
	}

	if err := store.Forget(ctx, id); err != nil {
		t.Fatalf("forget: %v", err)
	}
	select {
	case evt := <-forgottenSub.Events():
		payload, ok := evt.Payload.(map[string]any)
		if !ok || payload["id"] != id {
			t.Fatalf("unexpected memory.forgotten payload: %+v", evt.Payload)
		}
	default:
		t.Fatalf("expected memory.forgotten to be published synchronously")
	}
}

func TestRecordTaskOutcomeBuildsProfile(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := New(kv.NewMemoryStore(), fixedClock{now}, nil)

	if store.GetProfile("agent-1") != nil {
		t.Fatalf("expected nil profile before any task outcome")
	}
	store.RecordTaskOutcome("agent-1", true, 12)
	store.RecordTaskOutcome("agent-1", false, 4)

	profile := store.GetProfile("agent-1")
	if profile == nil {
		t.Fatalf("expected profile after recording outcomes")
	}
	if profile.TotalTasks != 2 || profile.SuccessfulTasks != 1 || profile.TotalSteps != 16 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}
