package tools

import (
	"context"
	"strings"

	"github.com/aethersystems/aether/internal/memorystore"
	"github.com/aethersystems/aether/internal/types"
)

// MemoryTools binds the remember/recall/forget tool executors to a
// MemoryStore. remember and recall are scoped to the invoking process's
// owner; forget deletes a record by ID alone.
type MemoryTools struct {
	store *memorystore.Store
}

// NewMemoryTools returns memory tool executors backed by store.
func NewMemoryTools(store *memorystore.Store) *MemoryTools {
	return &MemoryTools{store: store}
}

// Remember implements "remember".
func (m *MemoryTools) Remember(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	content, _ := args["content"].(string)
	layer := types.MemoryLayer(stringOr(args["layer"], string(types.LayerEpisodic)))
	importance, _ := args["importance"].(float64)
	if importance == 0 {
		importance = 0.5
	}
	tags := stringSlice(args["tags"])

	id, err := m.store.Remember(context.Background(), ctx.OwnerUID, layer, content, tags, importance, nil, &ctx.PID)
	if err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	return types.ToolOutcome{Success: true, Output: id}, nil
}

// RememberDefinition describes the remember tool.
func RememberDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "remember",
		Description: "Store a fact or observation in long-term memory.",
		Parameters: schema(map[string]any{
			"content":    stringProp("The content to remember."),
			"layer":      stringProp("Memory layer: episodic, semantic, procedural, or social."),
			"importance": map[string]any{"type": "number", "description": "Importance in [0,1]."},
			"tags":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Tags for retrieval."},
		}, "content"),
	}
}

// Recall implements "recall".
func (m *MemoryTools) Recall(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	query, _ := args["query"].(string)
	limit := intOr(args["limit"], 10)

	records, err := m.store.Recall(context.Background(), ctx.OwnerUID, query, limit)
	if err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, "["+string(r.Layer)+"] "+r.Content)
	}
	return types.ToolOutcome{Success: true, Output: strings.Join(lines, "\n")}, nil
}

// RecallDefinition describes the recall tool.
func RecallDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "recall",
		Description: "Retrieve relevant memories matching a query.",
		Parameters: schema(map[string]any{
			"query": stringProp("Search query."),
			"limit": map[string]any{"type": "integer", "description": "Maximum number of memories to return."},
		}),
	}
}

// Forget implements "forget".
func (m *MemoryTools) Forget(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	id, _ := args["id"].(string)
	if err := m.store.Forget(context.Background(), id); err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	return types.ToolOutcome{Success: true, Output: "forgotten"}, nil
}

// ForgetDefinition describes the forget tool.
func ForgetDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "forget",
		Description: "Delete a memory by ID.",
		Parameters:  schema(map[string]any{"id": stringProp("Memory record ID to delete.")}, "id"),
	}
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func intOr(v any, fallback int) int {
	if f, ok := v.(float64); ok && f > 0 {
		return int(f)
	}
	return fallback
}

func stringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
