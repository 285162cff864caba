package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aethersystems/aether/internal/llmprovider"
	"github.com/aethersystems/aether/internal/types"
)

// buildSystemPrompt assembles the deterministic system prompt named in spec
// §4.3.2: identity/role/goal, environment description, the sorted tool
// catalog, operating rules, and — when available — the agent's profile and
// its top recalled memories.
func (l *Loop) buildSystemPrompt(ctx context.Context, proc types.Process) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are agent %d, role %q, working toward this goal:\n%s\n\n", proc.PID, proc.Role, proc.Goal)
	b.WriteString("Environment: you operate inside an isolated sandbox rooted at a shared workspace directory. ")
	b.WriteString("You proceed in a think-act-observe cycle: reason about the next step, call exactly one tool, ")
	b.WriteString("observe its result, and repeat. Calling the \"complete\" tool ends your session.\n\n")

	b.WriteString("Available tools:\n")
	for _, def := range l.registry.Catalog() {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	b.WriteString("\n")

	b.WriteString("Rules:\n")
	b.WriteString("- Call one tool per turn, with arguments matching its JSON schema.\n")
	b.WriteString("- Some tools require operator approval before they run; you will be told if one is rejected.\n")
	b.WriteString("- Example call: {\"tool\": \"read_file\", \"args\": {\"path\": \"notes.txt\"}}\n\n")

	if l.memory != nil {
		if profile := l.memory.GetProfile(proc.OwnerUID); profile.HasCompletedTask() {
			fmt.Fprintf(&b, "Your track record: %d/%d prior tasks completed successfully.\n\n",
				profile.SuccessfulTasks, profile.TotalTasks)
		}
		if memories, err := l.memory.GetMemoriesForContext(ctx, proc.OwnerUID, MemoryTopK); err == nil && len(memories) > 0 {
			b.WriteString("Relevant memories:\n")
			for _, mem := range memories {
				fmt.Fprintf(&b, "- [%s] %s\n", mem.Layer, mem.Content)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// catalogAsToolSpecs converts the tool registry's catalog into the shape the
// LLMProvider expects.
func (l *Loop) catalogAsToolSpecs() []llmprovider.ToolSpec {
	catalog := l.registry.Catalog()
	specs := make([]llmprovider.ToolSpec, 0, len(catalog))
	for _, def := range catalog {
		specs = append(specs, llmprovider.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return specs
}

// resolveToolCall extracts a ToolCall from a ChatResponse (spec §4.3 step
// 5). A structured ToolCall wins outright; otherwise the free text is
// attempted-parsed as the {tool, args, reasoning} JSON envelope a provider
// may emit instead of a structured call. Only text that parses as neither
// falls back to an implicit "think" step, so the loop always has exactly
// one call to dispatch.
func (l *Loop) resolveToolCall(resp llmprovider.ChatResponse) llmprovider.ToolCall {
	if resp.ToolCall != nil {
		return *resp.ToolCall
	}
	if tc, ok := parseJSONToolCall(resp.Text); ok {
		return tc
	}
	return llmprovider.ToolCall{Name: "think", Args: map[string]any{"thought": resp.Text}}
}

// parseJSONToolCall attempts to decode text as the {tool, args, reasoning}
// envelope named in spec §4.3 step 5.
func parseJSONToolCall(text string) (llmprovider.ToolCall, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return llmprovider.ToolCall{}, false
	}
	var envelope struct {
		Tool      string         `json:"tool"`
		Args      map[string]any `json:"args"`
		Reasoning string         `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil || envelope.Tool == "" {
		return llmprovider.ToolCall{}, false
	}
	return llmprovider.ToolCall{Name: envelope.Tool, Args: envelope.Args}, true
}
