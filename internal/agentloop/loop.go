// Package agentloop implements the AgentLoop: the per-Process executor
// that drives one agent from boot through completion, per spec §4.3. It
// consults MemoryStore, calls an LLMProvider, dispatches ToolRegistry
// entries inside the Process's Sandbox through the prompt-injection guard,
// and reports state back to ProcessManager — never holding the Process
// itself, only its PID, to break the cyclic dependency named in the
// source's Design Notes.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aethersystems/aether/internal/clock"
	"github.com/aethersystems/aether/internal/eventbus"
	"github.com/aethersystems/aether/internal/guard"
	"github.com/aethersystems/aether/internal/llmprovider"
	"github.com/aethersystems/aether/internal/memorystore"
	"github.com/aethersystems/aether/internal/process"
	"github.com/aethersystems/aether/internal/toolregistry"
	"github.com/aethersystems/aether/internal/types"
)

// Tuning constants from spec §4.3/§4.3.1/§5.
const (
	DefaultStepInterval        = 2 * time.Second
	DefaultApprovalTimeout     = 5 * time.Minute
	DefaultContinuationTimeout = 5 * time.Minute
	DefaultHardKillTimeout     = 30 * time.Second

	CompactionStepInterval   = 25
	CompactionTokenThreshold = 32000
	CompactionKeepRecent     = 10

	ObservationTruncateBytes = 4096
	MemoryTopK               = 10
)

// toolAliases normalizes common LLM-chosen tool-name variants (spec §4.3
// step 6).
var toolAliases = map[string]string{
	"finish":  "complete",
	"bash":    "run_command",
	"shell":   "run_command",
	"exec":    "run_command",
	"ls":      "list_files",
	"cat":     "read_file",
}

// Loop drives Processes through the think-act-observe cycle.
type Loop struct {
	manager       *process.Manager
	bus           *eventbus.Bus
	registry      *toolregistry.Registry
	provider      llmprovider.LLMProvider
	cheapProvider llmprovider.LLMProvider
	memory        *memorystore.Store
	clock         clock.Clock

	stepInterval        time.Duration
	approvalTimeout     time.Duration
	continuationTimeout time.Duration
}

// Option configures a Loop.
type Option func(*Loop)

// WithCheapProvider sets the provider used for compaction summaries.
func WithCheapProvider(p llmprovider.LLMProvider) Option {
	return func(l *Loop) { l.cheapProvider = p }
}

// WithStepInterval overrides DefaultStepInterval.
func WithStepInterval(d time.Duration) Option {
	return func(l *Loop) { l.stepInterval = d }
}

// WithApprovalTimeout overrides DefaultApprovalTimeout.
func WithApprovalTimeout(d time.Duration) Option {
	return func(l *Loop) { l.approvalTimeout = d }
}

// WithContinuationTimeout overrides DefaultContinuationTimeout.
func WithContinuationTimeout(d time.Duration) Option {
	return func(l *Loop) { l.continuationTimeout = d }
}

// New constructs a Loop. It implements process.Starter; call
// manager.SetStarter(loop) once both are constructed.
func New(manager *process.Manager, bus *eventbus.Bus, registry *toolregistry.Registry, provider llmprovider.LLMProvider, memory *memorystore.Store, c clock.Clock, opts ...Option) *Loop {
	l := &Loop{
		manager:             manager,
		bus:                 bus,
		registry:            registry,
		provider:            provider,
		memory:              memory,
		clock:               c,
		stepInterval:        DefaultStepInterval,
		approvalTimeout:     DefaultApprovalTimeout,
		continuationTimeout: DefaultContinuationTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start implements process.Starter.
func (l *Loop) Start(ctx context.Context, pid int64) {
	l.Run(ctx, pid)
}

// Run drives pid until completion, step-limit timeout, or cancellation.
func (l *Loop) Run(ctx context.Context, pid int64) {
	proc, err := l.manager.Get(pid)
	if err != nil {
		return
	}
	history := []llmprovider.Message{{Role: "system", Content: l.buildSystemPrompt(ctx, proc)}}

	for {
		// Step 1: abort check. A cancelled context (process.kill) still exits
		// the Process through MarkExited rather than just abandoning it, so
		// it reaches zombie, frees its sandbox, and releases its per-UID cap
		// slot (spec §4.2/§5).
		select {
		case <-ctx.Done():
			l.finishKilled(pid)
			return
		default:
		}
		proc, err = l.manager.Get(pid)
		if err != nil || proc.State.Terminal() {
			return
		}

		// Step 2: paused/stopped sleep without counting a step.
		if proc.State == types.StatePaused || proc.State == types.StateStopped {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		// Step 3: drain mailbox.
		users, ipc, _ := l.manager.Drain(pid)
		for _, u := range users {
			history = append(history, llmprovider.Message{Role: "user", Content: "[User Message] " + u.Text})
		}
		for _, m := range ipc {
			history = append(history, llmprovider.Message{
				Role:    "user",
				Content: fmt.Sprintf("[Agent Message from PID %d] %s", m.FromPID, m.Payload),
			})
		}

		// Step 4: context compaction check.
		history = l.maybeCompact(ctx, pid, proc.Step, history)

		// Step 5: think.
		_ = l.manager.SetPhase(pid, types.PhaseThinking)
		resp, err := l.provider.Chat(ctx, llmprovider.ChatRequest{
			System:  history[0].Content,
			History: history,
			Tools:   l.catalogAsToolSpecs(),
		})
		if err != nil {
			l.finishFailed(pid, "llm_error")
			return
		}
		toolCall := l.resolveToolCall(resp)
		thoughtMsg := toolCall.Name
		if toolCall.Name == "think" {
			if t, ok := toolCall.Args["thought"].(string); ok {
				thoughtMsg = t
			}
		}
		_ = l.manager.AppendLog(pid, types.LogThought, thoughtMsg)
		l.bus.Publish("agent.thought", AgentThoughtEvent{PID: pid, Thought: thoughtMsg})
		history = append(history, llmprovider.Message{Role: "assistant", Content: fmt.Sprintf("tool_call: %s", toolCall.Name)})

		// Step 6: normalize aliases; unknown tool recovers locally.
		name := normalizeAlias(toolCall.Name)
		entry, ok := l.registry.Lookup(name)
		if !ok {
			history = l.recordErrorObservation(history, fmt.Sprintf("unknown tool %q", name))
			l.advanceStep(pid)
			time.Sleep(l.stepInterval)
			continue
		}

		// Step 7: approval gate.
		if entry.Definition.RequiresApproval {
			_ = l.manager.SetPhase(pid, types.PhaseWaiting)
			l.bus.Publish("process.approval_required", process.ProcessApprovalRequiredEvent{PID: pid, ToolName: name, Args: toolCall.Args})
			approved := l.waitApproval(ctx, pid)
			if !approved {
				history = l.recordErrorObservation(history, fmt.Sprintf("approval rejected or timed out for %s", name))
				_ = l.manager.SetPhase(pid, types.PhaseThinking)
				l.advanceStep(pid)
				time.Sleep(l.stepInterval)
				continue
			}
			_ = l.manager.SetPhase(pid, types.PhaseThinking)
		}

		// Step 8: prompt-injection guard.
		argsJSON, _ := json.Marshal(toolCall.Args)
		verdict := guard.Check(name, string(argsJSON), pathArgValues(toolCall.Args))
		if !verdict.Safe {
			history = l.recordErrorObservation(history, "Injection blocked: "+verdict.Reason)
			l.bus.Publish("agent.injectionBlocked", AgentInjectionBlockedEvent{PID: pid, Reason: verdict.Reason})
			l.advanceStep(pid)
			time.Sleep(l.stepInterval)
			continue
		}

		if err := l.registry.ValidateArgs(name, argsJSON); err != nil {
			history = l.recordErrorObservation(history, err.Error())
			l.advanceStep(pid)
			time.Sleep(l.stepInterval)
			continue
		}

		// Step 9: execute.
		_ = l.manager.SetPhase(pid, types.PhaseExecuting)
		sb, _ := l.manager.Sandbox(pid)
		toolCtx := types.ToolContext{PID: pid, OwnerUID: proc.OwnerUID, Sandbox: sb}
		outcome, execErr := entry.Executor(toolCtx, toolCall.Args)
		l.bus.Publish("agent.action", AgentActionEvent{PID: pid, Tool: name, Args: toolCall.Args})
		if execErr != nil {
			outcome = types.ToolOutcome{Success: false, Output: execErr.Error()}
		}

		// Step 10: observe.
		_ = l.manager.SetPhase(pid, types.PhaseObserving)
		truncated := truncate(outcome.Output, ObservationTruncateBytes)
		history = append(history, llmprovider.Message{Role: "tool", Content: truncated})
		_ = l.manager.AppendLog(pid, types.LogObservation, truncated)
		l.bus.Publish("agent.observation", AgentObservationEvent{PID: pid, Tool: name, Output: truncated, Success: outcome.Success})

		// Step 11: auto-journal.
		if l.memory != nil && outcome.Success && name != "think" {
			importance := 0.3
			if name == "complete" {
				importance = 0.8
			}
			_, _ = l.memory.Remember(ctx, proc.OwnerUID, types.LayerEpisodic, truncated, []string{"auto-journal", name}, importance, nil, &pid)
		}

		// Step 12: completion.
		if name == "complete" {
			steps, _ := l.manager.IncrementStep(pid)
			l.bus.Publish("agent.completed", AgentCompletedEvent{PID: pid, Outcome: "success", Steps: steps, Summary: outcome.Output})
			go l.scheduleReflection(proc.OwnerUID, pid)
			_ = l.manager.SetPhase(pid, types.PhaseCompleted)
			_ = l.manager.MarkExited(pid, 0)
			if l.memory != nil {
				l.memory.RecordTaskOutcome(proc.OwnerUID, true, int64(steps))
			}
			return
		}

		// Step 13: advance and continue, or handle step-limit.
		step, _ := l.manager.IncrementStep(pid)
		l.bus.Publish("agent.progress", AgentProgressEvent{PID: pid, Step: step})

		current, err := l.manager.Get(pid)
		if err != nil {
			return
		}
		if current.MaxSteps > 0 && step >= current.MaxSteps {
			if !l.handleStepLimit(ctx, pid) {
				return
			}
			continue
		}
		time.Sleep(l.stepInterval)
	}
}

func (l *Loop) advanceStep(pid int64) {
	if _, err := l.manager.IncrementStep(pid); err != nil {
		return
	}
}

func (l *Loop) recordErrorObservation(history []llmprovider.Message, msg string) []llmprovider.Message {
	return append(history, llmprovider.Message{Role: "tool", Content: "error: " + msg})
}

// finishKilled finishes the Process that this loop is driving when its
// context is cancelled out from under it (process.kill): it reports the
// outcome, marks the Process exited (zombie + process.exit, sandbox
// released), and updates the owner's profile, mirroring finishFailed.
func (l *Loop) finishKilled(pid int64) {
	proc, err := l.manager.Get(pid)
	if err != nil {
		return
	}
	l.bus.Publish("agent.completed", AgentCompletedEvent{PID: pid, Outcome: "killed", Steps: proc.Step})
	_ = l.manager.SetPhase(pid, types.PhaseFailed)
	_ = l.manager.MarkExited(pid, 1)
	if l.memory != nil {
		l.memory.RecordTaskOutcome(proc.OwnerUID, false, int64(proc.Step))
	}
}

func (l *Loop) finishFailed(pid int64, outcome string) {
	proc, err := l.manager.Get(pid)
	if err == nil {
		l.bus.Publish("agent.completed", AgentCompletedEvent{PID: pid, Outcome: outcome, Steps: proc.Step})
		if l.memory != nil {
			l.memory.RecordTaskOutcome(proc.OwnerUID, false, int64(proc.Step))
		}
	}
	_ = l.manager.SetPhase(pid, types.PhaseFailed)
	_ = l.manager.MarkExited(pid, 1)
}

// handleStepLimit implements spec §4.3's step-limit/continuation handling.
// Returns true if the loop should continue running, false if it returned.
func (l *Loop) handleStepLimit(ctx context.Context, pid int64) bool {
	l.bus.Publish("agent.stepLimitReached", AgentStepLimitReachedEvent{PID: pid})
	if err := l.manager.TransitionState(pid, types.StateStopped); err != nil {
		return false
	}
	_ = l.manager.SetPhase(pid, types.PhaseWaiting)

	extraSteps, continued := l.waitContinuation(ctx, pid)
	if !continued {
		proc, _ := l.manager.Get(pid)
		l.bus.Publish("agent.completed", AgentCompletedEvent{PID: pid, Outcome: "timeout", Steps: proc.Step})
		_ = l.manager.SetPhase(pid, types.PhaseCompleted)
		_ = l.manager.MarkExited(pid, 0)
		if l.memory != nil {
			l.memory.RecordTaskOutcome(proc.OwnerUID, false, int64(proc.Step))
		}
		return false
	}
	_ = l.manager.ExtendMaxSteps(pid, extraSteps)
	if err := l.manager.TransitionState(pid, types.StateRunning); err != nil {
		return false
	}
	_ = l.manager.SetPhase(pid, types.PhaseThinking)
	return true
}

func normalizeAlias(name string) string {
	if alias, ok := toolAliases[name]; ok {
		return alias
	}
	return name
}

func pathArgValues(args map[string]any) []string {
	var out []string
	for key, v := range args {
		if key != "path" && !strings.HasSuffix(key, "_path") {
			continue
		}
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "...[truncated]"
}

// scheduleReflection is the fire-and-forget post-completion task named in
// spec §9: its failure must never affect the parent Process, which has
// already exited by the time this runs.
func (l *Loop) scheduleReflection(ownerUID string, pid int64) {
	if l.memory == nil {
		return
	}
	_, _ = l.memory.Remember(context.Background(), ownerUID, types.LayerSemantic,
		fmt.Sprintf("reflection: process %d completed", pid), []string{"reflection"}, 0.4, nil, &pid)
}
