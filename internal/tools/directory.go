package tools

import (
	"fmt"
	"strings"

	"github.com/aethersystems/aether/internal/types"
)

// AgentDirectory is the inter-process directory surface needed by the
// list_agents/send_message/delegate_task tools. internal/process's
// ProcessManager satisfies it directly (see internal/process/directory.go).
type AgentDirectory interface {
	// ListAgents returns a summary line per process owned by uid.
	ListAgents(uid string) []string
	// SendIPC delivers payload to toPID's mailbox as an IPC message from
	// fromPID, and reports whether the target process exists.
	SendIPC(fromPID int64, fromUID string, toPID int64, channel, payload string) error
	// Delegate spawns a new sub-agent with the given role and goal, owned
	// by uid, and returns its PID.
	Delegate(uid, role, goal string) (int64, error)
}

// DirectoryTools binds the directory-backed tool executors.
type DirectoryTools struct {
	directory AgentDirectory
}

// NewDirectoryTools returns directory tool executors backed by directory.
func NewDirectoryTools(directory AgentDirectory) *DirectoryTools {
	return &DirectoryTools{directory: directory}
}

// ListAgents implements "list_agents".
func (d *DirectoryTools) ListAgents(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	if d.directory == nil {
		return types.ToolOutcome{Success: false, Output: "agent directory unavailable"}, nil
	}
	lines := d.directory.ListAgents(ctx.OwnerUID)
	return types.ToolOutcome{Success: true, Output: strings.Join(lines, "\n")}, nil
}

// ListAgentsDefinition describes the list_agents tool.
func ListAgentsDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "list_agents",
		Description: "List other agent processes owned by the current user.",
		Parameters:  schema(map[string]any{}),
	}
}

// SendMessage implements "send_message": no approval gate, since inter-agent
// messaging isn't in spec §4.5's approval set (network writes, deletion
// outside ~/, sub-agent spawn, remote-VCS push) — the payload simply arrives
// in the target process's next mailbox drain.
func (d *DirectoryTools) SendMessage(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	if d.directory == nil {
		return types.ToolOutcome{Success: false, Output: "agent directory unavailable"}, nil
	}
	toPID := int64(intOr(args["pid"], 0))
	channel, _ := args["channel"].(string)
	payload, _ := args["message"].(string)
	if toPID == 0 {
		return types.ToolOutcome{Success: false, Output: "pid is required"}, nil
	}
	if err := d.directory.SendIPC(ctx.PID, ctx.OwnerUID, toPID, channel, payload); err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	return types.ToolOutcome{Success: true, Output: fmt.Sprintf("sent to pid %d", toPID)}, nil
}

// SendMessageDefinition describes the send_message tool.
func SendMessageDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "send_message",
		Description: "Send an inter-agent message to another process's mailbox.",
		Parameters: schema(map[string]any{
			"pid":     map[string]any{"type": "integer", "description": "Target process ID."},
			"channel": stringProp("Logical channel name for the message."),
			"message": stringProp("Message payload."),
		}, "pid", "message"),
	}
}

// DelegateTask implements "delegate_task": requires approval per spec
// §4.5's "spawning a sub-agent" rule.
func (d *DirectoryTools) DelegateTask(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	if d.directory == nil {
		return types.ToolOutcome{Success: false, Output: "agent directory unavailable"}, nil
	}
	role, _ := args["role"].(string)
	goal, _ := args["goal"].(string)
	if goal == "" {
		return types.ToolOutcome{Success: false, Output: "goal is required"}, nil
	}
	pid, err := d.directory.Delegate(ctx.OwnerUID, role, goal)
	if err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	return types.ToolOutcome{Success: true, Output: fmt.Sprintf("spawned pid %d", pid)}, nil
}

// DelegateTaskDefinition describes the delegate_task tool.
func DelegateTaskDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "delegate_task",
		Description: "Spawn a new sub-agent process to pursue a goal.",
		Parameters: schema(map[string]any{
			"role": stringProp("Role for the new agent."),
			"goal": stringProp("Goal for the new agent to pursue."),
		}, "goal"),
		RequiresApproval: true,
	}
}
