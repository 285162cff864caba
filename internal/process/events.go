package process

import "github.com/aethersystems/aether/internal/types"

// ProcessSpawnedEvent is published on "process.spawned".
type ProcessSpawnedEvent struct {
	PID      int64
	OwnerUID string
	Role     string
	Goal     string
}

// ProcessStateChangeEvent is published on "process.stateChange".
type ProcessStateChangeEvent struct {
	PID   int64
	State types.ProcessState
}

// ProcessExitEvent is published on "process.exit".
type ProcessExitEvent struct {
	PID      int64
	ExitCode int
}

// ProcessApprovalRequiredEvent is published on "process.approval_required".
type ProcessApprovalRequiredEvent struct {
	PID      int64
	ToolName string
	Args     map[string]any
}

// AgentMessageReceivedEvent is published on "agent.messageReceived".
type AgentMessageReceivedEvent struct {
	PID     int64
	Kind    string // "user" or "ipc"
	FromPID int64  // zero for "user"
}
