package process

import (
	"context"
	"fmt"
)

// ListAgents implements tools.AgentDirectory: a summary line per process
// owned by uid, visible to the list_agents tool.
func (m *Manager) ListAgents(uid string) []string {
	procs := m.ListProcesses(Filter{OwnerUID: uid})
	lines := make([]string, 0, len(procs))
	for _, p := range procs {
		lines = append(lines, fmt.Sprintf("pid=%d role=%q goal=%q state=%s step=%d", p.PID, p.Role, p.Goal, p.State, p.Step))
	}
	return lines
}

// SendIPC implements tools.AgentDirectory by delegating to SendIPCMessage.
func (m *Manager) SendIPC(fromPID int64, fromUID string, toPID int64, channel, payload string) error {
	return m.SendIPCMessage(fromPID, fromUID, toPID, channel, payload)
}

// Delegate implements tools.AgentDirectory's delegate_task support: it
// spawns a new sub-agent process owned by uid and returns its PID. The new
// process runs with the same default step budget as any top-level spawn;
// the AgentLoop bound to it picks up the goal on its own first iteration.
func (m *Manager) Delegate(uid, role, goal string) (int64, error) {
	return m.Spawn(context.Background(), Config{OwnerUID: uid, Role: role, Goal: goal})
}
