package process

import (
	"sync"

	"github.com/aethersystems/aether/internal/types"
)

// Mailbox holds the two per-PID message queues named in spec §3: operator
// messages and inter-agent messages. Written by many callers, drained only
// by the owning AgentLoop.
type Mailbox struct {
	mu    sync.Mutex
	users []types.UserMessage
	ipc   []types.IPCMessage
}

// NewMailbox returns an empty Mailbox.
func NewMailbox() *Mailbox { return &Mailbox{} }

// PushUser enqueues an operator message.
func (m *Mailbox) PushUser(msg types.UserMessage) {
	m.mu.Lock()
	m.users = append(m.users, msg)
	m.mu.Unlock()
}

// PushIPC enqueues an inter-agent message.
func (m *Mailbox) PushIPC(msg types.IPCMessage) {
	m.mu.Lock()
	m.ipc = append(m.ipc, msg)
	m.mu.Unlock()
}

// Drain empties both queues and returns their contents in arrival order.
func (m *Mailbox) Drain() ([]types.UserMessage, []types.IPCMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := m.users
	ipc := m.ipc
	m.users = nil
	m.ipc = nil
	return users, ipc
}
