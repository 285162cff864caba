// Package process implements the ProcessManager: the process table, its
// state machine, per-process mailbox and log ring, and lifecycle events.
// The AgentLoop that actually drives a Process is injected as a Starter to
// avoid a cyclic dependency — the manager holds only a cancellation handle
// per PID, never the loop itself.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aethersystems/aether/internal/clock"
	"github.com/aethersystems/aether/internal/eventbus"
	"github.com/aethersystems/aether/internal/sandbox"
	"github.com/aethersystems/aether/internal/types"
)

// Errors returned by Manager operations.
var (
	ErrQuotaExceeded      = errors.New("process: quota exceeded")
	ErrSandboxUnavailable = errors.New("process: sandbox unavailable")
	ErrInvalidState       = errors.New("process: invalid state transition")
	ErrNotFound           = errors.New("process: not found")
)

// DefaultPerUIDCap is the default per-owner concurrency cap (spec §5).
const DefaultPerUIDCap = 8

// DefaultLogRingSize is the minimum bound on a Process's log ring (spec §3).
const DefaultLogRingSize = 1000

// DefaultReaperInterval is how often the reaper sweeps zombie processes.
const DefaultReaperInterval = 60 * time.Second

// DefaultZombieGrace is the minimum age a zombie process must reach before
// the reaper removes it, once its process.exit event has been published.
const DefaultZombieGrace = 5 * time.Second

// Starter starts the AgentLoop goroutine for a newly spawned PID. Injected
// at construction so this package never imports internal/agentloop.
type Starter interface {
	Start(ctx context.Context, pid int64)
}

// Config describes a new Process to spawn.
type Config struct {
	OwnerUID string
	Role     string
	Goal     string
	MaxSteps int
}

// Filter scopes ListProcesses for authorization: a non-admin caller passes
// its own UID and OwnerUID is enforced; an admin passes IncludeAll.
type Filter struct {
	OwnerUID   string
	IncludeAll bool
}

type entry struct {
	mu      sync.Mutex
	process types.Process
	mailbox *Mailbox
	logs    *LogRing
	sandbox sandbox.Sandbox
	cancel  context.CancelFunc
	exitAt  time.Time
}

// Manager owns the process table.
type Manager struct {
	mu          sync.RWMutex
	processes   map[int64]*entry
	bus         *eventbus.Bus
	clock       clock.Clock
	ids         clock.IDGenerator
	provisioner sandbox.Provisioner
	starter     Starter
	perUIDCap   int
	globalCap   int
	grace       time.Duration
	logRingCap  int

	reaper *cron.Cron
}

// Option configures a Manager.
type Option func(*Manager)

// WithPerUIDCap overrides DefaultPerUIDCap.
func WithPerUIDCap(n int) Option { return func(m *Manager) { m.perUIDCap = n } }

// WithGlobalCap sets a ceiling on total non-terminal processes (0 = unbounded).
func WithGlobalCap(n int) Option { return func(m *Manager) { m.globalCap = n } }

// WithZombieGrace overrides DefaultZombieGrace.
func WithZombieGrace(d time.Duration) Option { return func(m *Manager) { m.grace = d } }

// WithLogRingCap overrides DefaultLogRingSize.
func WithLogRingCap(n int) Option { return func(m *Manager) { m.logRingCap = n } }

// New constructs a Manager. SetStarter must be called before Spawn is used.
func New(bus *eventbus.Bus, c clock.Clock, ids clock.IDGenerator, provisioner sandbox.Provisioner, opts ...Option) *Manager {
	m := &Manager{
		processes:   make(map[int64]*entry),
		bus:         bus,
		clock:       c,
		ids:         ids,
		provisioner: provisioner,
		perUIDCap:   DefaultPerUIDCap,
		grace:       DefaultZombieGrace,
		logRingCap:  DefaultLogRingSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetStarter wires the AgentLoop that drives spawned processes.
func (m *Manager) SetStarter(s Starter) { m.starter = s }

// StartReaper launches the periodic zombie sweep on the given cron
// schedule (default "@every 60s"). Returns a stop function.
func (m *Manager) StartReaper(spec string) (func(), error) {
	if spec == "" {
		spec = fmt.Sprintf("@every %s", DefaultReaperInterval)
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, m.reap); err != nil {
		return nil, fmt.Errorf("process: schedule reaper: %w", err)
	}
	c.Start()
	m.reaper = c
	return func() { c.Stop() }, nil
}

// Spawn allocates a PID, provisions a Sandbox, creates the Process in
// running/booting, and starts the AgentLoop via the injected Starter.
func (m *Manager) Spawn(ctx context.Context, cfg Config) (int64, error) {
	if err := m.admit(cfg.OwnerUID); err != nil {
		return 0, err
	}

	pid := m.ids.NextPID()
	sb, err := m.provisioner.Provision(ctx, pid, cfg.OwnerUID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
	}

	now := m.clock.Now()
	proc := types.Process{
		PID:           pid,
		OwnerUID:      cfg.OwnerUID,
		Role:          cfg.Role,
		Goal:          cfg.Goal,
		State:         types.StateRunning,
		Phase:         types.PhaseBooting,
		CreatedAt:     now,
		SandboxHandle: sb.Handle(),
		MaxSteps:      cfg.MaxSteps,
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	e := &entry{
		process: proc,
		mailbox: NewMailbox(),
		logs:    NewLogRing(m.logRingCap),
		sandbox: sb,
		cancel:  cancel,
	}

	m.mu.Lock()
	m.processes[pid] = e
	m.mu.Unlock()

	m.bus.Publish("process.spawned", ProcessSpawnedEvent{PID: pid, OwnerUID: cfg.OwnerUID, Role: cfg.Role, Goal: cfg.Goal})

	if m.starter != nil {
		go m.starter.Start(loopCtx, pid)
	}
	return pid, nil
}

// admit enforces per-UID and global concurrency caps. Must be called
// without m.mu held.
func (m *Manager) admit(uid string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ownerCount, total := 0, 0
	for _, e := range m.processes {
		e.mu.Lock()
		terminal := e.process.State.Terminal()
		owner := e.process.OwnerUID
		e.mu.Unlock()
		if terminal {
			continue
		}
		total++
		if owner == uid {
			ownerCount++
		}
	}
	uidCap := m.perUIDCap
	if uidCap <= 0 {
		uidCap = DefaultPerUIDCap
	}
	if ownerCount >= uidCap {
		return fmt.Errorf("%w: owner %q at %d/%d processes", ErrQuotaExceeded, uid, ownerCount, uidCap)
	}
	if m.globalCap > 0 && total >= m.globalCap {
		return fmt.Errorf("%w: global cap %d reached", ErrQuotaExceeded, m.globalCap)
	}
	return nil
}

// Kill requests termination: it cancels the loop's context. The loop
// itself finishes its in-flight step, releases the sandbox, and calls
// MarkExited — kill does not transition state directly (spec §4.2).
func (m *Manager) Kill(pid int64) error {
	e, err := m.lookup(pid)
	if err != nil {
		return err
	}
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Pause transitions a running/sleeping Process to paused.
func (m *Manager) Pause(pid int64) error {
	return m.transition(pid, types.StatePaused)
}

// Resume transitions a paused Process back to running.
func (m *Manager) Resume(pid int64) error {
	return m.transition(pid, types.StateRunning)
}

// TransitionState performs any transition valid per the state-machine table,
// for callers (such as the AgentLoop's step-limit handling) that need a
// state other than the paused/running pair covered by Pause/Resume.
func (m *Manager) TransitionState(pid int64, to types.ProcessState) error {
	return m.transition(pid, to)
}

// MarkExited transitions a Process to zombie, releases its Sandbox, and
// emits process.exit. Called by the AgentLoop, never directly by clients.
// The zombie state is terminal, so a Process can only reach here once,
// guaranteeing Sandbox.Close runs exactly once per the interface's contract.
func (m *Manager) MarkExited(pid int64, exitCode int) error {
	e, err := m.lookup(pid)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if !validStateTransition(e.process.State, types.StateZombie) {
		from := e.process.State
		e.mu.Unlock()
		return fmt.Errorf("%w: %s -> zombie", ErrInvalidState, from)
	}
	e.process.State = types.StateZombie
	e.exitAt = m.clock.Now()
	sb := e.sandbox
	e.mu.Unlock()

	if sb != nil {
		_ = sb.Close(context.Background())
	}

	m.bus.Publish("process.stateChange", ProcessStateChangeEvent{PID: pid, State: types.StateZombie})
	m.bus.Publish("process.exit", ProcessExitEvent{PID: pid, ExitCode: exitCode})
	return nil
}

func (m *Manager) transition(pid int64, to types.ProcessState) error {
	e, err := m.lookup(pid)
	if err != nil {
		return err
	}
	e.mu.Lock()
	from := e.process.State
	if !validStateTransition(from, to) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	e.process.State = to
	e.mu.Unlock()

	m.bus.Publish("process.stateChange", ProcessStateChangeEvent{PID: pid, State: to})
	return nil
}

// SetPhase updates the advisory phase. Never gated (spec §4.2).
func (m *Manager) SetPhase(pid int64, phase types.ProcessPhase) error {
	e, err := m.lookup(pid)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.process.Phase = phase
	e.mu.Unlock()
	return nil
}

// IncrementStep advances the Process's step counter by one and returns the
// new value.
func (m *Manager) IncrementStep(pid int64) (int, error) {
	e, err := m.lookup(pid)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.process.Step++
	step := e.process.Step
	e.mu.Unlock()
	return step, nil
}

// ExtendMaxSteps adds extraSteps to the Process's max_steps (continuation).
func (m *Manager) ExtendMaxSteps(pid int64, extraSteps int) error {
	e, err := m.lookup(pid)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.process.MaxSteps += extraSteps
	e.mu.Unlock()
	return nil
}

// Get returns a snapshot of the Process record.
func (m *Manager) Get(pid int64) (types.Process, error) {
	e, err := m.lookup(pid)
	if err != nil {
		return types.Process{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.process, nil
}

// Sandbox returns the Process's Sandbox handle.
func (m *Manager) Sandbox(pid int64) (sandbox.Sandbox, error) {
	e, err := m.lookup(pid)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sandbox, nil
}

// ListProcesses returns a snapshot of the table, authorization-filtered.
func (m *Manager) ListProcesses(filter Filter) []types.Process {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Process, 0, len(m.processes))
	for _, e := range m.processes {
		e.mu.Lock()
		proc := e.process
		e.mu.Unlock()
		if !filter.IncludeAll && proc.OwnerUID != filter.OwnerUID {
			continue
		}
		out = append(out, proc)
	}
	return out
}

// SendUserMessage appends an operator message to pid's mailbox.
func (m *Manager) SendUserMessage(pid int64, text string) error {
	e, err := m.lookup(pid)
	if err != nil {
		return err
	}
	e.mailbox.PushUser(types.UserMessage{Text: text, CreatedAt: m.clock.Now()})
	m.bus.Publish("agent.messageReceived", AgentMessageReceivedEvent{PID: pid, Kind: "user"})
	return nil
}

// SendIPCMessage appends an inter-agent message to toPid's mailbox.
func (m *Manager) SendIPCMessage(fromPID int64, fromUID string, toPID int64, channel, payload string) error {
	e, err := m.lookup(toPID)
	if err != nil {
		return err
	}
	e.mailbox.PushIPC(types.IPCMessage{
		FromPID:   fromPID,
		FromUID:   fromUID,
		Channel:   channel,
		Payload:   payload,
		CreatedAt: m.clock.Now(),
	})
	m.bus.Publish("agent.messageReceived", AgentMessageReceivedEvent{PID: toPID, Kind: "ipc", FromPID: fromPID})
	return nil
}

// Drain empties pid's mailbox and returns the drained messages.
func (m *Manager) Drain(pid int64) ([]types.UserMessage, []types.IPCMessage, error) {
	e, err := m.lookup(pid)
	if err != nil {
		return nil, nil, err
	}
	users, ipc := e.mailbox.Drain()
	return users, ipc, nil
}

// AppendLog records a LogEntry into pid's bounded ring.
func (m *Manager) AppendLog(pid int64, entryType types.LogEntryType, message string) error {
	e, err := m.lookup(pid)
	if err != nil {
		return err
	}
	e.logs.Append(types.LogEntry{Timestamp: m.clock.Now(), Type: entryType, Message: message})
	return nil
}

// Logs returns a snapshot of pid's log ring.
func (m *Manager) Logs(pid int64) ([]types.LogEntry, error) {
	e, err := m.lookup(pid)
	if err != nil {
		return nil, err
	}
	return e.logs.Snapshot(), nil
}

func (m *Manager) lookup(pid int64) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.processes[pid]
	if !ok {
		return nil, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	return e, nil
}

// reap removes zombie processes older than the grace interval. Because
// this package's EventBus.Publish synchronously enqueues to every
// subscriber before returning, by the time MarkExited's process.exit
// publish call returns, fan-out has already happened — so age alone is a
// sufficient proxy for "exit event observed by all active subscribers".
func (m *Manager) reap() {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, e := range m.processes {
		e.mu.Lock()
		isZombie := e.process.State == types.StateZombie
		exitAt := e.exitAt
		e.mu.Unlock()
		if isZombie && now.Sub(exitAt) >= m.grace {
			e.mu.Lock()
			e.process.State = types.StateDead
			e.mu.Unlock()
			delete(m.processes, pid)
		}
	}
}

// validStateTransition enforces the state-machine table in spec §4.2. The
// "stopped" transitions back it: a step-limit pause moves a running process
// to stopped/waiting; a continuation moves it back to running
// so the loop can re-enter thinking.
func validStateTransition(from, to types.ProcessState) bool {
	switch {
	case (from == types.StateRunning || from == types.StateSleeping) && to == types.StatePaused:
		return true
	case from == types.StatePaused && to == types.StateRunning:
		return true
	case !from.Terminal() && to == types.StateStopped:
		return true
	case from == types.StateStopped && to == types.StateRunning:
		return true
	case !from.Terminal() && to == types.StateZombie:
		return true
	case from == types.StateZombie && to == types.StateDead:
		return true
	default:
		return false
	}
}
