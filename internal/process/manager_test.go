package process

import (
	"context"
	"testing"
	"time"

	"github.com/aethersystems/aether/internal/eventbus"
	"github.com/aethersystems/aether/internal/sandbox"
	"github.com/aethersystems/aether/internal/types"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type sequentialIDs struct{ next int64 }

func (s *sequentialIDs) NextPID() int64 {
	s.next++
	return s.next
}

type recordingStarter struct {
	started []int64
}

func (r *recordingStarter) Start(ctx context.Context, pid int64) {
	r.started = append(r.started, pid)
}

func newTestManager(t *testing.T) (*Manager, *recordingStarter) {
	t.Helper()
	bus := eventbus.New()
	ids := &sequentialIDs{}
	prov := sandbox.NewLocalProvisioner(t.TempDir())
	m := New(bus, fixedClock{time.Now()}, ids, prov)
	starter := &recordingStarter{}
	m.SetStarter(starter)
	return m, starter
}

func TestSpawnAssignsMonotonicPIDs(t *testing.T) {
	m, _ := newTestManager(t)
	pid1, err := m.Spawn(context.Background(), Config{OwnerUID: "u1", Role: "worker", Goal: "test"})
	if err != nil {
		t.Fatalf("spawn 1: %v", err)
	}
	pid2, err := m.Spawn(context.Background(), Config{OwnerUID: "u1", Role: "worker", Goal: "test"})
	if err != nil {
		t.Fatalf("spawn 2: %v", err)
	}
	if pid2 <= pid1 {
		t.Fatalf("expected pid2 > pid1, got %d, %d", pid1, pid2)
	}
}

func TestSpawnEnforcesPerUIDCap(t *testing.T) {
	m, _ := newTestManager(t)
	m.perUIDCap = 2
	if _, err := m.Spawn(context.Background(), Config{OwnerUID: "u1"}); err != nil {
		t.Fatalf("spawn 1: %v", err)
	}
	if _, err := m.Spawn(context.Background(), Config{OwnerUID: "u1"}); err != nil {
		t.Fatalf("spawn 2: %v", err)
	}
	if _, err := m.Spawn(context.Background(), Config{OwnerUID: "u1"}); err == nil {
		t.Fatalf("expected quota exceeded on third spawn")
	}
}

func TestPauseResumeValidTransitions(t *testing.T) {
	m, _ := newTestManager(t)
	pid, err := m.Spawn(context.Background(), Config{OwnerUID: "u1"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := m.Pause(pid); err != nil {
		t.Fatalf("pause: %v", err)
	}
	proc, _ := m.Get(pid)
	if proc.State != types.StatePaused {
		t.Fatalf("expected paused, got %s", proc.State)
	}
	if err := m.Resume(pid); err != nil {
		t.Fatalf("resume: %v", err)
	}
	proc, _ = m.Get(pid)
	if proc.State != types.StateRunning {
		t.Fatalf("expected running, got %s", proc.State)
	}
}

func TestPauseTwiceIsInvalidTransition(t *testing.T) {
	m, _ := newTestManager(t)
	pid, _ := m.Spawn(context.Background(), Config{OwnerUID: "u1"})
	if err := m.Pause(pid); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := m.Pause(pid); err == nil {
		t.Fatalf("expected invalid transition pausing an already-paused process")
	}
}

func TestMarkExitedThenReapRemovesProcess(t *testing.T) {
	m, _ := newTestManager(t)
	m.grace = 0
	pid, _ := m.Spawn(context.Background(), Config{OwnerUID: "u1"})
	if err := m.MarkExited(pid, 0); err != nil {
		t.Fatalf("mark exited: %v", err)
	}
	proc, err := m.Get(pid)
	if err != nil || proc.State != types.StateZombie {
		t.Fatalf("expected zombie state, got %+v, %v", proc, err)
	}
	m.reap()
	if _, err := m.Get(pid); err == nil {
		t.Fatalf("expected process to be reaped")
	}
}

func TestKillCancelsLoopContext(t *testing.T) {
	m, _ := newTestManager(t)
	ctxCh := make(chan context.Context, 1)
	starter := starterFunc(func(ctx context.Context, pid int64) { ctxCh <- ctx })
	m.SetStarter(starter)
	pid, _ := m.Spawn(context.Background(), Config{OwnerUID: "u1"})

	var capturedCtx context.Context
	select {
	case capturedCtx = <-ctxCh:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for loop start")
	}

	if err := m.Kill(pid); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-capturedCtx.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected loop context to be cancelled")
	}
}

type starterFunc func(ctx context.Context, pid int64)

func (f starterFunc) Start(ctx context.Context, pid int64) { f(ctx, pid) }

func TestMailboxDrainReturnsBothQueues(t *testing.T) {
	m, _ := newTestManager(t)
	pidA, _ := m.Spawn(context.Background(), Config{OwnerUID: "u1"})
	pidB, _ := m.Spawn(context.Background(), Config{OwnerUID: "u1"})

	if err := m.SendUserMessage(pidB, "hello"); err != nil {
		t.Fatalf("send user message: %v", err)
	}
	if err := m.SendIPCMessage(pidA, "u1", pidB, "chat", "ping"); err != nil {
		t.Fatalf("send ipc: %v", err)
	}

	users, ipc, err := m.Drain(pidB)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(users) != 1 || users[0].Text != "hello" {
		t.Fatalf("unexpected users: %+v", users)
	}
	if len(ipc) != 1 || ipc[0].FromPID != pidA || ipc[0].Payload != "ping" {
		t.Fatalf("unexpected ipc: %+v", ipc)
	}

	usersAfter, ipcAfter, err := m.Drain(pidB)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(usersAfter) != 0 || len(ipcAfter) != 0 {
		t.Fatalf("expected empty mailbox after drain, got %+v %+v", usersAfter, ipcAfter)
	}
}

func TestListProcessesFiltersByOwner(t *testing.T) {
	m, _ := newTestManager(t)
	_, _ = m.Spawn(context.Background(), Config{OwnerUID: "u1"})
	_, _ = m.Spawn(context.Background(), Config{OwnerUID: "u2"})

	owned := m.ListProcesses(Filter{OwnerUID: "u1"})
	if len(owned) != 1 {
		t.Fatalf("expected 1 process for u1, got %d", len(owned))
	}

	all := m.ListProcesses(Filter{IncludeAll: true})
	if len(all) != 2 {
		t.Fatalf("expected 2 processes for admin, got %d", len(all))
	}
}

func TestLogRingBoundsEntries(t *testing.T) {
	m, _ := newTestManager(t)
	m.logRingCap = DefaultLogRingSize
	pid, _ := m.Spawn(context.Background(), Config{OwnerUID: "u1"})

	for i := 0; i < DefaultLogRingSize+10; i++ {
		if err := m.AppendLog(pid, types.LogThought, "entry"); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}
	logs, err := m.Logs(pid)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != DefaultLogRingSize {
		t.Fatalf("expected ring bounded at %d, got %d", DefaultLogRingSize, len(logs))
	}
}
