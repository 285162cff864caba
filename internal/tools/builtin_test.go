package tools

import (
	"context"
	"testing"
	"time"

	"github.com/aethersystems/aether/internal/kv"
	"github.com/aethersystems/aether/internal/memorystore"
	"github.com/aethersystems/aether/internal/sandbox"
	"github.com/aethersystems/aether/internal/toolregistry"
	"github.com/aethersystems/aether/internal/types"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type fakeDirectory struct {
	listed    []string
	sent      bool
	delegated int64
}

func (f *fakeDirectory) ListAgents(uid string) []string { return f.listed }
func (f *fakeDirectory) SendIPC(fromPID int64, fromUID string, toPID int64, channel, payload string) error {
	f.sent = true
	return nil
}
func (f *fakeDirectory) Delegate(uid, role, goal string) (int64, error) {
	f.delegated++
	return f.delegated, nil
}

func TestWriteThenReadFileRoundtrip(t *testing.T) {
	prov := sandbox.NewLocalProvisioner(t.TempDir())
	sb, err := prov.Provision(context.Background(), 1, "uid-1")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	toolCtx := types.ToolContext{PID: 1, OwnerUID: "uid-1", Sandbox: sb}

	writeOut, err := WriteFileExecutor(toolCtx, map[string]any{"path": "a.txt", "content": "hello"})
	if err != nil || !writeOut.Success {
		t.Fatalf("write: %+v, %v", writeOut, err)
	}
	readOut, err := ReadFileExecutor(toolCtx, map[string]any{"path": "a.txt"})
	if err != nil || !readOut.Success {
		t.Fatalf("read: %+v, %v", readOut, err)
	}
	if readOut.Output != "hello" {
		t.Fatalf("expected hello, got %q", readOut.Output)
	}
}

func TestRegisterAllPopulatesCatalog(t *testing.T) {
	mem := memorystore.New(kv.NewMemoryStore(), fixedClock{time.Now()}, nil)
	reg := toolregistry.New()
	if err := RegisterAll(reg, mem, &fakeDirectory{}); err != nil {
		t.Fatalf("register all: %v", err)
	}
	reg.Seal()
	catalog := reg.Catalog()
	if len(catalog) != 15 {
		t.Fatalf("expected 15 builtin tools, got %d: %+v", len(catalog), catalog)
	}
}

func TestApprovalRequiredToolsMatchSpec(t *testing.T) {
	mem := memorystore.New(kv.NewMemoryStore(), fixedClock{time.Now()}, nil)
	reg := toolregistry.New()
	if err := RegisterAll(reg, mem, &fakeDirectory{}); err != nil {
		t.Fatalf("register all: %v", err)
	}
	reg.Seal()

	wantApproval := map[string]bool{
		"run_command":   true,
		"browse_web":    true,
		"click_element": true,
		"send_message":  false,
		"delegate_task": true,
		"think":         false,
		"complete":      false,
		"read_file":     false,
		"list_files":    false,
	}
	for name, want := range wantApproval {
		entry, ok := reg.Lookup(name)
		if !ok {
			t.Fatalf("expected tool %q to be registered", name)
		}
		if entry.Definition.RequiresApproval != want {
			t.Fatalf("tool %q RequiresApproval = %v, want %v", name, entry.Definition.RequiresApproval, want)
		}
	}
}

func TestMemoryToolsRememberRecallForget(t *testing.T) {
	mem := memorystore.New(kv.NewMemoryStore(), fixedClock{time.Now()}, nil)
	memTools := NewMemoryTools(mem)
	toolCtx := types.ToolContext{PID: 1, OwnerUID: "uid-1"}

	rememberOut, err := memTools.Remember(toolCtx, map[string]any{"content": "the sky is blue", "layer": "semantic"})
	if err != nil || !rememberOut.Success {
		t.Fatalf("remember: %+v, %v", rememberOut, err)
	}

	recallOut, err := memTools.Recall(toolCtx, map[string]any{"query": "sky"})
	if err != nil || !recallOut.Success {
		t.Fatalf("recall: %+v, %v", recallOut, err)
	}
	if recallOut.Output == "" {
		t.Fatalf("expected non-empty recall output")
	}

	forgetOut, err := memTools.Forget(toolCtx, map[string]any{"id": rememberOut.Output})
	if err != nil || !forgetOut.Success {
		t.Fatalf("forget: %+v, %v", forgetOut, err)
	}
}

func TestDirectoryToolsDelegateAndSend(t *testing.T) {
	dir := &fakeDirectory{listed: []string{"pid 2: researcher"}}
	dirTools := NewDirectoryTools(dir)
	toolCtx := types.ToolContext{PID: 1, OwnerUID: "uid-1"}

	listOut, err := dirTools.ListAgents(toolCtx, nil)
	if err != nil || listOut.Output != "pid 2: researcher" {
		t.Fatalf("list agents: %+v, %v", listOut, err)
	}

	delegateOut, err := dirTools.DelegateTask(toolCtx, map[string]any{"role": "researcher", "goal": "find docs"})
	if err != nil || !delegateOut.Success {
		t.Fatalf("delegate: %+v, %v", delegateOut, err)
	}
	if dir.delegated != 1 {
		t.Fatalf("expected one delegation, got %d", dir.delegated)
	}

	sendOut, err := dirTools.SendMessage(toolCtx, map[string]any{"pid": float64(2), "message": "status?"})
	if err != nil || !sendOut.Success {
		t.Fatalf("send message: %+v, %v", sendOut, err)
	}
	if !dir.sent {
		t.Fatalf("expected SendIPC to be called")
	}
}
