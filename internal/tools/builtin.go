// Package tools implements the builtin tool catalog named in spec §4.5:
// think/complete for loop control, filesystem and shell tools backed by a
// Sandbox, memory tools backed by a MemoryStore, and agent-directory tools
// for inter-process communication.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aethersystems/aether/internal/memorystore"
	"github.com/aethersystems/aether/internal/sandbox"
	"github.com/aethersystems/aether/internal/toolregistry"
	"github.com/aethersystems/aether/internal/types"
)

func schema(properties map[string]any, required ...string) []byte {
	raw := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		raw["required"] = required
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return []byte(`{"type":"object"}`)
	}
	return payload
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// ThinkExecutor implements "think": a no-op the loop records as a thought
// log entry before continuing. The Sandbox is never touched.
func ThinkExecutor(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	thought, _ := args["thought"].(string)
	return types.ToolOutcome{Success: true, Output: thought}, nil
}

// ThinkDefinition describes the think tool.
func ThinkDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "think",
		Description: "Record a private reasoning step without taking an action.",
		Parameters:  schema(map[string]any{"thought": stringProp("The reasoning to record.")}, "thought"),
	}
}

// CompleteExecutor implements "complete": the loop-terminating tool. The
// AgentLoop, not this executor, transitions the Process to completed.
func CompleteExecutor(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	summary, _ := args["summary"].(string)
	return types.ToolOutcome{Success: true, Output: summary}, nil
}

// CompleteDefinition describes the complete tool.
func CompleteDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "complete",
		Description: "Signal that the task is finished, with a final summary.",
		Parameters:  schema(map[string]any{"summary": stringProp("Final summary of the outcome.")}, "summary"),
	}
}

// ListFilesExecutor implements "list_files" against the process's Sandbox.
func ListFilesExecutor(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	sb, err := asSandbox(ctx)
	if err != nil {
		return types.ToolOutcome{}, err
	}
	path, _ := args["path"].(string)
	entries, err := sb.ListFiles(context.Background(), path)
	if err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	return types.ToolOutcome{Success: true, Output: joinLines(entries)}, nil
}

// ListFilesDefinition describes the list_files tool.
func ListFilesDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "list_files",
		Description: "List files and directories at a path inside the sandbox.",
		Parameters:  schema(map[string]any{"path": stringProp("Directory path, relative to the sandbox root.")}),
	}
}

// ReadFileExecutor implements "read_file".
func ReadFileExecutor(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	sb, err := asSandbox(ctx)
	if err != nil {
		return types.ToolOutcome{}, err
	}
	path, _ := args["path"].(string)
	content, err := sb.ReadFile(context.Background(), path)
	if err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	return types.ToolOutcome{Success: true, Output: content}, nil
}

// ReadFileDefinition describes the read_file tool.
func ReadFileDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file's contents from the sandbox.",
		Parameters:  schema(map[string]any{"path": stringProp("File path, relative to the sandbox root.")}, "path"),
	}
}

// WriteFileExecutor implements "write_file". Requires approval per spec
// §4.5's "network writes" rule is not triggered here (local filesystem
// only); destructive writes outside the sandbox are impossible because the
// Sandbox itself enforces path containment.
func WriteFileExecutor(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	sb, err := asSandbox(ctx)
	if err != nil {
		return types.ToolOutcome{}, err
	}
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if err := sb.WriteFile(context.Background(), path, content); err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	return types.ToolOutcome{Success: true, Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

// WriteFileDefinition describes the write_file tool.
func WriteFileDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file in the sandbox, creating parent directories as needed.",
		Parameters: schema(map[string]any{
			"path":    stringProp("File path, relative to the sandbox root."),
			"content": stringProp("Content to write."),
		}, "path", "content"),
	}
}

// MkdirExecutor implements "mkdir".
func MkdirExecutor(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	sb, err := asSandbox(ctx)
	if err != nil {
		return types.ToolOutcome{}, err
	}
	path, _ := args["path"].(string)
	if err := sb.Mkdir(context.Background(), path); err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	return types.ToolOutcome{Success: true, Output: "created " + path}, nil
}

// MkdirDefinition describes the mkdir tool.
func MkdirDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "mkdir",
		Description: "Create a directory (and parents) inside the sandbox.",
		Parameters:  schema(map[string]any{"path": stringProp("Directory path, relative to the sandbox root.")}, "path"),
	}
}

// RunCommandExecutor implements "run_command". Requires approval: an
// arbitrary shell command is the highest-risk builtin tool.
func RunCommandExecutor(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	sb, err := asSandbox(ctx)
	if err != nil {
		return types.ToolOutcome{}, err
	}
	command, _ := args["command"].(string)
	timeoutSeconds, _ := args["timeout_seconds"].(float64)
	timeout := time.Duration(timeoutSeconds) * time.Second
	result, err := sb.RunCommand(context.Background(), command, timeout)
	if err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	output := result.Stdout
	if result.Stderr != "" {
		output += "\n[stderr]\n" + result.Stderr
	}
	if result.TimedOut {
		output += "\n[timed out]"
	}
	return types.ToolOutcome{Success: result.ExitCode == 0 && !result.TimedOut, Output: output}, nil
}

// RunCommandDefinition describes the run_command tool.
func RunCommandDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        "run_command",
		Description: "Run a shell command inside the sandbox and capture its output.",
		Parameters: schema(map[string]any{
			"command":         stringProp("The shell command to run."),
			"timeout_seconds": map[string]any{"type": "number", "description": "Maximum run time in seconds."},
		}, "command"),
		RequiresApproval: true,
	}
}

// BrowseWebExecutor implements "browse_web". Requires approval: it can
// cause network side effects and exfiltrate sandbox data.
func BrowseWebExecutor(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	sb, err := asSandbox(ctx)
	if err != nil {
		return types.ToolOutcome{}, err
	}
	url, _ := args["url"].(string)
	result, err := sb.BrowseWeb(context.Background(), url)
	if err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	return types.ToolOutcome{Success: true, Output: result.Title + "\n" + result.Content}, nil
}

// BrowseWebDefinition describes the browse_web tool.
func BrowseWebDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:             "browse_web",
		Description:      "Navigate the sandbox's browser to a URL and return the rendered page content.",
		Parameters:       schema(map[string]any{"url": stringProp("URL to navigate to.")}, "url"),
		RequiresApproval: true,
	}
}

// ClickElementExecutor implements "click_element".
func ClickElementExecutor(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	sb, err := asSandbox(ctx)
	if err != nil {
		return types.ToolOutcome{}, err
	}
	selector, _ := args["selector"].(string)
	result, err := sb.ClickElement(context.Background(), selector)
	if err != nil {
		return types.ToolOutcome{Success: false, Output: err.Error()}, nil
	}
	return types.ToolOutcome{Success: true, Output: result.Title + "\n" + result.Content}, nil
}

// ClickElementDefinition describes the click_element tool.
func ClickElementDefinition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:             "click_element",
		Description:      "Click an element in the sandbox's browser, identified by a CSS selector.",
		Parameters:       schema(map[string]any{"selector": stringProp("CSS selector of the element to click.")}, "selector"),
		RequiresApproval: true,
	}
}

func asSandbox(ctx types.ToolContext) (sandbox.Sandbox, error) {
	sb, ok := ctx.Sandbox.(sandbox.Sandbox)
	if !ok || sb == nil {
		return nil, fmt.Errorf("tools: sandbox unavailable for pid %d", ctx.PID)
	}
	return sb, nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// RegisterAll registers every builtin tool into reg.
func RegisterAll(reg *toolregistry.Registry, mem *memorystore.Store, directory AgentDirectory) error {
	type pair struct {
		def  types.ToolDefinition
		exec types.ToolExecutor
	}
	pairs := []pair{
		{ThinkDefinition(), ThinkExecutor},
		{CompleteDefinition(), CompleteExecutor},
		{ListFilesDefinition(), ListFilesExecutor},
		{ReadFileDefinition(), ReadFileExecutor},
		{WriteFileDefinition(), WriteFileExecutor},
		{MkdirDefinition(), MkdirExecutor},
		{RunCommandDefinition(), RunCommandExecutor},
		{BrowseWebDefinition(), BrowseWebExecutor},
		{ClickElementDefinition(), ClickElementExecutor},
	}
	for _, p := range pairs {
		if err := reg.Register(p.def, p.exec); err != nil {
			return err
		}
	}
	memoryTools := NewMemoryTools(mem)
	for _, p := range []pair{
		{RememberDefinition(), memoryTools.Remember},
		{RecallDefinition(), memoryTools.Recall},
		{ForgetDefinition(), memoryTools.Forget},
	} {
		if err := reg.Register(p.def, p.exec); err != nil {
			return err
		}
	}
	directoryTools := NewDirectoryTools(directory)
	for _, p := range []pair{
		{ListAgentsDefinition(), directoryTools.ListAgents},
		{SendMessageDefinition(), directoryTools.SendMessage},
		{DelegateTaskDefinition(), directoryTools.DelegateTask},
	} {
		if err := reg.Register(p.def, p.exec); err != nil {
			return err
		}
	}
	return nil
}
