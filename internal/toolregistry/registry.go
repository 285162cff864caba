// Package toolregistry implements the sealed, name-keyed tool registry
// named in spec §4.5 and Design Notes §9: tools are registered once at
// startup, validated by JSON schema before dispatch, and exposed to the
// AgentLoop as a read-only catalog.
package toolregistry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aethersystems/aether/internal/types"
)

// Entry is a registered tool: its spec-level definition, compiled schema,
// and executor.
type Entry struct {
	Definition types.ToolDefinition
	Executor   types.ToolExecutor
	schema     *jsonschema.Schema
}

// Registry is a name -> Entry map. Registration is only legal before the
// registry is sealed; dispatch is only legal after.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Entry
	sealed bool
}

// New returns an empty, unsealed Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Entry)}
}

// Register adds a tool. It fails if the registry is already sealed or a
// tool with the same name is already registered — shadowing is a
// registration-time error, never silent override, per spec §4.5.
func (r *Registry) Register(def types.ToolDefinition, exec types.ToolExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("toolregistry: registry sealed, cannot register %q", def.Name)
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("toolregistry: tool %q already registered", def.Name)
	}
	schema, err := compileSchema(def.Name, def.Parameters)
	if err != nil {
		return fmt.Errorf("toolregistry: compile schema for %q: %w", def.Name, err)
	}
	r.tools[def.Name] = &Entry{Definition: def, Executor: exec, schema: schema}
	return nil
}

// Seal freezes the registry against further registration. Dispatch and
// Catalog are only meaningful once sealed.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the named tool's definition and executor.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e, ok
}

// ValidateArgs checks argsJSON against the tool's JSON schema.
func (r *Registry) ValidateArgs(name string, argsJSON []byte) error {
	entry, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("toolregistry: unknown tool %q", name)
	}
	if entry.schema == nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(argsJSON, &decoded); err != nil {
		return fmt.Errorf("toolregistry: decode args for %q: %w", name, err)
	}
	if err := entry.schema.Validate(decoded); err != nil {
		return fmt.Errorf("toolregistry: args for %q invalid: %w", name, err)
	}
	return nil
}

// Catalog returns all registered tool definitions, sorted by name for
// deterministic system-prompt assembly (spec §4.3.2).
func (r *Registry) Catalog() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

var schemaCache sync.Map

func compileSchema(name string, schema []byte) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	key := name + ":" + string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(schema))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
