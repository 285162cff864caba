package toolregistry

import (
	"testing"

	"github.com/aethersystems/aether/internal/types"
)

func noop(ctx types.ToolContext, args map[string]any) (types.ToolOutcome, error) {
	return types.ToolOutcome{Success: true}, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	def := types.ToolDefinition{
		Name:       "think",
		Parameters: []byte(`{"type":"object","properties":{"thought":{"type":"string"}},"required":["thought"]}`),
	}
	if err := r.Register(def, noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Seal()

	entry, ok := r.Lookup("think")
	if !ok {
		t.Fatalf("expected think to be registered")
	}
	if entry.Definition.Name != "think" {
		t.Fatalf("unexpected definition: %+v", entry.Definition)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := New()
	def := types.ToolDefinition{Name: "think"}
	if err := r.Register(def, noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(def, noop); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestRegisterRejectsAfterSeal(t *testing.T) {
	r := New()
	r.Seal()
	if err := r.Register(types.ToolDefinition{Name: "think"}, noop); err == nil {
		t.Fatalf("expected registration after seal to fail")
	}
}

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{name: "valid", args: `{"thought":"hello"}`, wantErr: false},
		{name: "missing required field", args: `{}`, wantErr: true},
		{name: "wrong type", args: `{"thought":42}`, wantErr: true},
	}

	r := New()
	def := types.ToolDefinition{
		Name:       "think",
		Parameters: []byte(`{"type":"object","properties":{"thought":{"type":"string"}},"required":["thought"]}`),
	}
	if err := r.Register(def, noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Seal()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateArgs("think", []byte(tt.args))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateArgs(%s) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestCatalogIsSortedByName(t *testing.T) {
	r := New()
	_ = r.Register(types.ToolDefinition{Name: "write_file"}, noop)
	_ = r.Register(types.ToolDefinition{Name: "read_file"}, noop)
	_ = r.Register(types.ToolDefinition{Name: "mkdir"}, noop)
	r.Seal()

	catalog := r.Catalog()
	if len(catalog) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(catalog))
	}
	for i := 1; i < len(catalog); i++ {
		if catalog[i-1].Name > catalog[i].Name {
			t.Fatalf("catalog not sorted: %v", catalog)
		}
	}
}

func TestLookupUnknownTool(t *testing.T) {
	r := New()
	r.Seal()
	if _, ok := r.Lookup("nonexistent"); ok {
		t.Fatalf("expected lookup of unregistered tool to fail")
	}
}
