package settings

import (
	"testing"

	"github.com/agentctl/controlplane/pkg/store"
)

func TestTypesCoversAllRegistryKeys(t *testing.T) {
	types := Types()
	if len(types) != len(Registry) {
		t.Fatalf("got %d types, want %d", len(types), len(Registry))
	}
	for key, def := range Registry {
		if types[key] != def.Type {
			t.Errorf("key %q: got type %q, want %q", key, types[key], def.Type)
		}
	}
}

func TestRequiresRestart(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"model", true},
		{"max_turns", false},
		{"temperature", false},
		{"auto_approve_tools", false},
		{"system_prompt", true},
		{"log_level", true},
		{"unknown_key", false},
	}
	for _, tt := range tests {
		if got := RequiresRestart(tt.key); got != tt.want {
			t.Errorf("RequiresRestart(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestDefault(t *testing.T) {
	val, ok := Default("model")
	if !ok || val != "claude-sonnet" {
		t.Errorf("Default(model) = (%q, %v), want (claude-sonnet, true)", val, ok)
	}

	val, ok = Default("system_prompt")
	if ok || val != "" {
		t.Errorf("Default(system_prompt) = (%q, %v), want (\"\", false) since its default is empty", val, ok)
	}

	val, ok = Default("unknown_key")
	if ok || val != "" {
		t.Errorf("Default(unknown_key) = (%q, %v), want (\"\", false)", val, ok)
	}
}

func TestRegistryEnumValuesDeclared(t *testing.T) {
	for key, def := range Registry {
		if def.Type == store.SettingEnum && len(def.EnumValues) == 0 {
			t.Errorf("key %q is type enum but declares no enum values", key)
		}
	}
}
