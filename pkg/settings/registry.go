// Package settings declares the fixed set of project setting keys the
// control plane recognizes. Per §3, "the set of recognized keys is fixed at
// compile time; unknown keys are rejected" — there is no dynamic schema.
package settings

import "github.com/agentctl/controlplane/pkg/store"

// Definition describes one recognized setting: its declared type, default
// value (applied when the project has no explicit value), and whether
// changing it requires a pod restart to take effect.
type Definition struct {
	Type            store.SettingType
	Default         string
	RequiresRestart bool
	EnumValues      []string // only meaningful when Type == SettingEnum
}

// Registry is the compile-time map of recognized setting keys.
var Registry = map[string]Definition{
	"model": {
		Type:            store.SettingEnum,
		Default:         "claude-sonnet",
		EnumValues:      []string{"claude-sonnet", "claude-opus", "claude-haiku"},
		RequiresRestart: true,
	},
	"max_turns": {
		Type:            store.SettingInt,
		Default:         "25",
		RequiresRestart: false,
	},
	"temperature": {
		Type:            store.SettingFloat,
		Default:         "0.2",
		RequiresRestart: false,
	},
	"auto_approve_tools": {
		Type:            store.SettingBool,
		Default:         "false",
		RequiresRestart: false,
	},
	"system_prompt": {
		Type:            store.SettingString,
		Default:         "",
		RequiresRestart: true,
	},
	"log_level": {
		Type:            store.SettingEnum,
		Default:         "info",
		EnumValues:      []string{"debug", "info", "warn", "error"},
		RequiresRestart: true,
	},
}

// Types returns the key -> type map, the shape store.PutSettings validates
// unknown keys against.
func Types() map[string]store.SettingType {
	out := make(map[string]store.SettingType, len(Registry))
	for k, def := range Registry {
		out[k] = def.Type
	}
	return out
}

// RequiresRestart reports whether a recognized key's RequiresRestart flag
// is set. Unknown keys report false; callers must validate recognition
// separately (store.PutSettings already rejects unknown keys up front).
func RequiresRestart(key string) bool {
	return Registry[key].RequiresRestart
}

// Default returns the declared default for a recognized key, and whether
// one exists.
func Default(key string) (string, bool) {
	def, ok := Registry[key]
	if !ok || def.Default == "" {
		return "", ok && def.Default != ""
	}
	return def.Default, true
}
