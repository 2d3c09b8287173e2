// Package store is the metadata store (C1): the single source of truth for
// user and project records, including their embedded sessions, settings,
// and extensions. It persists to Postgres with JSONB document columns so a
// project's full aggregate is read and written in one round trip, while
// indexed scalar columns (user_id, status) are available to queries without
// a JSONB scan; the store's list query filters by user.
package store

import "time"

// ProjectStatus is the persisted lifecycle state of a project.
type ProjectStatus string

const (
	StatusInactive     ProjectStatus = "inactive"
	StatusActivating   ProjectStatus = "activating"
	StatusActive       ProjectStatus = "active"
	StatusDeactivating ProjectStatus = "deactivating"
	StatusError        ProjectStatus = "error"
)

// GithubKeySource identifies which entity's Git credential is in effect.
type GithubKeySource string

const (
	GithubKeySourceProject GithubKeySource = "project"
	GithubKeySourceUser    GithubKeySource = "user"
)

// SettingType is the declared type of a Setting value.
type SettingType string

const (
	SettingString SettingType = "string"
	SettingInt    SettingType = "int"
	SettingFloat  SettingType = "float"
	SettingBool   SettingType = "bool"
	SettingEnum   SettingType = "enum"
)

// ExtensionKind is the kind of an Extension.
type ExtensionKind string

const (
	ExtensionBuiltin        ExtensionKind = "builtin"
	ExtensionStdio          ExtensionKind = "stdio"
	ExtensionSSE            ExtensionKind = "sse"
	ExtensionStreamableHTTP ExtensionKind = "streamable_http"
	ExtensionFrontend       ExtensionKind = "frontend"
	ExtensionInlinePython   ExtensionKind = "inline_python"
)

// User is identified by an opaque user_id. The clear credential values
// (GlobalToken, APIKey) are persisted as-is in the user's JSONB document;
// no masked copy or secret reference is stored. The json:"-" tags keep them
// out of API responses only.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GlobalTokenSet bool   `json:"global_token_set"`
	GlobalToken    string `json:"-"` // clear value; persisted by the store, omitted from API JSON

	APIKeySet bool   `json:"api_key_set"`
	APIKey    string `json:"-"`

	// CallerKeyHash is the SHA-256 hash of the caller-identifying API key
	// presented on Control API requests (see internal/auth). Identity
	// provisioning is an external collaborator per the system's scope; the
	// store only holds the resolvable mapping.
	CallerKeyHash string `json:"-"`
}

// Session is a summary of an agent-side chat session.
type Session struct {
	SessionID     string    `json:"session_id"`
	Name          string    `json:"name"`
	CreatedAt     time.Time `json:"created_at"`
	MessageCount  int       `json:"message_count"`
}

// Setting is a single configuration entry on a project.
type Setting struct {
	Key             string      `json:"key"`
	Type            SettingType `json:"type"`
	Value           string      `json:"value,omitempty"`
	Default         string      `json:"default,omitempty"`
	RequiresRestart bool        `json:"requires_restart"`
}

// Extension is a named tool/integration attached to a project.
type Extension struct {
	Name    string            `json:"name"`
	Kind    ExtensionKind     `json:"kind"`
	Enabled bool              `json:"enabled"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URI     string            `json:"uri,omitempty"`
	Code    string            `json:"code,omitempty"`
}

// Project is identified by a generated opaque project_id, owned by exactly
// one user_id.
type Project struct {
	ID        string        `json:"project_id"`
	UserID    string        `json:"user_id"`
	Name      string        `json:"name"`
	Status    ProjectStatus `json:"status"`
	Endpoint  string        `json:"endpoint,omitempty"`

	RepoURL        string `json:"repo_url,omitempty"`
	HasRepository  bool   `json:"has_repository"`
	LastCloneError string `json:"last_clone_error,omitempty"`

	GithubKeySet    bool            `json:"github_key_set"`
	GithubKeySource GithubKeySource `json:"github_key_source,omitempty"`
	ProjectToken    string          `json:"-"`

	APIKey string `json:"-"` // project-scoped workspace_api_key override, if set

	Sessions   []Session            `json:"sessions"`
	Settings   map[string]Setting   `json:"settings"`
	Extensions []Extension          `json:"extensions"`

	LastProbeError string `json:"last_probe_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
