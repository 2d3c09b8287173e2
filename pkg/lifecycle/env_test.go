package lifecycle

import (
	"strings"
	"testing"

	"github.com/agentctl/controlplane/pkg/store"
)

func TestResolveEnvTokenPrecedence(t *testing.T) {
	tests := []struct {
		name         string
		user         store.User
		project      store.Project
		wantToken    string
		wantSource   store.GithubKeySource
	}{
		{
			name:       "project token wins over user token",
			user:       store.User{GlobalToken: "user-tok"},
			project:    store.Project{ProjectToken: "project-tok"},
			wantToken:  "project-tok",
			wantSource: store.GithubKeySourceProject,
		},
		{
			name:       "falls back to user token when project has none",
			user:       store.User{GlobalToken: "user-tok"},
			project:    store.Project{},
			wantToken:  "user-tok",
			wantSource: store.GithubKeySourceUser,
		},
		{
			name:       "no token when neither set",
			user:       store.User{},
			project:    store.Project{},
			wantToken:  "",
			wantSource: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := resolveEnv(tt.user, tt.project)
			if err != nil {
				t.Fatalf("resolveEnv: %v", err)
			}
			if env.GithubToken != tt.wantToken {
				t.Errorf("got token %q, want %q", env.GithubToken, tt.wantToken)
			}
			if env.GithubKeySource != tt.wantSource {
				t.Errorf("got source %q, want %q", env.GithubKeySource, tt.wantSource)
			}
		})
	}
}

func TestResolveEnvWorkspaceAPIKeyFallback(t *testing.T) {
	env, err := resolveEnv(store.User{APIKey: "user-key"}, store.Project{})
	if err != nil {
		t.Fatalf("resolveEnv: %v", err)
	}
	if env.WorkspaceAPIKey != "user-key" {
		t.Errorf("expected fallback to user api key, got %q", env.WorkspaceAPIKey)
	}

	env, err = resolveEnv(store.User{APIKey: "user-key"}, store.Project{APIKey: "project-key"})
	if err != nil {
		t.Fatalf("resolveEnv: %v", err)
	}
	if env.WorkspaceAPIKey != "project-key" {
		t.Errorf("expected project api key to win, got %q", env.WorkspaceAPIKey)
	}
}

func TestResolveEnvSettingsDefaulting(t *testing.T) {
	project := store.Project{
		Settings: map[string]store.Setting{
			"model": {Key: "model", Value: "claude-opus"},
		},
	}

	env, err := resolveEnv(store.User{}, project)
	if err != nil {
		t.Fatalf("resolveEnv: %v", err)
	}

	if env.Settings["model"] != "claude-opus" {
		t.Errorf("expected explicit value to override default, got %q", env.Settings["model"])
	}
	if env.Settings["max_turns"] != "25" {
		t.Errorf("expected default max_turns=25, got %q", env.Settings["max_turns"])
	}
	if env.Settings["log_level"] != "info" {
		t.Errorf("expected default log_level=info, got %q", env.Settings["log_level"])
	}
	if _, ok := env.Settings["system_prompt"]; ok {
		t.Errorf("expected system_prompt to be omitted when both value and default are empty")
	}
}

func TestCanonicalExtensionsBlobEnabledOnlySorted(t *testing.T) {
	extensions := []store.Extension{
		{Name: "zeta", Enabled: true},
		{Name: "alpha", Enabled: true},
		{Name: "disabled-one", Enabled: false},
	}

	blob, err := canonicalExtensionsBlob(extensions)
	if err != nil {
		t.Fatalf("canonicalExtensionsBlob: %v", err)
	}

	alphaIdx := strings.Index(blob, "alpha")
	zetaIdx := strings.Index(blob, "zeta")
	if alphaIdx == -1 || zetaIdx == -1 {
		t.Fatalf("expected both enabled extensions in blob, got %q", blob)
	}
	if alphaIdx > zetaIdx {
		t.Errorf("expected alpha before zeta, got %q", blob)
	}
	if strings.Contains(blob, "disabled-one") {
		t.Errorf("expected disabled extension to be excluded, got %q", blob)
	}
}

func TestCanonicalExtensionsBlobEmptyWhenNoneEnabled(t *testing.T) {
	blob, err := canonicalExtensionsBlob([]store.Extension{{Name: "x", Enabled: false}})
	if err != nil {
		t.Fatalf("canonicalExtensionsBlob: %v", err)
	}
	if blob != "" {
		t.Errorf("expected empty blob, got %q", blob)
	}
}

func TestCanonicalExtensionsBlobStableAcrossInputOrder(t *testing.T) {
	a := []store.Extension{{Name: "b", Enabled: true}, {Name: "a", Enabled: true}}
	b := []store.Extension{{Name: "a", Enabled: true}, {Name: "b", Enabled: true}}

	blobA, err := canonicalExtensionsBlob(a)
	if err != nil {
		t.Fatalf("canonicalExtensionsBlob: %v", err)
	}
	blobB, err := canonicalExtensionsBlob(b)
	if err != nil {
		t.Fatalf("canonicalExtensionsBlob: %v", err)
	}
	if blobA != blobB {
		t.Errorf("expected order-independent blob, got %q vs %q", blobA, blobB)
	}
}
