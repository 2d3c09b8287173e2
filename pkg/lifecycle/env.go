package lifecycle

import (
	"encoding/json"
	"sort"

	"github.com/agentctl/controlplane/internal/apperr"
	"github.com/agentctl/controlplane/pkg/renderer"
	"github.com/agentctl/controlplane/pkg/settings"
	"github.com/agentctl/controlplane/pkg/store"
)

// resolveEnv implements §4.4.1: token precedence, workspace key resolution,
// per-setting defaulting, and canonical extension serialization. The
// result is deterministic for a given (user, project) pair.
func resolveEnv(user store.User, project store.Project) (renderer.ResolvedEnv, error) {
	env := renderer.ResolvedEnv{
		Settings: map[string]string{},
	}

	switch {
	case project.ProjectToken != "":
		env.GithubToken = project.ProjectToken
		env.GithubKeySource = store.GithubKeySourceProject
	case user.GlobalToken != "":
		env.GithubToken = user.GlobalToken
		env.GithubKeySource = store.GithubKeySourceUser
	}

	env.WorkspaceAPIKey = project.APIKey
	if env.WorkspaceAPIKey == "" {
		env.WorkspaceAPIKey = user.APIKey
	}

	for key, def := range settings.Registry {
		if s, ok := project.Settings[key]; ok && s.Value != "" {
			env.Settings[key] = s.Value
			continue
		}
		if def.Default != "" {
			env.Settings[key] = def.Default
		}
	}

	blob, err := canonicalExtensionsBlob(project.Extensions)
	if err != nil {
		return renderer.ResolvedEnv{}, apperr.Wrap(apperr.InvalidArgument, "serializing extensions", err)
	}
	env.ExtensionsBlob = blob

	return env, nil
}

// canonicalExtensionsBlob serializes the enabled-only subset of extensions
// with stable key order, per §4.4.1 point 4.
func canonicalExtensionsBlob(extensions []store.Extension) (string, error) {
	enabled := make([]store.Extension, 0, len(extensions))
	for _, ext := range extensions {
		if ext.Enabled {
			enabled = append(enabled, ext)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Name < enabled[j].Name })

	if len(enabled) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(enabled)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
