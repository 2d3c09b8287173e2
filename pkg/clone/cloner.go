// Package clone implements the repo cloner (C5): after a project's agent
// pod becomes ready, it ensures the pod's workspace holds a checkout of the
// project's repo_url, fast-forwarding an existing checkout or cloning fresh.
package clone

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentctl/controlplane/internal/telemetry"
	"github.com/agentctl/controlplane/pkg/orchestrator"
	"github.com/agentctl/controlplane/pkg/store"
)

const workspaceDir = "/home/agent/workspace/repo"

// cloneScript is run inside the agent pod via exec_in_pod. It is idempotent:
// a directory already holding a checkout of repo_url is fast-forwarded, any
// other directory at that path is removed and cloned fresh. The Git token,
// when present, is read from GIT_TOKEN (injected by the secret, not passed
// in the exec argv) and embedded into the https URL handed to the git
// clone/fetch commands, so it does appear on those commands' argument
// lists; origin is reset to the plain repo_url once the step finishes.
const cloneScript = `
set -e

REPO_URL="$1"
DIR="` + workspaceDir + `"

if [ -z "$REPO_URL" ]; then
  echo "no repo_url configured, skipping clone"
  exit 0
fi

if [ -n "$GIT_TOKEN" ]; then
  export GIT_ASKPASS=/bin/true
  AUTH_URL=$(echo "$REPO_URL" | sed -E "s#https://#https://x-access-token:${GIT_TOKEN}@#")
else
  AUTH_URL="$REPO_URL"
fi

mkdir -p "$(dirname "$DIR")"

if [ -d "$DIR/.git" ]; then
  CURRENT=$(git -C "$DIR" remote get-url origin 2>/dev/null || echo "")
  if [ "$CURRENT" = "$AUTH_URL" ] || [ "$CURRENT" = "$REPO_URL" ]; then
    echo "existing checkout matches repo_url, fast-forwarding"
    git -C "$DIR" remote set-url origin "$AUTH_URL"
    git -C "$DIR" fetch --depth 1 origin
    git -C "$DIR" reset --hard origin/HEAD
  else
    echo "existing checkout does not match repo_url, re-cloning"
    rm -rf "$DIR"
    git clone --depth 1 "$AUTH_URL" "$DIR"
  fi
else
  echo "no existing checkout, cloning fresh"
  rm -rf "$DIR"
  git clone --depth 1 "$AUTH_URL" "$DIR"
fi

git -C "$DIR" remote set-url origin "$REPO_URL"
echo "clone step completed"
`

// Cloner drives the in-pod clone-or-update step of activation.
type Cloner struct {
	orch   orchestrator.Client
	logger *slog.Logger
}

// New returns a Cloner that execs into pods through orch.
func New(orch orchestrator.Client, logger *slog.Logger) *Cloner {
	return &Cloner{orch: orch, logger: logger}
}

// CloneOrUpdate execs the clone script into the project's agent pod. Per
// §4.5, a non-zero exit sets has_repository=false and records the failure
// on the project but never fails or transitions the activation itself — the
// project still becomes active even if its repository could not be synced.
func (c *Cloner) CloneOrUpdate(ctx context.Context, st *store.Store, project store.Project, namespace string, selector map[string]string) (store.Project, error) {
	if project.RepoURL == "" {
		return project, nil
	}

	argv := []string{"sh", "-c", cloneScript, "sh", project.RepoURL}
	result, err := c.orch.ExecInPod(ctx, namespace, selector, argv)

	fields := map[string]any{}
	switch {
	case err != nil:
		telemetry.CloneResultsTotal.WithLabelValues("exec_error").Inc()
		c.logger.Error("clone exec failed", "project_id", project.ID, "error", err)
		fields["has_repository"] = false
		fields["last_clone_error"] = truncate(err.Error())
	case result.ExitCode != 0:
		telemetry.CloneResultsTotal.WithLabelValues("nonzero_exit").Inc()
		c.logger.Warn("clone script exited non-zero", "project_id", project.ID, "exit_code", result.ExitCode, "stderr", result.Stderr)
		fields["has_repository"] = false
		fields["last_clone_error"] = truncate(fmt.Sprintf("exit %d: %s", result.ExitCode, result.Stderr))
	default:
		telemetry.CloneResultsTotal.WithLabelValues("success").Inc()
		fields["has_repository"] = true
		fields["last_clone_error"] = ""
	}

	return st.UpdateProjectFields(ctx, project.ID, fields)
}

func truncate(s string) string {
	const max = 2000
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max]
	}
	return s
}
