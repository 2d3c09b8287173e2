// Package lifecycle is the lifecycle engine (C4): the heart of the control
// plane. It drives project state transitions by composing the metadata
// store (C1), the orchestrator adapter (C2), and the resource renderer
// (C3), and owns the pod-readiness waiter and the repo cloner handoff.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentctl/controlplane/internal/apperr"
	"github.com/agentctl/controlplane/internal/telemetry"
	"github.com/agentctl/controlplane/pkg/clone"
	"github.com/agentctl/controlplane/pkg/orchestrator"
	"github.com/agentctl/controlplane/pkg/renderer"
	"github.com/agentctl/controlplane/pkg/settings"
	"github.com/agentctl/controlplane/pkg/store"
)

// Engine owns the project state machine described in §4.4.
type Engine struct {
	store  *store.Store
	orch   orchestrator.Client
	cloner *clone.Cloner
	rdb    *redis.Client
	logger *slog.Logger

	rendererCfg     renderer.Config
	activationBudget time.Duration
	controlOpBudget  time.Duration
	deactivationTimeout time.Duration

	httpClient *http.Client
}

// Config holds the construction parameters for Engine not already covered
// by its collaborators.
type Config struct {
	RendererConfig      renderer.Config
	ActivationBudget    time.Duration
	ControlOpBudget     time.Duration
	DeactivationTimeout time.Duration
}

// New builds a lifecycle Engine.
func New(st *store.Store, orch orchestrator.Client, cloner *clone.Cloner, rdb *redis.Client, logger *slog.Logger, cfg Config) *Engine {
	return &Engine{
		store:               st,
		orch:                orch,
		cloner:              cloner,
		rdb:                 rdb,
		logger:              logger,
		rendererCfg:         cfg.RendererConfig,
		activationBudget:    cfg.ActivationBudget,
		controlOpBudget:     cfg.ControlOpBudget,
		deactivationTimeout: cfg.DeactivationTimeout,
		httpClient:          &http.Client{},
	}
}

// healthURL builds the in-cluster URL the readiness waiter probes.
func (e *Engine) healthURL(project store.Project) string {
	return fmt.Sprintf("http://%s.%s.svc.cluster.local:%d%s",
		renderer.ServiceName(project.ID), renderer.NamespaceName(project.UserID), renderer.ServicePort, e.rendererCfg.AgentHealthPath)
}

// setStatus writes a status transition through to C1, per "every transition
// writes the new status to C1 before returning."
func (e *Engine) setStatus(ctx context.Context, projectID string, status store.ProjectStatus) (store.Project, error) {
	p, err := e.store.UpdateProjectFields(ctx, projectID, map[string]any{"status": string(status)})
	if err == nil {
		telemetry.ProjectTransitionsTotal.WithLabelValues(string(status)).Inc()
	}
	return p, err
}

// CreateProject implements create_project (§4.4).
func (e *Engine) CreateProject(ctx context.Context, userID, name, repoURL, initialGithubToken string) (store.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, e.activationBudget)
	defer cancel()

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return store.Project{}, err
	}

	project := store.Project{
		ID:           uuid.New().String(),
		UserID:       userID,
		Name:         name,
		Status:       store.StatusInactive,
		RepoURL:      repoURL,
		ProjectToken: initialGithubToken,
		Settings:     map[string]store.Setting{},
	}
	if initialGithubToken != "" {
		project.GithubKeySet = true
		project.GithubKeySource = store.GithubKeySourceProject
	}

	project, err = e.store.CreateProject(ctx, project)
	if err != nil {
		return store.Project{}, err
	}

	release, err := lockProject(ctx, e.rdb, project.ID)
	if err != nil {
		return store.Project{}, err
	}
	defer release()

	return e.bringUp(ctx, user, project, true)
}

// ActivateProject implements activate_project (§4.4). Only valid from
// inactive or error; on failure the engine leaves objects in place.
func (e *Engine) ActivateProject(ctx context.Context, projectID string) (store.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, e.activationBudget)
	defer cancel()

	release, err := lockProject(ctx, e.rdb, projectID)
	if err != nil {
		return store.Project{}, err
	}
	defer release()

	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if project.Status != store.StatusInactive && project.Status != store.StatusError {
		return store.Project{}, apperr.New(apperr.Conflict, "project is not inactive or in error")
	}

	user, err := e.store.GetUser(ctx, project.UserID)
	if err != nil {
		return store.Project{}, err
	}

	return e.bringUp(ctx, user, project, false)
}

// bringUp performs the shared apply-and-wait sequence used by both
// create_project and activate_project. rollbackOnFailure distinguishes the
// two: create_project rolls back everything it applied in the call;
// activate_project leaves objects in place for a retry to reuse (§4.4).
func (e *Engine) bringUp(ctx context.Context, user store.User, project store.Project, rollbackOnFailure bool) (store.Project, error) {
	project, err := e.setStatus(ctx, project.ID, store.StatusActivating)
	if err != nil {
		return store.Project{}, err
	}

	env, err := resolveEnv(user, project)
	if err != nil {
		return e.fail(ctx, project, err, rollbackOnFailure, nil)
	}

	bundle := renderer.Render(e.rendererCfg, user, project, env, 1)
	applied := []appliedObject{}

	namespace := renderer.NamespaceName(user.ID)
	if err := e.orch.EnsureNamespace(ctx, bundle.Namespace, renderer.ResourceQuota(user.ID)); err != nil {
		return e.fail(ctx, project, err, rollbackOnFailure, applied)
	}
	applied = append(applied, appliedObject{"namespace", namespace, bundle.Namespace.Name})

	if err := e.orch.ApplySecret(ctx, bundle.Secret); err != nil {
		return e.fail(ctx, project, err, rollbackOnFailure, applied)
	}
	applied = append(applied, appliedObject{"secret", namespace, bundle.Secret.Name})

	if err := e.orch.ApplyConfigMap(ctx, bundle.ConfigMap); err != nil {
		return e.fail(ctx, project, err, rollbackOnFailure, applied)
	}
	applied = append(applied, appliedObject{"configmap", namespace, bundle.ConfigMap.Name})

	if err := e.orch.ApplyService(ctx, bundle.Service); err != nil {
		return e.fail(ctx, project, err, rollbackOnFailure, applied)
	}
	applied = append(applied, appliedObject{"service", namespace, bundle.Service.Name})

	if bundle.Ingress != nil {
		if err := e.orch.ApplyIngress(ctx, bundle.Ingress); err != nil {
			return e.fail(ctx, project, err, rollbackOnFailure, applied)
		}
		applied = append(applied, appliedObject{"ingress", namespace, bundle.Ingress.Name})
	}

	if err := e.orch.ApplyDeployment(ctx, bundle.Deployment); err != nil {
		return e.fail(ctx, project, err, rollbackOnFailure, applied)
	}
	applied = append(applied, appliedObject{"deployment", namespace, bundle.Deployment.Name})

	selector := renderer.SelectorLabels(project.ID)
	if err := e.awaitReadiness(ctx, project.ID, namespace, selector, e.healthURL(project)); err != nil {
		return e.fail(ctx, project, err, rollbackOnFailure, applied)
	}

	endpoint, err := e.orch.ReadServiceEndpoint(ctx, namespace, bundle.Service.Name, renderer.ServicePort)
	if err != nil {
		return e.fail(ctx, project, err, rollbackOnFailure, applied)
	}

	project, err = e.store.UpdateProjectFields(ctx, project.ID, map[string]any{
		"status":            string(store.StatusActive),
		"endpoint":          endpoint,
		"github_key_set":    project.GithubKeySet,
		"github_key_source": string(env.GithubKeySource),
	})
	if err != nil {
		return store.Project{}, err
	}
	telemetry.ProjectTransitionsTotal.WithLabelValues(string(store.StatusActive)).Inc()

	if project.RepoURL != "" {
		if cloned, cloneErr := e.cloner.CloneOrUpdate(ctx, e.store, project, namespace, selector); cloneErr != nil {
			e.logger.Error("clone step failed to persist", "project_id", project.ID, "error", cloneErr)
		} else {
			project = cloned
		}
	}

	return project, nil
}

// fail writes the error status and, when requested, rolls back whatever
// this call applied. Rollback is scoped to the current call only, per §7:
// "only objects created in the current call are reverted."
func (e *Engine) fail(ctx context.Context, project store.Project, cause error, rollback bool, applied []appliedObject) (store.Project, error) {
	telemetry.OrchestratorErrorsTotal.WithLabelValues(apperr.Code(cause)).Inc()

	if rollback {
		for i := len(applied) - 1; i >= 0; i-- {
			obj := applied[i]
			if err := e.orch.DeleteNamespaced(ctx, obj.kind, obj.namespace, obj.name); err != nil {
				e.logger.Error("rollback step failed", "kind", obj.kind, "name", obj.name, "error", err)
			}
		}
	}

	if _, err := e.setStatus(ctx, project.ID, store.StatusError); err != nil {
		e.logger.Error("failed to persist error status", "project_id", project.ID, "error", err)
	}

	return store.Project{}, cause
}

type appliedObject struct {
	kind      string
	namespace string
	name      string
}

// DeactivateProject implements deactivate_project (§4.4).
func (e *Engine) DeactivateProject(ctx context.Context, projectID string) (store.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, e.deactivationTimeout)
	defer cancel()

	release, err := lockProject(ctx, e.rdb, projectID)
	if err != nil {
		return store.Project{}, err
	}
	defer release()

	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if project.Status != store.StatusActive {
		return store.Project{}, apperr.New(apperr.Conflict, "project is not active")
	}

	project, err = e.setStatus(ctx, project.ID, store.StatusDeactivating)
	if err != nil {
		return store.Project{}, err
	}

	namespace := renderer.NamespaceName(project.UserID)
	depName := renderer.DeploymentName(project.ID)
	if err := e.orch.ScaleDeployment(ctx, namespace, depName, 0); err != nil {
		e.logger.Error("scale to zero failed", "project_id", project.ID, "error", err)
	}

	e.waitForNoPods(ctx, namespace, renderer.SelectorLabels(project.ID))

	project, err = e.store.UpdateProjectFields(ctx, project.ID, map[string]any{
		"status":   string(store.StatusInactive),
		"endpoint": "",
	})
	if err != nil {
		return store.Project{}, err
	}
	telemetry.ProjectTransitionsTotal.WithLabelValues(string(store.StatusInactive)).Inc()
	return project, nil
}

// waitForNoPods polls until no pods match the selector or the context
// deadline elapses; scale-to-zero is best-effort so a timeout here still
// lets the caller transition to inactive (§4.4: "next activate will
// reconcile").
func (e *Engine) waitForNoPods(ctx context.Context, namespace string, selector map[string]string) {
	ticker := time.NewTicker(readinessPollPeriod)
	defer ticker.Stop()
	for {
		statuses, err := e.orch.GetPodStatus(ctx, namespace, selector)
		if err == nil && len(statuses) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DeleteProject implements delete_project (§4.4): allowed from any state,
// best-effort cluster cleanup in the order ingress, service, deployment,
// secret, config map, then unconditional record removal.
func (e *Engine) DeleteProject(ctx context.Context, projectID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.controlOpBudget)
	defer cancel()

	release, err := lockProject(ctx, e.rdb, projectID)
	if err != nil {
		return err
	}
	defer release()

	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	namespace := renderer.NamespaceName(project.UserID)
	deletions := []appliedObject{
		{"ingress", namespace, renderer.IngressName(project.ID)},
		{"service", namespace, renderer.ServiceName(project.ID)},
		{"deployment", namespace, renderer.DeploymentName(project.ID)},
		{"secret", namespace, renderer.SecretName(project.ID)},
		{"configmap", namespace, renderer.ConfigMapName(project.ID)},
	}
	for _, obj := range deletions {
		if err := e.orch.DeleteNamespaced(ctx, obj.kind, obj.namespace, obj.name); err != nil {
			e.logger.Error("delete step failed, continuing", "kind", obj.kind, "name", obj.name, "error", err)
		}
	}

	return e.store.DeleteProject(ctx, projectID)
}

// CloneRepository implements the manual clone-repository operation (§6):
// it re-runs the in-pod clone-or-update step against an already-active
// project, without any other part of the apply-and-wait sequence.
func (e *Engine) CloneRepository(ctx context.Context, projectID string) (store.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, e.controlOpBudget)
	defer cancel()

	release, err := lockProject(ctx, e.rdb, projectID)
	if err != nil {
		return store.Project{}, err
	}
	defer release()

	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if project.Status != store.StatusActive {
		return store.Project{}, apperr.New(apperr.ProjectNotActive, "project is not active")
	}

	namespace := renderer.NamespaceName(project.UserID)
	selector := renderer.SelectorLabels(project.ID)
	return e.cloner.CloneOrUpdate(ctx, e.store, project, namespace, selector)
}

// UpdateSettings implements update_settings (§4.4).
func (e *Engine) UpdateSettings(ctx context.Context, projectID string, changes map[string]store.Setting) (store.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, e.controlOpBudget)
	defer cancel()

	release, err := lockProject(ctx, e.rdb, projectID)
	if err != nil {
		return store.Project{}, err
	}
	defer release()

	project, err := e.store.PutSettings(ctx, projectID, changes, settings.Types())
	if err != nil {
		return store.Project{}, err
	}

	needsRestart := false
	for key := range changes {
		if settings.RequiresRestart(key) {
			needsRestart = true
			break
		}
	}

	if needsRestart && project.Status == store.StatusActive {
		if err := e.restart(ctx, project); err != nil {
			return store.Project{}, err
		}
	}
	return project, nil
}

// PutExtension implements the extension upsert operation (§4.4): every
// extension change requires a restart to take effect.
func (e *Engine) PutExtension(ctx context.Context, projectID string, ext store.Extension) (store.Project, error) {
	return e.mutateExtensions(ctx, projectID, func() (store.Project, error) {
		return e.store.PutExtension(ctx, projectID, ext)
	})
}

// ToggleExtension implements the extension enable/disable operation (§4.4).
func (e *Engine) ToggleExtension(ctx context.Context, projectID, name string, enabled bool) (store.Project, error) {
	return e.mutateExtensions(ctx, projectID, func() (store.Project, error) {
		return e.store.ToggleExtension(ctx, projectID, name, enabled)
	})
}

// RemoveExtension implements the extension removal operation (§4.4).
func (e *Engine) RemoveExtension(ctx context.Context, projectID, name string) (store.Project, error) {
	return e.mutateExtensions(ctx, projectID, func() (store.Project, error) {
		return e.store.RemoveExtension(ctx, projectID, name)
	})
}

// mutateExtensions serializes an extension mutation behind the per-project
// lock and restarts the workload when the project is active.
func (e *Engine) mutateExtensions(ctx context.Context, projectID string, mutate func() (store.Project, error)) (store.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, e.controlOpBudget)
	defer cancel()

	release, err := lockProject(ctx, e.rdb, projectID)
	if err != nil {
		return store.Project{}, err
	}
	defer release()

	project, err := mutate()
	if err != nil {
		return store.Project{}, err
	}

	if project.Status == store.StatusActive {
		if err := e.restart(ctx, project); err != nil {
			return store.Project{}, err
		}
	}
	return project, nil
}

// restart implements §4.4.4: re-render, re-apply the config map, and patch
// the pod template's restart annotation. The engine does not wait for the
// new pods; activate_project is the blocking path.
func (e *Engine) restart(ctx context.Context, project store.Project) error {
	user, err := e.store.GetUser(ctx, project.UserID)
	if err != nil {
		return err
	}
	env, err := resolveEnv(user, project)
	if err != nil {
		return err
	}

	namespace := renderer.NamespaceName(project.UserID)
	bundle := renderer.Render(e.rendererCfg, user, project, env, 1)

	if err := e.orch.ApplyConfigMap(ctx, bundle.ConfigMap); err != nil {
		return err
	}

	return e.orch.PatchDeploymentRestartAnnotation(ctx, namespace, renderer.DeploymentName(project.ID), time.Now().UTC().Format(time.RFC3339Nano))
}

// UpdateGithubToken implements update_github_token (§4.4).
func (e *Engine) UpdateGithubToken(ctx context.Context, projectID string, token *string) (store.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, e.controlOpBudget)
	defer cancel()

	release, err := lockProject(ctx, e.rdb, projectID)
	if err != nil {
		return store.Project{}, err
	}
	defer release()

	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}

	fields := map[string]any{}
	if token != nil && *token != "" {
		fields["project_token"] = *token
		fields["github_key_set"] = true
		fields["github_key_source"] = string(store.GithubKeySourceProject)
	} else {
		fields["project_token"] = ""
		user, uErr := e.store.GetUser(ctx, project.UserID)
		if uErr != nil {
			return store.Project{}, uErr
		}
		if user.GlobalToken != "" {
			fields["github_key_set"] = true
			fields["github_key_source"] = string(store.GithubKeySourceUser)
		} else {
			fields["github_key_set"] = false
			fields["github_key_source"] = ""
		}
	}

	project, err = e.store.UpdateProjectFields(ctx, projectID, fields)
	if err != nil {
		return store.Project{}, err
	}

	if project.Status == store.StatusActive {
		if err := e.restartWithSecret(ctx, project); err != nil {
			return store.Project{}, err
		}
	}
	return project, nil
}

// restartWithSecret re-applies the secret (credentials changed) in addition
// to the config map, then restarts.
func (e *Engine) restartWithSecret(ctx context.Context, project store.Project) error {
	user, err := e.store.GetUser(ctx, project.UserID)
	if err != nil {
		return err
	}
	env, err := resolveEnv(user, project)
	if err != nil {
		return err
	}
	bundle := renderer.Render(e.rendererCfg, user, project, env, 1)
	if err := e.orch.ApplySecret(ctx, bundle.Secret); err != nil {
		return err
	}
	return e.restart(ctx, project)
}

// UpdateUserGlobalToken implements update_user_global_token (§4.4): writes
// the user-scoped token, then re-resolves and restarts every active
// project of that user whose github_key_source is "user".
func (e *Engine) UpdateUserGlobalToken(ctx context.Context, userID string, token *string) error {
	ctx, cancel := context.WithTimeout(ctx, e.controlOpBudget)
	defer cancel()

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if token != nil {
		user.GlobalToken = *token
		user.GlobalTokenSet = *token != ""
	} else {
		user.GlobalToken = ""
		user.GlobalTokenSet = false
	}
	if _, err := e.store.UpsertUser(ctx, user); err != nil {
		return err
	}

	projects, err := e.store.ListProjectsByUser(ctx, userID)
	if err != nil {
		return err
	}

	for _, project := range projects {
		if project.Status != store.StatusActive || project.GithubKeySource != store.GithubKeySourceUser {
			continue
		}
		if err := e.restartWithSecret(ctx, project); err != nil {
			e.logger.Error("fan-out restart failed", "project_id", project.ID, "error", err)
		}
	}
	return nil
}
