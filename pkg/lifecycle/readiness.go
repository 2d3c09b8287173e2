package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/agentctl/controlplane/internal/apperr"
	"github.com/agentctl/controlplane/internal/telemetry"
)

const (
	readinessPollPeriod  = 3 * time.Second
	readinessTimeout     = 120 * time.Second
	readinessProbeBudget = 5 * time.Second
)

// awaitReadiness implements §4.4.3: poll every 3s, up to a 120s total
// timeout, until at least one pod is Running+Ready and the agent's health
// endpoint answers 200 through the service. Returns ReadinessTimeout on
// expiry; the deployment is left in place either way. On expiry it also
// records the last probe failure onto the project so GET .../agent/status
// can surface it.
func (e *Engine) awaitReadiness(ctx context.Context, projectID, namespace string, selector map[string]string, healthURL string) error {
	deadline := time.Now().Add(readinessTimeout)
	ticker := time.NewTicker(readinessPollPeriod)
	defer ticker.Stop()

	outcome := "timeout"
	lastProbeErr := "no pod became ready within the activation budget"
	start := time.Now()
	defer func() {
		telemetry.ReadinessWaitDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	for {
		ready, probeErr, err := e.probeOnce(ctx, namespace, selector, healthURL)
		if err != nil {
			return err
		}
		if ready {
			outcome = "ready"
			return nil
		}
		if probeErr != "" {
			lastProbeErr = probeErr
		}

		if time.Now().After(deadline) {
			if _, uErr := e.store.UpdateProjectFields(ctx, projectID, map[string]any{"last_probe_error": lastProbeErr}); uErr != nil {
				e.logger.Error("failed to persist last probe error", "project_id", projectID, "error", uErr)
			}
			return apperr.New(apperr.ReadinessTimeout, "project did not become ready within the activation budget")
		}

		select {
		case <-ctx.Done():
			outcome = "cancelled"
			return apperr.Wrap(apperr.Cancelled, "readiness wait cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

// probeOnce checks for a Running+Ready pod and, if one exists, probes the
// agent's health endpoint through the service. It reports the most recent
// failure reason alongside the readiness bool so the caller can remember it
// across polls.
func (e *Engine) probeOnce(ctx context.Context, namespace string, selector map[string]string, healthURL string) (bool, string, error) {
	statuses, err := e.orch.GetPodStatus(ctx, namespace, selector)
	if err != nil {
		return false, "", err
	}

	hasReadyPod := false
	for _, s := range statuses {
		if s.Phase == "Running" && s.Ready {
			hasReadyPod = true
			break
		}
	}
	if !hasReadyPod {
		return false, fmt.Sprintf("no pod is Running and Ready yet (%d pods matched)", len(statuses)), nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, readinessProbeBudget)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		return false, "", fmt.Errorf("building health probe request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, fmt.Sprintf("health probe request failed: %v", err), nil // transient; the next poll tries again
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("health probe returned status %d", resp.StatusCode), nil
	}
	return true, "", nil
}
