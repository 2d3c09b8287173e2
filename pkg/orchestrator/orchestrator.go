// Package orchestrator is the orchestrator adapter (C2): a thin typed
// façade over the cluster's imperative API. It is the only package that
// imports k8s.io/client-go directly; every other component talks to the
// cluster through this interface.
package orchestrator

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	netv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/agentctl/controlplane/internal/apperr"
)

// PodStatus summarizes a single pod's phase and readiness, as returned by
// GetPodStatus.
type PodStatus struct {
	Name    string
	Phase   corev1.PodPhase
	Ready   bool
	Reason  string
}

// ExecResult is the outcome of exec_in_pod.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Client is the typed façade every higher layer depends on. All operations
// are serializable individually; implementations must treat "already
// exists" as success for creates and "not found" as success for deletes.
type Client interface {
	EnsureNamespace(ctx context.Context, ns *corev1.Namespace, quota *corev1.ResourceQuota) error
	ApplyConfigMap(ctx context.Context, cm *corev1.ConfigMap) error
	ApplySecret(ctx context.Context, secret *corev1.Secret) error
	ApplyService(ctx context.Context, svc *corev1.Service) error
	ApplyIngress(ctx context.Context, ing *netv1.Ingress) error
	ApplyDeployment(ctx context.Context, dep *appsv1.Deployment) error
	ScaleDeployment(ctx context.Context, namespace, name string, replicas int32) error
	PatchDeploymentRestartAnnotation(ctx context.Context, namespace, name, annotationValue string) error
	DeleteNamespaced(ctx context.Context, kind, namespace, name string) error
	ReadServiceEndpoint(ctx context.Context, namespace, name string, port int) (string, error)
	ExecInPod(ctx context.Context, namespace string, selector map[string]string, argv []string) (ExecResult, error)
	GetPodStatus(ctx context.Context, namespace string, selector map[string]string) ([]PodStatus, error)
}

// wrapOrchestratorError classifies any non-nil client-go error into the
// taxonomy's OrchestratorError kind. It does not filter benign "already
// exists"/"not found" races; callers check for those (isAlreadyExists,
// isNotFound) before wrapping.
func wrapOrchestratorError(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperr.Wrap(apperr.OrchestratorError, op, err)
}

func isNotFound(err error) bool       { return apierrors.IsNotFound(err) }
func isAlreadyExists(err error) bool { return apierrors.IsAlreadyExists(err) }
