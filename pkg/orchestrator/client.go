package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	netv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/agentctl/controlplane/internal/apperr"
)

// client is the client-go backed Client implementation.
type client struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
}

// NewClient builds an orchestrator Client from a kubeconfig path. An empty
// path resolves in-cluster configuration first, falling back to the
// default kubeconfig loading rules. It queries the API server's version
// once, so an unreachable cluster is reported as an error here.
func NewClient(kubeconfigPath string) (Client, error) {
	restConfig, err := buildRestConfig(kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes rest config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes clientset: %w", err)
	}

	if _, err := clientset.Discovery().ServerVersion(); err != nil {
		return nil, fmt.Errorf("reaching kubernetes API server: %w", err)
	}

	return &client{clientset: clientset, restConfig: restConfig}, nil
}

func buildRestConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfigPath != "" {
		loadingRules.ExplicitPath = kubeconfigPath
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

func (c *client) EnsureNamespace(ctx context.Context, ns *corev1.Namespace, quota *corev1.ResourceQuota) error {
	_, err := c.clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err != nil && !isAlreadyExists(err) {
		return wrapOrchestratorError("ensure_namespace", err)
	}
	if err == nil {
		// freshly created; nothing to reconcile.
	} else {
		existing, getErr := c.clientset.CoreV1().Namespaces().Get(ctx, ns.Name, metav1.GetOptions{})
		if getErr != nil {
			return wrapOrchestratorError("ensure_namespace", getErr)
		}
		if !labelsMatch(existing.Labels, ns.Labels) {
			existing.Labels = mergeLabels(existing.Labels, ns.Labels)
			if _, updErr := c.clientset.CoreV1().Namespaces().Update(ctx, existing, metav1.UpdateOptions{}); updErr != nil {
				return wrapOrchestratorError("ensure_namespace", updErr)
			}
		}
	}

	if quota == nil {
		return nil
	}
	_, err = c.clientset.CoreV1().ResourceQuotas(ns.Name).Create(ctx, quota, metav1.CreateOptions{})
	if err != nil {
		if isAlreadyExists(err) {
			_, updErr := c.clientset.CoreV1().ResourceQuotas(ns.Name).Update(ctx, quota, metav1.UpdateOptions{})
			if updErr != nil {
				return wrapOrchestratorError("ensure_namespace_quota", updErr)
			}
			return nil
		}
		return wrapOrchestratorError("ensure_namespace_quota", err)
	}
	return nil
}

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func mergeLabels(have, want map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range have {
		out[k] = v
	}
	for k, v := range want {
		out[k] = v
	}
	return out
}

func (c *client) ApplyConfigMap(ctx context.Context, cm *corev1.ConfigMap) error {
	api := c.clientset.CoreV1().ConfigMaps(cm.Namespace)
	_, err := api.Create(ctx, cm, metav1.CreateOptions{})
	if isAlreadyExists(err) {
		_, err = api.Update(ctx, cm, metav1.UpdateOptions{})
	}
	return wrapOrchestratorError("apply_config_map", err)
}

func (c *client) ApplySecret(ctx context.Context, secret *corev1.Secret) error {
	api := c.clientset.CoreV1().Secrets(secret.Namespace)
	_, err := api.Create(ctx, secret, metav1.CreateOptions{})
	if isAlreadyExists(err) {
		_, err = api.Update(ctx, secret, metav1.UpdateOptions{})
	}
	return wrapOrchestratorError("apply_secret", err)
}

func (c *client) ApplyService(ctx context.Context, svc *corev1.Service) error {
	api := c.clientset.CoreV1().Services(svc.Namespace)
	existing, getErr := api.Get(ctx, svc.Name, metav1.GetOptions{})
	if getErr == nil {
		svc.ResourceVersion = existing.ResourceVersion
		svc.Spec.ClusterIP = existing.Spec.ClusterIP
		_, err := api.Update(ctx, svc, metav1.UpdateOptions{})
		return wrapOrchestratorError("apply_service", err)
	}
	if !isNotFound(getErr) {
		return wrapOrchestratorError("apply_service", getErr)
	}
	_, err := api.Create(ctx, svc, metav1.CreateOptions{})
	if isAlreadyExists(err) {
		return nil
	}
	return wrapOrchestratorError("apply_service", err)
}

func (c *client) ApplyIngress(ctx context.Context, ing *netv1.Ingress) error {
	api := c.clientset.NetworkingV1().Ingresses(ing.Namespace)
	_, err := api.Create(ctx, ing, metav1.CreateOptions{})
	if isAlreadyExists(err) {
		_, err = api.Update(ctx, ing, metav1.UpdateOptions{})
	}
	return wrapOrchestratorError("apply_ingress", err)
}

func (c *client) ApplyDeployment(ctx context.Context, dep *appsv1.Deployment) error {
	api := c.clientset.AppsV1().Deployments(dep.Namespace)
	_, err := api.Create(ctx, dep, metav1.CreateOptions{})
	if isAlreadyExists(err) {
		_, err = api.Update(ctx, dep, metav1.UpdateOptions{})
	}
	return wrapOrchestratorError("apply_deployment", err)
}

func (c *client) ScaleDeployment(ctx context.Context, namespace, name string, replicas int32) error {
	api := c.clientset.AppsV1().Deployments(namespace)
	scale, err := api.GetScale(ctx, name, metav1.GetOptions{})
	if err != nil {
		return wrapOrchestratorError("scale_deployment", err)
	}
	scale.Spec.Replicas = replicas
	_, err = api.UpdateScale(ctx, name, scale, metav1.UpdateOptions{})
	return wrapOrchestratorError("scale_deployment", err)
}

func (c *client) PatchDeploymentRestartAnnotation(ctx context.Context, namespace, name, annotationValue string) error {
	patch := map[string]any{
		"spec": map[string]any{
			"template": map[string]any{
				"metadata": map[string]any{
					"annotations": map[string]string{
						"agentctl.io/restarted-at": annotationValue,
					},
				},
			},
		},
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshaling restart patch: %w", err)
	}
	_, err = c.clientset.AppsV1().Deployments(namespace).Patch(ctx, name, types.StrategicMergePatchType, body, metav1.PatchOptions{})
	return wrapOrchestratorError("restart_deployment", err)
}

// DeleteNamespaced is best-effort: absence of the object is not an error.
func (c *client) DeleteNamespaced(ctx context.Context, kind, namespace, name string) error {
	var err error
	switch kind {
	case "ingress":
		err = c.clientset.NetworkingV1().Ingresses(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case "service":
		err = c.clientset.CoreV1().Services(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case "deployment":
		err = c.clientset.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case "secret":
		err = c.clientset.CoreV1().Secrets(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case "configmap":
		err = c.clientset.CoreV1().ConfigMaps(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	default:
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown resource kind %q", kind))
	}
	if err != nil && !isNotFound(err) {
		return wrapOrchestratorError("delete_"+kind, err)
	}
	return nil
}

func (c *client) ReadServiceEndpoint(ctx context.Context, namespace, name string, port int) (string, error) {
	svc, err := c.clientset.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", wrapOrchestratorError("read_service_endpoint", err)
	}

	if svc.Spec.Type == corev1.ServiceTypeLoadBalancer {
		for _, ing := range svc.Status.LoadBalancer.Ingress {
			host := ing.IP
			if host == "" {
				host = ing.Hostname
			}
			if host != "" {
				return fmt.Sprintf("%s:%d", host, port), nil
			}
		}
		return "", apperr.New(apperr.OrchestratorError, "load balancer has no external address yet")
	}

	return fmt.Sprintf("%s.%s.svc.cluster.local:%d", name, namespace, port), nil
}

func (c *client) ExecInPod(ctx context.Context, namespace string, selector map[string]string, argv []string) (ExecResult, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(selector).String(),
	})
	if err != nil {
		return ExecResult{}, wrapOrchestratorError("exec_in_pod", err)
	}
	var target *corev1.Pod
	for i := range pods.Items {
		if pods.Items[i].Status.Phase == corev1.PodRunning {
			target = &pods.Items[i]
			break
		}
	}
	if target == nil {
		return ExecResult{}, apperr.New(apperr.OrchestratorError, "no running pod matches selector")
	}

	req := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(target.Name).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: argv,
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(c.restConfig, http.MethodPost, req.URL())
	if err != nil {
		return ExecResult{}, fmt.Errorf("creating exec executor: %w", err)
	}

	var stdout, stderr bytes.Buffer
	streamErr := exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})

	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if streamErr == nil {
		return result, nil
	}

	if code := exitCodeFromError(streamErr); code >= 0 {
		result.ExitCode = code
		return result, nil
	}
	return result, wrapOrchestratorError("exec_in_pod", streamErr)
}

// exitCodeFromError extracts a process exit code from a remotecommand
// stream error, or -1 when the failure was transport-level rather than the
// command's own non-zero exit.
func exitCodeFromError(err error) int {
	type exitCoder interface{ ExitStatus() int }
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitStatus()
	}
	return -1
}

func (c *client) GetPodStatus(ctx context.Context, namespace string, selector map[string]string) ([]PodStatus, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(selector).String(),
	})
	if err != nil {
		return nil, wrapOrchestratorError("get_pod_status", err)
	}

	out := make([]PodStatus, 0, len(pods.Items))
	for _, pod := range pods.Items {
		ready := false
		reason := ""
		for _, cond := range pod.Status.Conditions {
			if cond.Type == corev1.PodReady {
				ready = cond.Status == corev1.ConditionTrue
				reason = cond.Reason
			}
		}
		out = append(out, PodStatus{
			Name:   pod.Name,
			Phase:  pod.Status.Phase,
			Ready:  ready,
			Reason: reason,
		})
	}
	return out, nil
}
