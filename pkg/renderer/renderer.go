// Package renderer is the resource renderer (C3): a pure function from a
// user, a project, and its resolved environment to the set of Kubernetes
// object specifications backing that project's workload. It owns the
// naming scheme — every other component computes object names by calling
// exported helpers here rather than formatting strings itself.
package renderer

import (
	"fmt"
	"sort"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	netv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/agentctl/controlplane/pkg/store"
)

// Config supplies the cluster-wide knobs the renderer needs beyond the
// (user, project) pair: base domain, agent image, ingress settings. These
// come from internal/config and are constant across a single run.
type Config struct {
	BaseDomain         string
	IngressClass       string
	IngressTLSSecret   string
	EnableIngress      bool
	AgentImage         string
	AgentContainerPort int
	AgentHealthPath    string
}

// ResolvedEnv is the output of environment resolution (§4.4.1): the
// credentials and settings that flow into the config map (non-secret) and
// the secret (credentials), plus the canonical source of the Git token.
type ResolvedEnv struct {
	GithubToken     string
	GithubKeySource store.GithubKeySource
	WorkspaceAPIKey string
	Settings        map[string]string // setting key -> resolved value (explicit ?? default)
	ExtensionsBlob  string            // canonical serialization of enabled extensions
}

// ResourceBundle is the full set of object specs for one project.
type ResourceBundle struct {
	Namespace  *corev1.Namespace
	ConfigMap  *corev1.ConfigMap
	Secret     *corev1.Secret
	Deployment *appsv1.Deployment
	Service    *corev1.Service
	Ingress    *netv1.Ingress // nil when ingress is disabled
}

// NamespaceName returns the shared namespace name for a user's projects.
func NamespaceName(userID string) string { return fmt.Sprintf("user-%s", userID) }

// ConfigMapName returns the project's config map name.
func ConfigMapName(projectID string) string { return fmt.Sprintf("proj-%s-env", projectID) }

// SecretName returns the project's secret name.
func SecretName(projectID string) string { return fmt.Sprintf("proj-%s-secrets", projectID) }

// DeploymentName returns the project's deployment name.
func DeploymentName(projectID string) string { return fmt.Sprintf("proj-%s-api", projectID) }

// ServiceName returns the project's service name (same as deployment, per §6).
func ServiceName(projectID string) string { return fmt.Sprintf("proj-%s-api", projectID) }

// IngressName returns the project's ingress name.
func IngressName(projectID string) string { return fmt.Sprintf("proj-%s-api", projectID) }

// IngressHost returns the externally routable hostname for a project.
func IngressHost(projectID, userID, baseDomain string) string {
	return fmt.Sprintf("%s-%s.%s", projectID, userID, baseDomain)
}

// ServicePort is the port the ClusterIP Service listens on and forwards to
// the container's AgentContainerPort. Every in-cluster caller (the
// readiness probe, the agent proxy) reaches the workload through the
// service, never the container port directly, so this is the one port
// number they all share.
const ServicePort = 80

// SelectorLabels returns the pod label selector for a project's deployment.
func SelectorLabels(projectID string) map[string]string {
	return map[string]string{"app": DeploymentName(projectID)}
}

const (
	envProjectID = "PROJECT_ID"
	envUserID    = "USER_ID"
)

var resourceProfile = struct {
	cpuRequest, cpuLimit, memRequest, memLimit string
}{
	cpuRequest: "100m",
	cpuLimit:   "1",
	memRequest: "256Mi",
	memLimit:   "1Gi",
}

// Render is the pure function described in §4.3: same inputs always
// produce byte-identical specifications. desiredReplicas is 1 when the
// caller wants the pod running (activating/active), 0 otherwise.
func Render(cfg Config, user store.User, project store.Project, env ResolvedEnv, desiredReplicas int32) ResourceBundle {
	ns := renderNamespace(user.ID)
	cm := renderConfigMap(project, env)
	secret := renderSecret(cfg, project, env)
	dep := renderDeployment(cfg, user, project, desiredReplicas)
	svc := renderService(cfg, project)

	var ing *netv1.Ingress
	if cfg.EnableIngress {
		ing = renderIngress(cfg, user, project)
	}

	return ResourceBundle{
		Namespace:  ns,
		ConfigMap:  cm,
		Secret:     secret,
		Deployment: dep,
		Service:    svc,
		Ingress:    ing,
	}
}

func renderNamespace(userID string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   NamespaceName(userID),
			Labels: map[string]string{"role": "project-workload"},
		},
	}
}

// ResourceQuota returns the namespace's fixed resource quota spec, applied
// by ensure_namespace alongside the namespace itself.
func ResourceQuota(userID string) *corev1.ResourceQuota {
	return &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "project-workload-quota",
			Namespace: NamespaceName(userID),
		},
		Spec: corev1.ResourceQuotaSpec{
			Hard: corev1.ResourceList{
				corev1.ResourcePods: resource.MustParse("20"),
			},
		},
	}
}

func renderConfigMap(project store.Project, env ResolvedEnv) *corev1.ConfigMap {
	data := map[string]string{
		envProjectID: project.ID,
		envUserID:    project.UserID,
	}

	keys := make([]string, 0, len(env.Settings))
	for k := range env.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data[settingEnvName(k)] = env.Settings[k]
	}

	if env.ExtensionsBlob != "" {
		data["AGENT_EXTENSIONS"] = env.ExtensionsBlob
	}

	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ConfigMapName(project.ID),
			Namespace: NamespaceName(project.UserID),
		},
		Data: data,
	}
}

// settingEnvName converts a recognized setting key to its environment
// variable name, per "one variable per recognized setting" (§6).
func settingEnvName(key string) string {
	return "AGENT_SETTING_" + strings.ToUpper(key)
}

func renderSecret(cfg Config, project store.Project, env ResolvedEnv) *corev1.Secret {
	data := map[string][]byte{}
	if env.GithubToken != "" {
		data["GIT_TOKEN"] = []byte(env.GithubToken)
	}
	if env.WorkspaceAPIKey != "" {
		data["WORKSPACE_API_KEY"] = []byte(env.WorkspaceAPIKey)
	}

	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      SecretName(project.ID),
			Namespace: NamespaceName(project.UserID),
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}
}

func renderDeployment(cfg Config, user store.User, project store.Project, replicas int32) *appsv1.Deployment {
	labels := SelectorLabels(project.ID)
	nonRoot := true
	runAsUser := int64(1000)

	container := corev1.Container{
		Name:  "agent",
		Image: cfg.AgentImage,
		Ports: []corev1.ContainerPort{
			{Name: "http", ContainerPort: int32(cfg.AgentContainerPort), Protocol: corev1.ProtocolTCP},
		},
		EnvFrom: []corev1.EnvFromSource{
			{ConfigMapRef: &corev1.ConfigMapEnvSource{LocalObjectReference: corev1.LocalObjectReference{Name: ConfigMapName(project.ID)}}},
			{SecretRef: &corev1.SecretEnvSource{LocalObjectReference: corev1.LocalObjectReference{Name: SecretName(project.ID)}}},
		},
		Resources: corev1.ResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(resourceProfile.cpuRequest),
				corev1.ResourceMemory: resource.MustParse(resourceProfile.memRequest),
			},
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(resourceProfile.cpuLimit),
				corev1.ResourceMemory: resource.MustParse(resourceProfile.memLimit),
			},
		},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: cfg.AgentHealthPath,
					Port: intstr.FromInt(cfg.AgentContainerPort),
				},
			},
			InitialDelaySeconds: 10,
			PeriodSeconds:       5,
		},
		LivenessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: cfg.AgentHealthPath,
					Port: intstr.FromInt(cfg.AgentContainerPort),
				},
			},
			InitialDelaySeconds: 30,
			PeriodSeconds:       10,
		},
		SecurityContext: &corev1.SecurityContext{
			RunAsNonRoot: &nonRoot,
			RunAsUser:    &runAsUser,
		},
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      DeploymentName(project.ID),
			Namespace: NamespaceName(project.UserID),
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
				},
			},
		},
	}
}

func renderService(cfg Config, project store.Project) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ServiceName(project.ID),
			Namespace: NamespaceName(project.UserID),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: SelectorLabels(project.ID),
			Ports: []corev1.ServicePort{
				{
					Port:       ServicePort,
					TargetPort: intstr.FromInt(cfg.AgentContainerPort),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}

func renderIngress(cfg Config, user store.User, project store.Project) *netv1.Ingress {
	pathType := netv1.PathTypePrefix
	host := IngressHost(project.ID, user.ID, cfg.BaseDomain)

	var tls []netv1.IngressTLS
	if cfg.IngressTLSSecret != "" {
		tls = []netv1.IngressTLS{{Hosts: []string{host}, SecretName: cfg.IngressTLSSecret}}
	}

	return &netv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      IngressName(project.ID),
			Namespace: NamespaceName(user.ID),
		},
		Spec: netv1.IngressSpec{
			IngressClassName: &cfg.IngressClass,
			TLS:              tls,
			Rules: []netv1.IngressRule{
				{
					Host: host,
					IngressRuleValue: netv1.IngressRuleValue{
						HTTP: &netv1.HTTPIngressRuleValue{
							Paths: []netv1.HTTPIngressPath{
								{
									Path:     "/",
									PathType: &pathType,
									Backend: netv1.IngressBackend{
										Service: &netv1.IngressServiceBackend{
											Name: ServiceName(project.ID),
											Port: netv1.ServiceBackendPort{Number: 80},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

// RestartAnnotation returns the pod-template annotation key patched by the
// rolling-restart path (§4.4.4).
const RestartAnnotation = "agentctl.io/restarted-at"

// ApplyRestartAnnotation stamps the deployment's pod template with the
// given RFC3339 timestamp so the cluster's deployment controller rolls the
// pods under its normal strategy.
func ApplyRestartAnnotation(dep *appsv1.Deployment, rfc3339 string) {
	if dep.Spec.Template.Annotations == nil {
		dep.Spec.Template.Annotations = map[string]string{}
	}
	dep.Spec.Template.Annotations[RestartAnnotation] = rfc3339
}
