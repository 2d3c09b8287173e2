package renderer

import (
	"testing"

	"github.com/agentctl/controlplane/pkg/store"
)

func testConfig() Config {
	return Config{
		BaseDomain:         "agents.example.internal",
		IngressClass:       "nginx",
		EnableIngress:      true,
		AgentImage:         "ghcr.io/agentctl/agent-runtime:latest",
		AgentContainerPort: 8000,
		AgentHealthPath:    "/healthz",
	}
}

func TestNamingHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"namespace", NamespaceName("u1"), "user-u1"},
		{"configmap", ConfigMapName("p1"), "proj-p1-env"},
		{"secret", SecretName("p1"), "proj-p1-secrets"},
		{"deployment", DeploymentName("p1"), "proj-p1-api"},
		{"service", ServiceName("p1"), "proj-p1-api"},
		{"ingress", IngressName("p1"), "proj-p1-api"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestIngressHost(t *testing.T) {
	got := IngressHost("p1", "u1", testConfig().BaseDomain)
	want := "p1-u1.agents.example.internal"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSelectorLabels(t *testing.T) {
	sel := SelectorLabels("p1")
	if sel["app"] != "proj-p1-api" {
		t.Errorf("expected selector app=proj-p1-api, got %v", sel)
	}
}

func TestRenderDeterministic(t *testing.T) {
	cfg := testConfig()
	user := store.User{ID: "u1"}
	project := store.Project{ID: "p1", UserID: "u1"}
	env := ResolvedEnv{Settings: map[string]string{"model": "claude-sonnet"}}

	first := Render(cfg, user, project, env, 1)
	second := Render(cfg, user, project, env, 1)

	if first.Deployment.Name != second.Deployment.Name {
		t.Fatalf("deployment name not stable: %q vs %q", first.Deployment.Name, second.Deployment.Name)
	}
	if first.Namespace.Name != "user-u1" {
		t.Errorf("expected namespace user-u1, got %q", first.Namespace.Name)
	}
	if first.Ingress == nil {
		t.Fatal("expected ingress when EnableIngress is true")
	}
	if first.Ingress.Spec.Rules[0].Host != "p1-u1.agents.example.internal" {
		t.Errorf("unexpected ingress host %q", first.Ingress.Spec.Rules[0].Host)
	}
}

func TestRenderNoIngressWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableIngress = false
	user := store.User{ID: "u1"}
	project := store.Project{ID: "p1", UserID: "u1"}

	bundle := Render(cfg, user, project, ResolvedEnv{}, 1)
	if bundle.Ingress != nil {
		t.Error("expected no ingress when EnableIngress is false")
	}
}

func TestRenderConfigMapStableAcrossRenders(t *testing.T) {
	cfg := testConfig()
	user := store.User{ID: "u1"}
	project := store.Project{ID: "p1", UserID: "u1"}
	env := ResolvedEnv{Settings: map[string]string{
		"temperature": "0.2",
		"max_turns":   "25",
		"model":       "claude-sonnet",
	}}

	first := Render(cfg, user, project, env, 1)
	second := Render(cfg, user, project, env, 1)

	if len(first.ConfigMap.Data) != len(second.ConfigMap.Data) {
		t.Fatal("config map data size differs between renders")
	}
	for k, v := range first.ConfigMap.Data {
		if second.ConfigMap.Data[k] != v {
			t.Errorf("config map entry %q differs across renders: %q vs %q", k, v, second.ConfigMap.Data[k])
		}
	}
}
