package cluster

import (
	"fmt"
	"path/filepath"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// Client talks to the cluster API. It reads workload resource specs and
// applies minimal patches with an optimistic concurrency check.
type Client struct {
	kube       kubernetes.Interface
	restConfig *rest.Config
}

// New builds a client from in-cluster config when available, falling back to
// the local kubeconfig with an optional context override.
func New(kubeContext string) (*Client, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		var kubeconfig string
		if home := homedir.HomeDir(); home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
		cfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfig},
			&clientcmd.ConfigOverrides{CurrentContext: kubeContext},
		).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build cluster config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Client{kube: clientset, restConfig: cfg}, nil
}

// NewWithClientset wraps an existing clientset, used by tests.
func NewWithClientset(clientset kubernetes.Interface) *Client {
	return &Client{kube: clientset}
}

// RestConfig exposes the underlying rest config for sibling clients
// (metrics-server). Nil when constructed from a bare clientset.
func (c *Client) RestConfig() *rest.Config {
	return c.restConfig
}

// specFromContainer converts the container's live requirements into the
// engine's typed spec. A missing limit maps to the unbounded state.
func specFromContainer(container corev1.Container) models.ResourceSpec {
	spec := models.ResourceSpec{
		Request: models.Resources{
			CPUMillis:   container.Resources.Requests.Cpu().MilliValue(),
			MemoryBytes: container.Resources.Requests.Memory().Value(),
		},
	}
	if len(container.Resources.Limits) > 0 {
		spec.Limit = &models.Resources{
			CPUMillis:   container.Resources.Limits.Cpu().MilliValue(),
			MemoryBytes: container.Resources.Limits.Memory().Value(),
		}
	}
	return spec
}

// findContainer locates the referenced container in the pod template.
func findContainer(containers []corev1.Container, name string) (corev1.Container, error) {
	for _, c := range containers {
		if c.Name == name {
			return c, nil
		}
	}
	return corev1.Container{}, fmt.Errorf("%w: container %q not found in pod template", models.ErrInvalidSpec, name)
}
