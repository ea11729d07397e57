package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// transientBackoff bounds retries of network-level failures against the
// cluster API. Concurrency conflicts are never retried.
var transientBackoff = wait.Backoff{
	Steps:    3,
	Duration: 200 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

// ReadSpec returns the referenced container's current resource spec.
func (c *Client) ReadSpec(ctx context.Context, ref models.WorkloadRef) (models.ResourceSpec, error) {
	containers, _, err := c.readLive(ctx, ref)
	if err != nil {
		return models.ResourceSpec{}, err
	}
	container, err := findContainer(containers, ref.Container)
	if err != nil {
		return models.ResourceSpec{}, err
	}
	return specFromContainer(container), nil
}

// Apply patches the referenced container's resources to the proposed spec.
// It re-reads the live object, verifies the container still exists and its
// values still match the basis the recommendation was computed against, then
// patches with the observed resourceVersion so a concurrent writer surfaces
// as models.ErrConcurrentModification, never an overwrite. Transient errors
// are retried with bounded exponential backoff; everything else is fatal to
// this attempt.
func (c *Client) Apply(ctx context.Context, ref models.WorkloadRef, basis, proposed models.ResourceSpec) error {
	if err := proposed.Validate(); err != nil {
		return err
	}

	attempt := func() error {
		containers, version, err := c.readLive(ctx, ref)
		if err != nil {
			return err
		}
		container, err := findContainer(containers, ref.Container)
		if err != nil {
			return err
		}

		live := specFromContainer(container)
		if !live.Equal(basis) {
			return fmt.Errorf("%w: live spec (%s) no longer matches the recommendation basis (%s)",
				models.ErrConcurrentModification, live, basis)
		}

		patch, err := resourcePatch(version, ref.Container, proposed)
		if err != nil {
			return err
		}

		if err := c.patchWorkload(ctx, ref, patch); err != nil {
			if apierrors.IsConflict(err) {
				return fmt.Errorf("%w: %v", models.ErrConcurrentModification, err)
			}
			return err
		}

		slog.Info("applied resource patch", "workload", ref.String(), "proposed", proposed.String())
		return nil
	}

	err := retry.OnError(transientBackoff, isTransient, attempt)
	if err != nil && isTransient(err) {
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return err
}

// readLive fetches the pod template containers and the resource version
// token of the owning workload object.
func (c *Client) readLive(ctx context.Context, ref models.WorkloadRef) ([]corev1.Container, string, error) {
	switch ref.Kind {
	case models.KindStatefulSet:
		sts, err := c.kube.AppsV1().StatefulSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return nil, "", readError(ref, err)
		}
		return sts.Spec.Template.Spec.Containers, sts.ResourceVersion, nil
	default:
		dep, err := c.kube.AppsV1().Deployments(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if err != nil {
			return nil, "", readError(ref, err)
		}
		return dep.Spec.Template.Spec.Containers, dep.ResourceVersion, nil
	}
}

func (c *Client) patchWorkload(ctx context.Context, ref models.WorkloadRef, patch []byte) error {
	var err error
	switch ref.Kind {
	case models.KindStatefulSet:
		_, err = c.kube.AppsV1().StatefulSets(ref.Namespace).Patch(
			ctx, ref.Name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	default:
		_, err = c.kube.AppsV1().Deployments(ref.Namespace).Patch(
			ctx, ref.Name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	}
	return err
}

func readError(ref models.WorkloadRef, err error) error {
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("%w: %s %s does not exist", models.ErrInvalidSpec, ref.Kind, ref)
	}
	return fmt.Errorf("reading %s: %w", ref, err)
}

// resourcePatch builds the minimal strategic-merge patch for one container,
// pinned to the expected resource version.
func resourcePatch(resourceVersion, containerName string, spec models.ResourceSpec) ([]byte, error) {
	requirements := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    *resource.NewMilliQuantity(spec.Request.CPUMillis, resource.DecimalSI),
			corev1.ResourceMemory: *resource.NewQuantity(spec.Request.MemoryBytes, resource.BinarySI),
		},
	}
	if spec.Limit != nil {
		requirements.Limits = corev1.ResourceList{
			corev1.ResourceCPU:    *resource.NewMilliQuantity(spec.Limit.CPUMillis, resource.DecimalSI),
			corev1.ResourceMemory: *resource.NewQuantity(spec.Limit.MemoryBytes, resource.BinarySI),
		}
	}

	patch := map[string]any{
		"metadata": map[string]any{
			"resourceVersion": resourceVersion,
		},
		"spec": map[string]any{
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []map[string]any{
						{
							"name":      containerName,
							"resources": requirements,
						},
					},
				},
			},
		},
	}

	data, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("marshaling patch: %w", err)
	}
	return data, nil
}

// isTransient reports whether the error is a retryable network-level
// failure against the cluster API.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) || apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
