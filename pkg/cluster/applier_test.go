package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

func deploymentRef() models.WorkloadRef {
	return models.WorkloadRef{
		Cluster:   "prod-cluster",
		Location:  "us-central1",
		Namespace: "payments",
		Kind:      models.KindDeployment,
		Name:      "checkout",
		Container: "checkout",
	}
}

func testDeployment(cpuRequest, memRequest, cpuLimit, memLimit string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:            "checkout",
			Namespace:       "payments",
			ResourceVersion: "1000",
		},
		Spec: appsv1.DeploymentSpec{
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name: "checkout",
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse(cpuRequest),
									corev1.ResourceMemory: resource.MustParse(memRequest),
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse(cpuLimit),
									corev1.ResourceMemory: resource.MustParse(memLimit),
								},
							},
						},
					},
				},
			},
		},
	}
}

func basisSpec() models.ResourceSpec {
	return models.ResourceSpec{
		Request: models.Resources{CPUMillis: 400, MemoryBytes: 1024 * models.MiB},
		Limit:   &models.Resources{CPUMillis: 800, MemoryBytes: 2048 * models.MiB},
	}
}

func proposedSpec() models.ResourceSpec {
	return models.ResourceSpec{
		Request: models.Resources{CPUMillis: 120, MemoryBytes: 360 * models.MiB},
		Limit:   &models.Resources{CPUMillis: 240, MemoryBytes: 720 * models.MiB},
	}
}

func TestReadSpec(t *testing.T) {
	client := NewWithClientset(fake.NewSimpleClientset(
		testDeployment("400m", "1Gi", "800m", "2Gi"),
	))

	spec, err := client.ReadSpec(context.Background(), deploymentRef())
	require.NoError(t, err)
	assert.Equal(t, basisSpec(), spec)
}

func TestReadSpecUnboundedContainer(t *testing.T) {
	dep := testDeployment("400m", "1Gi", "800m", "2Gi")
	dep.Spec.Template.Spec.Containers[0].Resources.Limits = nil
	client := NewWithClientset(fake.NewSimpleClientset(dep))

	spec, err := client.ReadSpec(context.Background(), deploymentRef())
	require.NoError(t, err)
	assert.Nil(t, spec.Limit)
	assert.Equal(t, int64(400), spec.Request.CPUMillis)
}

func TestReadSpecMissingWorkload(t *testing.T) {
	client := NewWithClientset(fake.NewSimpleClientset())
	_, err := client.ReadSpec(context.Background(), deploymentRef())
	require.ErrorIs(t, err, models.ErrInvalidSpec)
}

func TestReadSpecMissingContainer(t *testing.T) {
	client := NewWithClientset(fake.NewSimpleClientset(
		testDeployment("400m", "1Gi", "800m", "2Gi"),
	))
	ref := deploymentRef()
	ref.Container = "sidecar"
	_, err := client.ReadSpec(context.Background(), ref)
	require.ErrorIs(t, err, models.ErrInvalidSpec)
}

func TestReadSpecStatefulSet(t *testing.T) {
	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "kafka", Namespace: "streaming"},
		Spec: appsv1.StatefulSetSpec{
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name: "kafka",
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse("2"),
									corev1.ResourceMemory: resource.MustParse("4Gi"),
								},
							},
						},
					},
				},
			},
		},
	}
	client := NewWithClientset(fake.NewSimpleClientset(sts))

	ref := models.WorkloadRef{
		Namespace: "streaming", Kind: models.KindStatefulSet,
		Name: "kafka", Container: "kafka",
	}
	spec, err := client.ReadSpec(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), spec.Request.CPUMillis)
	assert.Equal(t, 4*models.GiB, spec.Request.MemoryBytes)
}

func TestApplyPatchesDeployment(t *testing.T) {
	clientset := fake.NewSimpleClientset(testDeployment("400m", "1Gi", "800m", "2Gi"))
	client := NewWithClientset(clientset)

	err := client.Apply(context.Background(), deploymentRef(), basisSpec(), proposedSpec())
	require.NoError(t, err)

	dep, err := clientset.AppsV1().Deployments("payments").Get(context.Background(), "checkout", metav1.GetOptions{})
	require.NoError(t, err)
	resources := dep.Spec.Template.Spec.Containers[0].Resources
	assert.Equal(t, int64(120), resources.Requests.Cpu().MilliValue())
	assert.Equal(t, 360*models.MiB, resources.Requests.Memory().Value())
	assert.Equal(t, int64(240), resources.Limits.Cpu().MilliValue())
	assert.Equal(t, 720*models.MiB, resources.Limits.Memory().Value())
}

func TestApplyDetectsDriftedBasis(t *testing.T) {
	// live values differ from what the recommendation was computed against
	clientset := fake.NewSimpleClientset(testDeployment("600m", "1Gi", "800m", "2Gi"))
	client := NewWithClientset(clientset)

	err := client.Apply(context.Background(), deploymentRef(), basisSpec(), proposedSpec())
	require.ErrorIs(t, err, models.ErrConcurrentModification)

	// nothing was written
	dep, err := clientset.AppsV1().Deployments("payments").Get(context.Background(), "checkout", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(600), dep.Spec.Template.Spec.Containers[0].Resources.Requests.Cpu().MilliValue())
}

func TestApplyConflictIsNotRetried(t *testing.T) {
	clientset := fake.NewSimpleClientset(testDeployment("400m", "1Gi", "800m", "2Gi"))

	patches := 0
	clientset.PrependReactor("patch", "deployments", func(k8stesting.Action) (bool, runtime.Object, error) {
		patches++
		gr := schema.GroupResource{Group: "apps", Resource: "deployments"}
		return true, nil, apierrors.NewConflict(gr, "checkout", nil)
	})
	client := NewWithClientset(clientset)

	err := client.Apply(context.Background(), deploymentRef(), basisSpec(), proposedSpec())
	require.ErrorIs(t, err, models.ErrConcurrentModification)
	assert.Equal(t, 1, patches, "a version conflict must surface immediately, not retry")
}

func TestApplyRetriesTransientFailures(t *testing.T) {
	clientset := fake.NewSimpleClientset(testDeployment("400m", "1Gi", "800m", "2Gi"))

	patches := 0
	clientset.PrependReactor("patch", "deployments", func(k8stesting.Action) (bool, runtime.Object, error) {
		patches++
		gr := schema.GroupResource{Group: "apps", Resource: "deployments"}
		return true, nil, apierrors.NewServerTimeout(gr, "patch", 1)
	})
	client := NewWithClientset(clientset)

	err := client.Apply(context.Background(), deploymentRef(), basisSpec(), proposedSpec())
	require.ErrorIs(t, err, models.ErrTransient)
	assert.Equal(t, 3, patches, "transient failures retry up to the backoff budget")
}

func TestApplyTransientThenSuccess(t *testing.T) {
	clientset := fake.NewSimpleClientset(testDeployment("400m", "1Gi", "800m", "2Gi"))

	patches := 0
	clientset.PrependReactor("patch", "deployments", func(k8stesting.Action) (bool, runtime.Object, error) {
		patches++
		if patches == 1 {
			gr := schema.GroupResource{Group: "apps", Resource: "deployments"}
			return true, nil, apierrors.NewServerTimeout(gr, "patch", 1)
		}
		return false, nil, nil
	})
	client := NewWithClientset(clientset)

	err := client.Apply(context.Background(), deploymentRef(), basisSpec(), proposedSpec())
	require.NoError(t, err)
	assert.Equal(t, 2, patches)
}

func TestApplyRejectsInvalidProposal(t *testing.T) {
	client := NewWithClientset(fake.NewSimpleClientset())
	err := client.Apply(context.Background(), deploymentRef(), basisSpec(), models.ResourceSpec{})
	require.ErrorIs(t, err, models.ErrInvalidSpec)
}
