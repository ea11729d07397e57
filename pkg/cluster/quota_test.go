package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/opscart/k8s-rightsizer/pkg/models"
	"github.com/opscart/k8s-rightsizer/pkg/validator"
)

func namespaceQuota(name, ns string, hard corev1.ResourceList) *corev1.ResourceQuota {
	return &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec:       corev1.ResourceQuotaSpec{Hard: hard},
	}
}

func TestQuotaFallsBackToDefaults(t *testing.T) {
	client := NewWithClientset(fake.NewSimpleClientset())
	source := NewQuotaSource(client, validator.Quota{
		CPUCeilingMillis:   16000,
		MemoryCeilingBytes: 64 * models.GiB,
	})

	quota, err := source.Quota(context.Background(), deploymentRef())
	require.NoError(t, err)
	assert.Equal(t, int64(16000), quota.CPUCeilingMillis)
	assert.Equal(t, 64*models.GiB, quota.MemoryCeilingBytes)
}

func TestQuotaNamespaceLimitWinsWhenTighter(t *testing.T) {
	client := NewWithClientset(fake.NewSimpleClientset(
		namespaceQuota("compute", "payments", corev1.ResourceList{
			corev1.ResourceRequestsCPU:    resource.MustParse("2"),
			corev1.ResourceRequestsMemory: resource.MustParse("4Gi"),
		}),
	))
	source := NewQuotaSource(client, validator.Quota{
		CPUCeilingMillis:   16000,
		MemoryCeilingBytes: 64 * models.GiB,
	})

	quota, err := source.Quota(context.Background(), deploymentRef())
	require.NoError(t, err)
	assert.Equal(t, int64(2000), quota.CPUCeilingMillis)
	assert.Equal(t, 4*models.GiB, quota.MemoryCeilingBytes)
}

func TestQuotaDefaultWinsWhenTighter(t *testing.T) {
	client := NewWithClientset(fake.NewSimpleClientset(
		namespaceQuota("compute", "payments", corev1.ResourceList{
			corev1.ResourceRequestsCPU: resource.MustParse("32"),
		}),
	))
	source := NewQuotaSource(client, validator.Quota{CPUCeilingMillis: 4000})

	quota, err := source.Quota(context.Background(), deploymentRef())
	require.NoError(t, err)
	assert.Equal(t, int64(4000), quota.CPUCeilingMillis)
	assert.Zero(t, quota.MemoryCeilingBytes, "no memory bound configured anywhere")
}

func TestQuotaPlainResourceNamesAccepted(t *testing.T) {
	// quotas written with cpu/memory instead of requests.cpu/requests.memory
	client := NewWithClientset(fake.NewSimpleClientset(
		namespaceQuota("compute", "payments", corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse("1500m"),
			corev1.ResourceMemory: resource.MustParse("3Gi"),
		}),
	))
	source := NewQuotaSource(client, validator.Quota{})

	quota, err := source.Quota(context.Background(), deploymentRef())
	require.NoError(t, err)
	assert.Equal(t, int64(1500), quota.CPUCeilingMillis)
	assert.Equal(t, 3*models.GiB, quota.MemoryCeilingBytes)
}

func TestQuotaTightestOfSeveral(t *testing.T) {
	client := NewWithClientset(fake.NewSimpleClientset(
		namespaceQuota("team", "payments", corev1.ResourceList{
			corev1.ResourceRequestsCPU: resource.MustParse("8"),
		}),
		namespaceQuota("platform", "payments", corev1.ResourceList{
			corev1.ResourceRequestsCPU: resource.MustParse("2"),
		}),
	))
	source := NewQuotaSource(client, validator.Quota{})

	quota, err := source.Quota(context.Background(), deploymentRef())
	require.NoError(t, err)
	assert.Equal(t, int64(2000), quota.CPUCeilingMillis)
}
