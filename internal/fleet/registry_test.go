package fleet

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshapes/fleet/internal/runtime"
	"github.com/openshapes/fleet/internal/runtime/runtimetest"
	"github.com/openshapes/fleet/pkg/api"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func managedLabels(tenant, name string) runtime.Labels {
	return runtime.Labels{
		ManagedBy:    runtime.ManagedByValue,
		TenantID:     tenant,
		InstanceName: name,
	}
}

func TestRegistryRefresh(t *testing.T) {
	fake := runtimetest.NewFake()
	fake.Seed("openshapes_u1_alpha", "running", managedLabels("u1", "alpha"))
	fake.Seed("openshapes_u1_beta", "exited", managedLabels("u1", "beta"))
	fake.Seed("openshapes_u2_gamma", "running", managedLabels("u2", "gamma"))
	fake.Seed("unrelated", "running", runtime.Labels{})

	registry := NewRegistry(fake, testLogger())
	registry.Refresh(context.Background())

	assert.Equal(t, 2, registry.InstanceCount("u1"))
	assert.Equal(t, 1, registry.InstanceCount("u2"))

	alpha, ok := registry.Instance("u1", "alpha")
	require.True(t, ok)
	assert.Equal(t, api.InstanceRunning, alpha.Status)
	assert.Equal(t, "openshapes_u1_alpha", alpha.ContainerName)

	beta, ok := registry.Instance("u1", "beta")
	require.True(t, ok)
	assert.Equal(t, api.InstanceStopped, beta.Status)

	// The unlabeled container must not surface anywhere.
	all := registry.All()
	total := 0
	for _, instances := range all {
		total += len(instances)
	}
	assert.Equal(t, 3, total)
}

func TestRegistryRefreshIsIdempotent(t *testing.T) {
	fake := runtimetest.NewFake()
	fake.Seed("openshapes_u1_alpha", "running", managedLabels("u1", "alpha"))

	registry := NewRegistry(fake, testLogger())
	registry.Refresh(context.Background())
	first := registry.All()

	registry.Refresh(context.Background())
	registry.Refresh(context.Background())

	assert.Equal(t, first, registry.All())
}

func TestRegistryRefreshDropsRemovedContainers(t *testing.T) {
	fake := runtimetest.NewFake()
	c := fake.Seed("openshapes_u1_alpha", "running", managedLabels("u1", "alpha"))

	registry := NewRegistry(fake, testLogger())
	registry.Refresh(context.Background())
	assert.Equal(t, 1, registry.InstanceCount("u1"))

	require.NoError(t, fake.RemoveContainer(context.Background(), c.ID, true))
	registry.Refresh(context.Background())

	assert.Equal(t, 0, registry.InstanceCount("u1"))
	_, ok := registry.Instance("u1", "alpha")
	assert.False(t, ok)
}

func TestRegistryRefreshFailureKeepsSnapshot(t *testing.T) {
	fake := runtimetest.NewFake()
	fake.Seed("openshapes_u1_alpha", "running", managedLabels("u1", "alpha"))

	registry := NewRegistry(fake, testLogger())
	registry.Refresh(context.Background())
	require.Equal(t, 1, registry.InstanceCount("u1"))

	fake.ListErr = errors.New("daemon unreachable")
	registry.Refresh(context.Background())

	rec, ok := registry.Instance("u1", "alpha")
	assert.True(t, ok)
	assert.Equal(t, api.InstanceRunning, rec.Status)
}

func TestRegistryReturnsCopies(t *testing.T) {
	fake := runtimetest.NewFake()
	fake.Seed("openshapes_u1_alpha", "running", managedLabels("u1", "alpha"))

	registry := NewRegistry(fake, testLogger())
	registry.Refresh(context.Background())

	instances := registry.Instances("u1")
	delete(instances, "alpha")

	assert.Equal(t, 1, registry.InstanceCount("u1"))
}
