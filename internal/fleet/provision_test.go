package fleet

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshapes/fleet/internal/runtime"
	"github.com/openshapes/fleet/internal/runtime/runtimetest"
	"github.com/openshapes/fleet/pkg/api"
)

// newTestManager wires a Manager over the fake runtime with a parse stage
// that succeeds by writing runtime_config.json into the mounted instance
// root. Worker launches (named containers) pass through the hook untouched.
func newTestManager(t *testing.T, opts Options) (*Manager, *runtimetest.Fake, *fakeCredits) {
	t.Helper()

	fake := runtimetest.NewFake()
	fake.RunHook = func(ro runtime.RunOptions) error {
		if ro.Name != "" {
			return nil
		}
		return writeParseOutput(ro)
	}

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	if opts.BaseImage == "" {
		opts.BaseImage = "openshapes/worker:test"
	}
	manager := NewManager(fake, store, opts, testLogger())

	credits := newFakeCredits(map[string]int{})
	for _, tenant := range []string{"u1", "u2", "root"} {
		credits.balances[tenant] = 3
	}
	manager.WithCredits(credits)

	return manager, fake, credits
}

// writeParseOutput simulates the parse process dropping its derived config
// into the bind-mounted instance root.
func writeParseOutput(ro runtime.RunOptions) error {
	if len(ro.Binds) == 0 {
		return errors.New("parse container launched without a bind mount")
	}
	host := strings.SplitN(ro.Binds[0], ":", 2)[0]
	return os.WriteFile(filepath.Join(host, "runtime_config.json"),
		[]byte(`{"model": "small"}`), 0o644)
}

func TestCreateInstance(t *testing.T) {
	manager, fake, credits := newTestManager(t, Options{})
	ctx := context.Background()

	msg, err := manager.CreateInstance(ctx, "u1", "alpha", []byte(`{"name":"alpha"}`), "tok-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Instance alpha created and started", msg)

	// The worker is running under the expected name with ownership labels.
	worker, ok := fake.Container("openshapes_u1_alpha")
	require.True(t, ok)
	assert.Equal(t, "running", worker.State)
	assert.Equal(t, managedLabels("u1", "alpha"), worker.Labels)
	assert.Equal(t, "unless-stopped", worker.Options.RestartPolicy)

	// The parse container is gone; only the worker remains.
	assert.Equal(t, 1, fake.Len())
	assert.Len(t, fake.Removed, 1)

	// The secret landed in the derived config.
	raw, err := os.ReadFile(filepath.Join(manager.store.InstanceRoot("u1", "alpha"), "runtime_config.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"bot_token": "tok-1"`)

	// The registry reflects the new instance and a credit was consumed.
	rec, ok := manager.Instance("u1", "alpha")
	require.True(t, ok)
	assert.Equal(t, api.InstanceRunning, rec.Status)
	assert.Equal(t, 2, credits.balance("u1"))
}

func TestCreateInstanceValidation(t *testing.T) {
	manager, _, _ := newTestManager(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name         string
		instanceName string
		definition   []byte
		knowledge    []byte
		wantKind     Kind
	}{
		{"empty name", "", []byte(`{}`), nil, KindInvalidName},
		{"name with dash", "my-bot", []byte(`{}`), nil, KindInvalidName},
		{"name with space", "my bot", []byte(`{}`), nil, KindInvalidName},
		{"name with slash", "a/b", []byte(`{}`), nil, KindInvalidName},
		{"malformed definition", "alpha", []byte(`{not json`), nil, KindInvalidInput},
		{"malformed knowledge", "alpha", []byte(`{}`), []byte(`[broken`), KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.CreateInstance(ctx, "u1", tt.instanceName, tt.definition, "tok", tt.knowledge)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))
		})
	}

	// Underscores and digits are allowed.
	_, err := manager.CreateInstance(ctx, "u1", "bot_7", []byte(`{}`), "tok", nil)
	assert.NoError(t, err)
}

func TestCreateInstanceUniqueness(t *testing.T) {
	manager, _, _ := newTestManager(t, Options{})
	ctx := context.Background()

	_, err := manager.CreateInstance(ctx, "u1", "alpha", []byte(`{}`), "tok", nil)
	require.NoError(t, err)

	_, err = manager.CreateInstance(ctx, "u1", "alpha", []byte(`{}`), "tok", nil)
	require.Error(t, err)
	assert.Equal(t, KindAlreadyExists, KindOf(err))

	// The same name under a different tenant is independent.
	_, err = manager.CreateInstance(ctx, "u2", "alpha", []byte(`{}`), "tok", nil)
	assert.NoError(t, err)
}

func TestCreateInstanceParseFailure(t *testing.T) {
	t.Run("non-zero exit", func(t *testing.T) {
		manager, fake, credits := newTestManager(t, Options{})
		fake.WaitExitCode = 1
		fake.Logs = "traceback: bad definition"

		_, err := manager.CreateInstance(context.Background(), "u1", "alpha", []byte(`{}`), "tok", nil)
		require.Error(t, err)
		assert.Equal(t, KindProvisioningFailed, KindOf(err))
		assert.Equal(t, "traceback: bad definition", LogOf(err))

		// No worker was launched and no credit was spent.
		assert.Equal(t, 0, fake.Len())
		assert.Equal(t, 3, credits.balance("u1"))
	})

	t.Run("no runtime config produced", func(t *testing.T) {
		manager, fake, _ := newTestManager(t, Options{})
		fake.RunHook = nil // parse exits cleanly but writes nothing

		_, err := manager.CreateInstance(context.Background(), "u1", "alpha", []byte(`{}`), "tok", nil)
		require.Error(t, err)
		assert.Equal(t, KindProvisioningFailed, KindOf(err))
	})

	t.Run("artifacts stay on disk for cleanup", func(t *testing.T) {
		manager, fake, _ := newTestManager(t, Options{})
		fake.WaitExitCode = 1

		_, err := manager.CreateInstance(context.Background(), "u1", "alpha", []byte(`{}`), "tok", nil)
		require.Error(t, err)
		assert.True(t, manager.store.Exists("u1", "alpha"))
	})
}

func TestCreateInstanceQuota(t *testing.T) {
	manager, _, _ := newTestManager(t, Options{MaxInstancesPerTenant: 2})
	ctx := context.Background()

	_, err := manager.CreateInstance(ctx, "u1", "alpha", []byte(`{}`), "tok", nil)
	require.NoError(t, err)
	_, err = manager.CreateInstance(ctx, "u1", "beta", []byte(`{}`), "tok", nil)
	require.NoError(t, err)

	_, err = manager.CreateInstance(ctx, "u1", "gamma", []byte(`{}`), "tok", nil)
	require.Error(t, err)
	assert.Equal(t, KindQuotaExceeded, KindOf(err))

	// Deleting one frees a slot for the next create.
	_, err = manager.DeleteInstance(ctx, "u1", "alpha")
	require.NoError(t, err)

	_, err = manager.CreateInstance(ctx, "u1", "gamma", []byte(`{}`), "tok", nil)
	assert.NoError(t, err)
}

func TestCreateInstanceAdminBypassesQuota(t *testing.T) {
	manager, _, _ := newTestManager(t, Options{
		MaxInstancesPerTenant: 1,
		AdminTenants:          []string{"root"},
	})
	ctx := context.Background()

	_, err := manager.CreateInstance(ctx, "root", "alpha", []byte(`{}`), "tok", nil)
	require.NoError(t, err)
	_, err = manager.CreateInstance(ctx, "root", "beta", []byte(`{}`), "tok", nil)
	assert.NoError(t, err)
}

func TestCreateInstanceOutOfCredits(t *testing.T) {
	manager, _, credits := newTestManager(t, Options{})
	credits.balances["u1"] = 0

	_, err := manager.CreateInstance(context.Background(), "u1", "alpha", []byte(`{}`), "tok", nil)
	require.Error(t, err)
	assert.Equal(t, KindQuotaExceeded, KindOf(err))
}

func TestCreateInstanceReplacesStaleContainer(t *testing.T) {
	manager, fake, _ := newTestManager(t, Options{})
	ctx := context.Background()

	// A stopped container squats on the name but carries no ownership labels,
	// so the registry does not count it as an instance.
	stale := fake.Seed("openshapes_u1_alpha", "exited", runtime.Labels{})
	manager.Refresh(ctx)

	_, err := manager.CreateInstance(ctx, "u1", "alpha", []byte(`{}`), "tok", nil)
	require.NoError(t, err)

	worker, ok := fake.Container("openshapes_u1_alpha")
	require.True(t, ok)
	assert.NotEqual(t, stale.ID, worker.ID)
	assert.Equal(t, "running", worker.State)
}
