package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxInstancesPerTenant)
	assert.Equal(t, 3, cfg.DefaultCredits)
	assert.Equal(t, 300, cfg.RefreshIntervalSeconds)

	// The default file was written so operators can edit it.
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"data_dir": "/srv/fleet",
		"docker_base_image": "openshapes/worker:v2",
		"max_instances_per_tenant": 10,
		"admin_tenants": ["root"],
		"web_port": 8080
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/fleet", cfg.DataDir)
	assert.Equal(t, "openshapes/worker:v2", cfg.BaseImage)
	assert.Equal(t, 10, cfg.MaxInstancesPerTenant)
	assert.Equal(t, []string{"root"}, cfg.AdminTenants)
	assert.Equal(t, uint16(8080), cfg.WebPort)

	// Fields the file omits keep their defaults.
	assert.Equal(t, 30, cfg.ParseTimeoutSeconds)
}

func TestLoadRejectsNonPositiveLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_instances_per_tenant": 0}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxInstancesPerTenant)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	require.NoError(t, err)

	cfg.MaxInstancesPerTenant = 8
	require.NoError(t, cfg.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, reloaded.MaxInstancesPerTenant)
}
