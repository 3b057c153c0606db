package fleet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCreateInstance(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	definition := []byte(`{"name": "alpha"}`)
	knowledge := []byte(`[{"fact": "one"}]`)
	require.NoError(t, store.CreateInstance("u1", "alpha", definition, knowledge))

	root := store.InstanceRoot("u1", "alpha")
	assert.True(t, store.Exists("u1", "alpha"))

	got, err := os.ReadFile(filepath.Join(root, "raw_definition.json"))
	require.NoError(t, err)
	assert.Equal(t, definition, got)

	got, err = os.ReadFile(filepath.Join(root, "raw_knowledge.json"))
	require.NoError(t, err)
	assert.Equal(t, knowledge, got)

	info, err := os.Stat(filepath.Join(root, "instance_data"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStoreCreateInstanceWithoutKnowledge(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.CreateInstance("u1", "alpha", []byte(`{}`), nil))

	_, err = os.Stat(filepath.Join(store.InstanceRoot("u1", "alpha"), "raw_knowledge.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestStoreInjectSecret(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateInstance("u1", "alpha", []byte(`{}`), nil))

	root := store.InstanceRoot("u1", "alpha")
	assert.False(t, store.HasRuntimeConfig("u1", "alpha"))

	// Simulate parse-stage output, then merge the secret into it.
	cfgPath := filepath.Join(root, "runtime_config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"model": "small", "temperature": 0.7}`), 0o644))
	assert.True(t, store.HasRuntimeConfig("u1", "alpha"))

	require.NoError(t, store.InjectSecret("u1", "alpha", "s3cret"))

	raw, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &cfg))

	assert.Equal(t, "s3cret", cfg["bot_token"])
	assert.Equal(t, "small", cfg["model"])
	assert.Equal(t, 0.7, cfg["temperature"])
}

func TestStoreInjectSecretWithoutConfig(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateInstance("u1", "alpha", []byte(`{}`), nil))

	assert.Error(t, store.InjectSecret("u1", "alpha", "s3cret"))
}

func TestStoreRemoveInstance(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateInstance("u1", "alpha", []byte(`{}`), nil))
	require.True(t, store.Exists("u1", "alpha"))

	require.NoError(t, store.RemoveInstance("u1", "alpha"))
	assert.False(t, store.Exists("u1", "alpha"))

	// Removing an already-removed instance is not an error.
	assert.NoError(t, store.RemoveInstance("u1", "alpha"))
}

func TestStoreIsolatesInstanceRoots(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateInstance("u1", "alpha", []byte(`{"a":1}`), nil))
	require.NoError(t, store.CreateInstance("u1", "beta", []byte(`{"b":2}`), nil))
	require.NoError(t, store.CreateInstance("u2", "alpha", []byte(`{"c":3}`), nil))

	require.NoError(t, store.RemoveInstance("u1", "alpha"))

	assert.False(t, store.Exists("u1", "alpha"))
	assert.True(t, store.Exists("u1", "beta"))
	assert.True(t, store.Exists("u2", "alpha"))
}
