package fleet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names inside an instance root.
const (
	fileRawDefinition = "raw_definition.json"
	fileRawKnowledge  = "raw_knowledge.json"
	fileRuntimeConfig = "runtime_config.json"
	dirInstanceData   = "instance_data"
)

// secretConfigKey is the runtime_config key the tenant secret is merged under.
const secretConfigKey = "bot_token"

// Store owns the per-tenant, per-instance filesystem layout:
//
//	{data_root}/users/{tenant_id}/{instance_name}/
//	    raw_definition.json
//	    raw_knowledge.json      (optional)
//	    runtime_config.json     (produced by the parse stage)
//	    instance_data/
//
// Each instance root is exclusively owned by one instance.
type Store struct {
	dataRoot string
}

// NewStore creates a store rooted at dataRoot, creating the users directory.
func NewStore(dataRoot string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataRoot, "users"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data root: %w", err)
	}
	return &Store{dataRoot: dataRoot}, nil
}

// InstanceRoot returns the filesystem root of one instance.
func (s *Store) InstanceRoot(tenantID, instanceName string) string {
	return filepath.Join(s.dataRoot, "users", tenantID, instanceName)
}

// Exists reports whether the instance root is present on disk.
func (s *Store) Exists(tenantID, instanceName string) bool {
	_, err := os.Stat(s.InstanceRoot(tenantID, instanceName))
	return err == nil
}

// CreateInstance creates the instance root and persists the raw input
// documents. knowledge may be nil.
func (s *Store) CreateInstance(tenantID, instanceName string, definition, knowledge []byte) error {
	root := s.InstanceRoot(tenantID, instanceName)
	if err := os.MkdirAll(filepath.Join(root, dirInstanceData), 0o755); err != nil {
		return fmt.Errorf("failed to create instance directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, fileRawDefinition), definition, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", fileRawDefinition, err)
	}
	if knowledge != nil {
		if err := os.WriteFile(filepath.Join(root, fileRawKnowledge), knowledge, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", fileRawKnowledge, err)
		}
	}
	return nil
}

// HasRuntimeConfig reports whether the parse stage produced its output file.
func (s *Store) HasRuntimeConfig(tenantID, instanceName string) bool {
	_, err := os.Stat(filepath.Join(s.InstanceRoot(tenantID, instanceName), fileRuntimeConfig))
	return err == nil
}

// InjectSecret merges the tenant-supplied secret into runtime_config.json and
// rewrites it in place.
func (s *Store) InjectSecret(tenantID, instanceName, secret string) error {
	path := filepath.Join(s.InstanceRoot(tenantID, instanceName), fileRuntimeConfig)

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", fileRuntimeConfig, err)
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", fileRuntimeConfig, err)
	}
	cfg[secretConfigKey] = secret

	updated, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", fileRuntimeConfig, err)
	}
	if err := os.WriteFile(path, updated, 0o600); err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", fileRuntimeConfig, err)
	}
	return nil
}

// RemoveInstance deletes the instance root and everything below it.
func (s *Store) RemoveInstance(tenantID, instanceName string) error {
	root := s.InstanceRoot(tenantID, instanceName)
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to remove instance directory %s: %w", root, err)
	}
	return nil
}
