package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/openshapes/fleet/internal/runtime"
)

// instanceNameRe is the naming invariant: non-empty, letters, digits,
// underscore.
var instanceNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Mount points inside the parse-stage and worker containers.
const (
	parseMountPath  = "/app/instance"
	workerMountPath = "/app/config"
)

// CreateInstance runs the provisioning pipeline: validate, check uniqueness
// and quota, persist inputs, derive the runtime configuration in an ephemeral
// parse container, inject the secret, and launch the persistent worker.
//
// There is no compensating rollback across stages: if the launch fails after
// artifacts were persisted, the instance directory stays on disk and a
// follow-up delete cleans it up.
func (m *Manager) CreateInstance(ctx context.Context, tenantID, instanceName string, definition []byte, secret string, knowledge []byte) (string, error) {
	if !instanceNameRe.MatchString(instanceName) {
		return "", newError(KindInvalidName,
			"instance name must contain only letters, numbers, and underscores")
	}

	mu := m.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()

	// Registry state may be stale between the periodic refreshes; refresh on
	// completion regardless of outcome so repeated calls never compound it.
	defer m.registry.Refresh(ctx)

	if _, exists := m.registry.Instance(tenantID, instanceName); exists {
		return "", newError(KindAlreadyExists,
			"tenant %s already has an instance named %s", tenantID, instanceName)
	}

	if err := m.admission.CanCreate(ctx, tenantID); err != nil {
		return "", err
	}

	if !json.Valid(definition) {
		return "", newError(KindInvalidInput, "raw definition is not well-formed JSON")
	}
	if knowledge != nil && !json.Valid(knowledge) {
		return "", newError(KindInvalidInput, "raw knowledge document is not well-formed JSON")
	}

	if err := m.store.CreateInstance(tenantID, instanceName, definition, knowledge); err != nil {
		m.logger.WithError(err).Errorf("Failed to persist inputs for %s/%s", tenantID, instanceName)
		return "", wrapError(KindRuntimeFailure, err, "failed to persist instance inputs")
	}

	if err := m.runParseStage(ctx, tenantID, instanceName); err != nil {
		return "", err
	}

	if err := m.store.InjectSecret(tenantID, instanceName, secret); err != nil {
		m.logger.WithError(err).Errorf("Failed to inject secret for %s/%s", tenantID, instanceName)
		return "", wrapError(KindRuntimeFailure, err, "failed to update runtime configuration")
	}

	if err := m.launchWorker(ctx, tenantID, instanceName); err != nil {
		return "", err
	}

	if m.credits != nil && !m.admission.IsAdmin(tenantID) {
		if err := m.credits.Consume(ctx, tenantID); err != nil {
			// The instance is already live; a ledger hiccup must not undo it.
			m.logger.WithError(err).Errorf("Failed to consume credit for tenant %s", tenantID)
		}
	}

	m.logger.Infof("Created instance %s for tenant %s", instanceName, tenantID)
	return fmt.Sprintf("Instance %s created and started", instanceName), nil
}

// runParseStage launches the one-shot parse container against the instance
// root, waits for it to exit within the parse timeout, captures its combined
// output, and always removes the container best-effort. A non-zero exit or a
// missing runtime_config.json fails provisioning with the log attached.
func (m *Manager) runParseStage(ctx context.Context, tenantID, instanceName string) error {
	root := m.store.InstanceRoot(tenantID, instanceName)

	id, err := m.runtime.RunContainer(ctx, runtime.RunOptions{
		Image:      m.baseImage,
		Command:    m.parserCmd,
		Binds:      []string{root + ":" + parseMountPath + ":rw"},
		WorkingDir: parseMountPath,
		Env:        map[string]string{"OPENSHAPE_INSTANCE_DIR": parseMountPath},
	})
	if err != nil {
		m.logger.WithError(err).Errorf("Failed to launch parse container for %s/%s", tenantID, instanceName)
		return wrapError(KindRuntimeFailure, err, "failed to launch parse container")
	}
	m.logger.Infof("Parse container %s started for %s/%s", id, tenantID, instanceName)

	exitCode, waitErr := m.runtime.WaitContainer(ctx, id, m.parseTimeout)

	// Capture the log regardless of outcome, then remove the container
	// best-effort; removal failures are logged, not propagated.
	logs, logErr := m.runtime.ContainerLogs(ctx, id, 0)
	if logErr != nil {
		m.logger.WithError(logErr).Warnf("Failed to capture parse container logs for %s/%s", tenantID, instanceName)
	}
	if err := m.runtime.RemoveContainer(ctx, id, true); err != nil {
		m.logger.WithError(err).Warnf("Failed to remove parse container %s", id)
	}

	if waitErr != nil {
		m.logger.WithError(waitErr).Errorf("Parse stage did not complete for %s/%s", tenantID, instanceName)
		return &Error{
			Kind:    KindProvisioningFailed,
			Message: "parse stage did not complete in time",
			Log:     logs,
			Err:     waitErr,
		}
	}
	if exitCode != 0 {
		return &Error{
			Kind:    KindProvisioningFailed,
			Message: fmt.Sprintf("parse stage exited with code %d", exitCode),
			Log:     logs,
		}
	}
	if !m.store.HasRuntimeConfig(tenantID, instanceName) {
		return &Error{
			Kind:    KindProvisioningFailed,
			Message: "parse stage did not produce " + fileRuntimeConfig,
			Log:     logs,
		}
	}
	return nil
}

// launchWorker starts the persistent worker container for the instance. A
// name collision with a stopped container is resolved by removing the stale
// container; a collision with a running one is rejected.
func (m *Manager) launchWorker(ctx context.Context, tenantID, instanceName string) error {
	name := containerName(tenantID, instanceName)

	existing, err := m.runtime.InspectContainer(ctx, name)
	switch {
	case err == nil && existing.Running:
		return newError(KindAlreadyRunning, "container %s is already running", name)
	case err == nil:
		if err := m.runtime.RemoveContainer(ctx, existing.ID, false); err != nil {
			m.logger.WithError(err).Errorf("Failed to remove stale container %s", name)
			return wrapError(KindRuntimeFailure, err, "failed to remove stale container %s", name)
		}
		m.logger.Infof("Removed stale container %s before relaunch", name)
	}

	root := m.store.InstanceRoot(tenantID, instanceName)
	id, err := m.runtime.RunContainer(ctx, runtime.RunOptions{
		Image:   m.baseImage,
		Name:    name,
		Command: m.workerCmd,
		Binds:   []string{root + ":" + workerMountPath + ":rw"},
		Env: map[string]string{
			"OPENSHAPE_TENANT_ID":     tenantID,
			"OPENSHAPE_INSTANCE_NAME": instanceName,
			"OPENSHAPE_CONFIG_DIR":    workerMountPath,
		},
		Labels:        ownershipLabels(tenantID, instanceName).Map(),
		RestartPolicy: "unless-stopped",
	})
	if err != nil {
		m.logger.WithError(err).Errorf("Failed to launch worker container %s", name)
		return wrapError(KindRuntimeFailure, err, "failed to launch worker container %s", name)
	}
	m.logger.Infof("Started worker container %s (%s)", name, id)
	return nil
}
