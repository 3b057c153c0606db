package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/openshapes/fleet/internal/runtime"
	"github.com/openshapes/fleet/pkg/api"
)

// lookup resolves an instance through the registry, translating absence into
// the not-found error kind.
func (m *Manager) lookup(tenantID, instanceName string) (api.InstanceRecord, error) {
	rec, ok := m.registry.Instance(tenantID, instanceName)
	if !ok {
		return api.InstanceRecord{}, newError(KindNotFound,
			"tenant %s has no instance named %s", tenantID, instanceName)
	}
	return rec, nil
}

// StartInstance starts a stopped instance.
func (m *Manager) StartInstance(ctx context.Context, tenantID, instanceName string) (string, error) {
	mu := m.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()
	defer m.registry.Refresh(ctx)

	rec, err := m.lookup(tenantID, instanceName)
	if err != nil {
		return "", err
	}
	if rec.Status == api.InstanceRunning {
		return "", newError(KindAlreadyRunning, "instance %s is already running", instanceName)
	}

	if err := m.runtime.StartContainer(ctx, rec.ContainerID); err != nil {
		m.logger.WithError(err).Errorf("Failed to start container %s", rec.ContainerName)
		return "", wrapError(KindRuntimeFailure, err, "failed to start instance %s", instanceName)
	}
	m.logger.Infof("Started instance %s for tenant %s", instanceName, tenantID)
	return fmt.Sprintf("Instance %s started", instanceName), nil
}

// StopInstance stops a running instance, force-killing after the configured
// grace period.
func (m *Manager) StopInstance(ctx context.Context, tenantID, instanceName string) (string, error) {
	mu := m.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()
	defer m.registry.Refresh(ctx)

	rec, err := m.lookup(tenantID, instanceName)
	if err != nil {
		return "", err
	}
	if rec.Status != api.InstanceRunning {
		return "", newError(KindNotRunning, "instance %s is not running", instanceName)
	}

	if err := m.runtime.StopContainer(ctx, rec.ContainerID, m.stopGrace); err != nil {
		m.logger.WithError(err).Errorf("Failed to stop container %s", rec.ContainerName)
		return "", wrapError(KindRuntimeFailure, err, "failed to stop instance %s", instanceName)
	}
	m.logger.Infof("Stopped instance %s for tenant %s", instanceName, tenantID)
	return fmt.Sprintf("Instance %s stopped", instanceName), nil
}

// RestartInstance restarts an instance regardless of its current state.
func (m *Manager) RestartInstance(ctx context.Context, tenantID, instanceName string) (string, error) {
	mu := m.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()
	defer m.registry.Refresh(ctx)

	rec, err := m.lookup(tenantID, instanceName)
	if err != nil {
		return "", err
	}

	if err := m.runtime.RestartContainer(ctx, rec.ContainerID, m.stopGrace); err != nil {
		m.logger.WithError(err).Errorf("Failed to restart container %s", rec.ContainerName)
		return "", wrapError(KindRuntimeFailure, err, "failed to restart instance %s", instanceName)
	}
	m.logger.Infof("Restarted instance %s for tenant %s", instanceName, tenantID)
	return fmt.Sprintf("Instance %s restarted", instanceName), nil
}

// DeleteInstance removes an instance completely: its container, its persisted
// artifacts, and its registry entry, then refunds the creation credit. A stop
// failure on a running container is logged and removal proceeds with force.
func (m *Manager) DeleteInstance(ctx context.Context, tenantID, instanceName string) (string, error) {
	mu := m.tenantLock(tenantID)
	mu.Lock()
	defer mu.Unlock()
	defer m.registry.Refresh(ctx)

	rec, err := m.lookup(tenantID, instanceName)
	if err != nil {
		return "", err
	}

	if rec.Status == api.InstanceRunning {
		if err := m.runtime.StopContainer(ctx, rec.ContainerID, m.stopGrace); err != nil {
			m.logger.WithError(err).Warnf("Failed to stop container %s before removal", rec.ContainerName)
		}
	}
	if err := m.runtime.RemoveContainer(ctx, rec.ContainerID, true); err != nil {
		m.logger.WithError(err).Errorf("Failed to remove container %s", rec.ContainerName)
		return "", wrapError(KindRuntimeFailure, err, "failed to remove instance %s", instanceName)
	}

	if err := m.store.RemoveInstance(tenantID, instanceName); err != nil {
		// The container is gone; surface the disk failure but leave the
		// registry consistent via the deferred refresh.
		m.logger.WithError(err).Errorf("Failed to remove artifacts for %s/%s", tenantID, instanceName)
		return "", wrapError(KindRuntimeFailure, err, "failed to remove instance artifacts")
	}

	if m.credits != nil && !m.admission.IsAdmin(tenantID) {
		if err := m.credits.Refund(ctx, tenantID); err != nil {
			m.logger.WithError(err).Errorf("Failed to refund credit for tenant %s", tenantID)
		}
	}

	m.logger.Infof("Deleted instance %s for tenant %s", instanceName, tenantID)
	return fmt.Sprintf("Instance %s deleted", instanceName), nil
}

// InstanceLogs returns the last lines of combined output from the instance
// container. Stopped instances still have retrievable logs.
func (m *Manager) InstanceLogs(ctx context.Context, tenantID, instanceName string, lines int) (string, error) {
	rec, err := m.lookup(tenantID, instanceName)
	if err != nil {
		return "", err
	}

	logs, err := m.runtime.ContainerLogs(ctx, rec.ContainerID, lines)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return "", newError(KindNotFound, "container for instance %s no longer exists", instanceName)
		}
		m.logger.WithError(err).Errorf("Failed to read logs for container %s", rec.ContainerName)
		return "", wrapError(KindRuntimeFailure, err, "failed to read logs for instance %s", instanceName)
	}
	if logs == "" {
		return "No logs available", nil
	}
	return logs, nil
}
