package fleet

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/openshapes/fleet/internal/runtime"
	"github.com/openshapes/fleet/pkg/api"
)

// Registry is the controller's in-memory mirror of which containers belong to
// which tenant/instance. It is rebuilt wholesale from the runtime's container
// list on every refresh; stale entries for removed containers drop out as a
// consequence of the rebuild.
type Registry struct {
	runtime runtime.Client
	logger  *logrus.Logger

	mu       sync.RWMutex
	snapshot map[string]map[string]api.InstanceRecord
}

// NewRegistry creates an empty registry backed by the given runtime client.
func NewRegistry(rt runtime.Client, logger *logrus.Logger) *Registry {
	return &Registry{
		runtime:  rt,
		logger:   logger,
		snapshot: make(map[string]map[string]api.InstanceRecord),
	}
}

// Refresh rebuilds the snapshot from the runtime's current container list,
// running and stopped alike. A refresh failure is logged and the previous
// snapshot is retained; it is never fatal to the calling operation.
func (r *Registry) Refresh(ctx context.Context) {
	containers, err := r.runtime.ListContainers(ctx, true)
	if err != nil {
		r.logger.WithError(err).Error("Failed to refresh instance registry; keeping previous snapshot")
		return
	}

	next := make(map[string]map[string]api.InstanceRecord)
	for _, c := range containers {
		if c.Labels.ManagedBy != runtime.ManagedByValue {
			continue
		}
		tenant := c.Labels.TenantID
		if next[tenant] == nil {
			next[tenant] = make(map[string]api.InstanceRecord)
		}
		next[tenant][c.Labels.InstanceName] = api.InstanceRecord{
			TenantID:      tenant,
			InstanceName:  c.Labels.InstanceName,
			ContainerID:   c.ID,
			ContainerName: c.Name,
			Status:        statusOf(c.State),
			CreatedAt:     c.CreatedAt,
		}
	}

	r.mu.Lock()
	r.snapshot = next
	r.mu.Unlock()

	r.logger.Debugf("Refreshed instance registry: %d tenants with instances", len(next))
}

// statusOf maps a raw runtime state onto the two states the controller
// mirrors.
func statusOf(state string) api.InstanceStatus {
	if state == "running" {
		return api.InstanceRunning
	}
	return api.InstanceStopped
}

// Instances returns a copy of the tenant's slice of the current snapshot;
// empty map if the tenant has none.
func (r *Registry) Instances(tenantID string) map[string]api.InstanceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]api.InstanceRecord, len(r.snapshot[tenantID]))
	for name, rec := range r.snapshot[tenantID] {
		out[name] = rec
	}
	return out
}

// InstanceCount returns how many instances the tenant currently has.
func (r *Registry) InstanceCount(tenantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.snapshot[tenantID])
}

// Instance looks up one instance record.
func (r *Registry) Instance(tenantID, instanceName string) (api.InstanceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.snapshot[tenantID][instanceName]
	return rec, ok
}

// All returns a copy of the whole snapshot, for administrator listings.
func (r *Registry) All() map[string]map[string]api.InstanceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]api.InstanceRecord, len(r.snapshot))
	for tenant, instances := range r.snapshot {
		inner := make(map[string]api.InstanceRecord, len(instances))
		for name, rec := range instances {
			inner[name] = rec
		}
		out[tenant] = inner
	}
	return out
}
