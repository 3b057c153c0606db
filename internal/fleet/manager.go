package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openshapes/fleet/internal/runtime"
	"github.com/openshapes/fleet/pkg/api"
)

// Options carries the tunables of a Manager. Zero values fall back to the
// documented defaults.
type Options struct {
	// BaseImage runs both the parse stage and the worker container.
	BaseImage string
	// ParserCommand is the command of the ephemeral parse-stage container.
	ParserCommand []string
	// WorkerCommand is the command of the persistent worker container.
	WorkerCommand []string
	// MaxInstancesPerTenant is the starting global quota (default 5).
	MaxInstancesPerTenant int
	// AdminTenants bypass quotas and may operate on any tenant's instances.
	AdminTenants []string
	// StopGrace bounds how long stop/restart wait before forced termination
	// (default 10s).
	StopGrace time.Duration
	// ParseTimeout bounds the parse-stage wait (default 30s).
	ParseTimeout time.Duration
}

// Manager is the fleet controller facade. It owns the mapping from
// (tenant_id, instance_name) to container id; the containers' lifecycle state
// is owned by the runtime and only mirrored in the registry.
type Manager struct {
	runtime   runtime.Client
	registry  *Registry
	store     *Store
	admission *Admission
	credits   CreditSource
	logger    *logrus.Logger

	baseImage    string
	parserCmd    []string
	workerCmd    []string
	stopGrace    time.Duration
	parseTimeout time.Duration

	// tenantLocks serializes provisioning and deletion per tenant so the
	// uniqueness/quota check-then-act sequences cannot race.
	lockMu      sync.Mutex
	tenantLocks map[string]*sync.Mutex
}

// NewManager creates a fleet controller over the given runtime and store.
func NewManager(rt runtime.Client, store *Store, opts Options, logger *logrus.Logger) *Manager {
	if opts.MaxInstancesPerTenant <= 0 {
		opts.MaxInstancesPerTenant = 5
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 10 * time.Second
	}
	if opts.ParseTimeout <= 0 {
		opts.ParseTimeout = 30 * time.Second
	}
	if len(opts.ParserCommand) == 0 {
		opts.ParserCommand = []string{"python", "-m", "openshapes.parser"}
	}

	registry := NewRegistry(rt, logger)
	return &Manager{
		runtime:      rt,
		registry:     registry,
		store:        store,
		admission:    NewAdmission(registry, opts.MaxInstancesPerTenant, opts.AdminTenants, logger),
		logger:       logger,
		baseImage:    opts.BaseImage,
		parserCmd:    opts.ParserCommand,
		workerCmd:    opts.WorkerCommand,
		stopGrace:    opts.StopGrace,
		parseTimeout: opts.ParseTimeout,
		tenantLocks:  make(map[string]*sync.Mutex),
	}
}

// WithCredits attaches the credit source consulted by admission control and
// settled on create/delete.
func (m *Manager) WithCredits(credits CreditSource) *Manager {
	m.credits = credits
	m.admission.WithCredits(credits)
	return m
}

// tenantLock returns the mutex serializing mutating operations for a tenant.
func (m *Manager) tenantLock(tenantID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	mu, ok := m.tenantLocks[tenantID]
	if !ok {
		mu = &sync.Mutex{}
		m.tenantLocks[tenantID] = mu
	}
	return mu
}

// Refresh rebuilds the registry from the runtime. Failures are logged, never
// returned.
func (m *Manager) Refresh(ctx context.Context) {
	m.registry.Refresh(ctx)
}

// StartRefreshLoop refreshes the registry on a fixed interval until the
// context is cancelled, bounding staleness between mutating operations.
func (m *Manager) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.registry.Refresh(ctx)
			}
		}
	}()
}

// Instances returns the tenant's current instances.
func (m *Manager) Instances(tenantID string) map[string]api.InstanceRecord {
	return m.registry.Instances(tenantID)
}

// AllInstances returns every managed instance across all tenants.
func (m *Manager) AllInstances() map[string]map[string]api.InstanceRecord {
	return m.registry.All()
}

// Instance looks up a single instance record.
func (m *Manager) Instance(tenantID, instanceName string) (api.InstanceRecord, bool) {
	return m.registry.Instance(tenantID, instanceName)
}

// IsAdmin reports whether the tenant is an administrator.
func (m *Manager) IsAdmin(tenantID string) bool {
	return m.admission.IsAdmin(tenantID)
}

// MaxInstances returns the current per-tenant instance limit.
func (m *Manager) MaxInstances() int {
	return m.admission.MaxInstances()
}

// SetMaxInstances changes the per-tenant instance limit.
func (m *Manager) SetMaxInstances(n int) {
	m.admission.SetMaxInstances(n)
}

// PullBaseImage pulls the configured base image from its registry.
func (m *Manager) PullBaseImage(ctx context.Context) (string, error) {
	if err := m.runtime.PullImage(ctx, m.baseImage); err != nil {
		m.logger.WithError(err).Errorf("Failed to pull base image %s", m.baseImage)
		return "", wrapError(KindRuntimeFailure, err, "failed to pull base image %s", m.baseImage)
	}
	return fmt.Sprintf("Base image %s updated", m.baseImage), nil
}

// containerName derives the runtime container name of an instance.
func containerName(tenantID, instanceName string) string {
	return fmt.Sprintf("openshapes_%s_%s", tenantID, instanceName)
}

// ownershipLabels builds the label set every managed container carries.
func ownershipLabels(tenantID, instanceName string) runtime.Labels {
	return runtime.Labels{
		ManagedBy:    runtime.ManagedByValue,
		TenantID:     tenantID,
		InstanceName: instanceName,
	}
}
