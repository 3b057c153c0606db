package fleet

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrInsufficientCredits is returned by a CreditSource when a tenant has no
// credits left to consume.
var ErrInsufficientCredits = errors.New("insufficient credits")

// CreditSource is the per-tenant credit counter consulted alongside the
// instance-count quota. One credit is consumed per successful create and
// refunded per delete.
type CreditSource interface {
	// Balance returns the tenant's remaining credits.
	Balance(ctx context.Context, tenantID string) (int, error)
	// Consume deducts one credit, failing with ErrInsufficientCredits at zero.
	Consume(ctx context.Context, tenantID string) error
	// Refund returns one credit.
	Refund(ctx context.Context, tenantID string) error
}

// Admission gates provisioning on the per-tenant instance quota and credit
// balance. Administrators bypass both limits.
type Admission struct {
	registry *Registry
	credits  CreditSource
	logger   *logrus.Logger
	admins   map[string]struct{}

	mu           sync.RWMutex
	maxInstances int
}

// NewAdmission creates an admission gate over the registry. adminTenants
// bypass all limits; maxInstances is the mutable global per-tenant cap.
func NewAdmission(registry *Registry, maxInstances int, adminTenants []string, logger *logrus.Logger) *Admission {
	admins := make(map[string]struct{}, len(adminTenants))
	for _, id := range adminTenants {
		admins[id] = struct{}{}
	}
	return &Admission{
		registry:     registry,
		logger:       logger,
		admins:       admins,
		maxInstances: maxInstances,
	}
}

// WithCredits attaches a credit source. Without one, only the instance-count
// quota is enforced.
func (a *Admission) WithCredits(credits CreditSource) *Admission {
	a.credits = credits
	return a
}

// IsAdmin reports whether the tenant is an administrator.
func (a *Admission) IsAdmin(tenantID string) bool {
	_, ok := a.admins[tenantID]
	return ok
}

// MaxInstances returns the current global per-tenant instance limit.
func (a *Admission) MaxInstances() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.maxInstances
}

// SetMaxInstances changes the global per-tenant instance limit.
func (a *Admission) SetMaxInstances(n int) {
	a.mu.Lock()
	a.maxInstances = n
	a.mu.Unlock()
	a.logger.Infof("Instance limit per tenant set to %d", n)
}

// CanCreate checks both admission gates for the tenant. It returns nil when
// provisioning may proceed and a quota error otherwise. The two gates are
// independent: the instance count and the credit balance must each pass.
func (a *Admission) CanCreate(ctx context.Context, tenantID string) error {
	if a.IsAdmin(tenantID) {
		return nil
	}

	limit := a.MaxInstances()
	if count := a.registry.InstanceCount(tenantID); count >= limit {
		return newError(KindQuotaExceeded,
			"tenant %s has reached the limit of %d instances", tenantID, limit)
	}

	if a.credits != nil {
		balance, err := a.credits.Balance(ctx, tenantID)
		if err != nil {
			return wrapError(KindRuntimeFailure, err, "failed to check credits for tenant %s", tenantID)
		}
		if balance <= 0 {
			return newError(KindQuotaExceeded, "tenant %s has no instance credits left", tenantID)
		}
	}
	return nil
}
