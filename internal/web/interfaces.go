package web

import (
	"context"

	"github.com/openshapes/fleet/pkg/api"
)

// FleetManager is the instance control surface the web server exposes.
type FleetManager interface {
	CreateInstance(ctx context.Context, tenantID, instanceName string, definition []byte, secret string, knowledge []byte) (string, error)
	StartInstance(ctx context.Context, tenantID, instanceName string) (string, error)
	StopInstance(ctx context.Context, tenantID, instanceName string) (string, error)
	RestartInstance(ctx context.Context, tenantID, instanceName string) (string, error)
	DeleteInstance(ctx context.Context, tenantID, instanceName string) (string, error)
	InstanceLogs(ctx context.Context, tenantID, instanceName string, lines int) (string, error)
	Stats(ctx context.Context, tenantID, instanceName string) (api.ResourceSnapshot, error)
	Instances(tenantID string) map[string]api.InstanceRecord
	AllInstances() map[string]map[string]api.InstanceRecord
	IsAdmin(tenantID string) bool
	MaxInstances() int
	SetMaxInstances(n int)
	PullBaseImage(ctx context.Context) (string, error)
	Refresh(ctx context.Context)
}

// CreditManager is the ledger surface exposed over HTTP.
type CreditManager interface {
	Balance(ctx context.Context, tenantID string) (int, error)
	Add(ctx context.Context, tenantID string, amount int) error
}
