package api

import (
	"encoding/json"
	"time"
)

// InstanceStatus is the last-observed container state of an instance as
// mirrored from the runtime. An instance with no backing container does not
// appear in the registry at all.
type InstanceStatus string

const (
	// InstanceRunning indicates the backing container is running
	InstanceRunning InstanceStatus = "running"
	// InstanceStopped indicates the backing container exists but is not running
	InstanceStopped InstanceStatus = "stopped"
)

// InstanceRecord is a point-in-time mirror of one managed container,
// keyed by (tenant_id, instance_name) in the registry.
type InstanceRecord struct {
	TenantID      string         `json:"tenant_id"`
	InstanceName  string         `json:"instance_name"`
	ContainerID   string         `json:"container_id"`
	ContainerName string         `json:"container_name"`
	Status        InstanceStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ResourceSnapshot is a derived, non-persisted CPU/memory/uptime reading for
// one instance. Memory usage is pre-rendered for display; the percentages are
// left numeric so callers can threshold on them.
type ResourceSnapshot struct {
	Status        InstanceStatus `json:"status"`
	Uptime        string         `json:"uptime"`
	ContainerID   string         `json:"container_id"`
	CPUPercent    float64        `json:"cpu_percent"`
	MemoryUsage   string         `json:"memory_usage"`
	MemoryPercent float64        `json:"memory_percent"`
}

// CreateInstanceRequest is the payload for provisioning a new instance.
// Definition and Knowledge are the tenant-supplied raw documents; Token is
// the secret injected into the derived runtime configuration after the
// parse stage succeeds.
type CreateInstanceRequest struct {
	InstanceName string          `json:"instance_name"`
	Definition   json.RawMessage `json:"definition"`
	Knowledge    json.RawMessage `json:"knowledge,omitempty"`
	Token        string          `json:"token"`
}

// MessageResponse carries the one-line human-readable outcome of an operation.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the error body returned by the HTTP surface. Kind matches
// the fleet error taxonomy; Log carries the captured parse-stage output on
// provisioning failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Log   string `json:"log,omitempty"`
}

// LogsResponse carries a tail of an instance's container log.
type LogsResponse struct {
	TenantID     string `json:"tenant_id"`
	InstanceName string `json:"instance_name"`
	Lines        int    `json:"lines"`
	Logs         string `json:"logs"`
}

// CreditBalance reports a tenant's remaining provisioning credits.
type CreditBalance struct {
	TenantID string `json:"tenant_id"`
	Credits  int    `json:"credits"`
}

// AdminCreditsRequest grants additional credits to a tenant.
type AdminCreditsRequest struct {
	TenantID string `json:"tenant_id"`
	Credits  int    `json:"credits"`
}

// AdminLimitRequest changes the global per-tenant instance limit.
type AdminLimitRequest struct {
	MaxInstances int `json:"max_instances"`
}
