package runtime

import (
	"context"
	"errors"
	"time"
)

// ManagedByValue is the value of the managed_by label on every container the
// fleet controller owns. Containers without it are invisible to the controller.
const ManagedByValue = "openshapes-fleet"

// Label keys carried by every managed container.
const (
	LabelManagedBy    = "managed_by"
	LabelTenantID     = "tenant_id"
	LabelInstanceName = "instance_name"
)

// ErrNotFound is returned when the requested container does not exist.
var ErrNotFound = errors.New("container not found")

// Labels is the validated ownership tag set of a managed container.
type Labels struct {
	ManagedBy    string
	TenantID     string
	InstanceName string
}

// ParseLabels extracts the ownership labels from a raw label map. It returns
// false unless all three labels are present and non-empty; a container missing
// any of them is not a managed container.
func ParseLabels(raw map[string]string) (Labels, bool) {
	l := Labels{
		ManagedBy:    raw[LabelManagedBy],
		TenantID:     raw[LabelTenantID],
		InstanceName: raw[LabelInstanceName],
	}
	if l.ManagedBy == "" || l.TenantID == "" || l.InstanceName == "" {
		return Labels{}, false
	}
	return l, true
}

// Map renders the labels in the form the runtime expects.
func (l Labels) Map() map[string]string {
	return map[string]string{
		LabelManagedBy:    l.ManagedBy,
		LabelTenantID:     l.TenantID,
		LabelInstanceName: l.InstanceName,
	}
}

// ContainerInfo is one entry from a container listing.
type ContainerInfo struct {
	ID        string
	Name      string
	State     string // raw runtime state, e.g. "running", "exited", "created"
	CreatedAt time.Time
	Labels    Labels
}

// ContainerDetail is the inspected state of a single container.
type ContainerDetail struct {
	ID        string
	Name      string
	State     string
	Running   bool
	StartedAt time.Time // zero when the container has never started
}

// RunOptions describes a container to create and start.
type RunOptions struct {
	Image         string
	Name          string
	Command       []string
	Env           map[string]string
	Binds         []string // host:container[:mode]
	WorkingDir    string
	Labels        map[string]string
	RestartPolicy string // "", "unless-stopped", "always"
}

// StatsSample carries one cumulative usage sample from the runtime, including
// the previous tick so a rate can be derived from a single request.
type StatsSample struct {
	CPUTotalUsage    uint64
	PreCPUTotalUsage uint64
	SystemUsage      uint64
	PreSystemUsage   uint64
	OnlineCPUs       int
	MemoryUsage      uint64
	MemoryLimit      uint64
}

// Client is the container runtime control API the fleet controller consumes.
// Implementations must return ErrNotFound (possibly wrapped) when the target
// container does not exist.
type Client interface {
	// Ping verifies the runtime daemon is reachable.
	Ping(ctx context.Context) error
	// ListContainers lists containers; with all set, stopped ones are included.
	ListContainers(ctx context.Context, all bool) ([]ContainerInfo, error)
	// RunContainer creates and starts a container, returning its id.
	RunContainer(ctx context.Context, opts RunOptions) (string, error)
	// InspectContainer resolves a container by id or name.
	InspectContainer(ctx context.Context, nameOrID string) (ContainerDetail, error)
	// StartContainer starts a stopped container.
	StartContainer(ctx context.Context, id string) error
	// StopContainer stops a container, force-killing after the grace period.
	StopContainer(ctx context.Context, id string, grace time.Duration) error
	// RestartContainer restarts a container with the given grace period.
	RestartContainer(ctx context.Context, id string, grace time.Duration) error
	// RemoveContainer removes a container.
	RemoveContainer(ctx context.Context, id string, force bool) error
	// ContainerLogs returns the last tail lines of combined output.
	ContainerLogs(ctx context.Context, id string, tail int) (string, error)
	// ContainerStats returns a single stats sample.
	ContainerStats(ctx context.Context, id string) (StatsSample, error)
	// WaitContainer blocks until the container exits or the timeout elapses,
	// returning the exit code.
	WaitContainer(ctx context.Context, id string, timeout time.Duration) (int64, error)
	// PullImage pulls an image from its registry.
	PullImage(ctx context.Context, ref string) error
	// Close releases the client.
	Close() error
}
