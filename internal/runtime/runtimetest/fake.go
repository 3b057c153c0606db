// Package runtimetest provides an in-memory runtime.Client for tests.
package runtimetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openshapes/fleet/internal/runtime"
)

// FakeContainer is the fake's record of one container.
type FakeContainer struct {
	ID        string
	Name      string
	State     string // "running" or "exited"
	CreatedAt time.Time
	StartedAt time.Time
	Labels    runtime.Labels
	Options   runtime.RunOptions
}

// Fake is a stateful in-memory implementation of runtime.Client. Error fields
// can be set to force the corresponding call to fail; RunHook runs on every
// RunContainer and can simulate side effects of the container's process (a
// parse stage writing its output file, for example).
type Fake struct {
	mu         sync.Mutex
	containers map[string]*FakeContainer
	seq        int

	PingErr    error
	ListErr    error
	RunErr     error
	InspectErr error
	StartErr   error
	StopErr    error
	RestartErr error
	RemoveErr  error
	LogsErr    error
	StatsErr   error
	WaitErr    error
	PullErr    error

	// RunHook, when set, runs inside RunContainer before the container record
	// is stored. Returning an error fails the run.
	RunHook func(opts runtime.RunOptions) error

	// WaitExitCode is returned by WaitContainer; the waited container is
	// marked exited.
	WaitExitCode int64

	// Logs is returned by ContainerLogs.
	Logs string

	// Stats is returned by ContainerStats.
	Stats runtime.StatsSample

	// Pulled records image references passed to PullImage.
	Pulled []string

	// Removed records ids passed to RemoveContainer.
	Removed []string
}

// NewFake creates an empty fake runtime.
func NewFake() *Fake {
	return &Fake{containers: make(map[string]*FakeContainer)}
}

// Seed inserts a container directly, bypassing RunContainer. State should be
// "running" or "exited".
func (f *Fake) Seed(name, state string, labels runtime.Labels) *FakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seed(name, state, labels, runtime.RunOptions{})
}

func (f *Fake) seed(name, state string, labels runtime.Labels, opts runtime.RunOptions) *FakeContainer {
	f.seq++
	c := &FakeContainer{
		ID:        fmt.Sprintf("fake-%04d", f.seq),
		Name:      name,
		State:     state,
		CreatedAt: time.Now().UTC(),
		Labels:    labels,
		Options:   opts,
	}
	if state == "running" {
		c.StartedAt = time.Now().UTC()
	}
	f.containers[c.ID] = c
	return c
}

// Container returns the container with the given id or name, if any.
func (f *Fake) Container(nameOrID string) (*FakeContainer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(nameOrID)
	return c, ok
}

func (f *Fake) lookup(nameOrID string) (*FakeContainer, bool) {
	if c, ok := f.containers[nameOrID]; ok {
		return c, true
	}
	for _, c := range f.containers {
		if c.Name == nameOrID {
			return c, true
		}
	}
	return nil, false
}

// Len returns the number of containers the fake holds.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// Ping implements runtime.Client.
func (f *Fake) Ping(ctx context.Context) error {
	return f.PingErr
}

// ListContainers implements runtime.Client.
func (f *Fake) ListContainers(ctx context.Context, all bool) ([]runtime.ContainerInfo, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var infos []runtime.ContainerInfo
	for _, c := range f.containers {
		if !all && c.State != "running" {
			continue
		}
		infos = append(infos, runtime.ContainerInfo{
			ID:        c.ID,
			Name:      c.Name,
			State:     c.State,
			CreatedAt: c.CreatedAt,
			Labels:    c.Labels,
		})
	}
	return infos, nil
}

// RunContainer implements runtime.Client.
func (f *Fake) RunContainer(ctx context.Context, opts runtime.RunOptions) (string, error) {
	if f.RunErr != nil {
		return "", f.RunErr
	}
	if f.RunHook != nil {
		if err := f.RunHook(opts); err != nil {
			return "", err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if opts.Name != "" {
		if _, exists := f.lookup(opts.Name); exists {
			return "", fmt.Errorf("conflict: container name %q already in use", opts.Name)
		}
	}
	labels, _ := runtime.ParseLabels(opts.Labels)
	c := f.seed(opts.Name, "running", labels, opts)
	return c.ID, nil
}

// InspectContainer implements runtime.Client.
func (f *Fake) InspectContainer(ctx context.Context, nameOrID string) (runtime.ContainerDetail, error) {
	if f.InspectErr != nil {
		return runtime.ContainerDetail{}, f.InspectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.lookup(nameOrID)
	if !ok {
		return runtime.ContainerDetail{}, fmt.Errorf("%w: %s", runtime.ErrNotFound, nameOrID)
	}
	return runtime.ContainerDetail{
		ID:        c.ID,
		Name:      c.Name,
		State:     c.State,
		Running:   c.State == "running",
		StartedAt: c.StartedAt,
	}, nil
}

// StartContainer implements runtime.Client.
func (f *Fake) StartContainer(ctx context.Context, id string) error {
	if f.StartErr != nil {
		return f.StartErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", runtime.ErrNotFound, id)
	}
	c.State = "running"
	c.StartedAt = time.Now().UTC()
	return nil
}

// StopContainer implements runtime.Client.
func (f *Fake) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	if f.StopErr != nil {
		return f.StopErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", runtime.ErrNotFound, id)
	}
	c.State = "exited"
	return nil
}

// RestartContainer implements runtime.Client.
func (f *Fake) RestartContainer(ctx context.Context, id string, grace time.Duration) error {
	if f.RestartErr != nil {
		return f.RestartErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", runtime.ErrNotFound, id)
	}
	c.State = "running"
	c.StartedAt = time.Now().UTC()
	return nil
}

// RemoveContainer implements runtime.Client.
func (f *Fake) RemoveContainer(ctx context.Context, id string, force bool) error {
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", runtime.ErrNotFound, id)
	}
	if !force && c.State == "running" {
		return fmt.Errorf("cannot remove running container %s without force", id)
	}
	delete(f.containers, c.ID)
	f.Removed = append(f.Removed, c.ID)
	return nil
}

// ContainerLogs implements runtime.Client.
func (f *Fake) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	if f.LogsErr != nil {
		return "", f.LogsErr
	}
	if _, ok := f.Container(id); !ok {
		return "", fmt.Errorf("%w: %s", runtime.ErrNotFound, id)
	}
	if tail > 0 {
		lines := strings.Split(strings.TrimRight(f.Logs, "\n"), "\n")
		if len(lines) > tail {
			return strings.Join(lines[len(lines)-tail:], "\n"), nil
		}
	}
	return f.Logs, nil
}

// ContainerStats implements runtime.Client.
func (f *Fake) ContainerStats(ctx context.Context, id string) (runtime.StatsSample, error) {
	if f.StatsErr != nil {
		return runtime.StatsSample{}, f.StatsErr
	}
	if _, ok := f.Container(id); !ok {
		return runtime.StatsSample{}, fmt.Errorf("%w: %s", runtime.ErrNotFound, id)
	}
	return f.Stats, nil
}

// WaitContainer implements runtime.Client.
func (f *Fake) WaitContainer(ctx context.Context, id string, timeout time.Duration) (int64, error) {
	if f.WaitErr != nil {
		return 0, f.WaitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.lookup(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", runtime.ErrNotFound, id)
	}
	c.State = "exited"
	return f.WaitExitCode, nil
}

// PullImage implements runtime.Client.
func (f *Fake) PullImage(ctx context.Context, ref string) error {
	if f.PullErr != nil {
		return f.PullErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pulled = append(f.Pulled, ref)
	return nil
}

// Close implements runtime.Client.
func (f *Fake) Close() error { return nil }
