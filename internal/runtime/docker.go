package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
)

// DockerClient implements Client on top of the Docker Engine API.
type DockerClient struct {
	cli    *client.Client
	logger *logrus.Logger
}

// NewDockerClient creates a Docker runtime client from the environment
// (DOCKER_HOST et al), negotiating the API version with the daemon.
func NewDockerClient(logger *logrus.Logger) (*DockerClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerClient{cli: cli, logger: logger}, nil
}

// Ping verifies the Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// ListContainers lists containers known to the daemon. Containers that do not
// carry the full ownership label set are returned with empty Labels; callers
// filter on Labels.ManagedBy.
func (d *DockerClient) ListContainers(ctx context.Context, all bool) ([]ContainerInfo, error) {
	summaries, err := d.cli.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	infos := make([]ContainerInfo, 0, len(summaries))
	for _, s := range summaries {
		labels, ok := ParseLabels(s.Labels)
		if !ok {
			// Not one of ours; keep it visible to callers that list everything
			// but with no ownership claim.
			labels = Labels{}
		}
		name := ""
		if len(s.Names) > 0 {
			name = strings.TrimPrefix(s.Names[0], "/")
		}
		infos = append(infos, ContainerInfo{
			ID:        s.ID,
			Name:      name,
			State:     s.State,
			CreatedAt: time.Unix(s.Created, 0).UTC(),
			Labels:    labels,
		})
	}
	return infos, nil
}

// RunContainer creates and starts a container from opts.
func (d *DockerClient) RunContainer(ctx context.Context, opts RunOptions) (string, error) {
	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image:      opts.Image,
		Cmd:        strslice.StrSlice(opts.Command),
		Env:        env,
		WorkingDir: opts.WorkingDir,
		Labels:     opts.Labels,
	}
	hostCfg := &container.HostConfig{
		Binds: opts.Binds,
	}
	if opts.RestartPolicy != "" {
		hostCfg.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(opts.RestartPolicy),
		}
	}

	created, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", opts.Name, err)
	}
	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", opts.Name, err)
	}
	return created.ID, nil
}

// InspectContainer resolves a container by id or name.
func (d *DockerClient) InspectContainer(ctx context.Context, nameOrID string) (ContainerDetail, error) {
	info, err := d.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerDetail{}, fmt.Errorf("%w: %s", ErrNotFound, nameOrID)
		}
		return ContainerDetail{}, fmt.Errorf("failed to inspect container %s: %w", nameOrID, err)
	}

	detail := ContainerDetail{
		ID:   info.ID,
		Name: strings.TrimPrefix(info.Name, "/"),
	}
	if info.State != nil {
		detail.State = info.State.Status
		detail.Running = info.State.Running
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil && t.Unix() > 0 {
			detail.StartedAt = t
		}
	}
	return detail, nil
}

// StartContainer starts a stopped container.
func (d *DockerClient) StartContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

// StopContainer stops a container, killing it after the grace period.
func (d *DockerClient) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace.Seconds())
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	return nil
}

// RestartContainer restarts a container with the given grace period.
func (d *DockerClient) RestartContainer(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace.Seconds())
	if err := d.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to restart container %s: %w", id, err)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *DockerClient) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

// ContainerLogs returns the last tail lines of demultiplexed combined output.
// A tail of 0 or less returns the whole log.
func (d *DockerClient) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	rc, err := d.cli.ContainerLogs(ctx, id, opts)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", fmt.Errorf("failed to get logs for container %s: %w", id, err)
	}
	defer rc.Close()

	// Docker multiplexes stdout/stderr on one stream for non-TTY containers;
	// interleave both into a single buffer.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("failed to read logs for container %s: %w", id, err)
	}
	return buf.String(), nil
}

// ContainerStats fetches one non-streaming stats sample.
func (d *DockerClient) ContainerStats(ctx context.Context, id string) (StatsSample, error) {
	resp, err := d.cli.ContainerStats(ctx, id, false)
	if err != nil {
		if client.IsErrNotFound(err) {
			return StatsSample{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return StatsSample{}, fmt.Errorf("failed to get stats for container %s: %w", id, err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return StatsSample{}, fmt.Errorf("failed to decode stats for container %s: %w", id, err)
	}

	cores := len(stats.CPUStats.CPUUsage.PercpuUsage)
	if cores == 0 {
		cores = int(stats.CPUStats.OnlineCPUs)
	}
	if cores == 0 {
		cores = 1
	}

	return StatsSample{
		CPUTotalUsage:    stats.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotalUsage: stats.PreCPUStats.CPUUsage.TotalUsage,
		SystemUsage:      stats.CPUStats.SystemUsage,
		PreSystemUsage:   stats.PreCPUStats.SystemUsage,
		OnlineCPUs:       cores,
		MemoryUsage:      stats.MemoryStats.Usage,
		MemoryLimit:      stats.MemoryStats.Limit,
	}, nil
}

// WaitContainer blocks until the container stops running or the timeout
// elapses, returning the container's exit code.
func (d *DockerClient) WaitContainer(ctx context.Context, id string, timeout time.Duration) (int64, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := d.cli.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if client.IsErrNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return 0, fmt.Errorf("error waiting for container %s: %w", id, err)
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, fmt.Errorf("container %s wait error: %s", id, status.Error.Message)
		}
		return status.StatusCode, nil
	}
}

// PullImage pulls an image reference, draining the progress stream.
func (d *DockerClient) PullImage(ctx context.Context, ref string) error {
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to read pull progress for %s: %w", ref, err)
	}
	d.logger.Infof("Pulled image %s", ref)
	return nil
}

// Close releases the underlying client.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}
