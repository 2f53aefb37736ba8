package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	dockererrdefs "github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/log"
	"github.com/burrowhq/burrow/pkg/types"
)

const (
	cpuPeriod    = 100000 // microseconds
	bytesPerMB   = 1048576
	pollInterval = 500 * time.Millisecond
)

// DockerRuntime implements Runtime against the Docker Engine API. The
// underlying client is safe for concurrent use; no call serializes others.
type DockerRuntime struct {
	cli    *client.Client
	logger zerolog.Logger
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime connects to the engine socket.
func NewDockerRuntime(socketPath string) (*DockerRuntime, error) {
	host := socketPath
	if !strings.Contains(host, "://") {
		host = "unix://" + host
	}

	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime client: %w", err)
	}

	return &DockerRuntime{
		cli:    cli,
		logger: log.WithComponent("runtime"),
	}, nil
}

// categorize maps engine errors into the platform taxonomy.
func categorize(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case dockererrdefs.IsNotFound(err):
		return errdefs.Wrap(errdefs.KindNotFound, msg, err)
	case dockererrdefs.IsConflict(err):
		return errdefs.Wrap(errdefs.KindConflict, msg, err)
	case client.IsErrConnectionFailed(err):
		return errdefs.Wrap(errdefs.KindRuntimeUnavailable, msg, err)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

func (r *DockerRuntime) EnsureImage(ctx context.Context, ref string, progress ProgressFunc) error {
	if progress == nil {
		progress = func(int, string) {}
	}

	if _, _, err := r.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		progress(100, "image present")
		return nil
	} else if !dockererrdefs.IsNotFound(err) {
		return categorize(err, "failed to inspect image")
	}

	reader, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return categorize(err, "failed to pull image")
	}
	defer reader.Close()

	if err := aggregatePullProgress(reader, progress); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}

	progress(100, "image pulled")
	return nil
}

func (r *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, pm := range spec.Ports {
		port, err := nat.NewPort("tcp", fmt.Sprintf("%d", pm.Container))
		if err != nil {
			return "", fmt.Errorf("failed to build port mapping: %w", err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{
			HostIP:   "0.0.0.0",
			HostPort: fmt.Sprintf("%d", pm.Host),
		}}
	}

	memory := int64(spec.MemoryMB) * bytesPerMB

	config := &container.Config{
		Image:        spec.Image,
		Cmd:          strslice.StrSlice(spec.Command),
		Env:          spec.Env,
		ExposedPorts: exposed,
		Labels: map[string]string{
			PlatformLabel: "true",
			"sandbox-id":  spec.SandboxID,
			"user-id":     spec.UserID,
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: bindings,
		NetworkMode:  "bridge",
		// No host bind mounts, ever.
		Binds:       nil,
		CapDrop:     strslice.StrSlice{"ALL"},
		CapAdd:      strslice.StrSlice{"CHOWN", "SETUID", "SETGID"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Resources: container.Resources{
			CPUPeriod:  cpuPeriod,
			CPUQuota:   int64(spec.CPU * cpuPeriod),
			Memory:     memory,
			MemorySwap: memory, // swap disabled
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", categorize(err, "failed to create container")
	}

	r.logger.Debug().Str("container_ref", resp.ID).Str("sandbox_id", spec.SandboxID).
		Msg("container created")
	return resp.ID, nil
}

func (r *DockerRuntime) StartContainer(ctx context.Context, ref string) error {
	if err := r.cli.ContainerStart(ctx, ref, container.StartOptions{}); err != nil {
		return categorize(err, "failed to start container")
	}
	return nil
}

func (r *DockerRuntime) StopContainer(ctx context.Context, ref string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	err := r.cli.ContainerStop(ctx, ref, container.StopOptions{Timeout: &seconds})
	if err != nil {
		// Stopping an already-stopped container is success.
		if dockererrdefs.IsNotFound(err) || dockererrdefs.IsConflict(err) {
			return nil
		}
		return categorize(err, "failed to stop container")
	}
	return nil
}

func (r *DockerRuntime) RestartContainer(ctx context.Context, ref string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	err := r.cli.ContainerRestart(ctx, ref, container.StopOptions{Timeout: &seconds})
	if err != nil {
		return categorize(err, "failed to restart container")
	}
	return nil
}

func (r *DockerRuntime) RemoveContainer(ctx context.Context, ref string) error {
	err := r.cli.ContainerRemove(ctx, ref, container.RemoveOptions{Force: true})
	if err != nil && !dockererrdefs.IsNotFound(err) {
		return categorize(err, "failed to remove container")
	}
	return nil
}

func (r *DockerRuntime) Inspect(ctx context.Context, ref string) (*ContainerState, error) {
	info, err := r.cli.ContainerInspect(ctx, ref)
	if err != nil {
		if dockererrdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, categorize(err, "failed to inspect container")
	}
	if info.State == nil {
		return &ContainerState{Status: "unknown"}, nil
	}
	return &ContainerState{
		Status:   info.State.Status,
		Running:  info.State.Running,
		ExitCode: info.State.ExitCode,
	}, nil
}

func (r *DockerRuntime) WaitRunning(ctx context.Context, ref string, deadline time.Duration) (bool, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		state, err := r.Inspect(ctx, ref)
		if err != nil {
			return false, err
		}
		if state != nil {
			if state.Running {
				return true, nil
			}
			if state.Status == "exited" || state.Status == "dead" {
				return false, nil
			}
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, nil
		case <-ticker.C:
		}
	}
}

func (r *DockerRuntime) Stats(ctx context.Context, ref string) (*types.ContainerMetrics, error) {
	resp, err := r.cli.ContainerStatsOneShot(ctx, ref)
	if err != nil {
		return nil, categorize(err, "failed to read container stats")
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}

	return computeMetrics(&stats), nil
}

func (r *DockerRuntime) ListOwned(ctx context.Context) ([]string, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", PlatformLabel+"=true")),
	})
	if err != nil {
		return nil, categorize(err, "failed to list containers")
	}

	refs := make([]string, 0, len(containers))
	for _, c := range containers {
		refs = append(refs, c.ID)
	}
	return refs, nil
}

func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return errdefs.Wrap(errdefs.KindRuntimeUnavailable, "runtime unreachable", err)
	}
	return nil
}

func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// computeMetrics derives the one-shot metrics sample from an engine stats
// response. CPU percent follows the engine's own formula:
// (cpu_delta / system_delta) * online_cpus * 100.
func computeMetrics(stats *container.StatsResponse) *types.ContainerMetrics {
	metrics := &types.ContainerMetrics{
		MemoryUsage: stats.MemoryStats.Usage,
		MemoryLimit: stats.MemoryStats.Limit,
	}

	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	onlineCPUs := float64(stats.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && systemDelta > 0 {
		metrics.CPUPercent = (cpuDelta / systemDelta) * onlineCPUs * 100.0
	}

	if metrics.MemoryLimit > 0 {
		metrics.MemoryPercent = float64(metrics.MemoryUsage) / float64(metrics.MemoryLimit) * 100.0
	}

	for _, network := range stats.Networks {
		metrics.NetworkRx += network.RxBytes
		metrics.NetworkTx += network.TxBytes
	}

	for _, entry := range stats.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(entry.Op) {
		case "read":
			metrics.BlockRead += entry.Value
		case "write":
			metrics.BlockWrite += entry.Value
		}
	}

	return metrics
}
