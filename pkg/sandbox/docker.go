package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/forgecore/forgecore/pkg/ferr"
)

// DockerClient is the subset of the Docker SDK forgecore needs, mirrored
// from eve.evalgo.org/common's DockerClient interface so the backend can be
// exercised against a fake in tests the same way common/docker_mock.go
// does for its own callers.
type DockerClient interface {
	ContainerCreate(ctx context.Context, config *containertypes.Config, hostConfig *containertypes.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, name string) (containertypes.CreateResponse, error)
	ContainerStart(ctx context.Context, id string, options containertypes.StartOptions) error
	ContainerWait(ctx context.Context, id string, condition containertypes.WaitCondition) (<-chan containertypes.WaitResponse, <-chan error)
	ContainerStats(ctx context.Context, id string, stream bool) (containertypes.StatsResponseReader, error)
	ContainerRemove(ctx context.Context, id string, options containertypes.RemoveOptions) error
	Close() error
}

// dockerBackend serves platform properties that request pool=docker
// (§4.7 platform properties -> container image): its monitor starts a
// container from spec.ContainerImage with the spec's memory, pids and
// network limits, and reads memory usage through ContainerStats. The
// action's command itself is not run in that container: Executor.Run
// starts it as a host subprocess, as for every backend.
type dockerBackend struct {
	cli DockerClient
}

func NewDockerBackend(cli DockerClient) Backend { return &dockerBackend{cli: cli} }

func (*dockerBackend) Name() Pool { return PoolDocker }

func (d *dockerBackend) NewMonitor(spec *SandboxSpec) (ResourceMonitor, error) {
	if spec.ContainerImage == "" {
		return nil, ferr.New(ferr.KindConfig, "sandbox.dockerBackend.NewMonitor", spec.ActionID.Hex(), nil).
			WithRemedy("platform properties must declare a container-image for pool=docker")
	}
	return &dockerMonitor{cli: d.cli, spec: spec}, nil
}

type dockerMonitor struct {
	cli         DockerClient
	spec        *SandboxSpec
	containerID string
	peakMemory  int64
}

// hostConfig translates SandboxSpec.Limits into Docker's resource
// constraints, the resource-accounting analogue of the native cgroup path.
func (m *dockerMonitor) hostConfig() *containertypes.HostConfig {
	hc := &containertypes.HostConfig{
		Resources: containertypes.Resources{
			Memory:   m.spec.Limits.MaxMemoryBytes,
			PidsLimit: &m.spec.Limits.MaxProcesses,
		},
	}
	if m.spec.NetworkOff {
		hc.NetworkMode = "none"
	}
	return hc
}

func (m *dockerMonitor) Start() error {
	ctx := context.Background()
	// A fresh suffix per attempt means a retried action (§4.4 RetryPolicy)
	// never collides with a container name Stop failed to remove.
	name := fmt.Sprintf("forgecore-%s-%s", m.spec.ActionID.Hex()[:16], uuid.NewString()[:8])
	resp, err := m.cli.ContainerCreate(ctx, &containertypes.Config{
		Image:      m.spec.ContainerImage,
		WorkingDir: m.spec.WorkDir,
	}, m.hostConfig(), nil, nil, name)
	if err != nil {
		return ferr.New(ferr.KindExecution, "sandbox.dockerMonitor.Start", m.spec.ActionID.Hex(), err)
	}
	m.containerID = resp.ID
	if err := m.cli.ContainerStart(ctx, m.containerID, containertypes.StartOptions{}); err != nil {
		return ferr.New(ferr.KindExecution, "sandbox.dockerMonitor.Start", m.containerID, err)
	}
	return nil
}

// AddProcess is a no-op for the docker backend: the action's local PID
// plays no part in the container's own cgroup, which Snapshot reads
// through ContainerStats instead of the host's /sys/fs/cgroup.
func (m *dockerMonitor) AddProcess(pid int) error { return nil }

func (m *dockerMonitor) Snapshot() (Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stats, err := m.cli.ContainerStats(ctx, m.containerID, false)
	if err != nil {
		return Snapshot{}, ferr.New(ferr.KindNetwork, "sandbox.dockerMonitor.Snapshot", m.containerID, err)
	}
	defer stats.Body.Close()

	var frame containertypes.StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&frame); err != nil {
		return Snapshot{}, ferr.New(ferr.KindNetwork, "sandbox.dockerMonitor.Snapshot", m.containerID, err)
	}
	if usage := int64(frame.MemoryStats.MaxUsage); usage > m.peakMemory {
		m.peakMemory = usage
	}
	return Snapshot{PeakMemory: m.peakMemory}, nil
}

func (m *dockerMonitor) Stop() ([]ResourceViolation, error) {
	ctx := context.Background()
	statusCh, errCh := m.cli.ContainerWait(ctx, m.containerID, containertypes.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, ferr.New(ferr.KindExecution, "sandbox.dockerMonitor.Stop", m.containerID, err)
		}
	case <-statusCh:
	}
	_ = m.cli.ContainerRemove(ctx, m.containerID, containertypes.RemoveOptions{Force: true})

	var violations []ResourceViolation
	if m.spec.Limits.MaxMemoryBytes > 0 && m.peakMemory > m.spec.Limits.MaxMemoryBytes {
		violations = append(violations, ResourceViolation{
			Type: ResourceMemory, Actual: m.peakMemory, Limit: m.spec.Limits.MaxMemoryBytes,
		})
	}
	return violations, nil
}

// NewDockerClient builds a real Docker SDK client negotiated against the
// daemon's API version, the client.NewClientWithOpts alternative
// common.CtxCli documents alongside its own client.NewClient(socket, ...)
// call. Callers that already have a DockerClient (a fake, in tests) pass
// it to NewDockerBackend directly instead of going through here.
func NewDockerClient(host string) (DockerClient, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, ferr.New(ferr.KindConfig, "sandbox.NewDockerClient", host, err)
	}
	return cli, nil
}
