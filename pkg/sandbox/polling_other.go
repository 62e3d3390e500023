//go:build !linux

package sandbox

import "time"

// pollingBackend is the best-effort ResourceMonitor used on macOS and
// Windows where no cgroup-equivalent unified accounting exists (§4.5:
// "equivalent mechanisms (or a best-effort polling monitor) are used").
// It tracks wall-clock CPU time only; memory/disk/network accounting is
// left at zero and callers should not rely on it for hard enforcement on
// these platforms.
type pollingBackend struct{}

func NewCgroupBackend() Backend { return pollingBackend{} }

func (pollingBackend) Name() Pool { return PoolNative }

func (pollingBackend) NewMonitor(spec *SandboxSpec) (ResourceMonitor, error) {
	return &pollingMonitor{limits: spec.Limits}, nil
}

type pollingMonitor struct {
	limits ResourceLimits
	start  time.Time
	pid    int
}

func (m *pollingMonitor) Start() error {
	m.start = time.Now()
	return nil
}

// AddProcess records pid for diagnostics; this backend has no portable
// cross-platform API to sample a given PID's memory/IO, so accounting stays
// wall-clock-only as documented above.
func (m *pollingMonitor) AddProcess(pid int) error {
	m.pid = pid
	return nil
}

func (m *pollingMonitor) Snapshot() (Snapshot, error) {
	return Snapshot{CPUTime: time.Since(m.start)}, nil
}

func (m *pollingMonitor) Stop() ([]ResourceViolation, error) {
	snap, _ := m.Snapshot()
	var violations []ResourceViolation
	if m.limits.MaxCPUTimeMs > 0 && snap.CPUTime.Milliseconds() > m.limits.MaxCPUTimeMs {
		violations = append(violations, ResourceViolation{
			Type: ResourceCPU, Actual: snap.CPUTime.Milliseconds(), Limit: m.limits.MaxCPUTimeMs,
			Message: "wall-clock time exceeded the configured CPU time limit",
		})
	}
	return violations, nil
}
