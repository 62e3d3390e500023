//go:build linux

package sandbox

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/forgecore/forgecore/pkg/ferr"
)

const cgroupRoot = "/sys/fs/cgroup"

// cgroupBackend governs one action through a fresh cgroup v2 leaf under
// the unified hierarchy: memory.max, cpu.weight, and pids.max are set
// before the action's process is added to the cgroup (§4.5: "on supported
// Linux hosts, resources are governed through the unified cgroup
// hierarchy").
type cgroupBackend struct{}

func NewCgroupBackend() Backend { return cgroupBackend{} }

func (cgroupBackend) Name() Pool { return PoolNative }

func (cgroupBackend) NewMonitor(spec *SandboxSpec) (ResourceMonitor, error) {
	dir := filepath.Join(cgroupRoot, "forgecore", spec.ActionID.Hex())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ferr.New(ferr.KindIO, "sandbox.cgroupBackend.NewMonitor", spec.ActionID.Hex(), err)
	}
	m := &cgroupMonitor{dir: dir, limits: spec.Limits}
	if err := m.configure(); err != nil {
		return nil, err
	}
	return m, nil
}

type cgroupMonitor struct {
	dir    string
	limits ResourceLimits

	startCPU   time.Duration
	startIO    diskCounters
	peakMemory int64
}

type diskCounters struct{ readBytes, writeBytes int64 }

func (m *cgroupMonitor) configure() error {
	if m.limits.MaxMemoryBytes > 0 {
		if err := m.write("memory.max", strconv.FormatInt(m.limits.MaxMemoryBytes, 10)); err != nil {
			return err
		}
	}
	if m.limits.CPUShares > 0 {
		if err := m.write("cpu.weight", strconv.FormatInt(m.limits.CPUShares, 10)); err != nil {
			return err
		}
	}
	if m.limits.MaxProcesses > 0 {
		if err := m.write("pids.max", strconv.FormatInt(m.limits.MaxProcesses, 10)); err != nil {
			return err
		}
	}
	return nil
}

func (m *cgroupMonitor) write(file, value string) error {
	path := filepath.Join(m.dir, file)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return ferr.New(ferr.KindIO, "sandbox.cgroupMonitor.configure", path, err)
	}
	return nil
}

// AddProcess adds pid to the cgroup; called by the executor once the
// action's subprocess has started.
func (m *cgroupMonitor) AddProcess(pid int) error {
	return m.write("cgroup.procs", strconv.Itoa(pid))
}

func (m *cgroupMonitor) Start() error {
	m.startCPU = m.readCPUTime()
	m.startIO = m.readIOCounters()
	return nil
}

func (m *cgroupMonitor) Snapshot() (Snapshot, error) {
	mem := m.readMemoryCurrent()
	if mem > m.peakMemory {
		m.peakMemory = mem
	}
	io := m.readIOCounters()
	return Snapshot{
		CPUTime:    m.readCPUTime() - m.startCPU,
		PeakMemory: m.peakMemory,
		DiskRead:   io.readBytes - m.startIO.readBytes,
		DiskWrite:  io.writeBytes - m.startIO.writeBytes,
	}, nil
}

func (m *cgroupMonitor) Stop() ([]ResourceViolation, error) {
	snap, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	var violations []ResourceViolation
	if m.limits.MaxMemoryBytes > 0 && snap.PeakMemory > m.limits.MaxMemoryBytes {
		violations = append(violations, ResourceViolation{
			Type: ResourceMemory, Actual: snap.PeakMemory, Limit: m.limits.MaxMemoryBytes,
			Message: fmt.Sprintf("peak memory %d exceeds limit %d", snap.PeakMemory, m.limits.MaxMemoryBytes),
		})
	}
	if m.limits.MaxCPUTimeMs > 0 && snap.CPUTime.Milliseconds() > m.limits.MaxCPUTimeMs {
		violations = append(violations, ResourceViolation{
			Type: ResourceCPU, Actual: snap.CPUTime.Milliseconds(), Limit: m.limits.MaxCPUTimeMs,
			Message: fmt.Sprintf("cpu time %dms exceeds limit %dms", snap.CPUTime.Milliseconds(), m.limits.MaxCPUTimeMs),
		})
	}
	os.RemoveAll(m.dir)
	return violations, nil
}

func (m *cgroupMonitor) readMemoryCurrent() int64 {
	return m.readIntFile("memory.current")
}

func (m *cgroupMonitor) readCPUTime() time.Duration {
	f, err := os.Open(filepath.Join(m.dir, "cpu.stat"))
	if err != nil {
		return 0
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 2 && fields[0] == "usage_usec" {
			usec, _ := strconv.ParseInt(fields[1], 10, 64)
			return time.Duration(usec) * time.Microsecond
		}
	}
	return 0
}

func (m *cgroupMonitor) readIOCounters() diskCounters {
	f, err := os.Open(filepath.Join(m.dir, "io.stat"))
	if err != nil {
		return diskCounters{}
	}
	defer f.Close()
	var c diskCounters
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		for _, field := range strings.Fields(sc.Text()) {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			v, _ := strconv.ParseInt(kv[1], 10, 64)
			switch kv[0] {
			case "rbytes":
				c.readBytes += v
			case "wbytes":
				c.writeBytes += v
			}
		}
	}
	return c
}

func (m *cgroupMonitor) readIntFile(name string) int64 {
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if err != nil {
		return 0
	}
	v, _ := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	return v
}
