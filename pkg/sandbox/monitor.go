package sandbox

import "time"

// Snapshot is the {cpu_time, peak_memory, disk_read, disk_write, net_rx,
// net_tx} tuple returned by ResourceMonitor.Snapshot (§4.5).
type Snapshot struct {
	CPUTime     time.Duration
	PeakMemory  int64
	DiskRead    int64
	DiskWrite   int64
	NetRx       int64
	NetTx       int64
}

// ResourceMonitor is the abstract contract every platform backend
// implements identically (§4.5): cgroup on Linux, an equivalent mechanism
// on macOS/Windows, a polling fallback otherwise.
type ResourceMonitor interface {
	// Start records initial I/O counters.
	Start() error
	// AddProcess adopts pid into the monitor's accounting scope once the
	// action's subprocess has actually started, e.g. writing it to
	// cgroup.procs on the native Linux backend. Backends whose isolation
	// is already scoped to something other than a local PID (docker, vm)
	// accept the call as a no-op.
	AddProcess(pid int) error
	// Snapshot returns the current resource usage.
	Snapshot() (Snapshot, error)
	// Stop finalizes accounting and returns any limit violations.
	Stop() ([]ResourceViolation, error)
}

// Backend constructs a ResourceMonitor (and, where applicable, the
// process-isolation mechanism itself) for one SandboxSpec.
type Backend interface {
	Name() Pool
	NewMonitor(spec *SandboxSpec) (ResourceMonitor, error)
}

// Registry maps Pool -> Backend, the closed-enum handler registry called
// for in the Design Notes: an unrecognized Pool is rejected by Get rather
// than silently falling through to a default.
type Registry struct {
	backends map[Pool]Backend
}

func NewRegistry() *Registry { return &Registry{backends: make(map[Pool]Backend)} }

func (r *Registry) Register(b Backend) { r.backends[b.Name()] = b }

func (r *Registry) Get(p Pool) (Backend, bool) {
	b, ok := r.backends[p]
	return b, ok
}
