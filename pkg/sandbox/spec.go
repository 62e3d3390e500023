// Package sandbox implements C5: hermetic action execution. A SandboxSpec
// describes one action's isolation requirements; a Backend constructs the
// concrete isolation mechanism (native cgroup, Docker container, or
// libvirt VM) and exposes the same ResourceMonitor contract regardless of
// backend, per §4.5. Backend selection follows Design Note "dynamic
// handler registry keyed by language string -> typed enum with a Handler
// capability": Pool names one of a closed set of backends, and a Pool with
// no registered Backend is rejected by Registry.Get when Executor.Run
// selects the backend, rather than falling through to a default.
package sandbox

import (
	"time"

	"github.com/forgecore/forgecore/pkg/hashing"
)

// Pool enumerates the isolation backends an action's platform properties
// may request (mapped from REAPI platform properties in pkg/reapi).
type Pool string

const (
	PoolNative Pool = "native" // cgroup-backed on Linux, best-effort elsewhere
	PoolDocker Pool = "docker"
	PoolVM     Pool = "vm"
)

// SandboxSpec is {inputs, outputs, working directory, env allowlist,
// resource limits, network policy} from §3. The invariant I ∩ O = ∅ is
// enforced by NewSpec and re-checked by the hermeticity verifier before
// execution.
type SandboxSpec struct {
	ActionID    hashing.Digest
	Pool        Pool
	Inputs      map[string]hashing.Digest // declared input path -> content digest
	Outputs     []string                  // declared output paths (write-only)
	WorkDir     string
	EnvAllow    []string
	Limits      ResourceLimits
	NetworkOff  bool // true means the action has no network policy grant
	Timeout     time.Duration
	ContainerImage string // Pool == PoolDocker: OCI image ref
	VMImagePath    string // Pool == PoolVM: base disk image for the ephemeral domain
	LibvirtSocket  string // Pool == PoolVM: libvirt connection URI
}

// ResourceLimits is §3's ResourceLimits entity.
type ResourceLimits struct {
	MaxMemoryBytes int64
	MaxCPUTimeMs   int64
	MaxProcesses   int64
	MaxFileSize    int64
	MaxDiskIO      int64
	MaxNetworkIO   int64
	CPUShares      int64
}

// NewSpec validates I ∩ O = ∅ at construction time (§4.5 hermeticity
// contract, pre-execution half).
func NewSpec(actionID hashing.Digest, pool Pool, inputs map[string]hashing.Digest, outputs []string, workDir string) (*SandboxSpec, error) {
	outSet := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		outSet[o] = true
	}
	for in := range inputs {
		if outSet[in] {
			return nil, errOverlap(in)
		}
	}
	return &SandboxSpec{
		ActionID: actionID,
		Pool:     pool,
		Inputs:   inputs,
		Outputs:  outputs,
		WorkDir:  workDir,
	}, nil
}
