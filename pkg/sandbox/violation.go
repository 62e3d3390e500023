package sandbox

import (
	"fmt"

	"github.com/forgecore/forgecore/pkg/ferr"
)

// ViolationType classifies a SandboxViolation (§4.5).
type ViolationType string

const (
	ViolationFilesystemWrite ViolationType = "filesystem_write"
	ViolationFilesystemRead  ViolationType = "filesystem_read"
	ViolationNetwork         ViolationType = "network"
	ViolationProcess         ViolationType = "process"
)

// Violation carries {type, attempted path, command, pid, metadata} (§4.5).
type Violation struct {
	Type     ViolationType
	Path     string
	Command  string
	PID      int
	Metadata map[string]string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("sandbox violation: %s at %q (pid=%d, cmd=%q)", v.Type, v.Path, v.PID, v.Command)
}

// AsFerr wraps the violation as a non-retryable ferr.Error of kind Sandbox
// (§7: SandboxViolation never retries and propagates failure to
// dependents).
func (v *Violation) AsFerr(op string) *ferr.Error {
	return ferr.New(ferr.KindSandbox, op, v.Path, v)
}

func errOverlap(path string) error {
	return (&Violation{Type: ViolationFilesystemWrite, Path: path, Metadata: map[string]string{"reason": "declared as both input and output"}}).AsFerr("sandbox.NewSpec")
}

// ResourceViolationType classifies a ResourceViolation (§4.5 / §7).
type ResourceViolationType string

const (
	ResourceMemory  ResourceViolationType = "memory"
	ResourceCPU     ResourceViolationType = "cpu"
	ResourcePIDs    ResourceViolationType = "pids"
	ResourceDiskIO  ResourceViolationType = "disk_io"
	ResourceNetIO   ResourceViolationType = "network_io"
)

// ResourceViolation carries the limit type, the observed value, the
// configured limit, and a formatted human message (§4.5).
type ResourceViolation struct {
	Type    ResourceViolationType
	Actual  int64
	Limit   int64
	Message string
}

func (r *ResourceViolation) Error() string { return r.Message }

func (r *ResourceViolation) AsFerr(op, target string) *ferr.Error {
	return ferr.New(ferr.KindResource, op, target, r)
}
