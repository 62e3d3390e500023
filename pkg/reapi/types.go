// Package reapi implements C7: translation between forgecore's native
// action model and a REAPI-shaped wire protocol, while keeping BLAKE3 as
// the native digest function throughout (§4.7: "the adapter explicitly
// documents that the digest function is BLAKE3, not SHA-256").
package reapi

import (
	"github.com/forgecore/forgecore/pkg/hashing"
	"github.com/forgecore/forgecore/pkg/sandbox"
)

// Digest is the REAPI-shaped {hash, size_bytes} pair; ActionIdToDigest
// and DigestToActionId convert between this and a native hashing.Digest.
type Digest struct {
	Hash      string
	SizeBytes int64
}

// ActionIdToDigest converts a native action id to its REAPI wire shape.
// size is the byte length of the action's canonical serialization, which
// the caller already has on hand from the fingerprinting step.
func ActionIdToDigest(id hashing.Digest, size int64) Digest {
	return Digest{Hash: id.Hex(), SizeBytes: size}
}

// DigestToActionId converts a REAPI digest back to a native action id.
// The hash is read as a BLAKE3 digest. Only its hex form and 32-byte
// length are checked, so a SHA-256 digest from another peer is accepted
// as-is; SizeBytes is ignored.
func DigestToActionId(d Digest) (hashing.Digest, error) {
	return parseHex(d.Hash)
}

// InputSpec is one {artifact-id, declared-path, exec-bit} entry from the
// wire format's inputs section (§6.4).
type InputSpec struct {
	ArtifactID hashing.Digest
	Path       string
	ExecBit    bool
}

// OutputSpec is one {declared-path, is-directory} entry (§6.4).
type OutputSpec struct {
	Path        string
	IsDirectory bool
}

// Capability advertises a single REAPI platform-properties key/value,
// e.g. {"OSFamily", "linux"} or {"container-image", "golang:1.24"}.
type Capability struct {
	Name  string
	Value string
}

// HashFunctionCapability names this server's digest function: BLAKE3, not
// the usual SHA-256. No Server endpoint sends it to peers.
const HashFunctionCapability = "blake3"

// ActionRequest is the full wire shape of §6.4: {action-id, command, env,
// inputs, outputs, capabilities, priority, timeout-ms}.
type ActionRequest struct {
	ActionID     hashing.Digest
	Command      string
	Env          map[string]string
	Inputs       []InputSpec
	Outputs      []OutputSpec
	Capabilities []Capability
	Priority     uint8
	TimeoutMs    int64
}

// ToSandboxSpec builds a SandboxSpec from the request's inputs and outputs.
// From the capability set it reads only "pool" (docker or vm, else native),
// "container-image" and "vm-image"; other capabilities, OS family included,
// are ignored, and no resource limits are set.
func (r *ActionRequest) ToSandboxSpec(workDir string) (*sandbox.SandboxSpec, error) {
	inputs := make(map[string]hashing.Digest, len(r.Inputs))
	var outputs []string
	for _, in := range r.Inputs {
		inputs[in.Path] = in.ArtifactID
	}
	for _, out := range r.Outputs {
		outputs = append(outputs, out.Path)
	}

	spec, err := sandbox.NewSpec(r.ActionID, r.pool(), inputs, outputs, workDir)
	if err != nil {
		return nil, err
	}
	for _, c := range r.Capabilities {
		switch c.Name {
		case "container-image":
			spec.ContainerImage = c.Value
		case "vm-image":
			spec.VMImagePath = c.Value
		}
	}
	return spec, nil
}

func (r *ActionRequest) pool() sandbox.Pool {
	for _, c := range r.Capabilities {
		if c.Name == "pool" {
			switch c.Value {
			case "docker":
				return sandbox.PoolDocker
			case "vm":
				return sandbox.PoolVM
			}
		}
	}
	return sandbox.PoolNative
}

// ActionResult is the cached outcome of executing an action, keyed by
// action digest (§4.7: "action result cache get/update: query and write
// entries keyed by action digest").
type ActionResult struct {
	ActionDigest Digest
	ExitCode     int32
	OutputFiles  []OutputSpec
	OutputHashes map[string]hashing.Digest
	Stdout       hashing.Digest
	Stderr       hashing.Digest
}

// OperationStatus mirrors statemanager.Status (statemanager/operation.go)
// narrowed to the states an Execute poll can observe.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
	OperationTimeout   OperationStatus = "timeout"
)

// Operation is the long-running-operation resource exposed at
// GET /v2/operations/{name}.
type Operation struct {
	Name   string
	Status OperationStatus
	Result *ActionResult
	Error  string
}
