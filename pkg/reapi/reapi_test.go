package reapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/forgecore/pkg/hashing"
)

func TestActionIdDigestRoundTrip(t *testing.T) {
	id := hashing.Sum([]byte("action-42"))
	d := ActionIdToDigest(id, 128)
	assert.Equal(t, id.Hex(), d.Hash)

	back, err := DigestToActionId(d)
	require.NoError(t, err)
	assert.Equal(t, id, back)
}

func TestEncodeDecodeActionRequestRoundTrip(t *testing.T) {
	req := &ActionRequest{
		ActionID: hashing.Sum([]byte("action")),
		Command:  "go build ./...",
		Env:      map[string]string{"GOFLAGS": "-mod=readonly"},
		Inputs: []InputSpec{
			{ArtifactID: hashing.Sum([]byte("main.go")), Path: "main.go", ExecBit: false},
		},
		Outputs: []OutputSpec{
			{Path: "bin/app", IsDirectory: false},
		},
		Capabilities: []Capability{
			{Name: "pool", Value: "docker"},
			{Name: "container-image", Value: "golang:1.24"},
		},
		Priority:  2,
		TimeoutMs: 60000,
	}

	encoded := EncodeActionRequest(req)
	decoded, err := DecodeActionRequest(encoded)
	require.NoError(t, err)

	assert.Equal(t, req.ActionID, decoded.ActionID)
	assert.Equal(t, req.Command, decoded.Command)
	assert.Equal(t, req.Env, decoded.Env)
	assert.Equal(t, req.Inputs, decoded.Inputs)
	assert.Equal(t, req.Outputs, decoded.Outputs)
	assert.Equal(t, req.Capabilities, decoded.Capabilities)
	assert.Equal(t, req.Priority, decoded.Priority)
	assert.Equal(t, req.TimeoutMs, decoded.TimeoutMs)
}

func TestDecodeActionRequestRejectsTruncatedBuffer(t *testing.T) {
	req := &ActionRequest{ActionID: hashing.Sum([]byte("a")), Command: "echo hi"}
	encoded := EncodeActionRequest(req)
	_, err := DecodeActionRequest(encoded[:len(encoded)-3])
	require.Error(t, err)
}

func TestActionRequestToSandboxSpecSelectsDockerPool(t *testing.T) {
	req := &ActionRequest{
		ActionID: hashing.Sum([]byte("action")),
		Inputs:   []InputSpec{{ArtifactID: hashing.Sum([]byte("x")), Path: "in.txt"}},
		Outputs:  []OutputSpec{{Path: "out.txt"}},
		Capabilities: []Capability{
			{Name: "pool", Value: "docker"},
			{Name: "container-image", Value: "golang:1.24"},
		},
	}
	spec, err := req.ToSandboxSpec(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "golang:1.24", spec.ContainerImage)
}

func TestOperationTrackerLifecycle(t *testing.T) {
	tracker := NewOperationTracker(10)
	op := tracker.Start("operations/abc")
	assert.Equal(t, OperationPending, op.Status)

	tracker.Update("operations/abc", OperationCompleted, &ActionResult{ExitCode: 0}, "")
	got := tracker.Get("operations/abc")
	require.NotNil(t, got)
	assert.Equal(t, OperationCompleted, got.Status)
}

func TestOperationTrackerEvictsOldestWhenFull(t *testing.T) {
	tracker := NewOperationTracker(2)
	tracker.Start("operations/a")
	tracker.Start("operations/b")
	tracker.Start("operations/c")

	assert.Nil(t, tracker.Get("operations/a"))
	assert.NotNil(t, tracker.Get("operations/c"))
}
