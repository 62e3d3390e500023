package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/forgecore/pkg/hashing"
)

func TestNewSpecRejectsInputOutputOverlap(t *testing.T) {
	inputs := map[string]hashing.Digest{"a.txt": hashing.Sum([]byte("a"))}
	_, err := NewSpec(hashing.Sum([]byte("action")), PoolNative, inputs, []string{"a.txt"}, t.TempDir())
	require.Error(t, err)
}

func TestNewSpecAcceptsDisjointInputOutput(t *testing.T) {
	inputs := map[string]hashing.Digest{"a.txt": hashing.Sum([]byte("a"))}
	spec, err := NewSpec(hashing.Sum([]byte("action")), PoolNative, inputs, []string{"b.txt"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, PoolNative, spec.Pool)
}

func TestPreCheckRejectsUndeclaredFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leftover.txt"), []byte("stale"), 0o644))

	spec := &SandboxSpec{WorkDir: dir, Inputs: map[string]hashing.Digest{}}
	err := PreCheck(spec)
	require.Error(t, err)
}

func TestPreCheckAcceptsDeclaredInputs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in.txt"), []byte("ok"), 0o644))

	spec := &SandboxSpec{
		WorkDir: dir,
		Inputs:  map[string]hashing.Digest{"in.txt": hashing.Sum([]byte("ok"))},
	}
	require.NoError(t, PreCheck(spec))
}

func TestPostCheckDetectsMissingOutput(t *testing.T) {
	dir := t.TempDir()
	spec := &SandboxSpec{WorkDir: dir, Outputs: []string{"out.txt"}}

	violations, err := PostCheck(spec)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "out.txt", violations[0].Path)
}

func TestPostCheckDetectsUndeclaredOutput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "surprise.txt"), []byte("x"), 0o644))
	spec := &SandboxSpec{WorkDir: dir}

	violations, err := PostCheck(spec)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "surprise.txt", violations[0].Path)
}

func TestPostCheckCleanWhenOutputsMatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("x"), 0o644))
	spec := &SandboxSpec{WorkDir: dir, Outputs: []string{"out.txt"}}

	violations, err := PostCheck(spec)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestPollingBackendReportsCPUViolation(t *testing.T) {
	backend := NewCgroupBackend() // resolves to the polling fallback off Linux, the native one on Linux
	spec := &SandboxSpec{
		ActionID: hashing.Sum([]byte("a")),
		Limits:   ResourceLimits{MaxCPUTimeMs: 1},
	}
	monitor, err := backend.NewMonitor(spec)
	require.NoError(t, err)
	require.NoError(t, monitor.Start())
	time.Sleep(5 * time.Millisecond)

	_, err = monitor.Snapshot()
	require.NoError(t, err)

	violations, err := monitor.Stop()
	require.NoError(t, err)
	if len(violations) > 0 {
		assert.Equal(t, ResourceCPU, violations[0].Type)
	}
}

func TestRegistryGetUnknownPool(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(PoolVM)
	assert.False(t, ok)
}

func TestRegistryGetRegisteredPool(t *testing.T) {
	r := NewRegistry()
	r.Register(NewCgroupBackend())
	b, ok := r.Get(PoolNative)
	require.True(t, ok)
	assert.Equal(t, PoolNative, b.Name())
}
