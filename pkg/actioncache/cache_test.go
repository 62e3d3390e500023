package actioncache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/hashing"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(Config{Root: dir, WorkspaceKey: hashing.DeriveKey("test-workspace", []byte("secret"))}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	fp := hashing.Sum([]byte("action-one"))
	entry := &Entry{
		ExitCode: 0,
		Outputs: []OutputFile{
			{Path: "out/a.o", Digest: hashing.Sum([]byte("a.o content"))},
		},
		Metadata: map[string]string{"duration_ms": "120"},
	}

	require.NoError(t, c.Put(fp, entry))

	got, err := c.Get(fp)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ExitCode)
	assert.Equal(t, "out/a.o", got.Outputs[0].Path)
	assert.Equal(t, "120", got.Metadata["duration_ms"])
}

func TestGetMissIsPromotable(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Get(hashing.Sum([]byte("never-put")))
	require.Error(t, err)
	assert.True(t, ferr.IsPromotableMiss(err))
}

func TestPutIdempotentForSameFingerprint(t *testing.T) {
	c := newTestCache(t)
	fp := hashing.Sum([]byte("action-two"))
	entry := &Entry{ExitCode: 0}

	require.NoError(t, c.Put(fp, entry))
	require.NoError(t, c.Put(fp, entry)) // second put with same content is a no-op

	got, err := c.Get(fp)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ExitCode)
}

func TestWorkspaceIsolation(t *testing.T) {
	dir := t.TempDir()
	c1, err := Open(Config{Root: dir, WorkspaceKey: hashing.DeriveKey("ws-a", nil)}, nil)
	require.NoError(t, err)
	defer c1.Close()

	c2, err := Open(Config{Root: dir, WorkspaceKey: hashing.DeriveKey("ws-b", nil)}, nil)
	require.NoError(t, err)
	defer c2.Close()

	fp := hashing.Sum([]byte("shared-action"))
	require.NoError(t, c1.Put(fp, &Entry{ExitCode: 1}))

	_, err = c2.Get(fp)
	assert.Error(t, err, "an entry written under one workspace secret must not be visible under another")
}
