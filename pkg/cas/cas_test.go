package cas

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/hashing"
)

func newTestServer(t *testing.T) (*httptest.Server, *Store) {
	t.Helper()
	store, err := Open(Config{Root: t.TempDir()}, nil)
	require.NoError(t, err)
	srv := NewServer(store, ServerConfig{BodyLimit: "10M"}, nil)
	return httptest.NewServer(srv.Echo()), store
}

func TestStorePutGetRoundTrip(t *testing.T) {
	store, err := Open(Config{Root: t.TempDir()}, nil)
	require.NoError(t, err)

	data := []byte("hello forgecore")
	digest, err := store.Put(context.Background(), data)
	require.NoError(t, err)

	got, err := store.Get(context.Background(), digest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.True(t, store.Has(digest))
}

func TestStoreGetMissReturnsPromotableMiss(t *testing.T) {
	store, err := Open(Config{Root: t.TempDir()}, nil)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), hashing.Sum([]byte("never written")))
	require.Error(t, err)
	assert.True(t, ferr.IsPromotableMiss(err))
}

func TestServerPutGetHeadDeleteRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	client := NewClient(ts.URL, "")
	data := []byte("round trip payload")

	digest, err := client.Put(context.Background(), data)
	require.NoError(t, err)

	ok, err := client.Has(context.Background(), digest)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := client.Get(context.Background(), digest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestServerGetMissingReturns404(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	client := NewClient(ts.URL, "")
	_, err := client.Get(context.Background(), hashing.Sum([]byte("nope")))
	require.Error(t, err)
}

func TestClientFindMissing(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	client := NewClient(ts.URL, "")
	present, err := client.Put(context.Background(), []byte("present"))
	require.NoError(t, err)
	absent := hashing.Sum([]byte("absent"))

	missing, err := client.FindMissing(context.Background(), []hashing.Digest{present, absent})
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, absent, missing[0])
}
