//go:build integration

package reapi

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/forgecore/forgecore/pkg/hashing"
)

// setupCouchDBContainer starts a disposable CouchDB instance the same way
// db/couchdb_integration_test.go does for the teacher's generic document
// store, here backing the REAPI action-result cache (§4.7).
func setupCouchDBContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "couchdb:3.3",
		ExposedPorts: []string{"5984/tcp"},
		Env: map[string]string{
			"COUCHDB_USER":     "admin",
			"COUCHDB_PASSWORD": "forgecore",
		},
		WaitingFor: wait.ForHTTP("/_up").WithPort("5984/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start couchdb container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5984")
	require.NoError(t, err)

	url := fmt.Sprintf("http://admin:forgecore@%s:%s", host, port.Port())

	return url, func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate couchdb container: %v", err)
		}
	}
}

func TestResultCache_Integration_PutGetRoundTrip(t *testing.T) {
	url, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	ctx := context.Background()
	cache, err := NewResultCache(ctx, url, "forgecore-action-results")
	require.NoError(t, err)

	digest := hashing.Sum([]byte("echo hi"))
	result := &ActionResult{
		ActionDigest: Digest{Hash: digest.Hex()},
		ExitCode:     0,
		Stdout:       hashing.Sum([]byte("hi\n")),
	}

	require.NoError(t, cache.Put(ctx, result))

	got, err := cache.Get(ctx, Digest{Hash: digest.Hex()})
	require.NoError(t, err)
	assert.Equal(t, result.ExitCode, got.ExitCode)
	assert.Equal(t, result.Stdout, got.Stdout)
}
