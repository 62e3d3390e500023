//go:build integration

package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgresContainer starts a disposable PostgreSQL instance the same
// way db/postgres_integration_test.go does for the teacher's RabbitLog
// store, here backing scheduler.HistoryStore's EWMA persistence (§4.4).
func setupPostgresContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "forgecore",
			"POSTGRES_PASSWORD": "forgecore",
			"POSTGRES_DB":       "forgecore",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=forgecore password=forgecore dbname=forgecore sslmode=disable", host, port.Port())

	return dsn, func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
}

func TestHistoryStore_Integration_RecordSurvivesReopen(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	hs, err := OpenHistoryStore(dsn)
	require.NoError(t, err)

	hs.Record("//pkg:a", 100)
	hs.Record("//pkg:a", 200)
	first := hs.Estimate("//pkg:a")
	assert.Greater(t, first, 0.0)

	reopened, err := OpenHistoryStore(dsn)
	require.NoError(t, err)
	assert.Equal(t, first, reopened.Estimate("//pkg:a"))
}
