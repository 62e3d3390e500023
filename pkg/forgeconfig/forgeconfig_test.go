package forgeconfig

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvConfigPrefixedLookup(t *testing.T) {
	os.Setenv("FC_TEST_PORT", "9090")
	defer os.Unsetenv("FC_TEST_PORT")

	env := NewEnvConfig("FC_TEST")
	assert.Equal(t, 9090, env.GetInt("PORT", 8080))
	assert.Equal(t, 8080, env.GetInt("MISSING", 8080))
}

func TestEnvConfigMustGetStringMissing(t *testing.T) {
	env := NewEnvConfig("FC_TEST_MUST")
	_, err := env.MustGetString("ABSENT")
	assert.Error(t, err)
}

func TestLoadCacheConfigDefaults(t *testing.T) {
	cfg := LoadCacheConfig("FC_TEST_CACHE")
	assert.Equal(t, "/var/forgecore/cache", cfg.Root)
	assert.Equal(t, int64(10<<30), cfg.MaxBytes)
	assert.InDelta(t, 0.10, cfg.EvictBatchPct, 0.0001)
}

func TestLoadResourceLimitsOverride(t *testing.T) {
	os.Setenv("FC_TEST_RES_MAX_PROCESSES", "16")
	defer os.Unsetenv("FC_TEST_RES_MAX_PROCESSES")

	limits := LoadResourceLimits("FC_TEST_RES")
	assert.Equal(t, int64(16), limits.MaxProcesses)
	assert.Equal(t, int64(2<<30), limits.MaxMemoryBytes)
}

func TestLoaderBuildAppliesDefaults(t *testing.T) {
	l := NewLoader()
	cfg := l.Build()
	assert.Equal(t, "/var/forgecore/cache", cfg.CacheRoot)
	assert.Equal(t, int64(3), int64(cfg.MaxRetries))
	assert.False(t, cfg.TLSEnabled)
}

func TestLoaderRefillIntervalFallsBackToDefault(t *testing.T) {
	l := NewLoader()
	d := l.RefillInterval("resilience.refill_interval", 250*time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, d)
}

func TestLoaderLoadFileMissingReturnsError(t *testing.T) {
	l := NewLoader()
	err := l.LoadFile("/nonexistent/forgecore-config.yaml")
	require.Error(t, err)
}

func TestInfisicalSecretSourceUnconfigured(t *testing.T) {
	s := InfisicalSecretSource{}
	_, err := s.WorkspaceSecret(context.Background(), "WORKSPACE_SECRET")
	require.Error(t, err)
}
