// Package forgeconfig loads the typed configuration structs every core
// component receives at construction time; forgecore itself never parses
// workspace/CLI syntax (§1, §6.5). Two loaders are offered, generalizing
// config/config.go's EnvConfig helper: an env-var-only EnvConfig for
// container/CI deployment, and a viper-backed Loader (see viper.go) for the
// richer multi-backend CAS/scheduler configuration (remote endpoints, TLS
// material paths, resource-limit defaults, workspace secret source).
package forgeconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig reads typed values from environment variables under an
// optional prefix, the same buildKey convention as config.EnvConfig.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates a loader scoping every lookup under PREFIX_KEY.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix == "" {
		return key
	}
	return ec.prefix + "_" + key
}

func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return defaultValue
}

func (ec *EnvConfig) MustGetString(key string) (string, error) {
	fullKey := ec.buildKey(key)
	v := os.Getenv(fullKey)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s not set", fullKey)
	}
	return v, nil
}

func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	v := os.Getenv(ec.buildKey(key))
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ResourceLimitsConfig mirrors sandbox.ResourceLimits' fields as plain
// ints so this package does not need to import pkg/sandbox; callers
// convert with ToResourceLimits-style code at the call site (e.g.
// sandbox.ResourceLimits{MaxMemoryBytes: cfg.MaxMemoryBytes, ...}).
type ResourceLimitsConfig struct {
	MaxMemoryBytes int64
	MaxCPUTimeMs   int64
	MaxProcesses   int64
	MaxFileSize    int64
	MaxDiskIO      int64
	MaxNetworkIO   int64
	CPUShares      int64
}

// LoadResourceLimits loads §3's ResourceLimits defaults from the
// environment, one env var per field under the given prefix.
func LoadResourceLimits(prefix string) ResourceLimitsConfig {
	env := NewEnvConfig(prefix)
	return ResourceLimitsConfig{
		MaxMemoryBytes: env.GetInt64("MAX_MEMORY_BYTES", 2<<30),
		MaxCPUTimeMs:   env.GetInt64("MAX_CPU_TIME_MS", 5*60*1000),
		MaxProcesses:   env.GetInt64("MAX_PROCESSES", 64),
		MaxFileSize:    env.GetInt64("MAX_FILE_SIZE", 1<<30),
		MaxDiskIO:      env.GetInt64("MAX_DISK_IO", 0),
		MaxNetworkIO:   env.GetInt64("MAX_NETWORK_IO", 0),
		CPUShares:      env.GetInt64("CPU_SHARES", 1024),
	}
}

// CacheConfig is the env-sourced counterpart of actioncache.Config: a root
// path, an eviction cap, and the raw workspace secret material a caller
// runs through hashing.DeriveKey before handing it to actioncache.Open.
type CacheConfig struct {
	Root            string
	MaxBytes        int64
	EvictBatchPct   float64
	WorkspaceSecret string
}

// LoadCacheConfig loads the action cache's environment-sourced
// configuration (§4.3, §6.5 "workspace secret").
func LoadCacheConfig(prefix string) CacheConfig {
	env := NewEnvConfig(prefix)
	return CacheConfig{
		Root:            env.GetString("CACHE_ROOT", "/var/forgecore/cache"),
		MaxBytes:        env.GetInt64("CACHE_MAX_BYTES", 10<<30),
		EvictBatchPct:   env.GetFloat("CACHE_EVICT_BATCH_PCT", 0.10),
		WorkspaceSecret: env.GetString("WORKSPACE_SECRET", ""),
	}
}

// RemoteConfig is the env-sourced counterpart of the remote CAS client/
// server and REAPI adapter endpoints (§6.5: remote endpoints, bearer
// tokens, TLS material paths).
type RemoteConfig struct {
	CASEndpoint  string
	REAPIEndpoint string
	BearerToken  string
	TLSCertPath  string
	TLSKeyPath   string
	TLSEnabled   bool
}

// LoadRemoteConfig loads the remote-plane configuration from the
// environment.
func LoadRemoteConfig(prefix string) RemoteConfig {
	env := NewEnvConfig(prefix)
	return RemoteConfig{
		CASEndpoint:   env.GetString("CAS_ENDPOINT", "http://localhost:8980"),
		REAPIEndpoint: env.GetString("REAPI_ENDPOINT", "http://localhost:8981"),
		BearerToken:   env.GetString("BEARER_TOKEN", ""),
		TLSCertPath:   env.GetString("TLS_CERT_PATH", ""),
		TLSKeyPath:    env.GetString("TLS_KEY_PATH", ""),
		TLSEnabled:    env.GetBool("TLS_ENABLED", false),
	}
}

// SchedulerConfig is the env-sourced counterpart of the scheduler's worker
// pool size and retry policy (§4.4, §5).
type SchedulerConfig struct {
	WorkerPoolSize  int
	MaxRetries      int
	PriorityReserve int
}

// LoadSchedulerConfig loads the scheduler's environment-sourced
// configuration. WorkerPoolSize defaults to 0, meaning "host parallelism"
// (§5); callers resolve 0 via runtime.NumCPU() themselves.
func LoadSchedulerConfig(prefix string) SchedulerConfig {
	env := NewEnvConfig(prefix)
	return SchedulerConfig{
		WorkerPoolSize:  env.GetInt("WORKER_POOL_SIZE", 0),
		MaxRetries:      env.GetInt("MAX_RETRIES", 3),
		PriorityReserve: env.GetInt("PRIORITY_RESERVE", 4),
	}
}
