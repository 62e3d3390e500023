package forgeconfig

import (
	"time"

	"github.com/spf13/viper"
)

// RemoteBackend is one entry of a multi-backend CAS configuration: a named
// remote tier (e.g. a regional CAS mirror, or an S3 durability tier
// fronted by the local sharded tree) with its own endpoint and auth.
type RemoteBackend struct {
	Name        string
	Endpoint    string
	BearerToken string
	Priority    int // lower tries first
}

// ForgeConfig is the richer, file-backed configuration a long-running CAS
// server or scheduler replica loads at startup: cache root and cap,
// one-or-more remote CAS backends, TLS material, and resource-limit
// defaults, layered the way cli/root.go layers a YAML config file under
// viper.AutomaticEnv() and flag bindings.
type ForgeConfig struct {
	CacheRoot     string
	CacheMaxBytes int64
	WorkspaceSecret string

	RemoteBackends []RemoteBackend

	TLSCertPath string
	TLSKeyPath  string
	TLSEnabled  bool

	Resources ResourceLimitsConfig

	WorkerPoolSize int
	MaxRetries     int
}

// Loader wraps a *viper.Viper scoped to forgecore's configuration keys. A
// nil *viper.Viper is replaced with viper.New() so callers never share the
// package-global instance cli/root.go relies on — matching Design Note
// "global singletons ... -> process-wide state created in a bootstrap step
// and passed explicitly to subsystems".
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader with forgecore's defaults pre-populated; a
// subsequent LoadFile or AutomaticEnv call can override them.
func NewLoader() *Loader {
	v := viper.New()
	v.SetDefault("cache.root", "/var/forgecore/cache")
	v.SetDefault("cache.max_bytes", int64(10<<30))
	v.SetDefault("tls.enabled", false)
	v.SetDefault("resources.max_memory_bytes", int64(2<<30))
	v.SetDefault("resources.max_cpu_time_ms", int64(5*60*1000))
	v.SetDefault("resources.max_processes", int64(64))
	v.SetDefault("resources.max_file_size", int64(1<<30))
	v.SetDefault("resources.cpu_shares", int64(1024))
	v.SetDefault("scheduler.worker_pool_size", 0)
	v.SetDefault("scheduler.max_retries", 3)
	return &Loader{v: v}
}

// LoadFile reads a YAML/JSON/TOML config file at path into the loader,
// the same viper.SetConfigFile + ReadInConfig sequence cli/root.go uses
// for its own workspace-level config, before environment variables are
// layered on top via AutomaticEnv.
func (l *Loader) LoadFile(path string) error {
	l.v.SetConfigFile(path)
	return l.v.ReadInConfig()
}

// AutomaticEnv enables FORGECORE_-prefixed environment variable overrides
// for every key the loader knows about.
func (l *Loader) AutomaticEnv() {
	l.v.SetEnvPrefix("FORGECORE")
	l.v.AutomaticEnv()
}

// Build materializes a ForgeConfig from whatever defaults, file values,
// and environment overrides have been layered into the loader so far.
func (l *Loader) Build() ForgeConfig {
	v := l.v

	var backends []RemoteBackend
	raw, _ := v.Get("remote.backends").([]interface{})
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		b := RemoteBackend{}
		if s, ok := m["name"].(string); ok {
			b.Name = s
		}
		if s, ok := m["endpoint"].(string); ok {
			b.Endpoint = s
		}
		if s, ok := m["bearer_token"].(string); ok {
			b.BearerToken = s
		}
		if n, ok := m["priority"].(int); ok {
			b.Priority = n
		}
		backends = append(backends, b)
	}

	return ForgeConfig{
		CacheRoot:       v.GetString("cache.root"),
		CacheMaxBytes:   v.GetInt64("cache.max_bytes"),
		WorkspaceSecret: v.GetString("cache.workspace_secret"),
		RemoteBackends:  backends,
		TLSCertPath:     v.GetString("tls.cert_path"),
		TLSKeyPath:      v.GetString("tls.key_path"),
		TLSEnabled:      v.GetBool("tls.enabled"),
		Resources: ResourceLimitsConfig{
			MaxMemoryBytes: v.GetInt64("resources.max_memory_bytes"),
			MaxCPUTimeMs:   v.GetInt64("resources.max_cpu_time_ms"),
			MaxProcesses:   v.GetInt64("resources.max_processes"),
			MaxFileSize:    v.GetInt64("resources.max_file_size"),
			MaxDiskIO:      v.GetInt64("resources.max_disk_io"),
			MaxNetworkIO:   v.GetInt64("resources.max_network_io"),
			CPUShares:      v.GetInt64("resources.cpu_shares"),
		},
		WorkerPoolSize: v.GetInt("scheduler.worker_pool_size"),
		MaxRetries:     v.GetInt("scheduler.max_retries"),
	}
}

// RefillInterval is a small helper most callers need when wiring
// resilience.TokenBucket from config: viper stores durations as strings
// ("500ms") but the bucket wants a time.Duration refill tick.
func (l *Loader) RefillInterval(key string, defaultValue time.Duration) time.Duration {
	if !l.v.IsSet(key) {
		return defaultValue
	}
	return l.v.GetDuration(key)
}
