package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "clickprop.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 30, cfg.Store.TTLDays)
	assert.Equal(t, "page", cfg.Store.Scope)
	assert.Equal(t, 5, cfg.Store.FailureThreshold)
	assert.Equal(t, PoolConfig{MaxConns: 10, MinConns: 2}, cfg.Store.Pool)
	assert.Equal(t, "element", cfg.Eligibility.Policy)
	assert.Equal(t, "clickprop=1", cfg.Eligibility.Marker)
	assert.Equal(t, []string{"data-clickprop", "data-click-prop", "clickprop"}, cfg.Eligibility.Attributes)
	assert.True(t, cfg.Rewrite.Structured)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "clickprop_vid", cfg.Server.CookieName)
	assert.InDelta(t, 50.0, cfg.Server.RateLimit, 0.001)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/clickprop
  pool:
    max_conns: 25
params:
  destination_map:
    gclid: gid
log:
  level: debug
  format: console
server:
  port: 9090
  upstream: http://localhost:3000
eligibility:
  policy: marker
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/clickprop", cfg.Store.DatabaseURL)
	assert.Equal(t, PoolConfig{MaxConns: 25, MinConns: 2}, cfg.Store.Pool)
	assert.Equal(t, map[string]string{"gclid": "gid"}, cfg.Params.DestinationMap)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://localhost:3000", cfg.Server.Upstream)
	assert.Equal(t, "marker", cfg.Eligibility.Policy)
	// Defaults still apply for unset values
	assert.Equal(t, 30, cfg.Store.TTLDays)
	assert.Equal(t, "clickprop=1", cfg.Eligibility.Marker)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CLICKPROP_STORE_DRIVER", "memory")
	t.Setenv("CLICKPROP_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("CLICKPROP_SERVER_PORT", "3000")
	t.Setenv("CLICKPROP_REWRITE_STRUCTURED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.False(t, cfg.Rewrite.Structured)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "clickprop.db"
	cfg.Store.TTLDays = 30
	cfg.Store.Scope = "page"
	cfg.Eligibility.Policy = "element"
	cfg.Eligibility.Marker = "clickprop=1"
	cfg.Server.Port = 8080
	cfg.Server.Upstream = "http://localhost:3000"
	cfg.Server.RateLimit = 50
	cfg.Server.Burst = 100
	cfg.Server.MaxBodyBytes = 1 << 20
	return cfg
}

func TestValidateServe_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Server.Upstream = ""

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "server.upstream is required")
}

func TestValidateRewrite_NoServerSettings(t *testing.T) {
	cfg := validDefaults()
	cfg.Server = ServerConfig{}
	assert.NoError(t, cfg.Validate("rewrite"))
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "memory"
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "persistent driver")
}

func TestValidateStoreSettings(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "redis"
	cfg.Store.TTLDays = 0
	cfg.Store.Scope = "site"

	err := cfg.Validate("rewrite")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be one of")
	assert.Contains(t, err.Error(), "store.ttl_days must be > 0")
	assert.Contains(t, err.Error(), "store.scope must be page or global")

	cfg = validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""
	err = cfg.Validate("rewrite")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateStorePool(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Pool = PoolConfig{MaxConns: 4, MinConns: 8}
	err := cfg.Validate("rewrite")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.pool.min_conns must not exceed")

	cfg.Store.Pool = PoolConfig{MaxConns: -1}
	err = cfg.Validate("rewrite")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.pool connection counts")

	cfg.Store.Pool = PoolConfig{MinConns: 8}
	assert.NoError(t, cfg.Validate("rewrite"), "zero max keeps the driver default")
}

func TestValidateEligibility(t *testing.T) {
	cfg := validDefaults()
	cfg.Eligibility.Policy = "sometimes"
	err := cfg.Validate("rewrite")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "eligibility.policy")

	cfg.Eligibility.Policy = "marker"
	cfg.Eligibility.Marker = " "
	err = cfg.Validate("rewrite")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "eligibility.marker is required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
