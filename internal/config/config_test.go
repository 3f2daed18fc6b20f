package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	// Change to temp dir so no stray config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Dataset.BaseURL)
	assert.Equal(t, "database.parquet", cfg.Dataset.SnapshotPath)
	assert.Equal(t, "maps/LSOA.json", cfg.Dataset.FinePath)
	assert.Equal(t, "maps/LAD3.json", cfg.Dataset.CoarsePath)
	assert.Equal(t, "LSOA", cfg.Dataset.FineObject)
	assert.Equal(t, "LAD_MAY_2022_UK_BFE_V3", cfg.Dataset.CoarseObject)
	assert.Len(t, cfg.Dataset.ScenarioPaths, 5)
	assert.Equal(t, "cobenefits", cfg.Engine.Table)
	assert.Equal(t, 120, cfg.Engine.InitTimeoutSecs)
	assert.Equal(t, 256, cfg.Engine.CacheEntries)
	assert.Equal(t, 900, cfg.Engine.CacheTTLSecs)
	assert.Equal(t, 60, cfg.Fetch.TimeoutSecs)
	assert.Equal(t, 1, cfg.Fetch.MaxRetries)
	assert.Equal(t, []float64{-3.54785, 54.79648}, cfg.Map.Center)
	assert.InDelta(t, 4.0, cfg.Map.Zoom, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
dataset:
  base_url: https://data.example.org/cobenefits
  coarse_path: maps/LAD.zip
engine:
  cache_entries: 16
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://data.example.org/cobenefits", cfg.Dataset.BaseURL)
	assert.Equal(t, "maps/LAD.zip", cfg.Dataset.CoarsePath)
	assert.Equal(t, 16, cfg.Engine.CacheEntries)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, "maps/LSOA.json", cfg.Dataset.FinePath)
	assert.Equal(t, 900, cfg.Engine.CacheTTLSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
engine:
  table: from_file
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("COBENEFIT_ENGINE_TABLE", "from_env")
	t.Setenv("COBENEFIT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "from_env", cfg.Engine.Table)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("COBENEFIT_SERVER_PORT", "3000")
	t.Setenv("COBENEFIT_DATASET_SNAPSHOT_PATH", "snap/latest.parquet")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "snap/latest.parquet", cfg.Dataset.SnapshotPath)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [port"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFileExplicitPath(t *testing.T) {
	dir := chdirTemp(t)
	// The working-directory file is ignored once a path is named.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 1111\n"), 0644))
	path := filepath.Join(t.TempDir(), "atlas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 2222\nengine:\n  table: facts\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2222, cfg.Server.Port)
	assert.Equal(t, "facts", cfg.Engine.Table)
	assert.Equal(t, "info", cfg.Log.Level, "defaults still apply")
}

func TestLoadFileMissing(t *testing.T) {
	chdirTemp(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEngineDurations(t *testing.T) {
	c := EngineConfig{InitTimeoutSecs: 120, CacheTTLSecs: 900}
	assert.Equal(t, "2m0s", c.InitTimeout().String())
	assert.Equal(t, "15m0s", c.CacheTTL().String())
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
	cfg.Dataset.SnapshotPath = "database.parquet"
	cfg.Dataset.FinePath = "maps/LSOA.json"
	cfg.Dataset.CoarsePath = "maps/LAD3.json"
	cfg.Engine.InitTimeoutSecs = 120
	cfg.Engine.CacheEntries = 256
	cfg.Map.Center = []float64{-3.54785, 54.79648}
	cfg.Map.Zoom = 4
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateServe_Valid(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateServe_ReportsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Dataset.SnapshotPath = ""
	cfg.Map.Center = []float64{1}
	cfg.Map.Zoom = 30

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset.snapshot_path is required")
	assert.Contains(t, err.Error(), "map.center")
	assert.Contains(t, err.Error(), "map.zoom")
}

func TestValidateQuery_IgnoresServerSettings(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Map.Center = nil
	assert.NoError(t, cfg.Validate("query"))

	cfg.Engine.InitTimeoutSecs = 0
	err := cfg.Validate("query")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "init_timeout_secs")
}

func TestValidateZones(t *testing.T) {
	cfg := validDefaults()
	cfg.Dataset.SnapshotPath = ""
	assert.NoError(t, cfg.Validate("zones"))

	cfg.Dataset.FinePath = ""
	cfg.Dataset.CoarsePath = ""
	assert.Error(t, cfg.Validate("zones"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
