package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/gl-deviation/internal/deviation"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "gl-deviation.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 5.0, cfg.Server.RateLimit, 0.001)
	assert.Equal(t, 10, cfg.Server.RateBurst)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, ',', cfg.Input.DelimiterRune())

	def := deviation.DefaultConfig()
	assert.Equal(t, def.Thresholds, cfg.Deviation.Thresholds)
	assert.Equal(t, def.Weights, cfg.Deviation.Weights)
	assert.Equal(t, def.Tiers, cfg.Deviation.Tiers)
	assert.Equal(t, def.Report, cfg.Deviation.Report)
	assert.Equal(t, def.Profile("Running_Balance"), cfg.Deviation.Profile("Running_Balance"))
	assert.Equal(t, "Credit postings", cfg.Deviation.Language.Subject("Credit"))
	assert.Equal(t, "revenue", cfg.Deviation.Language.Bucket("Sales - Retail"))

	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/gl
log:
  level: debug
  format: console
server:
  port: 9090
deviation:
  tiers:
    max_tier1: 4
    include_tier3: true
  profiles:
    credit:
      min_mean_pct_for_effect: 50
  enabled_checks:
    pearson_skew: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Deviation.Tiers.MaxTier1)
	assert.True(t, cfg.Deviation.Tiers.IncludeTier3)
	assert.False(t, cfg.Deviation.Enabled(deviation.KindPearsonSkew))
	assert.True(t, cfg.Deviation.Enabled(deviation.KindHighCV))

	credit := cfg.Deviation.Profile("Credit")
	assert.InDelta(t, 50, credit.MinMeanPctForEffect, 0.001)
	// Defaults still apply for unset leaves
	assert.InDelta(t, 60, credit.MinMeanPctForCV, 0.001)
	assert.InDelta(t, 14, cfg.Deviation.Tiers.Tier1MinScore, 0.001)
	assert.Equal(t, 10, cfg.Server.RateBurst)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("GLDEV_STORE_DRIVER", "postgres")
	t.Setenv("GLDEV_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("GLDEV_SERVER_PORT", "3000")
	t.Setenv("GLDEV_DEVIATION_TIERS_MAX_TIER1", "3")
	t.Setenv("GLDEV_DEVIATION_THRESHOLDS_HIGH_CV", "1.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Deviation.Tiers.MaxTier1)
	assert.InDelta(t, 1.5, cfg.Deviation.Thresholds.HighCV, 0.001)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestFlatten(t *testing.T) {
	got := map[string]any{}
	flatten("root", map[string]any{
		"a": 1,
		"b": map[string]any{"c": "x", "d": []any{"y"}},
		"e": map[string]any{},
	}, func(k string, v any) { got[k] = v })

	assert.Equal(t, map[string]any{
		"root.a":   1,
		"root.b.c": "x",
		"root.b.d": []any{"y"},
		"root.e":   map[string]any{},
	}, got)
}

func validDefaults() *Config {
	return &Config{
		Deviation: deviation.DefaultConfig(),
		Input:     InputConfig{Delimiter: ","},
		Store:     StoreConfig{Driver: "sqlite", DatabaseURL: "runs.db"},
		Server:    ServerConfig{Port: 8080, RateLimit: 5, RateBurst: 10},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"no store", func(c *Config) { c.Store = StoreConfig{} }, ""},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, `store.driver: unsupported driver "mysql"`},
		{"missing url", func(c *Config) { c.Store.DatabaseURL = "" }, "store.database_url is required"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port 70000 out of range"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit must be >= 0"},
		{"negative concurrency", func(c *Config) { c.Engine.Concurrency = -2 }, "engine.concurrency must be >= 0"},
		{"long delimiter", func(c *Config) { c.Input.Delimiter = ";;" }, "must be a single character"},
		{"engine problem", func(c *Config) { c.Deviation.Weights.MeanShift = -1 }, "deviation.weights.mean_shift must be >= 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = -1
	cfg.Deviation.Report.MaxReasons = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port -1 out of range")
	assert.Contains(t, err.Error(), "deviation.report.max_reasons must be >= 1")
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
