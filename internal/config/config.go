package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/gl-deviation/internal/deviation"
)

// Config holds the full application configuration.
type Config struct {
	Deviation deviation.Config `yaml:"deviation" mapstructure:"deviation"`
	Engine    EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Input     InputConfig      `yaml:"input" mapstructure:"input"`
	Store     StoreConfig      `yaml:"store" mapstructure:"store"`
	Server    ServerConfig     `yaml:"server" mapstructure:"server"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`
}

// EngineConfig configures how batches are scored.
type EngineConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// InputConfig configures how metric tables are read.
type InputConfig struct {
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
	Sheet     string `yaml:"sheet" mapstructure:"sheet"`
	SkipRows  int    `yaml:"skip_rows" mapstructure:"skip_rows"`
}

// StoreConfig configures the run history backend. An empty driver disables
// run history.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimit      float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GLDEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("engine.concurrency", 0)
	v.SetDefault("input.delimiter", ",")
	v.SetDefault("input.skip_rows", 0)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "gl-deviation.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.allowed_origins", []string{"*"})
	if err := setDeviationDefaults(v, deviation.DefaultConfig()); err != nil {
		return nil, err
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// setDeviationDefaults registers every engine default under "deviation." so
// a config file or env var can override single leaves. Lists stay leaves.
func setDeviationDefaults(v *viper.Viper, def deviation.Config) error {
	raw, err := yaml.Marshal(def)
	if err != nil {
		return eris.Wrap(err, "config: marshal deviation defaults")
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return eris.Wrap(err, "config: decode deviation defaults")
	}
	flatten("deviation", tree, v.SetDefault)
	return nil
}

func flatten(prefix string, m map[string]any, set func(string, any)) {
	if len(m) == 0 {
		set(prefix, m)
		return
	}
	for k, val := range m {
		key := prefix + "." + k
		if child, ok := val.(map[string]any); ok {
			flatten(key, child, set)
			continue
		}
		set(key, val)
	}
}

// Validate checks the application settings and the engine configuration,
// reporting every problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver: unsupported driver %q", c.Store.Driver))
	}
	if c.Store.Driver != "" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required when store.driver is set")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server.rate_limit must be >= 0")
	}
	if c.Engine.Concurrency < 0 {
		errs = append(errs, "engine.concurrency must be >= 0")
	}
	if len([]rune(c.Input.Delimiter)) > 1 {
		errs = append(errs, fmt.Sprintf("input.delimiter %q must be a single character", c.Input.Delimiter))
	}

	if err := c.Deviation.Validate(); err != nil {
		if ce, ok := err.(*deviation.ConfigError); ok {
			for _, p := range ce.Problems {
				errs = append(errs, "deviation."+p)
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DelimiterRune returns the configured CSV delimiter rune, or 0 for the default.
func (c InputConfig) DelimiterRune() rune {
	r := []rune(c.Delimiter)
	if len(r) == 0 {
		return 0
	}
	return r[0]
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
