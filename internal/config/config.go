package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Params      ParamsConfig      `yaml:"params" mapstructure:"params"`
	Eligibility EligibilityConfig `yaml:"eligibility" mapstructure:"eligibility"`
	Rewrite     RewriteConfig     `yaml:"rewrite" mapstructure:"rewrite"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	TTLDays     int    `yaml:"ttl_days" mapstructure:"ttl_days"`
	// Scope is "page" or "global".
	Scope            string     `yaml:"scope" mapstructure:"scope"`
	FailureThreshold int        `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int        `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	Pool             PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig tunes the postgres connection pool. Zero keeps the driver
// default.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// ParamsConfig configures destination key renaming.
type ParamsConfig struct {
	DestinationMap     map[string]string `yaml:"destination_map" mapstructure:"destination_map"`
	DestinationMapFile string            `yaml:"destination_map_file" mapstructure:"destination_map_file"`
}

// EligibilityConfig selects the eligibility policy.
type EligibilityConfig struct {
	Policy     string   `yaml:"policy" mapstructure:"policy"`
	Marker     string   `yaml:"marker" mapstructure:"marker"`
	Attributes []string `yaml:"attributes" mapstructure:"attributes"`
}

// RewriteConfig configures URL rewriting.
type RewriteConfig struct {
	Structured bool `yaml:"structured" mapstructure:"structured"`
}

// ServerConfig configures the rewriting proxy.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	Upstream          string   `yaml:"upstream" mapstructure:"upstream"`
	AllowedOrigins    []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimit         float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst             int      `yaml:"burst" mapstructure:"burst"`
	MaxBodyBytes      int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	CookieName        string   `yaml:"cookie_name" mapstructure:"cookie_name"`
	PruneIntervalMins int      `yaml:"prune_interval_mins" mapstructure:"prune_interval_mins"`
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
	v.SetEnvPrefix("CLICKPROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "clickprop.db")
	v.SetDefault("store.ttl_days", 30)
	v.SetDefault("store.scope", "page")
	v.SetDefault("store.failure_threshold", 5)
	v.SetDefault("store.reset_timeout_secs", 30)
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("eligibility.policy", "element")
	v.SetDefault("eligibility.marker", "clickprop=1")
	v.SetDefault("eligibility.attributes", []string{"data-clickprop", "data-click-prop", "clickprop"})
	v.SetDefault("rewrite.structured", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.burst", 100)
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.cookie_name", "clickprop_vid")
	v.SetDefault("server.prune_interval_mins", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command mode depends on. Modes are
// "serve", "rewrite" and "store".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for driver "+c.Store.Driver)
		}
	default:
		problems = append(problems, "store.driver must be one of memory, sqlite, postgres")
	}
	if c.Store.TTLDays <= 0 {
		problems = append(problems, "store.ttl_days must be > 0")
	}
	switch c.Store.Scope {
	case "page", "global":
	default:
		problems = append(problems, "store.scope must be page or global")
	}
	switch c.Eligibility.Policy {
	case "element", "marker":
	default:
		problems = append(problems, "eligibility.policy must be element or marker")
	}
	if c.Store.Pool.MaxConns < 0 || c.Store.Pool.MinConns < 0 {
		problems = append(problems, "store.pool connection counts must be >= 0")
	} else if c.Store.Pool.MaxConns > 0 && c.Store.Pool.MinConns > c.Store.Pool.MaxConns {
		problems = append(problems, "store.pool.min_conns must not exceed store.pool.max_conns")
	}
	if c.Eligibility.Policy == "marker" && strings.TrimSpace(c.Eligibility.Marker) == "" {
		problems = append(problems, "eligibility.marker is required for the marker policy")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.Upstream == "" {
			problems = append(problems, "server.upstream is required")
		}
		if c.Server.RateLimit < 0 || c.Server.Burst < 0 {
			problems = append(problems, "server.rate_limit and server.burst must be >= 0")
		}
		if c.Server.MaxBodyBytes <= 0 {
			problems = append(problems, "server.max_body_bytes must be > 0")
		}
	case "rewrite":
	case "store":
		if c.Store.Driver == "memory" {
			problems = append(problems, "store commands need a persistent driver")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
