package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the top-level application configuration.
type Config struct {
	Dataset DatasetConfig `yaml:"dataset" mapstructure:"dataset"`
	Engine  EngineConfig  `yaml:"engine" mapstructure:"engine"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Map     MapConfig     `yaml:"map" mapstructure:"map"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// DatasetConfig locates the snapshot, the zone boundaries and the archetype
// tables. Relative paths resolve against BaseURL, which may be a URL or a
// local directory.
type DatasetConfig struct {
	BaseURL       string   `yaml:"base_url" mapstructure:"base_url"`
	SnapshotPath  string   `yaml:"snapshot_path" mapstructure:"snapshot_path"`
	FinePath      string   `yaml:"fine_path" mapstructure:"fine_path"`
	CoarsePath    string   `yaml:"coarse_path" mapstructure:"coarse_path"`
	FineObject    string   `yaml:"fine_object" mapstructure:"fine_object"`
	CoarseObject  string   `yaml:"coarse_object" mapstructure:"coarse_object"`
	MeasuresPath  string   `yaml:"measures_path" mapstructure:"measures_path"`
	ScenarioPaths []string `yaml:"scenario_paths" mapstructure:"scenario_paths"`
}

// EngineConfig configures the embedded analytical engine.
type EngineConfig struct {
	Table           string `yaml:"table" mapstructure:"table"`
	TempDir         string `yaml:"temp_dir" mapstructure:"temp_dir"`
	InitTimeoutSecs int    `yaml:"init_timeout_secs" mapstructure:"init_timeout_secs"`
	CacheEntries    int    `yaml:"cache_entries" mapstructure:"cache_entries"`
	CacheTTLSecs    int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// InitTimeout returns the bootstrap timeout as a duration.
func (c EngineConfig) InitTimeout() time.Duration {
	return time.Duration(c.InitTimeoutSecs) * time.Second
}

// CacheTTL returns the result cache TTL as a duration.
func (c EngineConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// FetchConfig configures remote retrieval.
type FetchConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
}

// MapConfig configures choropleth documents.
type MapConfig struct {
	BasePath string    `yaml:"base_path" mapstructure:"base_path"`
	StyleURL string    `yaml:"style_url" mapstructure:"style_url"`
	Center   []float64 `yaml:"center" mapstructure:"center"`
	Zoom     float64   `yaml:"zoom" mapstructure:"zoom"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// falls back to an optional ./config.yaml; a named file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	// Environment
	v.SetEnvPrefix("COBENEFIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("dataset.base_url", "")
	v.SetDefault("dataset.snapshot_path", "database.parquet")
	v.SetDefault("dataset.fine_path", "maps/LSOA.json")
	v.SetDefault("dataset.coarse_path", "maps/LAD3.json")
	v.SetDefault("dataset.fine_object", "LSOA")
	v.SetDefault("dataset.coarse_object", "LAD_MAY_2022_UK_BFE_V3")
	v.SetDefault("dataset.measures_path", "UK_Archetypes_global_measures.csv")
	v.SetDefault("dataset.scenario_paths", []string{
		"coBenefits/S1_BNZ.csv",
		"coBenefits/S2_WI.csv",
		"coBenefits/S3_WE.csv",
		"coBenefits/S4_TW.csv",
		"coBenefits/S5_HW.csv",
	})
	v.SetDefault("engine.table", "cobenefits")
	v.SetDefault("engine.temp_dir", "")
	v.SetDefault("engine.init_timeout_secs", 120)
	v.SetDefault("engine.cache_entries", 256)
	v.SetDefault("engine.cache_ttl_secs", 900)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 1)
	v.SetDefault("fetch.user_agent", "cobenefit-atlas/1.0")
	v.SetDefault("map.base_path", "")
	v.SetDefault("map.style_url", "https://api.maptiler.com/maps/dataviz/style.json")
	v.SetDefault("map.center", []float64{-3.54785, 54.79648})
	v.SetDefault("map.zoom", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode is one of
// "serve", "query" or "zones". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string
	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		problems = append(problems, c.engineProblems()...)
		problems = append(problems, c.mapProblems()...)
	case "query":
		problems = append(problems, c.engineProblems()...)
	case "zones":
		if c.Dataset.FinePath == "" && c.Dataset.CoarsePath == "" {
			problems = append(problems, "dataset.fine_path or dataset.coarse_path is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) engineProblems() []string {
	var out []string
	if c.Dataset.SnapshotPath == "" {
		out = append(out, "dataset.snapshot_path is required")
	}
	if c.Engine.InitTimeoutSecs <= 0 {
		out = append(out, "engine.init_timeout_secs must be > 0")
	}
	if c.Engine.CacheEntries < 0 {
		out = append(out, "engine.cache_entries must be >= 0")
	}
	return out
}

func (c *Config) mapProblems() []string {
	var out []string
	if len(c.Map.Center) != 2 {
		out = append(out, "map.center needs exactly two coordinates")
	}
	if c.Map.Zoom < 0 || c.Map.Zoom > 24 {
		out = append(out, "map.zoom must be between 0 and 24")
	}
	return out
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
