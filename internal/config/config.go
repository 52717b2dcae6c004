// Package config loads application configuration from config.yaml and the
// KGDB_* environment, and wires the global logger.
package config

import (
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig           `yaml:"store" mapstructure:"store"`
	Cache     CacheConfig           `yaml:"cache" mapstructure:"cache"`
	Pipeline  PipelineConfig        `yaml:"pipeline" mapstructure:"pipeline"`
	Sources   map[string]SourceOpts `yaml:"sources" mapstructure:"sources"`
	Normalize NormalizeConfig       `yaml:"normalize" mapstructure:"normalize"`
	Scheduler SchedulerConfig       `yaml:"scheduler" mapstructure:"scheduler"`
	Server    ServerConfig          `yaml:"server" mapstructure:"server"`
	Log       LogConfig             `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// CacheConfig configures the two-tier response cache.
type CacheConfig struct {
	L1Capacity    int    `yaml:"l1_capacity" mapstructure:"l1_capacity"`
	Backend       string `yaml:"backend" mapstructure:"backend"` // sqlite, redis or none
	SQLitePath    string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
}

// PipelineConfig configures the run orchestrator.
type PipelineConfig struct {
	Workers            int `yaml:"workers" mapstructure:"workers"`
	BatchSize          int `yaml:"batch_size" mapstructure:"batch_size"`
	CommitEveryBatches int `yaml:"commit_every_batches" mapstructure:"commit_every_batches"`
	MaxRunHours        int `yaml:"max_run_hours" mapstructure:"max_run_hours"`
}

// SourceOpts holds per-source client settings. Sources absent from the map
// fall back to the seeded defaults.
type SourceOpts struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey          string  `yaml:"api_key" mapstructure:"api_key"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst           int     `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UpdateFreqHours int     `yaml:"update_freq_hours" mapstructure:"update_freq_hours"`
	CacheTTLHours   int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// Timeout returns the per-request timeout.
func (o SourceOpts) Timeout() time.Duration {
	if o.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.TimeoutSecs) * time.Second
}

// UpdateFrequency returns the refresh interval for the source.
func (o SourceOpts) UpdateFrequency() time.Duration {
	return time.Duration(o.UpdateFreqHours) * time.Hour
}

// CacheTTL returns the response cache TTL for the source.
func (o SourceOpts) CacheTTL() time.Duration {
	return time.Duration(o.CacheTTLHours) * time.Hour
}

// NormalizeConfig configures symbol normalization.
type NormalizeConfig struct {
	ChunkSize      int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunksPerSec   float64 `yaml:"chunks_per_sec" mapstructure:"chunks_per_sec"`
	RegistryTTLHrs int     `yaml:"registry_ttl_hours" mapstructure:"registry_ttl_hours"`
}

// SchedulerConfig configures the cron scheduler.
type SchedulerConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	IncrementalSpec string `yaml:"incremental_spec" mapstructure:"incremental_spec"`
	CacheSweepSpec  string `yaml:"cache_sweep_spec" mapstructure:"cache_sweep_spec"`
}

// ServerConfig configures the admin API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("KGDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "kgdb.db")
	v.SetDefault("cache.l1_capacity", 4096)
	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.sqlite_path", "kgdb-cache.db")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("pipeline.workers", 3)
	v.SetDefault("pipeline.batch_size", 100)
	v.SetDefault("pipeline.commit_every_batches", 50)
	v.SetDefault("pipeline.max_run_hours", 6)
	v.SetDefault("normalize.chunk_size", 100)
	v.SetDefault("normalize.chunks_per_sec", 2.0)
	v.SetDefault("normalize.registry_ttl_hours", 168)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.incremental_spec", "0 2 * * *")
	v.SetDefault("scheduler.cache_sweep_spec", "30 3 * * *")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	for name, opts := range defaultSources {
		v.SetDefault("sources."+name+".base_url", opts.BaseURL)
		v.SetDefault("sources."+name+".rate_per_sec", opts.RatePerSec)
		v.SetDefault("sources."+name+".burst", opts.Burst)
		v.SetDefault("sources."+name+".timeout_secs", opts.TimeoutSecs)
		v.SetDefault("sources."+name+".update_freq_hours", opts.UpdateFreqHours)
		v.SetDefault("sources."+name+".cache_ttl_hours", opts.CacheTTLHours)
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

// defaultSources seeds per-source settings. Rate limits stay conservative;
// the public endpoints throttle aggressively.
var defaultSources = map[string]SourceOpts{
	"hgnc": {
		BaseURL:         "https://rest.genenames.org",
		RatePerSec:      5,
		Burst:           5,
		TimeoutSecs:     30,
		UpdateFreqHours: 7 * 24,
		CacheTTLHours:   7 * 24,
	},
	"gnomad": {
		BaseURL:         "https://gnomad.broadinstitute.org/api",
		RatePerSec:      2,
		Burst:           2,
		TimeoutSecs:     60,
		UpdateFreqHours: 30 * 24,
		CacheTTLHours:   30 * 24,
	},
	"clinvar": {
		BaseURL:         "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
		RatePerSec:      3,
		Burst:           3,
		TimeoutSecs:     30,
		UpdateFreqHours: 7 * 24,
		CacheTTLHours:   7 * 24,
	},
	"hpo": {
		BaseURL:         "https://ontology.jax.org/api",
		RatePerSec:      5,
		Burst:           5,
		TimeoutSecs:     30,
		UpdateFreqHours: 14 * 24,
		CacheTTLHours:   14 * 24,
	},
	"gtex": {
		BaseURL:         "https://gtexportal.org/api/v2",
		RatePerSec:      2,
		Burst:           2,
		TimeoutSecs:     60,
		UpdateFreqHours: 90 * 24,
		CacheTTLHours:   90 * 24,
	},
	"descartes": {
		BaseURL:         "https://descartes.brotmanbaty.org/api",
		RatePerSec:      2,
		Burst:           2,
		TimeoutSecs:     60,
		UpdateFreqHours: 90 * 24,
		CacheTTLHours:   90 * 24,
	},
	"mgi": {
		BaseURL:         "ftp.informatics.jax.org",
		RatePerSec:      1,
		Burst:           1,
		TimeoutSecs:     300,
		UpdateFreqHours: 30 * 24,
		CacheTTLHours:   30 * 24,
	},
	"stringdb": {
		BaseURL:         "https://string-db.org/api",
		RatePerSec:      1,
		Burst:           1,
		TimeoutSecs:     60,
		UpdateFreqHours: 90 * 24,
		CacheTTLHours:   90 * 24,
	},
	"pubtator": {
		BaseURL:         "https://www.ncbi.nlm.nih.gov/research/pubtator3-api",
		RatePerSec:      3,
		Burst:           3,
		TimeoutSecs:     30,
		UpdateFreqHours: 24,
		CacheTTLHours:   24,
	},
}

// SourceNames returns every source with seeded or configured settings,
// sorted by name.
func (c *Config) SourceNames() []string {
	names := make(map[string]bool, len(defaultSources)+len(c.Sources))
	for name := range defaultSources {
		names[name] = true
	}
	for name := range c.Sources {
		names[name] = true
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SourceOpts returns the settings for a named source, falling back to the
// seeded defaults for unknown names.
func (c *Config) SourceOpts(name string) SourceOpts {
	if opts, ok := c.Sources[name]; ok {
		return opts
	}
	return defaultSources[name]
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
