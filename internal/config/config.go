package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all server settings
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	DataDir    string `mapstructure:"data_dir"`

	Store struct {
		Type string `mapstructure:"type"` // "memory" or "sqlite"
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`

	Worker struct {
		Slots        int           `mapstructure:"slots"`
		JobTimeout   time.Duration `mapstructure:"job_timeout"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"worker"`

	Engine struct {
		RscriptPath string `mapstructure:"rscript_path"` // empty: resolve from env/PATH
		ScriptDir   string `mapstructure:"script_dir"`
	} `mapstructure:"engine"`

	Uploads struct {
		MaxBytes int64         `mapstructure:"max_bytes"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"uploads"`

	Artifacts struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"artifacts"`

	Retention struct {
		Enabled       bool          `mapstructure:"enabled"`
		JobTTL        time.Duration `mapstructure:"job_ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"retention"`

	Log struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"log"`
}

// UploadDir returns the private staging root
func (c *Config) UploadDir() string { return filepath.Join(c.DataDir, "uploads") }

// ArtifactDir returns the private artifact root
func (c *Config) ArtifactDir() string { return filepath.Join(c.DataDir, "artifacts") }

// WorkDir returns the per-job scratch root
func (c *Config) WorkDir() string { return filepath.Join(c.DataDir, "work") }

// Load reads configuration from an optional yaml file plus GENECRAFT_*
// environment overrides, applying defaults for everything unset
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("data_dir", ".data")
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.path", "genecraft.db")
	v.SetDefault("worker.slots", 2)
	v.SetDefault("worker.job_timeout", 30*time.Minute)
	v.SetDefault("worker.poll_interval", 500*time.Millisecond)
	v.SetDefault("engine.rscript_path", "")
	v.SetDefault("engine.script_dir", "r_scripts")
	v.SetDefault("uploads.max_bytes", 100*1024*1024)
	v.SetDefault("uploads.ttl", 24*time.Hour)
	v.SetDefault("artifacts.ttl", 24*time.Hour)
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.job_ttl", 24*time.Hour)
	v.SetDefault("retention.sweep_interval", 30*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetEnvPrefix("GENECRAFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		// A missing default config file is fine; env and defaults apply
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Worker.Slots <= 0 {
		return fmt.Errorf("worker.slots must be positive, got %d", c.Worker.Slots)
	}
	if c.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("uploads.max_bytes must be positive, got %d", c.Uploads.MaxBytes)
	}
	if c.Store.Type != "memory" && c.Store.Type != "sqlite" {
		return fmt.Errorf("store.type must be memory or sqlite, got %q", c.Store.Type)
	}
	return nil
}
