// Package config provides configuration management for the docsync system.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/docuvault/docsync/internal/common/errors"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Metadata    MetadataConfig    `mapstructure:"metadata"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Replication ReplicationConfig `mapstructure:"replication"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPAddr     string        `mapstructure:"http_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StorageConfig holds local storage configuration.
type StorageConfig struct {
	UploadPath string `mapstructure:"upload_path"` // Root for locally stored uploads
	TempPath   string `mapstructure:"temp_path"`   // Root for download cache files
}

// MetadataConfig holds metadata storage configuration.
type MetadataConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// RemoteConfig holds the remote transfer endpoint configuration.
type RemoteConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Protocol      string        `mapstructure:"protocol"` // rsync
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Module        string        `mapstructure:"module"`
	BasePath      string        `mapstructure:"base_path"`   // Prefix joined with record sub-paths
	Secret        string        `mapstructure:"secret"`      // Inline pre-shared secret
	SecretFile    string        `mapstructure:"secret_file"` // Pre-existing secret file, used instead of Secret
	Flags         string        `mapstructure:"flags"`       // Default transfer flags
	Compress      bool          `mapstructure:"compress"`
	DryRun        bool          `mapstructure:"dry_run"`
	BWLimitKBps   int           `mapstructure:"bw_limit_kbps"`
	IncludeFrom   string        `mapstructure:"include_from"`
	ExcludeFrom   string        `mapstructure:"exclude_from"`
	Timeout       time.Duration `mapstructure:"timeout"`        // Upload/download bound
	DeleteTimeout time.Duration `mapstructure:"delete_timeout"` // Remote delete bound
}

// ReplicationConfig holds replication worker configuration.
type ReplicationConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	Interval      time.Duration `mapstructure:"interval"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetries    int           `mapstructure:"max_retries"`
	PriorityFirst bool          `mapstructure:"priority_first"`
	StaleClaim    time.Duration `mapstructure:"stale_claim"` // SYNCING older than this is requeued at startup
}

// CacheConfig holds download cache configuration.
type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	LockWait      time.Duration `mapstructure:"lock_wait"`
}

// LoggerConfig holds logger configuration.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Development bool   `mapstructure:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:     ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			UploadPath: "./data/uploads",
			TempPath:   "./data/temp",
		},
		Metadata: MetadataConfig{
			DBPath: "./data/metadata",
		},
		Remote: RemoteConfig{
			Enabled:       false,
			Protocol:      "rsync",
			Port:          873,
			Flags:         "-av",
			Compress:      true,
			Timeout:       10 * time.Minute,
			DeleteTimeout: 5 * time.Minute,
		},
		Replication: ReplicationConfig{
			BatchSize:     50,
			Interval:      30 * time.Second,
			RetryDelay:    time.Minute,
			MaxRetries:    5,
			PriorityFirst: true,
			StaleClaim:    30 * time.Minute,
		},
		Cache: CacheConfig{
			TTL:           5 * time.Minute,
			SweepInterval: 2 * time.Minute,
			LockWait:      30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "json",
			Output:      "stdout",
			Development: false,
		},
	}
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure Viper
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DOCSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the configuration is complete enough to start.
// A partially specified remote endpoint is fatal rather than silently
// degrading to local-only operation.
func (c *Config) Validate() error {
	if c.Remote.Enabled {
		if c.Remote.Host == "" {
			return errors.E("Config.Validate", errors.ErrRemoteNotSet, nil, "remote.host is required")
		}
		if c.Remote.Module == "" {
			return errors.E("Config.Validate", errors.ErrRemoteNotSet, nil, "remote.module is required")
		}
		if c.Remote.Secret != "" && c.Remote.SecretFile != "" {
			return errors.E("Config.Validate", errors.ErrConfigInvalid, nil,
				"remote.secret and remote.secret_file are mutually exclusive")
		}
	}
	if c.Replication.MaxRetries < 1 {
		return errors.E("Config.Validate", errors.ErrConfigInvalid, nil, "replication.max_retries must be >= 1")
	}
	if c.Replication.BatchSize < 1 {
		return errors.E("Config.Validate", errors.ErrConfigInvalid, nil, "replication.batch_size must be >= 1")
	}
	return nil
}

// setDefaults sets default values in Viper.
func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Server defaults
	v.SetDefault("server.http_addr", defaults.Server.HTTPAddr)
	v.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)

	// Storage defaults
	v.SetDefault("storage.upload_path", defaults.Storage.UploadPath)
	v.SetDefault("storage.temp_path", defaults.Storage.TempPath)

	// Metadata defaults
	v.SetDefault("metadata.db_path", defaults.Metadata.DBPath)

	// Remote defaults
	v.SetDefault("remote.enabled", defaults.Remote.Enabled)
	v.SetDefault("remote.protocol", defaults.Remote.Protocol)
	v.SetDefault("remote.port", defaults.Remote.Port)
	v.SetDefault("remote.flags", defaults.Remote.Flags)
	v.SetDefault("remote.compress", defaults.Remote.Compress)
	v.SetDefault("remote.timeout", defaults.Remote.Timeout)
	v.SetDefault("remote.delete_timeout", defaults.Remote.DeleteTimeout)

	// Replication defaults
	v.SetDefault("replication.batch_size", defaults.Replication.BatchSize)
	v.SetDefault("replication.interval", defaults.Replication.Interval)
	v.SetDefault("replication.retry_delay", defaults.Replication.RetryDelay)
	v.SetDefault("replication.max_retries", defaults.Replication.MaxRetries)
	v.SetDefault("replication.priority_first", defaults.Replication.PriorityFirst)
	v.SetDefault("replication.stale_claim", defaults.Replication.StaleClaim)

	// Cache defaults
	v.SetDefault("cache.ttl", defaults.Cache.TTL)
	v.SetDefault("cache.sweep_interval", defaults.Cache.SweepInterval)
	v.SetDefault("cache.lock_wait", defaults.Cache.LockWait)

	// Logger defaults
	v.SetDefault("logger.level", defaults.Logger.Level)
	v.SetDefault("logger.format", defaults.Logger.Format)
	v.SetDefault("logger.output", defaults.Logger.Output)
	v.SetDefault("logger.development", defaults.Logger.Development)
}
