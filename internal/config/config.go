// Package config loads server configuration from an optional file and
// STARDRIVE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Search    SearchConfig    `mapstructure:"search"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
	Output string `mapstructure:"output" validate:"required"`
}

type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" validate:"required"`
	MetricsAddr     string        `mapstructure:"metrics_addr"` // empty disables the metrics listener
	PublicURL       string        `mapstructure:"public_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size" validate:"gt=0"`
}

type StorageConfig struct {
	// Root is a shorthand for a single local backend named "local".
	Root     string          `mapstructure:"root"`
	Active   string          `mapstructure:"active" validate:"required"`
	Backends []BackendConfig `mapstructure:"backends" validate:"required,min=1,dive"`
}

type BackendConfig struct {
	Name    string         `mapstructure:"name" validate:"required"`
	Type    string         `mapstructure:"type" validate:"required,oneof=local"`
	Options map[string]any `mapstructure:"options"`
}

type ArchiveConfig struct {
	Format       string `mapstructure:"format" validate:"required,oneof=tar.gz tar.zst zip"`
	ChunkSize    int    `mapstructure:"chunk_size" validate:"gt=0"`
	BufferChunks int    `mapstructure:"buffer_chunks" validate:"gt=0"`
	Level        int    `mapstructure:"level" validate:"gte=-2,lte=22"`
}

type SearchConfig struct {
	MaxDepth   int `mapstructure:"max_depth" validate:"gte=1"`
	MaxResults int `mapstructure:"max_results" validate:"gte=1"`
}

type DownloadsConfig struct {
	Store         string         `mapstructure:"store" validate:"required,oneof=badger postgres"`
	Secret        string         `mapstructure:"secret" validate:"required,min=16"`
	LinkTTL       time.Duration  `mapstructure:"link_ttl" validate:"gt=0"`
	PurgeInterval time.Duration  `mapstructure:"purge_interval" validate:"gt=0"`
	Badger        map[string]any `mapstructure:"badger"`
	Postgres      map[string]any `mapstructure:"postgres"`
}

// Load reads configuration from configPath (if non-empty or found in the
// working directory) and the environment, then applies defaults and
// validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("STARDRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Registering every scalar key lets AutomaticEnv see it during Unmarshal.
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("stardrive")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
