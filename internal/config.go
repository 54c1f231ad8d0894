package internal

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "files/config.yaml"
	configPathEnv     = "INGEST_CONFIG"
	envPrefix         = "INGEST"
)

type Config struct {
	Server         ServerConfig   `mapstructure:"server"`
	Log            LogConfig      `mapstructure:"log"`
	Storage        StorageConfig  `mapstructure:"storage"`
	Upload         UploadConfig   `mapstructure:"upload"`
	Database       DatabaseConfig `mapstructure:"database"`
	AllowedOrigins []string       `mapstructure:"allowed_origins"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Version         string        `mapstructure:"version"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type StorageConfig struct {
	UploadDir    string `mapstructure:"upload_dir"`
	MaxChunkSize int64  `mapstructure:"max_chunk_size"`
}

type UploadConfig struct {
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	ProgressInterval  time.Duration `mapstructure:"progress_interval"`
	BufferSize        int           `mapstructure:"buffer_size"`
	JobRetention      time.Duration `mapstructure:"job_retention"`
	ChunkRetention    time.Duration `mapstructure:"chunk_retention"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("storage.upload_dir", "./data/uploads")
	v.SetDefault("storage.max_chunk_size", 16*1024*1024)

	v.SetDefault("upload.max_concurrent_jobs", 4)
	v.SetDefault("upload.progress_interval", 100*time.Millisecond)
	v.SetDefault("upload.buffer_size", 1024*1024)
	v.SetDefault("upload.job_retention", time.Hour)
	v.SetDefault("upload.chunk_retention", 24*time.Hour)
	v.SetDefault("upload.cleanup_interval", 10*time.Minute)

	v.SetDefault("database.url", "")
	v.SetDefault("database.migrations_path", "file://files/migrations")

	v.SetDefault("allowed_origins", []string{"http://localhost:*"})
}

// LoadConfig reads the YAML file named by INGEST_CONFIG (files/config.yaml by
// default). A missing file is not an error; defaults and INGEST_* environment
// variables still apply.
func LoadConfig() (*Config, error) {
	path := os.Getenv(configPathEnv)
	if path == "" {
		path = defaultConfigPath
	}
	return loadConfigFrom(path)
}

func loadConfigFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.Storage.UploadDir == "" {
		return fmt.Errorf("invalid config: storage.upload_dir is empty")
	}
	if c.Upload.MaxConcurrentJobs < 0 {
		return fmt.Errorf("invalid config: upload.max_concurrent_jobs must not be negative")
	}
	if c.Upload.BufferSize <= 0 {
		return fmt.Errorf("invalid config: upload.buffer_size must be positive")
	}
	return nil
}
