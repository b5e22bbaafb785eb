// config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	DSN          string `yaml:"dsn"` // overrides the discrete fields when set
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// StorageConfig configures the object store clients.
type StorageConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// gs:// buckets use the native API with a service-account key file or
	// Application Default Credentials. Setting HMAC keys switches them to
	// the S3-compatible XML endpoint instead.
	GCSCredentialsFile string `yaml:"gcs_credentials_file"`
	GCSEndpoint        string `yaml:"gcs_endpoint"`
	GCSAccessKeyID     string `yaml:"gcs_access_key_id"`
	GCSSecretAccessKey string `yaml:"gcs_secret_access_key"`
	LocalRoot          string `yaml:"local_root"`
	DownloadTimeoutStr string `yaml:"download_timeout"`
	DownloadTimeout    time.Duration
}

// GCSInterop reports whether gs:// buckets go through the HMAC endpoint.
func (c StorageConfig) GCSInterop() bool {
	return c.GCSAccessKeyID != "" && c.GCSSecretAccessKey != ""
}

type SyncConfig struct {
	BatchSize          int    `yaml:"batch_size"`
	Workers            int    `yaml:"workers"`
	ProgressEvery      int    `yaml:"progress_every"`
	ScratchDir         string `yaml:"scratch_dir"`
	FreshnessWindowStr string `yaml:"freshness_window"`
	RunLockTTLStr      string `yaml:"run_lock_ttl"`
	FreshnessWindow    time.Duration
	RunLockTTL         time.Duration
}

type RedisConfig struct {
	Address   string `yaml:"address"` // empty disables the shared run lock
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"` // json | console
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Sync     SyncConfig     `yaml:"sync"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Default returns the configuration used when no file overrides a value.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080"},
		Database: DatabaseConfig{
			Host:         "127.0.0.1",
			Port:         "3306",
			DBName:       "playsync",
			MaxOpenConns: 25,
			MaxIdleConns: 25,
		},
		Storage: StorageConfig{
			Region:          "us-east-1",
			GCSEndpoint:     "https://storage.googleapis.com",
			DownloadTimeout: 5 * time.Minute,
		},
		Sync: SyncConfig{
			BatchSize:       500,
			Workers:         4,
			ProgressEvery:   10,
			ScratchDir:      filepath.Join(os.TempDir(), "playsync"),
			FreshnessWindow: 24 * time.Hour,
			RunLockTTL:      2 * time.Hour,
		},
		Redis:   RedisConfig{KeyPrefix: "playsync:lock:"},
		Logging: LoggingConfig{Level: "info", Encoding: "json"},
	}
}

// LoadConfig reads the YAML file at configPath (optional), then a .env file
// if present, then PLAYSYNC_* environment variables.
func LoadConfig(configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		file, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}
	applyEnv(&cfg)

	if err := cfg.parseDurations(); err != nil {
		return cfg, err
	}
	cfg.applyFloors()

	if err := os.MkdirAll(cfg.Sync.ScratchDir, 0755); err != nil {
		return cfg, fmt.Errorf("failed to create scratch directory %s: %w", cfg.Sync.ScratchDir, err)
	}
	return cfg, nil
}

func (c *Config) parseDurations() error {
	var err error
	if c.Sync.FreshnessWindowStr != "" {
		c.Sync.FreshnessWindow, err = time.ParseDuration(c.Sync.FreshnessWindowStr)
		if err != nil {
			return fmt.Errorf("failed to parse freshness_window: %w", err)
		}
	}
	if c.Sync.RunLockTTLStr != "" {
		c.Sync.RunLockTTL, err = time.ParseDuration(c.Sync.RunLockTTLStr)
		if err != nil {
			return fmt.Errorf("failed to parse run_lock_ttl: %w", err)
		}
	}
	if c.Storage.DownloadTimeoutStr != "" {
		c.Storage.DownloadTimeout, err = time.ParseDuration(c.Storage.DownloadTimeoutStr)
		if err != nil {
			return fmt.Errorf("failed to parse download_timeout: %w", err)
		}
	}
	return nil
}

func (c *Config) applyFloors() {
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 500
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 1
	}
	if c.Sync.ProgressEvery <= 0 {
		c.Sync.ProgressEvery = 10
	}
	if c.Sync.RunLockTTL <= 0 {
		c.Sync.RunLockTTL = 2 * time.Hour
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PLAYSYNC_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("PLAYSYNC_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PLAYSYNC_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PLAYSYNC_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PLAYSYNC_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PLAYSYNC_DB_NAME"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("PLAYSYNC_REDIS_ADDR"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("PLAYSYNC_S3_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.AccessKeyID = v
	}
	if v := os.Getenv("PLAYSYNC_S3_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.SecretAccessKey = v
	}
	if v := os.Getenv("PLAYSYNC_GCS_KEY_FILE"); v != "" {
		cfg.Storage.GCSCredentialsFile = v
	}
	if v := os.Getenv("PLAYSYNC_GCS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.GCSAccessKeyID = v
	}
	if v := os.Getenv("PLAYSYNC_GCS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.GCSSecretAccessKey = v
	}
	if v := os.Getenv("PLAYSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PLAYSYNC_FRESHNESS_WINDOW"); v != "" {
		cfg.Sync.FreshnessWindowStr = v
	}
	if v := os.Getenv("PLAYSYNC_SYNC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Workers = n
		}
	}
}
