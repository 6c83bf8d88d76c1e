// Package config loads the treefs server configuration from defaults, an
// optional YAML or JSON file, a .env file and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment variable read by Load.
const EnvPrefix = "TREEFS_"

// Backend identifiers accepted in StorageConfig.Backend.
const (
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Defaults.
const (
	DefaultListenAddr  = ":8080"
	DefaultMetricsAddr = ":9090"
	DefaultClient      = "default"
	DefaultLocalRoot   = "/data/treefs"
	DefaultS3Endpoint  = "http://localhost:9000"
	DefaultS3Bucket    = "treefs"
	DefaultS3Region    = "us-east-1"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string // empty disables the separate metrics listener

	// Logging
	LogLevel  string
	LogFormat string

	Storage StorageConfig
}

// StorageConfig selects and configures the storage provider.
type StorageConfig struct {
	Backend string
	// Client scopes the provider: a directory under Local.Root, or a key
	// prefix inside the bucket.
	Client string

	Local LocalConfig
	S3    S3Config
}

// LocalConfig configures the local-disk provider.
type LocalConfig struct {
	Root       string
	CreateDirs bool
}

// S3Config configures the S3 bucket behind the object-store provider.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Prefix    string
}

// Override uses pointer fields to distinguish between unset and zero values
// when loading a partial configuration file.
type Override struct {
	ListenAddr  *string          `yaml:"listen_addr,omitempty" json:"listen_addr,omitempty"`
	MetricsAddr *string          `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
	LogLevel    *string          `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	LogFormat   *string          `yaml:"log_format,omitempty" json:"log_format,omitempty"`
	Storage     *StorageOverride `yaml:"storage,omitempty" json:"storage,omitempty"`
}

// StorageOverride is the file form of StorageConfig.
type StorageOverride struct {
	Backend *string `yaml:"backend,omitempty" json:"backend,omitempty"`
	Client  *string `yaml:"client,omitempty" json:"client,omitempty"`
	Local   *struct {
		Root       *string `yaml:"root,omitempty" json:"root,omitempty"`
		CreateDirs *bool   `yaml:"create_dirs,omitempty" json:"create_dirs,omitempty"`
	} `yaml:"local,omitempty" json:"local,omitempty"`
	S3 *struct {
		Endpoint  *string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
		Bucket    *string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
		AccessKey *string `yaml:"access_key,omitempty" json:"access_key,omitempty"`
		SecretKey *string `yaml:"secret_key,omitempty" json:"secret_key,omitempty"`
		Region    *string `yaml:"region,omitempty" json:"region,omitempty"`
		UseSSL    *bool   `yaml:"use_ssl,omitempty" json:"use_ssl,omitempty"`
		Prefix    *string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	} `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		ListenAddr:  DefaultListenAddr,
		MetricsAddr: DefaultMetricsAddr,
		LogLevel:    "info",
		LogFormat:   "json",
		Storage: StorageConfig{
			Backend: BackendLocal,
			Client:  DefaultClient,
			Local: LocalConfig{
				Root:       DefaultLocalRoot,
				CreateDirs: true,
			},
			S3: S3Config{
				Endpoint:  DefaultS3Endpoint,
				Bucket:    DefaultS3Bucket,
				AccessKey: "minioadmin",
				SecretKey: "minioadmin",
				Region:    DefaultS3Region,
			},
		},
	}
}

// Load builds the configuration: defaults, then the file named by path (or
// by TREEFS_CONFIG when path is empty), then .env, then TREEFS_* variables.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	// A missing .env is normal.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		override, err := LoadOverrideFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Merge(override)
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOverrideFile reads a YAML (.yaml, .yml) or JSON (.json) file without
// merging it.
func LoadOverrideFile(path string) (*Override, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var override Override
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}
	return &override, nil
}

// Merge applies non-nil values from override onto c.
func (c *Config) Merge(o *Override) {
	if o == nil {
		return
	}
	set(&c.ListenAddr, o.ListenAddr)
	set(&c.MetricsAddr, o.MetricsAddr)
	set(&c.LogLevel, o.LogLevel)
	set(&c.LogFormat, o.LogFormat)

	s := o.Storage
	if s == nil {
		return
	}
	set(&c.Storage.Backend, s.Backend)
	set(&c.Storage.Client, s.Client)
	if l := s.Local; l != nil {
		set(&c.Storage.Local.Root, l.Root)
		set(&c.Storage.Local.CreateDirs, l.CreateDirs)
	}
	if s3 := s.S3; s3 != nil {
		set(&c.Storage.S3.Endpoint, s3.Endpoint)
		set(&c.Storage.S3.Bucket, s3.Bucket)
		set(&c.Storage.S3.AccessKey, s3.AccessKey)
		set(&c.Storage.S3.SecretKey, s3.SecretKey)
		set(&c.Storage.S3.Region, s3.Region)
		set(&c.Storage.S3.UseSSL, s3.UseSSL)
		set(&c.Storage.S3.Prefix, s3.Prefix)
	}
}

// ApplyEnv overrides fields from TREEFS_* environment variables.
func (c *Config) ApplyEnv() {
	c.ListenAddr = envOr("LISTEN_ADDR", c.ListenAddr)
	c.MetricsAddr = envOr("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)

	c.Storage.Backend = envOr("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Client = envOr("CLIENT", c.Storage.Client)
	c.Storage.Local.Root = envOr("LOCAL_ROOT", c.Storage.Local.Root)
	c.Storage.Local.CreateDirs = envBool("LOCAL_CREATE_DIRS", c.Storage.Local.CreateDirs)

	c.Storage.S3.Endpoint = envOr("S3_ENDPOINT", c.Storage.S3.Endpoint)
	c.Storage.S3.Bucket = envOr("S3_BUCKET", c.Storage.S3.Bucket)
	c.Storage.S3.AccessKey = envOr("S3_ACCESS_KEY", c.Storage.S3.AccessKey)
	c.Storage.S3.SecretKey = envOr("S3_SECRET_KEY", c.Storage.S3.SecretKey)
	c.Storage.S3.Region = envOr("S3_REGION", c.Storage.S3.Region)
	c.Storage.S3.UseSSL = envBool("S3_USE_SSL", c.Storage.S3.UseSSL)
	c.Storage.S3.Prefix = envOr("S3_PREFIX", c.Storage.S3.Prefix)
}

// Validate reports configuration errors that would otherwise surface on
// the first request.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log format %q: want json or console", c.LogFormat))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks the storage section for the selected backend only.
func (s *StorageConfig) Validate() error {
	if strings.ContainsAny(s.Client, `/\`) {
		return fmt.Errorf("storage client %q must be a single name", s.Client)
	}
	switch s.Backend {
	case BackendLocal:
		if s.Local.Root == "" {
			return errors.New("storage.local.root is required for the local backend")
		}
	case BackendS3:
		if s.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for the s3 backend")
		}
		if s.S3.Endpoint == "" && s.S3.Region == "" {
			return errors.New("storage.s3 needs an endpoint or a region")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", s.Backend)
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
