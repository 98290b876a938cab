package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the workspace.
const FileName = "usrtaskmgt.yml"

// EnvPrefix prefixes environment overrides, e.g. USRTASKMGT_AUTH_JWT_SECRET.
const EnvPrefix = "USRTASKMGT"

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageBolt   = "bolt"
	StorageS3     = "s3"
	StorageMemory = "memory"
)

// Config models usrtaskmgt.yml.
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr" yaml:"addr"`
		BasePath string `mapstructure:"base_path" yaml:"base_path"`
	} `mapstructure:"server" yaml:"server"`
	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	} `mapstructure:"auth" yaml:"auth"`
	BPMS           Service `mapstructure:"bpms" yaml:"bpms"`
	Signature      Service `mapstructure:"signature" yaml:"signature"`
	FormValidation Service `mapstructure:"form_validation" yaml:"form_validation"`
	Storage        Storage `mapstructure:"storage" yaml:"storage"`
	Log            struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"log" yaml:"log"`
}

// Service addresses one collaborator.
type Service struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Token   string        `mapstructure:"token" yaml:"token,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type Storage struct {
	Type   string `mapstructure:"type" yaml:"type"`
	SQLite struct {
		Workspace string `mapstructure:"workspace" yaml:"workspace"`
	} `mapstructure:"sqlite" yaml:"sqlite"`
	Bolt struct {
		File string `mapstructure:"file" yaml:"file"`
	} `mapstructure:"bolt" yaml:"bolt"`
	S3 struct {
		Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
		Region    string `mapstructure:"region" yaml:"region"`
		Bucket    string `mapstructure:"bucket" yaml:"bucket"`
		AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
		SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	} `mapstructure:"s3" yaml:"s3"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("auth.jwt_secret", "")
	for _, svc := range []struct{ key, url string }{
		{"bpms", "http://localhost:8081"},
		{"signature", "http://localhost:8082"},
		{"form_validation", "http://localhost:8083"},
	} {
		v.SetDefault(svc.key+".url", svc.url)
		v.SetDefault(svc.key+".token", "")
		v.SetDefault(svc.key+".timeout", "10s")
	}
	v.SetDefault("storage.type", StorageSQLite)
	v.SetDefault("storage.sqlite.workspace", ".")
	v.SetDefault("storage.bolt.file", filepath.Join(".usrtaskmgt", "formdata.bolt"))
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads defaults, then the YAML file at path (or usrtaskmgt.yml in the
// working directory when path is empty), then USRTASKMGT_* environment
// variables. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config.auth.jwt_secret is required (or set %s_AUTH_JWT_SECRET)", EnvPrefix)
	}
	for name, svc := range map[string]Service{
		"bpms":            c.BPMS,
		"signature":       c.Signature,
		"form_validation": c.FormValidation,
	} {
		if err := validateURL(svc.URL); err != nil {
			return fmt.Errorf("config.%s.url: %w", name, err)
		}
		if svc.Timeout < 0 {
			return fmt.Errorf("config.%s.timeout must not be negative", name)
		}
	}
	switch c.Storage.Type {
	case StorageSQLite, StorageMemory:
	case StorageBolt:
		if c.Storage.Bolt.File == "" {
			return fmt.Errorf("config.storage.bolt.file is required")
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("config.storage.s3.bucket is required")
		}
		if c.Storage.S3.Endpoint != "" {
			if err := validateURL(c.Storage.S3.Endpoint); err != nil {
				return fmt.Errorf("config.storage.s3.endpoint: %w", err)
			}
		}
	default:
		return fmt.Errorf("config.storage.type must be one of sqlite, bolt, s3, memory (got %q)", c.Storage.Type)
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the config described by GenerateDefault.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config, secrets included.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api

auth:
  # HS256 secret shared with the identity provider. Required; there is no
  # default. Prefer USRTASKMGT_AUTH_JWT_SECRET over writing it here.
  jwt_secret: ""

bpms:
  url: http://localhost:8081
  timeout: 10s

signature:
  url: http://localhost:8082
  timeout: 10s

form_validation:
  url: http://localhost:8083
  timeout: 10s

storage:
  # sqlite | bolt | s3 | memory
  type: sqlite
  sqlite:
    workspace: .
  bolt:
    file: .usrtaskmgt/formdata.bolt
  s3:
    endpoint: ""
    region: us-east-1
    bucket: ""

log:
  level: info
  # json | console
  format: json
`
