package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile = "config.json"
	DefaultPort       = 22
	DefaultRetries    = 10
	DefaultTimeout    = 30 * time.Second
)

var (
	ErrNotFound = errors.New("config file not found")
	ErrInvalid  = errors.New("invalid config")
)

type Config struct {
	ArchiveName string         `yaml:"archive_name" json:"archive_name"`
	SFTP        SFTPConfig     `yaml:"sftp_config" json:"sftp_config"`
	Data        []string       `yaml:"data" json:"data"`
	CacheDir    string         `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	Archiver    ArchiverConfig `yaml:"archiver,omitempty" json:"archiver,omitempty"`
	S3          S3Config       `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// SFTPConfig is handed to the transfer layer untouched; the backup pipeline
// never looks inside it.
type SFTPConfig struct {
	Host                  string        `yaml:"host" json:"host"`
	Port                  int           `yaml:"port,omitempty" json:"port,omitempty"`
	Username              string        `yaml:"username,omitempty" json:"username,omitempty"`
	Password              string        `yaml:"password,omitempty" json:"password,omitempty"`
	ClientKeys            []string      `yaml:"client_keys,omitempty" json:"client_keys,omitempty"`
	Passphrase            string        `yaml:"passphrase,omitempty" json:"passphrase,omitempty"`
	KnownHosts            string        `yaml:"known_hosts,omitempty" json:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key,omitempty" json:"insecure_ignore_host_key,omitempty"`
	Timeout               time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (s SFTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ArchiverConfig struct {
	Executable string `yaml:"executable,omitempty" json:"executable,omitempty"`
}

type S3Config struct {
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty" json:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty" json:"secret_key,omitempty"`
}

// Load reads a JSON or YAML config file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes. JSON is accepted because it is valid YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SFTP.Port == 0 {
		c.SFTP.Port = DefaultPort
	}
	if c.SFTP.Timeout == 0 {
		c.SFTP.Timeout = DefaultTimeout
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
}

func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ArchiveName) == "" {
		missing = append(missing, "archive_name")
	}
	if c.SFTP.Host == "" {
		missing = append(missing, "sftp_config.host")
	}
	if len(c.Data) == 0 {
		missing = append(missing, "data")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}

	if strings.ContainsAny(c.ArchiveName, `/\`) {
		return fmt.Errorf("%w: archive_name %q must not contain path separators", ErrInvalid, c.ArchiveName)
	}
	if c.SFTP.Port < 1 || c.SFTP.Port > 65535 {
		return fmt.Errorf("%w: sftp_config.port %d out of range", ErrInvalid, c.SFTP.Port)
	}
	for i, target := range c.Data {
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("%w: data[%d] is empty", ErrInvalid, i)
		}
	}
	return nil
}

// ResolveCacheDir returns the staging directory, defaulting to ./cache.
func (c *Config) ResolveCacheDir() (string, error) {
	if c.CacheDir != "" {
		return filepath.Abs(c.CacheDir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return filepath.Join(cwd, "cache"), nil
}

// BundledArchiver is where a 7-Zip binary shipped next to the executable lives.
func BundledArchiver(baseDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(baseDir, "7z", "win", "7za.exe")
	}
	return filepath.Join(baseDir, "7z", "linux", "7zz")
}
