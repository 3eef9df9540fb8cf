package s3

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the server configuration, read from TOML
type Config struct {
	Version        string         `toml:"version"`
	Region         string         `toml:"region"`
	Host           string         `toml:"host"`
	Port           int            `toml:"port"`
	Debug          bool           `toml:"debug"`
	DisableLogging bool           `toml:"disable_logging"`
	MetricsAddr    string         `toml:"metrics_addr"`
	Backend        BackendConfig  `toml:"backend"`
	Buckets        []BucketConfig `toml:"buckets"`

	// Set at runtime, not read from the file
	ConfigPath string `toml:"-"`
	BasePath   string `toml:"-"`
	TLSCert    string `toml:"-"`
	TLSKey     string `toml:"-"`
}

// BackendConfig selects and configures the storage backend
type BackendConfig struct {
	Type       string `toml:"type"`
	Path       string `toml:"path"`
	Partitions int    `toml:"partitions"`
}

// BucketConfig maps a bucket onto a directory (filesystem backend) or
// pre-creates it (other backends)
type BucketConfig struct {
	Name     string `toml:"name"`
	Region   string `toml:"region"`
	Pathname string `toml:"pathname"`
}

// NewConfig returns a configuration with defaults applied
func NewConfig() *Config {
	return &Config{
		Region: "us-east-1",
		Host:   "0.0.0.0",
		Port:   8443,
		Backend: BackendConfig{
			Type: string(BackendMemory),
		},
	}
}

// ReadConfig loads filename over c. Relative bucket and backend paths are
// resolved against basePath (or the working directory).
func (c *Config) ReadConfig(filename string, basePath string) error {
	if !filepath.IsAbs(basePath) {
		dir, err := os.Getwd()
		if err != nil {
			slog.Warn("Error getting working directory", "error", err)
			return err
		}
		basePath = filepath.Join(dir, basePath)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		errorMsg := fmt.Sprintf("Error reading %s %s", filename, err)
		slog.Warn(errorMsg)
		return errors.New(errorMsg)
	}

	if err := toml.Unmarshal(data, c); err != nil {
		errorMsg := fmt.Sprintf("Error parsing %s %s", filename, err)
		slog.Warn(errorMsg)
		return errors.New(errorMsg)
	}

	for k, b := range c.Buckets {
		c.Buckets[k].Pathname = checkBaseDir(basePath, b.Pathname)
	}
	c.Backend.Path = checkBaseDir(basePath, c.Backend.Path)
	c.ConfigPath = filename
	c.BasePath = basePath

	return nil
}

// BucketConfig returns the configuration of bucket
func (c *Config) BucketConfig(bucket string) (BucketConfig, error) {
	for _, b := range c.Buckets {
		if b.Name == bucket {
			return b, nil
		}
	}
	return BucketConfig{}, errors.New("bucket not found")
}

// checkBaseDir joins relative paths onto baseDir
func checkBaseDir(baseDir, path string) string {
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) && baseDir != "" {
		return filepath.Join(baseDir, path)
	}
	return path
}
