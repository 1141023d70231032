// Package config loads runtime settings from defaults, an optional config
// file, and PLAYCAST_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "PLAYCAST"

	// MediaSubdir is created under the movies root for promoted uploads.
	MediaSubdir = "PlayCast"
)

const (
	KeyPort               = "port"
	KeyAutostart          = "autostart"
	KeyMoviesDir          = "movies_dir"
	KeySpoolDir           = "spool_dir"
	KeyMaxUploadBytes     = "max_upload_bytes"
	KeyReadHeaderTimeout  = "read_header_timeout"
	KeyLogLevel           = "log_level"
	KeyDiscoveryTimeoutMS = "discovery_timeout_ms"
)

const (
	defaultPort               = 8080
	defaultReadHeaderTimeout  = 5 * time.Second
	defaultLogLevel           = "info"
	defaultDiscoveryTimeoutMS = 5000
)

// userHomeDir is swapped in tests.
var userHomeDir = os.UserHomeDir

type Config struct {
	Port               int
	Autostart          bool
	MoviesDir          string
	SpoolDir           string
	MaxUploadBytes     int64
	ReadHeaderTimeout  time.Duration
	LogLevel           string
	DiscoveryTimeoutMS int
}

// MediaDir is the permanent destination for promoted uploads.
func (c *Config) MediaDir() string {
	return filepath.Join(c.MoviesDir, MediaSubdir)
}

// Load reads configuration. configFile may be empty; a named file that
// cannot be read is an error.
func Load(configFile string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(EnvPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vp.AutomaticEnv()

	vp.SetDefault(KeyPort, defaultPort)
	vp.SetDefault(KeyAutostart, false)
	vp.SetDefault(KeyMoviesDir, defaultMoviesDir())
	vp.SetDefault(KeySpoolDir, os.TempDir())
	vp.SetDefault(KeyMaxUploadBytes, int64(0))
	vp.SetDefault(KeyReadHeaderTimeout, defaultReadHeaderTimeout)
	vp.SetDefault(KeyLogLevel, defaultLogLevel)
	vp.SetDefault(KeyDiscoveryTimeoutMS, defaultDiscoveryTimeoutMS)

	if configFile = strings.TrimSpace(configFile); configFile != "" {
		vp.SetConfigFile(configFile)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Port:               vp.GetInt(KeyPort),
		Autostart:          vp.GetBool(KeyAutostart),
		MoviesDir:          strings.TrimSpace(vp.GetString(KeyMoviesDir)),
		SpoolDir:           strings.TrimSpace(vp.GetString(KeySpoolDir)),
		MaxUploadBytes:     vp.GetInt64(KeyMaxUploadBytes),
		ReadHeaderTimeout:  vp.GetDuration(KeyReadHeaderTimeout),
		LogLevel:           strings.TrimSpace(vp.GetString(KeyLogLevel)),
		DiscoveryTimeoutMS: vp.GetInt(KeyDiscoveryTimeoutMS),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be within 1..65535, got %d", c.Port)
	}
	if c.MoviesDir == "" {
		return fmt.Errorf("%s is required", KeyMoviesDir)
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("%s must not be negative", KeyMaxUploadBytes)
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.DiscoveryTimeoutMS <= 0 {
		c.DiscoveryTimeoutMS = defaultDiscoveryTimeoutMS
	}
	return nil
}

func defaultMoviesDir() string {
	home, err := userHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "Movies")
	}
	return filepath.Join(home, "Movies")
}
