// Package config loads shopsync settings from a config file, SHOPSYNC_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins over the file).
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SHOPSYNC_LISTEN or SHOPSYNC_IMAGE_QUALITY.
const EnvPrefix = "SHOPSYNC"

// FileName is the config file looked up in the data directory.
const FileName = "shopsync.toml"

// Config holds every setting of the primary and companion processes.
type Config struct {
	DataDir string `mapstructure:"data_dir"`
	DBPath  string `mapstructure:"db_path"`

	// Listen is the primary's sync address.
	Listen string `mapstructure:"listen"`
	// PeerURL is the companion's view of the primary, ws://host:port/sync.
	PeerURL string `mapstructure:"peer_url"`

	AckTimeout        time.Duration `mapstructure:"ack_timeout"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	DebounceInterval  time.Duration `mapstructure:"debounce_interval"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`

	Image ImageConfig `mapstructure:"image"`
	Log   LogConfig   `mapstructure:"log"`
}

// ImageConfig controls the thumbnails embedded in snapshots.
type ImageConfig struct {
	MaxDimension int `mapstructure:"max_dimension" toml:"max_dimension"`
	Quality      int `mapstructure:"quality" toml:"quality"`
}

// LogConfig controls the optional rotating log file.
type LogConfig struct {
	File       string `mapstructure:"file" toml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
}

// DefaultDataDir returns ~/.shopsync, or .shopsync when the home directory
// is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shopsync"
	}
	return filepath.Join(home, ".shopsync")
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:           dataDir,
		DBPath:            filepath.Join(dataDir, "shopsync.db"),
		Listen:            ":7420",
		PeerURL:           "ws://127.0.0.1:7420/sync",
		AckTimeout:        5 * time.Second,
		FlushInterval:     10 * time.Second,
		DebounceInterval:  250 * time.Millisecond,
		ReconnectInterval: 2 * time.Second,
		Image: ImageConfig{
			MaxDimension: 80,
			Quality:      60,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("peer_url", d.PeerURL)
	v.SetDefault("ack_timeout", d.AckTimeout)
	v.SetDefault("flush_interval", d.FlushInterval)
	v.SetDefault("debounce_interval", d.DebounceInterval)
	v.SetDefault("reconnect_interval", d.ReconnectInterval)
	v.SetDefault("image.max_dimension", d.Image.MaxDimension)
	v.SetDefault("image.quality", d.Image.Quality)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	// db_path defaults relative to data_dir, resolved after unmarshal.
	v.SetDefault("db_path", "")
}

// Load reads the configuration. If path is empty, FileName is looked up in
// dataDir; a missing file there is not an error. An explicit path must
// exist. dataDir defaults to DefaultDataDir().
func Load(path, dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	v := viper.New()
	setDefaults(v, Default(dataDir))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		v.AddConfigPath(dataDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "shopsync.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail far from the cause.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Image.Quality < 1 || c.Image.Quality > 100 {
		return fmt.Errorf("image.quality must be between 1 and 100 (got %d)", c.Image.Quality)
	}
	if c.Image.MaxDimension < 1 {
		return fmt.Errorf("image.max_dimension must be positive (got %d)", c.Image.MaxDimension)
	}
	for name, d := range map[string]time.Duration{
		"ack_timeout":        c.AckTimeout,
		"flush_interval":     c.FlushInterval,
		"debounce_interval":  c.DebounceInterval,
		"reconnect_interval": c.ReconnectInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive (got %s)", name, d)
		}
	}
	return nil
}

// fileConfig is the on-disk shape written by WriteFile. Durations are
// written as strings ("5s") because TOML has no duration type.
type fileConfig struct {
	DataDir           string      `toml:"data_dir"`
	DBPath            string      `toml:"db_path"`
	Listen            string      `toml:"listen"`
	PeerURL           string      `toml:"peer_url"`
	AckTimeout        string      `toml:"ack_timeout"`
	FlushInterval     string      `toml:"flush_interval"`
	DebounceInterval  string      `toml:"debounce_interval"`
	ReconnectInterval string      `toml:"reconnect_interval"`
	Image             ImageConfig `toml:"image"`
	Log               LogConfig   `toml:"log"`
}

// Encode writes c to w as TOML.
func (c *Config) Encode(w io.Writer) error {
	fc := fileConfig{
		DataDir:           c.DataDir,
		DBPath:            c.DBPath,
		Listen:            c.Listen,
		PeerURL:           c.PeerURL,
		AckTimeout:        c.AckTimeout.String(),
		FlushInterval:     c.FlushInterval.String(),
		DebounceInterval:  c.DebounceInterval.String(),
		ReconnectInterval: c.ReconnectInterval.String(),
		Image:             c.Image,
		Log:               c.Log,
	}
	if err := toml.NewEncoder(w).Encode(fc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// WriteFile writes c to path as TOML. It refuses to overwrite an existing
// file unless force is set.
func (c *Config) WriteFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := c.Encode(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Path returns the config file location inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}
